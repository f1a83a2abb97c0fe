package types

// Directory maps the address of every deployed component to its
// implementation. Capability probes resolve candidate addresses here.
type Directory struct {
	components map[Address]any
}

func NewDirectory() *Directory {
	return &Directory{components: make(map[Address]any)}
}

// Register deploys component at addr.
func (d *Directory) Register(addr Address, component any) error {
	if addr.IsZero() {
		return Violation("register", "zero address")
	}
	if _, ok := d.components[addr]; ok {
		return BadState("register", "address %s already in use", addr)
	}
	d.components[addr] = component
	return nil
}

// Lookup returns the component deployed at addr. Plain accounts are not
// registered, so a lookup on them fails.
func (d *Directory) Lookup(addr Address) (any, bool) {
	c, ok := d.components[addr]
	return c, ok
}
