package core

import "github.com/ahmadzakiakmal/skullchain/core/types"

// Roles is the authorization object every privileged operation is checked
// against. The predicates are pure functions of the roles and the caller.
type Roles struct {
	CEO                types.Address `json:"ceo"`
	CFO                types.Address `json:"cfo"`
	COO                types.Address `json:"coo"`
	Paused             bool          `json:"paused"`
	NewContractAddress types.Address `json:"new_contract_address"`
}

func (r Roles) IsCEO(a types.Address) bool { return !a.IsZero() && a == r.CEO }
func (r Roles) IsCFO(a types.Address) bool { return !a.IsZero() && a == r.CFO }
func (r Roles) IsCOO(a types.Address) bool { return !a.IsZero() && a == r.COO }

// IsCLevel reports whether a holds any of the three roles.
func (r Roles) IsCLevel(a types.Address) bool {
	return r.IsCEO(a) || r.IsCFO(a) || r.IsCOO(a)
}

// Migrated reports whether this deployment has been superseded.
func (r Roles) Migrated() bool {
	return !r.NewContractAddress.IsZero()
}

func (c *Core) Roles() Roles {
	return c.roles
}

func (c *Core) Paused() bool {
	return c.roles.Paused
}

func (c *Core) requireCEO(op string, msg types.Msg) error {
	if !c.roles.IsCEO(msg.Sender) {
		return types.Unauthorized(op, "caller is not the CEO")
	}
	return nil
}

func (c *Core) requireCOO(op string, msg types.Msg) error {
	if !c.roles.IsCOO(msg.Sender) {
		return types.Unauthorized(op, "caller is not the COO")
	}
	return nil
}

func (c *Core) requireCFO(op string, msg types.Msg) error {
	if !c.roles.IsCFO(msg.Sender) {
		return types.Unauthorized(op, "caller is not the CFO")
	}
	return nil
}

func (c *Core) whenNotPaused(op string) error {
	if c.roles.Paused {
		return types.BadState(op, "contract is paused")
	}
	return nil
}

func (c *Core) SetCEO(msg types.Msg, a types.Address) error {
	return c.setRole("setCEO", msg, "ceo", a, &c.roles.CEO)
}

func (c *Core) SetCFO(msg types.Msg, a types.Address) error {
	return c.setRole("setCFO", msg, "cfo", a, &c.roles.CFO)
}

func (c *Core) SetCOO(msg types.Msg, a types.Address) error {
	return c.setRole("setCOO", msg, "coo", a, &c.roles.COO)
}

// setRole reassigns a role. The previous holder loses it in the same step.
func (c *Core) setRole(op string, msg types.Msg, role string, a types.Address, slot *types.Address) error {
	if err := c.requireCEO(op, msg); err != nil {
		return err
	}
	if a.IsZero() {
		return types.Violation(op, "zero address")
	}
	*slot = a
	c.events.Emit(EventRoleChanged, types.Attr("role", role), types.Attr("address", a))
	return nil
}

// Pause stops every state-mutating token, breeding and listing operation.
// The COO or the CEO may pause.
func (c *Core) Pause(msg types.Msg) error {
	const op = "pause"
	if !c.roles.IsCOO(msg.Sender) && !c.roles.IsCEO(msg.Sender) {
		return types.Unauthorized(op, "caller is neither COO nor CEO")
	}
	if c.roles.Paused {
		return types.BadState(op, "already paused")
	}
	c.roles.Paused = true
	c.events.Emit(EventPause, types.Attr("by", msg.Sender))
	return nil
}

// Unpause is CEO only and impossible once a new contract address is set.
func (c *Core) Unpause(msg types.Msg) error {
	const op = "unpause"
	if err := c.requireCEO(op, msg); err != nil {
		return err
	}
	if !c.roles.Paused {
		return types.BadState(op, "not paused")
	}
	if c.roles.Migrated() {
		return types.BadState(op, "contract superseded by %s", c.roles.NewContractAddress)
	}
	c.roles.Paused = false
	c.events.Emit(EventUnpause, types.Attr("by", msg.Sender))
	return nil
}

// SetNewAddress marks this deployment as superseded. It can be set once.
func (c *Core) SetNewAddress(msg types.Msg, a types.Address) error {
	const op = "setNewAddress"
	if err := c.requireCEO(op, msg); err != nil {
		return err
	}
	if a.IsZero() {
		return types.Violation(op, "zero address")
	}
	if c.roles.Migrated() {
		return types.BadState(op, "new address already set to %s", c.roles.NewContractAddress)
	}
	c.roles.NewContractAddress = a
	c.events.Emit(EventContractUpgrade, types.Attr("new_contract", a))
	return nil
}
