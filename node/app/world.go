package app

import (
	"fmt"

	"github.com/ahmadzakiakmal/skullchain/core"
	"github.com/ahmadzakiakmal/skullchain/core/auction"
	"github.com/ahmadzakiakmal/skullchain/core/genescience"
	"github.com/ahmadzakiakmal/skullchain/core/types"
)

// Addresses of the components every deployment runs.
var (
	CoreAddress        = types.ContractAddress("core")
	SaleAddress        = types.ContractAddress("sale")
	SiringAddress      = types.ContractAddress("siring")
	GeneScienceAddress = types.ContractAddress("genescience")
)

// Genesis is the app state carried in the genesis document.
type Genesis struct {
	CEO          types.Address            `json:"ceo"`
	COO          types.Address            `json:"coo,omitempty"`
	CFO          types.Address            `json:"cfo,omitempty"`
	Balances     map[types.Address]uint64 `json:"balances,omitempty"`
	SaleCut      uint64                   `json:"sale_cut"`
	SiringCut    uint64                   `json:"siring_cut"`
	AutoBirthFee *uint64                  `json:"auto_birth_fee,omitempty"`
}

func (g Genesis) autoBirthFee() uint64 {
	if g.AutoBirthFee == nil {
		return core.DefaultAutoBirthFee
	}
	return *g.AutoBirthFee
}

// World is one deployment: the shared bank, directory and event log plus
// the components wired to them.
type World struct {
	Genesis Genesis
	Bank    *types.Bank
	Dir     *types.Directory
	Events  *types.EventLog
	Core    *core.Core
	Sale    *auction.Sale
	Siring  *auction.Siring
	Mixer   *genescience.Mixer
	Nonces  map[types.Address]uint64
}

// newWorld constructs and registers every component without wiring them.
func newWorld(g Genesis) (*World, error) {
	if g.CEO.IsZero() {
		return nil, fmt.Errorf("genesis: ceo is required")
	}
	w := &World{
		Genesis: g,
		Bank:    types.NewBank(),
		Dir:     types.NewDirectory(),
		Events:  types.NewEventLog(),
		Mixer:   genescience.New(),
		Nonces:  make(map[types.Address]uint64),
	}
	var err error
	w.Core, err = core.New(core.Config{
		Address:      CoreAddress,
		CEO:          g.CEO,
		AutoBirthFee: g.autoBirthFee(),
		Directory:    w.Dir,
		Bank:         w.Bank,
		Events:       w.Events,
	})
	if err != nil {
		return nil, fmt.Errorf("deploy core: %w", err)
	}
	acfg := auction.Config{Owner: g.CEO, NFTAddress: CoreAddress, Directory: w.Dir, Bank: w.Bank, Events: w.Events}

	acfg.Address, acfg.Cut = SaleAddress, g.SaleCut
	if w.Sale, err = auction.NewSale(acfg); err != nil {
		return nil, fmt.Errorf("deploy sale auction: %w", err)
	}
	acfg.Address, acfg.Cut = SiringAddress, g.SiringCut
	if w.Siring, err = auction.NewSiring(acfg); err != nil {
		return nil, fmt.Errorf("deploy siring auction: %w", err)
	}
	for addr, component := range map[types.Address]any{
		SaleAddress:        w.Sale,
		SiringAddress:      w.Siring,
		GeneScienceAddress: w.Mixer,
	} {
		if err := w.Dir.Register(addr, component); err != nil {
			return nil, fmt.Errorf("register %s: %w", addr, err)
		}
	}
	return w, nil
}

// Deploy builds a world from genesis: components deployed, wired by the
// CEO, roles assigned, balances credited and the core unpaused.
func Deploy(g Genesis) (*World, error) {
	w, err := newWorld(g)
	if err != nil {
		return nil, err
	}
	for addr, amount := range g.Balances {
		if err := w.Bank.Mint(addr, amount); err != nil {
			return nil, fmt.Errorf("genesis balance of %s: %w", addr, err)
		}
	}
	msg := types.Msg{Sender: g.CEO}
	steps := []func() error{
		func() error { return w.Core.SetGeneScienceAddress(msg, GeneScienceAddress) },
		func() error { return w.Core.SetSaleAuctionAddress(msg, SaleAddress) },
		func() error { return w.Core.SetSiringAuctionAddress(msg, SiringAddress) },
	}
	if !g.COO.IsZero() {
		steps = append(steps, func() error { return w.Core.SetCOO(msg, g.COO) })
	}
	if !g.CFO.IsZero() {
		steps = append(steps, func() error { return w.Core.SetCFO(msg, g.CFO) })
	}
	steps = append(steps, func() error { return w.Core.Unpause(msg) })
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, fmt.Errorf("genesis wiring: %w", err)
		}
	}
	w.Events.Drain()
	return w, nil
}

// Snapshot is the persisted form of a world.
type Snapshot struct {
	Genesis  Genesis
	Balances map[types.Address]uint64
	Nonces   map[types.Address]uint64
	Core     core.State
	Sale     auction.SaleState
	Siring   auction.State
}

func (w *World) Snapshot() Snapshot {
	nonces := make(map[types.Address]uint64, len(w.Nonces))
	for a, n := range w.Nonces {
		nonces[a] = n
	}
	return Snapshot{
		Genesis:  w.Genesis,
		Balances: w.Bank.Snapshot(),
		Nonces:   nonces,
		Core:     w.Core.Export(),
		Sale:     w.Sale.Export(),
		Siring:   w.Siring.Export(),
	}
}

// Encode is the CBOR form the app hash is computed over.
func (w *World) Encode() ([]byte, error) {
	return types.Marshal(w.Snapshot())
}

// LoadWorld rebuilds a world from its encoded snapshot.
func LoadWorld(raw []byte) (*World, error) {
	var s Snapshot
	if err := types.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	w, err := newWorld(s.Genesis)
	if err != nil {
		return nil, err
	}
	w.Bank.Restore(s.Balances)
	for a, n := range s.Nonces {
		w.Nonces[a] = n
	}
	w.Sale.Restore(s.Sale)
	w.Siring.Restore(s.Siring)
	if err := w.Core.Restore(s.Core); err != nil {
		return nil, fmt.Errorf("restore core: %w", err)
	}
	return w, nil
}
