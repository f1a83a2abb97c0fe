// Package core is the token ledger of the collectible registry. It keeps
// ownership and lineage of every token, runs the breeding state machine,
// lists tokens on the sale and siring auctions and guards the privileged
// roles and the pooled balance.
//
// Every exported mutating method takes the caller's Msg and either applies
// completely or returns a *types.Error without any observable change.
package core

import (
	"github.com/ahmadzakiakmal/skullchain/core/types"
)

const (
	Finney uint64 = 1_000_000_000_000_000

	DefaultAutoBirthFee        = 2 * Finney
	Gen0StartingPrice          = 10 * Finney
	Gen0AuctionDuration int64  = 24 * 60 * 60
	Gen0CreationLimit   uint64 = 45000
	// MaxMintBatch bounds a single MintKittens call.
	MaxMintBatch uint64 = 100
)

// Cooldowns is indexed by a token's cooldown index, in seconds.
var Cooldowns = [...]int64{
	60, 120, 300, 600, 1800, 3600, 7200, 14400, 28800, 57600,
	86400, 172800, 345600, 604800,
}

const maxCooldownIndex = uint16(len(Cooldowns) - 1)

// Event types emitted by the ledger.
const (
	EventTransfer        = "Transfer"
	EventApproval        = "Approval"
	EventBirth           = "Birth"
	EventPregnant        = "Pregnant"
	EventAutoBirth       = "AutoBirth"
	EventSiringApproval  = "SiringApproval"
	EventContractUpgrade = "ContractUpgrade"
	EventPause           = "Pause"
	EventUnpause         = "Unpause"
	EventRoleChanged     = "RoleChanged"
	EventConfigChanged   = "ConfigChanged"
	EventWithdrawal      = "Withdrawal"
	EventDeposit         = "Deposit"
)

// GeneScience combines the genes of two parents into a child's genes.
type GeneScience interface {
	IsGeneScience() bool
	Combine(matron, sire types.Genes) (types.Genes, error)
}

// Token is the stored record of one collectible.
type Token struct {
	Genes         types.Genes `json:"genes"`
	BirthTime     int64       `json:"birth_time"`
	NextActionAt  int64       `json:"next_action_at"`
	MatronID      uint64      `json:"matron_id"`
	SireID        uint64      `json:"sire_id"`
	SiringWithID  uint64      `json:"siring_with_id"`
	CooldownIndex uint16      `json:"cooldown_index"`
	Generation    uint32      `json:"generation"`
}

// IsGestating reports whether the token is pregnant.
func (t Token) IsGestating() bool {
	return t.SiringWithID != 0
}

// Config deploys a Core.
type Config struct {
	Address types.Address
	// CEO is the deploying identity. It also starts out as COO.
	CEO          types.Address
	AutoBirthFee uint64
	Directory    *types.Directory
	Bank         *types.Bank
	Events       *types.EventLog
}

// Core is the ledger. It starts paused; the CEO unpauses it once the
// auctions and gene science are wired.
type Core struct {
	self   types.Address
	roles  Roles
	bank   *types.Bank
	dir    *types.Directory
	events *types.EventLog

	tokens        []Token
	owners        map[uint64]types.Address
	approvals     map[uint64]types.Address
	sireAllowedTo map[uint64]types.Address
	ownedTokens   map[types.Address][]uint64
	ownedIndex    map[uint64]int

	pregnantCount    uint64
	autoBirthFee     uint64
	autoBirthEscrow  map[uint64]uint64
	escrowTotal      uint64
	gen0CreatedCount uint64

	geneScienceAddr types.Address
	geneScience     GeneScience
	saleAddr        types.Address
	sale            SaleMarket
	siringAddr      types.Address
	siring          SiringMarket
}

// New deploys a Core and registers it in the directory.
func New(cfg Config) (*Core, error) {
	if cfg.Address.IsZero() || cfg.CEO.IsZero() {
		return nil, types.Violation("deploy", "core and CEO addresses are required")
	}
	c := &Core{
		self:         cfg.Address,
		roles:        Roles{CEO: cfg.CEO, COO: cfg.CEO, Paused: true},
		bank:         cfg.Bank,
		dir:          cfg.Directory,
		events:       cfg.Events,
		autoBirthFee: cfg.AutoBirthFee,
	}
	c.reset()
	if err := c.dir.Register(c.self, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Core) reset() {
	c.tokens = nil
	c.owners = make(map[uint64]types.Address)
	c.approvals = make(map[uint64]types.Address)
	c.sireAllowedTo = make(map[uint64]types.Address)
	c.ownedTokens = make(map[types.Address][]uint64)
	c.ownedIndex = make(map[uint64]int)
	c.autoBirthEscrow = make(map[uint64]uint64)
	c.escrowTotal = 0
}

func (c *Core) Address() types.Address {
	return c.self
}

// State is the persisted form of a Core.
type State struct {
	Roles            Roles
	Tokens           []Token
	Owners           map[uint64]types.Address
	Approvals        map[uint64]types.Address
	SireAllowedTo    map[uint64]types.Address
	OwnedTokens      map[types.Address][]uint64
	PregnantCount    uint64
	AutoBirthFee     uint64
	AutoBirthEscrow  map[uint64]uint64
	Gen0CreatedCount uint64
	GeneScience      types.Address
	SaleAuction      types.Address
	SiringAuction    types.Address
}

// Export copies the full ledger state.
func (c *Core) Export() State {
	st := State{
		Roles:            c.roles,
		Tokens:           append([]Token(nil), c.tokens...),
		Owners:           make(map[uint64]types.Address, len(c.owners)),
		Approvals:        make(map[uint64]types.Address, len(c.approvals)),
		SireAllowedTo:    make(map[uint64]types.Address, len(c.sireAllowedTo)),
		OwnedTokens:      make(map[types.Address][]uint64, len(c.ownedTokens)),
		PregnantCount:    c.pregnantCount,
		AutoBirthFee:     c.autoBirthFee,
		AutoBirthEscrow:  make(map[uint64]uint64, len(c.autoBirthEscrow)),
		Gen0CreatedCount: c.gen0CreatedCount,
		GeneScience:      c.geneScienceAddr,
		SaleAuction:      c.saleAddr,
		SiringAuction:    c.siringAddr,
	}
	for id, a := range c.owners {
		st.Owners[id] = a
	}
	for id, a := range c.approvals {
		st.Approvals[id] = a
	}
	for id, a := range c.sireAllowedTo {
		st.SireAllowedTo[id] = a
	}
	for a, ids := range c.ownedTokens {
		st.OwnedTokens[a] = append([]uint64(nil), ids...)
	}
	for id, fee := range c.autoBirthEscrow {
		st.AutoBirthEscrow[id] = fee
	}
	return st
}

// Restore replaces the ledger state. Components named in st must already
// be deployed in the directory.
func (c *Core) Restore(st State) error {
	var (
		gs     GeneScience
		sale   SaleMarket
		siring SiringMarket
		err    error
	)
	if !st.GeneScience.IsZero() {
		if gs, err = c.probeGeneScience("restore", st.GeneScience); err != nil {
			return err
		}
	}
	if !st.SaleAuction.IsZero() {
		if sale, err = c.probeSale("restore", st.SaleAuction); err != nil {
			return err
		}
	}
	if !st.SiringAuction.IsZero() {
		if siring, err = c.probeSiring("restore", st.SiringAuction); err != nil {
			return err
		}
	}

	c.reset()
	c.roles = st.Roles
	c.tokens = append([]Token(nil), st.Tokens...)
	for id, a := range st.Owners {
		c.owners[id] = a
	}
	for id, a := range st.Approvals {
		c.approvals[id] = a
	}
	for id, a := range st.SireAllowedTo {
		c.sireAllowedTo[id] = a
	}
	for a, ids := range st.OwnedTokens {
		c.ownedTokens[a] = append([]uint64(nil), ids...)
		for i, id := range ids {
			c.ownedIndex[id] = i
		}
	}
	for id, fee := range st.AutoBirthEscrow {
		c.autoBirthEscrow[id] = fee
		c.escrowTotal += fee
	}
	c.pregnantCount = st.PregnantCount
	c.autoBirthFee = st.AutoBirthFee
	c.gen0CreatedCount = st.Gen0CreatedCount
	c.geneScienceAddr, c.geneScience = st.GeneScience, gs
	c.saleAddr, c.sale = st.SaleAuction, sale
	c.siringAddr, c.siring = st.SiringAuction, siring
	return nil
}
