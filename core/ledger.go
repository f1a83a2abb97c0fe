package core

import (
	"slices"

	"github.com/ahmadzakiakmal/skullchain/core/types"
)

// TokenView is a token joined with its owner and derived breeding status.
type TokenView struct {
	ID          uint64        `json:"id"`
	Owner       types.Address `json:"owner"`
	IsGestating bool          `json:"is_gestating"`
	IsReady     bool          `json:"is_ready"`
	Token
}

func (c *Core) exists(id uint64) bool {
	return id >= 1 && id <= uint64(len(c.tokens))
}

// token returns a pointer into the token table. It is invalidated by the
// next mint.
func (c *Core) token(id uint64) *Token {
	return &c.tokens[id-1]
}

func (c *Core) requireToken(op string, id uint64) error {
	if !c.exists(id) {
		return types.Violation(op, "token %d does not exist", id)
	}
	return nil
}

// TotalSupply is the number of tokens ever created. Ids run 1..TotalSupply.
func (c *Core) TotalSupply() uint64 {
	return uint64(len(c.tokens))
}

func (c *Core) BalanceOf(owner types.Address) uint64 {
	return uint64(len(c.ownedTokens[owner]))
}

func (c *Core) OwnerOf(tokenID uint64) (types.Address, error) {
	if err := c.requireToken("ownerOf", tokenID); err != nil {
		return types.ZeroAddress, err
	}
	return c.owners[tokenID], nil
}

// ApprovedFor returns the address approved to take tokenID, if any.
func (c *Core) ApprovedFor(tokenID uint64) types.Address {
	return c.approvals[tokenID]
}

// SireAllowedTo returns the address allowed to breed with sire tokenID.
func (c *Core) SireAllowedTo(tokenID uint64) types.Address {
	return c.sireAllowedTo[tokenID]
}

// GetToken returns the token record as of time now.
func (c *Core) GetToken(tokenID uint64, now int64) (TokenView, error) {
	if err := c.requireToken("getToken", tokenID); err != nil {
		return TokenView{}, err
	}
	t := *c.token(tokenID)
	return TokenView{
		ID:          tokenID,
		Owner:       c.owners[tokenID],
		IsGestating: t.IsGestating(),
		IsReady:     isReady(&t, now),
		Token:       t,
	}, nil
}

// TokenOfOwnerByIndex enumerates an owner's tokens. Order changes when a
// token leaves the owner.
func (c *Core) TokenOfOwnerByIndex(owner types.Address, index uint64) (uint64, error) {
	ids := c.ownedTokens[owner]
	if index >= uint64(len(ids)) {
		return 0, types.Violation("tokensOfOwnerByIndex", "index %d out of range for %d tokens", index, len(ids))
	}
	return ids[index], nil
}

func (c *Core) TokensOfOwner(owner types.Address) []uint64 {
	return slices.Clone(c.ownedTokens[owner])
}

func (c *Core) owns(a types.Address, tokenID uint64) bool {
	return !a.IsZero() && c.owners[tokenID] == a
}

// controls reports whether a may act on tokenID: the owner or its approved
// address.
func (c *Core) controls(a types.Address, tokenID uint64) bool {
	if a.IsZero() {
		return false
	}
	return c.owners[tokenID] == a || c.approvals[tokenID] == a
}

func (c *Core) isAuction(a types.Address) bool {
	return !a.IsZero() && (a == c.saleAddr || a == c.siringAddr)
}

// createToken appends a token and hands it to owner.
func (c *Core) createToken(matronID, sireID uint64, generation uint32, genes types.Genes, owner types.Address, now int64) uint64 {
	idx := uint16(min(generation/2, uint32(maxCooldownIndex)))
	c.tokens = append(c.tokens, Token{
		Genes:         genes,
		BirthTime:     now,
		MatronID:      matronID,
		SireID:        sireID,
		CooldownIndex: idx,
		Generation:    generation,
	})
	id := uint64(len(c.tokens))
	c.events.Emit(EventBirth,
		types.Attr("owner", owner),
		types.Attr("token_id", id),
		types.Attr("matron_id", matronID),
		types.Attr("sire_id", sireID),
		types.Attr("genes", genes),
	)
	c.transfer(types.ZeroAddress, owner, id)
	return id
}

// dropToken undoes the createToken of the newest token.
func (c *Core) dropToken(tokenID uint64) {
	c.removeOwned(c.owners[tokenID], tokenID)
	delete(c.owners, tokenID)
	delete(c.approvals, tokenID)
	c.tokens = c.tokens[:tokenID-1]
}

// transfer moves custody and clears every per-token grant.
func (c *Core) transfer(from, to types.Address, tokenID uint64) {
	if !from.IsZero() {
		c.removeOwned(from, tokenID)
	}
	c.owners[tokenID] = to
	c.addOwned(to, tokenID)
	delete(c.approvals, tokenID)
	delete(c.sireAllowedTo, tokenID)
	c.events.Emit(EventTransfer,
		types.Attr("from", from),
		types.Attr("to", to),
		types.Attr("token_id", tokenID),
	)
}

func (c *Core) addOwned(owner types.Address, tokenID uint64) {
	c.ownedIndex[tokenID] = len(c.ownedTokens[owner])
	c.ownedTokens[owner] = append(c.ownedTokens[owner], tokenID)
}

// removeOwned swaps the last entry into the vacated slot.
func (c *Core) removeOwned(owner types.Address, tokenID uint64) {
	ids := c.ownedTokens[owner]
	idx, last := c.ownedIndex[tokenID], len(ids)-1
	if idx != last {
		moved := ids[last]
		ids[idx] = moved
		c.ownedIndex[moved] = idx
	}
	ids = ids[:last]
	if len(ids) == 0 {
		delete(c.ownedTokens, owner)
	} else {
		c.ownedTokens[owner] = ids
	}
	delete(c.ownedIndex, tokenID)
}

// Mint creates a token with explicit lineage. COO only. A zero owner mints
// to the caller.
func (c *Core) Mint(msg types.Msg, owner types.Address, matronID, sireID uint64, generation uint32, genes types.Genes) (uint64, error) {
	const op = "mint"
	if err := c.requireCOO(op, msg); err != nil {
		return 0, err
	}
	if err := c.whenNotPaused(op); err != nil {
		return 0, err
	}
	if owner.IsZero() {
		owner = msg.Sender
	}
	return c.createToken(matronID, sireID, generation, genes, owner, msg.Now), nil
}

// MintKittens mints count generation zero tokens with the same genes to the
// caller and returns their ids. COO only.
func (c *Core) MintKittens(msg types.Msg, genes types.Genes, count uint64) ([]uint64, error) {
	const op = "mintKittens"
	if err := c.requireCOO(op, msg); err != nil {
		return nil, err
	}
	if err := c.whenNotPaused(op); err != nil {
		return nil, err
	}
	if count == 0 || count > MaxMintBatch {
		return nil, types.Violation(op, "count must be between 1 and %d, got %d", MaxMintBatch, count)
	}
	ids := make([]uint64, 0, count)
	for range count {
		ids = append(ids, c.createToken(0, 0, 0, genes, msg.Sender, msg.Now))
	}
	return ids, nil
}

// Transfer sends tokenID to to. Tokens cannot be sent to the zero address,
// to this ledger or to the auctions; listing goes through the create
// auction operations. An auction handing an escrowed token back to the
// ledger is the one exception.
func (c *Core) Transfer(msg types.Msg, to types.Address, tokenID uint64) error {
	const op = "transfer"
	if err := c.whenNotPaused(op); err != nil {
		return err
	}
	if err := c.requireToken(op, tokenID); err != nil {
		return err
	}
	if to.IsZero() {
		return types.Violation(op, "transfer to the zero address")
	}
	if to == c.self && !c.isAuction(msg.Sender) {
		return types.Violation(op, "transfer to the ledger itself")
	}
	if c.isAuction(to) {
		return types.Violation(op, "transfer to an auction, list the token instead")
	}
	if !c.controls(msg.Sender, tokenID) {
		return types.Unauthorized(op, "caller does not control token %d", tokenID)
	}
	c.transfer(c.owners[tokenID], to, tokenID)
	return nil
}

// Approve grants to the right to take tokenID. A zero address revokes.
func (c *Core) Approve(msg types.Msg, to types.Address, tokenID uint64) error {
	const op = "approve"
	if err := c.whenNotPaused(op); err != nil {
		return err
	}
	if err := c.requireToken(op, tokenID); err != nil {
		return err
	}
	if !c.owns(msg.Sender, tokenID) {
		return types.Unauthorized(op, "caller does not own token %d", tokenID)
	}
	if to.IsZero() {
		delete(c.approvals, tokenID)
	} else {
		c.approvals[tokenID] = to
	}
	c.events.Emit(EventApproval,
		types.Attr("owner", msg.Sender),
		types.Attr("approved", to),
		types.Attr("token_id", tokenID),
	)
	return nil
}

// TransferFrom moves tokenID from from to to on behalf of the caller, who
// must be from or its approved address. The approval is consumed.
func (c *Core) TransferFrom(msg types.Msg, from, to types.Address, tokenID uint64) error {
	const op = "transferFrom"
	if err := c.whenNotPaused(op); err != nil {
		return err
	}
	if err := c.requireToken(op, tokenID); err != nil {
		return err
	}
	if to.IsZero() {
		return types.Violation(op, "transfer to the zero address")
	}
	if to == c.self {
		return types.Violation(op, "transfer to the ledger itself")
	}
	if !c.owns(from, tokenID) {
		return types.Unauthorized(op, "%s does not own token %d", from, tokenID)
	}
	if !c.controls(msg.Sender, tokenID) {
		return types.Unauthorized(op, "caller is not approved for token %d", tokenID)
	}
	c.transfer(from, to, tokenID)
	return nil
}

// RescueLostKitty hands a token stranded at the ledger's own address to
// to. COO only.
func (c *Core) RescueLostKitty(msg types.Msg, tokenID uint64, to types.Address) error {
	const op = "rescueLostKitty"
	if err := c.requireCOO(op, msg); err != nil {
		return err
	}
	if err := c.whenNotPaused(op); err != nil {
		return err
	}
	if err := c.requireToken(op, tokenID); err != nil {
		return err
	}
	if !c.owns(c.self, tokenID) {
		return types.BadState(op, "token %d is not held by the ledger", tokenID)
	}
	if to.IsZero() || to == c.self {
		return types.Violation(op, "invalid recipient %q", to)
	}
	c.transfer(c.self, to, tokenID)
	return nil
}
