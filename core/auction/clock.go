// Package auction implements the linear clock auction used by the sale and
// siring markets. An auction holds the listed token in escrow: while a token
// is listed its owner of record is the auction's own address.
package auction

import (
	"math/bits"

	"github.com/ahmadzakiakmal/skullchain/core/types"
)

const (
	// MinDuration is the shortest listing window, in seconds.
	MinDuration int64 = 60
	// MaxCut is 100% in basis points.
	MaxCut uint64 = 10000
)

// Event types emitted by auctions.
const (
	EventAuctionCreated    = "AuctionCreated"
	EventAuctionSuccessful = "AuctionSuccessful"
	EventAuctionCancelled  = "AuctionCancelled"
	EventAuctionPause      = "AuctionPause"
	EventAuctionUnpause    = "AuctionUnpause"
	EventWithdrawal        = "Withdrawal"
)

// NonFungible is the part of the token ledger an auction relies on.
type NonFungible interface {
	OwnerOf(tokenID uint64) (types.Address, error)
	Transfer(msg types.Msg, to types.Address, tokenID uint64) error
	TransferFrom(msg types.Msg, from, to types.Address, tokenID uint64) error
}

// Listing is an active auction for one token.
type Listing struct {
	Seller     types.Address
	StartPrice uint64
	EndPrice   uint64
	Duration   int64
	StartedAt  int64
}

// PriceAt returns the ask price of the listing at time now.
func (l Listing) PriceAt(now int64) uint64 {
	var elapsed int64
	if now > l.StartedAt {
		elapsed = now - l.StartedAt
	}
	return ComputeCurrentPrice(l.StartPrice, l.EndPrice, l.Duration, elapsed)
}

// ComputeCurrentPrice interpolates linearly between start and end over
// duration seconds. Past the end of the window the price stays at end.
func ComputeCurrentPrice(start, end uint64, duration, elapsed int64) uint64 {
	if elapsed >= duration {
		return end
	}
	if elapsed <= 0 {
		return start
	}
	if start >= end {
		return start - scale(start-end, elapsed, duration)
	}
	return start + scale(end-start, elapsed, duration)
}

// scale returns change*elapsed/duration without overflowing; elapsed < duration.
func scale(change uint64, elapsed, duration int64) uint64 {
	hi, lo := bits.Mul64(change, uint64(elapsed))
	q, _ := bits.Div64(hi, lo, uint64(duration))
	return q
}

// Config wires an auction into a deployment.
type Config struct {
	Address    types.Address
	Owner      types.Address
	NFTAddress types.Address
	// Cut is the marketplace fee in basis points.
	Cut       uint64
	Directory *types.Directory
	Bank      *types.Bank
	Events    *types.EventLog
}

// State is the persisted form of a clock auction.
type State struct {
	Owner    types.Address
	Paused   bool
	Listings map[uint64]Listing
}

// Clock is the generic clock auction. Sale and Siring embed it.
type Clock struct {
	kind     string
	self     types.Address
	owner    types.Address
	nftAddr  types.Address
	nft      NonFungible
	cut      uint64
	paused   bool
	bank     *types.Bank
	events   *types.EventLog
	listings map[uint64]Listing
}

func newClock(kind string, cfg Config) (*Clock, error) {
	const op = "newAuction"
	if cfg.Cut > MaxCut {
		return nil, types.Violation(op, "cut %d exceeds %d basis points", cfg.Cut, MaxCut)
	}
	if cfg.Address.IsZero() || cfg.Owner.IsZero() {
		return nil, types.Violation(op, "auction and owner addresses are required")
	}
	component, ok := cfg.Directory.Lookup(cfg.NFTAddress)
	if !ok {
		return nil, types.Violation(op, "nothing deployed at %s", cfg.NFTAddress)
	}
	nft, ok := component.(NonFungible)
	if !ok {
		return nil, types.Violation(op, "%s is not a non-fungible ledger", cfg.NFTAddress)
	}
	return &Clock{
		kind:     kind,
		self:     cfg.Address,
		owner:    cfg.Owner,
		nftAddr:  cfg.NFTAddress,
		nft:      nft,
		cut:      cfg.Cut,
		bank:     cfg.Bank,
		events:   cfg.Events,
		listings: make(map[uint64]Listing),
	}, nil
}

func (c *Clock) Address() types.Address    { return c.self }
func (c *Clock) Owner() types.Address      { return c.owner }
func (c *Clock) NFTAddress() types.Address { return c.nftAddr }
func (c *Clock) Cut() uint64               { return c.cut }
func (c *Clock) Paused() bool              { return c.paused }

// Balance is the fee pool accrued by this auction.
func (c *Clock) Balance() uint64 {
	return c.bank.BalanceOf(c.self)
}

// CreateAuction escrows tokenID and lists it. Only the ledger may call it;
// the ledger approves the auction for the token beforehand.
func (c *Clock) CreateAuction(msg types.Msg, tokenID, startPrice, endPrice uint64, duration int64, seller types.Address) error {
	const op = "createAuction"
	if c.paused {
		return types.BadState(op, "auction is paused")
	}
	if msg.Sender != c.nftAddr {
		return types.Unauthorized(op, "only the ledger may list tokens")
	}
	if duration < MinDuration {
		return types.Violation(op, "duration %ds is below the %ds minimum", duration, MinDuration)
	}
	if seller.IsZero() {
		return types.Violation(op, "zero seller")
	}
	if _, ok := c.listings[tokenID]; ok {
		return types.BadState(op, "token %d is already listed", tokenID)
	}

	if err := c.nft.TransferFrom(msg.Forward(c.self, 0), seller, c.self, tokenID); err != nil {
		return err
	}
	// The ledger is not trusted to have moved custody just because it said so.
	if holder, err := c.nft.OwnerOf(tokenID); err != nil || holder != c.self {
		return types.Violation(op, "escrow of token %d did not reach the auction", tokenID)
	}

	c.listings[tokenID] = Listing{
		Seller:     seller,
		StartPrice: startPrice,
		EndPrice:   endPrice,
		Duration:   duration,
		StartedAt:  msg.Now,
	}
	c.events.Emit(EventAuctionCreated,
		types.Attr("auction", c.kind),
		types.Attr("token_id", tokenID),
		types.Attr("start_price", startPrice),
		types.Attr("end_price", endPrice),
		types.Attr("duration", duration),
		types.Attr("seller", seller),
	)
	return nil
}

// GetAuction returns the active listing for tokenID.
func (c *Clock) GetAuction(tokenID uint64) (Listing, error) {
	l, ok := c.listings[tokenID]
	if !ok {
		return Listing{}, types.BadState("getAuction", "token %d is not on auction", tokenID)
	}
	return l, nil
}

// CurrentPrice returns the ask price of tokenID at time now.
func (c *Clock) CurrentPrice(tokenID uint64, now int64) (uint64, error) {
	l, err := c.GetAuction(tokenID)
	if err != nil {
		return 0, err
	}
	return l.PriceAt(now), nil
}

// take validates a bid and removes the listing. Nothing has moved yet when
// it returns; the caller hands the token over and then settles.
func (c *Clock) take(op string, msg types.Msg, tokenID uint64) (Listing, uint64, error) {
	if c.paused {
		return Listing{}, 0, types.BadState(op, "auction is paused")
	}
	l, ok := c.listings[tokenID]
	if !ok {
		return Listing{}, 0, types.BadState(op, "token %d is not on auction", tokenID)
	}
	price := l.PriceAt(msg.Now)
	if msg.Value < price {
		return Listing{}, 0, types.Underpaid(op, "bid %d below current price %d", msg.Value, price)
	}
	if c.bank.BalanceOf(msg.Sender) < msg.Value {
		return Listing{}, 0, types.Underpaid(op, "bidder cannot cover %d", msg.Value)
	}
	delete(c.listings, tokenID)
	return l, price, nil
}

// settle collects the payment, pays the seller net of the cut and refunds
// anything paid above price.
func (c *Clock) settle(bidder types.Address, l Listing, price, paid uint64) error {
	if err := c.bank.Transfer(bidder, c.self, paid); err != nil {
		return err
	}
	fee := c.computeCut(price)
	if err := c.bank.Transfer(c.self, l.Seller, price-fee); err != nil {
		return err
	}
	return c.bank.Transfer(c.self, bidder, paid-price)
}

func (c *Clock) computeCut(price uint64) uint64 {
	hi, lo := bits.Mul64(price, c.cut)
	q, _ := bits.Div64(hi, lo, MaxCut)
	return q
}

func (c *Clock) emitSuccess(tokenID, price uint64, winner types.Address) {
	c.events.Emit(EventAuctionSuccessful,
		types.Attr("auction", c.kind),
		types.Attr("token_id", tokenID),
		types.Attr("total_price", price),
		types.Attr("winner", winner),
	)
}

// CancelAuction returns an unsold token to its seller.
func (c *Clock) CancelAuction(msg types.Msg, tokenID uint64) error {
	const op = "cancelAuction"
	l, ok := c.listings[tokenID]
	if !ok {
		return types.BadState(op, "token %d is not on auction", tokenID)
	}
	if msg.Sender != l.Seller {
		return types.Unauthorized(op, "only the seller may cancel")
	}
	return c.cancel(op, msg, tokenID, l)
}

// CancelAuctionWhenPaused lets the owner unwind listings while the auction
// is paused. The token goes back to its seller.
func (c *Clock) CancelAuctionWhenPaused(msg types.Msg, tokenID uint64) error {
	const op = "cancelAuctionWhenPaused"
	if !c.paused {
		return types.BadState(op, "auction is not paused")
	}
	if msg.Sender != c.owner {
		return types.Unauthorized(op, "only the auction owner")
	}
	l, ok := c.listings[tokenID]
	if !ok {
		return types.BadState(op, "token %d is not on auction", tokenID)
	}
	return c.cancel(op, msg, tokenID, l)
}

func (c *Clock) cancel(op string, msg types.Msg, tokenID uint64, l Listing) error {
	delete(c.listings, tokenID)
	if err := c.nft.Transfer(msg.Forward(c.self, 0), l.Seller, tokenID); err != nil {
		c.listings[tokenID] = l
		return err
	}
	c.events.Emit(EventAuctionCancelled,
		types.Attr("auction", c.kind),
		types.Attr("token_id", tokenID),
	)
	return nil
}

func (c *Clock) Pause(msg types.Msg) error {
	if msg.Sender != c.owner {
		return types.Unauthorized("pause", "only the auction owner")
	}
	if c.paused {
		return types.BadState("pause", "already paused")
	}
	c.paused = true
	c.events.Emit(EventAuctionPause, types.Attr("auction", c.kind))
	return nil
}

func (c *Clock) Unpause(msg types.Msg) error {
	if msg.Sender != c.owner {
		return types.Unauthorized("unpause", "only the auction owner")
	}
	if !c.paused {
		return types.BadState("unpause", "not paused")
	}
	c.paused = false
	c.events.Emit(EventAuctionUnpause, types.Attr("auction", c.kind))
	return nil
}

// WithdrawBalance moves the accrued fees to the ledger. The owner and the
// ledger itself may trigger it.
func (c *Clock) WithdrawBalance(msg types.Msg) error {
	if msg.Sender != c.owner && msg.Sender != c.nftAddr {
		return types.Unauthorized("withdrawBalance", "only the auction owner or the ledger")
	}
	amount := c.bank.BalanceOf(c.self)
	if err := c.bank.Transfer(c.self, c.nftAddr, amount); err != nil {
		return err
	}
	c.events.Emit(EventWithdrawal,
		types.Attr("from", c.self),
		types.Attr("to", c.nftAddr),
		types.Attr("amount", amount),
	)
	return nil
}

func (c *Clock) export() State {
	listings := make(map[uint64]Listing, len(c.listings))
	for id, l := range c.listings {
		listings[id] = l
	}
	return State{Owner: c.owner, Paused: c.paused, Listings: listings}
}

func (c *Clock) restore(s State) {
	c.owner = s.Owner
	c.paused = s.Paused
	c.listings = make(map[uint64]Listing, len(s.Listings))
	for id, l := range s.Listings {
		c.listings[id] = l
	}
}
