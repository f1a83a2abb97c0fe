package core

import (
	"math"

	"github.com/ahmadzakiakmal/skullchain/core/types"
)

// SaleMarket is the sale auction as seen by the ledger.
type SaleMarket interface {
	IsSaleClockAuction() bool
	NFTAddress() types.Address
	Paused() bool
	CreateAuction(msg types.Msg, tokenID, startPrice, endPrice uint64, duration int64, seller types.Address) error
	AverageGen0SalePrice() uint64
	WithdrawBalance(msg types.Msg) error
}

// SiringMarket is the siring auction as seen by the ledger.
type SiringMarket interface {
	IsSiringClockAuction() bool
	NFTAddress() types.Address
	Paused() bool
	CreateAuction(msg types.Msg, tokenID, startPrice, endPrice uint64, duration int64, seller types.Address) error
	CurrentPrice(tokenID uint64, now int64) (uint64, error)
	Bid(msg types.Msg, tokenID uint64) error
	WithdrawBalance(msg types.Msg) error
}

type lister interface {
	CreateAuction(msg types.Msg, tokenID, startPrice, endPrice uint64, duration int64, seller types.Address) error
}

func (c *Core) SaleAuctionAddress() types.Address   { return c.saleAddr }
func (c *Core) SiringAuctionAddress() types.Address { return c.siringAddr }

func (c *Core) Gen0CreatedCount() uint64 {
	return c.gen0CreatedCount
}

func (c *Core) probeSale(op string, addr types.Address) (SaleMarket, error) {
	component, err := c.lookup(op, addr)
	if err != nil {
		return nil, err
	}
	m, ok := component.(SaleMarket)
	if !ok || !m.IsSaleClockAuction() {
		return nil, types.Violation(op, "%s is not a sale clock auction", addr)
	}
	if m.NFTAddress() != c.self {
		return nil, types.Violation(op, "sale auction %s serves %s", addr, m.NFTAddress())
	}
	return m, nil
}

func (c *Core) probeSiring(op string, addr types.Address) (SiringMarket, error) {
	component, err := c.lookup(op, addr)
	if err != nil {
		return nil, err
	}
	m, ok := component.(SiringMarket)
	if !ok || !m.IsSiringClockAuction() {
		return nil, types.Violation(op, "%s is not a siring clock auction", addr)
	}
	if m.NFTAddress() != c.self {
		return nil, types.Violation(op, "siring auction %s serves %s", addr, m.NFTAddress())
	}
	return m, nil
}

// SetSaleAuctionAddress is CEO only.
func (c *Core) SetSaleAuctionAddress(msg types.Msg, addr types.Address) error {
	const op = "setSaleAuctionAddress"
	if err := c.requireCEO(op, msg); err != nil {
		return err
	}
	m, err := c.probeSale(op, addr)
	if err != nil {
		return err
	}
	c.saleAddr, c.sale = addr, m
	c.events.Emit(EventConfigChanged, types.Attr("setting", "sale_auction"), types.Attr("value", addr))
	return nil
}

// SetSiringAuctionAddress is CEO only.
func (c *Core) SetSiringAuctionAddress(msg types.Msg, addr types.Address) error {
	const op = "setSiringAuctionAddress"
	if err := c.requireCEO(op, msg); err != nil {
		return err
	}
	m, err := c.probeSiring(op, addr)
	if err != nil {
		return err
	}
	c.siringAddr, c.siring = addr, m
	c.events.Emit(EventConfigChanged, types.Attr("setting", "siring_auction"), types.Attr("value", addr))
	return nil
}

// list approves the auction for tokenID and asks it to escrow and list the
// token. The approval is rolled back if the auction refuses.
func (c *Core) list(msg types.Msg, market lister, marketAddr types.Address, tokenID, startPrice, endPrice uint64, duration int64, seller types.Address) error {
	prev, had := c.approvals[tokenID]
	c.approvals[tokenID] = marketAddr
	err := market.CreateAuction(msg.Forward(c.self, 0), tokenID, startPrice, endPrice, duration, seller)
	if err != nil {
		if had {
			c.approvals[tokenID] = prev
		} else {
			delete(c.approvals, tokenID)
		}
	}
	return err
}

// CreateSaleAuction lists a token the caller owns for sale. Pregnant
// tokens cannot be sold.
func (c *Core) CreateSaleAuction(msg types.Msg, tokenID, startPrice, endPrice uint64, duration int64) error {
	const op = "createSaleAuction"
	if err := c.whenNotPaused(op); err != nil {
		return err
	}
	if c.sale == nil {
		return types.Violation(op, "sale auction is not configured")
	}
	if err := c.requireToken(op, tokenID); err != nil {
		return err
	}
	if !c.owns(msg.Sender, tokenID) {
		return types.Unauthorized(op, "caller does not own token %d", tokenID)
	}
	if c.token(tokenID).IsGestating() {
		return types.BadState(op, "token %d is pregnant", tokenID)
	}
	return c.list(msg, c.sale, c.saleAddr, tokenID, startPrice, endPrice, duration, msg.Sender)
}

// CreateSiringAuction offers a token's siring rights. The token must be
// ready to breed.
func (c *Core) CreateSiringAuction(msg types.Msg, tokenID, startPrice, endPrice uint64, duration int64) error {
	const op = "createSiringAuction"
	if err := c.whenNotPaused(op); err != nil {
		return err
	}
	if c.siring == nil {
		return types.Violation(op, "siring auction is not configured")
	}
	if err := c.requireToken(op, tokenID); err != nil {
		return err
	}
	if !c.owns(msg.Sender, tokenID) {
		return types.Unauthorized(op, "caller does not own token %d", tokenID)
	}
	if !isReady(c.token(tokenID), msg.Now) {
		return types.BadState(op, "token %d is not ready to breed", tokenID)
	}
	return c.list(msg, c.siring, c.siringAddr, tokenID, startPrice, endPrice, duration, msg.Sender)
}

// BidOnSiringAuction buys the siring rights of sireID for the caller's
// matronID and breeds them at once. msg.Value must cover the current price.
// If it also covers price plus AutoBirthFee, the fee is escrowed for
// automatic delivery. The rest is refunded.
func (c *Core) BidOnSiringAuction(msg types.Msg, sireID, matronID uint64) error {
	const op = "bidOnSiringAuction"
	if err := c.whenNotPaused(op); err != nil {
		return err
	}
	if c.siring == nil {
		return types.Violation(op, "siring auction is not configured")
	}
	if err := c.requireToken(op, sireID); err != nil {
		return err
	}
	if err := c.requireToken(op, matronID); err != nil {
		return err
	}
	if !c.owns(msg.Sender, matronID) {
		return types.Unauthorized(op, "caller does not own matron %d", matronID)
	}
	if c.owners[sireID] != c.siringAddr {
		return types.BadState(op, "sire %d is not on the siring auction", sireID)
	}
	if err := c.checkPair(op, matronID, sireID, msg.Now); err != nil {
		return err
	}
	price, err := c.siring.CurrentPrice(sireID, msg.Now)
	if err != nil {
		return err
	}
	if msg.Value < price {
		return types.Underpaid(op, "bid %d below current price %d", msg.Value, price)
	}
	var fee uint64
	if c.autoBirthFee > 0 && c.autoBirthFee <= math.MaxUint64-price && msg.Value >= price+c.autoBirthFee {
		fee = c.autoBirthFee
	}

	if err := c.bank.Transfer(msg.Sender, c.self, msg.Value); err != nil {
		return err
	}
	if err := c.siring.Bid(msg.Forward(c.self, price), sireID); err != nil {
		if rerr := c.bank.Transfer(c.self, msg.Sender, msg.Value); rerr != nil {
			return types.Violation(op, "refund after failed bid: %v", rerr)
		}
		return err
	}
	c.conceive(matronID, sireID, msg.Now, fee)
	return c.bank.Transfer(c.self, msg.Sender, msg.Value-price-fee)
}

// ComputeNextGen0Price is half again the recent gen0 average, never below
// Gen0StartingPrice.
func (c *Core) ComputeNextGen0Price() uint64 {
	if c.sale == nil {
		return Gen0StartingPrice
	}
	avg := c.sale.AverageGen0SalePrice()
	next := uint64(math.MaxUint64)
	if avg/2 <= math.MaxUint64-avg {
		next = avg + avg/2
	}
	return max(next, Gen0StartingPrice)
}

// CreateGen0Auction mints a generation zero token to the ledger and lists
// it on the sale auction with the ledger as seller. COO only.
func (c *Core) CreateGen0Auction(msg types.Msg, genes types.Genes) (uint64, error) {
	const op = "createGen0Auction"
	if err := c.requireCOO(op, msg); err != nil {
		return 0, err
	}
	if err := c.whenNotPaused(op); err != nil {
		return 0, err
	}
	if c.sale == nil {
		return 0, types.Violation(op, "sale auction is not configured")
	}
	if c.sale.Paused() {
		return 0, types.BadState(op, "sale auction is paused")
	}
	if c.gen0CreatedCount >= Gen0CreationLimit {
		return 0, types.BadState(op, "gen0 limit of %d reached", Gen0CreationLimit)
	}
	price := c.ComputeNextGen0Price()
	tokenID := c.createToken(0, 0, 0, genes, c.self, msg.Now)
	if err := c.list(msg, c.sale, c.saleAddr, tokenID, price, 0, Gen0AuctionDuration, c.self); err != nil {
		c.dropToken(tokenID)
		return 0, err
	}
	c.gen0CreatedCount++
	return tokenID, nil
}
