package auction

import (
	"errors"
	"testing"

	"github.com/ahmadzakiakmal/skullchain/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	nftAddr    types.Address = "NFT"
	saleAddr   types.Address = "SALE"
	siringAddr types.Address = "SIRING"
	owner      types.Address = "OWNER"
	alice      types.Address = "ALICE"
	bob        types.Address = "BOB"
)

var errRefused = errors.New("transfer refused")

// fakeNFT is a minimal ledger that enforces ownership and approval.
type fakeNFT struct {
	owners   map[uint64]types.Address
	approved map[uint64]types.Address
	refuse   bool
}

func newFakeNFT() *fakeNFT {
	return &fakeNFT{owners: map[uint64]types.Address{}, approved: map[uint64]types.Address{}}
}

func (f *fakeNFT) OwnerOf(id uint64) (types.Address, error) {
	o, ok := f.owners[id]
	if !ok {
		return "", types.Violation("ownerOf", "no token %d", id)
	}
	return o, nil
}

func (f *fakeNFT) Transfer(msg types.Msg, to types.Address, id uint64) error {
	if f.refuse {
		return errRefused
	}
	if f.owners[id] != msg.Sender {
		return types.Unauthorized("transfer", "not owner")
	}
	f.owners[id] = to
	delete(f.approved, id)
	return nil
}

func (f *fakeNFT) TransferFrom(msg types.Msg, from, to types.Address, id uint64) error {
	if f.approved[id] != msg.Sender || f.owners[id] != from {
		return types.Unauthorized("transferFrom", "not approved")
	}
	f.owners[id] = to
	delete(f.approved, id)
	return nil
}

type fixture struct {
	nft    *fakeNFT
	bank   *types.Bank
	events *types.EventLog
	sale   *Sale
	siring *Siring
}

func newFixture(t *testing.T, cut uint64) *fixture {
	t.Helper()
	f := &fixture{nft: newFakeNFT(), bank: types.NewBank(), events: types.NewEventLog()}
	dir := types.NewDirectory()
	require.NoError(t, dir.Register(nftAddr, f.nft))
	var err error
	f.sale, err = NewSale(Config{Address: saleAddr, Owner: owner, NFTAddress: nftAddr, Cut: cut, Directory: dir, Bank: f.bank, Events: f.events})
	require.NoError(t, err)
	f.siring, err = NewSiring(Config{Address: siringAddr, Owner: owner, NFTAddress: nftAddr, Cut: cut, Directory: dir, Bank: f.bank, Events: f.events})
	require.NoError(t, err)
	return f
}

// list puts token id owned by seller on the given auction at time now.
func (f *fixture) list(t *testing.T, c *Clock, id uint64, seller types.Address, start, end uint64, duration, now int64) {
	t.Helper()
	f.nft.owners[id] = seller
	f.nft.approved[id] = c.Address()
	require.NoError(t, c.CreateAuction(types.Msg{Sender: nftAddr, Now: now}, id, start, end, duration, seller))
}

func TestComputeCurrentPrice(t *testing.T) {
	tests := []struct {
		name       string
		start, end uint64
		duration   int64
		elapsed    int64
		want       uint64
	}{
		{"at start", 1000, 0, 100, 0, 1000},
		{"halfway down", 1000, 0, 100, 50, 500},
		{"halfway up", 100, 200, 60, 30, 150},
		{"at end", 1000, 10, 100, 100, 10},
		{"past end", 1000, 10, 100, 1000, 10},
		{"before start", 1000, 10, 100, -5, 1000},
		{"flat", 70, 70, 100, 40, 70},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeCurrentPrice(tt.start, tt.end, tt.duration, tt.elapsed))
		})
	}
}

func TestComputeCurrentPriceIsStrictlyMonotonic(t *testing.T) {
	prev := ComputeCurrentPrice(1000, 0, 100, 0)
	for elapsed := int64(1); elapsed <= 100; elapsed++ {
		p := ComputeCurrentPrice(1000, 0, 100, elapsed)
		require.Less(t, p, prev, "elapsed %d", elapsed)
		prev = p
	}
	prev = ComputeCurrentPrice(0, 1000, 100, 0)
	for elapsed := int64(1); elapsed <= 100; elapsed++ {
		p := ComputeCurrentPrice(0, 1000, 100, elapsed)
		require.Greater(t, p, prev, "elapsed %d", elapsed)
		prev = p
	}
}

func TestComputeCurrentPriceDoesNotOverflow(t *testing.T) {
	const max = ^uint64(0)
	assert.Equal(t, max/2+1, ComputeCurrentPrice(max, 0, 2, 1))
}

func TestNewAuctionValidatesConfig(t *testing.T) {
	dir := types.NewDirectory()
	require.NoError(t, dir.Register(nftAddr, newFakeNFT()))
	require.NoError(t, dir.Register("PLAIN", "not a ledger"))
	base := Config{Address: saleAddr, Owner: owner, NFTAddress: nftAddr, Directory: dir, Bank: types.NewBank(), Events: types.NewEventLog()}

	cfg := base
	cfg.Cut = MaxCut + 1
	_, err := NewSale(cfg)
	assert.ErrorIs(t, err, types.ErrInvariant)

	cfg = base
	cfg.NFTAddress = "MISSING"
	_, err = NewSiring(cfg)
	assert.ErrorIs(t, err, types.ErrInvariant)

	cfg = base
	cfg.NFTAddress = "PLAIN"
	_, err = NewSale(cfg)
	assert.ErrorIs(t, err, types.ErrInvariant)

	sale, err := NewSale(base)
	require.NoError(t, err)
	assert.True(t, sale.IsSaleClockAuction())
}

func TestCreateAuctionEscrowsToken(t *testing.T) {
	f := newFixture(t, 0)
	f.list(t, f.sale.Clock, 1, alice, 1000, 0, 100, 500)

	assert.Equal(t, saleAddr, f.nft.owners[1])
	l, err := f.sale.GetAuction(1)
	require.NoError(t, err)
	assert.Equal(t, Listing{Seller: alice, StartPrice: 1000, EndPrice: 0, Duration: 100, StartedAt: 500}, l)

	events := f.events.Drain()
	require.Len(t, events, 1)
	assert.Equal(t, EventAuctionCreated, events[0].Type)
	assert.Equal(t, "sale", events[0].Get("auction"))
}

func TestCreateAuctionGuards(t *testing.T) {
	f := newFixture(t, 0)
	f.nft.owners[1] = alice
	f.nft.approved[1] = saleAddr

	err := f.sale.CreateAuction(types.Msg{Sender: alice}, 1, 100, 0, 100, alice)
	assert.ErrorIs(t, err, types.ErrAuthorization)

	err = f.sale.CreateAuction(types.Msg{Sender: nftAddr}, 1, 100, 0, MinDuration-1, alice)
	assert.ErrorIs(t, err, types.ErrInvariant)
	assert.Equal(t, alice, f.nft.owners[1], "failed listing must not escrow")

	require.NoError(t, f.sale.CreateAuction(types.Msg{Sender: nftAddr}, 1, 100, 0, 100, alice))
	err = f.sale.CreateAuction(types.Msg{Sender: nftAddr}, 1, 100, 0, 100, alice)
	assert.ErrorIs(t, err, types.ErrState)

	require.NoError(t, f.sale.Pause(types.Msg{Sender: owner}))
	f.nft.owners[2] = alice
	f.nft.approved[2] = saleAddr
	err = f.sale.CreateAuction(types.Msg{Sender: nftAddr}, 2, 100, 0, 100, alice)
	assert.ErrorIs(t, err, types.ErrState)
}

func TestSaleBidBelowPriceFails(t *testing.T) {
	f := newFixture(t, 0)
	require.NoError(t, f.bank.Mint(bob, 10_000))
	f.list(t, f.sale.Clock, 1, alice, 1000, 0, 100, 0)

	err := f.sale.Bid(types.Msg{Sender: bob, Value: 999, Now: 0}, 1)
	assert.ErrorIs(t, err, types.ErrInsufficientPayment)
	assert.Equal(t, saleAddr, f.nft.owners[1])
	assert.Equal(t, uint64(10_000), f.bank.BalanceOf(bob))
}

func TestSaleBidTransfersPaysAndRefunds(t *testing.T) {
	f := newFixture(t, 500)
	require.NoError(t, f.bank.Mint(bob, 10_000))
	f.list(t, f.sale.Clock, 1, alice, 2000, 0, 100, 0)
	f.events.Drain()

	// Half way through the window the price is 1000.
	require.NoError(t, f.sale.Bid(types.Msg{Sender: bob, Value: 1500, Now: 50}, 1))

	assert.Equal(t, bob, f.nft.owners[1])
	assert.Equal(t, uint64(950), f.bank.BalanceOf(alice))
	assert.Equal(t, uint64(50), f.sale.Balance())
	assert.Equal(t, uint64(9000), f.bank.BalanceOf(bob))

	_, err := f.sale.GetAuction(1)
	assert.ErrorIs(t, err, types.ErrState)

	events := f.events.Drain()
	require.Len(t, events, 1)
	assert.Equal(t, EventAuctionSuccessful, events[0].Type)
	assert.Equal(t, "1000", events[0].Get("total_price"))
}

func TestSaleSecondBidLoses(t *testing.T) {
	f := newFixture(t, 0)
	require.NoError(t, f.bank.Mint(bob, 1000))
	require.NoError(t, f.bank.Mint(alice, 1000))
	f.list(t, f.sale.Clock, 1, owner, 100, 100, 100, 0)

	require.NoError(t, f.sale.Bid(types.Msg{Sender: bob, Value: 100}, 1))
	err := f.sale.Bid(types.Msg{Sender: alice, Value: 100}, 1)
	assert.ErrorIs(t, err, types.ErrState)
	assert.Equal(t, uint64(1000), f.bank.BalanceOf(alice))
}

func TestSaleBidRestoresListingWhenLedgerRefuses(t *testing.T) {
	f := newFixture(t, 0)
	require.NoError(t, f.bank.Mint(bob, 1000))
	f.list(t, f.sale.Clock, 1, alice, 100, 100, 100, 0)

	f.nft.refuse = true
	err := f.sale.Bid(types.Msg{Sender: bob, Value: 100}, 1)
	assert.ErrorIs(t, err, errRefused)
	assert.Equal(t, uint64(1000), f.bank.BalanceOf(bob))
	_, err = f.sale.GetAuction(1)
	assert.NoError(t, err)
}

func TestBidderMustCoverPayment(t *testing.T) {
	f := newFixture(t, 0)
	require.NoError(t, f.bank.Mint(bob, 50))
	f.list(t, f.sale.Clock, 1, alice, 100, 100, 100, 0)

	err := f.sale.Bid(types.Msg{Sender: bob, Value: 100}, 1)
	assert.ErrorIs(t, err, types.ErrInsufficientPayment)
	_, err = f.sale.GetAuction(1)
	assert.NoError(t, err)
}

func TestAverageGen0SalePrice(t *testing.T) {
	f := newFixture(t, 0)
	require.NoError(t, f.bank.Mint(bob, 1_000_000))
	assert.Equal(t, uint64(0), f.sale.AverageGen0SalePrice())

	// A sale by the ledger itself is a gen0 sale.
	f.list(t, f.sale.Clock, 1, nftAddr, 1000, 0, 86400, 0)
	require.NoError(t, f.sale.Bid(types.Msg{Sender: bob, Value: 1000}, 1))
	assert.Equal(t, uint64(200), f.sale.AverageGen0SalePrice())
	assert.Equal(t, uint64(1), f.sale.Gen0SaleCount())

	// Regular sales leave the average alone.
	f.list(t, f.sale.Clock, 1, bob, 5000, 5000, 100, 0)
	require.NoError(t, f.bank.Mint(alice, 5000))
	require.NoError(t, f.sale.Bid(types.Msg{Sender: alice, Value: 5000}, 1))
	assert.Equal(t, uint64(200), f.sale.AverageGen0SalePrice())

	// The ring keeps only the last five prices.
	for i := uint64(2); i <= 6; i++ {
		f.list(t, f.sale.Clock, i, nftAddr, 500, 500, 100, 0)
		require.NoError(t, f.sale.Bid(types.Msg{Sender: bob, Value: 500}, i))
	}
	assert.Equal(t, uint64(500), f.sale.AverageGen0SalePrice())
}

func TestCancelAuction(t *testing.T) {
	f := newFixture(t, 0)
	f.list(t, f.sale.Clock, 1, alice, 100, 0, 100, 0)

	assert.ErrorIs(t, f.sale.CancelAuction(types.Msg{Sender: bob}, 1), types.ErrAuthorization)
	require.NoError(t, f.sale.CancelAuction(types.Msg{Sender: alice}, 1))
	assert.Equal(t, alice, f.nft.owners[1])
	assert.ErrorIs(t, f.sale.CancelAuction(types.Msg{Sender: alice}, 1), types.ErrState)
}

func TestCancelAuctionWhenPaused(t *testing.T) {
	f := newFixture(t, 0)
	f.list(t, f.siring.Clock, 1, alice, 100, 0, 100, 0)

	assert.ErrorIs(t, f.siring.CancelAuctionWhenPaused(types.Msg{Sender: owner}, 1), types.ErrState)
	assert.ErrorIs(t, f.siring.Pause(types.Msg{Sender: alice}), types.ErrAuthorization)
	require.NoError(t, f.siring.Pause(types.Msg{Sender: owner}))
	assert.ErrorIs(t, f.siring.CancelAuctionWhenPaused(types.Msg{Sender: alice}, 1), types.ErrAuthorization)
	require.NoError(t, f.siring.CancelAuctionWhenPaused(types.Msg{Sender: owner}, 1))
	assert.Equal(t, alice, f.nft.owners[1])
	require.NoError(t, f.siring.Unpause(types.Msg{Sender: owner}))
	assert.ErrorIs(t, f.siring.Unpause(types.Msg{Sender: owner}), types.ErrState)
}

func TestSiringBidReturnsSireToSeller(t *testing.T) {
	f := newFixture(t, 1000)
	require.NoError(t, f.bank.Mint(nftAddr, 1000))
	require.NoError(t, f.bank.Mint(bob, 1000))
	f.list(t, f.siring.Clock, 1, alice, 200, 200, 100, 0)

	err := f.siring.Bid(types.Msg{Sender: bob, Value: 200}, 1)
	assert.ErrorIs(t, err, types.ErrAuthorization)

	require.NoError(t, f.siring.Bid(types.Msg{Sender: nftAddr, Value: 300}, 1))
	assert.Equal(t, alice, f.nft.owners[1])
	assert.Equal(t, uint64(180), f.bank.BalanceOf(alice))
	assert.Equal(t, uint64(20), f.siring.Balance())
	assert.Equal(t, uint64(800), f.bank.BalanceOf(nftAddr))
}

func TestWithdrawBalance(t *testing.T) {
	f := newFixture(t, 1000)
	require.NoError(t, f.bank.Mint(bob, 1000))
	f.list(t, f.sale.Clock, 1, alice, 1000, 1000, 100, 0)
	require.NoError(t, f.sale.Bid(types.Msg{Sender: bob, Value: 1000}, 1))
	require.Equal(t, uint64(100), f.sale.Balance())

	assert.ErrorIs(t, f.sale.WithdrawBalance(types.Msg{Sender: bob}), types.ErrAuthorization)
	require.NoError(t, f.sale.WithdrawBalance(types.Msg{Sender: owner}))
	assert.Equal(t, uint64(0), f.sale.Balance())
	assert.Equal(t, uint64(100), f.bank.BalanceOf(nftAddr))
}

func TestExportRestore(t *testing.T) {
	f := newFixture(t, 0)
	require.NoError(t, f.bank.Mint(bob, 1000))
	f.list(t, f.sale.Clock, 1, nftAddr, 100, 100, 100, 0)
	require.NoError(t, f.sale.Bid(types.Msg{Sender: bob, Value: 100}, 1))
	f.list(t, f.sale.Clock, 2, alice, 300, 0, 100, 7)

	raw, err := types.Marshal(f.sale.Export())
	require.NoError(t, err)
	var st SaleState
	require.NoError(t, types.Unmarshal(raw, &st))

	g := newFixture(t, 0)
	g.sale.Restore(st)
	assert.Equal(t, f.sale.AverageGen0SalePrice(), g.sale.AverageGen0SalePrice())
	l, err := g.sale.GetAuction(2)
	require.NoError(t, err)
	assert.Equal(t, int64(7), l.StartedAt)
}
