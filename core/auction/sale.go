package auction

import "github.com/ahmadzakiakmal/skullchain/core/types"

// gen0Window is how many recent gen0 sales feed the average.
const gen0Window = 5

// Sale is the clock auction for outright sales. It remembers the prices of
// the last gen0 sales so the ledger can price new gen0 tokens.
type Sale struct {
	*Clock
	lastGen0SalePrices [gen0Window]uint64
	gen0SaleCount      uint64
}

// SaleState is the persisted form of a Sale.
type SaleState struct {
	Clock              State
	LastGen0SalePrices [gen0Window]uint64
	Gen0SaleCount      uint64
}

func NewSale(cfg Config) (*Sale, error) {
	c, err := newClock("sale", cfg)
	if err != nil {
		return nil, err
	}
	return &Sale{Clock: c}, nil
}

// IsSaleClockAuction is the capability probe checked when the ledger is
// pointed at a sale auction.
func (s *Sale) IsSaleClockAuction() bool { return true }

// Bid buys tokenID outright. msg.Value is the offered payment; the excess
// over the current price is refunded.
func (s *Sale) Bid(msg types.Msg, tokenID uint64) error {
	const op = "bid"
	l, price, err := s.take(op, msg, tokenID)
	if err != nil {
		return err
	}
	if err := s.nft.Transfer(msg.Forward(s.self, 0), msg.Sender, tokenID); err != nil {
		s.listings[tokenID] = l
		return err
	}
	if l.Seller == s.nftAddr {
		s.lastGen0SalePrices[s.gen0SaleCount%gen0Window] = price
		s.gen0SaleCount++
	}
	if err := s.settle(msg.Sender, l, price, msg.Value); err != nil {
		return err
	}
	s.emitSuccess(tokenID, price, msg.Sender)
	return nil
}

// AverageGen0SalePrice averages the last five gen0 sale prices. Slots not
// yet filled count as zero.
func (s *Sale) AverageGen0SalePrice() uint64 {
	var sum uint64
	for _, p := range s.lastGen0SalePrices {
		sum += p
	}
	return sum / gen0Window
}

func (s *Sale) Gen0SaleCount() uint64 {
	return s.gen0SaleCount
}

func (s *Sale) Export() SaleState {
	return SaleState{
		Clock:              s.export(),
		LastGen0SalePrices: s.lastGen0SalePrices,
		Gen0SaleCount:      s.gen0SaleCount,
	}
}

func (s *Sale) Restore(st SaleState) {
	s.restore(st.Clock)
	s.lastGen0SalePrices = st.LastGen0SalePrices
	s.gen0SaleCount = st.Gen0SaleCount
}
