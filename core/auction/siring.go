package auction

import "github.com/ahmadzakiakmal/skullchain/core/types"

// Siring is the clock auction for siring rights. The winner does not get the
// sire: it goes straight back to its seller and the ledger breeds the
// winner's matron with it.
type Siring struct {
	*Clock
}

func NewSiring(cfg Config) (*Siring, error) {
	c, err := newClock("siring", cfg)
	if err != nil {
		return nil, err
	}
	return &Siring{Clock: c}, nil
}

// IsSiringClockAuction is the capability probe checked when the ledger is
// pointed at a siring auction.
func (s *Siring) IsSiringClockAuction() bool { return true }

// Bid settles a siring auction. Only the ledger may bid, because only the
// ledger can follow up with the conception.
func (s *Siring) Bid(msg types.Msg, tokenID uint64) error {
	const op = "bid"
	if msg.Sender != s.nftAddr {
		return types.Unauthorized(op, "siring bids go through the ledger")
	}
	l, price, err := s.take(op, msg, tokenID)
	if err != nil {
		return err
	}
	if err := s.nft.Transfer(msg.Forward(s.self, 0), l.Seller, tokenID); err != nil {
		s.listings[tokenID] = l
		return err
	}
	if err := s.settle(msg.Sender, l, price, msg.Value); err != nil {
		return err
	}
	s.emitSuccess(tokenID, price, msg.Sender)
	return nil
}

func (s *Siring) Export() State {
	return s.export()
}

func (s *Siring) Restore(st State) {
	s.restore(st)
}
