package app

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/ahmadzakiakmal/skullchain/core/auction"
	"github.com/ahmadzakiakmal/skullchain/core/types"
)

// opFunc runs one operation against the world. The returned value becomes
// the JSON data of the tx result.
type opFunc func(w *World, msg types.Msg, args json.RawMessage) (any, error)

type operation struct {
	payable bool
	run     opFunc
}

// argsError marks arguments that do not decode.
type argsError struct{ err error }

func (e argsError) Error() string { return "decode args: " + e.err.Error() }
func (e argsError) Unwrap() error { return e.err }

// with decodes the arguments into A before calling fn.
func with[A any](fn func(w *World, msg types.Msg, a A) (any, error)) opFunc {
	return func(w *World, msg types.Msg, raw json.RawMessage) (any, error) {
		var a A
		if len(raw) > 0 && string(raw) != "null" {
			if err := json.Unmarshal(raw, &a); err != nil {
				return nil, argsError{err}
			}
		}
		return fn(w, msg, a)
	}
}

// noResult adapts an operation that returns only an error.
func noResult[A any](fn func(w *World, msg types.Msg, a A) error) opFunc {
	return with(func(w *World, msg types.Msg, a A) (any, error) {
		return nil, fn(w, msg, a)
	})
}

type (
	noArgs    struct{}
	tokenArgs struct {
		TokenID uint64 `json:"token_id"`
	}
	addressArgs struct {
		Address types.Address `json:"address"`
	}
	transferArgs struct {
		From    types.Address `json:"from,omitempty"`
		To      types.Address `json:"to"`
		TokenID uint64        `json:"token_id"`
	}
	mintArgs struct {
		Owner      types.Address `json:"owner,omitempty"`
		MatronID   uint64        `json:"matron_id,omitempty"`
		SireID     uint64        `json:"sire_id,omitempty"`
		Generation uint32        `json:"generation,omitempty"`
		Genes      types.Genes   `json:"genes"`
	}
	mintBatchArgs struct {
		Genes types.Genes `json:"genes"`
		Count uint64      `json:"count"`
	}
	pairArgs struct {
		MatronID uint64 `json:"matron_id"`
		SireID   uint64 `json:"sire_id"`
	}
	siringApprovalArgs struct {
		Address types.Address `json:"address"`
		SireID  uint64        `json:"sire_id"`
	}
	listArgs struct {
		TokenID    uint64 `json:"token_id"`
		StartPrice uint64 `json:"start_price"`
		EndPrice   uint64 `json:"end_price"`
		Duration   int64  `json:"duration"`
	}
	feeArgs struct {
		Fee uint64 `json:"fee"`
	}
	genesArgs struct {
		Genes types.Genes `json:"genes"`
	}
	auctionArgs struct {
		Auction string `json:"auction"`
		TokenID uint64 `json:"token_id,omitempty"`
	}
	sendArgs struct {
		To     types.Address `json:"to"`
		Amount uint64        `json:"amount"`
	}
)

type tokenResult struct {
	TokenID uint64 `json:"token_id"`
}

type tokensResult struct {
	TokenIDs []uint64 `json:"token_ids"`
}

// clockOf resolves the auction named in args to its generic clock.
func clockOf(w *World, name string) (*auction.Clock, error) {
	switch name {
	case "sale":
		return w.Sale.Clock, nil
	case "siring":
		return w.Siring.Clock, nil
	}
	return nil, types.Violation("auction", "unknown auction %q", name)
}

var operations = map[string]operation{
	// Token ledger.
	"transfer": {run: noResult(func(w *World, msg types.Msg, a transferArgs) error {
		return w.Core.Transfer(msg, a.To, a.TokenID)
	})},
	"approve": {run: noResult(func(w *World, msg types.Msg, a transferArgs) error {
		return w.Core.Approve(msg, a.To, a.TokenID)
	})},
	"transferFrom": {run: noResult(func(w *World, msg types.Msg, a transferArgs) error {
		return w.Core.TransferFrom(msg, a.From, a.To, a.TokenID)
	})},
	"mint": {run: with(func(w *World, msg types.Msg, a mintArgs) (any, error) {
		id, err := w.Core.Mint(msg, a.Owner, a.MatronID, a.SireID, a.Generation, a.Genes)
		return tokenResult{id}, err
	})},
	"mintKittens": {run: with(func(w *World, msg types.Msg, a mintBatchArgs) (any, error) {
		ids, err := w.Core.MintKittens(msg, a.Genes, a.Count)
		return tokensResult{ids}, err
	})},
	"rescueLostKitty": {run: noResult(func(w *World, msg types.Msg, a transferArgs) error {
		return w.Core.RescueLostKitty(msg, a.TokenID, a.To)
	})},

	// Breeding.
	"approveSiring": {run: noResult(func(w *World, msg types.Msg, a siringApprovalArgs) error {
		return w.Core.ApproveSiring(msg, a.Address, a.SireID)
	})},
	"breedWith": {payable: true, run: noResult(func(w *World, msg types.Msg, a pairArgs) error {
		return w.Core.BreedWith(msg, a.MatronID, a.SireID)
	})},
	"breedWithAuto": {payable: true, run: noResult(func(w *World, msg types.Msg, a pairArgs) error {
		return w.Core.BreedWithAuto(msg, a.MatronID, a.SireID)
	})},
	"giveBirth": {run: with(func(w *World, msg types.Msg, a pairArgs) (any, error) {
		id, err := w.Core.GiveBirth(msg, a.MatronID)
		return tokenResult{id}, err
	})},
	"setAutoBirthFee": {run: noResult(func(w *World, msg types.Msg, a feeArgs) error {
		return w.Core.SetAutoBirthFee(msg, a.Fee)
	})},
	"setGeneScienceAddress": {run: noResult(func(w *World, msg types.Msg, a addressArgs) error {
		return w.Core.SetGeneScienceAddress(msg, a.Address)
	})},

	// Markets.
	"setSaleAuctionAddress": {run: noResult(func(w *World, msg types.Msg, a addressArgs) error {
		return w.Core.SetSaleAuctionAddress(msg, a.Address)
	})},
	"setSiringAuctionAddress": {run: noResult(func(w *World, msg types.Msg, a addressArgs) error {
		return w.Core.SetSiringAuctionAddress(msg, a.Address)
	})},
	"createSaleAuction": {run: noResult(func(w *World, msg types.Msg, a listArgs) error {
		return w.Core.CreateSaleAuction(msg, a.TokenID, a.StartPrice, a.EndPrice, a.Duration)
	})},
	"createSiringAuction": {run: noResult(func(w *World, msg types.Msg, a listArgs) error {
		return w.Core.CreateSiringAuction(msg, a.TokenID, a.StartPrice, a.EndPrice, a.Duration)
	})},
	"bidOnSiringAuction": {payable: true, run: noResult(func(w *World, msg types.Msg, a pairArgs) error {
		return w.Core.BidOnSiringAuction(msg, a.SireID, a.MatronID)
	})},
	"createGen0Auction": {run: with(func(w *World, msg types.Msg, a genesArgs) (any, error) {
		id, err := w.Core.CreateGen0Auction(msg, a.Genes)
		return tokenResult{id}, err
	})},
	"bid": {payable: true, run: noResult(func(w *World, msg types.Msg, a tokenArgs) error {
		return w.Sale.Bid(msg, a.TokenID)
	})},
	"cancelAuction": {run: noResult(func(w *World, msg types.Msg, a auctionArgs) error {
		c, err := clockOf(w, a.Auction)
		if err != nil {
			return err
		}
		return c.CancelAuction(msg, a.TokenID)
	})},
	"cancelAuctionWhenPaused": {run: noResult(func(w *World, msg types.Msg, a auctionArgs) error {
		c, err := clockOf(w, a.Auction)
		if err != nil {
			return err
		}
		return c.CancelAuctionWhenPaused(msg, a.TokenID)
	})},
	"pauseAuction": {run: noResult(func(w *World, msg types.Msg, a auctionArgs) error {
		c, err := clockOf(w, a.Auction)
		if err != nil {
			return err
		}
		return c.Pause(msg)
	})},
	"unpauseAuction": {run: noResult(func(w *World, msg types.Msg, a auctionArgs) error {
		c, err := clockOf(w, a.Auction)
		if err != nil {
			return err
		}
		return c.Unpause(msg)
	})},
	"withdrawAuctionBalance": {run: noResult(func(w *World, msg types.Msg, a auctionArgs) error {
		c, err := clockOf(w, a.Auction)
		if err != nil {
			return err
		}
		return c.WithdrawBalance(msg)
	})},

	// Roles and treasury.
	"setCEO": {run: noResult(func(w *World, msg types.Msg, a addressArgs) error {
		return w.Core.SetCEO(msg, a.Address)
	})},
	"setCFO": {run: noResult(func(w *World, msg types.Msg, a addressArgs) error {
		return w.Core.SetCFO(msg, a.Address)
	})},
	"setCOO": {run: noResult(func(w *World, msg types.Msg, a addressArgs) error {
		return w.Core.SetCOO(msg, a.Address)
	})},
	"pause": {run: noResult(func(w *World, msg types.Msg, _ noArgs) error {
		return w.Core.Pause(msg)
	})},
	"unpause": {run: noResult(func(w *World, msg types.Msg, _ noArgs) error {
		return w.Core.Unpause(msg)
	})},
	"setNewAddress": {run: noResult(func(w *World, msg types.Msg, a addressArgs) error {
		return w.Core.SetNewAddress(msg, a.Address)
	})},
	"withdrawBalance": {run: noResult(func(w *World, msg types.Msg, _ noArgs) error {
		return w.Core.WithdrawBalance(msg)
	})},
	"withdrawAuctionBalances": {run: noResult(func(w *World, msg types.Msg, _ noArgs) error {
		return w.Core.WithdrawAuctionBalances(msg)
	})},
	"fund": {payable: true, run: noResult(func(w *World, msg types.Msg, _ noArgs) error {
		return w.Core.Fund(msg)
	})},

	// Plain value transfer between accounts.
	"send": {run: noResult(func(w *World, msg types.Msg, a sendArgs) error {
		if a.To.IsZero() {
			return types.Violation("send", "zero recipient")
		}
		return w.Bank.Transfer(msg.Sender, a.To, a.Amount)
	})},
}

// OperationNames lists every operation the chain accepts.
func OperationNames() []string {
	return slices.Sorted(maps.Keys(operations))
}

// execute runs body for sender at time now. Nonce handling is the caller's.
func (w *World) execute(sender types.Address, body Body, now int64) (any, error) {
	op, ok := operations[body.Op]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errUnknownOp, body.Op)
	}
	if body.Value > 0 && !op.payable {
		return nil, types.Violation(body.Op, "operation does not accept value")
	}
	return op.run(w, types.Msg{Sender: sender, Value: body.Value, Now: now}, body.Args)
}
