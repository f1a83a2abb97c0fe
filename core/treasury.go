package core

import (
	"fmt"

	"github.com/ahmadzakiakmal/skullchain/core/types"
)

// Balance is the ledger's pooled balance, escrowed fees included.
func (c *Core) Balance() uint64 {
	return c.bank.BalanceOf(c.self)
}

// EscrowTotal is the part of Balance owed to future midwives.
func (c *Core) EscrowTotal() uint64 {
	return c.escrowTotal
}

// Fund deposits msg.Value into the ledger's pool.
func (c *Core) Fund(msg types.Msg) error {
	if msg.Value == 0 {
		return types.Violation("fund", "nothing to deposit")
	}
	if err := c.bank.Transfer(msg.Sender, c.self, msg.Value); err != nil {
		return err
	}
	c.events.Emit(EventDeposit, types.Attr("from", msg.Sender), types.Attr("amount", msg.Value))
	return nil
}

// WithdrawBalance sends the pool, minus outstanding auto-birth escrow, to
// the CFO.
func (c *Core) WithdrawBalance(msg types.Msg) error {
	const op = "withdrawBalance"
	if err := c.requireCFO(op, msg); err != nil {
		return err
	}
	var amount uint64
	if bal := c.Balance(); bal > c.escrowTotal {
		amount = bal - c.escrowTotal
	}
	if err := c.bank.Transfer(c.self, c.roles.CFO, amount); err != nil {
		return err
	}
	c.events.Emit(EventWithdrawal,
		types.Attr("from", c.self),
		types.Attr("to", c.roles.CFO),
		types.Attr("amount", amount),
	)
	return nil
}

// WithdrawAuctionBalances pulls the fees accrued by both auctions into the
// pool. COO only.
func (c *Core) WithdrawAuctionBalances(msg types.Msg) error {
	const op = "withdrawAuctionBalances"
	if err := c.requireCOO(op, msg); err != nil {
		return err
	}
	if c.sale == nil || c.siring == nil {
		return types.Violation(op, "auctions are not configured")
	}
	fwd := msg.Forward(c.self, 0)
	saleBalance := c.bank.BalanceOf(c.saleAddr)
	if err := c.sale.WithdrawBalance(fwd); err != nil {
		return err
	}
	if err := c.siring.WithdrawBalance(fwd); err != nil {
		if rerr := c.bank.Transfer(c.self, c.saleAddr, saleBalance); rerr != nil {
			return fmt.Errorf("%s: restore sale balance: %v: %w", op, rerr, err)
		}
		return err
	}
	return nil
}
