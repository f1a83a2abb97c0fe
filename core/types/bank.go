package types

import (
	"maps"
	"math"
)

// Bank holds the native balances of accounts and components. Every payment
// in the system is a Transfer between two entries.
type Bank struct {
	balances map[Address]uint64
}

func NewBank() *Bank {
	return &Bank{balances: make(map[Address]uint64)}
}

func (b *Bank) BalanceOf(a Address) uint64 {
	return b.balances[a]
}

// Mint credits amount out of thin air. Only genesis allocation uses it.
func (b *Bank) Mint(to Address, amount uint64) error {
	if to.IsZero() {
		return Violation("mint", "zero address")
	}
	bal := b.balances[to]
	if bal > math.MaxUint64-amount {
		return Violation("mint", "balance overflow for %s", to)
	}
	if amount > 0 {
		b.balances[to] = bal + amount
	}
	return nil
}

// Transfer moves amount from one entry to another. A zero amount is a no-op.
func (b *Bank) Transfer(from, to Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if to.IsZero() {
		return Violation("transfer", "payment to zero address")
	}
	if b.balances[from] < amount {
		return Underpaid("transfer", "%s holds %d, needs %d", from, b.balances[from], amount)
	}
	if from == to {
		return nil
	}
	if b.balances[to] > math.MaxUint64-amount {
		return Violation("transfer", "balance overflow for %s", to)
	}
	b.balances[from] -= amount
	if b.balances[from] == 0 {
		delete(b.balances, from)
	}
	b.balances[to] += amount
	return nil
}

// Snapshot returns a copy of every non-zero balance.
func (b *Bank) Snapshot() map[Address]uint64 {
	return maps.Clone(b.balances)
}

// Restore replaces all balances with the given snapshot.
func (b *Bank) Restore(balances map[Address]uint64) {
	b.balances = make(map[Address]uint64, len(balances))
	for a, v := range balances {
		if v > 0 {
			b.balances[a] = v
		}
	}
}
