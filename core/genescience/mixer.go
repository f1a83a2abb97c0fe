// Package genescience provides the default gene-combination oracle: a pure,
// deterministic mixer that inherits each trait from one parent and
// occasionally ascends matching adjacent traits into a higher tier.
package genescience

import (
	"github.com/ahmadzakiakmal/skullchain/core/types"
	"github.com/zeebo/blake3"
)

const (
	// TraitCount traits of TraitBits bits each occupy the low 240 bits.
	TraitCount = 48
	TraitBits  = 5

	traitMask = 1<<TraitBits - 1
	// ascendTier is where mutated traits land; only traits below it mutate.
	ascendTier = 16
	// mutationOdds out of 256.
	mutationOdds = 64
)

// mixKey separates mixer seeds from every other BLAKE3 use.
var mixKey = [32]byte{
	's', 'k', 'u', 'l', 'l', '.', 'g', 'e', 'n', 'e', 's', 'c', 'i', 'e', 'n', 'c',
	'e', '.', 'm', 'i', 'x', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Mixer implements the gene-science capability.
type Mixer struct{}

func New() *Mixer {
	return &Mixer{}
}

// IsGeneScience is the capability probe checked before the ledger accepts
// an oracle.
func (m *Mixer) IsGeneScience() bool { return true }

// Combine derives a child's genes from its parents. The result depends only
// on the inputs and their order.
func (m *Mixer) Combine(matron, sire types.Genes) (types.Genes, error) {
	seed, err := seedFor(matron, sire)
	if err != nil {
		return types.Genes{}, err
	}

	var child types.Genes
	for i := 0; i < TraitCount; i++ {
		a, b := Trait(matron, i), Trait(sire, i)
		pick := a
		if seed[i/8]>>(i%8)&1 == 1 {
			pick = b
		}
		lo, hi := min(a, b), max(a, b)
		if lo%2 == 0 && hi == lo+1 && lo < ascendTier && seed[8+i] < mutationOdds {
			pick = lo/2 + ascendTier
		}
		setTrait(&child, i, pick)
	}
	return child, nil
}

// seedFor expands the parents into 64 bytes of keyed BLAKE3 output: the
// first bytes choose the parent per trait, the rest roll mutations.
func seedFor(matron, sire types.Genes) ([64]byte, error) {
	var seed [64]byte
	hasher, err := blake3.NewKeyed(mixKey[:])
	if err != nil {
		return seed, err
	}
	for block := byte(0); block < 2; block++ {
		hasher.Reset()
		hasher.Write(matron[:])
		hasher.Write(sire[:])
		hasher.Write([]byte{block})
		copy(seed[int(block)*32:], hasher.Sum(nil))
	}
	return seed, nil
}

// Trait returns the i-th 5-bit trait of g, counting from the least
// significant end.
func Trait(g types.Genes, i int) uint8 {
	var v uint8
	for k := 0; k < TraitBits; k++ {
		p := i*TraitBits + k
		if g[31-p/8]>>(p%8)&1 == 1 {
			v |= 1 << k
		}
	}
	return v
}

func setTrait(g *types.Genes, i int, v uint8) {
	v &= traitMask
	for k := 0; k < TraitBits; k++ {
		p := i*TraitBits + k
		bit := byte(1) << (p % 8)
		if v>>k&1 == 1 {
			g[31-p/8] |= bit
		} else {
			g[31-p/8] &^= bit
		}
	}
}
