package types

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Genes is the opaque 256-bit genetic payload of a token, big-endian.
type Genes [32]byte

// GenesFromUint64 places v in the low 64 bits.
func GenesFromUint64(v uint64) Genes {
	var g Genes
	binary.BigEndian.PutUint64(g[24:], v)
	return g
}

// Uint64 returns the low 64 bits.
func (g Genes) Uint64() uint64 {
	return binary.BigEndian.Uint64(g[24:])
}

func (g Genes) String() string {
	return "0x" + hex.EncodeToString(g[:])
}

func (g Genes) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

// UnmarshalText accepts 0x-prefixed hex of up to 64 digits or a decimal
// number that fits in 64 bits.
func (g *Genes) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		digits := s[2:]
		if len(digits) > 64 {
			return fmt.Errorf("genes: %d hex digits exceed 256 bits", len(digits))
		}
		if len(digits)%2 == 1 {
			digits = "0" + digits
		}
		raw, err := hex.DecodeString(digits)
		if err != nil {
			return fmt.Errorf("genes: %w", err)
		}
		var out Genes
		copy(out[32-len(raw):], raw)
		*g = out
		return nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("genes: %w", err)
	}
	*g = GenesFromUint64(v)
	return nil
}
