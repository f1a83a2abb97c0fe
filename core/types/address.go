package types

import (
	"strings"

	"github.com/cometbft/cometbft/crypto"
)

// Address identifies an account or a deployed component. Account addresses
// are the upper-case hex form of an ed25519 public key address.
type Address string

// ZeroAddress is the empty address. "0x0" and all-zero hex strings are
// treated as zero as well.
const ZeroAddress Address = ""

// IsZero reports whether a is the zero address in any of its spellings.
func (a Address) IsZero() bool {
	s := strings.TrimPrefix(strings.ToLower(string(a)), "0x")
	return strings.Trim(s, "0") == ""
}

func (a Address) String() string {
	return string(a)
}

// UnmarshalText normalises hex addresses so that "0xabc" and "ABC" compare equal.
func (a *Address) UnmarshalText(text []byte) error {
	*a = NormalizeAddress(string(text))
	return nil
}

// NormalizeAddress strips a 0x prefix and upper-cases the hex digits.
func NormalizeAddress(s string) Address {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
	}
	return Address(strings.ToUpper(s))
}

// AddressFromPubKey derives the account address of a public key.
func AddressFromPubKey(pub crypto.PubKey) Address {
	return Address(pub.Address().String())
}

// ContractAddress derives the address of a component deployed under name.
func ContractAddress(name string) Address {
	return Address(crypto.AddressHash([]byte("skull.contract." + name)).String())
}

// Msg carries the context of a single call: who is calling, what value is
// attached and the block time the call executes at.
type Msg struct {
	Sender Address
	Value  uint64
	Now    int64
}

// Forward returns the message a component sends when it calls another
// component on its own behalf.
func (m Msg) Forward(sender Address, value uint64) Msg {
	return Msg{Sender: sender, Value: value, Now: m.Now}
}
