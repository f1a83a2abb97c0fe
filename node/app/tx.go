package app

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ahmadzakiakmal/skullchain/core/types"
	"github.com/cometbft/cometbft/crypto"
	"github.com/cometbft/cometbft/crypto/ed25519"
)

// Result codes for failures detected before an operation runs. Operation
// failures use the core error kind (1..4) as code.
const (
	CodeOK           uint32 = 0
	CodeMalformed    uint32 = 10
	CodeBadSignature uint32 = 11
	CodeBadNonce     uint32 = 12
	CodeUnknownOp    uint32 = 13
)

var (
	ErrMalformedTx  = errors.New("malformed transaction")
	ErrBadSignature = errors.New("signature does not verify")
)

// Body is the signed part of a transaction.
type Body struct {
	Op    string          `json:"op"`
	Nonce uint64          `json:"nonce"`
	Value uint64          `json:"value"`
	Args  json.RawMessage `json:"args,omitempty"`
}

// Tx is the wire envelope submitted to the chain.
type Tx struct {
	PubKey    []byte `json:"pub_key"`
	Signature []byte `json:"signature"`
	Body      Body   `json:"body"`
}

// SignBytes is the deterministic CBOR encoding of the body.
func SignBytes(b Body) ([]byte, error) {
	return types.Marshal(b)
}

// NewTx signs body with key. args is encoded to JSON when not nil.
func NewTx(key crypto.PrivKey, op string, nonce, value uint64, args any) (Tx, error) {
	body := Body{Op: op, Nonce: nonce, Value: value}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return Tx{}, fmt.Errorf("encode args: %w", err)
		}
		body.Args = raw
	}
	signBytes, err := SignBytes(body)
	if err != nil {
		return Tx{}, err
	}
	sig, err := key.Sign(signBytes)
	if err != nil {
		return Tx{}, fmt.Errorf("sign: %w", err)
	}
	return Tx{PubKey: key.PubKey().Bytes(), Signature: sig, Body: body}, nil
}

func (tx Tx) Encode() ([]byte, error) {
	return json.Marshal(tx)
}

// DecodeTx parses the wire form of a transaction.
func DecodeTx(raw []byte) (Tx, error) {
	var tx Tx
	if err := json.Unmarshal(raw, &tx); err != nil {
		return Tx{}, fmt.Errorf("%w: %v", ErrMalformedTx, err)
	}
	if tx.Body.Op == "" {
		return Tx{}, fmt.Errorf("%w: missing op", ErrMalformedTx)
	}
	if len(tx.PubKey) != ed25519.PubKeySize {
		return Tx{}, fmt.Errorf("%w: public key must be %d bytes", ErrMalformedTx, ed25519.PubKeySize)
	}
	return tx, nil
}

// Verify checks the signature and returns the sender address.
func (tx Tx) Verify() (types.Address, error) {
	pub := ed25519.PubKey(tx.PubKey)
	signBytes, err := SignBytes(tx.Body)
	if err != nil {
		return types.ZeroAddress, err
	}
	if !pub.VerifySignature(signBytes, tx.Signature) {
		return types.ZeroAddress, ErrBadSignature
	}
	return types.AddressFromPubKey(pub), nil
}
