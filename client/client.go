// Package client talks to a skullchain node over its HTTP API. It signs
// transactions with an ed25519 key and keeps track of the account nonce.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ahmadzakiakmal/skullchain/core"
	"github.com/ahmadzakiakmal/skullchain/core/types"
	"github.com/ahmadzakiakmal/skullchain/node/app"
	"github.com/ahmadzakiakmal/skullchain/node/srvreg"
	"github.com/cometbft/cometbft/crypto"
)

// ErrTxFailed is wrapped by errors of transactions that were committed but
// whose operation failed.
var ErrTxFailed = errors.New("transaction failed")

// APIError is a non-2xx answer from the node.
type APIError struct {
	Status  int
	Code    uint32
	Message string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("node returned %d (code %d): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("node returned %d: %s", e.Status, e.Message)
}

// Client signs and submits transactions for one account.
type Client struct {
	endpoint   string
	httpClient *http.Client
	key        crypto.PrivKey
	address    types.Address

	mu         sync.Mutex
	nonce      uint64
	nonceKnown bool
}

// New creates a client for endpoint, e.g. "http://localhost:5000".
func New(endpoint string, key crypto.PrivKey) *Client {
	return &Client{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		key:     key,
		address: types.AddressFromPubKey(key.PubKey()),
	}
}

// Address is the account the client signs for.
func (c *Client) Address() types.Address {
	return c.address
}

// Submit signs op with the next nonce and waits for it to be committed.
// A committed transaction whose operation failed returns the response
// together with an error wrapping ErrTxFailed.
func (c *Client) Submit(ctx context.Context, op string, value uint64, args any) (*srvreg.TxResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.nonceKnown {
		acct, err := c.Account(ctx, c.address)
		if err != nil {
			return nil, fmt.Errorf("fetch nonce: %w", err)
		}
		c.nonce, c.nonceKnown = acct.Nonce, true
	}

	tx, err := app.NewTx(c.key, op, c.nonce, value, args)
	if err != nil {
		return nil, err
	}
	raw, err := tx.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode tx: %w", err)
	}

	var resp srvreg.TxResponse
	status, body, err := c.do(ctx, http.MethodPost, "/api/tx", raw)
	if err != nil {
		c.nonceKnown = false
		return nil, err
	}
	if jsonErr := json.Unmarshal(body, &resp); jsonErr != nil || resp.TxHash == "" {
		// Not committed; the nonce may or may not have been consumed.
		c.nonceKnown = false
		return nil, apiError(status, body)
	}

	c.nonce++
	if resp.Code != app.CodeOK {
		return &resp, fmt.Errorf("%w: %s (code %d): %s", ErrTxFailed, op, resp.Code, resp.Log)
	}
	return &resp, nil
}

// Typed helpers for the marketplace operations

func (c *Client) Transfer(ctx context.Context, to types.Address, tokenID uint64) error {
	_, err := c.Submit(ctx, "transfer", 0, map[string]any{"to": to, "token_id": tokenID})
	return err
}

func (c *Client) Approve(ctx context.Context, to types.Address, tokenID uint64) error {
	_, err := c.Submit(ctx, "approve", 0, map[string]any{"to": to, "token_id": tokenID})
	return err
}

func (c *Client) TransferFrom(ctx context.Context, from, to types.Address, tokenID uint64) error {
	_, err := c.Submit(ctx, "transferFrom", 0, map[string]any{"from": from, "to": to, "token_id": tokenID})
	return err
}

func (c *Client) ApproveSiring(ctx context.Context, addr types.Address, sireID uint64) error {
	_, err := c.Submit(ctx, "approveSiring", 0, map[string]any{"address": addr, "sire_id": sireID})
	return err
}

// BreedWith pairs matronID with sireID. value may carry an auto-birth fee.
func (c *Client) BreedWith(ctx context.Context, matronID, sireID, value uint64) error {
	_, err := c.Submit(ctx, "breedWith", value, map[string]any{"matron_id": matronID, "sire_id": sireID})
	return err
}

func (c *Client) BreedWithAuto(ctx context.Context, matronID, sireID, value uint64) error {
	_, err := c.Submit(ctx, "breedWithAuto", value, map[string]any{"matron_id": matronID, "sire_id": sireID})
	return err
}

// GiveBirth delivers the child of matronID and returns its id.
func (c *Client) GiveBirth(ctx context.Context, matronID uint64) (uint64, error) {
	return c.submitForToken(ctx, "giveBirth", 0, map[string]any{"matron_id": matronID})
}

// Mint creates a token; COO only.
func (c *Client) Mint(ctx context.Context, owner types.Address, genes types.Genes) (uint64, error) {
	return c.submitForToken(ctx, "mint", 0, map[string]any{"owner": owner, "genes": genes})
}

// MintKittens creates count gen0 tokens owned by the caller; COO only.
func (c *Client) MintKittens(ctx context.Context, genes types.Genes, count uint64) ([]uint64, error) {
	resp, err := c.Submit(ctx, "mintKittens", 0, map[string]any{"genes": genes, "count": count})
	if err != nil {
		return nil, err
	}
	var out struct {
		TokenIDs []uint64 `json:"token_ids"`
	}
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return nil, fmt.Errorf("decode mintKittens result: %w", err)
	}
	return out.TokenIDs, nil
}

func (c *Client) CreateSaleAuction(ctx context.Context, tokenID, startPrice, endPrice uint64, duration int64) error {
	_, err := c.Submit(ctx, "createSaleAuction", 0, listing(tokenID, startPrice, endPrice, duration))
	return err
}

func (c *Client) CreateSiringAuction(ctx context.Context, tokenID, startPrice, endPrice uint64, duration int64) error {
	_, err := c.Submit(ctx, "createSiringAuction", 0, listing(tokenID, startPrice, endPrice, duration))
	return err
}

// Bid buys a token on the sale auction; excess over the price is refunded.
func (c *Client) Bid(ctx context.Context, tokenID, value uint64) error {
	_, err := c.Submit(ctx, "bid", value, map[string]any{"token_id": tokenID})
	return err
}

func (c *Client) BidOnSiringAuction(ctx context.Context, sireID, matronID, value uint64) error {
	_, err := c.Submit(ctx, "bidOnSiringAuction", value, map[string]any{"matron_id": matronID, "sire_id": sireID})
	return err
}

// CreateGen0Auction mints a gen0 token and lists it; COO only.
func (c *Client) CreateGen0Auction(ctx context.Context, genes types.Genes) (uint64, error) {
	return c.submitForToken(ctx, "createGen0Auction", 0, map[string]any{"genes": genes})
}

// CancelAuction takes an unsold token back. kind is "sale" or "siring".
func (c *Client) CancelAuction(ctx context.Context, kind string, tokenID uint64) error {
	_, err := c.Submit(ctx, "cancelAuction", 0, map[string]any{"auction": kind, "token_id": tokenID})
	return err
}

func (c *Client) Fund(ctx context.Context, value uint64) error {
	_, err := c.Submit(ctx, "fund", value, nil)
	return err
}

func (c *Client) Send(ctx context.Context, to types.Address, amount uint64) error {
	_, err := c.Submit(ctx, "send", 0, map[string]any{"to": to, "amount": amount})
	return err
}

func (c *Client) WithdrawBalance(ctx context.Context) error {
	_, err := c.Submit(ctx, "withdrawBalance", 0, nil)
	return err
}

func listing(tokenID, startPrice, endPrice uint64, duration int64) map[string]any {
	return map[string]any{
		"token_id":    tokenID,
		"start_price": startPrice,
		"end_price":   endPrice,
		"duration":    duration,
	}
}

func (c *Client) submitForToken(ctx context.Context, op string, value uint64, args any) (uint64, error) {
	resp, err := c.Submit(ctx, op, value, args)
	if err != nil {
		return 0, err
	}
	var out struct {
		TokenID uint64 `json:"token_id"`
	}
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return 0, fmt.Errorf("decode %s result: %w", op, err)
	}
	return out.TokenID, nil
}

// Queries

func (c *Client) Account(ctx context.Context, addr types.Address) (*app.Account, error) {
	var out app.Account
	return &out, c.get(ctx, "/api/accounts/"+addr.String(), &out)
}

func (c *Client) Token(ctx context.Context, id uint64) (*core.TokenView, error) {
	var out core.TokenView
	return &out, c.get(ctx, fmt.Sprintf("/api/tokens/%d", id), &out)
}

func (c *Client) TokensOf(ctx context.Context, owner types.Address) (*app.OwnerTokens, error) {
	var out app.OwnerTokens
	return &out, c.get(ctx, "/api/owners/"+owner.String()+"/tokens", &out)
}

func (c *Client) Auction(ctx context.Context, kind string, tokenID uint64) (*app.AuctionView, error) {
	var out app.AuctionView
	return &out, c.get(ctx, fmt.Sprintf("/api/auctions/%s/%d", kind, tokenID), &out)
}

func (c *Client) Breeding(ctx context.Context, matronID, sireID uint64) (*app.BreedingInfo, error) {
	var out app.BreedingInfo
	return &out, c.get(ctx, fmt.Sprintf("/api/breeding/%d/%d", matronID, sireID), &out)
}

func (c *Client) Gen0(ctx context.Context) (*app.Gen0Info, error) {
	var out app.Gen0Info
	return &out, c.get(ctx, "/api/gen0", &out)
}

func (c *Client) Roles(ctx context.Context) (*app.RolesInfo, error) {
	var out app.RolesInfo
	return &out, c.get(ctx, "/api/roles", &out)
}

func (c *Client) Supply(ctx context.Context) (*app.Supply, error) {
	var out app.Supply
	return &out, c.get(ctx, "/api/supply", &out)
}

// HealthCheck checks if the node is reachable
func (c *Client) HealthCheck(ctx context.Context) error {
	var status map[string]any
	return c.get(ctx, "/api/status", &status)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	status, body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return apiError(status, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response of %s: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func apiError(status int, body []byte) *APIError {
	var e srvreg.ErrorResponse
	if err := json.Unmarshal(body, &e); err != nil || e.Error == "" {
		return &APIError{Status: status, Message: strings.TrimSpace(string(body))}
	}
	return &APIError{Status: status, Code: e.Code, Message: e.Error}
}
