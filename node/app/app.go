package app

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ahmadzakiakmal/skullchain/core/auction"
	"github.com/ahmadzakiakmal/skullchain/core/types"
	"github.com/ahmadzakiakmal/skullchain/node/metrics"
	"github.com/ahmadzakiakmal/skullchain/node/repository"
	abcitypes "github.com/cometbft/cometbft/abci/types"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	cmttypes "github.com/cometbft/cometbft/types"
	"github.com/dgraph-io/badger/v4"
)

var (
	keyWorld     = []byte("world")
	keyHeight    = []byte("last_block_height")
	keyAppHash   = []byte("last_block_app_hash")
	keyBlockTime = []byte("last_block_time")

	errUnknownOp   = errors.New("unknown operation")
	errUnknownPath = errors.New("unknown query path")
)

// Mirror receives the committed state of every block.
type Mirror interface {
	SyncBlock(ctx context.Context, block *repository.BlockSync) error
}

// Application implements the ABCI interface. CometBFT feeds it one block at
// a time, which makes it the single sequential executor of every operation.
type Application struct {
	badgerDB     *badger.DB
	onGoingBlock *badger.Txn
	mu           sync.Mutex
	config       *AppConfig
	logger       cmtlog.Logger
	mirror       Mirror
	nodeID       string

	world      *World
	lastHeight int64
	lastTime   int64
	appHash    []byte
	pending    *repository.BlockSync
}

// AppConfig contains configuration for the application
type AppConfig struct {
	NodeID    string
	LogAllTxs bool
	// MirrorTimeout bounds the relational sync after each commit.
	MirrorTimeout time.Duration
}

// NewABCIApplication opens the application on top of badgerDB, restoring
// the last committed world if there is one. mirror may be nil.
func NewABCIApplication(badgerDB *badger.DB, config *AppConfig, logger cmtlog.Logger, mirror Mirror) (*Application, error) {
	app := &Application{
		badgerDB: badgerDB,
		config:   config,
		logger:   logger,
		mirror:   mirror,
		nodeID:   config.NodeID,
	}
	if err := app.load(); err != nil {
		return nil, err
	}
	return app, nil
}

func (app *Application) SetNodeID(id string) {
	app.nodeID = id
}

// load reads the last committed world and block info from badger.
func (app *Application) load() error {
	return app.badgerDB.View(func(txn *badger.Txn) error {
		raw, err := getValue(txn, keyWorld)
		if err != nil || raw == nil {
			return err
		}
		if app.world, err = LoadWorld(raw); err != nil {
			return err
		}
		if v, err := getValue(txn, keyHeight); err != nil {
			return err
		} else if len(v) == 8 {
			app.lastHeight = int64(binary.BigEndian.Uint64(v))
		}
		if v, err := getValue(txn, keyBlockTime); err != nil {
			return err
		} else if len(v) == 8 {
			app.lastTime = int64(binary.BigEndian.Uint64(v))
		}
		app.appHash, err = getValue(txn, keyAppHash)
		return err
	})
}

func getValue(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

// World exposes the live state to tests and the node bootstrap.
func (app *Application) World() *World {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.world
}

// Info implements the ABCI Info method
func (app *Application) Info(_ context.Context, info *abcitypes.InfoRequest) (*abcitypes.InfoResponse, error) {
	app.mu.Lock()
	defer app.mu.Unlock()
	return &abcitypes.InfoResponse{
		Data:             "skullchain",
		LastBlockHeight:  app.lastHeight,
		LastBlockAppHash: app.appHash,
	}, nil
}

// InitChain deploys the components described by the genesis app state.
func (app *Application) InitChain(_ context.Context, chain *abcitypes.InitChainRequest) (*abcitypes.InitChainResponse, error) {
	app.mu.Lock()
	defer app.mu.Unlock()

	if app.world != nil {
		return &abcitypes.InitChainResponse{AppHash: app.appHash}, nil
	}
	var genesis Genesis
	if err := json.Unmarshal(chain.AppStateBytes, &genesis); err != nil {
		return nil, fmt.Errorf("parse genesis app state: %w", err)
	}
	world, err := Deploy(genesis)
	if err != nil {
		return nil, err
	}
	encoded, err := world.Encode()
	if err != nil {
		return nil, err
	}
	hash := sha256.Sum256(encoded)
	err = app.badgerDB.Update(func(txn *badger.Txn) error {
		if err := txn.Set(keyWorld, encoded); err != nil {
			return err
		}
		return txn.Set(keyAppHash, hash[:])
	})
	if err != nil {
		return nil, fmt.Errorf("persist genesis world: %w", err)
	}
	app.world, app.appHash = world, hash[:]
	app.logger.Info("Deployed genesis world",
		"ceo", genesis.CEO,
		"core", CoreAddress,
		"sale_auction", SaleAddress,
		"siring_auction", SiringAddress,
		"gene_science", GeneScienceAddress,
	)
	return &abcitypes.InitChainResponse{AppHash: app.appHash}, nil
}

// CheckTx admits well-formed, correctly signed transactions whose nonce is
// not already used.
func (app *Application) CheckTx(_ context.Context, check *abcitypes.CheckTxRequest) (*abcitypes.CheckTxResponse, error) {
	tx, err := DecodeTx(check.Tx)
	if err != nil {
		return &abcitypes.CheckTxResponse{Code: CodeMalformed, Log: err.Error()}, nil
	}
	sender, err := tx.Verify()
	if err != nil {
		return &abcitypes.CheckTxResponse{Code: CodeBadSignature, Log: err.Error()}, nil
	}
	if _, ok := operations[tx.Body.Op]; !ok {
		return &abcitypes.CheckTxResponse{Code: CodeUnknownOp, Log: fmt.Sprintf("unknown operation %q", tx.Body.Op)}, nil
	}

	app.mu.Lock()
	defer app.mu.Unlock()
	if app.world != nil && tx.Body.Nonce < app.world.Nonces[sender] {
		return &abcitypes.CheckTxResponse{
			Code: CodeBadNonce,
			Log:  fmt.Sprintf("nonce %d already used, next is %d", tx.Body.Nonce, app.world.Nonces[sender]),
		}, nil
	}
	return &abcitypes.CheckTxResponse{Code: CodeOK}, nil
}

// PrepareProposal implements the ABCI PrepareProposal method
func (app *Application) PrepareProposal(_ context.Context, proposal *abcitypes.PrepareProposalRequest) (*abcitypes.PrepareProposalResponse, error) {
	return &abcitypes.PrepareProposalResponse{Txs: proposal.Txs}, nil
}

// ProcessProposal rejects blocks carrying transactions that do not decode.
func (app *Application) ProcessProposal(_ context.Context, proposal *abcitypes.ProcessProposalRequest) (*abcitypes.ProcessProposalResponse, error) {
	app.logger.Debug("Processing proposal", "height", proposal.Height, "txs", len(proposal.Txs))

	for i, txBytes := range proposal.Txs {
		if _, err := DecodeTx(txBytes); err != nil {
			app.logger.Error("Invalid transaction in proposal", "index", i, "err", err)
			return &abcitypes.ProcessProposalResponse{Status: abcitypes.PROCESS_PROPOSAL_STATUS_REJECT}, nil
		}
	}
	return &abcitypes.ProcessProposalResponse{Status: abcitypes.PROCESS_PROPOSAL_STATUS_ACCEPT}, nil
}

// FinalizeBlock applies the block's transactions in order at the block time.
func (app *Application) FinalizeBlock(_ context.Context, req *abcitypes.FinalizeBlockRequest) (*abcitypes.FinalizeBlockResponse, error) {
	app.mu.Lock()
	defer app.mu.Unlock()

	if app.world == nil {
		return nil, errors.New("finalize block before InitChain")
	}
	now := req.Time.Unix()
	txResults := make([]*abcitypes.ExecTxResult, len(req.Txs))
	records := make([]repository.TxRecord, len(req.Txs))
	for i, txBytes := range req.Txs {
		txResults[i], records[i] = app.deliverTx(txBytes, now)
		records[i].Height = req.Height
		records[i].Index = i
		records[i].Time = req.Time
	}

	encoded, err := app.world.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode world: %w", err)
	}
	hash := sha256.Sum256(encoded)

	app.onGoingBlock = app.badgerDB.NewTransaction(true)
	for _, kv := range []struct{ key, value []byte }{
		{keyWorld, encoded},
		{keyHeight, uint64Bytes(uint64(req.Height))},
		{keyBlockTime, uint64Bytes(uint64(now))},
		{keyAppHash, hash[:]},
	} {
		if err := app.onGoingBlock.Set(kv.key, kv.value); err != nil {
			app.onGoingBlock.Discard()
			return nil, fmt.Errorf("stage block %d: %w", req.Height, err)
		}
	}

	app.lastHeight, app.lastTime, app.appHash = req.Height, now, hash[:]
	app.pending = app.blockSync(req.Height, req.Time, records)
	metrics.ObserveBlock(req.Height, len(req.Txs), app.world.Core.TotalSupply(), app.world.Core.PregnantCount())

	return &abcitypes.FinalizeBlockResponse{
		TxResults: txResults,
		AppHash:   app.appHash,
	}, nil
}

// deliverTx executes one transaction. The sender's nonce advances whenever
// the signature and nonce check out, even if the operation then fails.
func (app *Application) deliverTx(txBytes []byte, now int64) (*abcitypes.ExecTxResult, repository.TxRecord) {
	rec := repository.TxRecord{Hash: fmt.Sprintf("%X", cmttypes.Tx(txBytes).Hash())}

	tx, err := DecodeTx(txBytes)
	if err != nil {
		return app.reject(&rec, CodeMalformed, err), rec
	}
	rec.Op, rec.Value = tx.Body.Op, tx.Body.Value
	sender, err := tx.Verify()
	if err != nil {
		return app.reject(&rec, CodeBadSignature, err), rec
	}
	rec.Sender = sender.String()
	if next := app.world.Nonces[sender]; tx.Body.Nonce != next {
		return app.reject(&rec, CodeBadNonce, fmt.Errorf("nonce %d, expected %d", tx.Body.Nonce, next)), rec
	}
	app.world.Nonces[sender]++

	data, err := app.world.execute(sender, tx.Body, now)
	events := app.world.Events.Drain()
	if err != nil {
		return app.reject(&rec, codeFor(err), err), rec
	}

	var payload []byte
	if data != nil {
		if payload, err = json.Marshal(data); err != nil {
			app.logger.Error("Encoding tx result", "op", tx.Body.Op, "err", err)
		}
	}
	rec.Code, rec.Log = CodeOK, "ok"
	metrics.ObserveTx(tx.Body.Op, CodeOK)
	metrics.ObserveEvents(events)
	if app.config.LogAllTxs {
		app.logger.Info("Executed tx", "op", tx.Body.Op, "sender", sender, "value", tx.Body.Value, "events", len(events))
	}
	return &abcitypes.ExecTxResult{
		Code:   CodeOK,
		Data:   payload,
		Log:    "ok",
		Events: abciEvents(tx.Body.Op, sender, events),
	}, rec
}

func (app *Application) reject(rec *repository.TxRecord, code uint32, err error) *abcitypes.ExecTxResult {
	rec.Code, rec.Log = code, err.Error()
	metrics.ObserveTx(rec.Op, code)
	if app.config.LogAllTxs {
		app.logger.Info("Rejected tx", "op", rec.Op, "sender", rec.Sender, "code", code, "err", err)
	}
	return &abcitypes.ExecTxResult{Code: code, Log: err.Error(), Codespace: "skull"}
}

// codeFor maps an execution error to its result code.
func codeFor(err error) uint32 {
	var ae argsError
	switch {
	case errors.Is(err, errUnknownOp):
		return CodeUnknownOp
	case errors.As(err, &ae):
		return CodeMalformed
	}
	if kind := types.KindOf(err); kind != 0 {
		return uint32(kind)
	}
	return uint32(types.KindInvariant)
}

func abciEvents(op string, sender types.Address, events []types.Event) []abcitypes.Event {
	out := make([]abcitypes.Event, 0, len(events)+1)
	out = append(out, abcitypes.Event{
		Type: "tx",
		Attributes: []abcitypes.EventAttribute{
			{Key: "op", Value: op, Index: true},
			{Key: "sender", Value: sender.String(), Index: true},
		},
	})
	for _, ev := range events {
		attrs := make([]abcitypes.EventAttribute, len(ev.Attributes))
		for i, a := range ev.Attributes {
			attrs[i] = abcitypes.EventAttribute{Key: a.Key, Value: a.Value, Index: true}
		}
		out = append(out, abcitypes.Event{Type: ev.Type, Attributes: attrs})
	}
	return out
}

// blockSync captures what the relational mirror needs from this block.
func (app *Application) blockSync(height int64, blockTime time.Time, txs []repository.TxRecord) *repository.BlockSync {
	if app.mirror == nil {
		return nil
	}
	w, now := app.world, blockTime.Unix()
	bs := &repository.BlockSync{
		Height:   height,
		Time:     blockTime,
		Txs:      txs,
		Roles:    w.Core.Roles(),
		Balances: w.Bank.Snapshot(),
	}
	for id := uint64(1); id <= w.Core.TotalSupply(); id++ {
		if view, err := w.Core.GetToken(id, now); err == nil {
			bs.Tokens = append(bs.Tokens, view)
		}
	}
	for name, listings := range map[string]map[uint64]auction.Listing{
		"sale":   w.Sale.Export().Clock.Listings,
		"siring": w.Siring.Export().Listings,
	} {
		for id, l := range listings {
			bs.Listings = append(bs.Listings, repository.ListingRecord{Auction: name, TokenID: id, Listing: l})
		}
	}
	return bs
}

// Commit persists the staged block and hands it to the mirror.
func (app *Application) Commit(_ context.Context, commit *abcitypes.CommitRequest) (*abcitypes.CommitResponse, error) {
	app.mu.Lock()
	block := app.pending
	app.pending = nil
	txn := app.onGoingBlock
	app.onGoingBlock = nil
	app.mu.Unlock()

	if txn != nil {
		if err := txn.Commit(); err != nil {
			app.logger.Error("Committing block", "err", err)
			return nil, fmt.Errorf("commit block: %w", err)
		}
	}
	if block != nil {
		timeout := app.config.MirrorTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := app.mirror.SyncBlock(ctx, block); err != nil {
			app.logger.Error("Syncing relational mirror", "height", block.Height, "err", err)
		}
	}
	return &abcitypes.CommitResponse{}, nil
}

// Query answers read paths such as /tokens/1 or /owners/{addr}/tokens. The
// path may come in req.Path or, failing that, in req.Data.
func (app *Application) Query(_ context.Context, req *abcitypes.QueryRequest) (*abcitypes.QueryResponse, error) {
	path := req.Path
	if path == "" {
		path = string(req.Data)
	}

	app.mu.Lock()
	defer app.mu.Unlock()

	resp := &abcitypes.QueryResponse{Key: []byte(path), Height: app.lastHeight}
	if app.world == nil {
		resp.Code, resp.Log = uint32(types.KindState), "chain not initialised"
		return resp, nil
	}
	value, err := app.world.query(path, app.lastTime)
	switch {
	case errors.Is(err, errUnknownPath):
		resp.Code, resp.Log = CodeUnknownOp, err.Error()
		return resp, nil
	case err != nil:
		resp.Code, resp.Log = codeFor(err), err.Error()
		return resp, nil
	}
	if resp.Value, err = json.Marshal(value); err != nil {
		resp.Code, resp.Log = uint32(types.KindInvariant), err.Error()
		return resp, nil
	}
	resp.Log = "exists"
	return resp, nil
}

// Placeholder implementations for other ABCI methods
func (app *Application) ListSnapshots(_ context.Context, snapshots *abcitypes.ListSnapshotsRequest) (*abcitypes.ListSnapshotsResponse, error) {
	return &abcitypes.ListSnapshotsResponse{}, nil
}

func (app *Application) OfferSnapshot(_ context.Context, snapshot *abcitypes.OfferSnapshotRequest) (*abcitypes.OfferSnapshotResponse, error) {
	return &abcitypes.OfferSnapshotResponse{}, nil
}

func (app *Application) LoadSnapshotChunk(_ context.Context, chunk *abcitypes.LoadSnapshotChunkRequest) (*abcitypes.LoadSnapshotChunkResponse, error) {
	return &abcitypes.LoadSnapshotChunkResponse{}, nil
}

func (app *Application) ApplySnapshotChunk(_ context.Context, chunk *abcitypes.ApplySnapshotChunkRequest) (*abcitypes.ApplySnapshotChunkResponse, error) {
	return &abcitypes.ApplySnapshotChunkResponse{
		Result: abcitypes.APPLY_SNAPSHOT_CHUNK_RESULT_ACCEPT,
	}, nil
}

func (app *Application) ExtendVote(_ context.Context, extend *abcitypes.ExtendVoteRequest) (*abcitypes.ExtendVoteResponse, error) {
	return &abcitypes.ExtendVoteResponse{}, nil
}

func (app *Application) VerifyVoteExtension(_ context.Context, verify *abcitypes.VerifyVoteExtensionRequest) (*abcitypes.VerifyVoteExtensionResponse, error) {
	return &abcitypes.VerifyVoteExtensionResponse{}, nil
}

func uint64Bytes(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}
