package app

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ahmadzakiakmal/skullchain/core"
	"github.com/ahmadzakiakmal/skullchain/core/types"
	"github.com/ahmadzakiakmal/skullchain/node/repository"
	abcitypes "github.com/cometbft/cometbft/abci/types"
	"github.com/cometbft/cometbft/crypto"
	"github.com/cometbft/cometbft/crypto/ed25519"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ether = 1000 * core.Finney

var (
	ceoKey   = ed25519.GenPrivKeyFromSecret([]byte("ceo"))
	cooKey   = ed25519.GenPrivKeyFromSecret([]byte("coo"))
	cfoKey   = ed25519.GenPrivKeyFromSecret([]byte("cfo"))
	aliceKey = ed25519.GenPrivKeyFromSecret([]byte("alice"))
	bobKey   = ed25519.GenPrivKeyFromSecret([]byte("bob"))

	ceo   = types.AddressFromPubKey(ceoKey.PubKey())
	coo   = types.AddressFromPubKey(cooKey.PubKey())
	cfo   = types.AddressFromPubKey(cfoKey.PubKey())
	alice = types.AddressFromPubKey(aliceKey.PubKey())
	bob   = types.AddressFromPubKey(bobKey.PubKey())

	genesisTime = time.Unix(1_700_000_000, 0)
)

type recordingMirror struct {
	mu     sync.Mutex
	blocks []*repository.BlockSync
}

func (m *recordingMirror) SyncBlock(_ context.Context, block *repository.BlockSync) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks = append(m.blocks, block)
	return nil
}

func testGenesis() Genesis {
	return Genesis{
		CEO:       ceo,
		COO:       coo,
		CFO:       cfo,
		Balances:  map[types.Address]uint64{alice: ether, bob: ether},
		SaleCut:   375,
		SiringCut: 375,
	}
}

func openDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newApp(t *testing.T, db *badger.DB, mirror Mirror) *Application {
	t.Helper()
	application, err := NewABCIApplication(db, &AppConfig{NodeID: "test"}, cmtlog.NewNopLogger(), mirror)
	require.NoError(t, err)
	return application
}

func initChain(t *testing.T, application *Application, g Genesis) []byte {
	t.Helper()
	state, err := json.Marshal(g)
	require.NoError(t, err)
	resp, err := application.InitChain(context.Background(), &abcitypes.InitChainRequest{
		ChainId:       "skull-test",
		Time:          genesisTime,
		AppStateBytes: state,
	})
	require.NoError(t, err)
	return resp.AppHash
}

func newChain(t *testing.T) *Application {
	t.Helper()
	application := newApp(t, openDB(t), nil)
	initChain(t, application, testGenesis())
	return application
}

func signed(t *testing.T, key crypto.PrivKey, op string, nonce, value uint64, args any) []byte {
	t.Helper()
	tx, err := NewTx(key, op, nonce, value, args)
	require.NoError(t, err)
	raw, err := tx.Encode()
	require.NoError(t, err)
	return raw
}

func block(t *testing.T, application *Application, height int64, at time.Time, txs ...[]byte) *abcitypes.FinalizeBlockResponse {
	t.Helper()
	resp, err := application.FinalizeBlock(context.Background(), &abcitypes.FinalizeBlockRequest{
		Height: height,
		Time:   at,
		Txs:    txs,
	})
	require.NoError(t, err)
	_, err = application.Commit(context.Background(), &abcitypes.CommitRequest{})
	require.NoError(t, err)
	return resp
}

func query(t *testing.T, application *Application, path string, out any) *abcitypes.QueryResponse {
	t.Helper()
	resp, err := application.Query(context.Background(), &abcitypes.QueryRequest{Path: path})
	require.NoError(t, err)
	if out != nil && resp.Code == CodeOK {
		require.NoError(t, json.Unmarshal(resp.Value, out))
	}
	return resp
}

func TestInitChainDeploysWorld(t *testing.T) {
	application := newChain(t)

	var roles RolesInfo
	resp := query(t, application, "/roles", &roles)
	require.Equal(t, CodeOK, resp.Code, resp.Log)
	assert.Equal(t, ceo, roles.CEO)
	assert.Equal(t, coo, roles.COO)
	assert.Equal(t, cfo, roles.CFO)
	assert.False(t, roles.Paused)
	assert.Equal(t, SaleAddress, roles.SaleAuction)
	assert.Equal(t, SiringAddress, roles.SiringAuction)
	assert.Equal(t, GeneScienceAddress, roles.GeneScience)
	assert.Equal(t, core.DefaultAutoBirthFee, roles.AutoBirthFee)

	var acct Account
	query(t, application, "/accounts/"+alice.String(), &acct)
	assert.Equal(t, ether, acct.Balance)
	assert.Zero(t, acct.Nonce)
}

func TestInitChainRejectsBadGenesis(t *testing.T) {
	application := newApp(t, openDB(t), nil)
	_, err := application.InitChain(context.Background(), &abcitypes.InitChainRequest{AppStateBytes: []byte("{")})
	assert.Error(t, err)

	_, err = application.InitChain(context.Background(), &abcitypes.InitChainRequest{AppStateBytes: []byte(`{"sale_cut":1}`)})
	assert.Error(t, err, "ceo is required")

	_, err = application.FinalizeBlock(context.Background(), &abcitypes.FinalizeBlockRequest{Height: 1, Time: genesisTime})
	assert.Error(t, err)
}

func TestSaleThroughBlocks(t *testing.T) {
	application := newChain(t)
	genes := types.GenesFromUint64(0xBEEF)

	resp := block(t, application, 1, genesisTime,
		signed(t, cooKey, "mint", 0, 0, map[string]any{"owner": alice, "genes": genes}),
	)
	require.Equal(t, CodeOK, resp.TxResults[0].Code, resp.TxResults[0].Log)
	assert.JSONEq(t, `{"token_id":1}`, string(resp.TxResults[0].Data))

	resp = block(t, application, 2, genesisTime.Add(time.Minute),
		signed(t, aliceKey, "createSaleAuction", 0, 0, map[string]any{
			"token_id": 1, "start_price": 100 * core.Finney, "end_price": 100 * core.Finney, "duration": 86400,
		}),
	)
	require.Equal(t, CodeOK, resp.TxResults[0].Code, resp.TxResults[0].Log)

	var view AuctionView
	require.Equal(t, CodeOK, query(t, application, "/auctions/sale/1", &view).Code)
	assert.Equal(t, alice, view.Seller)
	assert.Equal(t, 100*core.Finney, view.CurrentPrice)

	resp = block(t, application, 3, genesisTime.Add(2*time.Minute),
		signed(t, bobKey, "bid", 0, 150*core.Finney, map[string]any{"token_id": 1}),
	)
	require.Equal(t, CodeOK, resp.TxResults[0].Code, resp.TxResults[0].Log)

	var token core.TokenView
	require.Equal(t, CodeOK, query(t, application, "/tokens/1", &token).Code)
	assert.Equal(t, bob, token.Owner)
	assert.Equal(t, genes, token.Genes)

	fee := 100 * core.Finney / 10000 * 375
	var acct Account
	query(t, application, "/accounts/"+alice.String(), &acct)
	assert.Equal(t, ether+100*core.Finney-fee, acct.Balance)
	query(t, application, "/accounts/"+bob.String(), &acct)
	assert.Equal(t, ether-100*core.Finney, acct.Balance)
	assert.Equal(t, uint64(1), acct.Nonce)

	assert.Equal(t, CodeUnknownOp, query(t, application, "/auctions/sale/nope/extra", nil).Code)
	assert.Equal(t, uint32(types.KindState), query(t, application, "/auctions/sale/1", nil).Code)
}

func TestTxEventsAreIndexed(t *testing.T) {
	application := newChain(t)
	resp := block(t, application, 1, genesisTime,
		signed(t, cooKey, "mint", 0, 0, map[string]any{"owner": alice, "genes": "0x01"}),
	)
	result := resp.TxResults[0]
	require.Equal(t, CodeOK, result.Code, result.Log)

	var typesSeen []string
	for _, ev := range result.Events {
		typesSeen = append(typesSeen, ev.Type)
		for _, attr := range ev.Attributes {
			assert.True(t, attr.Index)
		}
	}
	assert.Equal(t, []string{"tx", core.EventBirth, core.EventTransfer}, typesSeen)
}

func TestNonceHandling(t *testing.T) {
	application := newChain(t)
	fund := signed(t, aliceKey, "fund", 0, core.Finney, nil)

	check, err := application.CheckTx(context.Background(), &abcitypes.CheckTxRequest{Tx: fund})
	require.NoError(t, err)
	assert.Equal(t, CodeOK, check.Code)

	resp := block(t, application, 1, genesisTime, fund, fund)
	assert.Equal(t, CodeOK, resp.TxResults[0].Code)
	assert.Equal(t, CodeBadNonce, resp.TxResults[1].Code)

	check, err = application.CheckTx(context.Background(), &abcitypes.CheckTxRequest{Tx: fund})
	require.NoError(t, err)
	assert.Equal(t, CodeBadNonce, check.Code)

	// A nonce from the future passes the mempool but not execution.
	future := signed(t, aliceKey, "fund", 5, core.Finney, nil)
	check, err = application.CheckTx(context.Background(), &abcitypes.CheckTxRequest{Tx: future})
	require.NoError(t, err)
	assert.Equal(t, CodeOK, check.Code)
	resp = block(t, application, 2, genesisTime, future)
	assert.Equal(t, CodeBadNonce, resp.TxResults[0].Code)
}

func TestRejectedTransactions(t *testing.T) {
	application := newChain(t)

	tampered, err := NewTx(aliceKey, "fund", 0, core.Finney, nil)
	require.NoError(t, err)
	tampered.Body.Value = 2 * core.Finney
	tamperedRaw, err := tampered.Encode()
	require.NoError(t, err)

	ctx := context.Background()
	for raw, want := range map[string]uint32{
		"not json":          CodeMalformed,
		string(tamperedRaw): CodeBadSignature,
		string(signed(t, aliceKey, "selfDestruct", 0, 0, nil)): CodeUnknownOp,
	} {
		check, err := application.CheckTx(ctx, &abcitypes.CheckTxRequest{Tx: []byte(raw)})
		require.NoError(t, err)
		assert.Equal(t, want, check.Code)
	}

	proposal, err := application.ProcessProposal(ctx, &abcitypes.ProcessProposalRequest{Txs: [][]byte{[]byte("not json")}})
	require.NoError(t, err)
	assert.Equal(t, abcitypes.PROCESS_PROPOSAL_STATUS_REJECT, proposal.Status)

	resp := block(t, application, 1, genesisTime, []byte("not json"), tamperedRaw)
	assert.Equal(t, CodeMalformed, resp.TxResults[0].Code)
	assert.Equal(t, CodeBadSignature, resp.TxResults[1].Code)
	assert.Zero(t, application.World().Nonces[alice])
}

func TestFailedOperationConsumesNonce(t *testing.T) {
	application := newChain(t)

	resp := block(t, application, 1, genesisTime,
		// Only the COO may mint.
		signed(t, aliceKey, "mint", 0, 0, map[string]any{"genes": "0x01"}),
		// transfer is not payable.
		signed(t, aliceKey, "transfer", 1, core.Finney, map[string]any{"to": bob, "token_id": 1}),
		signed(t, aliceKey, "transfer", 2, 0, map[string]any{"to": bob, "token_id": "one"}),
		signed(t, aliceKey, "send", 3, 0, map[string]any{"to": bob, "amount": core.Finney}),
	)
	assert.Equal(t, uint32(types.KindAuthorization), resp.TxResults[0].Code)
	assert.Empty(t, resp.TxResults[0].Events)
	assert.Equal(t, uint32(types.KindInvariant), resp.TxResults[1].Code)
	assert.Equal(t, CodeMalformed, resp.TxResults[2].Code)
	assert.Equal(t, CodeOK, resp.TxResults[3].Code)

	assert.Equal(t, uint64(4), application.World().Nonces[alice])
	assert.Equal(t, ether-core.Finney, application.World().Bank.BalanceOf(alice))
	assert.Zero(t, application.World().Core.TotalSupply())
}

func TestRestartRestoresState(t *testing.T) {
	db := openDB(t)
	application := newApp(t, db, nil)
	initChain(t, application, testGenesis())

	resp := block(t, application, 1, genesisTime,
		signed(t, cooKey, "mint", 0, 0, map[string]any{"owner": alice, "genes": "0x2a"}),
		signed(t, aliceKey, "fund", 0, core.Finney, nil),
	)
	appHash := resp.AppHash

	restarted := newApp(t, db, nil)
	info, err := restarted.Info(context.Background(), &abcitypes.InfoRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.LastBlockHeight)
	assert.Equal(t, appHash, info.LastBlockAppHash)

	var token core.TokenView
	require.Equal(t, CodeOK, query(t, restarted, "/tokens/1", &token).Code)
	assert.Equal(t, alice, token.Owner)
	assert.Equal(t, uint64(1), restarted.World().Nonces[alice])

	// InitChain after a restart keeps the stored world.
	assert.Equal(t, appHash, initChain(t, restarted, Genesis{CEO: bob}))
	assert.Equal(t, ceo, restarted.World().Core.Roles().CEO)
}

func TestAppHashIsDeterministic(t *testing.T) {
	run := func() []byte {
		application := newChain(t)
		block(t, application, 1, genesisTime,
			signed(t, cooKey, "mint", 0, 0, map[string]any{"owner": alice, "genes": "0x01"}),
			signed(t, cooKey, "mint", 1, 0, map[string]any{"owner": bob, "genes": "0x02"}),
		)
		resp := block(t, application, 2, genesisTime.Add(time.Hour),
			signed(t, bobKey, "approveSiring", 0, 0, map[string]any{"address": alice, "sire_id": 2}),
			signed(t, aliceKey, "breedWith", 0, 0, map[string]any{"matron_id": 1, "sire_id": 2}),
		)
		require.Equal(t, CodeOK, resp.TxResults[1].Code, resp.TxResults[1].Log)
		return resp.AppHash
	}
	assert.Equal(t, run(), run())
}

func TestMirrorReceivesCommittedBlocks(t *testing.T) {
	mirror := &recordingMirror{}
	application := newApp(t, openDB(t), mirror)
	initChain(t, application, testGenesis())

	block(t, application, 1, genesisTime,
		signed(t, cooKey, "createGen0Auction", 0, 0, map[string]any{"genes": "0x07"}),
		signed(t, bobKey, "transfer", 0, 0, map[string]any{"to": alice, "token_id": 9}),
	)

	require.Len(t, mirror.blocks, 1)
	synced := mirror.blocks[0]
	assert.Equal(t, int64(1), synced.Height)
	require.Len(t, synced.Txs, 2)
	assert.Equal(t, "createGen0Auction", synced.Txs[0].Op)
	assert.Equal(t, CodeOK, synced.Txs[0].Code)
	assert.Equal(t, uint32(types.KindInvariant), synced.Txs[1].Code)
	assert.Equal(t, bob.String(), synced.Txs[1].Sender)

	require.Len(t, synced.Tokens, 1)
	assert.Equal(t, SaleAddress, synced.Tokens[0].Owner)
	require.Len(t, synced.Listings, 1)
	assert.Equal(t, "sale", synced.Listings[0].Auction)
	assert.Equal(t, CoreAddress, synced.Listings[0].Seller)
	assert.Equal(t, ceo, synced.Roles.CEO)
	assert.Equal(t, ether, synced.Balances[alice])
}

func TestQueryErrors(t *testing.T) {
	application := newApp(t, openDB(t), nil)
	assert.Equal(t, uint32(types.KindState), query(t, application, "/supply", nil).Code)

	initChain(t, application, testGenesis())
	assert.Equal(t, CodeUnknownOp, query(t, application, "/nothing/here", nil).Code)
	assert.Equal(t, uint32(types.KindInvariant), query(t, application, "/tokens/abc", nil).Code)

	resp, err := application.Query(context.Background(), &abcitypes.QueryRequest{Data: []byte("/supply")})
	require.NoError(t, err)
	assert.Equal(t, CodeOK, resp.Code)
	assert.JSONEq(t, `{"total_supply":0,"pregnant_count":0}`, string(resp.Value))
}
