package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ahmadzakiakmal/skullchain/core"
	"github.com/ahmadzakiakmal/skullchain/core/auction"
	"github.com/ahmadzakiakmal/skullchain/core/types"
	abcitypes "github.com/cometbft/cometbft/abci/types"
	cmtbytes "github.com/cometbft/cometbft/libs/bytes"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	cmtrpctypes "github.com/cometbft/cometbft/rpc/core/types"
	cmttypes "github.com/cometbft/cometbft/types"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChain struct {
	commit *cmtrpctypes.ResultBroadcastTxCommit
	query  *cmtrpctypes.ResultABCIQuery
	err    error
	block  chan struct{}

	lastTx   cmttypes.Tx
	lastPath string
}

func (f *fakeChain) BroadcastTxCommit(ctx context.Context, tx cmttypes.Tx) (*cmtrpctypes.ResultBroadcastTxCommit, error) {
	f.lastTx = tx
	if f.block != nil {
		<-f.block
	}
	return f.commit, f.err
}

func (f *fakeChain) ABCIQuery(ctx context.Context, path string, data cmtbytes.HexBytes) (*cmtrpctypes.ResultABCIQuery, error) {
	f.lastPath = path
	return f.query, f.err
}

func newTestRepository(chain ChainClient) *Repository {
	r := NewRepository(cmtlog.NewNopLogger())
	if chain != nil {
		r.SetupRpcClient(chain)
	}
	return r
}

func TestRunConsensusCommitted(t *testing.T) {
	chain := &fakeChain{commit: &cmtrpctypes.ResultBroadcastTxCommit{
		Hash:     cmtbytes.HexBytes{0xAB, 0xCD},
		Height:   7,
		TxResult: abcitypes.ExecTxResult{Code: 2, Log: "not ready", Data: []byte("{}")},
	}}
	r := newTestRepository(chain)

	res, rerr := r.RunConsensus(context.Background(), []byte("tx"))
	require.Nil(t, rerr)
	assert.Equal(t, "ABCD", res.TxHash)
	assert.Equal(t, int64(7), res.BlockHeight)
	assert.Equal(t, uint32(2), res.Code)
	assert.Equal(t, "not ready", res.Log)
	assert.Equal(t, cmttypes.Tx("tx"), chain.lastTx)
}

func TestRunConsensusRejectedByCheckTx(t *testing.T) {
	chain := &fakeChain{commit: &cmtrpctypes.ResultBroadcastTxCommit{
		CheckTx: abcitypes.CheckTxResponse{Code: 12, Log: "nonce 0 already used"},
	}}
	r := newTestRepository(chain)

	_, rerr := r.RunConsensus(context.Background(), []byte("tx"))
	require.NotNil(t, rerr)
	assert.Equal(t, ErrCodeRejected, rerr.Code)
	assert.Contains(t, rerr.Detail, "code 12")
}

func TestRunConsensusErrors(t *testing.T) {
	_, rerr := newTestRepository(nil).RunConsensus(context.Background(), nil)
	require.NotNil(t, rerr)
	assert.Equal(t, ErrCodeUnavailable, rerr.Code)

	_, rerr = newTestRepository(&fakeChain{err: errors.New("mempool full")}).RunConsensus(context.Background(), nil)
	require.NotNil(t, rerr)
	assert.Equal(t, ErrCodeConsensus, rerr.Code)
	assert.Equal(t, "mempool full", rerr.Detail)

	chain := &fakeChain{block: make(chan struct{})}
	defer close(chain.block)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, rerr = newTestRepository(chain).RunConsensus(ctx, nil)
	require.NotNil(t, rerr)
	assert.Equal(t, ErrCodeTimeout, rerr.Code)
}

func TestQueryState(t *testing.T) {
	chain := &fakeChain{query: &cmtrpctypes.ResultABCIQuery{Response: abcitypes.QueryResponse{
		Code: 0, Log: "exists", Value: []byte(`{"id":1}`), Height: 3,
	}}}
	r := newTestRepository(chain)

	res, rerr := r.QueryState(context.Background(), "/tokens/1")
	require.Nil(t, rerr)
	assert.Equal(t, "/tokens/1", chain.lastPath)
	assert.Equal(t, `{"id":1}`, string(res.Value))
	assert.Equal(t, int64(3), res.Height)

	_, rerr = newTestRepository(&fakeChain{err: errors.New("down")}).QueryState(context.Background(), "/roles")
	require.NotNil(t, rerr)
	assert.Equal(t, ErrCodeQueryFailed, rerr.Code)
}

func TestMirrorDisabled(t *testing.T) {
	r := newTestRepository(nil)
	assert.False(t, r.Connected())
	assert.NoError(t, r.SyncBlock(context.Background(), &BlockSync{Height: 1}))

	_, rerr := r.GetTransactionByHash("AB")
	require.NotNil(t, rerr)
	assert.Equal(t, ErrCodeMirrorOffline, rerr.Code)
	_, rerr = r.GetTransactionsBySender("AB", 10)
	require.NotNil(t, rerr)
	assert.Equal(t, ErrCodeMirrorOffline, rerr.Code)
}

func TestBlockModels(t *testing.T) {
	alice := types.Address("A11CE")
	blockTime := time.Unix(1700000000, 0)
	block := &BlockSync{
		Height: 9,
		Time:   blockTime,
		Txs: []TxRecord{{
			Hash: "FF", Height: 9, Index: 0, Sender: "A11CE", Op: "bid",
			Value: 18446744073709551615, Code: 0, Log: "ok", Time: blockTime,
		}},
		Tokens: []core.TokenView{{
			ID:          3,
			Owner:       alice,
			IsGestating: true,
			Token:       core.Token{MatronID: 1, SireID: 2, SiringWithID: 4, CooldownIndex: 5, Generation: 1},
		}},
		Listings: []ListingRecord{{
			Auction: "sale",
			TokenID: 3,
			Listing: auction.Listing{Seller: alice, StartPrice: 100, EndPrice: 10, Duration: 60, StartedAt: 5},
		}},
		Roles:    core.Roles{CEO: alice, Paused: true},
		Balances: map[types.Address]uint64{alice: 42},
	}

	txs := TransactionModels(block)
	require.Len(t, txs, 1)
	assert.Equal(t, "18446744073709551615", txs[0].Value)
	assert.Equal(t, "bid", txs[0].Op)

	tokens := TokenModels(block)
	require.Len(t, tokens, 1)
	assert.Equal(t, uint64(3), tokens[0].ID)
	assert.Equal(t, "A11CE", tokens[0].Owner)
	assert.True(t, tokens[0].IsGestating)
	assert.Equal(t, uint64(4), tokens[0].SiringWithID)
	assert.Equal(t, int64(9), tokens[0].Height)

	listings := ListingModels(block)
	require.Len(t, listings, 1)
	assert.Equal(t, "sale", listings[0].Auction)
	assert.Equal(t, "100", listings[0].StartPrice)
	assert.Equal(t, "10", listings[0].EndPrice)

	accounts := AccountModels(block)
	require.Len(t, accounts, 1)
	assert.Equal(t, "42", accounts[0].Balance)

	roles := RolesModel(block)
	assert.Equal(t, uint(1), roles.ID)
	assert.Equal(t, "A11CE", roles.CEO)
	assert.True(t, roles.Paused)
}

func TestClassify(t *testing.T) {
	dup := classify("insert", &pgconn.PgError{Code: PgErrUniqueViolation, Detail: "key exists"})
	assert.Equal(t, ErrCodeDuplicate, dup.Code)
	assert.Equal(t, "key exists", dup.Detail)

	fk := classify("insert", &pgconn.PgError{Code: PgErrForeignKeyViolation, Detail: "missing"})
	assert.Equal(t, ErrCodeDatabase, fk.Code)
	assert.Contains(t, fk.Detail, "foreign key")

	other := classify("insert", errors.New("boom"))
	assert.Equal(t, ErrCodeDatabase, other.Code)
	assert.Equal(t, "DATABASE_ERROR: insert: boom", other.Error())
}
