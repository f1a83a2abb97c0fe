package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ahmadzakiakmal/skullchain/core"
	"github.com/ahmadzakiakmal/skullchain/core/auction"
	"github.com/ahmadzakiakmal/skullchain/core/types"
	"github.com/ahmadzakiakmal/skullchain/node/repository/models"
	cmtbytes "github.com/cometbft/cometbft/libs/bytes"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	cmtrpctypes "github.com/cometbft/cometbft/rpc/core/types"
	cmttypes "github.com/cometbft/cometbft/types"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PostgreSQL error codes
const (
	PgErrForeignKeyViolation = "23503"
	PgErrUniqueViolation     = "23505"
)

// Repository error codes
const (
	ErrCodeDatabase      = "DATABASE_ERROR"
	ErrCodeDuplicate     = "DUPLICATE"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeUnavailable   = "UNAVAILABLE"
	ErrCodeTimeout       = "CONSENSUS_TIMEOUT"
	ErrCodeConsensus     = "CONSENSUS_ERROR"
	ErrCodeRejected      = "TX_REJECTED"
	ErrCodeQueryFailed   = "QUERY_FAILED"
	ErrCodeMirrorOffline = "MIRROR_OFFLINE"
)

// ChainClient is the part of the CometBFT RPC client the repository uses.
// The in-process local client satisfies it.
type ChainClient interface {
	BroadcastTxCommit(ctx context.Context, tx cmttypes.Tx) (*cmtrpctypes.ResultBroadcastTxCommit, error)
	ABCIQuery(ctx context.Context, path string, data cmtbytes.HexBytes) (*cmtrpctypes.ResultABCIQuery, error)
}

// ConsensusResult is the outcome of a committed transaction. Code is the
// deterministic result of executing it; non-zero codes are still committed.
type ConsensusResult struct {
	TxHash      string `json:"tx_hash"`
	BlockHeight int64  `json:"height"`
	Code        uint32 `json:"code"`
	Log         string `json:"log"`
	Data        []byte `json:"data,omitempty"`
}

// QueryResult is an ABCI query answer.
type QueryResult struct {
	Code   uint32
	Log    string
	Value  []byte
	Height int64
}

// RepositoryError represents repository layer errors
type RepositoryError struct {
	Code    string
	Message string
	Detail  string
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Message, e.Detail)
}

// TxRecord is one executed transaction of a block.
type TxRecord struct {
	Hash   string
	Height int64
	Index  int
	Sender string
	Op     string
	Value  uint64
	Code   uint32
	Log    string
	Time   time.Time
}

// ListingRecord is an active listing of one auction.
type ListingRecord struct {
	Auction string
	TokenID uint64
	auction.Listing
}

// BlockSync is the state of the chain after a committed block.
type BlockSync struct {
	Height   int64
	Time     time.Time
	Txs      []TxRecord
	Tokens   []core.TokenView
	Listings []ListingRecord
	Roles    core.Roles
	Balances map[types.Address]uint64
}

type Repository struct {
	db        *gorm.DB
	rpcClient ChainClient
	logger    cmtlog.Logger
}

func NewRepository(logger cmtlog.Logger) *Repository {
	return &Repository{logger: logger}
}

// ConnectDB establishes database connection and performs migrations
func (r *Repository) ConnectDB(dsn string) error {
	var lastErr error
	for i := range 10 {
		r.logger.Info("Connecting to PostgreSQL", "attempt", i+1)
		db, err := gorm.Open(postgres.Open(dsn))
		if err != nil {
			lastErr = err
			r.logger.Error("Connection attempt failed", "attempt", i+1, "err", err)
			time.Sleep(2 * time.Second)
			continue
		}
		r.db = db
		break
	}
	if r.db == nil {
		return fmt.Errorf("connect to postgres: %w", lastErr)
	}
	if err := r.Migrate(); err != nil {
		return err
	}
	r.logger.Info("Connected to DB and completed setup")
	return nil
}

// Connected reports whether the relational mirror is available.
func (r *Repository) Connected() bool {
	return r.db != nil
}

// Migrate creates the mirror tables that do not exist yet.
func (r *Repository) Migrate() error {
	migrator := r.db.Migrator()
	for _, table := range []struct {
		name  string
		model any
	}{
		{"Token", &models.Token{}},
		{"Listing", &models.Listing{}},
		{"Account", &models.Account{}},
		{"Roles", &models.Roles{}},
		{"Transaction", &models.Transaction{}},
	} {
		if migrator.HasTable(table.model) {
			r.logger.Info("Table already exists", "table", table.name)
			continue
		}
		if err := migrator.CreateTable(table.model); err != nil {
			return fmt.Errorf("create %s table: %w", table.name, err)
		}
		r.logger.Info("Table created", "table", table.name)
	}
	return nil
}

// SetupRpcClient configures the client used to reach consensus.
func (r *Repository) SetupRpcClient(rpcClient ChainClient) {
	r.rpcClient = rpcClient
}

// RunConsensus broadcasts a signed transaction and waits for its block.
func (r *Repository) RunConsensus(ctx context.Context, txBytes []byte) (*ConsensusResult, *RepositoryError) {
	if r.rpcClient == nil {
		return nil, &RepositoryError{Code: ErrCodeUnavailable, Message: "Consensus client not configured"}
	}

	done := make(chan struct {
		result *cmtrpctypes.ResultBroadcastTxCommit
		err    error
	}, 1)

	go func() {
		result, err := r.rpcClient.BroadcastTxCommit(ctx, cmttypes.Tx(txBytes))
		done <- struct {
			result *cmtrpctypes.ResultBroadcastTxCommit
			err    error
		}{result, err}
	}()

	select {
	case <-ctx.Done():
		return nil, &RepositoryError{
			Code:    ErrCodeTimeout,
			Message: "Consensus operation timed out",
			Detail:  ctx.Err().Error(),
		}
	case result := <-done:
		if result.err != nil {
			return nil, &RepositoryError{
				Code:    ErrCodeConsensus,
				Message: "Failed to commit to blockchain",
				Detail:  result.err.Error(),
			}
		}
		if result.result.CheckTx.Code != 0 {
			return nil, &RepositoryError{
				Code:    ErrCodeRejected,
				Message: "Blockchain rejected transaction",
				Detail:  fmt.Sprintf("code %d: %s", result.result.CheckTx.Code, result.result.CheckTx.Log),
			}
		}
		return &ConsensusResult{
			TxHash:      result.result.Hash.String(),
			BlockHeight: result.result.Height,
			Code:        result.result.TxResult.Code,
			Log:         result.result.TxResult.Log,
			Data:        result.result.TxResult.Data,
		}, nil
	}
}

// QueryState runs an ABCI query against the committed state.
func (r *Repository) QueryState(ctx context.Context, path string) (*QueryResult, *RepositoryError) {
	if r.rpcClient == nil {
		return nil, &RepositoryError{Code: ErrCodeUnavailable, Message: "Consensus client not configured"}
	}
	res, err := r.rpcClient.ABCIQuery(ctx, path, nil)
	if err != nil {
		return nil, &RepositoryError{
			Code:    ErrCodeQueryFailed,
			Message: "ABCI query failed",
			Detail:  err.Error(),
		}
	}
	return &QueryResult{
		Code:   res.Response.Code,
		Log:    res.Response.Log,
		Value:  res.Response.Value,
		Height: res.Response.Height,
	}, nil
}

// SyncBlock writes the committed state of a block into the mirror tables in
// one database transaction. It is a no-op while the mirror is disabled.
func (r *Repository) SyncBlock(ctx context.Context, block *BlockSync) error {
	if r.db == nil || block == nil {
		return nil
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if txs := TransactionModels(block); len(txs) > 0 {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&txs).Error; err != nil {
				return err
			}
		}
		if tokens := TokenModels(block); len(tokens) > 0 {
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&tokens).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("1 = 1").Delete(&models.Listing{}).Error; err != nil {
			return err
		}
		if listings := ListingModels(block); len(listings) > 0 {
			if err := tx.Create(&listings).Error; err != nil {
				return err
			}
		}
		accounts := AccountModels(block)
		zeroed := tx.Model(&models.Account{})
		if len(accounts) > 0 {
			addrs := make([]string, len(accounts))
			for i, a := range accounts {
				addrs[i] = a.Address
			}
			zeroed = zeroed.Where("address NOT IN ?", addrs)
		} else {
			zeroed = zeroed.Where("1 = 1")
		}
		if err := zeroed.Updates(map[string]any{"balance": "0", "height": block.Height}).Error; err != nil {
			return err
		}
		if len(accounts) > 0 {
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&accounts).Error; err != nil {
				return err
			}
		}
		roles := RolesModel(block)
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&roles).Error
	})
	if err != nil {
		return classify("Failed to sync block "+strconv.FormatInt(block.Height, 10), err)
	}
	return nil
}

// GetTransactionByHash retrieves a mirrored transaction.
func (r *Repository) GetTransactionByHash(txHash string) (*models.Transaction, *RepositoryError) {
	if r.db == nil {
		return nil, &RepositoryError{Code: ErrCodeMirrorOffline, Message: "Relational mirror disabled"}
	}
	var transaction models.Transaction
	err := r.db.Where("tx_hash = ?", txHash).First(&transaction).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &RepositoryError{
				Code:    ErrCodeNotFound,
				Message: "Transaction not found",
				Detail:  fmt.Sprintf("Transaction with hash %s not found", txHash),
			}
		}
		return nil, classify("Failed to query transaction", err)
	}
	return &transaction, nil
}

// GetTransactionsBySender lists the latest transactions sent by an account.
func (r *Repository) GetTransactionsBySender(sender string, limit int) ([]models.Transaction, *RepositoryError) {
	if r.db == nil {
		return nil, &RepositoryError{Code: ErrCodeMirrorOffline, Message: "Relational mirror disabled"}
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var txs []models.Transaction
	err := r.db.Where("sender = ?", sender).
		Order("height desc").Order("tx_index desc").
		Limit(limit).Find(&txs).Error
	if err != nil {
		return nil, classify("Failed to query transactions", err)
	}
	return txs, nil
}

// classify turns a database error into a RepositoryError, recognising the
// postgres constraint violations.
func classify(message string, err error) *RepositoryError {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case PgErrUniqueViolation:
			return &RepositoryError{Code: ErrCodeDuplicate, Message: message, Detail: pgErr.Detail}
		case PgErrForeignKeyViolation:
			return &RepositoryError{Code: ErrCodeDatabase, Message: message, Detail: "foreign key violation: " + pgErr.Detail}
		}
	}
	return &RepositoryError{Code: ErrCodeDatabase, Message: message, Detail: err.Error()}
}

func TransactionModels(block *BlockSync) []models.Transaction {
	out := make([]models.Transaction, 0, len(block.Txs))
	for _, t := range block.Txs {
		out = append(out, models.Transaction{
			TxHash:    t.Hash,
			Height:    t.Height,
			Index:     t.Index,
			Sender:    t.Sender,
			Op:        t.Op,
			Value:     strconv.FormatUint(t.Value, 10),
			Code:      t.Code,
			Log:       t.Log,
			Timestamp: t.Time,
		})
	}
	return out
}

func TokenModels(block *BlockSync) []models.Token {
	out := make([]models.Token, 0, len(block.Tokens))
	for _, t := range block.Tokens {
		out = append(out, models.Token{
			ID:            t.ID,
			Owner:         t.Owner.String(),
			Genes:         t.Genes.String(),
			BirthTime:     t.BirthTime,
			NextActionAt:  t.NextActionAt,
			MatronID:      t.MatronID,
			SireID:        t.SireID,
			SiringWithID:  t.SiringWithID,
			CooldownIndex: t.CooldownIndex,
			Generation:    t.Generation,
			IsGestating:   t.IsGestating,
			Height:        block.Height,
		})
	}
	return out
}

func ListingModels(block *BlockSync) []models.Listing {
	out := make([]models.Listing, 0, len(block.Listings))
	for _, l := range block.Listings {
		out = append(out, models.Listing{
			Auction:    l.Auction,
			TokenID:    l.TokenID,
			Seller:     l.Seller.String(),
			StartPrice: strconv.FormatUint(l.StartPrice, 10),
			EndPrice:   strconv.FormatUint(l.EndPrice, 10),
			Duration:   l.Duration,
			StartedAt:  l.StartedAt,
			Height:     block.Height,
		})
	}
	return out
}

func AccountModels(block *BlockSync) []models.Account {
	out := make([]models.Account, 0, len(block.Balances))
	for addr, balance := range block.Balances {
		out = append(out, models.Account{
			Address: addr.String(),
			Balance: strconv.FormatUint(balance, 10),
			Height:  block.Height,
		})
	}
	return out
}

func RolesModel(block *BlockSync) models.Roles {
	return models.Roles{
		ID:                 1,
		CEO:                block.Roles.CEO.String(),
		CFO:                block.Roles.CFO.String(),
		COO:                block.Roles.COO.String(),
		Paused:             block.Roles.Paused,
		NewContractAddress: block.Roles.NewContractAddress.String(),
		Height:             block.Height,
	}
}
