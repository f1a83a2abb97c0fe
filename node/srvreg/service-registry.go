package srvreg

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ahmadzakiakmal/skullchain/core/types"
	"github.com/ahmadzakiakmal/skullchain/node/app"
	"github.com/ahmadzakiakmal/skullchain/node/repository"
	"github.com/ahmadzakiakmal/skullchain/node/repository/models"
	cmtlog "github.com/cometbft/cometbft/libs/log"
)

// Request represents the client's HTTP request
type Request struct {
	Method     string            `json:"method"`
	Path       string            `json:"path"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
	Query      map[string]string `json:"query,omitempty"`
	RemoteAddr string            `json:"remote_addr"`
	RequestID  string            `json:"request_id"`
	Timestamp  time.Time         `json:"timestamp"`

	ctx context.Context
}

// Response represents the computed response from server
type Response struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
	Error      string            `json:"error,omitempty"`
}

// TxResponse is the answer to a submitted transaction. A non-zero Code
// means the transaction was committed but the operation failed.
type TxResponse struct {
	TxHash string          `json:"tx_hash"`
	Height int64           `json:"height"`
	Code   uint32          `json:"code"`
	Log    string          `json:"log"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  uint32 `json:"code,omitempty"`
}

// Backend is what the routes need from the node: consensus, state queries
// and the relational mirror. *repository.Repository implements it.
type Backend interface {
	RunConsensus(ctx context.Context, txBytes []byte) (*repository.ConsensusResult, *repository.RepositoryError)
	QueryState(ctx context.Context, path string) (*repository.QueryResult, *repository.RepositoryError)
	GetTransactionByHash(txHash string) (*models.Transaction, *repository.RepositoryError)
	GetTransactionsBySender(sender string, limit int) ([]models.Transaction, *repository.RepositoryError)
}

// ServiceHandler is a function type for service handlers
type ServiceHandler func(*Request) (*Response, error)

// RouteKey uniquely identifies a route
type RouteKey struct {
	Method string
	Path   string
}

// ServiceRegistry maps REST routes onto transactions and ABCI queries.
type ServiceRegistry struct {
	handlers    map[RouteKey]ServiceHandler
	exactRoutes map[RouteKey]bool
	mu          sync.RWMutex
	backend     Backend
	logger      cmtlog.Logger
	nodeID      string
	startTime   time.Time
	// ConsensusTimeout bounds a tx submission.
	ConsensusTimeout time.Duration
}

var defaultHeaders = map[string]string{"Content-Type": "application/json"}

// NewServiceRegistry creates a new service registry
func NewServiceRegistry(backend Backend, logger cmtlog.Logger, nodeID string) *ServiceRegistry {
	return &ServiceRegistry{
		handlers:         make(map[RouteKey]ServiceHandler),
		exactRoutes:      make(map[RouteKey]bool),
		backend:          backend,
		logger:           logger,
		nodeID:           nodeID,
		startTime:        time.Now(),
		ConsensusTimeout: 30 * time.Second,
	}
}

// GenerateRequestID generates a deterministic ID for the request
func (r *Request) GenerateRequestID() {
	hasher := sha256.New()
	hasher.Write([]byte(fmt.Sprintf("%s-%s-%s-%s", r.Path, r.Method, r.Body, r.Timestamp)))
	r.RequestID = hex.EncodeToString(hasher.Sum(nil)[:16])
}

// Context returns the context of the HTTP request the Request came from.
func (r *Request) Context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// RegisterHandler registers a new service handler
func (sr *ServiceRegistry) RegisterHandler(method, path string, isExactPath bool, handler ServiceHandler) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	key := RouteKey{Method: strings.ToUpper(method), Path: path}
	sr.handlers[key] = handler
	sr.exactRoutes[key] = isExactPath
}

// GetHandlerForPath finds the appropriate handler for a given path. Exact
// routes win over patterns; among patterns the one with the fewest
// parameters wins.
func (sr *ServiceRegistry) GetHandlerForPath(method, path string) (ServiceHandler, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	method = strings.ToUpper(method)
	key := RouteKey{Method: method, Path: path}
	if handler, ok := sr.handlers[key]; ok && sr.exactRoutes[key] {
		return handler, true
	}

	var (
		best       ServiceHandler
		bestParams = -1
	)
	for routeKey, handler := range sr.handlers {
		if routeKey.Method != method || sr.exactRoutes[routeKey] {
			continue
		}
		if params, ok := matchPath(routeKey.Path, path); ok {
			if bestParams < 0 || len(params) < bestParams {
				best, bestParams = handler, len(params)
			}
		}
	}
	return best, best != nil
}

// matchPath does simple pattern matching for routes and returns the values
// of the :params.
func matchPath(pattern, path string) (map[string]string, bool) {
	patternParts := strings.Split(pattern, "/")
	pathParts := strings.Split(path, "/")

	if len(patternParts) != len(pathParts) {
		return nil, false
	}

	params := make(map[string]string)
	for i := range len(patternParts) {
		if strings.HasPrefix(patternParts[i], ":") {
			if pathParts[i] == "" {
				return nil, false
			}
			params[patternParts[i][1:]] = pathParts[i]
			continue
		}
		if patternParts[i] != pathParts[i] {
			return nil, false
		}
	}

	return params, true
}

// RegisterDefaultServices sets up the marketplace API.
func (sr *ServiceRegistry) RegisterDefaultServices() {
	sr.RegisterHandler("POST", "/api/tx", true, sr.SubmitTxHandler)

	// State reads, answered by ABCI queries on the committed world
	for _, pattern := range []string{
		"/api/tokens/:id",
		"/api/owners/:addr/tokens",
		"/api/owners/:addr/tokens/:index",
		"/api/auctions/:auction/:id",
		"/api/breeding/:matron/:sire",
		"/api/gen0",
		"/api/roles",
		"/api/accounts/:addr",
		"/api/supply",
	} {
		sr.RegisterHandler("GET", pattern, !strings.Contains(pattern, ":"), sr.QueryHandler)
	}

	// Relational mirror
	sr.RegisterHandler("GET", "/api/txs/:hash", false, sr.GetTransactionHandler)
	sr.RegisterHandler("GET", "/api/accounts/:addr/txs", false, sr.GetAccountTransactionsHandler)

	sr.RegisterHandler("GET", "/api/status", true, sr.StatusHandler)
}

// SubmitTxHandler broadcasts a signed transaction and waits for its block.
func (sr *ServiceRegistry) SubmitTxHandler(req *Request) (*Response, error) {
	if _, err := app.DecodeTx([]byte(req.Body)); err != nil {
		return errorResponse(http.StatusBadRequest, app.CodeMalformed, err.Error()), nil
	}

	ctx, cancel := context.WithTimeout(req.Context(), sr.ConsensusTimeout)
	defer cancel()
	result, repoErr := sr.backend.RunConsensus(ctx, []byte(req.Body))
	if repoErr != nil {
		sr.logger.Error("Consensus failed", "code", repoErr.Code, "detail", repoErr.Detail)
		switch repoErr.Code {
		case repository.ErrCodeRejected:
			return errorResponse(http.StatusBadRequest, 0, repoErr.Detail), nil
		case repository.ErrCodeTimeout:
			return errorResponse(http.StatusGatewayTimeout, 0, repoErr.Message), nil
		case repository.ErrCodeUnavailable:
			return errorResponse(http.StatusServiceUnavailable, 0, repoErr.Message), nil
		default:
			return errorResponse(http.StatusInternalServerError, 0, repoErr.Message), nil
		}
	}

	resp := TxResponse{
		TxHash: result.TxHash,
		Height: result.BlockHeight,
		Code:   result.Code,
		Log:    result.Log,
	}
	if len(result.Data) > 0 && json.Valid(result.Data) {
		resp.Data = result.Data
	}
	status := http.StatusOK
	if result.Code != app.CodeOK {
		status = StatusForCode(result.Code)
	}
	return jsonResponse(status, resp)
}

// QueryHandler forwards GET /api/<path> as the ABCI query /<path>.
func (sr *ServiceRegistry) QueryHandler(req *Request) (*Response, error) {
	path := strings.TrimPrefix(req.Path, "/api")
	result, repoErr := sr.backend.QueryState(req.Context(), path)
	if repoErr != nil {
		sr.logger.Error("Query failed", "path", path, "detail", repoErr.Detail)
		return errorResponse(http.StatusBadGateway, 0, repoErr.Message), nil
	}
	if result.Code != app.CodeOK {
		return errorResponse(StatusForCode(result.Code), result.Code, result.Log), nil
	}
	return &Response{
		StatusCode: http.StatusOK,
		Headers:    defaultHeaders,
		Body:       string(result.Value),
	}, nil
}

// GetTransactionHandler retrieves a mirrored transaction by hash
func (sr *ServiceRegistry) GetTransactionHandler(req *Request) (*Response, error) {
	params, _ := matchPath("/api/txs/:hash", req.Path)
	transaction, repoErr := sr.backend.GetTransactionByHash(strings.ToUpper(params["hash"]))
	if repoErr != nil {
		return mirrorError(repoErr), nil
	}
	return jsonResponse(http.StatusOK, transaction)
}

// GetAccountTransactionsHandler lists the latest transactions of a sender.
func (sr *ServiceRegistry) GetAccountTransactionsHandler(req *Request) (*Response, error) {
	params, _ := matchPath("/api/accounts/:addr/txs", req.Path)
	limit := 0
	if raw := req.Query["limit"]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return errorResponse(http.StatusBadRequest, 0, "invalid limit"), nil
		}
		limit = n
	}
	sender := types.NormalizeAddress(params["addr"])
	txs, repoErr := sr.backend.GetTransactionsBySender(sender.String(), limit)
	if repoErr != nil {
		return mirrorError(repoErr), nil
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	return jsonResponse(http.StatusOK, map[string]any{
		"sender":       sender,
		"transactions": txs,
		"count":        len(txs),
	})
}

// StatusHandler reports node liveness and the committed height.
func (sr *ServiceRegistry) StatusHandler(req *Request) (*Response, error) {
	status := map[string]any{
		"status":  "active",
		"node_id": sr.nodeID,
		"uptime":  time.Since(sr.startTime).String(),
		"time":    time.Now(),
	}
	if result, repoErr := sr.backend.QueryState(req.Context(), "/supply"); repoErr == nil {
		status["height"] = result.Height
	}
	return jsonResponse(http.StatusOK, status)
}

// StatusForCode maps an ABCI result code to an HTTP status.
func StatusForCode(code uint32) int {
	switch code {
	case app.CodeOK:
		return http.StatusOK
	case uint32(types.KindAuthorization):
		return http.StatusForbidden
	case app.CodeBadSignature:
		return http.StatusUnauthorized
	case uint32(types.KindState), app.CodeBadNonce:
		return http.StatusConflict
	case uint32(types.KindInvariant), app.CodeMalformed:
		return http.StatusBadRequest
	case uint32(types.KindInsufficientPayment):
		return http.StatusPaymentRequired
	case app.CodeUnknownOp:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func mirrorError(repoErr *repository.RepositoryError) *Response {
	switch repoErr.Code {
	case repository.ErrCodeNotFound:
		return errorResponse(http.StatusNotFound, 0, repoErr.Detail)
	case repository.ErrCodeMirrorOffline:
		return errorResponse(http.StatusServiceUnavailable, 0, repoErr.Message)
	default:
		return errorResponse(http.StatusInternalServerError, 0, "Internal server error")
	}
}

func errorResponse(status int, code uint32, message string) *Response {
	body, _ := json.Marshal(ErrorResponse{Error: message, Code: code})
	return &Response{
		StatusCode: status,
		Headers:    defaultHeaders,
		Body:       string(body),
		Error:      message,
	}
}

func jsonResponse(status int, v any) (*Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return errorResponse(http.StatusInternalServerError, 0, "Failed to serialize response"), err
	}
	return &Response{
		StatusCode: status,
		Headers:    defaultHeaders,
		Body:       string(body),
	}, nil
}

// ConvertHttpRequestToConsensusRequest converts an http.Request to Request
func ConvertHttpRequestToConsensusRequest(r *http.Request, requestID string) (*Request, error) {
	headers := make(map[string]string)
	for name, values := range r.Header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}
	query := make(map[string]string)
	for name, values := range r.URL.Query() {
		if len(values) > 0 {
			query[name] = values[0]
		}
	}

	body := ""
	if r.Body != nil {
		bodyBytes, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		raw := strings.TrimSpace(string(bodyBytes))
		body = compactJSON(raw)
	}

	return &Request{
		Method:     r.Method,
		Path:       strings.TrimSuffix(r.URL.Path, "/"),
		Headers:    headers,
		Body:       body,
		Query:      query,
		RemoteAddr: r.RemoteAddr,
		RequestID:  requestID,
		Timestamp:  time.Now(),
		ctx:        r.Context(),
	}, nil
}

// GenerateResponse executes the request and generates a response
func (req *Request) GenerateResponse(services *ServiceRegistry) (*Response, error) {
	handler, found := services.GetHandlerForPath(req.Method, req.Path)
	if !found {
		return errorResponse(http.StatusNotFound, 0, fmt.Sprintf("Service not found for %s %s", req.Method, req.Path)), nil
	}

	return handler(req)
}

func compactJSON(body string) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(body)); err != nil {
		return strings.TrimSpace(body)
	}
	return buf.String()
}
