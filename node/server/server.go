package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ahmadzakiakmal/skullchain/node/app"
	"github.com/ahmadzakiakmal/skullchain/node/srvreg"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	nm "github.com/cometbft/cometbft/node"
	cmtrpc "github.com/cometbft/cometbft/rpc/client/local"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WebServer serves the marketplace API in front of the CometBFT node.
type WebServer struct {
	app             *app.Application
	httpAddr        string
	server          *http.Server
	logger          cmtlog.Logger
	node            *nm.Node
	startTime       time.Time
	serviceRegistry *srvreg.ServiceRegistry
	rpcClient       *cmtrpc.Local
}

// NewWebServer creates the web server. node may be nil, in which case /debug
// only reports application state.
func NewWebServer(app *app.Application, httpPort string, logger cmtlog.Logger, node *nm.Node, serviceRegistry *srvreg.ServiceRegistry) *WebServer {
	mux := http.NewServeMux()

	server := &WebServer{
		app:      app,
		httpAddr: ":" + httpPort,
		server: &http.Server{
			Addr:              ":" + httpPort,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger:          logger,
		node:            node,
		startTime:       time.Now(),
		serviceRegistry: serviceRegistry,
	}
	if node != nil {
		server.rpcClient = cmtrpc.New(node)
	}

	mux.HandleFunc("/", server.handleRoot)
	mux.HandleFunc("/debug", server.handleDebug)
	mux.HandleFunc("/api/", server.handleAPI)
	mux.Handle("/metrics", promhttp.Handler())

	return server
}

// Handler exposes the routes for embedding and tests.
func (ws *WebServer) Handler() http.Handler {
	return ws.server.Handler
}

// Start starts the web server
func (ws *WebServer) Start() error {
	ws.logger.Info("Starting web server", "addr", ws.httpAddr)
	go func() {
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ws.logger.Error("Web server error", "err", err)
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the web server
func (ws *WebServer) Shutdown(ctx context.Context) error {
	ws.logger.Info("Shutting down web server")
	return ws.server.Shutdown(ctx)
}

func (ws *WebServer) nodeID() string {
	if ws.node == nil {
		return ""
	}
	return string(ws.node.NodeInfo().ID())
}

// handleRoot shows node information and the API index
func (ws *WebServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		JSONError(w, "Not found", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodGet {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte("<h1>Skullchain Marketplace Node</h1>"))
	w.Write([]byte("<p>Node ID: " + ws.nodeID() + "</p>"))
	if ws.node != nil {
		rpcPort := extractPortFromAddress(ws.node.Config().RPC.ListenAddress)
		w.Write([]byte(fmt.Sprintf("<p>RPC Address: <a href=\"http://localhost:%s\">http://localhost:%s</a></p>", rpcPort, rpcPort)))
	}

	apiDocs := `
	<h2>API Endpoints</h2>
	<ul>
		<li><strong>POST /api/tx</strong> - Submit a signed transaction</li>
		<li><strong>GET /api/tokens/{id}</strong> - Get a token</li>
		<li><strong>GET /api/owners/{addr}/tokens</strong> - Tokens of an owner</li>
		<li><strong>GET /api/owners/{addr}/tokens/{index}</strong> - Token of an owner by index</li>
		<li><strong>GET /api/auctions/{sale|siring}/{id}</strong> - Get an auction</li>
		<li><strong>GET /api/breeding/{matron}/{sire}</strong> - Check a breeding pair</li>
		<li><strong>GET /api/gen0</strong> - Gen0 issuance and pricing</li>
		<li><strong>GET /api/roles</strong> - Roles, pause state and wiring</li>
		<li><strong>GET /api/accounts/{addr}</strong> - Balance and nonce</li>
		<li><strong>GET /api/accounts/{addr}/txs</strong> - Transactions of an account</li>
		<li><strong>GET /api/txs/{hash}</strong> - Get a transaction</li>
		<li><strong>GET /api/supply</strong> - Token supply</li>
		<li><strong>GET /api/status</strong> - Node status</li>
		<li><strong>GET /metrics</strong> - Prometheus metrics</li>
	</ul>
	`
	w.Write([]byte(apiDocs))
}

// handleDebug provides debugging information
func (ws *WebServer) handleDebug(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	debugInfo := map[string]any{
		"node_id": ws.nodeID(),
		"uptime":  time.Since(ws.startTime).String(),
	}
	if ws.app != nil {
		info, err := ws.app.Info(r.Context(), nil)
		if err == nil {
			debugInfo["app_height"] = info.LastBlockHeight
			debugInfo["app_hash"] = fmt.Sprintf("%X", info.LastBlockAppHash)
		}
	}

	if ws.node != nil {
		nodeStatus := "online"
		if ws.node.ConsensusReactor().WaitSync() {
			nodeStatus = "syncing"
		}
		if !ws.node.IsListening() {
			nodeStatus = "offline"
		}
		debugInfo["node_status"] = nodeStatus
		debugInfo["p2p_address"] = ws.node.Config().P2P.ListenAddress
		debugInfo["rpc_address"] = ws.node.Config().RPC.ListenAddress

		outboundPeers, inboundPeers, dialingPeers := ws.node.Switch().NumPeers()
		debugInfo["num_peers_out"] = outboundPeers
		debugInfo["num_peers_in"] = inboundPeers
		debugInfo["num_peers_dialing"] = dialingPeers

		status, err := ws.rpcClient.Status(r.Context())
		if err != nil {
			debugInfo["consensus_error"] = err.Error()
		} else {
			debugInfo["latest_block_height"] = status.SyncInfo.LatestBlockHeight
			debugInfo["latest_block_time"] = status.SyncInfo.LatestBlockTime
			debugInfo["catching_up"] = status.SyncInfo.CatchingUp
		}
	}

	w.Header().Set("Content-Type", "application/json")
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(debugInfo); err != nil {
		JSONError(w, "Error encoding response: "+err.Error(), http.StatusInternalServerError)
		return
	}
}

// handleAPI dispatches /api/ requests through the service registry
func (ws *WebServer) handleAPI(w http.ResponseWriter, r *http.Request) {
	requestID, err := generateRequestID()
	if err != nil {
		JSONError(w, "Internal Server Error", http.StatusInternalServerError)
		ws.logger.Error("Failed to generate request ID", "err", err)
		return
	}

	request, err := srvreg.ConvertHttpRequestToConsensusRequest(r, requestID)
	if err != nil {
		JSONError(w, "Failed to convert request: "+err.Error(), http.StatusUnprocessableEntity)
		ws.logger.Error("Failed to convert HTTP request", "err", err)
		return
	}

	response, err := request.GenerateResponse(ws.serviceRegistry)
	if err != nil {
		JSONError(w, "Failed to generate response: "+err.Error(), http.StatusInternalServerError)
		ws.logger.Error("Failed to generate response", "err", err)
		return
	}

	for key, value := range response.Headers {
		w.Header().Set(key, value)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	if id := ws.nodeID(); id != "" {
		w.Header().Set("X-Node-ID", id)
	}
	w.WriteHeader(response.StatusCode)
	w.Write([]byte(response.Body))

	ws.logger.Info("API request processed",
		"path", request.Path,
		"method", request.Method,
		"status", response.StatusCode,
	)
}

// Helper functions

func generateRequestID() (string, error) {
	bytes := make([]byte, 16)
	_, err := rand.Read(bytes)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

func extractPortFromAddress(address string) string {
	for i := len(address) - 1; i >= 0; i-- {
		if address[i] == ':' {
			return address[i+1:]
		}
	}
	return ""
}

func JSONError(w http.ResponseWriter, message string, statusCode int) {
	errorResponse := struct {
		Error string `json:"error"`
	}{
		Error: message,
	}
	jsonBytes, err := json.Marshal(errorResponse)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(jsonBytes)
}
