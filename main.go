package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ahmadzakiakmal/skullchain/node/app"
	nodeconfig "github.com/ahmadzakiakmal/skullchain/node/config"
	"github.com/ahmadzakiakmal/skullchain/node/metrics"
	"github.com/ahmadzakiakmal/skullchain/node/repository"
	"github.com/ahmadzakiakmal/skullchain/node/server"
	"github.com/ahmadzakiakmal/skullchain/node/srvreg"

	cfg "github.com/cometbft/cometbft/config"
	cmtflags "github.com/cometbft/cometbft/libs/cli/flags"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	nm "github.com/cometbft/cometbft/node"
	"github.com/cometbft/cometbft/p2p"
	"github.com/cometbft/cometbft/privval"
	"github.com/cometbft/cometbft/proxy"
	cmtrpc "github.com/cometbft/cometbft/rpc/client/local"
	"github.com/dgraph-io/badger/v4"
	"github.com/spf13/viper"
)

var (
	homeDir      string
	httpPort     string
	postgresHost string
)

func init() {
	flag.StringVar(&homeDir, "cmt-home", "", "Path to the CometBFT config directory (default SKULL_HOME or ./node-config/skull-node)")
	flag.StringVar(&httpPort, "http-port", "", "HTTP web server port (overrides SKULL_HTTP_PORT)")
	flag.StringVar(&postgresHost, "postgres-host", "", "Postgres host of the relational mirror (overrides SKULL_DB_HOST)")
}

func main() {
	flag.Parse()

	nodeCfg, err := nodeconfig.LoadConfig(homeDir)
	if err != nil {
		log.Fatalf("Loading node config: %v", err)
	}
	if httpPort != "" {
		nodeCfg.HTTPPort = httpPort
	}
	if postgresHost != "" {
		nodeCfg.DatabaseHost = postgresHost
	}
	if err := nodeCfg.Validate(); err != nil {
		log.Fatalf("Invalid node config: %v", err)
	}
	homeDir = nodeCfg.Home

	log.Println("=== Starting Skullchain Marketplace Node ===")
	log.Printf("Home Directory: %s", homeDir)
	log.Printf("HTTP Port: %s", nodeCfg.HTTPPort)
	log.Printf("Relational mirror: %t", nodeCfg.MirrorEnabled())

	// Load CometBFT configuration
	config := cfg.DefaultConfig()
	config.SetRoot(homeDir)
	viper.SetConfigFile(fmt.Sprintf("%s/%s", homeDir, "config/config.toml"))
	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("Reading config: %v", err)
	}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("Decoding config: %v", err)
	}
	if err := config.ValidateBasic(); err != nil {
		log.Fatalf("Invalid configuration data: %v", err)
	}

	// Create logger
	logger := cmtlog.NewTMLogger(cmtlog.NewSyncWriter(os.Stdout))
	logger, err = cmtflags.ParseLogLevel(config.LogLevel, logger, cfg.DefaultLogLevel)
	if err != nil {
		log.Fatalf("Failed to parse log level: %v", err)
	}

	// Relational mirror
	repo := repository.NewRepository(logger.With("module", "repository"))
	if nodeCfg.MirrorEnabled() {
		if err := repo.ConnectDB(nodeCfg.GetDSN()); err != nil {
			log.Fatalf("Connecting to PostgreSQL: %v", err)
		}
	}

	// Initialize Badger DB for application state
	badgerPath := filepath.Join(homeDir, "badger")
	db, err := badger.Open(badger.DefaultOptions(badgerPath))
	if err != nil {
		log.Fatalf("Opening badger database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Fatalf("Closing badger database: %v", err)
		}
	}()

	metrics.RegisterMetrics()

	appConfig := &app.AppConfig{
		NodeID:        filepath.Base(homeDir),
		LogAllTxs:     nodeCfg.LogAllTxs,
		MirrorTimeout: nodeCfg.MirrorTimeout,
	}
	var mirror app.Mirror
	if repo.Connected() {
		mirror = repo
	}
	abciApp, err := app.NewABCIApplication(db, appConfig, logger.With("module", "app"), mirror)
	if err != nil {
		log.Fatalf("Loading application state: %v", err)
	}

	// Load private validator
	pv := privval.LoadFilePV(
		config.PrivValidatorKeyFile(),
		config.PrivValidatorStateFile(),
	)

	// Load node key for P2P networking
	nodeKey, err := p2p.LoadNodeKey(config.NodeKeyFile())
	if err != nil {
		log.Fatalf("Failed to load node's key: %v", err)
	}

	node, err := nm.NewNode(
		context.Background(),
		config,
		pv,
		nodeKey,
		proxy.NewLocalClientCreator(abciApp),
		nm.DefaultGenesisDocProviderFunc(config),
		cfg.DefaultDBProvider,
		nm.DefaultMetricsProvider(config.Instrumentation),
		logger,
	)
	if err != nil {
		log.Fatalf("Creating CometBFT node: %v", err)
	}

	nodeID := string(node.NodeInfo().ID())
	abciApp.SetNodeID(nodeID)
	logger.Info("Node initialized", "node_id", nodeID)

	repo.SetupRpcClient(cmtrpc.New(node))

	serviceRegistry := srvreg.NewServiceRegistry(repo, logger.With("module", "api"), nodeID)
	serviceRegistry.ConsensusTimeout = nodeCfg.ConsensusTimeout
	serviceRegistry.RegisterDefaultServices()

	logger.Info("Starting CometBFT node...")
	if err := node.Start(); err != nil {
		log.Fatalf("Starting CometBFT node: %v", err)
	}
	defer func() {
		logger.Info("Stopping CometBFT node...")
		node.Stop()
		node.Wait()
	}()

	webserver := server.NewWebServer(abciApp, nodeCfg.HTTPPort, logger.With("module", "http"), node, serviceRegistry)
	if err := webserver.Start(); err != nil {
		log.Fatalf("Starting HTTP server: %v", err)
	}

	logger.Info("=== Node Successfully Started ===")
	logger.Info("HTTP API", "url", fmt.Sprintf("http://localhost:%s", nodeCfg.HTTPPort))
	logger.Info("CometBFT RPC", "url", fmt.Sprintf("http://localhost:%s", extractPortFromAddress(config.RPC.ListenAddress)))
	logger.Info("Core contract", "address", app.CoreAddress)
	logger.Info("Operations", "ops", app.OperationNames())

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	logger.Info("Received shutdown signal, shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := webserver.Shutdown(ctx); err != nil {
		logger.Error("Error shutting down HTTP web server", "err", err)
	}
	logger.Info("Node gracefully stopped")
}

// extractPortFromAddress extracts the port from an address string
func extractPortFromAddress(address string) string {
	for i := len(address) - 1; i >= 0; i-- {
		if address[i] == ':' {
			return address[i+1:]
		}
	}
	return ""
}
