package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"payflow/config"
	"payflow/native/bank"
	"payflow/native/payments"
	"payflow/observability/logging"
	"payflow/rpc"
	"payflow/services/streamrpc"
	"payflow/state"
	"payflow/storage"
)

const envPrefix = "PAYFLOW_ENV"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv(envPrefix))
	logger := logging.Setup("payflowd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := openDatabase(cfg, logger)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	manager := state.NewManager(db)
	mover := bank.NewMover(manager)

	var streams payments.StreamClient = streamrpc.Disabled{}
	if url := strings.TrimSpace(cfg.StreamServiceURL); url != "" {
		client, err := streamrpc.New(url)
		if err != nil {
			logger.Error("failed to configure stream service client", slog.Any("error", err))
			os.Exit(1)
		}
		streams = client
		logger.Info("stream service configured", "url", url)
	} else {
		logger.Warn("no stream service configured; stream-backed requests will fail")
	}

	engine := payments.NewEngine(manager, streams, mover)
	engine.SetEmitter(eventLogger{logger: logger})

	auth := rpc.AuthConfig{}
	if name := strings.TrimSpace(cfg.RPCTokenEnv); name != "" {
		auth.Token = strings.TrimSpace(os.Getenv(name))
	}
	if name := strings.TrimSpace(cfg.JWTSecretEnv); name != "" {
		if secret := strings.TrimSpace(os.Getenv(name)); secret != "" {
			auth.JWTSecret = []byte(secret)
		}
	}

	server := rpc.NewServer(engine, auth, logger)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("rpc server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func openDatabase(cfg *config.Config, logger *slog.Logger) (storage.Database, error) {
	dataDir := strings.TrimSpace(cfg.DataDir)
	if dataDir == "" {
		logger.Warn("no data directory configured; using in-memory storage")
		return storage.NewMemDB(), nil
	}
	db, err := storage.NewLevelDB(dataDir)
	if err != nil {
		return nil, fmt.Errorf("open leveldb at %s: %w", dataDir, err)
	}
	return db, nil
}
