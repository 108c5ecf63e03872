package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"channeld/cmd/internal/passphrase"
	"channeld/cmd/internal/stores"
	"channeld/config"
	"channeld/core"
	"channeld/core/types"
	"channeld/crypto"
	"channeld/dispatch"
	"channeld/integrations/webhooks"
	"channeld/observability/logging"
	telemetry "channeld/observability/otel"
	"channeld/rpc"
)

const (
	keystorePassEnv = "CHANNELD_KEYSTORE_PASS"
	envVar          = "CHANNELD_ENV"
	shutdownTimeout = 10 * time.Second
)

var version = "dev"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	startBlock := flag.Uint64("start-block", 0, "Block number the node starts following from when the store is empty")
	flag.Parse()

	if err := run(*configFile, types.BlockNumber(*startBlock)); err != nil {
		fmt.Fprintf(os.Stderr, "channeld: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile string, startBlock types.BlockNumber) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if env := strings.TrimSpace(os.Getenv(envVar)); env != "" {
		cfg.Environment = env
	}

	logger, logCloser := logging.Setup("channeld", cfg.Environment, logging.Options{
		Level:      logging.ParseLevel(cfg.LogLevel),
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "channeld",
		Environment: cfg.Environment,
		Version:     version,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	pass, err := passphrase.NewSource(keystorePassEnv, "node keystore").Get()
	if err != nil {
		return err
	}
	key, created, err := crypto.LoadOrCreateKeystore(cfg.KeystorePath, pass)
	if err != nil {
		return fmt.Errorf("load keystore: %w", err)
	}
	if created {
		logger.Info("created node keystore", slog.String("path", cfg.KeystorePath))
	}
	signer, err := crypto.NewLocalSigner(key)
	if err != nil {
		return fmt.Errorf("signer: %w", err)
	}
	logger.Info("node identity loaded", slog.String("address", signer.Address().Hex()))

	store, err := stores.Open(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("store close failed", slog.Any("error", err))
		}
	}()

	hub := rpc.NewHub(logger)
	notifiers := dispatch.Notifiers{hub, dispatch.NewLogNotifier(logger)}
	if cfg.Webhook.URL != "" {
		hook, err := newWebhook(cfg.Webhook, logger)
		if err != nil {
			return err
		}
		defer hook.Close()
		notifiers = append(notifiers, hook)
	}

	dispatcher := dispatch.New(signer,
		dispatch.WithNotifier(notifiers),
		dispatch.WithChainRate(cfg.ChainSubmitsPerSecond, cfg.ChainSubmitBurst),
		dispatch.WithLogger(logger),
	)
	defer dispatcher.Close()

	engine := core.New(store, core.Config{
		QueueCapacity:    cfg.QueueCapacity,
		SnapshotEvery:    cfg.Snapshot.Every,
		SnapshotInterval: cfg.Snapshot.Interval(),
		SnapshotRetain:   cfg.Snapshot.Retain,
		Version:          version,
	}, core.WithSink(dispatcher), core.WithLogger(logger))

	info, err := engine.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover: %w", err)
	}

	runErr := make(chan error, 1)
	go func() { runErr <- engine.Run(ctx) }()

	if info.Head == 0 {
		genesis, err := genesisAction(types.ChainID(cfg.ChainID), startBlock, signer.Address())
		if err != nil {
			return err
		}
		if _, err := engine.Submit(ctx, genesis); err != nil {
			return fmt.Errorf("initialise chain state: %w", err)
		}
		logger.Info("chain state initialised",
			slog.Uint64("chain_id", cfg.ChainID),
			slog.Uint64("start_block", uint64(startBlock)))
	}

	serverOpts := []rpc.ServerOption{rpc.WithSubmitter(engine)}
	if cfg.Ingest.AuthSecretEnv != "" {
		auth, err := newAuthenticator(cfg.Ingest)
		if err != nil {
			return err
		}
		serverOpts = append(serverOpts, rpc.WithAuthenticator(auth))
	} else {
		logger.Warn("ingestion endpoint is not authenticated; blocks and contract events will be refused until Ingest.AuthSecretEnv is set")
	}
	server := &http.Server{
		Addr:              cfg.OpsAddress,
		Handler:           rpc.NewServer(engine, hub, serverOpts...).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("ops server listening", slog.String("addr", cfg.OpsAddress))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var exitErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
		exitErr = <-runErr
		if errors.Is(exitErr, context.Canceled) {
			exitErr = nil
		}
	case err := <-runErr:
		exitErr = fmt.Errorf("engine stopped: %w", err)
	case err := <-serverErr:
		stop()
		<-runErr
		exitErr = fmt.Errorf("ops server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("ops server shutdown failed", slog.Any("error", err))
	}
	if exitErr != nil {
		logger.Error("node stopped", slog.Any("error", exitErr))
	}
	return exitErr
}

func newWebhook(cfg config.Webhook, logger *slog.Logger) (*webhooks.Notifier, error) {
	secret := os.Getenv(cfg.SecretEnv)
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("webhook secret missing; set %s", cfg.SecretEnv)
	}
	opts := []webhooks.Option{webhooks.WithLogger(logger)}
	if cfg.PaymentsOnly {
		opts = append(opts, webhooks.WithFilter(webhooks.PaymentsOnly))
	}
	return webhooks.New(cfg.URL, []byte(secret), opts...)
}

func newAuthenticator(cfg config.Ingest) (*rpc.Authenticator, error) {
	secret := os.Getenv(cfg.AuthSecretEnv)
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("ingest auth secret missing; set %s", cfg.AuthSecretEnv)
	}
	return rpc.NewAuthenticator(rpc.AuthConfig{Secret: []byte(secret), Issuer: cfg.Issuer, Audience: cfg.Audience})
}

// genesisAction builds the first state change of an empty store. The PRNG
// seed is drawn once here and persisted with it.
func genesisAction(chainID types.ChainID, startBlock types.BlockNumber, us types.Address) (*types.ActionInitChain, error) {
	var seed types.Hash
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("draw prng seed: %w", err)
	}
	return &types.ActionInitChain{
		ChainID:     chainID,
		BlockNumber: startBlock,
		OurAddress:  us,
		Seed:        seed,
	}, nil
}
