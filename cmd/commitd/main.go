package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/holiman/uint256"

	"commitvault/config"
	"commitvault/core/events"
	"commitvault/core/state"
	"commitvault/core/types"
	"commitvault/native/commitment"
	"commitvault/observability"
	"commitvault/observability/logging"
	"commitvault/observability/metrics"
	telemetry "commitvault/observability/otel"
	"commitvault/rpc"
	"commitvault/storage"
	"commitvault/storage/audit"
)

const (
	serviceName      = "commitd"
	eventBacklog     = 256
	subscriberBuffer = 64
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file (.toml or .yaml)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, closer := logging.Setup(logging.Options{
		Service: serviceName,
		Env:     cfg.Environment,
		File:    cfg.LogFile,
	})
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("commitd exited with error", slog.Any("error", err))
		closer.Close()
		os.Exit(1)
	}
	logger.Info("commitd stopped")
}

// run wires storage, the engine and the RPC server, and blocks until ctx is
// cancelled or the listener fails.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("prepare data directory: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()

	manager := state.NewManager(db)
	allocs, err := genesisAllocs(cfg.Genesis)
	if err != nil {
		return err
	}
	applied, err := manager.ApplyGenesis(allocs)
	if err != nil {
		return fmt.Errorf("apply genesis: %w", err)
	}
	if applied {
		logger.Info("genesis balances applied", slog.Int("accounts", len(allocs)))
	}

	journal, err := audit.Open(cfg.AuditDatabase)
	if err != nil {
		return fmt.Errorf("open audit journal: %w", err)
	}
	defer journal.Close()

	broadcaster := events.NewBroadcaster(eventBacklog, subscriberBuffer)
	engine := commitment.NewEngine(manager)
	engine.SetEmitter(events.MultiEmitter{broadcaster, observability.Events()})
	engine.SetMetrics(metrics.Commitments())
	locked, err := manager.LockedStake()
	if err != nil {
		return fmt.Errorf("read locked stake: %w", err)
	}
	metrics.Commitments().SetLockedStake(locked.ToBig())

	server, err := rpc.NewServer(engine, manager, journal, broadcaster, rpc.ServerConfig{
		Auth: rpc.AuthConfig{
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			ClockSkew:  cfg.Auth.ClockSkew,
		},
		RateLimit: rpc.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		TrustedProxies: append([]string(nil), cfg.TrustedProxies...),
		ServiceName:    serviceName,
	}, logger)
	if err != nil {
		return fmt.Errorf("build rpc server: %w", err)
	}

	ln, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddress, err)
	}
	logger.Info("commitd starting",
		logging.MaskField("address", ln.Addr().String()),
		logging.MaskField("data_dir", cfg.DataDir),
		logging.MaskSecret("auth_secret", cfg.Auth.HMACSecret))
	if cfg.Auth.HMACSecret == "" {
		logger.Warn("no auth secret configured; mutating calls will be rejected")
	}

	if err := server.Serve(ctx, ln); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func genesisAllocs(accounts []config.GenesisAccount) ([]state.GenesisAlloc, error) {
	allocs := make([]state.GenesisAlloc, 0, len(accounts))
	for i, account := range accounts {
		addr, err := types.ParseAddress(strings.TrimSpace(account.Address))
		if err != nil {
			return nil, fmt.Errorf("genesis[%d]: %w", i, err)
		}
		balance, err := config.ParseBalance(account.Balance)
		if err != nil {
			return nil, fmt.Errorf("genesis[%d]: %w", i, err)
		}
		amount, overflow := uint256.FromBig(balance)
		if overflow {
			return nil, fmt.Errorf("genesis[%d]: balance exceeds 256 bits", i)
		}
		allocs = append(allocs, state.GenesisAlloc{Address: addr, Balance: amount})
	}
	return allocs, nil
}
