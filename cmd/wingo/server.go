package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/lox/wingo/internal/archive"
	"github.com/lox/wingo/internal/engine"
	"github.com/lox/wingo/internal/metrics"
	"github.com/lox/wingo/internal/outcome"
	"github.com/lox/wingo/internal/relay"
	"github.com/lox/wingo/internal/server"
	"github.com/lox/wingo/internal/wallet"
)

const shutdownTimeout = 5 * time.Second

type ServerCmd struct {
	Config   string `short:"c" default:"wingo-server.hcl" env:"WINGO_CONFIG" help:"Path to HCL or YAML configuration file"`
	Addr     string `short:"a" env:"WINGO_ADDR" help:"Address to bind to (overrides config)"`
	LogLevel string `short:"l" env:"WINGO_LOG_LEVEL" help:"Log level (overrides config)"`
}

func (c *ServerCmd) Run() error {
	cfg, err := server.LoadServerConfig(c.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if c.LogLevel != "" {
		cfg.Server.LogLevel = c.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	addr := cfg.Address()
	if c.Addr != "" {
		addr = c.Addr
	}

	logger := newLogger(os.Stderr, cfg.Server.LogLevel)
	ctx, cancel := signalContext(logger)
	defer cancel()

	engCfg, err := cfg.EngineConfig()
	if err != nil {
		return err
	}

	ledger, closeLedger, err := openLedger(ctx, cfg.Wallet)
	if err != nil {
		return err
	}
	defer closeLedger()

	store, closeStore, err := openArchive(ctx, cfg.Archive)
	if err != nil {
		return err
	}
	defer closeStore()

	gen, err := newGenerator(cfg.Outcome)
	if err != nil {
		return err
	}

	collector := metrics.New()
	eng, err := engine.New(logger, engCfg,
		engine.WithLedger(ledger),
		engine.WithArchive(store),
		engine.WithGenerator(gen),
		engine.WithMetrics(collector),
	)
	if err != nil {
		return err
	}

	sinks, err := openSinks(ctx, cfg.Relay, logger)
	if err != nil {
		return err
	}
	rel := relay.New(eng, logger, sinks...)

	srv := server.NewServer(eng, logger,
		server.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		server.WithMetrics(collector, collector.Handler()),
	)

	logger.Info("Starting wingo server",
		"addr", addr,
		"modes", len(engCfg.Modes),
		"wallet", cfg.Wallet.Driver,
		"archive", cfg.Archive.Driver,
		"generator", cfg.Outcome.Generator,
		"sinks", len(sinks))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(gctx) })
	g.Go(func() error { return rel.Run(gctx) })
	g.Go(func() error { return srv.Start(addr) })
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("Shutting down server...")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openLedger(ctx context.Context, cfg *server.WalletConfig) (wallet.Ledger, func(), error) {
	switch cfg.Driver {
	case "postgres":
		db, err := wallet.OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		ledger := wallet.NewPostgres(db, cfg.InitialBalance)
		if err := ledger.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return ledger, func() { _ = db.Close() }, nil
	default:
		return wallet.NewMemory(cfg.InitialBalance), func() {}, nil
	}
}

func openArchive(ctx context.Context, cfg *server.ArchiveConfig) (archive.Store, func(), error) {
	switch cfg.Driver {
	case "file":
		f, err := archive.OpenFile(cfg.Path, cfg.Limit)
		if err != nil {
			return nil, nil, err
		}
		return f, func() {}, nil
	case "postgres":
		p, err := archive.OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	default:
		return archive.NewMemory(cfg.Limit), func() {}, nil
	}
}

func newGenerator(cfg *server.OutcomeSettings) (outcome.Generator, error) {
	switch cfg.Generator {
	case "crypto":
		return outcome.Crypto{}, nil
	case "seeded":
		return outcome.NewSeeded(cfg.Seed), nil
	case "provably_fair":
		return outcome.NewProvablyFair(0), nil
	}
	return nil, fmt.Errorf("unknown outcome generator %q", cfg.Generator)
}

// openSinks connects every configured relay sink, closing the ones already
// opened if a later one fails.
func openSinks(ctx context.Context, cfg *server.RelayConfig, logger *log.Logger) ([]relay.Sink, error) {
	if cfg == nil {
		return nil, nil
	}

	var sinks []relay.Sink
	fail := func(err error) ([]relay.Sink, error) {
		for _, s := range sinks {
			_ = s.Close()
		}
		return nil, err
	}

	if cfg.RedisAddr != "" {
		s, err := relay.NewRedisSink(ctx, cfg.RedisAddr, cfg.RedisChannel)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, s)
	}
	if len(cfg.KafkaBrokers) > 0 {
		sinks = append(sinks, relay.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic))
	}
	if cfg.NATSURL != "" {
		s, err := relay.NewNATSSink(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, s)
	}

	for _, s := range sinks {
		logger.Info("Relay sink enabled", "sink", s.Name())
	}
	return sinks, nil
}
