// Package engine runs the round lifecycle for every game mode: the round
// clock, bet admission, outcome generation, settlement and the event
// stream clients follow.
package engine

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"golang.org/x/sync/errgroup"

	"github.com/lox/wingo/internal/archive"
	"github.com/lox/wingo/internal/ids"
	"github.com/lox/wingo/internal/outcome"
	"github.com/lox/wingo/internal/round"
	"github.com/lox/wingo/internal/wallet"
)

// Engine is the round registry. It owns one Runner per mode; the set of
// modes is fixed at construction.
type Engine struct {
	cfg     Config
	clock   quartz.Clock
	ledger  wallet.Ledger
	gen     outcome.Generator
	ids     *ids.Generator
	archive archive.Store
	metrics Metrics
	logger  *log.Logger

	runners map[round.Mode]*Runner
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock driving round timing.
func WithClock(clock quartz.Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithLedger sets the wallet ledger.
func WithLedger(l wallet.Ledger) Option {
	return func(e *Engine) { e.ledger = l }
}

// WithGenerator sets the outcome generator.
func WithGenerator(g outcome.Generator) Option {
	return func(e *Engine) { e.gen = g }
}

// WithIDs sets the identifier generator.
func WithIDs(g *ids.Generator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithArchive sets where completed rounds are recorded.
func WithArchive(s archive.Store) Option {
	return func(e *Engine) { e.archive = s }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New builds an engine and opens the first round of every mode.
func New(logger *log.Logger, cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}

	e := &Engine{
		cfg:     cfg,
		clock:   quartz.NewReal(),
		gen:     outcome.Crypto{},
		ids:     ids.NewGenerator(nil),
		metrics: nopMetrics{},
		logger:  logger.WithPrefix("engine"),
		runners: make(map[round.Mode]*Runner, len(cfg.Modes)),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.ledger == nil {
		return nil, fmt.Errorf("engine requires a wallet ledger")
	}
	if e.archive == nil {
		e.archive = archive.NewMemory(100)
	}

	for _, m := range cfg.Modes {
		r := &Runner{
			mode:     m.Name,
			duration: m.Duration,
			cfg:      &e.cfg,
			clock:    e.clock,
			ledger:   e.ledger,
			gen:      e.gen,
			ids:      e.ids,
			archive:  e.archive,
			metrics:  e.metrics,
			logger:   e.logger.With("mode", m.Name),
			bus:      NewBroadcaster(e.logger.With("mode", m.Name), cfg.SubscriberBuffer),
			kick:     make(chan struct{}, 1),
		}
		r.start()
		e.runners[m.Name] = r
	}
	return e, nil
}

// Run drives every mode until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, m := range e.cfg.Modes {
		r := e.runners[m.Name]
		g.Go(func() error {
			return r.Run(ctx)
		})
	}
	e.logger.Info("Engine running", "modes", len(e.runners))
	return g.Wait()
}

// Runner returns the runner for a mode.
func (e *Engine) Runner(mode round.Mode) (*Runner, error) {
	r, ok := e.runners[mode]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	return r, nil
}

// Modes lists the configured modes in configuration order.
func (e *Engine) Modes() []round.ModeConfig {
	out := make([]round.ModeConfig, len(e.cfg.Modes))
	copy(out, e.cfg.Modes)
	return out
}

// Config returns the engine's betting rules.
func (e *Engine) Config() Config {
	return e.cfg
}

// PlaceBet admits a bet on the current round of req.Mode.
func (e *Engine) PlaceBet(ctx context.Context, req BetRequest) (round.Bet, error) {
	r, err := e.Runner(req.Mode)
	if err != nil {
		return round.Bet{}, err
	}
	return r.PlaceBet(ctx, req)
}

// CurrentRound returns the live snapshot of a mode for userID.
func (e *Engine) CurrentRound(mode round.Mode, userID string) (Snapshot, error) {
	r, err := e.Runner(mode)
	if err != nil {
		return Snapshot{}, err
	}
	return r.Snapshot(userID), nil
}

// Subscribe opens a subscription to a mode's event stream.
func (e *Engine) Subscribe(mode round.Mode, opts SubscribeOptions) (*Subscription, error) {
	r, err := e.Runner(mode)
	if err != nil {
		return nil, err
	}
	return r.bus.Subscribe(opts), nil
}

// Advance runs every due transition on all modes.
func (e *Engine) Advance(ctx context.Context) error {
	for _, m := range e.cfg.Modes {
		if err := e.runners[m.Name].Advance(ctx); err != nil {
			return err
		}
	}
	return nil
}

// History returns recently completed rounds of a mode, newest first.
func (e *Engine) History(ctx context.Context, mode round.Mode, limit int) ([]archive.Summary, error) {
	if _, err := e.Runner(mode); err != nil {
		return nil, err
	}
	return e.archive.Recent(ctx, mode, limit)
}

// Balance returns a user's wallet balance.
func (e *Engine) Balance(ctx context.Context, userID string) (int64, error) {
	return e.ledger.Balance(ctx, userID)
}
