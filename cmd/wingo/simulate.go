package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/lox/wingo/internal/server"
	"github.com/lox/wingo/internal/simulator"
)

type SimulateCmd struct {
	Config  string `short:"c" default:"wingo-server.hcl" env:"WINGO_CONFIG" help:"Server configuration supplying the payout table"`
	Rounds  int    `short:"n" default:"100000" help:"Number of rounds to simulate"`
	Workers int    `short:"w" help:"Parallel workers (defaults to CPU count)"`
	Seed    int64  `default:"1" help:"Base seed; worker i uses seed+i"`
	Stake   int64  `default:"100" help:"Stake placed on every selection each round"`
}

func (c *SimulateCmd) Run() error {
	cfg, err := server.LoadServerConfig(c.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	payouts, err := cfg.PayoutTable()
	if err != nil {
		return err
	}
	if err := payouts.Validate(cfg.MaxRTP()); err != nil {
		return err
	}

	workers := c.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	logger := newLogger(os.Stderr, "info")
	ctx, cancel := signalContext(logger)
	defer cancel()

	report, err := simulator.New(simulator.Config{
		Rounds:  c.Rounds,
		Workers: workers,
		Seed:    c.Seed,
		Stake:   c.Stake,
		Payouts: payouts,
		Logger:  logger,
	}).Run(ctx)
	if err != nil {
		return err
	}

	fmt.Print(report.String())
	return nil
}
