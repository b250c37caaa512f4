package main

import (
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/lox/wingo/internal/client"
	"github.com/lox/wingo/internal/round"
	"github.com/lox/wingo/internal/tui"
)

type ClientCmd struct {
	Config  string `short:"c" default:"wingo-client.hcl" env:"WINGO_CLIENT_CONFIG" help:"Path to HCL configuration file"`
	Server  string `short:"s" env:"WINGO_SERVER" help:"Server URL (overrides config)"`
	User    string `short:"u" env:"WINGO_USER" help:"User ID (overrides config, defaults to $USER)"`
	Mode    string `short:"m" help:"Mode to follow (overrides config)"`
	NoColor bool   `help:"Disable colours" env:"NO_COLOR"`
}

func (c *ClientCmd) Run() error {
	cfg, err := client.LoadClientConfig(c.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if c.Server != "" {
		cfg.Server.URL = c.Server
	}
	if c.User != "" {
		cfg.Player.UserID = c.User
	}
	if cfg.Player.UserID == "" {
		cfg.Player.UserID = os.Getenv("USER")
	}
	if c.Mode != "" {
		cfg.Player.Mode = c.Mode
	}
	if c.NoColor {
		cfg.UI.NoColor = true
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// The terminal belongs to the UI, so logs go to a file.
	var logOut io.Writer = io.Discard
	if cfg.UI.LogFile != "" {
		f, err := os.OpenFile(cfg.UI.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}
	logger := newLogger(logOut, cfg.UI.LogLevel)

	ctx, cancel := signalContext(logger)
	defer cancel()

	observer := &tui.ProgramObserver{}
	minDelay, maxDelay := cfg.Backoff()
	cl := client.NewClient(cfg.Server.URL, cfg.Player.UserID, round.Mode(cfg.Player.Mode), logger,
		client.WithObserver(observer),
		client.WithBackoff(minDelay, maxDelay),
	)

	model := tui.NewTUIModel(cl, logger, tui.Options{
		DefaultStake:   cfg.Player.DefaultStake,
		RevealDuration: cfg.RevealDuration(),
		NoColor:        cfg.UI.NoColor,
	})
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	observer.Attach(program)

	go func() {
		if err := cl.Run(ctx); err != nil {
			logger.Error("Client stopped", "error", err)
		}
	}()

	_, err = program.Run()
	cancel()
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
