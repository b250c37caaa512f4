package main

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/wingo/internal/archive"
	"github.com/lox/wingo/internal/outcome"
	"github.com/lox/wingo/internal/server"
	"github.com/lox/wingo/internal/wallet"
)

func TestNewGenerator(t *testing.T) {
	gen, err := newGenerator(&server.OutcomeSettings{Generator: "provably_fair"})
	require.NoError(t, err)
	assert.IsType(t, &outcome.ProvablyFair{}, gen)

	gen, err = newGenerator(&server.OutcomeSettings{Generator: "crypto"})
	require.NoError(t, err)
	assert.IsType(t, outcome.Crypto{}, gen)

	a, err := newGenerator(&server.OutcomeSettings{Generator: "seeded", Seed: 7})
	require.NoError(t, err)
	b, _ := newGenerator(&server.OutcomeSettings{Generator: "seeded", Seed: 7})
	for i := 0; i < 20; i++ {
		x, err := a.Generate(context.Background(), "")
		require.NoError(t, err)
		y, _ := b.Generate(context.Background(), "")
		assert.Equal(t, x, y)
	}

	_, err = newGenerator(&server.OutcomeSettings{Generator: "dice"})
	assert.Error(t, err)
}

func TestOpenDefaults(t *testing.T) {
	cfg := server.DefaultServerConfig()

	ledger, closeLedger, err := openLedger(context.Background(), cfg.Wallet)
	require.NoError(t, err)
	defer closeLedger()
	assert.IsType(t, &wallet.Memory{}, ledger)

	store, closeStore, err := openArchive(context.Background(), cfg.Archive)
	require.NoError(t, err)
	defer closeStore()
	assert.IsType(t, &archive.Memory{}, store)

	sinks, err := openSinks(context.Background(), &server.RelayConfig{}, log.New(io.Discard))
	require.NoError(t, err)
	assert.Empty(t, sinks)
}

func TestOpenFileArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rounds.json")
	store, closeStore, err := openArchive(context.Background(), &server.ArchiveConfig{Driver: "file", Path: path, Limit: 10})
	require.NoError(t, err)
	defer closeStore()
	assert.IsType(t, &archive.File{}, store)
}

func TestNewLogger(t *testing.T) {
	assert.Equal(t, log.DebugLevel, newLogger(io.Discard, "debug").GetLevel())
	assert.Equal(t, log.InfoLevel, newLogger(io.Discard, "loud").GetLevel())
}
