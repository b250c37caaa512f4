package server

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/lox/wingo/internal/engine"
	"github.com/lox/wingo/internal/round"
)

// ServerConfig represents the complete server configuration. Optional
// blocks are nil until defaults are applied.
type ServerConfig struct {
	Server  *ServerSettings  `hcl:"server,block" yaml:"server" validate:"required"`
	Betting *BettingConfig   `hcl:"betting,block" yaml:"betting" validate:"required"`
	Payouts *PayoutConfig    `hcl:"payouts,block" yaml:"payouts" validate:"required"`
	Modes   []ModeSettings   `hcl:"mode,block" yaml:"modes" validate:"min=1,dive"`
	Wallet  *WalletConfig    `hcl:"wallet,block" yaml:"wallet" validate:"required"`
	Archive *ArchiveConfig   `hcl:"archive,block" yaml:"archive" validate:"required"`
	Relay   *RelayConfig     `hcl:"relay,block" yaml:"relay"`
	Outcome *OutcomeSettings `hcl:"outcome,block" yaml:"outcome" validate:"required"`
}

// ServerSettings contains server-level configuration
type ServerSettings struct {
	Address        string   `hcl:"address,optional" yaml:"address"`
	Port           int      `hcl:"port,optional" yaml:"port" validate:"min=1,max=65535"`
	LogLevel       string   `hcl:"log_level,optional" yaml:"log_level" validate:"oneof=debug info warn error"`
	AllowedOrigins []string `hcl:"allowed_origins,optional" yaml:"allowed_origins"`
}

// BettingConfig holds the admission rules shared by every mode.
type BettingConfig struct {
	MinBet            int64    `hcl:"min_bet,optional" yaml:"min_bet" validate:"gt=0"`
	MaxBet            int64    `hcl:"max_bet,optional" yaml:"max_bet" validate:"gtefield=MinBet"`
	CommissionPercent *float64 `hcl:"commission_percent,optional" yaml:"commission_percent" validate:"required,gte=0,lt=100"`
	Multipliers       []int64  `hcl:"multipliers,optional" yaml:"multipliers" validate:"min=1,dive,gt=0"`
	DebitAttempts     int      `hcl:"debit_attempts,optional" yaml:"debit_attempts" validate:"gt=0"`
}

// PayoutConfig holds payout factors as decimal strings, e.g. "1.9".
type PayoutConfig struct {
	Red    string `hcl:"red,optional" yaml:"red"`
	Green  string `hcl:"green,optional" yaml:"green"`
	Violet string `hcl:"violet,optional" yaml:"violet"`
	Big    string `hcl:"big,optional" yaml:"big"`
	Small  string `hcl:"small,optional" yaml:"small"`
	Number string `hcl:"number,optional" yaml:"number"`
}

// ModeSettings defines one round cadence.
type ModeSettings struct {
	Name     string `hcl:"name,label" yaml:"name" validate:"required"`
	Duration string `hcl:"duration" yaml:"duration" validate:"required"`
}

// WalletConfig selects the ledger backing bets.
type WalletConfig struct {
	Driver         string `hcl:"driver,optional" yaml:"driver" validate:"oneof=memory postgres"`
	DSN            string `hcl:"dsn,optional" yaml:"dsn" validate:"required_if=Driver postgres"`
	InitialBalance int64  `hcl:"initial_balance,optional" yaml:"initial_balance" validate:"gte=0"`
}

// ArchiveConfig selects where completed rounds are kept.
type ArchiveConfig struct {
	Driver string `hcl:"driver,optional" yaml:"driver" validate:"oneof=memory file postgres"`
	Path   string `hcl:"path,optional" yaml:"path" validate:"required_if=Driver file"`
	DSN    string `hcl:"dsn,optional" yaml:"dsn" validate:"required_if=Driver postgres"`
	Limit  int    `hcl:"limit,optional" yaml:"limit" validate:"gt=0"`
}

// RelayConfig enables event sinks. Empty fields disable a sink.
type RelayConfig struct {
	RedisAddr    string   `hcl:"redis_addr,optional" yaml:"redis_addr"`
	RedisChannel string   `hcl:"redis_channel,optional" yaml:"redis_channel"`
	KafkaBrokers []string `hcl:"kafka_brokers,optional" yaml:"kafka_brokers"`
	KafkaTopic   string   `hcl:"kafka_topic,optional" yaml:"kafka_topic"`
	NATSURL      string   `hcl:"nats_url,optional" yaml:"nats_url"`
	NATSSubject  string   `hcl:"nats_subject,optional" yaml:"nats_subject"`
}

// OutcomeSettings selects the outcome generator.
type OutcomeSettings struct {
	Generator string `hcl:"generator,optional" yaml:"generator" validate:"oneof=crypto provably_fair seeded"`
	Seed      int64  `hcl:"seed,optional" yaml:"seed"`
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() *ServerConfig {
	c := &ServerConfig{}
	c.applyDefaults()
	return c
}

// LoadServerConfig loads configuration from an HCL file, or YAML when the
// file ends in .yaml or .yml. A missing file yields the defaults.
func LoadServerConfig(filename string) (*ServerConfig, error) {
	if _, err := os.Stat(filename); errors.Is(err, os.ErrNotExist) {
		return DefaultServerConfig(), nil
	}

	var config ServerConfig
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	default:
		parser := hclparse.NewParser()
		file, diags := parser.ParseHCLFile(filename)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
		}
		diags = gohcl.DecodeBody(file.Body, nil, &config)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
		}
	}

	config.applyDefaults()
	return &config, nil
}

func (c *ServerConfig) applyDefaults() {
	def := engine.DefaultConfig()

	if c.Server == nil {
		c.Server = &ServerSettings{}
	}
	if c.Server.Address == "" {
		c.Server.Address = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	if c.Betting == nil {
		c.Betting = &BettingConfig{}
	}
	if c.Betting.CommissionPercent == nil {
		commission := defaultCommissionPercent
		c.Betting.CommissionPercent = &commission
	}
	if c.Betting.MinBet == 0 {
		c.Betting.MinBet = def.MinBet
	}
	if c.Betting.MaxBet == 0 {
		c.Betting.MaxBet = def.MaxBet
	}
	if len(c.Betting.Multipliers) == 0 {
		c.Betting.Multipliers = append([]int64(nil), def.Multipliers...)
	}
	if c.Betting.DebitAttempts == 0 {
		c.Betting.DebitAttempts = def.DebitAttempts
	}

	if c.Payouts == nil {
		c.Payouts = &PayoutConfig{}
	}
	p := def.Payouts
	for _, f := range []struct {
		field *string
		value decimal.Decimal
	}{
		{&c.Payouts.Red, p.Red},
		{&c.Payouts.Green, p.Green},
		{&c.Payouts.Violet, p.Violet},
		{&c.Payouts.Big, p.Big},
		{&c.Payouts.Small, p.Small},
		{&c.Payouts.Number, p.Number},
	} {
		if *f.field == "" {
			*f.field = f.value.String()
		}
	}

	if len(c.Modes) == 0 {
		for _, m := range def.Modes {
			c.Modes = append(c.Modes, ModeSettings{Name: string(m.Name), Duration: m.Duration.String()})
		}
	}

	if c.Wallet == nil {
		c.Wallet = &WalletConfig{}
	}
	if c.Wallet.Driver == "" {
		c.Wallet.Driver = "memory"
	}
	if c.Wallet.InitialBalance == 0 {
		c.Wallet.InitialBalance = 10000
	}

	if c.Archive == nil {
		c.Archive = &ArchiveConfig{}
	}
	if c.Archive.Driver == "" {
		c.Archive.Driver = "memory"
	}
	if c.Archive.Limit == 0 {
		c.Archive.Limit = 100
	}

	if c.Relay == nil {
		c.Relay = &RelayConfig{}
	}
	if c.Relay.RedisChannel == "" {
		c.Relay.RedisChannel = "wingo.events"
	}
	if c.Relay.KafkaTopic == "" {
		c.Relay.KafkaTopic = "wingo.events"
	}
	if c.Relay.NATSSubject == "" {
		c.Relay.NATSSubject = "wingo.events"
	}

	if c.Outcome == nil {
		c.Outcome = &OutcomeSettings{}
	}
	if c.Outcome.Generator == "" {
		c.Outcome.Generator = "provably_fair"
	}
}

const defaultCommissionPercent = 5.0

var validate = validator.New()

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	_, err := c.EngineConfig()
	return err
}

// Address returns the full server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}

// MaxRTP is the highest return any selection may offer: one minus the
// commission.
func (c *ServerConfig) MaxRTP() decimal.Decimal {
	percent := defaultCommissionPercent
	if c.Betting.CommissionPercent != nil {
		percent = *c.Betting.CommissionPercent
	}
	commission := decimal.NewFromFloat(percent).Div(decimal.NewFromInt(100))
	return decimal.NewFromInt(1).Sub(commission)
}

// PayoutTable parses the configured payout factors.
func (c *ServerConfig) PayoutTable() (round.PayoutTable, error) {
	var t round.PayoutTable
	for _, f := range []struct {
		name  string
		value string
		dst   *decimal.Decimal
	}{
		{"red", c.Payouts.Red, &t.Red},
		{"green", c.Payouts.Green, &t.Green},
		{"violet", c.Payouts.Violet, &t.Violet},
		{"big", c.Payouts.Big, &t.Big},
		{"small", c.Payouts.Small, &t.Small},
		{"number", c.Payouts.Number, &t.Number},
	} {
		d, err := decimal.NewFromString(f.value)
		if err != nil {
			return round.PayoutTable{}, fmt.Errorf("payout %s: %w", f.name, err)
		}
		*f.dst = d
	}
	return t, nil
}

// EngineConfig converts the configuration into engine rules, checking the
// payout table against the commission.
func (c *ServerConfig) EngineConfig() (engine.Config, error) {
	cfg := engine.DefaultConfig()
	cfg.MinBet = c.Betting.MinBet
	cfg.MaxBet = c.Betting.MaxBet
	cfg.Multipliers = append([]int64(nil), c.Betting.Multipliers...)
	cfg.DebitAttempts = c.Betting.DebitAttempts

	payouts, err := c.PayoutTable()
	if err != nil {
		return engine.Config{}, err
	}
	if err := payouts.Validate(c.MaxRTP()); err != nil {
		return engine.Config{}, err
	}
	cfg.Payouts = payouts

	cfg.Modes = cfg.Modes[:0:0]
	seen := make(map[string]bool)
	for _, m := range c.Modes {
		if seen[m.Name] {
			return engine.Config{}, fmt.Errorf("duplicate mode %q", m.Name)
		}
		seen[m.Name] = true
		d, err := time.ParseDuration(m.Duration)
		if err != nil {
			return engine.Config{}, fmt.Errorf("mode %s: invalid duration %q: %w", m.Name, m.Duration, err)
		}
		if d <= 0 {
			return engine.Config{}, fmt.Errorf("mode %s: duration must be positive", m.Name)
		}
		cfg.Modes = append(cfg.Modes, round.ModeConfig{Name: round.Mode(m.Name), Duration: d})
	}
	return cfg, nil
}
