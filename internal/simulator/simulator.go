// Package simulator measures the return-to-player of a payout table by
// settling a bet on every selection against many seeded outcomes.
package simulator

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/lox/wingo/internal/outcome"
	"github.com/lox/wingo/internal/round"
)

// Config holds configuration for running simulations
type Config struct {
	Rounds  int
	Workers int
	Seed    int64
	Stake   int64
	Payouts round.PayoutTable
	Logger  *log.Logger
}

// SelectionResult is the observed return for one selection.
type SelectionResult struct {
	Kind        round.Kind
	Value       string
	Staked      int64
	Paid        int64
	Wins        int
	Observed    decimal.Decimal
	Theoretical decimal.Decimal
}

// Report summarises a simulation run.
type Report struct {
	Rounds     int
	Digits     [10]int
	Selections []SelectionResult
}

// Simulator runs payout simulations
type Simulator struct {
	config Config
}

// New creates a new simulator with the given configuration
func New(config Config) *Simulator {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.Stake <= 0 {
		config.Stake = 100
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}
	return &Simulator{config: config}
}

type tally struct {
	digits [10]int
	paid   []int64
	wins   []int
}

// Run executes the simulation across workers, each with its own seeded
// stream, and merges their tallies.
func (s *Simulator) Run(ctx context.Context) (*Report, error) {
	if s.config.Rounds <= 0 {
		return nil, fmt.Errorf("rounds must be positive, got %d", s.config.Rounds)
	}

	selections := round.AllSelections()
	tallies := make([]tally, s.config.Workers)
	g, ctx := errgroup.WithContext(ctx)

	for w := 0; w < s.config.Workers; w++ {
		n := s.config.Rounds / s.config.Workers
		if w < s.config.Rounds%s.config.Workers {
			n++
		}
		t := &tallies[w]
		t.paid = make([]int64, len(selections))
		t.wins = make([]int, len(selections))
		gen := outcome.NewSeeded(s.config.Seed + int64(w))

		g.Go(func() error {
			return s.work(ctx, gen, n, selections, t)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &Report{Rounds: s.config.Rounds}
	staked := s.config.Stake * int64(s.config.Rounds)
	for i, sel := range selections {
		res := SelectionResult{Kind: sel.Kind, Value: sel.Value, Staked: staked}
		for _, t := range tallies {
			res.Paid += t.paid[i]
			res.Wins += t.wins[i]
		}
		res.Observed = decimal.NewFromInt(res.Paid).Div(decimal.NewFromInt(staked))
		rtp, err := s.config.Payouts.RTP(sel.Kind, sel.Value)
		if err != nil {
			return nil, err
		}
		res.Theoretical = rtp
		report.Selections = append(report.Selections, res)
	}
	for _, t := range tallies {
		for d, c := range t.digits {
			report.Digits[d] += c
		}
	}

	s.config.Logger.Info("Simulation complete", "rounds", s.config.Rounds, "workers", s.config.Workers, "seed", s.config.Seed)
	return report, nil
}

func (s *Simulator) work(ctx context.Context, gen outcome.Generator, rounds int, selections []round.Selection, t *tally) error {
	for r := 0; r < rounds; r++ {
		v, err := gen.Generate(ctx, "")
		if err != nil {
			return err
		}
		t.digits[v]++
		for i, sel := range selections {
			bet := round.Bet{Kind: sel.Kind, Selection: sel.Value, Stake: s.config.Stake, Multiplier: 1}
			st, err := s.config.Payouts.Evaluate(bet, v)
			if err != nil {
				return fmt.Errorf("evaluate %s %s: %w", sel.Kind, sel.Value, err)
			}
			if st.Won {
				t.paid[i] += st.Payout
				t.wins[i]++
			}
		}
	}
	return nil
}

// String renders the report as a table.
func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rounds: %d\n\n", r.Rounds)
	fmt.Fprintf(&b, "%-8s %-8s %8s %10s %12s\n", "kind", "value", "wins", "observed", "theoretical")
	for _, s := range r.Selections {
		fmt.Fprintf(&b, "%-8s %-8s %8d %10s %12s\n", s.Kind, s.Value, s.Wins, s.Observed.StringFixed(4), s.Theoretical.StringFixed(4))
	}
	b.WriteString("\nDigits:")
	for d, c := range r.Digits {
		fmt.Fprintf(&b, " %d=%d", d, c)
	}
	b.WriteString("\n")
	return b.String()
}
