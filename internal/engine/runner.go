package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"golang.org/x/sync/errgroup"

	"github.com/lox/wingo/internal/archive"
	"github.com/lox/wingo/internal/ids"
	"github.com/lox/wingo/internal/outcome"
	"github.com/lox/wingo/internal/round"
	"github.com/lox/wingo/internal/wallet"
)

// Runner owns the active round of one mode. Phase changes, bet admission
// and snapshots all synchronise on mu; Advance is additionally serialised
// so only one goroutine drives a round through settlement.
type Runner struct {
	mode     round.Mode
	duration time.Duration
	cfg      *Config
	clock    quartz.Clock
	ledger   wallet.Ledger
	gen      outcome.Generator
	ids      *ids.Generator
	archive  archive.Store
	metrics  Metrics
	logger   *log.Logger
	bus      *Broadcaster

	advanceMu sync.Mutex

	mu         sync.Mutex
	cur        *roundState
	lastResult *RoundResult
	seq        uint64

	kick chan struct{}
}

type roundState struct {
	round       *round.Round
	bets        map[string]round.Bet
	order       []string
	reserved    map[string]struct{}
	inflight    sync.WaitGroup
	settlements map[string]round.Settlement
	credited    map[string]bool
	lockedAt    time.Time
}

func newRoundState(r *round.Round) *roundState {
	return &roundState{
		round:       r,
		bets:        make(map[string]round.Bet),
		reserved:    make(map[string]struct{}),
		settlements: make(map[string]round.Settlement),
		credited:    make(map[string]bool),
	}
}

// BetRequest asks to place one bet on the current round of a mode.
type BetRequest struct {
	UserID     string
	Mode       round.Mode
	RoundID    string
	Kind       round.Kind
	Selection  string
	Stake      int64
	Multiplier int64
}

// Snapshot is the live state of a mode for clients that just connected.
// A round in progress never exposes its result; the previous round's
// result is carried in LastResult.
type Snapshot struct {
	Round           round.Round  `json:"round"`
	Seq             uint64       `json:"seq"`
	ServerTime      time.Time    `json:"serverTime"`
	TimeLeftSeconds int          `json:"timeLeftSeconds"`
	LastResult      *RoundResult `json:"lastResult,omitempty"`
	Bet             *round.Bet   `json:"bet,omitempty"`
}

func (r *Runner) start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.openLocked(r.clock.Now())
}

// openLocked creates the next betting round starting at start.
func (r *Runner) openLocked(start time.Time) {
	rd := round.New(r.ids.Round(), r.mode, start, r.duration)
	if c, ok := r.gen.(outcome.Committer); ok {
		hash, err := c.Commit(rd.ID)
		if err != nil {
			// Generation commits again before drawing, so the round still settles.
			r.logger.Error("Failed to commit outcome seed", "round", rd.ID, "error", err)
		}
		rd.SeedHash = hash
	}
	r.cur = newRoundState(rd)
	r.logger.Debug("Round opened", "round", rd.ID, "end", rd.EndTime)
	r.publishLocked(RoundUpdate{
		EventMeta: r.metaLocked(rd.ID),
		Status:    rd.Status,
		StartTime: rd.StartTime,
		EndTime:   rd.EndTime,
		SeedHash:  rd.SeedHash,
	})
}

func (r *Runner) metaLocked(roundID string) EventMeta {
	return EventMeta{Mode: r.mode, RoundID: roundID, Time: r.clock.Now()}
}

// publishLocked stamps the next sequence number and publishes. Holding mu
// keeps sequence order identical to snapshot order.
func (r *Runner) publishLocked(ev Event) {
	r.seq++
	switch e := ev.(type) {
	case RoundUpdate:
		e.Seq = r.seq
		ev = e
	case RoundResult:
		e.Seq = r.seq
		ev = e
	case TimerUpdate:
		e.Seq = r.seq
		ev = e
	case BetSettled:
		e.Seq = r.seq
		ev = e
	}
	r.bus.Publish(ev)
}

func (r *Runner) publishStatusLocked(st *roundState) {
	rd := st.round
	r.publishLocked(RoundUpdate{
		EventMeta: r.metaLocked(rd.ID),
		Status:    rd.Status,
		StartTime: rd.StartTime,
		EndTime:   rd.EndTime,
		SeedHash:  rd.SeedHash,
	})
}

// lockIfDueLocked closes betting once the end time has passed.
func (r *Runner) lockIfDueLocked(now time.Time) bool {
	st := r.cur
	if st.round.Status != round.StatusBetting || now.Before(st.round.EndTime) {
		return false
	}
	_ = st.round.Transition(round.StatusLocked)
	st.lockedAt = now
	r.logger.Info("Round locked", "round", st.round.ID, "bets", len(st.bets), "pending", len(st.reserved))
	r.publishStatusLocked(st)
	return true
}

// Advance performs every transition that is due at the current time. It
// returns once the round is back in betting, or with the context error if
// cancelled part way; a later call resumes where this one stopped without
// regenerating a committed result.
func (r *Runner) Advance(ctx context.Context) error {
	r.advanceMu.Lock()
	defer r.advanceMu.Unlock()

	r.mu.Lock()
	r.lockIfDueLocked(r.clock.Now())
	st := r.cur
	status := st.round.Status
	r.mu.Unlock()

	if status == round.StatusBetting {
		return nil
	}

	// Bets that passed the phase check before the lock are still debiting.
	st.inflight.Wait()

	r.mu.Lock()
	if st.round.Status == round.StatusLocked {
		_ = st.round.Transition(round.StatusSettling)
		r.publishStatusLocked(st)
	}
	r.mu.Unlock()

	if err := r.commitOutcome(ctx, st); err != nil {
		return err
	}
	if err := r.settle(ctx, st); err != nil {
		return err
	}
	r.complete(ctx, st)
	return nil
}

func (r *Runner) commitOutcome(ctx context.Context, st *roundState) error {
	r.mu.Lock()
	done := st.round.HasResult()
	id, committed := st.round.ID, st.round.SeedHash
	r.mu.Unlock()
	if done {
		return nil
	}

	for attempt := 1; ; attempt++ {
		v, err := r.generate(ctx, id, committed)
		if err == nil {
			r.mu.Lock()
			err = st.round.SetResult(v)
			r.mu.Unlock()
			if err != nil {
				return fmt.Errorf("commit result: %w", err)
			}
			r.logger.Debug("Outcome committed", "round", id)
			return nil
		}
		r.logger.Warn("Outcome generation failed, retrying", "round", id, "attempt", attempt, "error", err)
		r.metrics.SettlementRetry(r.mode)
		if err := r.sleep(ctx, r.cfg.backoff(attempt)); err != nil {
			return err
		}
	}
}

// generate draws the result. A committing generator must still hold the
// seed whose hash was published with the round.
func (r *Runner) generate(ctx context.Context, roundID, committed string) (int, error) {
	if c, ok := r.gen.(outcome.Committer); ok {
		hash, err := c.Commit(roundID)
		if err != nil {
			return 0, err
		}
		if committed != "" && hash != committed {
			return 0, fmt.Errorf("%w: round %s", ErrCommitmentMismatch, roundID)
		}
	}
	v, err := r.gen.Generate(ctx, roundID)
	if err != nil {
		return 0, err
	}
	if v < 0 || v > 9 {
		return 0, fmt.Errorf("%w: %d", round.ErrResultOutOfRange, v)
	}
	return v, nil
}

// settle writes a settlement record for every bet once, then credits
// winners in parallel. Each credit retries on its own until it succeeds.
func (r *Runner) settle(ctx context.Context, st *roundState) error {
	r.mu.Lock()
	v := *st.round.Result
	now := r.clock.Now()
	var pending []round.Bet
	for _, userID := range st.order {
		bet := st.bets[userID]
		if _, ok := st.settlements[bet.ID]; !ok {
			if bet.Amount() > r.cfg.MaxBet {
				r.logger.Error("Settling bet above max bet", "bet", bet.ID, "amount", bet.Amount(), "max", r.cfg.MaxBet)
			}
			s, err := r.cfg.Payouts.Evaluate(bet, v)
			if err != nil {
				// Admission validated the selection; treat anything else as a loss.
				r.logger.Error("Failed to evaluate bet", "bet", bet.ID, "error", err)
			}
			s.SettledAt = now
			st.settlements[bet.ID] = s
		}
		if !st.credited[bet.ID] {
			pending = append(pending, bet)
		}
	}
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	if r.cfg.SettleConcurrency > 0 {
		g.SetLimit(r.cfg.SettleConcurrency)
	}
	for _, bet := range pending {
		g.Go(func() error {
			return r.credit(gctx, st, bet)
		})
	}
	return g.Wait()
}

func (r *Runner) credit(ctx context.Context, st *roundState, bet round.Bet) error {
	r.mu.Lock()
	s := st.settlements[bet.ID]
	r.mu.Unlock()

	if s.Payout > 0 {
		for attempt := 1; ; attempt++ {
			err := r.ledger.Credit(ctx, bet.UserID, s.Payout, bet.ID)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Warn("Settlement credit failed, retrying", "bet", bet.ID, "user", bet.UserID, "attempt", attempt, "error", err)
			r.metrics.SettlementRetry(r.mode)
			if err := r.sleep(ctx, r.cfg.backoff(attempt)); err != nil {
				return err
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	st.credited[bet.ID] = true
	r.publishLocked(BetSettled{
		EventMeta: EventMeta{Mode: r.mode, RoundID: bet.RoundID, Time: r.clock.Now(), UserID: bet.UserID},
		BetID:     bet.ID,
		Won:       s.Won,
		Payout:    s.Payout,
	})
	return nil
}

// complete marks the round completed, reveals the result and opens the
// next round in the same critical section.
func (r *Runner) complete(ctx context.Context, st *roundState) {
	r.mu.Lock()
	now := r.clock.Now()
	rd := st.round
	_ = rd.Transition(round.StatusCompleted)
	if c, ok := r.gen.(outcome.Committer); ok {
		if seed, ok := c.Reveal(rd.ID); ok {
			rd.Seed = seed
		}
	}

	result := RoundResult{
		EventMeta:   r.metaLocked(rd.ID),
		ResultValue: *rd.Result,
		ResultColor: rd.Color(),
		ResultSize:  rd.Size(),
		Seed:        rd.Seed,
		SeedHash:    rd.SeedHash,
	}
	r.publishLocked(result)
	r.lastResult = &result
	r.publishStatusLocked(st)

	summary := archive.Summary{Round: *rd.Clone(), Bets: len(st.order), CompletedAt: now}
	for _, userID := range st.order {
		bet := st.bets[userID]
		s := st.settlements[bet.ID]
		summary.Staked += bet.Amount()
		summary.Paid += s.Payout
		summary.Settlements = append(summary.Settlements, s)
	}

	next := rd.EndTime
	if now.Sub(next) > r.cfg.DriftTolerance {
		next = now
	}
	r.openLocked(next)
	r.mu.Unlock()

	settleTime := now.Sub(st.lockedAt)
	r.logger.Info("Round completed", "round", rd.ID, "result", *rd.Result, "color", rd.Color(),
		"bets", summary.Bets, "staked", summary.Staked, "paid", summary.Paid, "settle", settleTime)
	r.metrics.RoundCompleted(r.mode, summary.Bets, summary.Staked, summary.Paid, settleTime)

	if r.archive != nil {
		if err := r.archive.SaveRound(ctx, summary); err != nil {
			r.logger.Error("Failed to archive round", "round", rd.ID, "error", err)
		}
	}
}

// PlaceBet validates and admits a bet. The phase and uniqueness checks and
// the reservation happen under mu; the debit runs outside it and the
// transition to settling waits for it to finish.
func (r *Runner) PlaceBet(ctx context.Context, req BetRequest) (round.Bet, error) {
	bet, err := r.placeBet(ctx, req)
	if err != nil {
		r.metrics.BetRejected(r.mode, ErrorCode(err))
		return round.Bet{}, err
	}
	r.metrics.BetPlaced(r.mode, bet.Kind, bet.Amount())
	return bet, nil
}

func (r *Runner) placeBet(ctx context.Context, req BetRequest) (round.Bet, error) {
	if err := r.validate(req); err != nil {
		return round.Bet{}, err
	}

	r.mu.Lock()
	now := r.clock.Now()
	if r.lockIfDueLocked(now) {
		r.kickRun()
	}
	st := r.cur
	if st.round.Status != round.StatusBetting || req.RoundID != st.round.ID {
		r.mu.Unlock()
		return round.Bet{}, fmt.Errorf("%w: %s", ErrRoundClosed, req.RoundID)
	}
	if _, ok := st.bets[req.UserID]; ok {
		r.mu.Unlock()
		return round.Bet{}, ErrDuplicateBet
	}
	if _, ok := st.reserved[req.UserID]; ok {
		r.mu.Unlock()
		return round.Bet{}, ErrDuplicateBet
	}
	st.reserved[req.UserID] = struct{}{}
	st.inflight.Add(1)
	r.mu.Unlock()

	bet := round.Bet{
		ID:         r.ids.Bet(),
		RoundID:    st.round.ID,
		Mode:       r.mode,
		UserID:     req.UserID,
		Kind:       req.Kind,
		Selection:  req.Selection,
		Stake:      req.Stake,
		Multiplier: req.Multiplier,
		PlacedAt:   now,
	}
	err := r.debit(ctx, bet)

	r.mu.Lock()
	delete(st.reserved, req.UserID)
	if err == nil {
		st.bets[req.UserID] = bet
		st.order = append(st.order, req.UserID)
	}
	st.inflight.Done()
	r.mu.Unlock()

	if err != nil {
		return round.Bet{}, err
	}
	r.logger.Debug("Bet placed", "bet", bet.ID, "user", bet.UserID, "kind", bet.Kind, "selection", bet.Selection, "amount", bet.Amount())
	return bet, nil
}

func (r *Runner) validate(req BetRequest) error {
	if req.UserID == "" {
		return fmt.Errorf("%w: user is required", ErrInvalidSelection)
	}
	if err := round.ValidateSelection(req.Kind, req.Selection); err != nil {
		return err
	}
	if !slices.Contains(r.cfg.Multipliers, req.Multiplier) {
		return fmt.Errorf("%w: %d", ErrInvalidMultiplier, req.Multiplier)
	}
	if req.Stake < r.cfg.MinBet || req.Stake > r.cfg.MaxBet {
		return fmt.Errorf("%w: stake %d not in [%d, %d]", ErrStakeOutOfRange, req.Stake, r.cfg.MinBet, r.cfg.MaxBet)
	}
	if req.Stake > math.MaxInt64/req.Multiplier || req.Stake*req.Multiplier > r.cfg.MaxBet {
		return fmt.Errorf("%w: stake %d x%d exceeds max bet %d", ErrStakeOutOfRange, req.Stake, req.Multiplier, r.cfg.MaxBet)
	}
	return nil
}

// debit charges the bet, retrying transient failures. When every attempt
// fails the debit may still have been applied, so it is reversed before
// the bet is rejected.
func (r *Runner) debit(ctx context.Context, bet round.Bet) error {
	var err error
	for attempt := 1; attempt <= r.cfg.DebitAttempts; attempt++ {
		err = r.ledger.Debit(ctx, bet.UserID, bet.Amount(), bet.ID)
		if err == nil || !errors.Is(err, wallet.ErrLedgerUnavailable) {
			return err
		}
		r.logger.Warn("Debit failed, retrying", "bet", bet.ID, "user", bet.UserID, "attempt", attempt, "error", err)
		if attempt < r.cfg.DebitAttempts {
			if serr := r.sleep(ctx, r.cfg.backoff(attempt)); serr != nil {
				err = fmt.Errorf("%w: %w", ErrLedgerUnavailable, serr)
				break
			}
		}
	}
	r.reverse(context.WithoutCancel(ctx), bet)
	return err
}

// reverse undoes a debit whose outcome is unknown. The ledger ignores keys
// it never debited.
func (r *Runner) reverse(ctx context.Context, bet round.Bet) {
	var err error
	for attempt := 1; attempt <= r.cfg.DebitAttempts; attempt++ {
		if err = r.ledger.Reverse(ctx, bet.UserID, bet.ID); err == nil {
			r.logger.Info("Debit reversed", "bet", bet.ID, "user", bet.UserID)
			return
		}
		if attempt < r.cfg.DebitAttempts {
			_ = r.sleep(ctx, r.cfg.backoff(attempt))
		}
	}
	r.logger.Error("Debit outcome unknown, reversal failed", "bet", bet.ID, "user", bet.UserID, "amount", bet.Amount(), "error", err)
}

// Snapshot returns the live state of the mode for userID.
func (r *Runner) Snapshot(userID string) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	rd := *r.cur.round.Clone()
	rd.Result = nil
	rd.Seed = ""
	snap := Snapshot{
		Round:           rd,
		Seq:             r.seq,
		ServerTime:      now,
		TimeLeftSeconds: timeLeftSeconds(rd.TimeLeft(now)),
	}
	if r.lastResult != nil {
		res := *r.lastResult
		snap.LastResult = &res
	}
	if bet, ok := r.cur.bets[userID]; ok && userID != "" {
		snap.Bet = &bet
	}
	return snap
}

func timeLeftSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}

func (r *Runner) publishTimer() {
	r.mu.Lock()
	defer r.mu.Unlock()
	rd := r.cur.round
	if rd.Status != round.StatusBetting {
		return
	}
	r.publishLocked(TimerUpdate{
		EventMeta:       r.metaLocked(rd.ID),
		TimeLeftSeconds: timeLeftSeconds(rd.TimeLeft(r.clock.Now())),
	})
}

func (r *Runner) kickRun() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := r.clock.NewTimer(d, "runner", "retry")
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run drives the mode until ctx is cancelled: it sleeps until the current
// round's end time, advances it, and emits a timer update every second.
func (r *Runner) Run(ctx context.Context) error {
	r.clock.TickerFunc(ctx, time.Second, func() error {
		r.publishTimer()
		return nil
	}, "runner", "tick")

	for {
		r.mu.Lock()
		rd := r.cur.round
		status, end := rd.Status, rd.EndTime
		r.mu.Unlock()

		if status == round.StatusBetting {
			if wait := end.Sub(r.clock.Now()); wait > 0 {
				t := r.clock.NewTimer(wait, "runner", "lock")
				select {
				case <-ctx.Done():
					t.Stop()
					return ctx.Err()
				case <-r.kick:
					t.Stop()
				case <-t.C:
				}
			}
		}

		if err := r.Advance(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Error("Advance failed", "error", err)
			if err := r.sleep(ctx, r.cfg.backoff(1)); err != nil {
				return err
			}
		}
	}
}
