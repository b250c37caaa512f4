package engine

import (
	"errors"

	"github.com/lox/wingo/internal/round"
	"github.com/lox/wingo/internal/wallet"
)

var (
	// ErrRoundClosed means the round is no longer accepting bets. The user
	// can retry on the next round.
	ErrRoundClosed       = errors.New("round closed")
	ErrDuplicateBet      = errors.New("duplicate bet")
	ErrInvalidMultiplier = errors.New("invalid multiplier")
	ErrStakeOutOfRange   = errors.New("stake out of range")
	ErrUnknownMode       = errors.New("unknown mode")

	// ErrCommitmentMismatch means the generator no longer holds the seed
	// behind the hash published for the round.
	ErrCommitmentMismatch = errors.New("outcome commitment mismatch")

	ErrInvalidSelection    = round.ErrInvalidSelection
	ErrInsufficientBalance = wallet.ErrInsufficientBalance
	ErrLedgerUnavailable   = wallet.ErrLedgerUnavailable
)

// ErrorCode maps an admission error to its wire code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRoundClosed):
		return "round_closed"
	case errors.Is(err, ErrDuplicateBet):
		return "duplicate_bet"
	case errors.Is(err, ErrInvalidSelection):
		return "invalid_selection"
	case errors.Is(err, ErrInvalidMultiplier):
		return "invalid_multiplier"
	case errors.Is(err, ErrStakeOutOfRange):
		return "stake_out_of_range"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrLedgerUnavailable):
		return "ledger_unavailable"
	case errors.Is(err, ErrUnknownMode):
		return "unknown_mode"
	default:
		return "internal_error"
	}
}
