package round

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	ErrInvalidSelection = errors.New("invalid selection")
	ErrInvalidKind      = errors.New("invalid bet kind")
)

// Kind is the category of prediction a bet makes.
type Kind string

const (
	KindColor  Kind = "color"
	KindSize   Kind = "size"
	KindNumber Kind = "number"
)

// ValidateSelection checks that selection is a legal choice for kind.
func ValidateSelection(kind Kind, selection string) error {
	switch kind {
	case KindColor:
		switch Color(selection) {
		case ColorRed, ColorGreen, ColorViolet:
			return nil
		}
	case KindSize:
		switch Size(selection) {
		case SizeBig, SizeSmall:
			return nil
		}
	case KindNumber:
		if n, err := strconv.Atoi(selection); err == nil && n >= 0 && n <= 9 && len(selection) == 1 {
			return nil
		}
	default:
		return fmt.Errorf("%w: %w %q", ErrInvalidSelection, ErrInvalidKind, kind)
	}
	return fmt.Errorf("%w: %q for %s", ErrInvalidSelection, selection, kind)
}

// Bet is a single wager by one user on one round. Bets are never mutated
// after admission.
type Bet struct {
	ID         string    `json:"id"`
	RoundID    string    `json:"roundId"`
	Mode       Mode      `json:"mode"`
	UserID     string    `json:"userId"`
	Kind       Kind      `json:"kind"`
	Selection  string    `json:"selection"`
	Stake      int64     `json:"stake"`
	Multiplier int64     `json:"multiplier"`
	PlacedAt   time.Time `json:"placedAt"`
}

// Amount is the total reserved for the bet, stake times multiplier.
func (b Bet) Amount() int64 {
	return b.Stake * b.Multiplier
}

// Wins reports whether the bet wins against result v.
func (b Bet) Wins(v int) bool {
	switch b.Kind {
	case KindColor:
		return Color(b.Selection) == ColorOf(v)
	case KindSize:
		return Size(b.Selection) == SizeOf(v)
	case KindNumber:
		return b.Selection == strconv.Itoa(v)
	}
	return false
}

// Settlement is the outcome of evaluating one bet.
type Settlement struct {
	BetID     string    `json:"betId"`
	RoundID   string    `json:"roundId"`
	UserID    string    `json:"userId"`
	Won       bool      `json:"won"`
	Payout    int64     `json:"payout"`
	SettledAt time.Time `json:"settledAt"`
}
