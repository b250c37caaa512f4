package round

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

var ErrPayoutTooGenerous = errors.New("payout table exceeds house edge")

// PayoutTable holds the winning multiple for every selection. A winning bet
// is paid Amount() times its factor, rounded down to whole minor units.
type PayoutTable struct {
	Red    decimal.Decimal
	Green  decimal.Decimal
	Violet decimal.Decimal
	Big    decimal.Decimal
	Small  decimal.Decimal
	Number decimal.Decimal
}

// DefaultPayoutTable returns the standard table. Violet is priced so its
// expected return matches red and big/small at a 5% commission.
func DefaultPayoutTable() PayoutTable {
	return PayoutTable{
		Red:    decimal.RequireFromString("1.9"),
		Green:  decimal.RequireFromString("1.9"),
		Violet: decimal.RequireFromString("2.375"),
		Big:    decimal.RequireFromString("1.9"),
		Small:  decimal.RequireFromString("1.9"),
		Number: decimal.NewFromInt(9),
	}
}

// Factor returns the payout multiple for a selection.
func (p PayoutTable) Factor(kind Kind, selection string) (decimal.Decimal, error) {
	if err := ValidateSelection(kind, selection); err != nil {
		return decimal.Zero, err
	}
	switch kind {
	case KindColor:
		switch Color(selection) {
		case ColorRed:
			return p.Red, nil
		case ColorGreen:
			return p.Green, nil
		default:
			return p.Violet, nil
		}
	case KindSize:
		if Size(selection) == SizeBig {
			return p.Big, nil
		}
		return p.Small, nil
	default:
		return p.Number, nil
	}
}

// Evaluate settles a bet against result v. The same inputs always produce
// the same settlement.
func (p PayoutTable) Evaluate(b Bet, v int) (Settlement, error) {
	s := Settlement{BetID: b.ID, RoundID: b.RoundID, UserID: b.UserID}
	factor, err := p.Factor(b.Kind, b.Selection)
	if err != nil {
		return s, err
	}
	if !b.Wins(v) {
		return s, nil
	}
	s.Won = true
	s.Payout = decimal.NewFromInt(b.Amount()).Mul(factor).Floor().IntPart()
	return s, nil
}

// hits returns how many of the ten digits win for a selection.
func hits(kind Kind, selection string) int {
	b := Bet{Kind: kind, Selection: selection}
	n := 0
	for v := 0; v <= 9; v++ {
		if b.Wins(v) {
			n++
		}
	}
	return n
}

// Selection names one betting choice.
type Selection struct {
	Kind  Kind
	Value string
}

// AllSelections lists every legal selection.
func AllSelections() []Selection {
	sel := []Selection{
		{KindColor, string(ColorRed)},
		{KindColor, string(ColorGreen)},
		{KindColor, string(ColorViolet)},
		{KindSize, string(SizeBig)},
		{KindSize, string(SizeSmall)},
	}
	for v := 0; v <= 9; v++ {
		sel = append(sel, Selection{KindNumber, strconv.Itoa(v)})
	}
	return sel
}

// RTP returns the expected return per unit staked for a selection under a
// uniform outcome.
func (p PayoutTable) RTP(kind Kind, selection string) (decimal.Decimal, error) {
	factor, err := p.Factor(kind, selection)
	if err != nil {
		return decimal.Zero, err
	}
	return factor.Mul(decimal.NewFromInt(int64(hits(kind, selection)))).Div(decimal.NewFromInt(10)), nil
}

// Validate rejects tables where any selection returns more than maxRTP.
func (p PayoutTable) Validate(maxRTP decimal.Decimal) error {
	for _, s := range AllSelections() {
		factor, _ := p.Factor(s.Kind, s.Value)
		if !factor.IsPositive() {
			return fmt.Errorf("payout for %s %s must be positive", s.Kind, s.Value)
		}
		rtp, _ := p.RTP(s.Kind, s.Value)
		if rtp.GreaterThan(maxRTP) {
			return fmt.Errorf("%w: %s %s returns %s (max %s)", ErrPayoutTooGenerous, s.Kind, s.Value, rtp.StringFixed(3), maxRTP.StringFixed(3))
		}
	}
	return nil
}
