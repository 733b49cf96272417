// Package period defines the fixed countdown period table for timed wagers.
//
// Each tradable period binds a payout percentage and a minimum stake. The
// table is intentionally static: periods are product configuration, not
// runtime state, and settlement math must be reproducible from the wager
// record alone (the profit percent is copied onto the wager at creation).
//
// All monetary values use shopspring/decimal — never float64 for money.
package period

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidPeriod is returned when the requested period is not in the
	// fixed table.
	ErrInvalidPeriod = errors.New("period: not a tradable period")

	// ErrStakeBelowMinimum is returned when the stake is below the minimum
	// for the requested period.
	ErrStakeBelowMinimum = errors.New("period: stake below period minimum")

	// ErrInvalidStake is returned when the stake is zero, negative, or
	// otherwise not a usable amount.
	ErrInvalidStake = errors.New("period: stake must be positive")
)

// Terms holds the payout terms bound to one countdown period.
type Terms struct {
	Seconds       int             `json:"seconds"`
	ProfitPercent decimal.Decimal `json:"profit_percent"`
	MinimumStake  decimal.Decimal `json:"minimum_stake"`
}

// table maps period length in seconds to its payout terms. Longer lockups
// pay more and require a larger minimum stake.
var table = map[int]Terms{
	30:  {Seconds: 30, ProfitPercent: decimal.NewFromInt(10), MinimumStake: decimal.NewFromInt(500)},
	60:  {Seconds: 60, ProfitPercent: decimal.NewFromInt(15), MinimumStake: decimal.NewFromInt(1000)},
	90:  {Seconds: 90, ProfitPercent: decimal.NewFromInt(20), MinimumStake: decimal.NewFromInt(2000)},
	120: {Seconds: 120, ProfitPercent: decimal.NewFromInt(25), MinimumStake: decimal.NewFromInt(3000)},
	180: {Seconds: 180, ProfitPercent: decimal.NewFromInt(30), MinimumStake: decimal.NewFromInt(5000)},
	300: {Seconds: 300, ProfitPercent: decimal.NewFromInt(40), MinimumStake: decimal.NewFromInt(8000)},
	600: {Seconds: 600, ProfitPercent: decimal.NewFromInt(50), MinimumStake: decimal.NewFromInt(10000)},
}

// Lookup returns the terms for a period, or ErrInvalidPeriod.
func Lookup(seconds int) (Terms, error) {
	t, ok := table[seconds]
	if !ok {
		return Terms{}, ErrInvalidPeriod
	}
	return t, nil
}

// ValidateStake checks a stake against the terms for the given period and
// returns those terms when the stake is acceptable.
func ValidateStake(seconds int, stake decimal.Decimal) (Terms, error) {
	t, err := Lookup(seconds)
	if err != nil {
		return Terms{}, err
	}
	if stake.LessThanOrEqual(decimal.Zero) {
		return Terms{}, ErrInvalidStake
	}
	if stake.LessThan(t.MinimumStake) {
		return Terms{}, ErrStakeBelowMinimum
	}
	return t, nil
}

// Profit computes the win payout for a stake at the given profit percent:
// stake * profitPercent / 100, rounded to 2 decimal places.
func Profit(stake, profitPercent decimal.Decimal) decimal.Decimal {
	return stake.Mul(profitPercent).Div(decimal.NewFromInt(100)).Round(2)
}

// All returns the full table ordered by period length, for the public
// period listing endpoint.
func All() []Terms {
	terms := make([]Terms, 0, len(table))
	for _, t := range table {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool { return terms[i].Seconds < terms[j].Seconds })
	return terms
}
