// Package risk implements stake limits for wager placement.
//
// Two limits apply: a hard cap on any single stake, and a cap on the
// aggregate stake a user may have locked in unsettled wagers at once. The
// aggregate cap bounds how much balance a duplicate-clicking or scripted
// client can lock up before any settlement runs.
package risk

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrStakeLimitExceeded is returned when a single stake exceeds the
	// per-wager maximum.
	ErrStakeLimitExceeded = errors.New("risk: stake exceeds per-wager limit")

	// ErrOpenStakeLimitExceeded is returned when a placement would push the
	// user's total unsettled stake beyond the aggregate maximum.
	ErrOpenStakeLimitExceeded = errors.New("risk: open stake limit exceeded")
)

// StakeLimiter enforces placement stake limits.
type StakeLimiter struct {
	// MaxStake is the maximum stake for any single wager.
	MaxStake decimal.Decimal

	// MaxOpenStake is the maximum total stake across a user's pending
	// wagers, including the one being placed.
	MaxOpenStake decimal.Decimal
}

// NewStakeLimiter creates a limiter with the given per-wager and aggregate
// open-stake limits.
func NewStakeLimiter(maxStake, maxOpenStake decimal.Decimal) *StakeLimiter {
	return &StakeLimiter{
		MaxStake:     maxStake,
		MaxOpenStake: maxOpenStake,
	}
}

// CheckLimit validates a placement against the limits.
//
// Parameters:
//   - stake: the stake of the wager being placed
//   - openStake: the user's current total stake in unsettled wagers
//
// Returns nil if the placement is within limits, or an error describing the
// violation.
func (l *StakeLimiter) CheckLimit(stake, openStake decimal.Decimal) error {
	if stake.GreaterThan(l.MaxStake) {
		return ErrStakeLimitExceeded
	}
	if openStake.Add(stake).GreaterThan(l.MaxOpenStake) {
		return ErrOpenStakeLimitExceeded
	}
	return nil
}
