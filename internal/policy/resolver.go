// Package policy implements the outcome policy resolver: the pure decision
// function that turns the policy store snapshot and a claimed wager into a
// win or lose outcome.
//
// Rules are evaluated most-specific-first. An explicit per-wager override
// always dominates; a durable per-user policy dominates a transient streak
// or the global default; the global knobs are an operator-level lever over
// the random fallback.
//
// The random fallback uses a non-cryptographic generator seeded per process.
// It is not adversarially secure; fairness against the house operator is not
// a goal of this engine.
package policy

import (
	"math/rand"

	"github.com/coinpitch/wager-engine/internal/model"
)

// Rule names identify which layer decided an outcome. They are recorded on
// audit events so every settlement decision is attributable.
const (
	RuleForced         = "forced_result"
	RuleUserOverride   = "user_override"
	RuleWinStreak      = "win_streak"
	RuleStreakFallback = "streak_fallback"
	RuleGlobalMode     = "global_mode"
	RuleRandom         = "random"
)

// Snapshot is the slice of the policy store read immediately before a
// settlement claim. The resolver never touches the store itself.
type Snapshot struct {
	Settings model.Settings
	User     model.UserPolicy
}

// Decision is the resolver output. ConsumeStreak is true when the outcome
// spent one guaranteed win; the settlement transaction must decrement the
// entitlement along with the terminal wager state.
type Decision struct {
	Result        string // model.ResultWin or model.ResultLose
	Rule          string
	ConsumeStreak bool
}

// Resolver decides wager outcomes. The rand source is injected so tests can
// be deterministic; NewResolver uses math/rand's process-seeded source.
type Resolver struct {
	randFloat func() float64
}

// NewResolver creates a resolver backed by the default random source.
func NewResolver() *Resolver {
	return &Resolver{randFloat: rand.Float64}
}

// NewResolverWithRand creates a resolver with a caller-supplied random
// source returning values in [0, 1).
func NewResolverWithRand(randFloat func() float64) *Resolver {
	return &Resolver{randFloat: randFloat}
}

// Resolve evaluates the layered policy for one claimed wager. It is pure
// apart from at most one draw from the random source, taken only when no
// deterministic rule applies.
func (r *Resolver) Resolve(snap Snapshot, wager *model.Wager) Decision {
	// 1. Per-wager admin override.
	if wager.ForcedResult != nil {
		return Decision{Result: *wager.ForcedResult, Rule: RuleForced}
	}

	// 2. Per-user override.
	if snap.User.Override != nil {
		return Decision{Result: *snap.User.Override, Rule: RuleUserOverride}
	}

	// 3. Win-streak entitlement.
	if streak := snap.User.Streak; streak != nil {
		if streak.RemainingWins > 0 {
			return Decision{Result: model.ResultWin, Rule: RuleWinStreak, ConsumeStreak: true}
		}
		if streak.FallbackMode == model.FallbackLose {
			return Decision{Result: model.ResultLose, Rule: RuleStreakFallback}
		}
		// FallbackGlobal: fall through to the global rules.
	}

	// 4. Global deterministic mode.
	switch snap.Settings.Mode {
	case model.ModeAllWin:
		return Decision{Result: model.ResultWin, Rule: RuleGlobalMode}
	case model.ModeAllLose:
		return Decision{Result: model.ResultLose, Rule: RuleGlobalMode}
	}

	// 5. Randomized fallback at the configured win rate.
	if r.randFloat() < float64(snap.Settings.WinRatePercent)/100 {
		return Decision{Result: model.ResultWin, Rule: RuleRandom}
	}
	return Decision{Result: model.ResultLose, Rule: RuleRandom}
}
