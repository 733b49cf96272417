package policy

import (
	"testing"

	"github.com/coinpitch/wager-engine/internal/model"
)

func strPtr(s string) *string { return &s }

// alwaysWin and alwaysLose are deterministic random sources.
func alwaysWin() float64  { return 0.0 }
func alwaysLose() float64 { return 0.99 }

func snap(settings model.Settings, user model.UserPolicy) Snapshot {
	return Snapshot{Settings: settings, User: user}
}

func TestResolve_ForcedResultDominatesEverything(t *testing.T) {
	// Forced lose wins against a user override, an active streak, and
	// all_win mode combined.
	r := NewResolverWithRand(alwaysWin)
	wager := &model.Wager{ForcedResult: strPtr(model.ResultLose)}
	s := snap(
		model.Settings{Mode: model.ModeAllWin, WinRatePercent: 100},
		model.UserPolicy{
			Override: strPtr(model.ResultWin),
			Streak:   &model.WinStreak{RemainingWins: 5, FallbackMode: model.FallbackGlobal},
		},
	)

	dec := r.Resolve(s, wager)
	if dec.Result != model.ResultLose {
		t.Errorf("expected forced lose, got %s", dec.Result)
	}
	if dec.Rule != RuleForced {
		t.Errorf("expected rule %s, got %s", RuleForced, dec.Rule)
	}
	if dec.ConsumeStreak {
		t.Error("forced result must not consume the streak")
	}
}

func TestResolve_UserOverrideBeatsStreakAndGlobal(t *testing.T) {
	r := NewResolverWithRand(alwaysWin)
	s := snap(
		model.Settings{Mode: model.ModeAllWin, WinRatePercent: 100},
		model.UserPolicy{
			Override: strPtr(model.ResultLose),
			Streak:   &model.WinStreak{RemainingWins: 2, FallbackMode: model.FallbackGlobal},
		},
	)

	dec := r.Resolve(s, &model.Wager{})
	if dec.Result != model.ResultLose || dec.Rule != RuleUserOverride {
		t.Errorf("expected user-override lose, got %s via %s", dec.Result, dec.Rule)
	}
}

func TestResolve_StreakForcesWinAndConsumes(t *testing.T) {
	r := NewResolverWithRand(alwaysLose)
	s := snap(
		model.Settings{Mode: model.ModeAllLose},
		model.UserPolicy{Streak: &model.WinStreak{RemainingWins: 1, FallbackMode: model.FallbackLose}},
	)

	dec := r.Resolve(s, &model.Wager{})
	if dec.Result != model.ResultWin {
		t.Errorf("expected streak win, got %s", dec.Result)
	}
	if dec.Rule != RuleWinStreak {
		t.Errorf("expected rule %s, got %s", RuleWinStreak, dec.Rule)
	}
	if !dec.ConsumeStreak {
		t.Error("streak win must consume one entitlement")
	}
}

func TestResolve_ExhaustedStreakFallbackLose(t *testing.T) {
	r := NewResolverWithRand(alwaysWin)
	s := snap(
		model.Settings{Mode: model.ModeAllWin},
		model.UserPolicy{Streak: &model.WinStreak{RemainingWins: 0, FallbackMode: model.FallbackLose}},
	)

	dec := r.Resolve(s, &model.Wager{})
	if dec.Result != model.ResultLose || dec.Rule != RuleStreakFallback {
		t.Errorf("expected fallback lose, got %s via %s", dec.Result, dec.Rule)
	}
}

func TestResolve_ExhaustedStreakFallbackGlobal(t *testing.T) {
	r := NewResolverWithRand(alwaysLose)
	s := snap(
		model.Settings{Mode: model.ModeAllWin},
		model.UserPolicy{Streak: &model.WinStreak{RemainingWins: 0, FallbackMode: model.FallbackGlobal}},
	)

	dec := r.Resolve(s, &model.Wager{})
	if dec.Result != model.ResultWin || dec.Rule != RuleGlobalMode {
		t.Errorf("expected global all_win, got %s via %s", dec.Result, dec.Rule)
	}
}

func TestResolve_GlobalModes(t *testing.T) {
	tests := []struct {
		mode string
		want string
	}{
		{model.ModeAllWin, model.ResultWin},
		{model.ModeAllLose, model.ResultLose},
	}

	for _, tt := range tests {
		r := NewResolverWithRand(alwaysLose)
		dec := r.Resolve(snap(model.Settings{Mode: tt.mode}, model.UserPolicy{}), &model.Wager{})
		if dec.Result != tt.want || dec.Rule != RuleGlobalMode {
			t.Errorf("mode %s: expected %s via %s, got %s via %s",
				tt.mode, tt.want, RuleGlobalMode, dec.Result, dec.Rule)
		}
	}
}

func TestResolve_RandomFallback(t *testing.T) {
	tests := []struct {
		name string
		rate int
		draw float64
		want string
	}{
		{"draw below rate wins", 60, 0.59, model.ResultWin},
		{"draw at rate loses", 60, 0.60, model.ResultLose},
		{"zero rate always loses", 0, 0.0, model.ResultLose},
		{"full rate always wins", 100, 0.999, model.ResultWin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolverWithRand(func() float64 { return tt.draw })
			s := snap(model.Settings{Mode: model.ModeRandom, WinRatePercent: tt.rate}, model.UserPolicy{})

			dec := r.Resolve(s, &model.Wager{})
			if dec.Result != tt.want {
				t.Errorf("rate %d draw %.2f: expected %s, got %s", tt.rate, tt.draw, tt.want, dec.Result)
			}
			if dec.Rule != RuleRandom {
				t.Errorf("expected rule %s, got %s", RuleRandom, dec.Rule)
			}
		})
	}
}

func TestResolve_RandomSourceUntouchedByDeterministicRules(t *testing.T) {
	calls := 0
	r := NewResolverWithRand(func() float64 { calls++; return 0.5 })

	r.Resolve(snap(model.Settings{Mode: model.ModeAllWin}, model.UserPolicy{}), &model.Wager{})
	r.Resolve(snap(model.Settings{Mode: model.ModeRandom}, model.UserPolicy{Override: strPtr(model.ResultWin)}), &model.Wager{})
	r.Resolve(snap(model.Settings{Mode: model.ModeRandom}, model.UserPolicy{}), &model.Wager{ForcedResult: strPtr(model.ResultWin)})

	if calls != 0 {
		t.Errorf("deterministic rules drew from the random source %d times", calls)
	}
}
