package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coinpitch/wager-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func seedAccount(t *testing.T, ms *MemoryStore, userID string, balance float64) {
	t.Helper()
	if _, err := ms.CreateBalance(context.Background(), userID, d(balance)); err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}
}

func seedWager(t *testing.T, ms *MemoryStore, id, userID string, stake float64) *model.Wager {
	t.Helper()
	w := &model.Wager{
		ID:            id,
		UserID:        userID,
		Side:          model.SideBuy,
		Symbol:        "BTCUSDT",
		Stake:         d(stake),
		PeriodSeconds: 60,
		ProfitPercent: d(15),
		Result:        model.ResultPending,
		CreatedAt:     time.Now().UTC(),
	}
	if _, err := ms.PlaceWager(context.Background(), w); err != nil {
		t.Fatalf("failed to seed wager: %v", err)
	}
	return w
}

// --- Placement ---

func TestPlaceWager_DebitsBalance(t *testing.T) {
	ms := NewMemoryStore()
	seedAccount(t, ms, "user1", 50000)

	seedWager(t, ms, "w1", "user1", 10000)

	bal, err := ms.GetBalance(context.Background(), "user1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bal.AccountBalance.Equal(d(40000)) {
		t.Errorf("expected balance 40000, got %s", bal.AccountBalance)
	}
	if !bal.TotalInvested.Equal(d(10000)) {
		t.Errorf("expected total invested 10000, got %s", bal.TotalInvested)
	}
}

func TestPlaceWager_InsufficientBalance(t *testing.T) {
	ms := NewMemoryStore()
	seedAccount(t, ms, "user1", 5000)

	w := &model.Wager{ID: "w1", UserID: "user1", Stake: d(10000), Result: model.ResultPending, CreatedAt: time.Now().UTC()}
	_, err := ms.PlaceWager(context.Background(), w)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	// Failed placement must leave the balance unchanged.
	bal, _ := ms.GetBalance(context.Background(), "user1")
	if !bal.AccountBalance.Equal(d(5000)) {
		t.Errorf("balance mutated on failed placement: %s", bal.AccountBalance)
	}
	if _, err := ms.GetWager(context.Background(), "w1"); !errors.Is(err, ErrNotFound) {
		t.Error("wager created despite failed debit")
	}
}

func TestPlaceWager_ConcurrentNoOverdraft(t *testing.T) {
	ms := NewMemoryStore()
	seedAccount(t, ms, "user1", 25000)

	// 10 concurrent placements of 10000 against 25000: exactly 2 can fit.
	var wg sync.WaitGroup
	placed := make(chan struct{}, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w := &model.Wager{
				ID:        fmt.Sprintf("w%d", i),
				UserID:    "user1",
				Stake:     d(10000),
				Result:    model.ResultPending,
				CreatedAt: time.Now().UTC(),
			}
			if _, err := ms.PlaceWager(context.Background(), w); err == nil {
				placed <- struct{}{}
			}
		}(i)
	}
	wg.Wait()
	close(placed)

	count := len(placed)
	if count != 2 {
		t.Errorf("expected exactly 2 placements to succeed, got %d", count)
	}
	bal, _ := ms.GetBalance(context.Background(), "user1")
	if !bal.AccountBalance.Equal(d(5000)) {
		t.Errorf("expected balance 5000 after 2 debits, got %s", bal.AccountBalance)
	}
}

// --- Claim ---

func TestClaimWager_TransitionsToSettling(t *testing.T) {
	ms := NewMemoryStore()
	seedAccount(t, ms, "user1", 50000)
	seedWager(t, ms, "w1", "user1", 10000)

	claimed, err := ms.ClaimWager(context.Background(), "w1", "user1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claimed.Result != model.ResultSettling {
		t.Errorf("expected settling, got %s", claimed.Result)
	}

	// A second claim must be rejected as already resolved.
	if _, err := ms.ClaimWager(context.Background(), "w1", "user1"); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("expected ErrAlreadyResolved on second claim, got %v", err)
	}
}

func TestClaimWager_WrongUserIsNotFound(t *testing.T) {
	ms := NewMemoryStore()
	seedAccount(t, ms, "user1", 50000)
	seedWager(t, ms, "w1", "user1", 10000)

	if _, err := ms.ClaimWager(context.Background(), "w1", "user2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for foreign wager, got %v", err)
	}
}

func TestClaimWager_ConcurrentExactlyOneWinner(t *testing.T) {
	ms := NewMemoryStore()
	seedAccount(t, ms, "user1", 50000)
	seedWager(t, ms, "w1", "user1", 10000)

	const callers = 50
	var wg sync.WaitGroup
	claims := make(chan struct{}, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ms.ClaimWager(context.Background(), "w1", "user1"); err == nil {
				claims <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(claims)

	if got := len(claims); got != 1 {
		t.Errorf("expected exactly 1 successful claim, got %d", got)
	}
}

// --- Settlement completion ---

func TestCompleteSettlement_WinCreditsStakePlusProfit(t *testing.T) {
	ms := NewMemoryStore()
	seedAccount(t, ms, "user1", 50000)
	seedWager(t, ms, "w1", "user1", 10000)

	if _, err := ms.ClaimWager(context.Background(), "w1", "user1"); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	bal, err := ms.CompleteSettlement(context.Background(), &Settlement{
		WagerID:      "w1",
		UserID:       "user1",
		Result:       model.ResultWin,
		ProfitAmount: d(1500),
		CreditAmount: d(11500),
		ResolvedAt:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 50000 - 10000 stake + 11500 credit = 51500.
	if !bal.AccountBalance.Equal(d(51500)) {
		t.Errorf("expected balance 51500, got %s", bal.AccountBalance)
	}
	if !bal.TotalReturns.Equal(d(1500)) {
		t.Errorf("expected total returns 1500, got %s", bal.TotalReturns)
	}

	w, _ := ms.GetWager(context.Background(), "w1")
	if w.Result != model.ResultWin {
		t.Errorf("expected terminal win, got %s", w.Result)
	}
	if !w.ProfitAmount.Equal(d(1500)) {
		t.Errorf("expected profit 1500, got %s", w.ProfitAmount)
	}
	if w.ResolvedAt == nil {
		t.Error("expected resolved_at to be set")
	}
}

func TestCompleteSettlement_LoseLeavesBalanceUntouched(t *testing.T) {
	ms := NewMemoryStore()
	seedAccount(t, ms, "user1", 50000)
	seedWager(t, ms, "w1", "user1", 10000)

	if _, err := ms.ClaimWager(context.Background(), "w1", "user1"); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	bal, err := ms.CompleteSettlement(context.Background(), &Settlement{
		WagerID:      "w1",
		UserID:       "user1",
		Result:       model.ResultLose,
		ProfitAmount: decimal.Zero,
		CreditAmount: decimal.Zero,
		ResolvedAt:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Stake was forfeit at placement; lose settles with no further change.
	if !bal.AccountBalance.Equal(d(40000)) {
		t.Errorf("expected balance 40000, got %s", bal.AccountBalance)
	}
	if !bal.TotalReturns.IsZero() {
		t.Errorf("lose must not touch total returns, got %s", bal.TotalReturns)
	}
}

func TestCompleteSettlement_RequiresClaim(t *testing.T) {
	ms := NewMemoryStore()
	seedAccount(t, ms, "user1", 50000)
	seedWager(t, ms, "w1", "user1", 10000)

	_, err := ms.CompleteSettlement(context.Background(), &Settlement{
		WagerID: "w1", UserID: "user1", Result: model.ResultWin,
		ProfitAmount: d(1500), CreditAmount: d(11500), ResolvedAt: time.Now().UTC(),
	})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict for unclaimed wager, got %v", err)
	}
}

func TestCompleteSettlement_DecrementsStreak(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()
	seedAccount(t, ms, "user1", 50000)
	seedWager(t, ms, "w1", "user1", 10000)
	if err := ms.SetWinStreak(ctx, "user1", model.WinStreak{RemainingWins: 2, FallbackMode: model.FallbackLose}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ms.ClaimWager(ctx, "w1", "user1")
	_, err := ms.CompleteSettlement(ctx, &Settlement{
		WagerID: "w1", UserID: "user1", Result: model.ResultWin,
		ProfitAmount: d(1500), CreditAmount: d(11500),
		ConsumeStreak: true, ResolvedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	up, _ := ms.GetUserPolicy(ctx, "user1")
	if up.Streak == nil || up.Streak.RemainingWins != 1 {
		t.Errorf("expected remaining wins 1, got %+v", up.Streak)
	}
}

func TestConcurrentSettlements_NoLostBalanceUpdates(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()
	seedAccount(t, ms, "user1", 1000000)

	const n = 20
	for i := 0; i < n; i++ {
		seedWager(t, ms, fmt.Sprintf("w%d", i), "user1", 10000)
	}
	// All stakes debited: 1000000 - 200000.
	bal, _ := ms.GetBalance(ctx, "user1")
	if !bal.AccountBalance.Equal(d(800000)) {
		t.Fatalf("expected 800000 after debits, got %s", bal.AccountBalance)
	}

	// Settle all 20 concurrently as wins: each credits 11500.
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("w%d", i)
			if _, err := ms.ClaimWager(ctx, id, "user1"); err != nil {
				t.Errorf("claim %s: %v", id, err)
				return
			}
			if _, err := ms.CompleteSettlement(ctx, &Settlement{
				WagerID: id, UserID: "user1", Result: model.ResultWin,
				ProfitAmount: d(1500), CreditAmount: d(11500), ResolvedAt: time.Now().UTC(),
			}); err != nil {
				t.Errorf("complete %s: %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	bal, _ = ms.GetBalance(ctx, "user1")
	// 800000 + 20 * 11500 = 1030000, regardless of interleaving.
	if !bal.AccountBalance.Equal(d(1030000)) {
		t.Errorf("expected balance 1030000, got %s", bal.AccountBalance)
	}
	if !bal.TotalReturns.Equal(d(30000)) {
		t.Errorf("expected total returns 30000, got %s", bal.TotalReturns)
	}
}

// --- Forced result / policy ---

func TestSetForcedResult_OnlyWhilePending(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()
	seedAccount(t, ms, "user1", 50000)
	seedWager(t, ms, "w1", "user1", 10000)

	win := model.ResultWin
	if err := ms.SetForcedResult(ctx, "w1", &win); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w, _ := ms.GetWager(ctx, "w1")
	if w.ForcedResult == nil || *w.ForcedResult != model.ResultWin {
		t.Errorf("forced result not stored: %+v", w.ForcedResult)
	}

	ms.ClaimWager(ctx, "w1", "user1")
	if err := ms.SetForcedResult(ctx, "w1", &win); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("expected ErrAlreadyResolved after claim, got %v", err)
	}
}

func TestGetSettings_LazyDefaults(t *testing.T) {
	ms := NewMemoryStore()

	st, err := ms.GetSettings(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Mode != model.ModeRandom {
		t.Errorf("expected default mode random, got %s", st.Mode)
	}
	if st.WinRatePercent != 50 {
		t.Errorf("expected default win rate 50, got %d", st.WinRatePercent)
	}
}

func TestSetUserOverride_SetAndClear(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	lose := model.ResultLose
	if err := ms.SetUserOverride(ctx, "user1", &lose); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	up, _ := ms.GetUserPolicy(ctx, "user1")
	if up.Override == nil || *up.Override != model.ResultLose {
		t.Errorf("expected lose override, got %+v", up.Override)
	}

	if err := ms.SetUserOverride(ctx, "user1", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	up, _ = ms.GetUserPolicy(ctx, "user1")
	if up.Override != nil {
		t.Errorf("expected override cleared, got %+v", up.Override)
	}
}

func TestOpenStake_CountsUnsettledOnly(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()
	seedAccount(t, ms, "user1", 100000)
	seedWager(t, ms, "w1", "user1", 10000)
	seedWager(t, ms, "w2", "user1", 20000)

	open, _ := ms.OpenStake(ctx, "user1")
	if !open.Equal(d(30000)) {
		t.Errorf("expected open stake 30000, got %s", open)
	}

	ms.ClaimWager(ctx, "w1", "user1")
	ms.CompleteSettlement(ctx, &Settlement{
		WagerID: "w1", UserID: "user1", Result: model.ResultLose,
		ProfitAmount: decimal.Zero, CreditAmount: decimal.Zero, ResolvedAt: time.Now().UTC(),
	})

	open, _ = ms.OpenStake(ctx, "user1")
	if !open.Equal(d(20000)) {
		t.Errorf("expected open stake 20000 after settlement, got %s", open)
	}
}
