package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coinpitch/wager-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence). A single mutex
// makes every operation atomic, which is what the claim and the guarded
// balance updates require.
type MemoryStore struct {
	mu        sync.Mutex
	balances  map[string]*model.Balance
	wagers    map[string]*model.Wager
	settings  *model.Settings
	overrides map[string]string
	streaks   map[string]*model.WinStreak

	// FailCompletions, when positive, makes the next N CompleteSettlement
	// calls fail after the claim has committed. Tests use it to exercise
	// the integrity-fault path.
	FailCompletions int
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances:  make(map[string]*model.Balance),
		wagers:    make(map[string]*model.Wager),
		overrides: make(map[string]string),
		streaks:   make(map[string]*model.WinStreak),
	}
}

// --- Accounts / balance ledger ---

func (s *MemoryStore) CreateBalance(_ context.Context, userID string, opening decimal.Decimal) (*model.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.balances[userID]; ok {
		return nil, ErrDuplicate
	}
	b := &model.Balance{
		UserID:         userID,
		AccountBalance: opening,
		CreatedAt:      time.Now().UTC(),
	}
	s.balances[userID] = b
	out := *b
	return &out, nil
}

func (s *MemoryStore) GetBalance(_ context.Context, userID string) (*model.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.balances[userID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *b
	return &out, nil
}

func (s *MemoryStore) Credit(_ context.Context, userID string, amount decimal.Decimal) (*model.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.balances[userID]
	if !ok {
		return nil, ErrNotFound
	}
	b.AccountBalance = b.AccountBalance.Add(amount)
	out := *b
	return &out, nil
}

// --- Wagers ---

func (s *MemoryStore) PlaceWager(_ context.Context, w *model.Wager) (*model.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.balances[w.UserID]
	if !ok {
		return nil, ErrNotFound
	}
	if b.AccountBalance.LessThan(w.Stake) {
		return nil, ErrInsufficientBalance
	}

	b.AccountBalance = b.AccountBalance.Sub(w.Stake)
	b.TotalInvested = b.TotalInvested.Add(w.Stake)

	copy := *w
	copy.Result = model.ResultPending
	copy.ProfitAmount = decimal.Zero
	s.wagers[w.ID] = &copy

	out := *b
	return &out, nil
}

func (s *MemoryStore) GetWager(_ context.Context, id string) (*model.Wager, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wagers[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *w
	return &out, nil
}

func (s *MemoryStore) ListWagersByUser(_ context.Context, userID string) ([]model.Wager, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var wagers []model.Wager
	for _, w := range s.wagers {
		if w.UserID == userID {
			wagers = append(wagers, *w)
		}
	}
	sort.Slice(wagers, func(i, j int) bool {
		return wagers[i].CreatedAt.After(wagers[j].CreatedAt)
	})
	return wagers, nil
}

func (s *MemoryStore) OpenStake(_ context.Context, userID string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := decimal.Zero
	for _, w := range s.wagers {
		if w.UserID == userID && !w.Terminal() {
			sum = sum.Add(w.Stake)
		}
	}
	return sum, nil
}

func (s *MemoryStore) ClaimWager(_ context.Context, id, userID string) (*model.Wager, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wagers[id]
	if !ok || w.UserID != userID {
		return nil, ErrNotFound
	}
	if w.Result != model.ResultPending {
		return nil, ErrAlreadyResolved
	}
	w.Result = model.ResultSettling
	out := *w
	return &out, nil
}

func (s *MemoryStore) CompleteSettlement(_ context.Context, sett *Settlement) (*model.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailCompletions > 0 {
		s.FailCompletions--
		return nil, ErrConflict
	}

	w, ok := s.wagers[sett.WagerID]
	if !ok {
		return nil, ErrNotFound
	}
	if w.Result != model.ResultSettling {
		return nil, ErrConflict
	}
	b, ok := s.balances[sett.UserID]
	if !ok {
		return nil, ErrNotFound
	}

	w.Result = sett.Result
	w.ProfitAmount = sett.ProfitAmount
	resolvedAt := sett.ResolvedAt
	w.ResolvedAt = &resolvedAt

	if sett.CreditAmount.IsPositive() {
		b.AccountBalance = b.AccountBalance.Add(sett.CreditAmount)
		b.TotalReturns = b.TotalReturns.Add(sett.ProfitAmount)
	}

	if sett.ConsumeStreak {
		if streak, ok := s.streaks[sett.UserID]; ok && streak.RemainingWins > 0 {
			streak.RemainingWins--
		}
	}

	out := *b
	return &out, nil
}

func (s *MemoryStore) SetForcedResult(_ context.Context, id string, result *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wagers[id]
	if !ok {
		return ErrNotFound
	}
	if w.Result != model.ResultPending {
		return ErrAlreadyResolved
	}
	w.ForcedResult = result
	return nil
}

// --- Policy store ---

func (s *MemoryStore) GetSettings(_ context.Context) (*model.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.settings == nil {
		s.settings = model.DefaultSettings()
		s.settings.UpdatedAt = time.Now().UTC()
	}
	out := *s.settings
	return &out, nil
}

func (s *MemoryStore) UpdateSettings(_ context.Context, mode *string, winRatePercent *int) (*model.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.settings == nil {
		s.settings = model.DefaultSettings()
	}
	if mode != nil {
		s.settings.Mode = *mode
	}
	if winRatePercent != nil {
		s.settings.WinRatePercent = *winRatePercent
	}
	s.settings.UpdatedAt = time.Now().UTC()
	out := *s.settings
	return &out, nil
}

func (s *MemoryStore) GetUserPolicy(_ context.Context, userID string) (*model.UserPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var up model.UserPolicy
	if outcome, ok := s.overrides[userID]; ok {
		o := outcome
		up.Override = &o
	}
	if streak, ok := s.streaks[userID]; ok {
		st := *streak
		up.Streak = &st
	}
	return &up, nil
}

func (s *MemoryStore) SetUserOverride(_ context.Context, userID string, outcome *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if outcome == nil {
		delete(s.overrides, userID)
		return nil
	}
	s.overrides[userID] = *outcome
	return nil
}

func (s *MemoryStore) SetWinStreak(_ context.Context, userID string, streak model.WinStreak) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := streak
	s.streaks[userID] = &copy
	return nil
}
