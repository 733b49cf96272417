package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/coinpitch/wager-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
//
// Only read-mostly policy data and wager lookups are cached. Balances are
// never cached: every placement and settlement moves them, and a stale
// balance read would misreport funds to the client.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Passthrough: balances are always served by the primary ---

func (s *CachedStore) CreateBalance(ctx context.Context, userID string, opening decimal.Decimal) (*model.Balance, error) {
	return s.primary.CreateBalance(ctx, userID, opening)
}

func (s *CachedStore) GetBalance(ctx context.Context, userID string) (*model.Balance, error) {
	return s.primary.GetBalance(ctx, userID)
}

func (s *CachedStore) Credit(ctx context.Context, userID string, amount decimal.Decimal) (*model.Balance, error) {
	return s.primary.Credit(ctx, userID, amount)
}

func (s *CachedStore) ListWagersByUser(ctx context.Context, userID string) ([]model.Wager, error) {
	return s.primary.ListWagersByUser(ctx, userID)
}

func (s *CachedStore) OpenStake(ctx context.Context, userID string) (decimal.Decimal, error) {
	return s.primary.OpenStake(ctx, userID)
}

// --- Wagers: cached by id, invalidated on every state change ---

func (s *CachedStore) PlaceWager(ctx context.Context, w *model.Wager) (*model.Balance, error) {
	b, err := s.primary.PlaceWager(ctx, w)
	if err != nil {
		return nil, err
	}
	s.cacheWager(ctx, w)
	return b, nil
}

func (s *CachedStore) GetWager(ctx context.Context, id string) (*model.Wager, error) {
	data, err := s.rdb.Get(ctx, wagerKey(id)).Bytes()
	if err == nil {
		var w model.Wager
		if json.Unmarshal(data, &w) == nil {
			return &w, nil
		}
	}

	w, err := s.primary.GetWager(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheWager(ctx, w)
	return w, nil
}

// ClaimWager must observe the true current state: it goes straight to the
// primary, where the compare-and-set lives, and drops the cached copy.
func (s *CachedStore) ClaimWager(ctx context.Context, id, userID string) (*model.Wager, error) {
	s.rdb.Del(ctx, wagerKey(id))
	return s.primary.ClaimWager(ctx, id, userID)
}

func (s *CachedStore) CompleteSettlement(ctx context.Context, sett *Settlement) (*model.Balance, error) {
	b, err := s.primary.CompleteSettlement(ctx, sett)
	if err != nil {
		return nil, err
	}
	s.rdb.Del(ctx, wagerKey(sett.WagerID))
	if sett.ConsumeStreak {
		// The settlement transaction decremented the streak.
		s.rdb.Del(ctx, userPolicyKey(sett.UserID))
	}
	return b, nil
}

func (s *CachedStore) SetForcedResult(ctx context.Context, id string, result *string) error {
	if err := s.primary.SetForcedResult(ctx, id, result); err != nil {
		return err
	}
	s.rdb.Del(ctx, wagerKey(id))
	return nil
}

// --- Policy store: read-through with invalidation on admin writes ---

func (s *CachedStore) GetSettings(ctx context.Context) (*model.Settings, error) {
	data, err := s.rdb.Get(ctx, settingsKey()).Bytes()
	if err == nil {
		var st model.Settings
		if json.Unmarshal(data, &st) == nil {
			return &st, nil
		}
	}

	st, err := s.primary.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(st); err == nil {
		s.rdb.Set(ctx, settingsKey(), data, s.ttl)
	}
	return st, nil
}

func (s *CachedStore) UpdateSettings(ctx context.Context, mode *string, winRatePercent *int) (*model.Settings, error) {
	st, err := s.primary.UpdateSettings(ctx, mode, winRatePercent)
	if err != nil {
		return nil, err
	}
	// Invalidate so the write takes effect for the next settlement.
	s.rdb.Del(ctx, settingsKey())
	return st, nil
}

func (s *CachedStore) GetUserPolicy(ctx context.Context, userID string) (*model.UserPolicy, error) {
	data, err := s.rdb.Get(ctx, userPolicyKey(userID)).Bytes()
	if err == nil {
		var up model.UserPolicy
		if json.Unmarshal(data, &up) == nil {
			return &up, nil
		}
	}

	up, err := s.primary.GetUserPolicy(ctx, userID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(up); err == nil {
		s.rdb.Set(ctx, userPolicyKey(userID), data, s.ttl)
	}
	return up, nil
}

func (s *CachedStore) SetUserOverride(ctx context.Context, userID string, outcome *string) error {
	if err := s.primary.SetUserOverride(ctx, userID, outcome); err != nil {
		return err
	}
	s.rdb.Del(ctx, userPolicyKey(userID))
	return nil
}

func (s *CachedStore) SetWinStreak(ctx context.Context, userID string, streak model.WinStreak) error {
	if err := s.primary.SetWinStreak(ctx, userID, streak); err != nil {
		return err
	}
	s.rdb.Del(ctx, userPolicyKey(userID))
	return nil
}

// --- Cache helpers ---

func (s *CachedStore) cacheWager(ctx context.Context, w *model.Wager) {
	if data, err := json.Marshal(w); err == nil {
		s.rdb.Set(ctx, wagerKey(w.ID), data, s.ttl)
	}
}

func wagerKey(id string) string          { return fmt.Sprintf("wager:%s", id) }
func settingsKey() string                { return "policy:settings" }
func userPolicyKey(userID string) string { return fmt.Sprintf("policy:user:%s", userID) }
