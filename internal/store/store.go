// Package store defines the persistence interface for the wager engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
//
// The correctness of settlement depends on two primitives being truly
// atomic at the storage layer: the claim (a conditional update on the
// wager's result field) and balance mutations (guarded increments, never a
// read-modify-write pair).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coinpitch/wager-engine/internal/model"
)

var (
	// ErrNotFound is returned when the referenced wager or account does
	// not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrAlreadyResolved is returned by ClaimWager when the wager has left
	// the pending state. Callers must treat this as "already resolved",
	// never as a fresh result.
	ErrAlreadyResolved = errors.New("store: wager already resolved")

	// ErrInsufficientBalance is returned when a guarded debit would take
	// the account below zero. No mutation occurs.
	ErrInsufficientBalance = errors.New("store: insufficient balance")

	// ErrDuplicate is returned when creating an account that already exists.
	ErrDuplicate = errors.New("store: already exists")

	// ErrConflict is returned when a conditional write finds the record in
	// an unexpected state. Safe to retry before a claim commits.
	ErrConflict = errors.New("store: conflicting concurrent update")
)

// Settlement carries one already-decided outcome into CompleteSettlement.
// The resolver has run exactly once by the time this is built; completion
// must only persist it, never re-decide it.
type Settlement struct {
	WagerID       string
	UserID        string
	Result        string // model.ResultWin or model.ResultLose
	ProfitAmount  decimal.Decimal
	CreditAmount  decimal.Decimal // stake + profit on win, zero on lose
	ConsumeStreak bool
	ResolvedAt    time.Time
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Accounts / balance ledger ---

	// CreateBalance creates a new account ledger row with an opening
	// balance. Returns ErrDuplicate if the user already has one.
	CreateBalance(ctx context.Context, userID string, opening decimal.Decimal) (*model.Balance, error)

	// GetBalance retrieves a user's balance ledger.
	GetBalance(ctx context.Context, userID string) (*model.Balance, error)

	// Credit atomically adds a deposit amount to the account balance and
	// returns the updated ledger.
	Credit(ctx context.Context, userID string, amount decimal.Decimal) (*model.Balance, error)

	// --- Wagers ---

	// PlaceWager debits the stake (guarded against overdraft) and inserts
	// the pending wager as one atomic unit. Returns the post-debit balance.
	PlaceWager(ctx context.Context, w *model.Wager) (*model.Balance, error)

	// GetWager retrieves a wager by id.
	GetWager(ctx context.Context, id string) (*model.Wager, error)

	// ListWagersByUser returns a user's wagers, newest first.
	ListWagersByUser(ctx context.Context, userID string) ([]model.Wager, error)

	// OpenStake returns the total stake the user has locked in unsettled
	// wagers.
	OpenStake(ctx context.Context, userID string) (decimal.Decimal, error)

	// ClaimWager atomically transitions the wager from pending to settling
	// via a single compare-and-set, conditioned on ownership, and returns
	// the claimed snapshot. Returns ErrAlreadyResolved if the wager exists
	// but is no longer pending, ErrNotFound if it does not exist or
	// belongs to another user.
	ClaimWager(ctx context.Context, id, userID string) (*model.Wager, error)

	// CompleteSettlement persists the terminal wager state, the balance
	// credit (if any), and the streak decrement (if any) as one atomic
	// unit, conditioned on the wager still holding the settling claim.
	// Returns the post-settlement balance.
	CompleteSettlement(ctx context.Context, s *Settlement) (*model.Balance, error)

	// SetForcedResult fixes a per-wager admin override on a still-pending
	// wager. Returns ErrAlreadyResolved once the wager has left pending.
	SetForcedResult(ctx context.Context, id string, result *string) error

	// --- Policy store ---

	// GetSettings returns the global policy settings, creating defaults on
	// first access.
	GetSettings(ctx context.Context) (*model.Settings, error)

	// UpdateSettings applies a partial update to the global settings and
	// returns the result. Nil fields are left unchanged.
	UpdateSettings(ctx context.Context, mode *string, winRatePercent *int) (*model.Settings, error)

	// GetUserPolicy returns the per-user override and streak entitlement.
	// Absence of both is a valid, empty policy.
	GetUserPolicy(ctx context.Context, userID string) (*model.UserPolicy, error)

	// SetUserOverride sets or clears (nil) a user's forced outcome.
	SetUserOverride(ctx context.Context, userID string, outcome *string) error

	// SetWinStreak grants or replaces a user's win-streak entitlement.
	SetWinStreak(ctx context.Context, userID string, streak model.WinStreak) error
}
