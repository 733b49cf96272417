// Package model defines the core domain types shared across the wager engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wager results. A wager starts pending, is briefly marked settling while a
// settlement holds the exclusive claim, and ends in exactly one of win/lose.
const (
	ResultPending  = "pending"
	ResultSettling = "settling"
	ResultWin      = "win"
	ResultLose     = "lose"
)

// Wager sides. Cosmetic: a buy and a sell with the same stake and period
// pay out identically.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Policy resolution modes for the global settings.
const (
	ModeRandom  = "random"
	ModeAllWin  = "all_win"
	ModeAllLose = "all_lose"
)

// Win-streak fallback modes, applied once remaining wins reach zero.
const (
	FallbackLose   = "lose"
	FallbackGlobal = "global"
)

// Wager is one timed trade placed by a user. The stake is debited at
// creation; the record is immutable once settled.
type Wager struct {
	ID            string          `json:"id" db:"id"`
	UserID        string          `json:"user_id" db:"user_id"`
	Side          string          `json:"side" db:"side"`     // "buy" or "sell"
	Symbol        string          `json:"symbol" db:"symbol"` // free-form asset code
	Stake         decimal.Decimal `json:"stake" db:"stake"`
	PeriodSeconds int             `json:"period_seconds" db:"period_seconds"`
	ProfitPercent decimal.Decimal `json:"profit_percent" db:"profit_percent"` // fixed at creation from the period table
	Result        string          `json:"result" db:"result"`
	ProfitAmount  decimal.Decimal `json:"profit_amount" db:"profit_amount"` // zero until settled; non-zero only on win
	ForcedResult  *string         `json:"forced_result,omitempty" db:"forced_result"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	ResolvedAt    *time.Time      `json:"resolved_at,omitempty" db:"resolved_at"`
}

// Terminal reports whether the wager has reached a final result.
func (w *Wager) Terminal() bool {
	return w.Result == ResultWin || w.Result == ResultLose
}

// Balance is the per-user account ledger. AccountBalance changes only at
// placement (debit stake) and settlement (credit stake + profit on win);
// TotalReturns is incremented only by settlement credits.
type Balance struct {
	UserID         string          `json:"user_id" db:"user_id"`
	AccountBalance decimal.Decimal `json:"account_balance" db:"account_balance"`
	TotalInvested  decimal.Decimal `json:"total_invested" db:"total_invested"`
	TotalReturns   decimal.Decimal `json:"total_returns" db:"total_returns"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// Settings is the process-wide outcome policy configuration. It is created
// lazily with defaults on first access and mutated only by admin calls.
type Settings struct {
	Mode           string    `json:"mode" db:"mode"`                         // random | all_win | all_lose
	WinRatePercent int       `json:"win_rate_percent" db:"win_rate_percent"` // 0–100, used when Mode == random
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// DefaultSettings returns the lazily-created policy defaults: a fair coin.
func DefaultSettings() *Settings {
	return &Settings{Mode: ModeRandom, WinRatePercent: 50}
}

// WinStreak is a counted entitlement to guaranteed wins. Once RemainingWins
// reaches zero, settlements fall through to FallbackMode.
type WinStreak struct {
	RemainingWins int    `json:"remaining_wins" db:"remaining_wins"`
	FallbackMode  string `json:"fallback_mode" db:"fallback_mode"` // lose | global
}

// UserPolicy is the per-user slice of the policy store consulted by one
// settlement: the explicit override (nil = none) and the win streak (nil =
// never granted).
type UserPolicy struct {
	Override *string    `json:"override,omitempty"`
	Streak   *WinStreak `json:"streak,omitempty"`
}
