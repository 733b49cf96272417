package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/coinpitch/wager-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
//
// The claim in ClaimWager and the guarded balance updates are single UPDATE
// statements with state conditions in the WHERE clause; row-level locking in
// PostgreSQL makes each one atomic with respect to concurrent settlements.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// schema is applied idempotently at startup.
const schema = `
CREATE TABLE IF NOT EXISTS balances (
	user_id         TEXT PRIMARY KEY,
	account_balance NUMERIC NOT NULL DEFAULT 0,
	total_invested  NUMERIC NOT NULL DEFAULT 0,
	total_returns   NUMERIC NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS wagers (
	id             TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL,
	side           TEXT NOT NULL,
	symbol         TEXT NOT NULL,
	stake          NUMERIC NOT NULL,
	period_seconds INTEGER NOT NULL,
	profit_percent NUMERIC NOT NULL,
	result         TEXT NOT NULL DEFAULT 'pending',
	profit_amount  NUMERIC NOT NULL DEFAULT 0,
	forced_result  TEXT,
	created_at     TIMESTAMPTZ NOT NULL,
	resolved_at    TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS wagers_user_idx ON wagers (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS policy_settings (
	id               INTEGER PRIMARY KEY,
	mode             TEXT NOT NULL,
	win_rate_percent INTEGER NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS user_overrides (
	user_id TEXT PRIMARY KEY,
	outcome TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS win_streaks (
	user_id        TEXT PRIMARY KEY,
	remaining_wins INTEGER NOT NULL,
	fallback_mode  TEXT NOT NULL
);
`

// EnsureSchema creates the tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// --- Accounts / balance ledger ---

const balanceColumns = `user_id, account_balance::TEXT, total_invested::TEXT, total_returns::TEXT, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBalance(row rowScanner) (*model.Balance, error) {
	var b model.Balance
	var balS, invS, retS string
	if err := row.Scan(&b.UserID, &balS, &invS, &retS, &b.CreatedAt); err != nil {
		return nil, err
	}
	b.AccountBalance, _ = decimal.NewFromString(balS)
	b.TotalInvested, _ = decimal.NewFromString(invS)
	b.TotalReturns, _ = decimal.NewFromString(retS)
	return &b, nil
}

func (s *PostgresStore) CreateBalance(ctx context.Context, userID string, opening decimal.Decimal) (*model.Balance, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO balances (user_id, account_balance, created_at)
		 VALUES ($1, $2::NUMERIC, $3)
		 ON CONFLICT (user_id) DO NOTHING
		 RETURNING `+balanceColumns,
		userID, opening.String(), time.Now().UTC(),
	)
	b, err := scanBalance(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDuplicate
	}
	if err != nil {
		return nil, fmt.Errorf("create balance %s: %w", userID, err)
	}
	return b, nil
}

func (s *PostgresStore) GetBalance(ctx context.Context, userID string) (*model.Balance, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+balanceColumns+` FROM balances WHERE user_id = $1`, userID)
	b, err := scanBalance(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get balance %s: %w", userID, err)
	}
	return b, nil
}

func (s *PostgresStore) Credit(ctx context.Context, userID string, amount decimal.Decimal) (*model.Balance, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE balances SET account_balance = account_balance + $2::NUMERIC
		 WHERE user_id = $1
		 RETURNING `+balanceColumns,
		userID, amount.String(),
	)
	b, err := scanBalance(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("credit %s: %w", userID, err)
	}
	return b, nil
}

// --- Wagers ---

const wagerColumns = `id, user_id, side, symbol, stake::TEXT, period_seconds,
	profit_percent::TEXT, result, profit_amount::TEXT, forced_result, created_at, resolved_at`

func scanWager(row rowScanner) (*model.Wager, error) {
	var w model.Wager
	var stakeS, pctS, profitS string
	if err := row.Scan(&w.ID, &w.UserID, &w.Side, &w.Symbol, &stakeS, &w.PeriodSeconds,
		&pctS, &w.Result, &profitS, &w.ForcedResult, &w.CreatedAt, &w.ResolvedAt); err != nil {
		return nil, err
	}
	w.Stake, _ = decimal.NewFromString(stakeS)
	w.ProfitPercent, _ = decimal.NewFromString(pctS)
	w.ProfitAmount, _ = decimal.NewFromString(profitS)
	return &w, nil
}

func (s *PostgresStore) PlaceWager(ctx context.Context, w *model.Wager) (*model.Balance, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("place wager: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// Guarded debit: the balance condition is part of the UPDATE itself,
	// so two concurrent placements can never overdraw the account.
	row := tx.QueryRow(ctx,
		`UPDATE balances
		 SET account_balance = account_balance - $2::NUMERIC,
		     total_invested  = total_invested  + $2::NUMERIC
		 WHERE user_id = $1 AND account_balance >= $2::NUMERIC
		 RETURNING `+balanceColumns,
		w.UserID, w.Stake.String(),
	)
	b, err := scanBalance(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Distinguish a missing account from an overdraft.
		var exists bool
		if qErr := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM balances WHERE user_id = $1)`, w.UserID).
			Scan(&exists); qErr != nil {
			return nil, fmt.Errorf("place wager: %w", qErr)
		}
		if !exists {
			return nil, ErrNotFound
		}
		return nil, ErrInsufficientBalance
	}
	if err != nil {
		return nil, fmt.Errorf("place wager: debit: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO wagers (id, user_id, side, symbol, stake, period_seconds,
		                     profit_percent, result, profit_amount, forced_result, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7::NUMERIC, $8, 0, $9, $10)`,
		w.ID, w.UserID, w.Side, w.Symbol, w.Stake.String(), w.PeriodSeconds,
		w.ProfitPercent.String(), model.ResultPending, w.ForcedResult, w.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("place wager: insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("place wager: commit: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) GetWager(ctx context.Context, id string) (*model.Wager, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+wagerColumns+` FROM wagers WHERE id = $1`, id)
	w, err := scanWager(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get wager %s: %w", id, err)
	}
	return w, nil
}

func (s *PostgresStore) ListWagersByUser(ctx context.Context, userID string) ([]model.Wager, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+wagerColumns+` FROM wagers WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wagers []model.Wager
	for rows.Next() {
		w, err := scanWager(rows)
		if err != nil {
			return nil, err
		}
		wagers = append(wagers, *w)
	}
	return wagers, rows.Err()
}

func (s *PostgresStore) OpenStake(ctx context.Context, userID string) (decimal.Decimal, error) {
	var sumS string
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(stake), 0)::TEXT FROM wagers
		 WHERE user_id = $1 AND result IN ($2, $3)`,
		userID, model.ResultPending, model.ResultSettling).Scan(&sumS)
	if err != nil {
		return decimal.Zero, fmt.Errorf("open stake %s: %w", userID, err)
	}
	sum, _ := decimal.NewFromString(sumS)
	return sum, nil
}

func (s *PostgresStore) ClaimWager(ctx context.Context, id, userID string) (*model.Wager, error) {
	// The claim: a single compare-and-set on the result field. Exactly one
	// of any number of concurrent callers gets the row back.
	row := s.pool.QueryRow(ctx,
		`UPDATE wagers SET result = $3
		 WHERE id = $1 AND user_id = $2 AND result = $4
		 RETURNING `+wagerColumns,
		id, userID, model.ResultSettling, model.ResultPending,
	)
	w, err := scanWager(row)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("claim wager %s: %w", id, err)
	}

	// Claim condition failed: classify without mutating anything.
	existing, gErr := s.GetWager(ctx, id)
	if gErr != nil {
		return nil, gErr
	}
	if existing.UserID != userID {
		return nil, ErrNotFound
	}
	return nil, ErrAlreadyResolved
}

func (s *PostgresStore) CompleteSettlement(ctx context.Context, sett *Settlement) (*model.Balance, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("complete settlement: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE wagers SET result = $2, profit_amount = $3::NUMERIC, resolved_at = $4
		 WHERE id = $1 AND result = $5`,
		sett.WagerID, sett.Result, sett.ProfitAmount.String(), sett.ResolvedAt, model.ResultSettling,
	)
	if err != nil {
		return nil, fmt.Errorf("complete settlement %s: %w", sett.WagerID, err)
	}
	if tag.RowsAffected() != 1 {
		return nil, ErrConflict
	}

	var b *model.Balance
	if sett.CreditAmount.IsPositive() {
		row := tx.QueryRow(ctx,
			`UPDATE balances
			 SET account_balance = account_balance + $2::NUMERIC,
			     total_returns   = total_returns   + $3::NUMERIC
			 WHERE user_id = $1
			 RETURNING `+balanceColumns,
			sett.UserID, sett.CreditAmount.String(), sett.ProfitAmount.String(),
		)
		b, err = scanBalance(row)
	} else {
		row := tx.QueryRow(ctx,
			`SELECT `+balanceColumns+` FROM balances WHERE user_id = $1`, sett.UserID)
		b, err = scanBalance(row)
	}
	if err != nil {
		return nil, fmt.Errorf("complete settlement %s: balance: %w", sett.WagerID, err)
	}

	if sett.ConsumeStreak {
		if _, err := tx.Exec(ctx,
			`UPDATE win_streaks SET remaining_wins = remaining_wins - 1
			 WHERE user_id = $1 AND remaining_wins > 0`,
			sett.UserID,
		); err != nil {
			return nil, fmt.Errorf("complete settlement %s: streak: %w", sett.WagerID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("complete settlement %s: commit: %w", sett.WagerID, err)
	}
	return b, nil
}

func (s *PostgresStore) SetForcedResult(ctx context.Context, id string, result *string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE wagers SET forced_result = $2 WHERE id = $1 AND result = $3`,
		id, result, model.ResultPending,
	)
	if err != nil {
		return fmt.Errorf("set forced result %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetWager(ctx, id); err != nil {
		return err
	}
	return ErrAlreadyResolved
}

// --- Policy store ---

func (s *PostgresStore) GetSettings(ctx context.Context) (*model.Settings, error) {
	def := model.DefaultSettings()
	// Lazy creation: first access seeds the defaults.
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO policy_settings (id, mode, win_rate_percent)
		 VALUES (1, $1, $2) ON CONFLICT (id) DO NOTHING`,
		def.Mode, def.WinRatePercent,
	); err != nil {
		return nil, fmt.Errorf("seed settings: %w", err)
	}

	var st model.Settings
	err := s.pool.QueryRow(ctx,
		`SELECT mode, win_rate_percent, updated_at FROM policy_settings WHERE id = 1`).
		Scan(&st.Mode, &st.WinRatePercent, &st.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	return &st, nil
}

func (s *PostgresStore) UpdateSettings(ctx context.Context, mode *string, winRatePercent *int) (*model.Settings, error) {
	if _, err := s.GetSettings(ctx); err != nil {
		return nil, err
	}

	var st model.Settings
	err := s.pool.QueryRow(ctx,
		`UPDATE policy_settings
		 SET mode             = COALESCE($1::TEXT, mode),
		     win_rate_percent = COALESCE($2::INTEGER, win_rate_percent),
		     updated_at       = now()
		 WHERE id = 1
		 RETURNING mode, win_rate_percent, updated_at`,
		mode, winRatePercent,
	).Scan(&st.Mode, &st.WinRatePercent, &st.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update settings: %w", err)
	}
	return &st, nil
}

func (s *PostgresStore) GetUserPolicy(ctx context.Context, userID string) (*model.UserPolicy, error) {
	var up model.UserPolicy

	var outcome string
	err := s.pool.QueryRow(ctx,
		`SELECT outcome FROM user_overrides WHERE user_id = $1`, userID).Scan(&outcome)
	switch {
	case err == nil:
		up.Override = &outcome
	case errors.Is(err, pgx.ErrNoRows):
		// no override
	default:
		return nil, fmt.Errorf("get user policy %s: %w", userID, err)
	}

	var streak model.WinStreak
	err = s.pool.QueryRow(ctx,
		`SELECT remaining_wins, fallback_mode FROM win_streaks WHERE user_id = $1`, userID).
		Scan(&streak.RemainingWins, &streak.FallbackMode)
	switch {
	case err == nil:
		up.Streak = &streak
	case errors.Is(err, pgx.ErrNoRows):
		// no streak grant
	default:
		return nil, fmt.Errorf("get user policy %s: %w", userID, err)
	}

	return &up, nil
}

func (s *PostgresStore) SetUserOverride(ctx context.Context, userID string, outcome *string) error {
	if outcome == nil {
		_, err := s.pool.Exec(ctx, `DELETE FROM user_overrides WHERE user_id = $1`, userID)
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_overrides (user_id, outcome) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET outcome = EXCLUDED.outcome`,
		userID, *outcome,
	)
	return err
}

func (s *PostgresStore) SetWinStreak(ctx context.Context, userID string, streak model.WinStreak) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO win_streaks (user_id, remaining_wins, fallback_mode) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE
		 SET remaining_wins = EXCLUDED.remaining_wins, fallback_mode = EXCLUDED.fallback_mode`,
		userID, streak.RemainingWins, streak.FallbackMode,
	)
	return err
}
