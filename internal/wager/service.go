// Package wager provides the HTTP handlers and business logic for placing
// timed wagers, settling them exactly once, and administering the outcome
// policy.
//
// All monetary values use shopspring/decimal — never float64 for money.
package wager

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coinpitch/wager-engine/internal/audit"
	"github.com/coinpitch/wager-engine/internal/metrics"
	"github.com/coinpitch/wager-engine/internal/model"
	"github.com/coinpitch/wager-engine/internal/period"
	"github.com/coinpitch/wager-engine/internal/policy"
	"github.com/coinpitch/wager-engine/internal/risk"
	"github.com/coinpitch/wager-engine/internal/store"
)

// completionAttempts bounds the reconciliation retries after a claim has
// committed. The already-decided outcome is re-persisted, never re-resolved.
const completionAttempts = 3

// Service handles wager operations. Settlement concurrency safety comes
// entirely from the store's atomic claim; the service itself holds no locks.
type Service struct {
	store    store.Store
	resolver *policy.Resolver
	limiter  *risk.StakeLimiter
	sink     audit.Sink
	wsHub    *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new wager service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, resolver *policy.Resolver, limiter *risk.StakeLimiter, sink audit.Sink, hub *WSHub) *Service {
	return &Service{
		store:    st,
		resolver: resolver,
		limiter:  limiter,
		sink:     sink,
		wsHub:    hub,
	}
}

// --- Request/Response types ---

// CreateAccountRequest is the JSON body for POST /accounts.
type CreateAccountRequest struct {
	UserID         string          `json:"user_id"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

// DepositRequest is the JSON body for POST /accounts/{userID}/deposit.
type DepositRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// PlaceWagerRequest is the JSON body for POST /wagers.
type PlaceWagerRequest struct {
	UserID string          `json:"user_id"`
	Side   string          `json:"side"`   // "buy" or "sell"
	Symbol string          `json:"symbol"` // free-form asset code
	Stake  decimal.Decimal `json:"stake"`
	Period int             `json:"period"` // seconds, from the fixed table
}

// PlaceWagerResponse is returned from POST /wagers.
type PlaceWagerResponse struct {
	Wager      *model.Wager    `json:"wager"`
	NewBalance decimal.Decimal `json:"new_balance"`
}

// SettleRequest is the JSON body for POST /wagers/{wagerID}/settle.
type SettleRequest struct {
	UserID string `json:"user_id"`
}

// SettleResponse is returned from a successful settlement.
type SettleResponse struct {
	WagerID      string          `json:"wager_id"`
	Result       string          `json:"result"`
	ProfitAmount decimal.Decimal `json:"profit_amount"`
	NewBalance   decimal.Decimal `json:"new_balance"`
}

// UpdatePolicyRequest is the JSON body for PUT /admin/policy. Nil fields
// are left unchanged.
type UpdatePolicyRequest struct {
	Mode           *string `json:"mode,omitempty"`
	WinRatePercent *int    `json:"win_rate_percent,omitempty"`
}

// OverrideRequest is the JSON body for the user-override and per-wager
// force endpoints. Outcome is "win", "lose", or "none" to clear.
type OverrideRequest struct {
	Outcome string `json:"outcome"`
}

// StreakRequest is the JSON body for PUT /admin/users/{userID}/streak.
type StreakRequest struct {
	RemainingWins int    `json:"remaining_wins"`
	FallbackMode  string `json:"fallback_mode"` // "lose" or "global"
}

// --- Account handlers ---

// CreateAccount handles POST /api/v1/accounts
// Creates the balance ledger row and seeds the implicit lose override that
// every new account carries until an administrator changes it.
func (s *Service) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if req.OpeningBalance.IsNegative() {
		writeError(w, "opening_balance must not be negative", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	bal, err := s.store.CreateBalance(ctx, req.UserID, req.OpeningBalance)
	if errors.Is(err, store.ErrDuplicate) {
		writeError(w, "account already exists", http.StatusConflict)
		return
	}
	if err != nil {
		writeError(w, "failed to create account", http.StatusInternalServerError)
		return
	}

	lose := model.ResultLose
	if err := s.store.SetUserOverride(ctx, req.UserID, &lose); err != nil {
		slog.Error("failed to seed default override", "user", req.UserID, "err", err)
	}

	slog.Info("account created", "user", req.UserID, "opening_balance", req.OpeningBalance.String())

	writeJSON(w, http.StatusCreated, bal)
}

// Deposit handles POST /api/v1/accounts/{userID}/deposit
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		writeError(w, "amount must be positive", http.StatusBadRequest)
		return
	}

	bal, err := s.store.Credit(r.Context(), userID, req.Amount)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "account not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to credit account", http.StatusInternalServerError)
		return
	}

	slog.Info("deposit credited", "user", userID, "amount", req.Amount.String())
	writeJSON(w, http.StatusOK, bal)
}

// GetAccount handles GET /api/v1/accounts/{userID}
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	bal, err := s.store.GetBalance(r.Context(), userID)
	if err != nil {
		writeError(w, "account not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

// ListUserWagers handles GET /api/v1/accounts/{userID}/wagers
func (s *Service) ListUserWagers(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	wagers, err := s.store.ListWagersByUser(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to list wagers", http.StatusInternalServerError)
		return
	}
	if wagers == nil {
		wagers = []model.Wager{}
	}
	writeJSON(w, http.StatusOK, wagers)
}

// --- Wager placement ---

// PlaceWager handles POST /api/v1/wagers
// Validates the stake against the period table, debits the balance, and
// creates the pending wager — the debit and the insert are one atomic unit.
func (s *Service) PlaceWager(w http.ResponseWriter, r *http.Request) {
	var req PlaceWagerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// --- Input validation, no state change on failure ---
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if req.Side != model.SideBuy && req.Side != model.SideSell {
		writeError(w, "side must be buy or sell", http.StatusBadRequest)
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		writeError(w, "symbol is required", http.StatusBadRequest)
		return
	}

	terms, err := period.ValidateStake(req.Period, req.Stake)
	if err != nil {
		reason := "invalid_period"
		if errors.Is(err, period.ErrStakeBelowMinimum) || errors.Is(err, period.ErrInvalidStake) {
			reason = "invalid_stake"
		}
		metrics.PlacementRejections.WithLabelValues(reason).Inc()
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	openStake, err := s.store.OpenStake(ctx, req.UserID)
	if err != nil {
		writeError(w, "failed to check open stake", http.StatusInternalServerError)
		return
	}
	if err := s.limiter.CheckLimit(req.Stake, openStake); err != nil {
		metrics.PlacementRejections.WithLabelValues("risk_limit").Inc()
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	wg := &model.Wager{
		ID:            uuid.New().String(),
		UserID:        req.UserID,
		Side:          req.Side,
		Symbol:        symbol,
		Stake:         req.Stake,
		PeriodSeconds: terms.Seconds,
		ProfitPercent: terms.ProfitPercent,
		Result:        model.ResultPending,
		ProfitAmount:  decimal.Zero,
		CreatedAt:     time.Now().UTC(),
	}

	bal, err := s.store.PlaceWager(ctx, wg)
	if errors.Is(err, store.ErrInsufficientBalance) {
		metrics.PlacementRejections.WithLabelValues("insufficient_balance").Inc()
		writeError(w, "insufficient balance", http.StatusPaymentRequired)
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "account not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to place wager", http.StatusInternalServerError)
		return
	}

	metrics.WagersPlaced.WithLabelValues(periodLabel(terms.Seconds)).Inc()
	s.sink.Emit(audit.Event{
		Type:    audit.TypePlacement,
		UserID:  wg.UserID,
		WagerID: wg.ID,
		Symbol:  wg.Symbol,
		Stake:   wg.Stake,
		At:      wg.CreatedAt,
	})

	slog.Info("wager placed",
		"wager_id", wg.ID,
		"user", wg.UserID,
		"symbol", wg.Symbol,
		"side", wg.Side,
		"stake", wg.Stake.String(),
		"period", terms.Seconds,
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:    "wager_placed",
			WagerID: wg.ID,
			UserID:  wg.UserID,
			Symbol:  wg.Symbol,
			Stake:   wg.Stake.String(),
		})
	}

	writeJSON(w, http.StatusCreated, PlaceWagerResponse{
		Wager:      wg,
		NewBalance: bal.AccountBalance,
	})
}

// --- Settlement coordinator ---

// SettleWager handles POST /api/v1/wagers/{wagerID}/settle
//
// Claim → resolve → complete. The claim is an atomic compare-and-set at the
// storage layer, so concurrent or retried calls settle a wager at most once;
// duplicates receive "already resolved", never a fabricated result. Once the
// claim has committed, the decided outcome is persisted with bounded retries
// and never re-resolved — a random draw must not run twice for one wager.
func (s *Service) SettleWager(w http.ResponseWriter, r *http.Request) {
	wagerID := chi.URLParam(r, "wagerID")
	start := time.Now()

	var req SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	// Policy snapshot is read before the claim: a failure here leaves the
	// wager pending and the call fully retryable.
	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		writeError(w, "failed to load policy settings", http.StatusInternalServerError)
		return
	}
	userPolicy, err := s.store.GetUserPolicy(ctx, req.UserID)
	if err != nil {
		writeError(w, "failed to load user policy", http.StatusInternalServerError)
		return
	}

	claimed, err := s.store.ClaimWager(ctx, wagerID, req.UserID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "wager not found", http.StatusNotFound)
		return
	}
	if errors.Is(err, store.ErrAlreadyResolved) {
		metrics.DuplicateSettles.Inc()
		writeError(w, "wager already resolved", http.StatusConflict)
		return
	}
	if err != nil {
		writeError(w, "failed to claim wager", http.StatusInternalServerError)
		return
	}

	// Exactly one resolver evaluation per wager: we hold the claim.
	dec := s.resolver.Resolve(policy.Snapshot{
		Settings: *settings,
		User:     *userPolicy,
	}, claimed)

	profit := decimal.Zero
	credit := decimal.Zero
	if dec.Result == model.ResultWin {
		profit = period.Profit(claimed.Stake, claimed.ProfitPercent)
		credit = claimed.Stake.Add(profit)
	}

	sett := &store.Settlement{
		WagerID:       claimed.ID,
		UserID:        claimed.UserID,
		Result:        dec.Result,
		ProfitAmount:  profit,
		CreditAmount:  credit,
		ConsumeStreak: dec.ConsumeStreak,
		ResolvedAt:    time.Now().UTC(),
	}

	var bal *model.Balance
	for attempt := 1; attempt <= completionAttempts; attempt++ {
		bal, err = s.store.CompleteSettlement(ctx, sett)
		if err == nil {
			break
		}
		slog.Warn("settlement completion failed, retrying",
			"wager_id", claimed.ID, "attempt", attempt, "err", err)
	}
	if err != nil {
		// The claim committed but the terminal state did not. Surface to
		// operators; an automatic re-resolve could change the outcome.
		metrics.IntegrityFaults.Inc()
		slog.Error("settlement integrity fault",
			"wager_id", claimed.ID,
			"user", claimed.UserID,
			"decided_result", dec.Result,
			"err", err,
		)
		s.sink.Emit(audit.Event{
			Type:         audit.TypeIntegrityFault,
			UserID:       claimed.UserID,
			WagerID:      claimed.ID,
			Stake:        claimed.Stake,
			ProfitAmount: profit,
			Result:       dec.Result,
			Rule:         dec.Rule,
			At:           time.Now().UTC(),
		})
		writeError(w, "settlement could not be completed, operator notified", http.StatusInternalServerError)
		return
	}

	metrics.SettlementsTotal.WithLabelValues(dec.Result, dec.Rule).Inc()
	metrics.SettlementLatency.Observe(time.Since(start).Seconds())

	s.sink.Emit(audit.Event{
		Type:         audit.TypeSettlement,
		UserID:       claimed.UserID,
		WagerID:      claimed.ID,
		Symbol:       claimed.Symbol,
		Stake:        claimed.Stake,
		ProfitAmount: profit,
		Result:       dec.Result,
		Rule:         dec.Rule,
		At:           sett.ResolvedAt,
	})

	slog.Info("wager settled",
		"wager_id", claimed.ID,
		"user", claimed.UserID,
		"result", dec.Result,
		"rule", dec.Rule,
		"profit", profit.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:         "wager_settled",
			WagerID:      claimed.ID,
			UserID:       claimed.UserID,
			Symbol:       claimed.Symbol,
			Result:       dec.Result,
			Stake:        claimed.Stake.String(),
			ProfitAmount: profit.String(),
		})
	}

	writeJSON(w, http.StatusOK, SettleResponse{
		WagerID:      claimed.ID,
		Result:       dec.Result,
		ProfitAmount: profit,
		NewBalance:   bal.AccountBalance,
	})
}

// GetWager handles GET /api/v1/wagers/{wagerID}
func (s *Service) GetWager(w http.ResponseWriter, r *http.Request) {
	wagerID := chi.URLParam(r, "wagerID")

	wg, err := s.store.GetWager(r.Context(), wagerID)
	if err != nil {
		writeError(w, "wager not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, wg)
}

// ListPeriods handles GET /api/v1/periods
func (s *Service) ListPeriods(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, period.All())
}

// --- Policy administration ---
// Authorization for these endpoints lives in an external gateway; the
// engine trusts the caller.

// GetPolicy handles GET /api/v1/admin/policy
func (s *Service) GetPolicy(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.GetSettings(r.Context())
	if err != nil {
		writeError(w, "failed to load policy settings", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// UpdatePolicy handles PUT /api/v1/admin/policy
// Changes take effect for the next settlement claimed after the write.
func (s *Service) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var req UpdatePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Mode != nil {
		switch *req.Mode {
		case model.ModeRandom, model.ModeAllWin, model.ModeAllLose:
		default:
			writeError(w, "mode must be random, all_win, or all_lose", http.StatusBadRequest)
			return
		}
	}
	if req.WinRatePercent != nil && (*req.WinRatePercent < 0 || *req.WinRatePercent > 100) {
		writeError(w, "win_rate_percent must be between 0 and 100", http.StatusBadRequest)
		return
	}

	settings, err := s.store.UpdateSettings(r.Context(), req.Mode, req.WinRatePercent)
	if err != nil {
		writeError(w, "failed to update policy settings", http.StatusInternalServerError)
		return
	}

	slog.Info("policy settings updated",
		"mode", settings.Mode,
		"win_rate_percent", settings.WinRatePercent,
	)
	writeJSON(w, http.StatusOK, settings)
}

// SetUserOverride handles PUT /api/v1/admin/users/{userID}/override
func (s *Service) SetUserOverride(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req OverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	outcome, err := parseOutcome(req.Outcome)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.store.SetUserOverride(r.Context(), userID, outcome); err != nil {
		writeError(w, "failed to set user override", http.StatusInternalServerError)
		return
	}

	slog.Info("user override set", "user", userID, "outcome", req.Outcome)
	w.WriteHeader(http.StatusNoContent)
}

// SetWinStreak handles PUT /api/v1/admin/users/{userID}/streak
func (s *Service) SetWinStreak(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req StreakRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.RemainingWins < 0 {
		writeError(w, "remaining_wins must not be negative", http.StatusBadRequest)
		return
	}
	if req.FallbackMode != model.FallbackLose && req.FallbackMode != model.FallbackGlobal {
		writeError(w, "fallback_mode must be lose or global", http.StatusBadRequest)
		return
	}

	streak := model.WinStreak{
		RemainingWins: req.RemainingWins,
		FallbackMode:  req.FallbackMode,
	}
	if err := s.store.SetWinStreak(r.Context(), userID, streak); err != nil {
		writeError(w, "failed to set win streak", http.StatusInternalServerError)
		return
	}

	slog.Info("win streak granted",
		"user", userID,
		"remaining_wins", req.RemainingWins,
		"fallback", req.FallbackMode,
	)
	w.WriteHeader(http.StatusNoContent)
}

// ForceWagerResult handles PUT /api/v1/admin/wagers/{wagerID}/force
// Fixes the highest-priority resolution input on a still-pending wager.
func (s *Service) ForceWagerResult(w http.ResponseWriter, r *http.Request) {
	wagerID := chi.URLParam(r, "wagerID")

	var req OverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	outcome, err := parseOutcome(req.Outcome)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.store.SetForcedResult(r.Context(), wagerID, outcome)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "wager not found", http.StatusNotFound)
		return
	}
	if errors.Is(err, store.ErrAlreadyResolved) {
		writeError(w, "wager already resolved", http.StatusConflict)
		return
	}
	if err != nil {
		writeError(w, "failed to force wager result", http.StatusInternalServerError)
		return
	}

	slog.Info("wager result forced", "wager_id", wagerID, "outcome", req.Outcome)
	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

// parseOutcome maps "win"/"lose"/"none" to an optional outcome.
func parseOutcome(s string) (*string, error) {
	switch s {
	case model.ResultWin, model.ResultLose:
		out := s
		return &out, nil
	case "none", "":
		return nil, nil
	default:
		return nil, errors.New("outcome must be win, lose, or none")
	}
}

func periodLabel(seconds int) string {
	return time.Duration(seconds * int(time.Second)).String()
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
