// Package audit emits one structured event per placement and per settlement
// for an external audit-log collaborator. Emission is fire-and-forget: the
// engine never blocks on, or fails because of, the audit path.
package audit

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// Event types.
const (
	TypePlacement      = "wager_placed"
	TypeSettlement     = "wager_settled"
	TypeIntegrityFault = "settlement_integrity_fault"
)

// Event is one audit record.
type Event struct {
	Type         string          `json:"type"`
	UserID       string          `json:"user_id"`
	WagerID      string          `json:"wager_id"`
	Symbol       string          `json:"symbol,omitempty"`
	Stake        decimal.Decimal `json:"stake"`
	ProfitAmount decimal.Decimal `json:"profit_amount"`
	Result       string          `json:"result,omitempty"`
	Rule         string          `json:"rule,omitempty"` // which policy layer decided
	At           time.Time       `json:"at"`
}

// Sink receives audit events. Implementations must not block.
type Sink interface {
	Emit(e Event)
}

// LogSink writes audit events to the process log as structured records.
// The external collector tails the JSON log stream.
type LogSink struct{}

// NewLogSink creates a log-backed audit sink.
func NewLogSink() *LogSink {
	return &LogSink{}
}

func (s *LogSink) Emit(e Event) {
	slog.Info("audit",
		"type", e.Type,
		"user", e.UserID,
		"wager_id", e.WagerID,
		"symbol", e.Symbol,
		"stake", e.Stake.String(),
		"profit", e.ProfitAmount.String(),
		"result", e.Result,
		"rule", e.Rule,
		"at", e.At,
	)
}

// MultiSink fans an event out to several sinks.
type MultiSink []Sink

func (m MultiSink) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}
