package risk

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestCheckLimit(t *testing.T) {
	limiter := NewStakeLimiter(d(10000), d(25000))

	tests := []struct {
		name      string
		stake     float64
		openStake float64
		wantErr   error
	}{
		{"within both limits", 5000, 0, nil},
		{"at per-wager limit", 10000, 0, nil},
		{"over per-wager limit", 10001, 0, ErrStakeLimitExceeded},
		{"at aggregate limit", 5000, 20000, nil},
		{"over aggregate limit", 5001, 20000, ErrOpenStakeLimitExceeded},
		{"aggregate counts the new stake", 10000, 16000, ErrOpenStakeLimitExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := limiter.CheckLimit(d(tt.stake), d(tt.openStake))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("CheckLimit(%.0f, %.0f): got %v, want %v",
					tt.stake, tt.openStake, err, tt.wantErr)
			}
		})
	}
}
