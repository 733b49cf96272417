package period

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestLookup_KnownPeriods(t *testing.T) {
	for _, seconds := range []int{30, 60, 90, 120, 180, 300, 600} {
		terms, err := Lookup(seconds)
		if err != nil {
			t.Errorf("Lookup(%d): unexpected error: %v", seconds, err)
			continue
		}
		if terms.Seconds != seconds {
			t.Errorf("Lookup(%d): got seconds %d", seconds, terms.Seconds)
		}
		if terms.ProfitPercent.LessThanOrEqual(decimal.Zero) {
			t.Errorf("Lookup(%d): profit percent should be positive", seconds)
		}
		if terms.MinimumStake.LessThanOrEqual(decimal.Zero) {
			t.Errorf("Lookup(%d): minimum stake should be positive", seconds)
		}
	}
}

func TestLookup_UnknownPeriod(t *testing.T) {
	for _, seconds := range []int{0, -30, 45, 61, 3600} {
		if _, err := Lookup(seconds); !errors.Is(err, ErrInvalidPeriod) {
			t.Errorf("Lookup(%d): expected ErrInvalidPeriod, got %v", seconds, err)
		}
	}
}

func TestValidateStake(t *testing.T) {
	tests := []struct {
		name    string
		seconds int
		stake   decimal.Decimal
		wantErr error
	}{
		{"at minimum", 60, d(1000), nil},
		{"above minimum", 60, d(10000), nil},
		{"below minimum", 60, d(999), ErrStakeBelowMinimum},
		{"zero stake", 60, d(0), ErrInvalidStake},
		{"negative stake", 60, d(-500), ErrInvalidStake},
		{"unknown period", 45, d(10000), ErrInvalidPeriod},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateStake(tt.seconds, tt.stake)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateStake(%d, %s): got %v, want %v",
					tt.seconds, tt.stake, err, tt.wantErr)
			}
		})
	}
}

func TestProfit_WorkedExample(t *testing.T) {
	// stake 10000 at 15% pays 1500.
	terms, err := Lookup(60)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	profit := Profit(d(10000), terms.ProfitPercent)
	if !profit.Equal(d(1500)) {
		t.Errorf("expected profit 1500, got %s", profit)
	}
}

func TestProfit_Rounding(t *testing.T) {
	// 1001 * 15% = 150.15, already two places; 333.33 * 15% = 49.9995 → 50.00.
	if got := Profit(d(1001), d(15)); !got.Equal(d(150.15)) {
		t.Errorf("expected 150.15, got %s", got)
	}
	if got := Profit(d(333.33), d(15)); !got.Equal(d(50)) {
		t.Errorf("expected 50, got %s", got)
	}
}

func TestAll_OrderedAscending(t *testing.T) {
	terms := All()
	if len(terms) != 7 {
		t.Fatalf("expected 7 periods, got %d", len(terms))
	}
	for i := 1; i < len(terms); i++ {
		if terms[i].Seconds <= terms[i-1].Seconds {
			t.Errorf("periods not ascending at index %d", i)
		}
		if terms[i].ProfitPercent.LessThan(terms[i-1].ProfitPercent) {
			t.Errorf("longer period pays less at index %d", i)
		}
	}
}
