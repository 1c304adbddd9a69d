// Package lamports converts between base units and SOL using exact decimal arithmetic.
package lamports

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PerSOL is the number of lamports in one SOL.
const PerSOL = 1_000_000_000

var perSOL = decimal.NewFromInt(PerSOL)

// ToSOL converts lamports to a SOL decimal.
func ToSOL(amount int64) decimal.Decimal {
	return decimal.NewFromInt(amount).Div(perSOL)
}

// FromSOL parses a SOL amount ("0.5", "2") into lamports.
// Amounts with more than 9 fractional digits are rejected.
func FromSOL(sol string) (int64, error) {
	d, err := decimal.NewFromString(sol)
	if err != nil {
		return 0, fmt.Errorf("parsing SOL amount %q: %w", sol, err)
	}
	base := d.Mul(perSOL)
	if !base.Equal(base.Truncate(0)) {
		return 0, fmt.Errorf("SOL amount %q has sub-lamport precision", sol)
	}
	return base.IntPart(), nil
}

// Percent returns pct percent of amount, rounded down to a whole lamport.
func Percent(amount int64, pct decimal.Decimal) int64 {
	if amount == 0 || pct.IsZero() {
		return 0
	}
	return decimal.NewFromInt(amount).Mul(pct).Div(decimal.NewFromInt(100)).Floor().IntPart()
}

// Format renders lamports as SOL with a fixed number of decimal places.
func Format(amount int64, places int32) string {
	return ToSOL(amount).StringFixed(places)
}
