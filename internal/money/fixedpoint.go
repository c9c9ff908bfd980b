package money

import (
	"fmt"
	"strconv"
	"strings"
)

// UnitConfig defines fixed-point precision for stake/payout amounts
type UnitConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

// UnitScale: amounts are int64 micro-units (0.000001 unit resolution)
var Units = UnitConfig{DecimalPrecision: 6, Scale: 1_000_000}

// Wagering constants, expressed in micro-units / whole percentages.
const (
	MinStake         = 10_000    // 0.01 unit
	MaxStake         = 1_000_000 // 1 unit
	PayoutMultiplier = 5
	HouseEdgePct     = 2
)

// ComputePayout returns the gross winner payout net of the house edge,
// with integer truncation: stake * multiplier * (100 - edge) / 100.
// Max stake is 1e6 micro-units so the intermediate product stays far
// below int64 range; no big.Int needed.
func ComputePayout(stake int64) int64 {
	return stake * PayoutMultiplier * (100 - HouseEdgePct) / 100
}

// MaxPayout returns the worst-case payout obligation for a stake,
// ignoring the house edge. Solvency checks use this so the check is
// independent of the drawn outcome.
func MaxPayout(stake int64) int64 {
	return stake * PayoutMultiplier
}

// FormatUnits renders micro-units as a decimal unit string, e.g. 49000 -> "0.049".
func FormatUnits(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	whole := amount / Units.Scale
	frac := amount % Units.Scale
	if frac == 0 {
		return fmt.Sprintf("%s%d", sign, whole)
	}
	fracStr := strings.TrimRight(fmt.Sprintf("%06d", frac), "0")
	return fmt.Sprintf("%s%d.%s", sign, whole, fracStr)
}

// ParseUnits parses a decimal unit string into micro-units.
// Rejects more than 6 fractional digits rather than silently truncating.
func ParseUnits(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}

	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}

	wholeStr, fracStr := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		wholeStr, fracStr = s[:i], s[i+1:]
	}
	// The sign was consumed above; ParseInt would otherwise accept a second
	// one ("--5", "5.-3") or let a bare "-" parse as zero.
	if wholeStr == "" && fracStr == "" {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	if hasSign(wholeStr) || hasSign(fracStr) {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	if wholeStr == "" {
		wholeStr = "0"
	}
	if len(fracStr) > Units.DecimalPrecision {
		return 0, fmt.Errorf("amount %q exceeds %d decimal places", s, Units.DecimalPrecision)
	}

	whole, err := strconv.ParseInt(wholeStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}

	var frac int64
	if fracStr != "" {
		frac, err = strconv.ParseInt(fracStr, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid amount %q", s)
		}
		for i := len(fracStr); i < Units.DecimalPrecision; i++ {
			frac *= 10
		}
	}

	amount := whole*Units.Scale + frac
	if neg {
		amount = -amount
	}
	return amount, nil
}

func hasSign(s string) bool {
	return strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+")
}
