// Package money provides wager parsing, formatting, and pot arithmetic.
//
// Amounts cross API boundaries as decimal strings and are handled
// internally as big.Int in the token's smallest unit (1 USDC = 1,000,000
// units). All fee math is integer arithmetic; no floats anywhere in the
// money path.
package money

import (
	"math/big"
	"strings"
)

// FeeBasisPoints is the platform fee taken from the pot: 2.5% = 250 bps.
const FeeBasisPoints = 250

// Decimals returns the number of decimal places for a token symbol.
// Unknown tokens default to 6 (the USDC convention).
func Decimals(token string) int {
	switch strings.ToUpper(token) {
	case "SOL":
		return 9
	case "ETH":
		return 18
	case "BTC":
		return 8
	default:
		return 6 // USDC, USDT
	}
}

// Parse converts a decimal string (e.g. "1.50") to its smallest-unit
// big.Int representation for the given token. Returns (nil, false) on
// invalid input.
//
// Rules:
//   - Empty string returns (0, true)
//   - Negative amounts are rejected
//   - Multiple decimal points are rejected
//   - Fractional parts are padded/truncated to the token's decimals
func Parse(token, s string) (*big.Int, bool) {
	if s == "" {
		return big.NewInt(0), true
	}

	if strings.HasPrefix(s, "-") {
		return nil, false
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, false
	}
	whole := parts[0]
	frac := ""
	if len(parts) > 1 {
		frac = parts[1]
	}

	decimals := Decimals(token)
	for len(frac) < decimals {
		frac += "0"
	}
	frac = frac[:decimals]

	combined := whole + frac
	result, ok := new(big.Int).SetString(combined, 10)
	return result, ok
}

// Format converts a smallest-unit big.Int to a human-readable decimal
// string with the token's full decimal places (e.g. "1.500000" for USDC).
func Format(token string, amount *big.Int) string {
	decimals := Decimals(token)
	if amount == nil {
		return "0." + strings.Repeat("0", decimals)
	}
	neg := amount.Sign() < 0
	abs := new(big.Int).Abs(amount)
	s := abs.String()
	for len(s) < decimals+1 {
		s = "0" + s
	}
	point := len(s) - decimals
	result := s[:point] + "." + s[point:]
	if neg {
		result = "-" + result
	}
	return result
}

// TotalPot returns the pot for a matched wager: both parties stake the
// same amount, so pot = wager * 2.
func TotalPot(wager *big.Int) *big.Int {
	return new(big.Int).Mul(wager, big.NewInt(2))
}

// AtlasFee returns the platform's cut of the pot, floored to the nearest
// smallest unit.
func AtlasFee(pot *big.Int) *big.Int {
	fee := new(big.Int).Mul(pot, big.NewInt(FeeBasisPoints))
	return fee.Div(fee, big.NewInt(10000))
}

// WinnerPayout returns the post-fee pot. Defined as pot - AtlasFee(pot)
// so that fee + payout always equals the pot exactly.
func WinnerPayout(pot *big.Int) *big.Int {
	return new(big.Int).Sub(pot, AtlasFee(pot))
}

// TieSplit returns the per-party refund and the fee for a tied challenge.
// Each party receives half the post-fee pot. If the post-fee pot is an odd
// number of smallest units, the leftover unit is folded into the fee so
// that 2*each + fee == pot holds exactly.
func TieSplit(pot *big.Int) (each, fee *big.Int) {
	fee = AtlasFee(pot)
	payout := new(big.Int).Sub(pot, fee)
	each = new(big.Int).Div(payout, big.NewInt(2))
	rem := new(big.Int).Mod(payout, big.NewInt(2))
	fee.Add(fee, rem)
	return each, fee
}
