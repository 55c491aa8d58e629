package money

import (
	"math/big"
	"testing"
)

func TestParse_ValidAmounts(t *testing.T) {
	tests := []struct {
		name     string
		token    string
		input    string
		expected int64
	}{
		{"one usdc", "USDC", "1.00", 1_000_000},
		{"fifty cents", "USDC", "0.50", 500_000},
		{"hundred", "USDC", "100", 100_000_000},
		{"smallest unit", "USDC", "0.000001", 1},
		{"short frac", "USDC", "1.5", 1_500_000},
		{"six decimals", "USDC", "1.123456", 1_123_456},
		{"leading zeros", "USDC", "007.50", 7_500_000},
		{"one sol", "SOL", "1", 1_000_000_000},
		{"half sol", "SOL", "0.5", 500_000_000},
		{"lamport", "SOL", "0.000000001", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.token, tt.input)
			if !ok {
				t.Fatalf("Parse(%q, %q) returned ok=false", tt.token, tt.input)
			}
			if got.Int64() != tt.expected {
				t.Errorf("Parse(%q, %q) = %d, want %d", tt.token, tt.input, got.Int64(), tt.expected)
			}
		})
	}
}

func TestParse_InvalidAmounts(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"negative", "-1.00"},
		{"two dots", "1.2.3"},
		{"letters", "abc"},
		{"letters in frac", "1.x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := Parse("USDC", tt.input); ok {
				t.Errorf("Parse(%q) returned ok=true, want false", tt.input)
			}
		})
	}
}

func TestParse_EmptyString(t *testing.T) {
	got, ok := Parse("USDC", "")
	if !ok {
		t.Fatal("Parse(\"\") returned ok=false")
	}
	if got.Sign() != 0 {
		t.Errorf("Parse(\"\") = %s, want 0", got.String())
	}
}

func TestFormat_RoundTrip(t *testing.T) {
	tests := []struct {
		token    string
		units    int64
		expected string
	}{
		{"USDC", 1_500_000, "1.500000"},
		{"USDC", 1, "0.000001"},
		{"USDC", 0, "0.000000"},
		{"SOL", 2_500_000_000, "2.500000000"},
	}

	for _, tt := range tests {
		got := Format(tt.token, big.NewInt(tt.units))
		if got != tt.expected {
			t.Errorf("Format(%q, %d) = %q, want %q", tt.token, tt.units, got, tt.expected)
		}
	}
}

func TestFormat_Nil(t *testing.T) {
	if got := Format("USDC", nil); got != "0.000000" {
		t.Errorf("Format(nil) = %q, want 0.000000", got)
	}
}

func TestFeeAndPayout_SumToPot(t *testing.T) {
	// fee + payout must equal the pot exactly for any wager,
	// including amounts where 2.5% doesn't land on a whole unit.
	wagers := []string{"0", "0.000001", "0.000003", "1", "5", "10", "8", "123.456789", "999999.999999"}

	for _, w := range wagers {
		wager, ok := Parse("USDC", w)
		if !ok {
			t.Fatalf("Parse(%q) failed", w)
		}
		pot := TotalPot(wager)
		fee := AtlasFee(pot)
		payout := WinnerPayout(pot)

		sum := new(big.Int).Add(fee, payout)
		if sum.Cmp(pot) != 0 {
			t.Errorf("wager %s: fee %s + payout %s = %s, want pot %s",
				w, fee, payout, sum, pot)
		}
	}
}

func TestTieSplit_SumToPot(t *testing.T) {
	wagers := []string{"0", "0.000001", "0.000003", "1", "8", "10", "77.777777"}

	for _, w := range wagers {
		wager, _ := Parse("USDC", w)
		pot := TotalPot(wager)
		each, fee := TieSplit(pot)

		sum := new(big.Int).Mul(each, big.NewInt(2))
		sum.Add(sum, fee)
		if sum.Cmp(pot) != 0 {
			t.Errorf("wager %s: 2*each %s + fee %s = %s, want pot %s",
				w, each, fee, sum, pot)
		}
	}
}

func TestWinnerPayout_TenUSDC(t *testing.T) {
	// 10 USDC wager: pot = 20, fee = 0.5, payout = 19.5
	wager, _ := Parse("USDC", "10")
	pot := TotalPot(wager)

	if got := Format("USDC", AtlasFee(pot)); got != "0.500000" {
		t.Errorf("AtlasFee = %s, want 0.500000", got)
	}
	if got := Format("USDC", WinnerPayout(pot)); got != "19.500000" {
		t.Errorf("WinnerPayout = %s, want 19.500000", got)
	}
}

func TestTieSplit_EightUSDC(t *testing.T) {
	// 8 USDC wager: pot = 16, fee = 0.4, each refund = 7.8
	wager, _ := Parse("USDC", "8")
	pot := TotalPot(wager)
	each, fee := TieSplit(pot)

	if got := Format("USDC", each); got != "7.800000" {
		t.Errorf("each = %s, want 7.800000", got)
	}
	if got := Format("USDC", fee); got != "0.400000" {
		t.Errorf("fee = %s, want 0.400000", got)
	}
}

func TestTieSplit_OddPayout(t *testing.T) {
	// A post-fee pot of an odd number of units folds the leftover unit
	// into the fee rather than minting it to one side.
	pot := big.NewInt(40) // fee = 1, payout = 39 (odd)
	each, fee := TieSplit(pot)

	if each.Int64() != 19 {
		t.Errorf("each = %s, want 19", each)
	}
	if fee.Int64() != 2 {
		t.Errorf("fee = %s, want 2 (base fee 1 + leftover unit)", fee)
	}
	sum := new(big.Int).Mul(each, big.NewInt(2))
	sum.Add(sum, fee)
	if sum.Cmp(pot) != 0 {
		t.Errorf("2*%s + %s != %s", each, fee, pot)
	}
}
