package math

import "testing"

func TestMulDiv_Floors(t *testing.T) {
	tests := []struct {
		name     string
		a, b, d  int64
		expected int64
	}{
		{"exact", 1000, 2500, 10000, 250},
		{"floors remainder", 1000, 2500, 8000, 312}, // 312.5 floors to 312
		{"zero denominator", 5, 5, 0, 0},
		{"zero numerator", 0, 123456, 789, 0},
		{"identity", 42, 10000, 10000, 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MulDiv(tt.a, tt.b, tt.d); got != tt.expected {
				t.Errorf("MulDiv(%d, %d, %d) = %d, want %d", tt.a, tt.b, tt.d, got, tt.expected)
			}
		})
	}
}

func TestMulDiv_WideIntermediate(t *testing.T) {
	// a*b overflows int64; the widened intermediate must not.
	a := int64(9_000_000_000_000_000)
	b := IndexScale
	got := MulDiv(a, b, IndexScale)
	if got != a {
		t.Errorf("MulDiv with wide intermediate = %d, want %d", got, a)
	}
}

func TestMulDivRound_Modes(t *testing.T) {
	// 7 * 1 / 2 = 3.5
	if got := MulDivRound(7, 1, 2, RoundDown); got != 3 {
		t.Errorf("RoundDown = %d, want 3", got)
	}
	if got := MulDivRound(7, 1, 2, RoundUp); got != 4 {
		t.Errorf("RoundUp = %d, want 4", got)
	}
	// Half-even: 3.5 -> 4 (3 is odd), 4.5 -> 4 (4 is even)
	if got := MulDivRound(7, 1, 2, RoundHalfEven); got != 4 {
		t.Errorf("RoundHalfEven 3.5 = %d, want 4", got)
	}
	if got := MulDivRound(9, 1, 2, RoundHalfEven); got != 4 {
		t.Errorf("RoundHalfEven 4.5 = %d, want 4", got)
	}
}

func TestMulDiv3_SingleFloor(t *testing.T) {
	// One-year accrual of the canonical scenario: principal 250_000 at
	// 312 bps over a full year accrues 7_800 exactly.
	interest := MulDiv3(250_000, 312, SecondsPerYear, Bps*SecondsPerYear)
	if interest != 7_800 {
		t.Errorf("one-year interest = %d, want 7800", interest)
	}

	// Same computation over half a year floors once, not twice.
	half := MulDiv3(250_000, 312, SecondsPerYear/2, Bps*SecondsPerYear)
	if half != 3_900 {
		t.Errorf("half-year interest = %d, want 3900", half)
	}
}

func TestSqrt(t *testing.T) {
	tests := []struct {
		in, want int64
	}{
		{0, 0},
		{-4, 0},
		{1, 1},
		{4, 2},
		{10_000, 100},
		{99, 9}, // floor
	}
	for _, tt := range tests {
		if got := Sqrt(tt.in); got != tt.want {
			t.Errorf("Sqrt(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
