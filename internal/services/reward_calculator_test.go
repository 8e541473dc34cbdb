package services

import (
	"errors"
	"testing"
)

func TestCalculateAmount(t *testing.T) {
	calc := NewRewardCalculator(9)

	cases := []struct {
		count    int
		expected int64
	}{
		{1, 1_000_000_000},
		{3, 3_000_000_000},
		{100, 100_000_000_000},
	}

	for _, c := range cases {
		got, err := calc.CalculateAmount(c.count)
		if err != nil {
			t.Fatalf("CalculateAmount(%d) failed: %v", c.count, err)
		}
		if got != c.expected {
			t.Errorf("CalculateAmount(%d) = %d, expected %d", c.count, got, c.expected)
		}
	}
}

func TestCalculateAmountDeterministic(t *testing.T) {
	calc := NewRewardCalculator(9)

	first, err := calc.CalculateAmount(42)
	if err != nil {
		t.Fatalf("CalculateAmount failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := calc.CalculateAmount(42)
		if err != nil {
			t.Fatalf("CalculateAmount failed on repeat: %v", err)
		}
		if again != first {
			t.Errorf("CalculateAmount(42) not deterministic: %d vs %d", again, first)
		}
	}
}

func TestCalculateAmountRejectsInvalidCount(t *testing.T) {
	calc := NewRewardCalculator(9)

	for _, count := range []int{0, -1, 101, 1000} {
		_, err := calc.CalculateAmount(count)
		if !errors.Is(err, ErrInvalidCount) {
			t.Errorf("CalculateAmount(%d) expected ErrInvalidCount, got %v", count, err)
		}
	}
}

func TestUnitConversionRoundTrip(t *testing.T) {
	for _, decimals := range []int{0, 2, 9} {
		calc := NewRewardCalculator(decimals)
		for _, coins := range []int64{0, 1, 7, 100, 123456} {
			units := calc.ToSmallestUnits(coins)
			back := calc.FromSmallestUnits(units)
			if back != coins {
				t.Errorf("decimals=%d: round trip of %d coins gave %d", decimals, coins, back)
			}
		}
	}
}

func TestToSmallestUnitsScaling(t *testing.T) {
	calc := NewRewardCalculator(9)
	if got := calc.ToSmallestUnits(5); got != 5_000_000_000 {
		t.Errorf("ToSmallestUnits(5) = %d, expected 5000000000", got)
	}
}
