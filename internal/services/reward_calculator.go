package services

// RewardCalculator maps a confirmed sighting's corgi count to a payout in the
// jetton's smallest units. It is pure: no state, no I/O, so recomputing the
// amount during a retry always yields the same value.
type RewardCalculator struct {
	decimals int
}

func NewRewardCalculator(decimals int) *RewardCalculator {
	return &RewardCalculator{decimals: decimals}
}

// coinsPerCorgi is the reward curve: flat one Corgi coin per corgi sighted.
// This is the only place the curve is defined.
const coinsPerCorgi = 1

// CalculateAmount returns the payout for count sighted corgis, in smallest
// units. count must be in [1, 100].
func (c *RewardCalculator) CalculateAmount(count int) (int64, error) {
	if count < 1 || count > 100 {
		return 0, ErrInvalidCount
	}
	return c.ToSmallestUnits(int64(count) * coinsPerCorgi), nil
}

// ToSmallestUnits converts whole coins to the chain's smallest units using
// the configured decimal exponent.
func (c *RewardCalculator) ToSmallestUnits(coins int64) int64 {
	return coins * pow10(c.decimals)
}

// FromSmallestUnits converts smallest units back to whole coins, truncating
// any sub-coin remainder. For values produced by ToSmallestUnits the
// conversion is lossless.
func (c *RewardCalculator) FromSmallestUnits(units int64) int64 {
	return units / pow10(c.decimals)
}

func pow10(n int) int64 {
	r := int64(1)
	for i := 0; i < n; i++ {
		r *= 10
	}
	return r
}
