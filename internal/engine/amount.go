package engine

import (
	"math"
	"math/big"
	"math/rand/v2"
)

// weiPerTenThousandth is 1e14: one 0.0001-token step in wei. All operation
// amounts are quantized to four decimal places, so conversions stay exact.
var weiPerTenThousandth = big.NewInt(100000000000000)

// EthToWei converts a whole-token amount to wei, rounding to four decimal
// places first.
func EthToWei(amount float64) *big.Int {
	steps := int64(math.Round(amount * 10000))
	if steps < 0 {
		steps = 0
	}
	return new(big.Int).Mul(big.NewInt(steps), weiPerTenThousandth)
}

// WeiToEth converts a wei amount to whole-token units for display.
func WeiToEth(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e18)).Float64()
	return f
}

// DrawAmount picks a uniform random amount in [min, max] whole tokens,
// rounded to four decimal places, and returns it in wei.
func DrawAmount(min, max float64) *big.Int {
	v := min
	if max > min {
		v = min + rand.Float64()*(max-min)
	}
	return EthToWei(v)
}
