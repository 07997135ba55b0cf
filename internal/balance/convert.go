package balance

import (
	"math/big"
)

// ToFloat scales a raw integer amount down by 10^decimals. The whole and
// fractional parts are split with integer arithmetic before converting so
// very large balances keep their leading digits.
func ToFloat(raw *big.Int, decimals uint8) float64 {
	if raw == nil {
		return 0
	}
	if decimals == 0 {
		f, _ := new(big.Float).SetInt(raw).Float64()
		return f
	}

	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	if divisor.Sign() == 0 {
		return 0
	}

	whole, rem := new(big.Int).QuoRem(raw, divisor, new(big.Int))

	wf, _ := new(big.Float).SetInt(whole).Float64()
	rf, _ := new(big.Float).SetInt(rem).Float64()
	df, _ := new(big.Float).SetInt(divisor).Float64()

	return wf + rf/df
}

// SatoshisToBTC converts an integer satoshi amount
func SatoshisToBTC(sats int64) float64 {
	return ToFloat(big.NewInt(sats), 8)
}
