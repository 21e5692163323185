// Package fixedpoint provides wide-integer helpers for converting the
// protocol's 1e18-scaled fixed point fields (SF/BSF) to UI floating
// point values. All protocol-scaled arithmetic happens in big.Int;
// float64 is only used for the final USD aggregation and display, per
// the wide-integer-before-float discipline the rest of the engine
// follows.
package fixedpoint

import "math/big"

// ScaleSf is the 1e18 scale factor used for SF/BSF fields.
var ScaleSf = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// FromHalves reassembles a little-endian [lo, hi] 128-bit pair (as
// stored on-chain) into a big.Int.
func FromHalves(halves [2]uint64) *big.Int {
	hi := new(big.Int).SetUint64(halves[1])
	hi.Lsh(hi, 64)
	lo := new(big.Int).SetUint64(halves[0])
	return hi.Or(hi, lo)
}

// MulDivFloor computes floor(a*b/c) in wide integer form. c must be
// non-zero; callers are expected to have already checked that.
func MulDivFloor(a, b, c *big.Int) *big.Int {
	num := new(big.Int).Mul(a, b)
	return num.Div(num, c)
}

// SfToUi converts an SF value (1e18-scaled raw token amount) to a UI
// float given the mint's decimals. Division order is wide-integer
// first: raw tokens = sf / 1e18 as a truncating big.Int division, then
// UI = rawTokens / 10^decimals as a big.Float quotient, followed by a
// single float64 conversion at the end.
func SfToUi(sf *big.Int, decimals uint8) float64 {
	rawTokens := new(big.Int).Div(sf, ScaleSf)
	return RawToUi(rawTokens, decimals)
}

// RawToUi converts a raw (un-SF-scaled) token amount to UI units.
func RawToUi(raw *big.Int, decimals uint8) float64 {
	denom := new(big.Float).SetInt(pow10(decimals))
	num := new(big.Float).SetInt(raw)
	out, _ := new(big.Float).Quo(num, denom).Float64()
	return out
}

// UiToRaw converts a UI amount to raw base units, truncating any
// fractional remainder below the mint's decimals.
func UiToRaw(ui float64, decimals uint8) uint64 {
	scaled := new(big.Float).Mul(big.NewFloat(ui), new(big.Float).SetInt(pow10(decimals)))
	i, _ := scaled.Int(nil)
	if i == nil || !i.IsUint64() {
		return 0
	}
	return i.Uint64()
}

// SfOverBsfToRaw divides a 1e18-scaled SF numerator by a 1e18-scaled
// BSF denominator. Both operands carry the same scale so it cancels,
// leaving a raw (unscaled) token amount -- used to convert an
// obligation's scaled-fraction debt into raw tokens via the reserve's
// cumulative borrow rate.
func SfOverBsfToRaw(numerator, denominator *big.Int) *big.Int {
	if denominator.Sign() == 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Div(numerator, denominator)
}

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
