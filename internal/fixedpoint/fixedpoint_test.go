package fixedpoint

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSfToUi(t *testing.T) {
	// 50 tokens at 6 decimals, SF-scaled by 1e18.
	raw := new(big.Int).Mul(big.NewInt(50_000_000), ScaleSf) // 50 * 10^6 raw units, SF-scaled
	ui := SfToUi(raw, 6)
	assert.InDelta(t, 50.0, ui, 1e-9)
}

func TestRawToUi(t *testing.T) {
	assert.InDelta(t, 1.5, RawToUi(big.NewInt(1_500_000_000), 9), 1e-9)
}

func TestUiToRawRoundTrip(t *testing.T) {
	raw := UiToRaw(2.5, 9)
	assert.Equal(t, uint64(2_500_000_000), raw)
	assert.InDelta(t, 2.5, RawToUi(new(big.Int).SetUint64(raw), 9), 1e-9)
}

func TestSfOverBsfToRaw(t *testing.T) {
	// debt SF = 100 tokens worth, rate BSF = 1.0 (WAD) -> 100 raw tokens back out.
	debtSf := new(big.Int).Mul(big.NewInt(100), ScaleSf)
	rate := new(big.Int).Set(ScaleSf)
	got := SfOverBsfToRaw(debtSf, rate)
	assert.Equal(t, big.NewInt(100), got)
}

func TestSfOverBsfToRawZeroDenominator(t *testing.T) {
	got := SfOverBsfToRaw(big.NewInt(100), big.NewInt(0))
	assert.Equal(t, big.NewInt(0), got)
}

func TestFromHalves(t *testing.T) {
	v := FromHalves([2]uint64{1, 0})
	assert.Equal(t, big.NewInt(1), v)

	hi := FromHalves([2]uint64{0, 1})
	want := new(big.Int).Lsh(big.NewInt(1), 64)
	assert.Equal(t, want, hi)
}
