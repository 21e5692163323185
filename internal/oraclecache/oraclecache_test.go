package oraclecache

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klend-bot/liquidator/internal/models"
	"github.com/klend-bot/liquidator/internal/reservecache"
)

func TestUiPricePositiveExponent(t *testing.T) {
	p := &models.OraclePrice{Mantissa: 15, Exponent: 1}
	assert.InDelta(t, 150.0, UiPrice(p), 1e-9)
}

func TestUiPriceNegativeExponent(t *testing.T) {
	p := &models.OraclePrice{Mantissa: 9947500, Exponent: -5}
	assert.InDelta(t, 99.475, UiPrice(p), 1e-6)
}

func TestIsFresh(t *testing.T) {
	now := time.Now()
	fresh := &models.OraclePrice{Timestamp: now.Add(-10 * time.Second)}
	stale := &models.OraclePrice{Timestamp: now.Add(-31 * time.Second)}
	assert.True(t, IsFresh(fresh, now))
	assert.False(t, IsFresh(stale, now))
}

func TestApplyStablecoinClampClampsOutOfRange(t *testing.T) {
	mint := "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	StablecoinMints[mint] = true

	price := &models.OraclePrice{Mint: mint, Mantissa: 103, Exponent: -2} // 1.03
	applyStablecoinClamp(price)
	assert.InDelta(t, 1.01, UiPrice(price), 1e-6)

	price2 := &models.OraclePrice{Mint: mint, Mantissa: 97, Exponent: -2} // 0.97
	applyStablecoinClamp(price2)
	assert.InDelta(t, 0.99, UiPrice(price2), 1e-6)
}

// scopeFeed packs entries into the raw wire layout decodeScope expects:
// value u64, exponent u64, timestamp u64, all little-endian.
func scopeFeed(entries [][3]uint64) []byte {
	out := make([]byte, 0, len(entries)*24)
	for _, e := range entries {
		for _, v := range e {
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], v)
			out = append(out, b[:]...)
		}
	}
	return out
}

func TestDecodeScopeMultiHopProductAndOldestTimestamp(t *testing.T) {
	const mint = "chained-mint"
	reserves := &reservecache.Cache{
		ByMint: map[string]*models.Reserve{
			mint: {LiquidityMint: mint, ScopeChain: []uint16{0, 1}},
		},
	}

	// hop 0: 86.5 USD, hop 1: 1.15, both at the fixed -8 exponent.
	raw := scopeFeed([][3]uint64{
		{8_650_000_000, 8, 200},
		{115_000_000, 8, 150},
	})

	price, err := decodeScope(raw, reserves, mint)
	require.NoError(t, err)
	assert.Equal(t, models.OracleScope, price.Variant)
	assert.InDelta(t, 99.475, UiPrice(price), 1e-4)
	// freshness follows the oldest hop.
	assert.Equal(t, time.Unix(150, 0), price.Timestamp)
}

func TestDecodeScopeRejectsUnconfiguredMint(t *testing.T) {
	reserves := &reservecache.Cache{ByMint: map[string]*models.Reserve{}}
	_, err := decodeScope(scopeFeed([][3]uint64{{1, 8, 1}}), reserves, "unknown")
	assert.Error(t, err)
}

func TestApplyStablecoinClampLeavesNonStablecoinAlone(t *testing.T) {
	price := &models.OraclePrice{Mint: "not-a-stablecoin", Mantissa: 200, Exponent: 0}
	applyStablecoinClamp(price)
	assert.Equal(t, int64(200), price.Mantissa)
}
