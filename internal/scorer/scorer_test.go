package scorer

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/klend-bot/liquidator/internal/config"
	"github.com/klend-bot/liquidator/internal/fixedpoint"
	"github.com/klend-bot/liquidator/internal/models"
	"github.com/klend-bot/liquidator/internal/oraclecache"
	"github.com/klend-bot/liquidator/internal/reservecache"
)

// fixedNow is the clock every test scores against; oracle prices in
// setup() are stamped fresh relative to it.
var fixedNow = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

const (
	solReserveAddr  = "solReserve"
	usdcReserveAddr = "usdcReserve"
	solMint         = "SOL"
	usdcMint        = "USDC"
	market          = "market1"
)

// wad scales n by 1e18. A borrow's SF amount is raw base units scaled
// by 1e18, so for borrows n is in base units: 50 USDC (6 decimals) is
// wad(50_000_000).
func wad(n int64) [2]uint64 {
	v := new(big.Int).Mul(big.NewInt(n), fixedpoint.ScaleSf)
	mask := new(big.Int).SetUint64(^uint64(0))
	lo := new(big.Int).And(v, mask).Uint64()
	hi := new(big.Int).Rsh(v, 64).Uint64()
	return [2]uint64{lo, hi}
}

func setup(liqThresh uint8, borrowFactorPct uint16, solPrice, usdcPrice float64) (*reservecache.Cache, *oraclecache.Cache) {
	solReserve := &models.Reserve{
		Address:              solReserveAddr,
		LiquidityMint:        solMint,
		CollateralMint:       solMint + "-note",
		LiquidityDecimals:    9,
		CollateralDecimals:   9,
		LiquidationThreshold: liqThresh,
		BorrowFactorPct:      100,
		CumulativeBorrowRate: wad(1),
		CollateralMintSupply: 1,
		AvailableLiquidity:   1,
	}
	usdcReserve := &models.Reserve{
		Address:              usdcReserveAddr,
		LiquidityMint:        usdcMint,
		CollateralMint:       usdcMint + "-note",
		LiquidityDecimals:    6,
		CollateralDecimals:   6,
		LiquidationThreshold: 100,
		BorrowFactorPct:      borrowFactorPct,
		CumulativeBorrowRate: wad(1),
		CollateralMintSupply: 1,
		AvailableLiquidity:   1,
	}

	reserves := &reservecache.Cache{
		ByReserve: map[string]*models.Reserve{
			solReserveAddr:  solReserve,
			usdcReserveAddr: usdcReserve,
		},
		ByMint: map[string]*models.Reserve{
			solMint:  solReserve,
			usdcMint: usdcReserve,
		},
	}

	oracles := &oraclecache.Cache{ByMint: map[string]*models.OraclePrice{
		solMint:  {Mint: solMint, Mantissa: int64(solPrice * 100), Exponent: -2, Timestamp: fixedNow},
		usdcMint: {Mint: usdcMint, Mantissa: int64(usdcPrice * 100), Exponent: -2, Timestamp: fixedNow},
	}}

	return reserves, oracles
}

func cfg() *config.Config {
	return &config.Config{HealthSource: config.HealthSourceRecomputed, StaleSfSlotLag: 200_000}
}

// exchangeRate on these synthetic reserves is always 1 (collateral
// notes == underlying), since CollateralMintSupply == AvailableLiquidity == 1
// wasn't what we want; deposits below use a reserve whose exchange
// rate we control directly via DepositedNotes == desired underlying
// amount (rate 1:1) by setting AvailableLiquidity/CollateralMintSupply
// equal.

func TestScenario1_HealthyPosition(t *testing.T) {
	reserves, oracles := setup(85, 100, 100, 1)
	// make exchange rate exactly 1: collateralSupplyUi == totalLiquidityUi
	reserves.ByReserve[solReserveAddr].AvailableLiquidity = 1_000_000_000
	reserves.ByReserve[solReserveAddr].CollateralMintSupply = 1_000_000_000

	obligation := &models.Obligation{
		Market: market,
		Deposits: []models.Deposit{
			{ReserveAddress: solReserveAddr, Mint: solMint, DepositedNotes: 1_000_000_000}, // 1 SOL note
		},
		Borrows: []models.Borrow{
			{ReserveAddress: usdcReserveAddr, Mint: usdcMint, BorrowedAmountSf: wad(50_000_000)},
		},
	}

	result := Score(obligation, reserves, oracles, cfg(), market, 0, fixedNow)
	assert.True(t, result.Scored)
	assert.InDelta(t, 85.0, result.CollateralValueAdjUsd, 0.5)
	assert.InDelta(t, 50.0, result.BorrowValueUsd, 0.5)
	assert.InDelta(t, 1.70, result.HealthRatio, 0.02)
	assert.False(t, result.LiquidationEligible)
}

func TestScenario2_LiquidatablePosition(t *testing.T) {
	reserves, oracles := setup(60, 100, 100, 1)
	reserves.ByReserve[solReserveAddr].AvailableLiquidity = 1_000_000_000
	reserves.ByReserve[solReserveAddr].CollateralMintSupply = 1_000_000_000

	obligation := &models.Obligation{
		Market: market,
		Deposits: []models.Deposit{
			{ReserveAddress: solReserveAddr, Mint: solMint, DepositedNotes: 500_000_000}, // 0.5 SOL
		},
		Borrows: []models.Borrow{
			{ReserveAddress: usdcReserveAddr, Mint: usdcMint, BorrowedAmountSf: wad(100_000_000)},
		},
	}

	result := Score(obligation, reserves, oracles, cfg(), market, 0, fixedNow)
	assert.True(t, result.Scored)
	assert.InDelta(t, 30.0, result.CollateralValueAdjUsd, 0.5)
	assert.InDelta(t, 100.0, result.BorrowValueUsd, 0.5)
	assert.InDelta(t, 0.30, result.HealthRatio, 0.02)
	assert.True(t, result.LiquidationEligible)
}

func TestTotalBorrowUsdStaysUnweighted(t *testing.T) {
	// borrow factor 200%: the health-ratio denominator doubles, but the
	// debt actually owed does not.
	reserves, oracles := setup(85, 200, 100, 1)
	reserves.ByReserve[solReserveAddr].AvailableLiquidity = 1_000_000_000
	reserves.ByReserve[solReserveAddr].CollateralMintSupply = 1_000_000_000

	obligation := &models.Obligation{
		Market: market,
		Deposits: []models.Deposit{
			{ReserveAddress: solReserveAddr, Mint: solMint, DepositedNotes: 1_000_000_000},
		},
		Borrows: []models.Borrow{
			{ReserveAddress: usdcReserveAddr, Mint: usdcMint, BorrowedAmountSf: wad(50_000_000)},
		},
	}

	result := Score(obligation, reserves, oracles, cfg(), market, 0, fixedNow)
	assert.True(t, result.Scored)
	assert.InDelta(t, 50.0, result.TotalBorrowUsd, 0.5)
	assert.InDelta(t, 100.0, result.BorrowValueUsd, 0.5)
}

func TestScenario3_ClampedHealthRatio(t *testing.T) {
	reserves, oracles := setup(85, 100, 100, 1)
	reserves.ByReserve[solReserveAddr].AvailableLiquidity = 10_000_000_000
	reserves.ByReserve[solReserveAddr].CollateralMintSupply = 10_000_000_000

	obligation := &models.Obligation{
		Market: market,
		Deposits: []models.Deposit{
			{ReserveAddress: solReserveAddr, Mint: solMint, DepositedNotes: 10_000_000_000}, // 10 SOL
		},
		Borrows: []models.Borrow{
			{ReserveAddress: solReserveAddr, Mint: solMint, BorrowedAmountSf: wad(0)}, // negligible borrow handled below
		},
	}
	// 0.1 SOL borrow (100_000_000 lamports), expressed in SF units.
	obligation.Borrows[0].BorrowedAmountSf = wad(100_000_000)

	result := Score(obligation, reserves, oracles, cfg(), market, 0, fixedNow)
	assert.True(t, result.Scored)
	assert.Equal(t, 2.0, result.HealthRatio)
	assert.Greater(t, result.HealthRatioRaw, 2.0)
}

func wadFraction(numerator, denominator int64) [2]uint64 {
	v := new(big.Int).Mul(big.NewInt(numerator), fixedpoint.ScaleSf)
	v.Div(v, big.NewInt(denominator))
	mask := new(big.Int).SetUint64(^uint64(0))
	lo := new(big.Int).And(v, mask).Uint64()
	hi := new(big.Int).Rsh(v, 64).Uint64()
	return [2]uint64{lo, hi}
}

func TestScenario4_MissingReserve(t *testing.T) {
	reserves, oracles := setup(85, 100, 100, 1)

	obligation := &models.Obligation{
		Market: market,
		Deposits: []models.Deposit{
			{ReserveAddress: "does-not-exist", Mint: "ghost", DepositedNotes: 1},
		},
	}

	result := Score(obligation, reserves, oracles, cfg(), market, 0, fixedNow)
	assert.False(t, result.Scored)
	assert.Equal(t, models.ReasonMissingReserve, result.Reason)
}

func TestStaleOraclePriceIsUnscored(t *testing.T) {
	reserves, oracles := setup(85, 100, 100, 1)
	oracles.ByMint[solMint].Timestamp = fixedNow.Add(-31 * time.Second)

	obligation := &models.Obligation{
		Market: market,
		Deposits: []models.Deposit{
			{ReserveAddress: solReserveAddr, Mint: solMint, DepositedNotes: 1_000_000_000},
		},
		Borrows: []models.Borrow{
			{ReserveAddress: usdcReserveAddr, Mint: usdcMint, BorrowedAmountSf: wad(50_000_000)},
		},
	}

	result := Score(obligation, reserves, oracles, cfg(), market, 0, fixedNow)
	assert.False(t, result.Scored)
	assert.Equal(t, models.ReasonMissingOraclePrice, result.Reason)
}

func TestEmptyObligation(t *testing.T) {
	reserves, oracles := setup(85, 100, 100, 1)
	obligation := &models.Obligation{Market: market}
	result := Score(obligation, reserves, oracles, cfg(), market, 0, fixedNow)
	assert.False(t, result.Scored)
	assert.Equal(t, models.ReasonEmptyObligation, result.Reason)
}

func TestOtherMarket(t *testing.T) {
	reserves, oracles := setup(85, 100, 100, 1)
	obligation := &models.Obligation{
		Market: "some-other-market",
		Deposits: []models.Deposit{
			{ReserveAddress: solReserveAddr, Mint: solMint, DepositedNotes: 1},
		},
	}
	result := Score(obligation, reserves, oracles, cfg(), market, 0, fixedNow)
	assert.False(t, result.Scored)
	assert.Equal(t, models.ReasonOtherMarket, result.Reason)
}

func TestAllowlistReasonsDistinguishMixedFromOutOfScope(t *testing.T) {
	reserves, oracles := setup(85, 100, 100, 1)
	allowlisted := &config.Config{
		HealthSource:   config.HealthSourceRecomputed,
		StaleSfSlotLag: 200_000,
		AllowlistMints: []string{solMint, usdcMint},
	}

	entirelyOutside := &models.Obligation{
		Market: market,
		Deposits: []models.Deposit{
			{ReserveAddress: "bonkReserve", Mint: "BONK", DepositedNotes: 1},
		},
		Borrows: []models.Borrow{
			{ReserveAddress: "wifReserve", Mint: "WIF", BorrowedAmountSf: wad(1)},
		},
	}
	result := Score(entirelyOutside, reserves, oracles, allowlisted, market, 0, fixedNow)
	assert.False(t, result.Scored)
	assert.Equal(t, models.ReasonNotInAllowlist, result.Reason)

	straddling := &models.Obligation{
		Market: market,
		Deposits: []models.Deposit{
			{ReserveAddress: solReserveAddr, Mint: solMint, DepositedNotes: 1},
		},
		Borrows: []models.Borrow{
			{ReserveAddress: "wifReserve", Mint: "WIF", BorrowedAmountSf: wad(1)},
		},
	}
	result = Score(straddling, reserves, oracles, allowlisted, market, 0, fixedNow)
	assert.False(t, result.Scored)
	assert.Equal(t, models.ReasonMixedOutOfScope, result.Reason)
}

func TestStaleProtocolValuesDisableHybrid(t *testing.T) {
	reserves, oracles := setup(85, 100, 100, 1)
	reserves.ByReserve[solReserveAddr].AvailableLiquidity = 1_000_000_000
	reserves.ByReserve[solReserveAddr].CollateralMintSupply = 1_000_000_000

	obligation := &models.Obligation{
		Market: market,
		Slot:   0,
		Deposits: []models.Deposit{
			{ReserveAddress: solReserveAddr, Mint: solMint, DepositedNotes: 1_000_000_000},
		},
		Borrows: []models.Borrow{
			{ReserveAddress: usdcReserveAddr, Mint: usdcMint, BorrowedAmountSf: wad(50_000_000)},
		},
		UnhealthyBorrowValueSf:     wad(40),
		BorrowFactorAdjustedDebtSf: wad(50),
	}

	hybridCfg := &config.Config{HealthSource: config.HealthSourceHybrid, StaleSfSlotLag: 200_000}
	result := Score(obligation, reserves, oracles, hybridCfg, market, 500_000, fixedNow)
	assert.True(t, result.Scored)
	assert.False(t, result.HybridAvailable)
	assert.Equal(t, "sf-stale", result.HybridUnavailableReason)
	// with hybrid disabled the recomputed ratio stays authoritative.
	assert.InDelta(t, 1.70, result.HealthRatio, 0.02)
}

func TestHybridSourceSelection(t *testing.T) {
	reserves, oracles := setup(85, 100, 100, 1)
	reserves.ByReserve[solReserveAddr].AvailableLiquidity = 1_000_000_000
	reserves.ByReserve[solReserveAddr].CollateralMintSupply = 1_000_000_000

	obligation := &models.Obligation{
		Market: market,
		Slot:   1_000,
		Deposits: []models.Deposit{
			{ReserveAddress: solReserveAddr, Mint: solMint, DepositedNotes: 1_000_000_000},
		},
		Borrows: []models.Borrow{
			{ReserveAddress: usdcReserveAddr, Mint: usdcMint, BorrowedAmountSf: wad(50_000_000)},
		},
		// protocol-stored values describe a liquidatable position, the
		// opposite of what the recomputed 85/50 math above yields.
		UnhealthyBorrowValueSf:     wad(40),
		BorrowFactorAdjustedDebtSf: wad(50),
	}

	recomputed := Score(obligation, reserves, oracles, &config.Config{HealthSource: config.HealthSourceRecomputed, StaleSfSlotLag: 200_000}, market, 1_000, fixedNow)
	assert.InDelta(t, 1.70, recomputed.HealthRatio, 0.02)
	assert.False(t, recomputed.LiquidationEligible)

	hybrid := Score(obligation, reserves, oracles, &config.Config{HealthSource: config.HealthSourceHybrid, StaleSfSlotLag: 200_000}, market, 1_000, fixedNow)
	assert.True(t, hybrid.HybridAvailable)
	assert.InDelta(t, 0.80, hybrid.HealthRatio, 0.02)
	assert.True(t, hybrid.LiquidationEligible)
	// the recomputed ratio stays available for divergence inspection
	// regardless of which source is authoritative.
	assert.InDelta(t, 1.70, hybrid.HealthRatioRecomputed, 0.02)
}

func TestHrRawGreaterOrEqualHr(t *testing.T) {
	reserves, oracles := setup(85, 100, 100, 1)
	reserves.ByReserve[solReserveAddr].AvailableLiquidity = 10_000_000_000
	reserves.ByReserve[solReserveAddr].CollateralMintSupply = 10_000_000_000

	obligation := &models.Obligation{
		Market: market,
		Deposits: []models.Deposit{
			{ReserveAddress: solReserveAddr, Mint: solMint, DepositedNotes: 10_000_000_000},
		},
		Borrows: []models.Borrow{
			{ReserveAddress: solReserveAddr, Mint: solMint, BorrowedAmountSf: wadFraction(1, 10)},
		},
	}
	result := Score(obligation, reserves, oracles, cfg(), market, 0, fixedNow)
	assert.GreaterOrEqual(t, result.HealthRatioRaw, result.HealthRatio)
}
