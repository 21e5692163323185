package scheduler

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klend-bot/liquidator/internal/assembler"
	"github.com/klend-bot/liquidator/internal/config"
	"github.com/klend-bot/liquidator/internal/fixedpoint"
	"github.com/klend-bot/liquidator/internal/models"
	"github.com/klend-bot/liquidator/internal/oraclecache"
	"github.com/klend-bot/liquidator/internal/reservecache"
)

func testCfg() *config.Config {
	return &config.Config{
		MinEvUsd:    5,
		MaxTtlMin:   60,
		MinHazard:   0.05,
		HazardAlpha: 25,
		EvParams: config.EvParams{
			CloseFactorPct:      50,
			LiquidationBonusBps: 500,
			FlashloanFeeBps:     9,
			FixedGasUsd:         0.05,
			SlippageBufferPct:   0.5,
		},
	}
}

func TestHazardMonotoneInGap(t *testing.T) {
	assert.Equal(t, 0.0, Hazard(1.0, 25))
	assert.Equal(t, 0.0, Hazard(1.5, 25)) // gap clamped at 0, healthy side never negative
	h1 := Hazard(0.9, 25)
	h2 := Hazard(0.5, 25)
	assert.Greater(t, h2, h1)
}

func TestFilterForceIncludesLiquidationEligible(t *testing.T) {
	results := []models.ScoreResult{
		{Scored: true, BorrowValueUsd: 1, CollateralValueUsd: 1, HealthRatio: 0.3, LiquidationEligible: true},
	}
	candidates, stats := Filter(results, testCfg())
	assert.Len(t, candidates, 1)
	assert.Equal(t, 1, stats.Passed)
}

func TestFilterRejectsBelowMinEv(t *testing.T) {
	results := []models.ScoreResult{
		{Scored: true, BorrowValueUsd: 1, TotalBorrowUsd: 1, CollateralValueUsd: 1, HealthRatio: 1.9, LiquidationEligible: false},
	}
	candidates, stats := Filter(results, testCfg())
	assert.Empty(t, candidates)
	assert.Equal(t, 1, stats.Counts[RejectMinEv])
}

func TestFilterRejectsMissingBorrowValue(t *testing.T) {
	results := []models.ScoreResult{
		{Scored: true, BorrowValueUsd: 0, CollateralValueUsd: 10, HealthRatio: 2, LiquidationEligible: false},
	}
	candidates, stats := Filter(results, testCfg())
	assert.Empty(t, candidates)
	assert.Equal(t, 1, stats.Counts[RejectMissingBorrow])
}

func TestFilterSkipsUnscoredResults(t *testing.T) {
	results := []models.ScoreResult{
		{Scored: false, Reason: models.ReasonMissingReserve},
	}
	candidates, stats := Filter(results, testCfg())
	assert.Empty(t, candidates)
	assert.Equal(t, 0, stats.Total)
}

func TestRankOrdersEligibleFirstThenEvThenTtlThenHazard(t *testing.T) {
	low := 10.0
	high := 50.0
	candidates := []models.Candidate{
		{Obligation: &models.Obligation{Address: "not-eligible-high-ev"}, Score: models.ScoreResult{LiquidationEligible: false}, Ev: 100, TtlMin: &low},
		{Obligation: &models.Obligation{Address: "eligible-low-ev"}, Score: models.ScoreResult{LiquidationEligible: true}, Ev: 1, TtlMin: &high},
		{Obligation: &models.Obligation{Address: "eligible-high-ev"}, Score: models.ScoreResult{LiquidationEligible: true}, Ev: 50, TtlMin: &low},
	}
	ranked := Rank(candidates)
	assert.Equal(t, "eligible-high-ev", ranked[0].Obligation.Address)
	assert.Equal(t, "eligible-low-ev", ranked[1].Obligation.Address)
	assert.Equal(t, "not-eligible-high-ev", ranked[2].Obligation.Address)
}

func TestEstimateEvAppliesCloseFactorFeesAndGas(t *testing.T) {
	params := config.EvParams{
		CloseFactorPct:      50,
		LiquidationBonusBps: 500,
		FlashloanFeeBps:     9,
		FixedGasUsd:         0.05,
		SlippageBufferPct:   0.5,
	}
	r := models.ScoreResult{TotalBorrowUsd: 1000, BorrowValueUsd: 1500, CollateralValueUsd: 1000}

	// repayable = 1000 * 0.5 = 500 (smaller than the 1000 seizable, so base = 500)
	// bonus = 500 * 0.05 = 25; fee = 500 * 0.0009 = 0.45; slippage = 500 * 0.005 = 2.5
	got := estimateEv(r, params)
	assert.InDelta(t, 25-0.45-2.5-0.05, got, 1e-9)
}

func TestEstimateEvIgnoresBorrowFactorWeightedValue(t *testing.T) {
	params := config.EvParams{CloseFactorPct: 50, LiquidationBonusBps: 500}
	// the BF-weighted value is double the debt actually owed; sizing
	// must follow the unweighted figure.
	weighted := models.ScoreResult{TotalBorrowUsd: 100, BorrowValueUsd: 200, CollateralValueUsd: 1000}
	unweighted := models.ScoreResult{TotalBorrowUsd: 100, BorrowValueUsd: 100, CollateralValueUsd: 1000}
	assert.Equal(t, estimateEv(unweighted, params), estimateEv(weighted, params))
}

func TestEstimateEvZeroCloseFactorYieldsNoEv(t *testing.T) {
	params := config.EvParams{LiquidationBonusBps: 500}
	r := models.ScoreResult{TotalBorrowUsd: 1000, BorrowValueUsd: 1000, CollateralValueUsd: 1000}
	assert.Equal(t, 0.0, estimateEv(r, params))
}

func TestMaterializePlanAmountIsRepayTokenUnits(t *testing.T) {
	repayMint := solana.NewWallet().PublicKey().String()
	repayNoteMint := solana.NewWallet().PublicKey().String()
	seizeLiqMint := solana.NewWallet().PublicKey().String()
	seizeNoteMint := solana.NewWallet().PublicKey().String()

	repayReserve := &models.Reserve{
		Address:            solana.NewWallet().PublicKey().String(),
		LiquidityMint:      repayMint,
		CollateralMint:     repayNoteMint,
		LiquidityDecimals:  6,
		CollateralDecimals: 6,
	}
	seizeReserve := &models.Reserve{
		Address:            solana.NewWallet().PublicKey().String(),
		LiquidityMint:      seizeLiqMint,
		CollateralMint:     seizeNoteMint,
		LiquidityDecimals:  9,
		CollateralDecimals: 9,
	}
	reserves := &reservecache.Cache{
		ByReserve: map[string]*models.Reserve{
			repayReserve.Address: repayReserve,
			seizeReserve.Address: seizeReserve,
		},
		ByMint: map[string]*models.Reserve{
			repayMint:    repayReserve,
			seizeLiqMint: seizeReserve,
		},
	}
	oracles := &oraclecache.Cache{ByMint: map[string]*models.OraclePrice{
		repayMint: {Mint: repayMint, Mantissa: 200, Exponent: -2}, // $2.00 per token
	}}

	obligation := &models.Obligation{
		Address: solana.NewWallet().PublicKey().String(),
		Deposits: []models.Deposit{
			{ReserveAddress: seizeReserve.Address, Mint: seizeLiqMint, DepositedNotes: 1},
		},
		Borrows: []models.Borrow{
			{ReserveAddress: repayReserve.Address, Mint: repayMint, BorrowedAmountSf: [2]uint64{1, 0}},
		},
	}
	c := models.Candidate{
		Obligation: obligation,
		Score:      models.ScoreResult{TotalBorrowUsd: 100, BorrowValueUsd: 150, CollateralValueUsd: 500},
	}

	plan := MaterializePlan(c, reserves, oracles, time.Unix(1_700_000_000, 0))
	// $100 of debt at $2/token -> 50 repay tokens, not 100 dollars.
	assert.InDelta(t, 50.0, plan.AmountUi, 1e-9)

	compiled, err := assembler.Build(assembler.BuildParams{
		ProgramID:  solana.NewWallet().PublicKey(),
		Payer:      solana.NewWallet().PublicKey(),
		Obligation: obligation,
		Reserves:   reserves,
		Plan:       plan,
		CuLimit:    600_000,
	})
	require.NoError(t, err)

	liquidateIx := compiled.MainIxs[len(compiled.MainIxs)-1]
	data, err := liquidateIx.Data()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(data), 16)
	rawAmount := binary.LittleEndian.Uint64(data[8:16])
	assert.Equal(t, fixedpoint.UiToRaw(plan.AmountUi, plan.RepayDecimals), rawAmount)
	assert.Equal(t, uint64(50_000_000), rawAmount) // 50 tokens at 6 decimals
}

func TestMaterializePlanMissingRepayPriceLeavesAmountZero(t *testing.T) {
	reserveAddr := solana.NewWallet().PublicKey().String()
	mint := solana.NewWallet().PublicKey().String()
	reserves := &reservecache.Cache{
		ByReserve: map[string]*models.Reserve{
			reserveAddr: {Address: reserveAddr, LiquidityMint: mint, LiquidityDecimals: 6},
		},
		ByMint: map[string]*models.Reserve{},
	}
	oracles := &oraclecache.Cache{ByMint: map[string]*models.OraclePrice{}}

	c := models.Candidate{
		Obligation: &models.Obligation{
			Address: solana.NewWallet().PublicKey().String(),
			Borrows: []models.Borrow{{ReserveAddress: reserveAddr, Mint: mint, BorrowedAmountSf: [2]uint64{1, 0}}},
		},
		Score: models.ScoreResult{TotalBorrowUsd: 100, CollateralValueUsd: 500},
	}

	plan := MaterializePlan(c, reserves, oracles, time.Unix(1_700_000_000, 0))
	assert.Equal(t, 0.0, plan.AmountUi)
}

func TestRankNilTtlSortsLast(t *testing.T) {
	ttl := 5.0
	candidates := []models.Candidate{
		{Obligation: &models.Obligation{Address: "no-ttl"}, Score: models.ScoreResult{LiquidationEligible: true}, Ev: 10, TtlMin: nil},
		{Obligation: &models.Obligation{Address: "has-ttl"}, Score: models.ScoreResult{LiquidationEligible: true}, Ev: 10, TtlMin: &ttl},
	}
	ranked := Rank(candidates)
	assert.Equal(t, "has-ttl", ranked[0].Obligation.Address)
	assert.Equal(t, "no-ttl", ranked[1].Obligation.Address)
}
