// Package scorer computes obligation health: deposit/borrow USD
// valuation against the reserve and oracle caches, and the
// hybrid-vs-recomputed health ratio pair. Results are tagged: an
// obligation either scores or carries a structured reason why it could
// not be valued.
package scorer

import (
	"math/big"
	"time"

	"github.com/klend-bot/liquidator/internal/config"
	"github.com/klend-bot/liquidator/internal/fixedpoint"
	"github.com/klend-bot/liquidator/internal/models"
	"github.com/klend-bot/liquidator/internal/oraclecache"
	"github.com/klend-bot/liquidator/internal/reservecache"
)

// clampMax is the upper clamp applied to the ranking health ratio.
const clampMax = 2.0

// Score computes the health of a single obligation against the
// current reserve and oracle caches. now anchors the 30-second
// oracle-freshness window; a stale deposit or borrow price is treated
// as if the price were simply missing.
func Score(obligation *models.Obligation, reserves *reservecache.Cache, oracles *oraclecache.Cache, cfg *config.Config, marketAddress string, currentSlot uint64, now time.Time) models.ScoreResult {
	if len(obligation.Deposits) == 0 && len(obligation.Borrows) == 0 {
		return unscored(obligation, models.ReasonEmptyObligation)
	}
	if obligation.Market != marketAddress {
		return unscored(obligation, models.ReasonOtherMarket)
	}

	if cfg.AllowlistActive() {
		allowed, outside := 0, 0
		for _, d := range obligation.Deposits {
			if cfg.MintAllowed(d.Mint) {
				allowed++
			} else {
				outside++
			}
		}
		for _, b := range obligation.Borrows {
			if cfg.MintAllowed(b.Mint) {
				allowed++
			} else {
				outside++
			}
		}
		// A position entirely outside the allowlist is simply out of
		// scope; one that straddles the boundary cannot be valued from
		// the allowlisted caches alone and is tracked separately.
		if outside > 0 {
			if allowed == 0 {
				return unscored(obligation, models.ReasonNotInAllowlist)
			}
			return unscored(obligation, models.ReasonMixedOutOfScope)
		}
	}

	collateralValueAdjUsd := 0.0
	collateralValueUsd := 0.0
	for _, d := range obligation.Deposits {
		reserve, ok := reserves.ByReserve[d.ReserveAddress]
		if !ok {
			return unscored(obligation, models.ReasonMissingReserve)
		}
		price, ok := oracles.ByMint[reserve.LiquidityMint]
		if !ok || !oraclecache.IsFresh(price, now) {
			return unscored(obligation, models.ReasonMissingOraclePrice)
		}

		rate := reserves.ExchangeRate(reserve)
		if rate <= 0 {
			return unscored(obligation, models.ReasonMissingExchangeRate)
		}

		depositedNotesUi := fixedpoint.RawToUi(new(big.Int).SetUint64(d.DepositedNotes), reserve.CollateralDecimals)
		underlyingUi := depositedNotesUi / rate

		ui := oraclecache.UiPrice(price)
		conf := confidenceUi(price)
		floorPrice := ui - conf
		if floorPrice < 0 {
			floorPrice = 0
		}

		valueUsd := underlyingUi * floorPrice
		weight := float64(reserve.LiquidationThreshold) / 100.0
		collateralValueUsd += valueUsd
		collateralValueAdjUsd += valueUsd * weight
	}

	borrowValueUsd := 0.0
	totalBorrowUsd := 0.0
	for _, b := range obligation.Borrows {
		reserve, ok := reserves.ByReserve[b.ReserveAddress]
		if !ok {
			return unscored(obligation, models.ReasonMissingReserve)
		}
		price, ok := oracles.ByMint[reserve.LiquidityMint]
		if !ok || !oraclecache.IsFresh(price, now) {
			return unscored(obligation, models.ReasonMissingOraclePrice)
		}

		borrowedSf := fixedpoint.FromHalves(b.BorrowedAmountSf)
		rate := fixedpoint.FromHalves(reserve.CumulativeBorrowRate)
		if rate.Sign() <= 0 {
			return unscored(obligation, models.ReasonInvalidMath)
		}
		tokensRaw := fixedpoint.SfOverBsfToRaw(borrowedSf, rate)
		tokensUi := fixedpoint.RawToUi(tokensRaw, reserve.LiquidityDecimals)

		ui := oraclecache.UiPrice(price)
		conf := confidenceUi(price)
		ceilPrice := ui + conf

		valueUsd := tokensUi * ceilPrice
		weight := float64(reserve.BorrowFactorPct) / 100.0
		if weight <= 0 {
			weight = 1.0
		}
		totalBorrowUsd += valueUsd
		borrowValueUsd += valueUsd * weight
	}

	var recomputedRaw float64
	switch {
	case borrowValueUsd <= 0:
		recomputedRaw = clampMax
	case collateralValueAdjUsd <= 0:
		recomputedRaw = 0
	default:
		recomputedRaw = collateralValueAdjUsd / borrowValueUsd
	}

	result := models.ScoreResult{
		Obligation:            obligation,
		Scored:                true,
		HealthRatioRaw:        recomputedRaw,
		HealthRatioRecomputed: recomputedRaw,
		BorrowValueUsd:        borrowValueUsd,
		CollateralValueUsd:    collateralValueUsd,
		CollateralValueAdjUsd: collateralValueAdjUsd,
		TotalBorrowUsd:        totalBorrowUsd,
	}

	slotLag := int64(currentSlot) - int64(obligation.Slot)
	if slotLag >= 0 && uint64(slotLag) <= cfg.StaleSfSlotLag {
		result.HybridAvailable = true
		result.HealthRatioHybrid = hybridRatio(obligation)
	} else {
		result.HybridUnavailableReason = "sf-stale"
	}

	// cfg.HealthSource picks recomputed or hybrid as the authoritative
	// HealthRatio/HealthRatioRaw; both components stay exposed above so
	// callers can inspect divergence between the two.
	chosenRaw := result.HealthRatioRaw
	if cfg.HealthSource == config.HealthSourceHybrid && result.HybridAvailable {
		chosenRaw = result.HealthRatioHybrid
	}
	result.HealthRatioRaw = chosenRaw
	result.HealthRatio = clamp(chosenRaw)
	result.LiquidationEligible = chosenRaw < 1.0

	result.LiquidationEligibleProtocol = protocolEligible(obligation)

	return result
}

func clamp(hr float64) float64 {
	if hr > clampMax {
		return clampMax
	}
	if hr < 0 {
		return 0
	}
	return hr
}

// hybridRatio computes unhealthyBorrowValueSf / borrowFactorAdjustedDebtSf:
// higher is healthier, consistent with the recomputed ratio above. The
// raw numerator and denominator stay on the obligation so a caller can
// re-derive or invert if a protocol version changes the convention.
func hybridRatio(obligation *models.Obligation) float64 {
	unhealthy := fixedpoint.FromHalves(obligation.UnhealthyBorrowValueSf)
	debt := fixedpoint.FromHalves(obligation.BorrowFactorAdjustedDebtSf)
	if debt.Sign() <= 0 {
		return clampMax
	}
	ratio := new(big.Float).Quo(new(big.Float).SetInt(unhealthy), new(big.Float).SetInt(debt))
	out, _ := ratio.Float64()
	return out
}

// protocolEligible is a diagnostic mirror of the protocol's own
// unhealthy<=debtAdjusted comparison. It is never used for gating.
func protocolEligible(obligation *models.Obligation) bool {
	unhealthy := fixedpoint.FromHalves(obligation.UnhealthyBorrowValueSf)
	debt := fixedpoint.FromHalves(obligation.BorrowFactorAdjustedDebtSf)
	return unhealthy.Cmp(debt) <= 0
}

func confidenceUi(price *models.OraclePrice) float64 {
	scaled := &models.OraclePrice{Mantissa: int64(price.Confidence), Exponent: price.Exponent}
	return oraclecache.UiPrice(scaled)
}

func unscored(obligation *models.Obligation, reason models.UnscoredReason) models.ScoreResult {
	return models.ScoreResult{Obligation: obligation, Scored: false, Reason: reason}
}
