// Package scheduler turns scored obligations into a ranked, persisted
// queue of execution plans: filter with per-reason rejection counters,
// rank, materialize versioned plans, and persist the queue as an
// atomically-written JSON file under a scoped lock.
package scheduler

import (
	"math"
	"sort"
	"time"

	"github.com/klend-bot/liquidator/internal/config"
	"github.com/klend-bot/liquidator/internal/models"
	"github.com/klend-bot/liquidator/internal/oraclecache"
	"github.com/klend-bot/liquidator/internal/reservecache"
)

// RejectReason enumerates why a scored obligation did not become a
// candidate.
type RejectReason string

const (
	RejectMissingHealth RejectReason = "missing_health"
	RejectMissingBorrow RejectReason = "missing_borrow_value"
	RejectMinEv         RejectReason = "below_min_ev"
	RejectMaxTtl        RejectReason = "above_max_ttl"
	RejectMinHazard     RejectReason = "below_min_hazard"
)

// FilterStats counts rejections per reason across one filter pass.
type FilterStats struct {
	Counts map[RejectReason]int
	Total  int
	Passed int
}

func newFilterStats() *FilterStats {
	return &FilterStats{Counts: make(map[RejectReason]int)}
}

func (s *FilterStats) reject(reason RejectReason) {
	s.Counts[reason]++
}

// Hazard computes 1 - exp(-alpha * max(0, 1 - healthRatio)). alpha is
// cfg.HazardAlpha.
func Hazard(healthRatio, alpha float64) float64 {
	gap := 1 - healthRatio
	if gap < 0 {
		gap = 0
	}
	return 1 - math.Exp(-alpha*gap)
}

// Filter applies the eligibility gates to a batch of scored
// obligations, producing candidates and counted rejections.
// Obligations the scorer marked LiquidationEligible are always kept
// regardless of the min-EV/max-TTL/min-hazard gates (force-include);
// everything else must clear all three.
func Filter(results []models.ScoreResult, cfg *config.Config) ([]models.Candidate, *FilterStats) {
	stats := newFilterStats()
	var candidates []models.Candidate

	for _, r := range results {
		if !r.Scored {
			continue
		}
		stats.Total++

		if r.BorrowValueUsd <= 0 {
			stats.reject(RejectMissingBorrow)
			continue
		}

		hazard := Hazard(r.HealthRatio, cfg.HazardAlpha)
		ev := estimateEv(r, cfg.EvParams)
		ttl := estimateTtlMin(r, hazard)

		if r.LiquidationEligible {
			candidates = append(candidates, models.Candidate{
				Obligation: r.Obligation,
				Score:      r,
				Hazard:     hazard,
				Ev:         ev,
				TtlMin:     ttl,
			})
			stats.Passed++
			continue
		}

		if ev < cfg.MinEvUsd {
			stats.reject(RejectMinEv)
			continue
		}
		if cfg.MaxTtlMin > 0 && ttl != nil && *ttl > cfg.MaxTtlMin {
			stats.reject(RejectMaxTtl)
			continue
		}
		if hazard < cfg.MinHazard {
			stats.reject(RejectMinHazard)
			continue
		}

		candidates = append(candidates, models.Candidate{
			Obligation: r.Obligation,
			Score:      r,
			Hazard:     hazard,
			Ev:         ev,
			TtlMin:     ttl,
		})
		stats.Passed++
	}

	return candidates, stats
}

// estimateEv is the expected-value proxy used for ranking and the
// min-EV gate: the liquidation bonus earned on the close-factor-limited
// repay size, net of the flash-loan fee, a fixed gas cost, and a
// swap-leg slippage buffer. Sizing starts from TotalBorrowUsd, the
// unweighted debt actually owed; the borrow-factor-weighted
// BorrowValueUsd only shapes the health ratio, not how many dollars a
// liquidation can repay.
// This is a ranking heuristic; the assembler/executor re-derive the
// true bonus and fees from the reserve at build time.
func estimateEv(r models.ScoreResult, params config.EvParams) float64 {
	repayable := r.TotalBorrowUsd * (params.CloseFactorPct / 100.0)
	seizable := r.CollateralValueUsd
	base := repayable
	if seizable < base {
		base = seizable
	}

	bonus := base * (params.LiquidationBonusBps / 10_000.0)
	flashloanFee := base * (params.FlashloanFeeBps / 10_000.0)
	slippage := base * (params.SlippageBufferPct / 100.0)

	return bonus - flashloanFee - slippage - params.FixedGasUsd
}

// estimateTtlMin estimates minutes until an obligation is expected to
// cross into the unhealthy band, given its current hazard. Returns nil
// (infinite/unknown) when hazard is effectively zero.
func estimateTtlMin(r models.ScoreResult, hazard float64) *float64 {
	if hazard <= 1e-6 {
		return nil
	}
	// Inverse of the hazard curve's implied decay: a rough, monotonic
	// proxy only used for ranking and the max-TTL gate, not a prediction.
	minutes := (1 - hazard) * 120.0
	return &minutes
}

// Rank orders candidates: liquidationEligible first, then by EV
// descending, then by TTL ascending (nil TTL sorts last), then by
// hazard descending.
func Rank(candidates []models.Candidate) []models.Candidate {
	out := make([]models.Candidate, len(candidates))
	copy(out, candidates)

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score.LiquidationEligible != b.Score.LiquidationEligible {
			return a.Score.LiquidationEligible
		}
		if a.Ev != b.Ev {
			return a.Ev > b.Ev
		}
		at, bt := ttlOrInf(a.TtlMin), ttlOrInf(b.TtlMin)
		if at != bt {
			return at < bt
		}
		return a.Hazard > b.Hazard
	})
	return out
}

func ttlOrInf(ttl *float64) float64 {
	if ttl == nil {
		return math.Inf(1)
	}
	return *ttl
}

// MaterializePlan builds a versioned, persistable Plan from a ranked
// candidate, re-deriving the repay/seize reserve+mint preference from
// the obligation's first borrow/deposit. The assembler independently
// re-derives these at build time and treats this plan's values as a
// preference only.
//
// AmountUi is a token quantity of the repay mint, not dollars: the
// collateral-capped USD debt is divided by the repay mint's oracle
// price before it lands on the plan. A missing or non-positive price
// leaves AmountUi at 0, which the executor rejects as incomplete.
func MaterializePlan(c models.Candidate, reserves *reservecache.Cache, oracles *oraclecache.Cache, now time.Time) *models.Plan {
	obligation := c.Obligation
	var repayReserve, repayMint string
	var repayDecimals uint8
	if len(obligation.Borrows) > 0 {
		repayReserve = obligation.Borrows[0].ReserveAddress
		repayMint = obligation.Borrows[0].Mint
		if r, ok := reserves.ByReserve[repayReserve]; ok {
			repayDecimals = r.LiquidityDecimals
		}
	}
	var seizeReserve, seizeMint string
	var collateralDecimals uint8
	if len(obligation.Deposits) > 0 {
		seizeReserve = obligation.Deposits[0].ReserveAddress
		seizeMint = obligation.Deposits[0].Mint
		if r, ok := reserves.ByReserve[seizeReserve]; ok {
			collateralDecimals = r.CollateralDecimals
		}
	}

	amountUsd := c.Score.TotalBorrowUsd
	if c.Score.CollateralValueUsd < amountUsd {
		amountUsd = c.Score.CollateralValueUsd
	}
	amountUi := 0.0
	if price, ok := oracles.ByMint[repayMint]; ok {
		if ui := oraclecache.UiPrice(price); ui > 0 {
			amountUi = amountUsd / ui
		}
	}

	return &models.Plan{
		Version:             models.PlanVersion,
		Key:                 obligation.Address,
		RepayMint:           repayMint,
		SeizeMint:           seizeMint,
		RepayReserve:        repayReserve,
		SeizeReserve:        seizeReserve,
		AmountUi:            amountUi,
		RepayDecimals:       repayDecimals,
		CollateralDecimals:  collateralDecimals,
		CreatedAt:           now,
		LiquidationEligible: c.Score.LiquidationEligible,
		Ev:                  c.Ev,
		Hazard:              c.Hazard,
	}
}
