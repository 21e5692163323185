// Command scanner is the read-only counterpart to cmd/liquidator: it
// bootstraps the reserve/oracle/obligation caches once, scores and
// ranks every obligation, prints the candidates, and exits without
// ever signing or broadcasting anything. Useful for validating a market
// or allowlist before pointing cmd/liquidator at it.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/klend-bot/liquidator/internal/config"
	"github.com/klend-bot/liquidator/internal/geyser"
	"github.com/klend-bot/liquidator/internal/models"
	"github.com/klend-bot/liquidator/internal/oraclecache"
	"github.com/klend-bot/liquidator/internal/reservecache"
	"github.com/klend-bot/liquidator/internal/rpcclient"
	"github.com/klend-bot/liquidator/internal/scheduler"
	"github.com/klend-bot/liquidator/internal/scorer"
)

type reportRow struct {
	Obligation          string  `json:"obligation"`
	HealthRatio         float64 `json:"healthRatio"`
	LiquidationEligible bool    `json:"liquidationEligible"`
	Ev                  float64 `json:"ev"`
	Hazard              float64 `json:"hazard"`
}

func main() {
	config.LoadEnvFile()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "scanner: failed to load configuration:", err)
		os.Exit(1)
	}
	log := config.NewLogger(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	rpc := rpcclient.New(rpcclient.Config{
		BaseURL:       cfg.SolanaRPCURL,
		RatePerSecond: 20,
		Logger:        log,
	})

	reserves, err := reservecache.Load(ctx, rpc, cfg.LendingProgramID, cfg.AllowlistMints, log)
	if err != nil {
		log.WithError(err).Fatal("scanner: failed to load reserve cache")
	}

	oracles, err := oraclecache.Load(ctx, rpc, reserves, cfg.AllowlistActive(), log)
	if err != nil {
		log.WithError(err).Fatal("scanner: failed to load oracle cache")
	}

	idx := geyser.New(rpc, log, geyser.Config{
		ProgramID: cfg.LendingProgramID,
	})
	if err := idx.Run(ctx, "", true); err != nil {
		log.WithError(err).Fatal("scanner: bootstrap scan failed")
	}

	obligations := idx.Snapshot()
	if len(obligations) == 0 {
		fmt.Println("[]")
		return
	}

	var maxSlot uint64
	for _, o := range obligations {
		if o.Slot > maxSlot {
			maxSlot = o.Slot
		}
	}

	var results []models.ScoreResult
	for _, o := range obligations {
		results = append(results, scorer.Score(o, reserves, oracles, cfg, cfg.MarketAddress, maxSlot, time.Now()))
	}

	candidates, stats := scheduler.Filter(results, cfg)
	ranked := scheduler.Rank(candidates)

	rows := make([]reportRow, 0, len(ranked))
	for _, c := range ranked {
		rows = append(rows, reportRow{
			Obligation:          c.Obligation.Address,
			HealthRatio:         c.Score.HealthRatio,
			LiquidationEligible: c.Score.LiquidationEligible,
			Ev:                  c.Ev,
			Hazard:              c.Hazard,
		})
	}

	log.WithFields(logrus.Fields{
		"obligations": len(obligations),
		"candidates":  len(ranked),
		"rejected":    stats.Counts,
	}).Info("scanner: scan complete")

	out, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		log.WithError(err).Fatal("scanner: failed to marshal report")
	}
	fmt.Println(string(out))
}
