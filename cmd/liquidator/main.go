// Command liquidator runs the long-lived liquidation engine: it keeps
// the reserve, oracle and obligation caches warm, scores every
// obligation on each tick, ranks and persists execution plans, prebuilds
// signed transactions for the top candidates, and broadcasts
// liquidations for whatever clears the configured thresholds.
package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/klend-bot/liquidator/internal/assembler"
	"github.com/klend-bot/liquidator/internal/config"
	"github.com/klend-bot/liquidator/internal/executor"
	"github.com/klend-bot/liquidator/internal/fixedpoint"
	"github.com/klend-bot/liquidator/internal/geyser"
	"github.com/klend-bot/liquidator/internal/jupiter"
	"github.com/klend-bot/liquidator/internal/models"
	"github.com/klend-bot/liquidator/internal/oraclecache"
	"github.com/klend-bot/liquidator/internal/presubmit"
	"github.com/klend-bot/liquidator/internal/reservecache"
	"github.com/klend-bot/liquidator/internal/rpcclient"
	"github.com/klend-bot/liquidator/internal/scheduler"
	"github.com/klend-bot/liquidator/internal/scorer"
	"github.com/klend-bot/liquidator/internal/statusapi"
	"github.com/klend-bot/liquidator/internal/wallet"

	"github.com/gagliardetto/solana-go"
)

const tickInterval = 5 * time.Second

// engine owns every long-lived component and the tick loop's
// cross-tick state (broadcast pacing, status counters).
type engine struct {
	cfg        *config.Config
	log        *logrus.Logger
	rpc        *rpcclient.Client
	idx        *geyser.Indexer
	reserves   *reservecache.Cache
	oracles    *oraclecache.Cache
	wallet     *wallet.Wallet
	exec       *executor.Executor
	jup        *jupiter.Client
	programID  solana.PublicKey
	planQueue  *scheduler.PlanQueue
	setupStore *scheduler.SetupStore
	presubmit  *presubmit.Cache

	lastBroadcastAt time.Time

	// statusMu guards the counters below: the tick loop writes them,
	// the status server reads them from its own goroutine.
	statusMu           sync.Mutex
	tickCount          uint64
	lastTickAt         time.Time
	lastTickStatus     string
	lastCandidateCount int
	lastEligibleCount  int
}

func main() {
	config.LoadEnvFile()
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("liquidator: failed to load configuration")
	}
	log := config.NewLogger(cfg)

	rpc := rpcclient.New(rpcclient.Config{
		BaseURL:       cfg.SolanaRPCURL,
		RatePerSecond: 20,
		Logger:        log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reserves, err := reservecache.Load(ctx, rpc, cfg.LendingProgramID, cfg.AllowlistMints, log)
	if err != nil {
		log.WithError(err).Fatal("liquidator: failed to load reserve cache")
	}

	oracles, err := oraclecache.Load(ctx, rpc, reserves, cfg.AllowlistActive(), log)
	if err != nil {
		log.WithError(err).Fatal("liquidator: failed to load oracle cache")
	}

	idx := geyser.New(rpc, log, geyser.Config{
		ProgramID:            cfg.LendingProgramID,
		GRPCEndpoint:         cfg.GeyserGRPCEndpoint,
		InactivityTimeout:    time.Duration(cfg.InactivityTimeoutSec) * time.Second,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		ReconnectDelay:       cfg.ReconnectDelay,
		ReconnectBackoff:     cfg.ReconnectBackoffFactor,
	})

	go func() {
		if err := idx.Run(ctx, cfg.SnapshotPath, false); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("liquidator: obligation indexer stopped")
		}
	}()

	setupStore := scheduler.NewSetupStore(cfg.SetupStatePath)

	var w *wallet.Wallet
	if cfg.WalletKeypairPath != "" {
		w, err = wallet.NewWalletFromEnv()
		if err != nil {
			log.WithError(err).Warn("liquidator: no signing wallet available, running in observe-only mode")
		}
	}
	var exec *executor.Executor
	if w != nil {
		exec = executor.New(w, rpc, setupStore, cfg, log)
	}

	programID, err := solana.PublicKeyFromBase58(cfg.LendingProgramID)
	if err != nil {
		log.WithError(err).Fatal("liquidator: invalid LENDING_PROGRAM_ID")
	}

	eng := &engine{
		cfg:        cfg,
		log:        log,
		rpc:        rpc,
		idx:        idx,
		reserves:   reserves,
		oracles:    oracles,
		wallet:     w,
		exec:       exec,
		jup:        jupiter.NewClient(cfg.JupiterBaseURL, cfg.JupiterAPIKey),
		programID:  programID,
		planQueue:  scheduler.NewPlanQueue(cfg.PlanQueuePath),
		setupStore: setupStore,
		presubmit:  presubmit.New(cfg.PresubmitTTL, cfg.PresubmitRefresh),
	}

	statusServer := statusapi.New(statusapi.Config{
		Addr:     cfg.StatusAddr,
		Snapshot: eng.statusSnapshot,
	})
	go func() {
		if err := statusServer.Start(); err != nil {
			log.WithError(err).Warn("liquidator: status server stopped")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	log.Info("liquidator: engine started")

	for {
		select {
		case <-sigCh:
			log.Info("liquidator: shutdown signal received")
			cancel()
			idx.Stop()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			_ = statusServer.Shutdown(shutdownCtx)
			shutdownCancel()
			return

		case <-ctx.Done():
			return

		case now := <-ticker.C:
			summary, candidates, eligible := eng.runTick(ctx, now)

			eng.statusMu.Lock()
			eng.tickCount++
			eng.lastTickAt = now
			eng.lastTickStatus = summary
			eng.lastCandidateCount = candidates
			eng.lastEligibleCount = eligible
			eng.statusMu.Unlock()
		}
	}
}

func (e *engine) statusSnapshot() statusapi.Snapshot {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	return statusapi.Snapshot{
		IndexerState:        string(e.idx.State()),
		ObligationCount:     len(e.idx.Snapshot()),
		CandidateCount:      e.lastCandidateCount,
		LiquidationEligible: e.lastEligibleCount,
		LastTickAt:          e.lastTickAt,
		LastTickStatus:      e.lastTickStatus,
		TickCount:           e.tickCount,
		PresubmitCacheSize:  e.presubmit.Len(),
	}
}

func (e *engine) runTick(ctx context.Context, now time.Time) (summary string, candidateCount, eligibleCount int) {
	obligations := e.idx.Snapshot()
	if len(obligations) == 0 {
		return string(executor.StatusNoPlans), 0, 0
	}

	slot := currentSlot(obligations)
	results := make([]models.ScoreResult, 0, len(obligations))
	for _, o := range obligations {
		results = append(results, scorer.Score(o, e.reserves, e.oracles, e.cfg, e.cfg.MarketAddress, slot, now))
	}

	candidates, stats := scheduler.Filter(results, e.cfg)
	ranked := scheduler.Rank(candidates)

	eligible := 0
	for i := range ranked {
		ranked[i].Plan = scheduler.MaterializePlan(ranked[i], e.reserves, e.oracles, now)
		if ranked[i].Score.LiquidationEligible {
			eligible++
		}
	}

	plans := make([]*models.Plan, 0, len(ranked))
	for i := range ranked {
		plans = append(plans, ranked[i].Plan)
	}
	if err := e.planQueue.Replace(plans); err != nil {
		e.log.WithError(err).Error("liquidator: failed to persist plan queue")
	}

	e.log.WithFields(logrus.Fields{
		"obligations": len(obligations),
		"candidates":  len(ranked),
		"eligible":    eligible,
		"rejected":    stats.Counts,
	}).Info("liquidator: tick complete")

	if e.exec == nil {
		return string(executor.StatusNoKeypair), len(ranked), eligible
	}
	if len(ranked) == 0 || !ranked[0].Score.LiquidationEligible {
		return string(executor.StatusNoEligible), len(ranked), eligible
	}

	// Presubmit housekeeping: evict everything built against a dead
	// blockhash, then warm the cache for the top-ranked eligible plans.
	buildFn := e.presubmitBuilder(ranked)
	blockhash := ""
	if bh, err := e.rpc.GetLatestBlockhash(ctx); err != nil {
		e.log.WithError(err).Warn("liquidator: blockhash fetch failed, presubmit cache idle this tick")
	} else {
		blockhash = bh.Blockhash
		e.presubmit.EvictStale(blockhash)

		eligibleAddrs := make([]string, 0, eligible)
		for i := range ranked {
			if ranked[i].Score.LiquidationEligible {
				eligibleAddrs = append(eligibleAddrs, ranked[i].Obligation.Address)
			}
		}
		for addr, err := range e.presubmit.PrebuildTopK(eligibleAddrs, e.cfg.PresubmitTopK, blockhash, now, buildFn) {
			e.log.WithError(err).WithField("obligation", addr).Debug("liquidator: presubmit prebuild failed")
		}
	}

	top := ranked[0]
	if status, ok := executor.ValidatePlan(top.Plan); !ok {
		return string(status), len(ranked), eligible
	}
	if e.cfg.BroadcastMinDelay > 0 && !e.lastBroadcastAt.IsZero() && now.Sub(e.lastBroadcastAt) < e.cfg.BroadcastMinDelay {
		return string(executor.StatusMinDelay), len(ranked), eligible
	}

	// Fast path: a fresh presigned transaction that needs no setup goes
	// straight to broadcast without paying assembly cost again.
	if blockhash != "" {
		entry, err := e.presubmit.GetOrBuild(top.Obligation.Address, blockhash, now, buildFn)
		if err == nil && entry != nil && !entry.NeedsSetup && entry.Blockhash == blockhash {
			e.lastBroadcastAt = now
			result := e.exec.SubmitPresigned(ctx, entry)
			if result.Status == executor.StatusConfirmed {
				e.log.WithField("signature", result.Signature).Info("liquidator: presigned liquidation confirmed")
				return string(result.Status), len(ranked), eligible
			}
			e.log.WithError(result.Err).WithField("status", result.Status).Warn("liquidator: presigned submit failed, rebuilding via full attempt")
		}
	}

	build := e.buildParams(top)
	if e.cfg.SwapEnabled && top.Plan.SeizeMint != top.Plan.RepayMint {
		swapIxs, err := e.buildSwapLeg(ctx, top.Plan)
		if err != nil {
			e.log.WithError(err).Warn("liquidator: swap leg unavailable, falling back to same-asset repay")
		} else {
			build.SwapIxs = swapIxs
		}
	}

	e.lastBroadcastAt = now
	result := e.exec.Attempt(ctx, build, false)
	if result.Err != nil {
		e.log.WithError(result.Err).WithField("status", result.Status).Warn("liquidator: execution attempt did not confirm")
	}
	return string(result.Status), len(ranked), eligible
}

func (e *engine) buildParams(c models.Candidate) assembler.BuildParams {
	return assembler.BuildParams{
		ProgramID:     e.programID,
		Payer:         e.wallet.PublicKey(),
		Obligation:    c.Obligation,
		Reserves:      e.reserves,
		Plan:          c.Plan,
		UseFlashLoan:  e.cfg.FlashLoanEnabled,
		CuLimit:       e.cfg.CuLimit,
		CuPriceMicros: e.cfg.CuPriceMicrolamports,
	}
}

// presubmitBuilder returns a BuildFunc over the current tick's ranked
// candidates: it compiles, validates and signs the main liquidation
// transaction against the supplied blockhash so the broadcast path can
// submit it without rebuilding.
func (e *engine) presubmitBuilder(ranked []models.Candidate) presubmit.BuildFunc {
	byAddr := make(map[string]models.Candidate, len(ranked))
	for _, c := range ranked {
		byAddr[c.Obligation.Address] = c
	}
	return func(obligationAddress, blockhash string) (*models.PresubmitEntry, error) {
		c, ok := byAddr[obligationAddress]
		if !ok {
			return nil, fmt.Errorf("obligation %s not in current ranking", obligationAddress)
		}
		if status, valid := executor.ValidatePlan(c.Plan); !valid {
			return nil, fmt.Errorf("plan for %s rejected: %s", obligationAddress, status)
		}

		compiled, err := assembler.Build(e.buildParams(c))
		if err != nil {
			return nil, err
		}
		if err := assembler.Validate(compiled.MainIxs, e.programID); err != nil {
			return nil, err
		}

		hash, err := solana.HashFromBase58(blockhash)
		if err != nil {
			return nil, fmt.Errorf("invalid blockhash %s: %w", blockhash, err)
		}
		tx, err := solana.NewTransaction(compiled.MainIxs, hash, solana.TransactionPayer(e.wallet.PublicKey()))
		if err != nil {
			return nil, err
		}
		if err := e.wallet.SignTx(tx); err != nil {
			return nil, err
		}
		raw, err := tx.MarshalBinary()
		if err != nil {
			return nil, err
		}

		needsSetup := false
		for _, mint := range compiled.SetupMints {
			if !e.setupStore.AtaCreated(mint) {
				needsSetup = true
				break
			}
		}

		mode := "main"
		if e.cfg.FlashLoanEnabled {
			mode = "atomic"
		}

		repayRaw := fixedpoint.UiToRaw(c.Plan.AmountUi, c.Plan.RepayDecimals)
		bonus := 1 + e.cfg.EvParams.LiquidationBonusBps/10_000
		return &models.PresubmitEntry{
			ObligationAddress:       obligationAddress,
			Blockhash:               blockhash,
			BuiltAt:                 time.Now(),
			ExpectedSeizedBaseUnits: fixedpoint.UiToRaw(c.Plan.AmountUi*bonus, c.Plan.CollateralDecimals),
			ExpectedOutputBaseUnits: repayRaw,
			Mode:                    mode,
			NeedsSetup:              needsSetup,
			SignedTxBase64:          base64.StdEncoding.EncodeToString(raw),
		}, nil
	}
}

// buildSwapLeg quotes and compiles the collateral->repay swap the
// assembler splices into the canonical window's optional [swap…] step,
// for plans where the seized collateral isn't already the asset the
// flash loan needs repaid. It asks the aggregator for an ExactOut quote
// sized to the repay amount, so the compiled swap pulls exactly enough
// collateral to cover the debt plus slippage instead of dumping the
// whole seized balance.
func (e *engine) buildSwapLeg(ctx context.Context, plan *models.Plan) ([]solana.Instruction, error) {
	repayRaw := fixedpoint.UiToRaw(plan.AmountUi, plan.RepayDecimals)
	if repayRaw == 0 {
		return nil, nil
	}

	slippage := e.cfg.SwapSlippageBps
	quote, err := e.jup.Quote(ctx, jupiter.QuoteRequest{
		InputMint:   plan.SeizeMint,
		OutputMint:  plan.RepayMint,
		Amount:      strconv.FormatUint(repayRaw, 10),
		SwapMode:    "ExactOut",
		SlippageBps: &slippage,
	})
	if err != nil {
		return nil, fmt.Errorf("jupiter quote: %w", err)
	}

	compiled, err := e.jup.SwapInstructions(ctx, jupiter.SwapInstructionsRequest{
		UserPublicKey:     e.wallet.PublicKey().String(),
		QuoteResponse:     quote,
		WrapAndUnwrapSol:  boolPtr(false),
		UseSharedAccounts: boolPtr(true),
	})
	if err != nil {
		return nil, fmt.Errorf("jupiter swap-instructions: %w", err)
	}

	ixs := make([]jupiter.InstructionData, 0, 2)
	ixs = append(ixs, compiled.SwapInstruction)
	if compiled.CleanupInstruction != nil {
		ixs = append(ixs, *compiled.CleanupInstruction)
	}
	return jupiter.ToInstructions(ixs)
}

func boolPtr(b bool) *bool { return &b }

func currentSlot(obligations []*models.Obligation) uint64 {
	var max uint64
	for _, o := range obligations {
		if o.Slot > max {
			max = o.Slot
		}
	}
	return max
}
