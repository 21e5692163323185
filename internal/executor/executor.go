// Package executor turns a compiled instruction window into a
// broadcast attempt: it builds the optional setup transaction and the
// main liquidation transaction, signs, simulates or submits with
// bounded retry, and classifies the outcome into a tick-status string
// instead of panicking out of the tick loop.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"

	"github.com/klend-bot/liquidator/internal/assembler"
	"github.com/klend-bot/liquidator/internal/config"
	"github.com/klend-bot/liquidator/internal/models"
	"github.com/klend-bot/liquidator/internal/rpcclient"
	"github.com/klend-bot/liquidator/internal/scheduler"
	"github.com/klend-bot/liquidator/internal/wallet"
)

// Status is the user-visible outcome of one tick.
type Status string

const (
	StatusNoPlans         Status = "no-plans"
	StatusNoEligible      Status = "no-eligible"
	StatusMinDelay        Status = "min-delay"
	StatusNoKeypair       Status = "no-keypair"
	StatusInvalidPlan     Status = "invalid-plan"
	StatusIncompletePlan  Status = "incomplete-plan"
	StatusBuildFailed     Status = "build-failed"
	StatusSetupRequired   Status = "setup-required"
	StatusSetupCompleted  Status = "setup-completed"
	StatusSetupFailed     Status = "setup-failed"
	StatusSetupSimError   Status = "setup-sim-error"
	StatusSetupError      Status = "setup-error"
	StatusSimulated       Status = "simulated"
	StatusConfirmed       Status = "confirmed"
	StatusBroadcastFailed Status = "broadcast-failed"
	StatusBroadcastError  Status = "broadcast-error"
)

// Known protocol instruction error codes (anchor custom error offset
// 6000 + local enum index) that the executor gives a targeted
// remediation hint for.
const (
	errInvalidAccountInput = 6006
	errNoFlashRepayFound   = 6032
)

// Result is the outcome of one execution attempt.
type Result struct {
	Status      Status
	Signature   string
	Simulated   bool
	Attempts    int
	Err         error
	Remediation string
}

// Executor drives the build -> sign -> simulate/submit -> confirm
// pipeline for one liquidation.
type Executor struct {
	wallet *wallet.Wallet
	rpc    *rpcclient.Client
	setup  *scheduler.SetupStore
	cfg    *config.Config
	log    *logrus.Logger
}

// New constructs an Executor. setup may be nil, in which case setup
// (ATA creation) bookkeeping is not persisted and every candidate setup
// instruction is gated only by the on-chain existence check.
func New(w *wallet.Wallet, rpc *rpcclient.Client, setup *scheduler.SetupStore, cfg *config.Config, log *logrus.Logger) *Executor {
	return &Executor{wallet: w, rpc: rpc, setup: setup, cfg: cfg, log: log}
}

// ValidatePlan classifies a persisted plan before execution: legacy
// versions are rejected outright, and plans missing an
// execution-critical field are incomplete. A nil plan passes, since the
// assembler derives everything from the obligation alone.
func ValidatePlan(plan *models.Plan) (Status, bool) {
	if plan == nil {
		return "", true
	}
	if plan.Version < models.PlanVersion {
		return StatusInvalidPlan, false
	}
	if plan.RepayReserve == "" || plan.SeizeReserve == "" ||
		plan.RepayMint == "" || plan.SeizeMint == "" || plan.AmountUi <= 0 {
		return StatusIncompletePlan, false
	}
	return "", true
}

// Attempt builds and (per dryRun) either simulates or broadcasts one
// liquidation, retrying with bumped compute-unit price/limit up to
// cfg.BroadcastMaxAttempts times on a retryable broadcast failure.
func (e *Executor) Attempt(ctx context.Context, build assembler.BuildParams, dryRun bool) Result {
	if e.wallet == nil {
		return Result{Status: StatusNoKeypair}
	}
	if status, ok := ValidatePlan(build.Plan); !ok {
		return Result{Status: status}
	}

	cuLimit := build.CuLimit
	cuPrice := build.CuPriceMicros

	var lastErr error
	for attempt := 1; attempt <= e.cfg.BroadcastMaxAttempts; attempt++ {
		build.CuLimit = cuLimit
		build.CuPriceMicros = cuPrice

		compiled, err := assembler.Build(build)
		if err != nil {
			return Result{Status: StatusBuildFailed, Attempts: attempt, Err: err}
		}
		if err := assembler.Validate(compiled.MainIxs, build.ProgramID); err != nil {
			return Result{Status: StatusBuildFailed, Attempts: attempt, Err: err}
		}

		setupIxs, setupMints, err := e.neededSetup(ctx, compiled)
		if err != nil {
			return Result{Status: StatusSetupError, Attempts: attempt, Err: err}
		}
		if len(setupIxs) > 0 {
			setupResult := e.runSetup(ctx, build.Obligation.Address, setupIxs, setupMints, dryRun)
			if setupResult.Status != StatusSetupCompleted && setupResult.Status != StatusSimulated {
				return setupResult
			}
		}

		result := e.runMain(ctx, compiled.MainIxs, dryRun)
		if result.Status == StatusSimulated || result.Status == StatusConfirmed {
			result.Attempts = attempt
			return result
		}

		lastErr = result.Err
		cuLimit = uint32(float64(cuLimit) * e.cfg.CuLimitBumpFactor)
		cuPrice += e.cfg.CuPriceBumpMicrolamports

		e.log.WithFields(logrus.Fields{
			"attempt": attempt,
			"cuLimit": cuLimit,
			"cuPrice": cuPrice,
			"status":  result.Status,
		}).Warn("executor: broadcast attempt failed, retrying with bumped compute budget")
	}

	return Result{Status: StatusBroadcastFailed, Attempts: e.cfg.BroadcastMaxAttempts, Err: lastErr}
}

// SubmitPresigned broadcasts an already-signed transaction from the
// presubmit cache and waits for confirmation. Freshness is the caller's
// responsibility: presubmit.Cache gates entries on blockhash and TTL
// before they ever reach this path.
func (e *Executor) SubmitPresigned(ctx context.Context, entry *models.PresubmitEntry) Result {
	if e.wallet == nil {
		return Result{Status: StatusNoKeypair}
	}
	sig, err := e.rpc.SendTransaction(ctx, entry.SignedTxBase64)
	if err != nil {
		return Result{Status: StatusBroadcastFailed, Err: err}
	}
	if err := e.wallet.ConfirmTransaction(ctx, sig, "confirmed", 30*time.Second); err != nil {
		return Result{Status: StatusBroadcastFailed, Signature: sig, Err: err}
	}
	return Result{Status: StatusConfirmed, Signature: sig}
}

// neededSetup filters the assembler's candidate setup instructions down
// to the ATAs that actually need creating: mints the setup store already
// recorded are skipped outright, and the rest are checked on-chain (a
// found account is recorded so the next tick skips the RPC round-trip).
func (e *Executor) neededSetup(ctx context.Context, compiled *assembler.BuildResult) ([]solana.Instruction, []string, error) {
	var ixs []solana.Instruction
	var mints []string
	for i, mint := range compiled.SetupMints {
		if e.setup != nil && e.setup.AtaCreated(mint) {
			continue
		}
		mintPk, err := solana.PublicKeyFromBase58(mint)
		if err != nil {
			return nil, nil, fmt.Errorf("executor: invalid setup mint %s: %w", mint, err)
		}
		ataAddr, _, err := solana.FindAssociatedTokenAddress(e.wallet.PublicKey(), mintPk)
		if err != nil {
			return nil, nil, fmt.Errorf("executor: derive ata for %s: %w", mint, err)
		}
		exists, err := e.wallet.AccountExists(ctx, ataAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("executor: ata existence check for %s: %w", mint, err)
		}
		if exists {
			if e.setup != nil {
				if err := e.setup.MarkAtaCreated(mint); err != nil {
					e.log.WithError(err).WithField("mint", mint).Warn("executor: failed to persist ata state")
				}
			}
			continue
		}
		ixs = append(ixs, compiled.SetupIxs[i])
		mints = append(mints, mint)
	}
	return ixs, mints, nil
}

// runSetup sends the ATA-creation transaction that must land before the
// main liquidation. planKey is the obligation address: a failed setup
// marks it blocked in the setup store so the key sits out its cooldown
// instead of burning an RPC round-trip every tick.
func (e *Executor) runSetup(ctx context.Context, planKey string, ixs []solana.Instruction, mints []string, dryRun bool) Result {
	now := time.Now()
	if e.setup != nil {
		if blocked, reason := e.setup.IsBlocked(planKey, now); blocked {
			return Result{Status: StatusSetupRequired, Err: fmt.Errorf("setup blocked for %s: %s", planKey, reason)}
		}
	}

	markBlocked := func(r Result) Result {
		if e.setup != nil {
			if err := e.setup.MarkBlocked(planKey, string(r.Status), now); err != nil {
				e.log.WithError(err).WithField("plan", planKey).Warn("executor: failed to persist blocked state")
			}
		}
		return r
	}

	tx, err := e.wallet.BuildTransaction(ctx, ixs)
	if err != nil {
		return markBlocked(Result{Status: StatusSetupError, Err: err})
	}
	if err := e.wallet.SignTx(tx); err != nil {
		return markBlocked(Result{Status: StatusSetupError, Err: err})
	}

	if dryRun {
		if _, err := e.wallet.SimulateTransaction(ctx, tx); err != nil {
			return markBlocked(Result{Status: StatusSetupSimError, Err: err})
		}
		return Result{Status: StatusSimulated, Simulated: true}
	}

	sig, err := e.wallet.SendTx(ctx, tx, nil)
	if err != nil {
		return markBlocked(Result{Status: StatusSetupFailed, Err: err})
	}
	if err := e.wallet.ConfirmTransaction(ctx, sig, "confirmed", 30*time.Second); err != nil {
		return markBlocked(Result{Status: StatusSetupFailed, Signature: sig, Err: err})
	}

	if e.setup != nil {
		for _, mint := range mints {
			if err := e.setup.MarkAtaCreated(mint); err != nil {
				e.log.WithError(err).WithField("mint", mint).Warn("executor: failed to persist ata state")
			}
		}
	}
	return Result{Status: StatusSetupCompleted, Signature: sig}
}

func (e *Executor) runMain(ctx context.Context, ixs []solana.Instruction, dryRun bool) Result {
	tx, err := e.wallet.BuildTransaction(ctx, ixs)
	if err != nil {
		return Result{Status: StatusBroadcastError, Err: err}
	}
	if err := e.wallet.SignTx(tx); err != nil {
		return Result{Status: StatusBroadcastError, Err: err}
	}

	if dryRun {
		sim, err := e.wallet.SimulateTransaction(ctx, tx)
		if err != nil {
			var instrErr *rpcclient.InstructionError
			if sim != nil {
				instrErr = sim.InstrErr
			}
			return Result{Status: StatusBroadcastError, Err: err, Remediation: remediate(instrErr)}
		}
		_ = sim
		return Result{Status: StatusSimulated, Simulated: true}
	}

	sig, err := e.wallet.SendTx(ctx, tx, nil)
	if err != nil {
		return Result{Status: StatusBroadcastFailed, Err: err}
	}
	if err := e.wallet.ConfirmTransaction(ctx, sig, "confirmed", 30*time.Second); err != nil {
		return Result{Status: StatusBroadcastFailed, Signature: sig, Err: err}
	}
	return Result{Status: StatusConfirmed, Signature: sig}
}

// remediate maps a decoded protocol custom-error code to a short
// operator-facing hint. Only the simulate path carries a decoded
// InstructionError today; broadcast/confirm failures pass nil and get
// no remediation hint.
func remediate(instrErr *rpcclient.InstructionError) string {
	if instrErr == nil || instrErr.Custom == nil {
		return ""
	}
	switch *instrErr.Custom {
	case errInvalidAccountInput:
		return "invalid account input (6006): re-derive reserves/mints from the obligation, plan preference is stale"
	case errNoFlashRepayFound:
		return "no flash repay found (6032): flash borrow/repay pair missing or out of order in the instruction window"
	default:
		return ""
	}
}
