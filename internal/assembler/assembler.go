// Package assembler is the single source of truth for the canonical
// liquidation instruction window. It re-derives the repay/collateral
// reserves and mints from the obligation itself (the plan only
// supplies a preference), isolates associated-token-account creation
// into a separate setup instruction array, and validates the compiled
// instruction window by walking discriminators before handing it to
// the executor.
package assembler

import (
	"encoding/binary"
	"fmt"

	ata "github.com/gagliardetto/solana-go/programs/associated-token-account"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"

	"github.com/gagliardetto/solana-go"

	"github.com/klend-bot/liquidator/internal/decode"
	"github.com/klend-bot/liquidator/internal/fixedpoint"
	"github.com/klend-bot/liquidator/internal/models"
	"github.com/klend-bot/liquidator/internal/reservecache"
)

// Instruction names hashed into anchor-style discriminators for
// identification during the compile-time walk. Account decode never
// uses these; they exist purely to recognize instruction *kinds* in a
// compiled message.
var (
	discRefreshReserve    = decode.InstructionDiscriminator("refresh_reserve")
	discRefreshObligation = decode.InstructionDiscriminator("refresh_obligation")
	discRefreshFarms      = decode.InstructionDiscriminator("refresh_obligation_farms_for_reserve")
	discLiquidate         = decode.InstructionDiscriminator("liquidate_obligation_and_redeem_reserve_collateral")
	discFlashBorrow       = decode.InstructionDiscriminator("flash_borrow_reserve_liquidity")
	discFlashRepay        = decode.InstructionDiscriminator("flash_repay_reserve_liquidity")
)

// FarmPair is one PRE/POST refresh-farms pair for a given side
// (collateral or debt) of the liquidation.
type FarmPair struct {
	CollateralFarm solana.PublicKey
	DebtFarm       solana.PublicKey
	HasCollateral  bool
	HasDebt        bool
}

// BuildParams carries everything the assembler needs to compile one
// liquidation window.
type BuildParams struct {
	ProgramID     solana.PublicKey
	Payer         solana.PublicKey
	Obligation    *models.Obligation
	Reserves      *reservecache.Cache
	Plan          *models.Plan
	UseFlashLoan  bool
	Farms         *FarmPair
	SwapIxs       []solana.Instruction
	CuLimit       uint32
	CuPriceMicros uint64
	// StrictPreflight rejects the build outright when the plan's
	// preferred reserves/mints disagree with what is re-derived from
	// the obligation, instead of merely reporting the mismatch.
	StrictPreflight bool
}

// Derived is the reserve/mint set the assembler re-derives directly
// from the obligation rather than trusting the plan.
type Derived struct {
	RepayReserve           string
	CollateralReserve      string
	RepayMint              string
	CollateralMint         string
	WithdrawCollateralMint string
}

// BuildResult is the compiled liquidation window plus any setup
// instructions that must run in a prior transaction.
type BuildResult struct {
	SetupIxs     []solana.Instruction
	SetupMints   []string // mint behind each SetupIxs entry, same order
	MainIxs      []solana.Instruction
	Derived      Derived
	PlanMismatch []string // human-readable preference/derivation disagreements
}

// Derive re-derives the repay/collateral reserve and mint set from the
// obligation. plan.RepayReserve/SeizeReserve/RepayMint/SeizeMint are
// treated as a *preference*: if plan is nil, the first borrow/deposit
// is used; otherwise a plan entry that matches an actual obligation
// reserve wins, and any other plan entry is reported as a mismatch.
func Derive(obligation *models.Obligation, reserves *reservecache.Cache, plan *models.Plan) (Derived, []string) {
	var mismatches []string

	repayReserve := pickPreferred(obligation.Borrows, func(b models.Borrow) string { return b.ReserveAddress }, planField(plan, func(p *models.Plan) string { return p.RepayReserve }))
	collateralReserve := pickPreferred(obligation.Deposits, func(d models.Deposit) string { return d.ReserveAddress }, planField(plan, func(p *models.Plan) string { return p.SeizeReserve }))

	if plan != nil {
		if plan.RepayReserve != "" && plan.RepayReserve != repayReserve {
			mismatches = append(mismatches, fmt.Sprintf("plan repayReserve %s does not match derived %s", plan.RepayReserve, repayReserve))
		}
		if plan.SeizeReserve != "" && plan.SeizeReserve != collateralReserve {
			mismatches = append(mismatches, fmt.Sprintf("plan seizeReserve %s does not match derived %s", plan.SeizeReserve, collateralReserve))
		}
	}

	repayMint := ""
	if r, ok := reserves.ByReserve[repayReserve]; ok {
		repayMint = r.LiquidityMint
	}
	collateralMint := ""
	withdrawMint := ""
	if r, ok := reserves.ByReserve[collateralReserve]; ok {
		collateralMint = r.LiquidityMint
		withdrawMint = r.CollateralMint
	}

	if plan != nil && plan.RepayMint != "" && plan.RepayMint != repayMint {
		mismatches = append(mismatches, fmt.Sprintf("plan repayMint %s does not match derived %s", plan.RepayMint, repayMint))
	}
	if plan != nil && plan.SeizeMint != "" && plan.SeizeMint != collateralMint {
		mismatches = append(mismatches, fmt.Sprintf("plan seizeMint %s does not match derived %s", plan.SeizeMint, collateralMint))
	}

	return Derived{
		RepayReserve:           repayReserve,
		CollateralReserve:      collateralReserve,
		RepayMint:              repayMint,
		CollateralMint:         collateralMint,
		WithdrawCollateralMint: withdrawMint,
	}, mismatches
}

func planField(plan *models.Plan, get func(*models.Plan) string) string {
	if plan == nil {
		return ""
	}
	return get(plan)
}

func pickPreferred[T any](items []T, addr func(T) string, preferred string) string {
	if preferred != "" {
		for _, it := range items {
			if addr(it) == preferred {
				return preferred
			}
		}
	}
	if len(items) == 0 {
		return ""
	}
	return addr(items[0])
}

// orderedReserveAddresses returns the distinct reserve addresses
// referenced by an obligation, deposits first then borrows. The
// refresh instructions and the refreshObligation remaining-accounts
// list both follow this order.
func orderedReserveAddresses(obligation *models.Obligation) []string {
	seen := make(map[string]bool)
	var out []string
	for _, d := range obligation.Deposits {
		if !seen[d.ReserveAddress] {
			seen[d.ReserveAddress] = true
			out = append(out, d.ReserveAddress)
		}
	}
	for _, b := range obligation.Borrows {
		if !seen[b.ReserveAddress] {
			seen[b.ReserveAddress] = true
			out = append(out, b.ReserveAddress)
		}
	}
	return out
}

// Build compiles the canonical instruction window:
//
//	computeBudget:limit
//	[computeBudget:price]
//	[flashBorrow]
//	refreshReserve (x N, deposits-then-borrows)
//	refreshObligation
//	[refreshFarms:collateral] [refreshFarms:debt]   -- PRE
//	liquidateObligationAndRedeemReserveCollateral
//	[refreshFarms:collateral] [refreshFarms:debt]   -- POST, mirrors PRE
//	[swap...]
//	[flashRepay]
func Build(p BuildParams) (*BuildResult, error) {
	if p.Obligation == nil {
		return nil, fmt.Errorf("assembler: obligation is nil")
	}
	derived, mismatches := Derive(p.Obligation, p.Reserves, p.Plan)
	if p.StrictPreflight && len(mismatches) > 0 {
		return nil, fmt.Errorf("assembler: strict preflight rejected plan: %v", mismatches)
	}
	if derived.RepayReserve == "" || derived.CollateralReserve == "" {
		return nil, fmt.Errorf("assembler: obligation has no borrows or deposits to derive reserves from")
	}

	obligationPk, err := solana.PublicKeyFromBase58(p.Obligation.Address)
	if err != nil {
		return nil, fmt.Errorf("assembler: invalid obligation address: %w", err)
	}

	var main []solana.Instruction

	cuLimitIx, err := computebudget.NewSetComputeUnitLimitInstruction(p.CuLimit).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("assembler: build compute unit limit ix: %w", err)
	}
	main = append(main, cuLimitIx)

	if p.CuPriceMicros > 0 {
		cuPriceIx, err := computebudget.NewSetComputeUnitPriceInstruction(p.CuPriceMicros).ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("assembler: build compute unit price ix: %w", err)
		}
		main = append(main, cuPriceIx)
	}

	if p.UseFlashLoan {
		main = append(main, newFlashBorrowIx(p.ProgramID, derived, p.Plan))
	}

	reserveAddrs := orderedReserveAddresses(p.Obligation)
	for _, addr := range reserveAddrs {
		reserve, ok := p.Reserves.ByReserve[addr]
		if !ok {
			return nil, fmt.Errorf("assembler: reserve %s not in cache", addr)
		}
		main = append(main, newRefreshReserveIx(p.ProgramID, reserve))
	}
	if len(reserveAddrs) < 2 {
		return nil, fmt.Errorf("assembler: obligation references fewer than 2 reserves, cannot satisfy adjacency invariant")
	}

	main = append(main, newRefreshObligationIx(p.ProgramID, obligationPk, p.Obligation, reserveAddrs))

	if p.Farms != nil {
		main = append(main, farmRefreshIxs(p.ProgramID, p.Farms)...)
	}

	main = append(main, newLiquidateIx(p.ProgramID, p.Payer, obligationPk, derived, p.Plan))

	if p.Farms != nil {
		main = append(main, farmRefreshIxs(p.ProgramID, p.Farms)...)
	}

	main = append(main, p.SwapIxs...)

	if p.UseFlashLoan {
		main = append(main, newFlashRepayIx(p.ProgramID, derived, p.Plan))
	}

	setupIxs, setupMints, err := buildSetupIxs(p.Payer, derived)
	if err != nil {
		return nil, err
	}

	return &BuildResult{
		SetupIxs:     setupIxs,
		SetupMints:   setupMints,
		MainIxs:      main,
		Derived:      derived,
		PlanMismatch: mismatches,
	}, nil
}

// buildSetupIxs returns create-associated-token-account instructions
// for the repay and seize mints, paired with the mint each one serves.
// Callers decide, based on an account existence check, whether any of
// these are actually needed; the assembler always returns the full
// candidate set so the caller's setup transaction can filter it down.
func buildSetupIxs(payer solana.PublicKey, derived Derived) ([]solana.Instruction, []string, error) {
	var out []solana.Instruction
	var mints []string
	for _, mint := range []string{derived.RepayMint, derived.WithdrawCollateralMint} {
		if mint == "" {
			continue
		}
		mintPk, err := solana.PublicKeyFromBase58(mint)
		if err != nil {
			return nil, nil, fmt.Errorf("assembler: invalid mint %s: %w", mint, err)
		}
		ix, err := ata.NewCreateInstruction(payer, payer, mintPk).ValidateAndBuild()
		if err != nil {
			return nil, nil, fmt.Errorf("assembler: build create-ATA ix for %s: %w", mint, err)
		}
		out = append(out, ix)
		mints = append(mints, mint)
	}
	return out, mints, nil
}

func newRefreshReserveIx(programID solana.PublicKey, reserve *models.Reserve) solana.Instruction {
	reservePk := solana.MustPublicKeyFromBase58(reserve.Address)
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(reservePk, true, false),
	}
	for _, oracle := range reserve.OracleAccounts {
		accounts = append(accounts, solana.NewAccountMeta(solana.MustPublicKeyFromBase58(oracle), false, false))
	}
	return solana.NewInstruction(programID, accounts, discRefreshReserve[:])
}

func newRefreshObligationIx(programID solana.PublicKey, obligationPk solana.PublicKey, obligation *models.Obligation, reserveOrder []string) solana.Instruction {
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(obligationPk, true, false),
	}
	for _, addr := range reserveOrder {
		accounts = append(accounts, solana.NewAccountMeta(solana.MustPublicKeyFromBase58(addr), false, false))
	}
	return solana.NewInstruction(programID, accounts, discRefreshObligation[:])
}

func farmRefreshIxs(programID solana.PublicKey, farms *FarmPair) []solana.Instruction {
	var out []solana.Instruction
	if farms.HasCollateral {
		out = append(out, solana.NewInstruction(programID, solana.AccountMetaSlice{
			solana.NewAccountMeta(farms.CollateralFarm, true, false),
		}, discRefreshFarms[:]))
	}
	if farms.HasDebt {
		out = append(out, solana.NewInstruction(programID, solana.AccountMetaSlice{
			solana.NewAccountMeta(farms.DebtFarm, true, false),
		}, discRefreshFarms[:]))
	}
	return out
}

func newLiquidateIx(programID, payer, obligationPk solana.PublicKey, derived Derived, plan *models.Plan) solana.Instruction {
	repayReservePk := solana.MustPublicKeyFromBase58(derived.RepayReserve)
	collateralReservePk := solana.MustPublicKeyFromBase58(derived.CollateralReserve)

	var repayAmount uint64
	if plan != nil {
		repayAmount = fixedpoint.UiToRaw(plan.AmountUi, plan.RepayDecimals)
	}

	data := make([]byte, 8+8)
	copy(data[:8], discLiquidate[:])
	binary.LittleEndian.PutUint64(data[8:16], repayAmount)

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(payer, false, true),
		solana.NewAccountMeta(obligationPk, true, false),
		solana.NewAccountMeta(repayReservePk, true, false),
		solana.NewAccountMeta(collateralReservePk, true, false),
	}
	return solana.NewInstruction(programID, accounts, data)
}

func newFlashBorrowIx(programID solana.PublicKey, derived Derived, plan *models.Plan) solana.Instruction {
	repayReservePk := solana.MustPublicKeyFromBase58(derived.RepayReserve)
	var amount uint64
	if plan != nil {
		amount = fixedpoint.UiToRaw(plan.AmountUi, plan.RepayDecimals)
	}
	data := make([]byte, 8+8)
	copy(data[:8], discFlashBorrow[:])
	binary.LittleEndian.PutUint64(data[8:16], amount)
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.NewAccountMeta(repayReservePk, true, false),
	}, data)
}

func newFlashRepayIx(programID solana.PublicKey, derived Derived, plan *models.Plan) solana.Instruction {
	repayReservePk := solana.MustPublicKeyFromBase58(derived.RepayReserve)
	var amount uint64
	if plan != nil {
		amount = fixedpoint.UiToRaw(plan.AmountUi, plan.RepayDecimals)
	}
	data := make([]byte, 8+8)
	copy(data[:8], discFlashRepay[:])
	binary.LittleEndian.PutUint64(data[8:16], amount)
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.NewAccountMeta(repayReservePk, true, false),
	}, data)
}
