package assembler

import (
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// instructionKind classifies one compiled instruction by its
// (programId, 8-byte discriminator) pair, the way decode's account
// discriminators classify account kinds.
type instructionKind string

const (
	kindComputeBudget     instructionKind = "computeBudget"
	kindFlashBorrow       instructionKind = "flashBorrow"
	kindFlashRepay        instructionKind = "flashRepay"
	kindRefreshReserve    instructionKind = "refreshReserve"
	kindRefreshObligation instructionKind = "refreshObligation"
	kindRefreshFarms      instructionKind = "refreshFarms"
	kindLiquidate         instructionKind = "liquidate"
	kindOther             instructionKind = "other"
)

// computeBudgetProgramID is the well-known compute-budget program.
var computeBudgetProgramID = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")

func classify(ix solana.Instruction, programID solana.PublicKey) instructionKind {
	if ix.ProgramID().Equals(computeBudgetProgramID) {
		return kindComputeBudget
	}
	if !ix.ProgramID().Equals(programID) {
		return kindOther
	}
	data, err := ix.Data()
	if err != nil || len(data) < 8 {
		return kindOther
	}
	var disc [8]byte
	copy(disc[:], data[:8])

	switch disc {
	case discFlashBorrow:
		return kindFlashBorrow
	case discFlashRepay:
		return kindFlashRepay
	case discRefreshReserve:
		return kindRefreshReserve
	case discRefreshObligation:
		return kindRefreshObligation
	case discRefreshFarms:
		return kindRefreshFarms
	case discLiquidate:
		return kindLiquidate
	default:
		return kindOther
	}
}

// WindowDiagnostic describes a failed adjacency check, including a
// window of instruction kinds around the offending index so a caller
// can print useful context without re-walking the transaction by hand.
type WindowDiagnostic struct {
	Message string
	Index   int
	Window  []string
}

func (d *WindowDiagnostic) Error() string {
	return fmt.Sprintf("%s (at index %d, window: [%s])", d.Message, d.Index, strings.Join(d.Window, ", "))
}

const windowRadius = 6

func windowAround(kinds []instructionKind, idx int) []string {
	start := idx - windowRadius
	if start < 0 {
		start = 0
	}
	end := idx + windowRadius + 1
	if end > len(kinds) {
		end = len(kinds)
	}
	out := make([]string, 0, end-start)
	for i := start; i < end; i++ {
		marker := string(kinds[i])
		if i == idx {
			marker = ">>" + marker + "<<"
		}
		out = append(out, marker)
	}
	return out
}

// Validate walks a compiled instruction list and checks the canonical
// liquidation adjacency invariant the protocol enforces: the liquidate
// instruction must be immediately preceded by a refreshObligation (or,
// if farm refreshes are present, by a contiguous PRE farm-refresh block
// that is itself preceded by refreshObligation), which in turn must be
// preceded by at least two contiguous refreshReserve instructions. A
// POST farm-refresh block, if present, must immediately follow
// liquidate and hold the same number of refreshFarms instructions as the
// PRE block; the farm accounts themselves are not compared.
func Validate(ixs []solana.Instruction, programID solana.PublicKey) error {
	kinds := make([]instructionKind, len(ixs))
	for i, ix := range ixs {
		kinds[i] = classify(ix, programID)
	}

	liqIdx := -1
	for i, k := range kinds {
		if k == kindLiquidate {
			if liqIdx != -1 {
				return &WindowDiagnostic{Message: "more than one liquidate instruction found", Index: i, Window: windowAround(kinds, i)}
			}
			liqIdx = i
		}
	}
	if liqIdx == -1 {
		return fmt.Errorf("assembler: no liquidate instruction found in compiled window")
	}

	cursor := liqIdx - 1

	// Optional PRE farm-refresh block immediately before liquidate.
	preFarmCount := 0
	for cursor >= 0 && kinds[cursor] == kindRefreshFarms {
		preFarmCount++
		cursor--
	}

	if cursor < 0 || kinds[cursor] != kindRefreshObligation {
		return &WindowDiagnostic{
			Message: "liquidate instruction is not preceded by refreshObligation (directly, or after its farm-refresh block)",
			Index:   liqIdx,
			Window:  windowAround(kinds, liqIdx),
		}
	}
	obligationIdx := cursor
	cursor--

	reserveCount := 0
	for cursor >= 0 && kinds[cursor] == kindRefreshReserve {
		reserveCount++
		cursor--
	}
	if reserveCount < 2 {
		return &WindowDiagnostic{
			Message: fmt.Sprintf("refreshObligation at index %d is preceded by only %d refreshReserve instructions, need >= 2", obligationIdx, reserveCount),
			Index:   obligationIdx,
			Window:  windowAround(kinds, obligationIdx),
		}
	}

	// Optional POST farm-refresh block must mirror PRE's count exactly.
	postFarmCount := 0
	for i := liqIdx + 1; i < len(kinds) && kinds[i] == kindRefreshFarms; i++ {
		postFarmCount++
	}
	if preFarmCount != postFarmCount {
		return &WindowDiagnostic{
			Message: fmt.Sprintf("PRE farm-refresh block (%d) does not mirror POST farm-refresh block (%d)", preFarmCount, postFarmCount),
			Index:   liqIdx,
			Window:  windowAround(kinds, liqIdx),
		}
	}

	return nil
}
