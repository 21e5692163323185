package assembler

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
)

var testProgramID = solana.MustPublicKeyFromBase58("KLend2g3cP87fffoy8q1mQqGKjrxjC8boSyAYavgmjD")

func ixOfKind(disc [8]byte) solana.Instruction {
	return solana.NewInstruction(testProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}, disc[:])
}

func computeBudgetIx() solana.Instruction {
	return solana.NewInstruction(computeBudgetProgramID, solana.AccountMetaSlice{}, []byte{0, 0, 0, 0, 0, 0, 0, 0})
}

func TestValidateCanonicalWindowNoFarms(t *testing.T) {
	ixs := []solana.Instruction{
		computeBudgetIx(),
		ixOfKind(discRefreshReserve),
		ixOfKind(discRefreshReserve),
		ixOfKind(discRefreshObligation),
		ixOfKind(discLiquidate),
	}
	assert.NoError(t, Validate(ixs, testProgramID))
}

func TestValidateCanonicalWindowWithFarms(t *testing.T) {
	ixs := []solana.Instruction{
		computeBudgetIx(),
		ixOfKind(discRefreshReserve),
		ixOfKind(discRefreshReserve),
		ixOfKind(discRefreshObligation),
		ixOfKind(discRefreshFarms),
		ixOfKind(discRefreshFarms),
		ixOfKind(discLiquidate),
		ixOfKind(discRefreshFarms),
		ixOfKind(discRefreshFarms),
	}
	assert.NoError(t, Validate(ixs, testProgramID))
}

func TestValidateRejectsMismatchedFarmBlocks(t *testing.T) {
	ixs := []solana.Instruction{
		ixOfKind(discRefreshReserve),
		ixOfKind(discRefreshReserve),
		ixOfKind(discRefreshObligation),
		ixOfKind(discRefreshFarms),
		ixOfKind(discLiquidate),
		ixOfKind(discRefreshFarms),
		ixOfKind(discRefreshFarms),
	}
	err := Validate(ixs, testProgramID)
	assert.Error(t, err)
}

func TestValidateRejectsMissingRefreshObligation(t *testing.T) {
	ixs := []solana.Instruction{
		ixOfKind(discRefreshReserve),
		ixOfKind(discRefreshReserve),
		ixOfKind(discLiquidate),
	}
	err := Validate(ixs, testProgramID)
	assert.Error(t, err)
}

func TestValidateRejectsTooFewRefreshReserves(t *testing.T) {
	ixs := []solana.Instruction{
		ixOfKind(discRefreshReserve),
		ixOfKind(discRefreshObligation),
		ixOfKind(discLiquidate),
	}
	err := Validate(ixs, testProgramID)
	assert.Error(t, err)
	var diag *WindowDiagnostic
	assert.ErrorAs(t, err, &diag)
}

func TestValidateRejectsNoLiquidateInstruction(t *testing.T) {
	ixs := []solana.Instruction{
		ixOfKind(discRefreshReserve),
		ixOfKind(discRefreshReserve),
		ixOfKind(discRefreshObligation),
	}
	err := Validate(ixs, testProgramID)
	assert.Error(t, err)
}
