package jupiter

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToInstructionDecodesAccountsAndData(t *testing.T) {
	data := base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4})
	ix := InstructionData{
		ProgramID: "JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4",
		Accounts: []AccountMeta{
			{Pubkey: "11111111111111111111111111111111", IsSigner: true, IsWritable: false},
		},
		Data: data,
	}

	decoded, err := ToInstruction(ix)
	require.NoError(t, err)
	assert.Equal(t, "JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4", decoded.ProgramID().String())
	decodedData, err := decoded.Data()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, decodedData)
	assert.Len(t, decoded.Accounts(), 1)
}

func TestToInstructionRejectsBadProgramID(t *testing.T) {
	_, err := ToInstruction(InstructionData{ProgramID: "not-a-pubkey", Data: ""})
	assert.Error(t, err)
}

func TestToInstructionsStopsAtFirstFailure(t *testing.T) {
	good := InstructionData{ProgramID: "JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4"}
	bad := InstructionData{ProgramID: "nope"}
	_, err := ToInstructions([]InstructionData{good, bad})
	assert.Error(t, err)
}
