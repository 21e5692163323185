package jupiter

import (
	"encoding/base64"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// ToInstruction converts one aggregator-wire InstructionData into a
// solana.Instruction the assembler can splice into its own
// instruction window.
func ToInstruction(ix InstructionData) (solana.Instruction, error) {
	programID, err := solana.PublicKeyFromBase58(ix.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("jupiter: bad programId %q: %w", ix.ProgramID, err)
	}
	data, err := base64.StdEncoding.DecodeString(ix.Data)
	if err != nil {
		return nil, fmt.Errorf("jupiter: bad instruction data: %w", err)
	}

	metas := make(solana.AccountMetaSlice, 0, len(ix.Accounts))
	for _, a := range ix.Accounts {
		pk, err := solana.PublicKeyFromBase58(a.Pubkey)
		if err != nil {
			return nil, fmt.Errorf("jupiter: bad account pubkey %q: %w", a.Pubkey, err)
		}
		metas = append(metas, solana.NewAccountMeta(pk, a.IsWritable, a.IsSigner))
	}

	return solana.NewInstruction(programID, metas, data), nil
}

// ToInstructions converts a slice of wire instructions, short-circuiting
// on the first decode failure.
func ToInstructions(ixs []InstructionData) ([]solana.Instruction, error) {
	out := make([]solana.Instruction, 0, len(ixs))
	for _, ix := range ixs {
		decoded, err := ToInstruction(ix)
		if err != nil {
			return nil, err
		}
		out = append(out, decoded)
	}
	return out, nil
}
