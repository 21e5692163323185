package decode

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/klend-bot/liquidator/internal/models"
)

const maxDeposits = 8
const maxBorrows = 5

// ObligationLayout (after the 8-byte discriminator):
//
//	owner                      [32]byte
//	market                     [32]byte
//	lastUpdateSlot             u64
//	numDeposits                u8
//	deposits[maxDeposits]      { reserve [32]byte, mint [32]byte, depositedNotes u64 }
//	numBorrows                 u8
//	borrows[maxBorrows]        { reserve [32]byte, mint [32]byte, borrowedSf u64 x2 }
//	depositedValueSf           u64 x2
//	borrowedMarketValueSf      u64 x2
//	borrowFactorAdjustedDebtSf u64 x2
//	unhealthyBorrowValueSf     u64 x2
const obligationMinLen = 8 + 32 + 32 + 8 + 1 + maxDeposits*(32+32+8) + 1 + maxBorrows*(32+32+16) + 16*4

// DecodeObligation decodes a raw obligation account.
func DecodeObligation(address solana.PublicKey, data []byte) (*models.Obligation, error) {
	if !HasDiscriminator(data, ObligationDiscriminator) {
		return nil, fmt.Errorf("obligation %s: discriminator mismatch", address)
	}
	if len(data) < obligationMinLen {
		return nil, fmt.Errorf("obligation %s: short buffer (%d < %d)", address, len(data), obligationMinLen)
	}

	dec := bin.NewBinDecoder(data[8:])

	var owner, market solana.PublicKey
	if err := dec.Decode(&owner); err != nil {
		return nil, fmt.Errorf("obligation %s: owner: %w", address, err)
	}
	if err := dec.Decode(&market); err != nil {
		return nil, fmt.Errorf("obligation %s: market: %w", address, err)
	}
	slot, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return nil, err
	}

	numDeposits, err := dec.ReadUint8()
	if err != nil {
		return nil, err
	}
	deposits := make([]models.Deposit, 0, numDeposits)
	for i := 0; i < maxDeposits; i++ {
		var reserve, mint solana.PublicKey
		if err := dec.Decode(&reserve); err != nil {
			return nil, fmt.Errorf("obligation %s: deposit %d reserve: %w", address, i, err)
		}
		if err := dec.Decode(&mint); err != nil {
			return nil, fmt.Errorf("obligation %s: deposit %d mint: %w", address, i, err)
		}
		notes, err := dec.ReadUint64(bin.LE)
		if err != nil {
			return nil, err
		}
		if uint8(i) < numDeposits {
			deposits = append(deposits, models.Deposit{
				ReserveAddress: reserve.String(),
				Mint:           mint.String(),
				DepositedNotes: notes,
			})
		}
	}

	numBorrows, err := dec.ReadUint8()
	if err != nil {
		return nil, err
	}
	borrows := make([]models.Borrow, 0, numBorrows)
	for i := 0; i < maxBorrows; i++ {
		var reserve, mint solana.PublicKey
		if err := dec.Decode(&reserve); err != nil {
			return nil, fmt.Errorf("obligation %s: borrow %d reserve: %w", address, i, err)
		}
		if err := dec.Decode(&mint); err != nil {
			return nil, fmt.Errorf("obligation %s: borrow %d mint: %w", address, i, err)
		}
		lo, err := dec.ReadUint64(bin.LE)
		if err != nil {
			return nil, err
		}
		hi, err := dec.ReadUint64(bin.LE)
		if err != nil {
			return nil, err
		}
		if uint8(i) < numBorrows {
			borrows = append(borrows, models.Borrow{
				ReserveAddress:   reserve.String(),
				Mint:             mint.String(),
				BorrowedAmountSf: [2]uint64{lo, hi},
			})
		}
	}

	depositedValueSf, err := read128(dec)
	if err != nil {
		return nil, err
	}
	borrowedMarketValueSf, err := read128(dec)
	if err != nil {
		return nil, err
	}
	borrowFactorAdjustedDebtSf, err := read128(dec)
	if err != nil {
		return nil, err
	}
	unhealthyBorrowValueSf, err := read128(dec)
	if err != nil {
		return nil, err
	}

	return &models.Obligation{
		Address:                    address.String(),
		Owner:                      owner.String(),
		Market:                     market.String(),
		Slot:                       slot,
		Deposits:                   deposits,
		Borrows:                    borrows,
		DepositedValueSf:           depositedValueSf,
		BorrowedMarketValueSf:      borrowedMarketValueSf,
		BorrowFactorAdjustedDebtSf: borrowFactorAdjustedDebtSf,
		UnhealthyBorrowValueSf:     unhealthyBorrowValueSf,
	}, nil
}

func read128(dec *bin.Decoder) ([2]uint64, error) {
	lo, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return [2]uint64{}, err
	}
	hi, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return [2]uint64{}, err
	}
	return [2]uint64{lo, hi}, nil
}
