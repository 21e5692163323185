package decode

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/klend-bot/liquidator/internal/models"
)

const maxOracleAccountsPerReserve = 3
const maxScopeChainHops = 4

// ReserveLayout describes the fixed on-chain byte layout this decoder
// expects after the 8-byte discriminator:
//
//	liquidityMint          [32]byte
//	collateralMint         [32]byte
//	liquidityDecimals      u8
//	collateralDecimals     u8
//	loanToValuePct         u8
//	liquidationThresholdPct u8
//	liquidationBonusBps    u16
//	borrowFactorPct        u16
//	availableLiquidity     u64
//	borrowedAmountSf       u64 x2 (128-bit, little-endian halves)
//	cumulativeBorrowRate   u64 x2
//	collateralMintSupply   u64
//	numOracleAccounts      u8
//	oracleAccounts         [32]byte x maxOracleAccountsPerReserve
//	scopeChainLen          u8
//	scopeChain             u16 x maxScopeChainHops
const reserveMinLen = 8 + 32 + 32 + 1 + 1 + 1 + 1 + 2 + 2 + 8 + 16 + 16 + 8 + 1 + 32*maxOracleAccountsPerReserve + 1 + 2*maxScopeChainHops

// DecodeReserve decodes a raw reserve account. It returns an error for
// a malformed buffer; callers are expected to log and skip.
func DecodeReserve(address solana.PublicKey, data []byte) (*models.Reserve, error) {
	if !HasDiscriminator(data, ReserveDiscriminator) {
		return nil, fmt.Errorf("reserve %s: discriminator mismatch", address)
	}
	if len(data) < reserveMinLen {
		return nil, fmt.Errorf("reserve %s: short buffer (%d < %d)", address, len(data), reserveMinLen)
	}

	dec := bin.NewBinDecoder(data[8:])

	var liquidityMint, collateralMint solana.PublicKey
	if err := dec.Decode(&liquidityMint); err != nil {
		return nil, fmt.Errorf("reserve %s: liquidity mint: %w", address, err)
	}
	if err := dec.Decode(&collateralMint); err != nil {
		return nil, fmt.Errorf("reserve %s: collateral mint: %w", address, err)
	}

	liquidityDecimals, err := dec.ReadUint8()
	if err != nil {
		return nil, err
	}
	collateralDecimals, err := dec.ReadUint8()
	if err != nil {
		return nil, err
	}
	ltv, err := dec.ReadUint8()
	if err != nil {
		return nil, err
	}
	liqThresh, err := dec.ReadUint8()
	if err != nil {
		return nil, err
	}
	bonusBps, err := dec.ReadUint16(bin.LE)
	if err != nil {
		return nil, err
	}
	borrowFactorPct, err := dec.ReadUint16(bin.LE)
	if err != nil {
		return nil, err
	}
	availableLiquidity, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return nil, err
	}
	borrowedLo, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return nil, err
	}
	borrowedHi, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return nil, err
	}
	rateLo, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return nil, err
	}
	rateHi, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return nil, err
	}
	collateralSupply, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return nil, err
	}

	numOracles, err := dec.ReadUint8()
	if err != nil {
		return nil, err
	}
	oracleAccounts := make([]string, 0, numOracles)
	for i := 0; i < maxOracleAccountsPerReserve; i++ {
		var pk solana.PublicKey
		if err := dec.Decode(&pk); err != nil {
			return nil, fmt.Errorf("reserve %s: oracle account %d: %w", address, i, err)
		}
		if uint8(i) < numOracles && !pk.IsZero() {
			oracleAccounts = append(oracleAccounts, pk.String())
		}
	}

	scopeLen, err := dec.ReadUint8()
	if err != nil {
		return nil, err
	}
	scopeChain := make([]uint16, 0, scopeLen)
	for i := 0; i < maxScopeChainHops; i++ {
		hop, err := dec.ReadUint16(bin.LE)
		if err != nil {
			return nil, err
		}
		if uint8(i) < scopeLen {
			scopeChain = append(scopeChain, hop)
		}
	}

	return &models.Reserve{
		Address:              address.String(),
		LiquidityMint:        liquidityMint.String(),
		CollateralMint:       collateralMint.String(),
		LiquidityDecimals:    liquidityDecimals,
		CollateralDecimals:   collateralDecimals,
		LoanToValuePct:       ltv,
		LiquidationThreshold: liqThresh,
		LiquidationBonusBps:  bonusBps,
		BorrowFactorPct:      borrowFactorPct,
		OracleAccounts:       oracleAccounts,
		AvailableLiquidity:   availableLiquidity,
		BorrowedAmountSf:     [2]uint64{borrowedLo, borrowedHi},
		CumulativeBorrowRate: [2]uint64{rateLo, rateHi},
		CollateralMintSupply: collateralSupply,
		ScopeChain:           scopeChain,
	}, nil
}
