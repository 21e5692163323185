package reservecache

import (
	"math/big"

	"github.com/klend-bot/liquidator/internal/fixedpoint"
	"github.com/klend-bot/liquidator/internal/models"
)

// exchangeRate computes:
//
//	borrowedRaw   = borrowedSf / 10^18
//	totalLiqRaw   = availableRaw + borrowedRaw
//	rate          = collateralSupplyUi / totalLiquidityUi
//
// All arithmetic up to the UI conversion happens in big.Int.
func exchangeRate(reserve *models.Reserve) float64 {
	if reserve.CollateralMintSupply == 0 {
		return 0
	}

	borrowedSf := fixedpoint.FromHalves(reserve.BorrowedAmountSf)
	borrowedRaw := new(big.Int).Div(borrowedSf, fixedpoint.ScaleSf)

	availableRaw := new(big.Int).SetUint64(reserve.AvailableLiquidity)
	totalLiqRaw := new(big.Int).Add(availableRaw, borrowedRaw)

	totalLiquidityUi := fixedpoint.RawToUi(totalLiqRaw, reserve.LiquidityDecimals)
	if totalLiquidityUi <= 0 {
		return 0
	}

	collateralSupplyUi := fixedpoint.RawToUi(new(big.Int).SetUint64(reserve.CollateralMintSupply), reserve.CollateralDecimals)
	if collateralSupplyUi <= 0 {
		return 0
	}

	return collateralSupplyUi / totalLiquidityUi
}
