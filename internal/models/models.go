// Package models holds the data-model records shared across the
// liquidation engine: reserves, obligations, oracle prices, candidates,
// plans and the presubmit/setup persistence shapes.
package models

import "time"

// OracleVariant tags which program owns an oracle account.
type OracleVariant string

const (
	OraclePyth        OracleVariant = "pyth"
	OracleSwitchboard OracleVariant = "switchboard"
	OracleScope       OracleVariant = "scope"
)

// Reserve is a lending pool for a single asset.
type Reserve struct {
	Address              string
	LiquidityMint        string
	CollateralMint       string
	LiquidityDecimals    uint8
	CollateralDecimals   uint8
	LoanToValuePct       uint8
	LiquidationThreshold uint8
	LiquidationBonusBps  uint16
	BorrowFactorPct      uint16
	OracleAccounts       []string
	AvailableLiquidity   uint64
	BorrowedAmountSf     [2]uint64 // 128-bit SF value, little-endian halves
	CumulativeBorrowRate [2]uint64 // 128-bit BSF value
	CollateralMintSupply uint64
	ScopeChain           []uint16 // indices into the scope price feed, empty if none
}

// OraclePrice is one decoded price record for a mint.
type OraclePrice struct {
	Mint       string
	Variant    OracleVariant
	Mantissa   int64
	Exponent   int32
	Confidence uint64
	Timestamp  time.Time
	Slot       uint64
}

// UnscoredReason enumerates why an obligation could not be scored.
type UnscoredReason string

const (
	ReasonMissingReserve      UnscoredReason = "MISSING_RESERVE"
	ReasonMissingOraclePrice  UnscoredReason = "MISSING_ORACLE_PRICE"
	ReasonMissingExchangeRate UnscoredReason = "MISSING_EXCHANGE_RATE"
	ReasonInvalidMath         UnscoredReason = "INVALID_MATH"
	ReasonOtherMarket         UnscoredReason = "OTHER_MARKET"
	ReasonEmptyObligation     UnscoredReason = "EMPTY_OBLIGATION"
	ReasonNotInAllowlist      UnscoredReason = "NOT_IN_ALLOWLIST"
	ReasonMixedOutOfScope     UnscoredReason = "MIXED_OUT_OF_SCOPE_RESERVE"
)

// Deposit is one collateral-note position inside an obligation.
type Deposit struct {
	ReserveAddress string
	Mint           string
	DepositedNotes uint64
}

// Borrow is one debt position inside an obligation, denominated in SF.
type Borrow struct {
	ReserveAddress   string
	Mint             string
	BorrowedAmountSf [2]uint64
}

// Obligation is a borrower position.
type Obligation struct {
	Address  string
	Owner    string
	Market   string
	Slot     uint64
	Deposits []Deposit
	Borrows  []Borrow

	// Protocol-stored risk values, all 1e18-scaled fixed point.
	DepositedValueSf           [2]uint64
	BorrowedMarketValueSf      [2]uint64
	BorrowFactorAdjustedDebtSf [2]uint64
	UnhealthyBorrowValueSf     [2]uint64
}

// ScoreResult is the outcome of scoring one obligation.
type ScoreResult struct {
	Obligation *Obligation

	Scored bool
	Reason UnscoredReason // valid only when Scored == false

	HealthRatio             float64 // clamped to [0,2], from the source cfg.HealthSource selects
	HealthRatioRaw          float64 // unclamped, same selected source as HealthRatio
	HealthRatioRecomputed   float64 // locally recomputed ratio, always populated, for divergence inspection
	HealthRatioHybrid       float64 // protocol-stored-value ratio, only when HybridAvailable
	HybridAvailable         bool
	HybridUnavailableReason string // "sf-stale" when the protocol-stored values lag too far behind

	BorrowValueUsd              float64 // borrow-factor-weighted debt, the denominator of the health ratio
	CollateralValueUsd          float64
	CollateralValueAdjUsd       float64
	TotalBorrowUsd              float64 // unweighted USD debt actually owed, used for repay sizing
	LiquidationEligible         bool
	LiquidationEligibleProtocol bool // diagnostic only, never used for gating
}

// Candidate is a scored obligation plus ranking/plan metadata.
type Candidate struct {
	Obligation *Obligation
	Score      ScoreResult

	Hazard float64
	Ev     float64
	TtlMin *float64 // nil == infinite / unknown

	Plan *Plan
}

// PlanVersion is the current on-wire plan schema version. The executor
// rejects anything older.
const PlanVersion = 2

// Plan is a versioned, persisted execution plan for one candidate.
type Plan struct {
	Version             int       `json:"version"`
	Key                 string    `json:"key"` // obligation address
	RepayMint           string    `json:"repayMint"`
	SeizeMint           string    `json:"seizeMint"`
	RepayReserve        string    `json:"repayReserve"`
	SeizeReserve        string    `json:"seizeReserve"`
	AmountUi            float64   `json:"amountUi"`
	RepayDecimals       uint8     `json:"repayDecimals"`
	CollateralDecimals  uint8     `json:"collateralDecimals"`
	CreatedAt           time.Time `json:"createdAt"`
	LiquidationEligible bool      `json:"liquidationEligible"`
	Ev                  float64   `json:"ev"`
	Hazard              float64   `json:"hazard"`
}

// PresubmitEntry is a prebuilt, signed transaction cached per obligation.
type PresubmitEntry struct {
	ObligationAddress       string
	Blockhash               string
	BuiltAt                 time.Time
	ExpectedSeizedBaseUnits uint64
	ExpectedOutputBaseUnits uint64
	Mode                    string // "atomic" | "main" | "partial"
	NeedsSetup              bool
	SignedTxBase64          string
}

// SetupState is the persisted setup (ATA creation) bookkeeping.
type SetupState struct {
	Blocked     map[string]BlockedEntry `json:"blocked"`
	AtasCreated map[string]bool         `json:"atasCreated"`
}

// BlockedEntry records why and when a setup attempt was blocked.
type BlockedEntry struct {
	Reason string    `json:"reason"`
	Ts     time.Time `json:"ts"`
}
