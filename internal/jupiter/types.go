package jupiter

type QuoteRequest struct {
	InputMint  string
	OutputMint string
	Amount     string // raw integer as string (uint64)

	SlippageBps *uint16
	SwapMode    string // ExactIn | ExactOut

	Dexes        []string
	ExcludeDexes []string

	RestrictIntermediateTokens *bool
	OnlyDirectRoutes           *bool
	AsLegacyTransaction        *bool

	PlatformFeeBps *uint16
	MaxAccounts    *uint64

	InstructionVersion string // V1 | V2
	DynamicSlippage    *bool
}

type QuoteResponse struct {
	InputMint            string          `json:"inputMint"`
	OutputMint           string          `json:"outputMint"`
	InAmount             string          `json:"inAmount"`
	OutAmount            string          `json:"outAmount"`
	OtherAmountThreshold string          `json:"otherAmountThreshold"`
	SwapMode             string          `json:"swapMode"`
	SlippageBps          uint16          `json:"slippageBps"`
	PlatformFee          *PlatformFee    `json:"platformFee,omitempty"`
	PriceImpactPct       string          `json:"priceImpactPct"`
	RoutePlan            []RoutePlanStep `json:"routePlan"`

	ContextSlot uint64  `json:"contextSlot,omitempty"`
	TimeTaken   float64 `json:"timeTaken,omitempty"`
}

type PlatformFee struct {
	Amount string `json:"amount,omitempty"`
	FeeBps uint16 `json:"feeBps,omitempty"`
}

type RoutePlanStep struct {
	SwapInfo SwapInfo `json:"swapInfo"`
	Percent  *uint8   `json:"percent,omitempty"`
	Bps      uint16   `json:"bps"`
}

type SwapInfo struct {
	AmmKey     string `json:"ammKey"`
	Label      string `json:"label,omitempty"`
	InputMint  string `json:"inputMint"`
	OutputMint string `json:"outputMint"`
	InAmount   string `json:"inAmount"`
	OutAmount  string `json:"outAmount"`

	FeeAmount *string `json:"feeAmount,omitempty"`
	FeeMint   *string `json:"feeMint,omitempty"`
}

// SwapInstructionsRequest asks the aggregator to compile a previously
// fetched quote into raw instructions instead of a whole transaction,
// so the assembler can splice the swap leg into the canonical
// liquidation window instead of sending a second transaction.
type SwapInstructionsRequest struct {
	UserPublicKey           string         `json:"userPublicKey"`
	QuoteResponse           *QuoteResponse `json:"quoteResponse"`
	WrapAndUnwrapSol        *bool          `json:"wrapAndUnwrapSol,omitempty"`
	UseSharedAccounts       *bool          `json:"useSharedAccounts,omitempty"`
	DynamicComputeUnitLimit *bool          `json:"dynamicComputeUnitLimit,omitempty"`
	SkipUserAccountsRpcCall *bool          `json:"skipUserAccountsRpcCall,omitempty"`
}

// AccountMeta mirrors the aggregator's wire shape for an account
// reference inside a compiled instruction.
type AccountMeta struct {
	Pubkey     string `json:"pubkey"`
	IsSigner   bool   `json:"isSigner"`
	IsWritable bool   `json:"isWritable"`
}

// InstructionData mirrors the aggregator's wire shape for one
// instruction: a program id, its account list, and base64-encoded
// instruction data.
type InstructionData struct {
	ProgramID string        `json:"programId"`
	Accounts  []AccountMeta `json:"accounts"`
	Data      string        `json:"data"`
}

// SwapInstructionsResponse is the aggregator's compiled-instructions
// reply. setupInstructions covers ATA creation/wrapping the aggregator
// itself wants; swapInstruction and the optional cleanup instruction
// are what the assembler splices into the liquidation window.
type SwapInstructionsResponse struct {
	ComputeBudgetInstructions  []InstructionData `json:"computeBudgetInstructions,omitempty"`
	SetupInstructions          []InstructionData `json:"setupInstructions,omitempty"`
	SwapInstruction            InstructionData   `json:"swapInstruction"`
	CleanupInstruction         *InstructionData  `json:"cleanupInstruction,omitempty"`
	AddressLookupTableAddresses []string         `json:"addressLookupTableAddresses,omitempty"`
}
