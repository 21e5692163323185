package rpcclient

// RPCError represents a JSON-RPC error response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return e.Message
}

// AccountInfo is one base64-encoded account as returned by
// getProgramAccounts / getMultipleAccounts.
type AccountInfo struct {
	Lamports   uint64   `json:"lamports"`
	Owner      string   `json:"owner"`
	Data       []string `json:"data"` // [base64, encoding]
	Executable bool     `json:"executable"`
	RentEpoch  uint64   `json:"rentEpoch"`
}

// ProgramAccount pairs a pubkey with its account info.
type ProgramAccount struct {
	Pubkey  string      `json:"pubkey"`
	Account AccountInfo `json:"account"`
}

// GetProgramAccountsResponse is the response envelope for
// getProgramAccounts.
type GetProgramAccountsResponse struct {
	Result []ProgramAccount `json:"result"`
	Error  *RPCError        `json:"error"`
}

// MemcmpFilter matches raw bytes at a fixed offset.
type MemcmpFilter struct {
	Offset int    `json:"offset"`
	Bytes  string `json:"bytes"` // base64
}

// GetMultipleAccountsValue is one slot in the getMultipleAccounts
// result array; nil when the account does not exist.
type GetMultipleAccountsValue struct {
	Lamports   uint64   `json:"lamports"`
	Owner      string   `json:"owner"`
	Data       []string `json:"data"`
	Executable bool     `json:"executable"`
	RentEpoch  uint64   `json:"rentEpoch"`
}

type getMultipleAccountsResult struct {
	Value []*GetMultipleAccountsValue `json:"value"`
}

// GetMultipleAccountsResponse is the response envelope for
// getMultipleAccounts.
type GetMultipleAccountsResponse struct {
	Result getMultipleAccountsResult `json:"result"`
	Error  *RPCError                 `json:"error"`
}

// LatestBlockhashValue is the inner result of getLatestBlockhash.
type LatestBlockhashValue struct {
	Blockhash            string `json:"blockhash"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

type getLatestBlockhashResult struct {
	Value LatestBlockhashValue `json:"value"`
}

// GetLatestBlockhashResponse is the response envelope for
// getLatestBlockhash.
type GetLatestBlockhashResponse struct {
	Result getLatestBlockhashResult `json:"result"`
	Error  *RPCError                `json:"error"`
}

// InstructionError is the decoded simulation/confirmation failure
// shape for a single instruction index plus protocol error code.
type InstructionError struct {
	InstructionIndex int
	Custom           *int // protocol-defined numeric error code, if any
	Raw              interface{}
}

// DecodeInstructionError parses the transaction-error shape the
// JSON-RPC layer hands back in SimulateTransactionValue.Err /
// SignatureStatus.Err, e.g. {"InstructionError":[0,{"Custom":6006}]}.
// Returns nil when raw is nil or not an InstructionError variant (a
// top-level error like "AccountNotFound" carries no instruction index
// to decode).
func DecodeInstructionError(raw interface{}) *InstructionError {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil
	}
	pair, ok := m["InstructionError"].([]interface{})
	if !ok || len(pair) != 2 {
		return nil
	}
	idx, ok := pair[0].(float64)
	if !ok {
		return nil
	}

	out := &InstructionError{InstructionIndex: int(idx), Raw: pair[1]}
	if detail, ok := pair[1].(map[string]interface{}); ok {
		if custom, ok := detail["Custom"].(float64); ok {
			code := int(custom)
			out.Custom = &code
		}
	}
	return out
}

// SimulateTransactionValue is the inner result of simulateTransaction.
type SimulateTransactionValue struct {
	Err           interface{} `json:"err"`
	Logs          []string    `json:"logs"`
	UnitsConsumed *uint64     `json:"unitsConsumed"`
}

type simulateTransactionResult struct {
	Value SimulateTransactionValue `json:"value"`
}

// SimulateTransactionResponse is the response envelope for
// simulateTransaction.
type SimulateTransactionResponse struct {
	Result simulateTransactionResult `json:"result"`
	Error  *RPCError                 `json:"error"`
}

// SendTransactionResponse is the response envelope for sendTransaction.
type SendTransactionResponse struct {
	Result string    `json:"result"` // signature
	Error  *RPCError `json:"error"`
}

// SignatureStatus is one entry of getSignatureStatuses.
type SignatureStatus struct {
	Slot               uint64      `json:"slot"`
	Confirmations      *int        `json:"confirmations"`
	Err                interface{} `json:"err"`
	ConfirmationStatus string      `json:"confirmationStatus"`
}

type getSignatureStatusesResult struct {
	Value []*SignatureStatus `json:"value"`
}

// GetSignatureStatusesResponse is the response envelope for
// getSignatureStatuses.
type GetSignatureStatusesResponse struct {
	Result getSignatureStatusesResult `json:"result"`
	Error  *RPCError                  `json:"error"`
}
