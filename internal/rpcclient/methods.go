package rpcclient

import "context"

// GetProgramAccounts scans a program for accounts matching the given
// memcmp filters (e.g. the 8-byte discriminator at offset 0).
func (c *Client) GetProgramAccounts(ctx context.Context, programID string, filters []MemcmpFilter) ([]ProgramAccount, error) {
	memcmps := make([]map[string]interface{}, 0, len(filters))
	for _, f := range filters {
		memcmps = append(memcmps, map[string]interface{}{
			"memcmp": map[string]interface{}{
				"offset": f.Offset,
				"bytes":  f.Bytes,
			},
		})
	}

	params := []interface{}{
		programID,
		map[string]interface{}{
			"encoding": "base64",
			"filters":  memcmps,
		},
	}

	var result GetProgramAccountsResponse
	if err := c.Call(ctx, "getProgramAccounts", params, &result); err != nil {
		return nil, err
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return result.Result, nil
}

// GetMultipleAccounts batch-fetches up to 100 accounts per call.
func (c *Client) GetMultipleAccounts(ctx context.Context, pubkeys []string) ([]*GetMultipleAccountsValue, error) {
	params := []interface{}{
		pubkeys,
		map[string]interface{}{"encoding": "base64"},
	}

	var result GetMultipleAccountsResponse
	if err := c.Call(ctx, "getMultipleAccounts", params, &result); err != nil {
		return nil, err
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return result.Result.Value, nil
}

// GetLatestBlockhash fetches the current blockhash for transaction
// building.
func (c *Client) GetLatestBlockhash(ctx context.Context) (*LatestBlockhashValue, error) {
	var result GetLatestBlockhashResponse
	if err := c.Call(ctx, "getLatestBlockhash", []interface{}{map[string]interface{}{"commitment": "confirmed"}}, &result); err != nil {
		return nil, err
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &result.Result.Value, nil
}

// SimulateTransaction simulates a base64-encoded versioned transaction
// with sigVerify disabled and the blockhash replaced for sizing
// estimation.
func (c *Client) SimulateTransaction(ctx context.Context, txBase64 string) (*SimulateTransactionValue, error) {
	params := []interface{}{
		txBase64,
		map[string]interface{}{
			"encoding":               "base64",
			"sigVerify":              false,
			"replaceRecentBlockhash": true,
		},
	}

	var result SimulateTransactionResponse
	if err := c.Call(ctx, "simulateTransaction", params, &result); err != nil {
		return nil, err
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &result.Result.Value, nil
}

// SendTransaction submits a base64-encoded signed transaction.
func (c *Client) SendTransaction(ctx context.Context, txBase64 string) (string, error) {
	params := []interface{}{
		txBase64,
		map[string]interface{}{"encoding": "base64", "skipPreflight": true},
	}

	var result SendTransactionResponse
	if err := c.Call(ctx, "sendTransaction", params, &result); err != nil {
		return "", err
	}
	if result.Error != nil {
		return "", result.Error
	}
	return result.Result, nil
}

// GetSignatureStatuses polls confirmation status for a batch of
// signatures.
func (c *Client) GetSignatureStatuses(ctx context.Context, signatures []string) ([]*SignatureStatus, error) {
	params := []interface{}{
		signatures,
		map[string]interface{}{"searchTransactionHistory": false},
	}

	var result GetSignatureStatusesResponse
	if err := c.Call(ctx, "getSignatureStatuses", params, &result); err != nil {
		return nil, err
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return result.Result.Value, nil
}
