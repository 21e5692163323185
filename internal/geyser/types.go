package geyser

// SubscribeRequest is the JSON payload sent to open an account-delta
// subscription. Accounts/Owners/Memcmp mirror the filter shapes a
// geyser-style account-update plugin accepts; MemcmpFilters lets the
// caller scope the stream to one account kind (e.g. obligations) by
// discriminator, the same filter shape internal/rpcclient uses for
// getProgramAccounts.
type SubscribeRequest struct {
	Accounts      []string       `json:"accounts,omitempty"`
	Owners        []string       `json:"owners,omitempty"`
	MemcmpFilters []MemcmpFilter `json:"memcmpFilters,omitempty"`
	Ping          *PingRequest   `json:"ping,omitempty"`
}

// MemcmpFilter matches raw bytes at a fixed offset within account data.
type MemcmpFilter struct {
	Offset int    `json:"offset"`
	Bytes  string `json:"bytes"` // base64
}

// PingRequest is sent on the outbound keepalive interval to keep the
// stream alive through intermediating proxies/load balancers.
type PingRequest struct {
	Id int32 `json:"id"`
}

// AccountUpdate is one account-delta notification.
type AccountUpdate struct {
	Pubkey    string `json:"pubkey"`
	Owner     string `json:"owner"`
	Data      string `json:"data"` // base64
	Slot      uint64 `json:"slot"`
	IsStartup bool   `json:"isStartup"`
}

// SubscribeResponse is one message received on the stream: either an
// account update, a startup-complete marker, or a pong reply to our
// keepalive ping.
type SubscribeResponse struct {
	Account         *AccountUpdate `json:"account,omitempty"`
	StartupComplete bool           `json:"startupComplete,omitempty"`
	Pong            *PingRequest   `json:"pong,omitempty"`
}
