package geyser

// State is one state in the indexer's connection lifecycle.
type State string

const (
	StateIdle          State = "Idle"
	StateBootstrapping State = "Bootstrapping"
	StateStreaming     State = "Streaming"
	StateReconnecting  State = "Reconnecting"
	StateStopped       State = "Stopped"
	// StateBootstrapOnly is a terminal state for the one-shot scanner
	// mode: bootstrap ran to completion and no live subscription is
	// opened.
	StateBootstrapOnly State = "BootstrapOnly"
)
