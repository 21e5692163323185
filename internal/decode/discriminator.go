// Package decode parses the fixed-layout on-chain account blobs the
// engine consumes: lending reserves, obligations, and the Pyth/
// Switchboard/Scope oracle variants.
package decode

import "crypto/sha256"

// AccountDiscriminator returns the 8-byte anchor-style account
// discriminator for a struct name: sha256("account:"+name)[:8].
func AccountDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var out [8]byte
	copy(out[:], sum[:8])
	return out
}

// InstructionDiscriminator returns the 8-byte anchor-style instruction
// discriminator: sha256("global:"+name)[:8]. Used only for validating
// the compiled instruction window (see internal/assembler), never for
// account decode.
func InstructionDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("global:" + name))
	var out [8]byte
	copy(out[:], sum[:8])
	return out
}

var (
	ReserveDiscriminator    = AccountDiscriminator("Reserve")
	ObligationDiscriminator = AccountDiscriminator("Obligation")
	ScopeChainDiscriminator = AccountDiscriminator("OracleMappings")
)

// HasDiscriminator reports whether data is at least 8 bytes and those
// bytes equal want.
func HasDiscriminator(data []byte, want [8]byte) bool {
	if len(data) < 8 {
		return false
	}
	var got [8]byte
	copy(got[:], data[:8])
	return got == want
}
