package decode

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccountDiscriminatorMatchesSha256Prefix(t *testing.T) {
	sum := sha256.Sum256([]byte("account:Reserve"))
	assert.Equal(t, sum[:8], ReserveDiscriminator[:])
}

func TestInstructionDiscriminatorDiffersFromAccount(t *testing.T) {
	acc := AccountDiscriminator("Obligation")
	ins := InstructionDiscriminator("Obligation")
	assert.NotEqual(t, acc, ins)
}

func TestHasDiscriminator(t *testing.T) {
	want := AccountDiscriminator("Reserve")
	buf := append(want[:], []byte{1, 2, 3}...)
	assert.True(t, HasDiscriminator(buf, want))
	assert.False(t, HasDiscriminator(buf[1:], want))
	assert.False(t, HasDiscriminator([]byte{1, 2}, want))
}
