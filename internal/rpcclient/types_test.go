package rpcclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeInstructionErrorCustomCode(t *testing.T) {
	raw := map[string]interface{}{
		"InstructionError": []interface{}{
			float64(1),
			map[string]interface{}{"Custom": float64(6006)},
		},
	}

	got := DecodeInstructionError(raw)
	if assert.NotNil(t, got) {
		assert.Equal(t, 1, got.InstructionIndex)
		if assert.NotNil(t, got.Custom) {
			assert.Equal(t, 6006, *got.Custom)
		}
	}
}

func TestDecodeInstructionErrorNonCustomVariant(t *testing.T) {
	raw := map[string]interface{}{
		"InstructionError": []interface{}{float64(0), "InvalidAccountData"},
	}

	got := DecodeInstructionError(raw)
	if assert.NotNil(t, got) {
		assert.Equal(t, 0, got.InstructionIndex)
		assert.Nil(t, got.Custom)
	}
}

func TestDecodeInstructionErrorNonInstructionShape(t *testing.T) {
	assert.Nil(t, DecodeInstructionError(nil))
	assert.Nil(t, DecodeInstructionError("AccountNotFound"))
	assert.Nil(t, DecodeInstructionError(map[string]interface{}{"AccountNotFound": struct{}{}}))
}
