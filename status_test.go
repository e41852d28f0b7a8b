package twi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFlag_Err(t *testing.T) {
	tests := []struct {
		given    ErrorFlag
		expected error
	}{
		{ErrorNone, nil},
		{ErrorAddressWriteNack, ErrAddressWriteNack},
		{ErrorDataWriteNack, ErrDataWriteNack},
		{ErrorAddressReadNack, ErrAddressReadNack},
	}
	for _, test := range tests {
		t.Run(test.given.String(), func(t *testing.T) {
			assert.Equal(t, test.expected, test.given.Err())
		})
	}
}

func TestAddressBytes(t *testing.T) {
	assert.Equal(t, byte(0xA0), WriteAddress(0x50))
	assert.Equal(t, byte(0xA1), ReadAddress(0x50))
	assert.Equal(t, byte(0xD1), ReadAddress(0x68))
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "SLA+W_NACK", StatusAddrWriteNack.String())
	assert.Equal(t, "STATUS(0xf8)", Status(0xF8).String())
}
