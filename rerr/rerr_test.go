package rerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("driver failure")
	err := Wrap(DeviceError, cause, "build GAS for mesh %d", 7)
	require.Error(t, err)
	assert.True(t, errors.Is(err, cause))
	assert.True(t, Is(err, DeviceError))
	assert.False(t, Is(err, OutOfMemory))
}

func TestCodeOfUnknownError(t *testing.T) {
	code, ok := CodeOf(errors.New("plain"))
	assert.False(t, ok)
	assert.Equal(t, DeviceError, code)
}

func TestNewFormatsMessage(t *testing.T) {
	err := New(InvalidGeometry, "index %d out of range", 12)
	assert.Contains(t, err.Error(), "InvalidGeometry")
	assert.Contains(t, err.Error(), "index 12 out of range")
}
