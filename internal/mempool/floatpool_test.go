package mempool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetFloat64Length(t *testing.T) {
	for _, n := range []int{1, 72, 360, 513, 100000} {
		buf := GetFloat64(n)
		require.Len(t, buf, n)
		PutFloat64(buf)
	}
}

func TestPutFloat64Nil(t *testing.T) {
	assert.NotPanics(t, func() { PutFloat64(nil) })
}

func TestFloat64Reuse(t *testing.T) {
	buf := GetFloat64(64)
	for i := range buf {
		buf[i] = float64(i)
	}
	PutFloat64(buf)

	// A second request of the same class must come back with the right length.
	buf2 := GetFloat64(64)
	assert.Len(t, buf2, 64)
	PutFloat64(buf2)
}

func TestGetFloat32Length(t *testing.T) {
	for _, n := range []int{1, 144, 4096} {
		buf := GetFloat32(n)
		require.Len(t, buf, n)
		PutFloat32(buf)
	}
}

func TestPutFloat32Nil(t *testing.T) {
	assert.NotPanics(t, func() { PutFloat32(nil) })
}
