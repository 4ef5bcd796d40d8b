package pump_test

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/safesandbox/internal/pump"
)

func TestOutput_WithinBudget(t *testing.T) {
	src, srcW, err := os.Pipe()
	require.NoError(t, err)
	dstR, dst, err := os.Pipe()
	require.NoError(t, err)

	go func() {
		_, _ = srcW.Write([]byte("hello"))
		_ = srcW.Close()
	}()

	res := pump.Output(pump.OutputConfig{Src: src, Dst: dst, Budget: 1024})
	_ = dst.Close()

	out, err := io.ReadAll(dstR)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out))
	assert.EqualValues(t, 5, res.BytesRead)
	assert.Zero(t, res.Status)
}

func TestOutput_OverBudget(t *testing.T) {
	src, srcW, err := os.Pipe()
	require.NoError(t, err)
	dstR, dst, err := os.Pipe()
	require.NoError(t, err)

	go func() {
		_, _ = srcW.Write([]byte("0123456789"))
		_ = srcW.Close()
	}()

	res := pump.Output(pump.OutputConfig{Src: src, Dst: dst, Budget: 4})
	_ = dst.Close()

	out, err := io.ReadAll(dstR)
	require.NoError(t, err)
	assert.Equal(t, "0123... and 6 dropped bytes\n", string(out))
	assert.EqualValues(t, 10, res.BytesRead)
	assert.Equal(t, pump.Overrun, res.Status)
}
