package pump_test

import (
	"io"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/safesandbox/internal/pump"
)

func TestInput_BinaryMode_StopsOnSrcEOF(t *testing.T) {
	srcR, srcW, err := os.Pipe()
	require.NoError(t, err)
	dstR, dstW, err := os.Pipe()
	require.NoError(t, err)

	var goFlag atomic.Bool
	goFlag.Store(true)
	eofSem := make(chan struct{}, 1)

	done := make(chan struct{})
	go func() {
		pump.Input(pump.InputConfig{
			Src:    srcR,
			Dst:    dstW,
			IsPty:  false,
			Go:     &goFlag,
			EOFSem: eofSem,
		})
		close(done)
	}()

	_, _ = srcW.Write([]byte("hello"))
	_ = srcW.Close()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Input did not return after src closed")
	}

	out, err := io.ReadAll(dstR)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out))
}

func TestInput_PtyMode_PostsEOT(t *testing.T) {
	srcR, srcW, err := os.Pipe()
	require.NoError(t, err)
	dstR, dstW, err := os.Pipe()
	require.NoError(t, err)

	var goFlag atomic.Bool
	goFlag.Store(true)
	eofSem := make(chan struct{}, 1)

	// Close the source immediately: the pump should reach the pty EOF
	// branch and wait on the semaphore before it writes the trailing EOT.
	_ = srcW.Close()

	done := make(chan struct{})
	go func() {
		pump.Input(pump.InputConfig{
			Src:    srcR,
			Dst:    dstW,
			IsPty:  true,
			Go:     &goFlag,
			EOFSem: eofSem,
		})
		close(done)
	}()

	// Supervisor's single post, spec §4.6 step 17.
	eofSem <- struct{}{}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Input did not return after EOF semaphore post")
	}

	out, err := io.ReadAll(dstR)
	require.NoError(t, err)
	assert.NotEmpty(t, out)
	assert.EqualValues(t, 0x04, out[len(out)-1])
}
