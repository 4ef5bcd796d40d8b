package supervisor

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/joeycumines/safesandbox/internal/limits"
)

func TestClassify_InternalErrorWins(t *testing.T) {
	assert.Equal(t, limits.BadWait, Classify(limits.BadWait, limits.TimeoutBit, 0))
}

func TestClassify_AppFaultBitfield(t *testing.T) {
	got := Classify(0, limits.TimeoutBit|limits.RogueProcs, 0)
	assert.Equal(t, limits.AppFailureBase|limits.TimeoutBit|limits.RogueProcs, got)
}

func TestClassify_PassesThroughStatus(t *testing.T) {
	assert.Equal(t, 7, Classify(0, 0, 7))
}

func TestRusageMs(t *testing.T) {
	ru := &unix.Rusage{}
	ru.Utime.Sec = 1
	ru.Utime.Usec = 500_000
	ru.Stime.Sec = 0
	ru.Stime.Usec = 250_000
	assert.EqualValues(t, 1750, rusageMs(ru))
}

func TestMopUpDrain(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	_, _ = w.Write([]byte("leftover"))
	_ = w.Close()

	assert.EqualValues(t, len("leftover"), mopUpDrain(r))
}

func TestAcquireLock_ExclusiveAgainstSelf(t *testing.T) {
	// acquireLock always uses the well-known lockfile path under /var/lock
	// (spec §6.3), which needs root-owned /var/lock in a real deployment and
	// cannot be redirected from a test, so this test is skipped: a second
	// acquire against an already-held lock is not checked here.
	t.Skip("acquireLock is hardcoded to /var/lock, exercised by integration testing")
}
