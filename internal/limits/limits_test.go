package limits_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joeycumines/safesandbox/internal/limits"
)

func TestDefault(t *testing.T) {
	l := limits.Default()
	assert.Equal(t, int64(1_000_000), l.MaxOutputBytes)
	assert.Equal(t, 10, l.MaxProcs)
	assert.Equal(t, int64(2_000), l.MaxCPUMs)
	assert.Equal(t, int64(10_000), l.MaxWallclockMs)
	assert.Equal(t, int64(2_000_000_000), l.MaxAddressSpaceBytes)
	assert.False(t, l.ChrootJail)
	assert.Empty(t, l.Argv)
}

func TestClampMaxProcs(t *testing.T) {
	assert.Equal(t, 1, limits.ClampMaxProcs(0))
	assert.Equal(t, 1, limits.ClampMaxProcs(-5))
	assert.Equal(t, 1, limits.ClampMaxProcs(1))
	assert.Equal(t, 50, limits.ClampMaxProcs(50))
	assert.Equal(t, limits.MaxProcsCeiling, limits.ClampMaxProcs(limits.MaxProcsCeiling))
	assert.Equal(t, limits.MaxProcsCeiling, limits.ClampMaxProcs(limits.MaxProcsCeiling+1))
}

func TestLockfilePath(t *testing.T) {
	assert.Equal(t, "/var/lock/safesandbox.alice.lock", limits.LockfilePath("alice"))
}

func TestExitCodeRanges(t *testing.T) {
	// spec §6: internal errors sit in 180-187, app faults are the
	// AppFailureBase bit set or'd with a nonzero progErrors bitfield.
	assert.Equal(t, 180, limits.IHSError)
	assert.Equal(t, 180, limits.BadFork)
	assert.Equal(t, 187, limits.Interrupted)
	assert.Equal(t, 0xC0, limits.AppFailureBase)
	assert.Less(t, limits.AppFailureBase|limits.TimeoutBit|limits.OutputOverrun|limits.RogueProcs|limits.RTFault|limits.UnreadInputBit, 256)
}
