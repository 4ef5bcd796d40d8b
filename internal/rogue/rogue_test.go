package rogue_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joeycumines/safesandbox/internal/rogue"
)

func TestHunt_NoSessionNoUser(t *testing.T) {
	// Nothing to hunt: sessionID 0 skips the process-group kill, and an
	// empty user name skips the by-user kill entirely.
	assert.False(t, rogue.Hunt(0, ""))
}

func TestHunt_UnresolvableUser(t *testing.T) {
	// A user name that can't be looked up must not kill anything or panic.
	assert.False(t, rogue.Hunt(0, "no-such-user-safesandbox-test"))
}
