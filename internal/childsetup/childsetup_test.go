//go:build linux

package childsetup_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/safesandbox/internal/childsetup"
)

func TestChownContents_RecursesAndAddsOwnerRW(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(nested, 0500))
	file := filepath.Join(nested, "f")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0400))

	// A non-privileged process can only chown paths it owns to its own
	// uid, so this exercises the recursion and permission bits without
	// needing root.
	require.NoError(t, childsetup.ChownContents(dir, os.Getuid()))

	info, err := os.Stat(file)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode()&0600)
}

func TestChownContents_MissingPath(t *testing.T) {
	err := childsetup.ChownContents(filepath.Join(t.TempDir(), "does-not-exist"), os.Getuid())
	assert.Error(t, err)
}
