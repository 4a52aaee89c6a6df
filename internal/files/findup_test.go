package files

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindUp(t *testing.T) {
	root := t.TempDir()
	backend := filepath.Join(root, "pServer")
	deep := filepath.Join(root, "app", "dist", "linux")
	require.NoError(t, os.MkdirAll(backend, 0o755))
	require.NoError(t, os.MkdirAll(deep, 0o755))

	found, err := FindUp("pServer", deep)
	require.NoError(t, err)
	assert.Equal(t, backend, found)

	found, err = FindUp("pServer", root)
	require.NoError(t, err)
	assert.Equal(t, backend, found)

	found, err = FindUp("does-not-exist-anywhere-7f3a", deep)
	require.NoError(t, err)
	assert.Equal(t, "", found)
}
