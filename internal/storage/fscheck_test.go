package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedFS(name string) fsDetector {
	return func(string) (string, error) { return name, nil }
}

func TestCheckStoragePathAllowsLocalFS(t *testing.T) {
	t.Parallel()

	err := checkStoragePath(filepath.Join(t.TempDir(), "entities.db"), BackendSQLite, fixedFS("apfs"))
	assert.NoError(t, err)
}

func TestCheckStoragePathRejectsNetworkFS(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "entities")
	err := checkStoragePath(path, BackendBadger, fixedFS("smbfs"))

	var remote *RemoteFilesystemError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, path, remote.Path)
	assert.Equal(t, "smbfs", remote.FSType)
	assert.Equal(t, BackendBadger, remote.Backend)
	assert.Contains(t, err.Error(), "badger backend requires a local filesystem")
}

func TestCheckStoragePathUndetectableIsAllowed(t *testing.T) {
	t.Parallel()

	err := checkStoragePath(filepath.Join(t.TempDir(), "entities.db"), BackendSQLite, func(string) (string, error) {
		return "", errors.New("unsupported")
	})
	assert.NoError(t, err)
}

func TestCheckStoragePathEmpty(t *testing.T) {
	t.Parallel()

	err := checkStoragePath("", BackendSQLite, detectFilesystemType)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqlite path is empty")
}

func TestCheckStoragePathInspectsExistingAncestor(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	var inspected string
	err := checkStoragePath(filepath.Join(root, "nested", "dir", "entities.db"), BackendSQLite, func(path string) (string, error) {
		inspected = path
		return "ext4", nil
	})
	require.NoError(t, err)
	assert.Equal(t, root, inspected)
}

func TestDetectFilesystemTypeOnTempDir(t *testing.T) {
	name, err := detectFilesystemType(t.TempDir())
	if err != nil {
		t.Skipf("filesystem detection unavailable: %v", err)
	}
	assert.NotEmpty(t, name)
}

func TestIsNetworkFilesystem(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"nfs":    true,
		"nfs4":   true,
		"SMBFS":  true,
		" cifs ": true,
		"apfs":   false,
		"0xef53": false,
		"":       false,
	}
	for fs, want := range cases {
		assert.Equal(t, want, isNetworkFilesystem(fs), fs)
	}
}
