package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// remoteFilesystems break the file locks both embedded backends depend on.
var remoteFilesystems = []string{"afpfs", "cifs", "nfs", "nfs4", "smbfs", "smb2", "webdav"}

// fsDetector names the filesystem holding an existing path.
type fsDetector func(path string) (string, error)

// RemoteFilesystemError is returned by Open when a database path lives on a
// network mount.
type RemoteFilesystemError struct {
	Path    string
	FSType  string
	Backend string
}

func (e *RemoteFilesystemError) Error() string {
	return fmt.Sprintf("storage.path %q is on network filesystem %q: the %s backend requires a local filesystem for reliable locking",
		e.Path, e.FSType, e.Backend)
}

func validateLocalFilesystem(path, backend string) error {
	return checkStoragePath(path, backend, detectFilesystemType)
}

func checkStoragePath(path, backend string, detect fsDetector) error {
	if path == "" {
		return fmt.Errorf("%s path is empty", backend)
	}

	anchor, err := existingAncestor(path)
	if err != nil {
		return fmt.Errorf("resolve storage path %q: %w", path, err)
	}

	fsType, err := detect(anchor)
	if err != nil {
		// Undetectable: let the backend open fail on its own if it must.
		return nil
	}
	if isNetworkFilesystem(fsType) {
		return &RemoteFilesystemError{Path: path, FSType: fsType, Backend: backend}
	}
	return nil
}

// existingAncestor returns path itself or its closest directory that exists.
// The database file and its directory are created later by the backend.
func existingAncestor(path string) (string, error) {
	dir, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		_, err := os.Stat(dir)
		switch {
		case err == nil:
			return dir, nil
		case !errors.Is(err, fs.ErrNotExist):
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no existing ancestor of %q", path)
		}
		dir = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	return slices.Contains(remoteFilesystems, strings.ToLower(strings.TrimSpace(fsType)))
}
