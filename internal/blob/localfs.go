// Package blob stores uploaded spreadsheet files on the local filesystem,
// keyed by session. The original bytes are written once at upload and read
// back verbatim for reconciliation.
package blob

import (
	"io"
	"os"
	"path/filepath"
)

type LocalFS struct {
	Root string
}

// UploadKey is the blob key for a session's original file.
func UploadKey(sessionID, ext string) string {
	return filepath.Join("sessions", sessionID, "original"+ext)
}

func (l LocalFS) Put(relPath string, r io.Reader) (string, error) {
	clean := filepath.Clean(relPath)
	abs := filepath.Join(l.Root, clean)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(abs)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return "", err
	}
	return clean, nil
}

func (l LocalFS) Open(relPath string) (*os.File, error) {
	clean := filepath.Clean(relPath)
	abs := filepath.Join(l.Root, clean)
	return os.Open(abs)
}

// ReadAll returns the full contents of a stored blob.
func (l LocalFS) ReadAll(relPath string) ([]byte, error) {
	f, err := l.Open(relPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (l LocalFS) Exists(relPath string) bool {
	clean := filepath.Clean(relPath)
	abs := filepath.Join(l.Root, clean)
	_, err := os.Stat(abs)
	return err == nil
}

// Remove deletes a session's blob directory. Missing paths are not an error.
func (l LocalFS) Remove(relPath string) error {
	clean := filepath.Clean(relPath)
	abs := filepath.Join(l.Root, clean)
	err := os.RemoveAll(abs)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
