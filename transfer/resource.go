package transfer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"chatroute/models"
)

// ErrIncomplete indicates a file resource committed before all of its
// declared bytes were written.
var ErrIncomplete = errors.New("transfer: incomplete data")

// Resource is the local destination opened when an invitation becomes Active.
type Resource interface {
	WriteAt(p []byte, off int64) (int, error)
	// Commit finalizes the resource and returns where the data ended up.
	Commit() (string, error)
	// Discard releases the resource and removes anything partially written.
	Discard() error
}

// Opener opens the resource for an invitation entering Active.
type Opener func(inv *Invitation) (Resource, error)

// DefaultOpener writes files under filesDir and treats activities as having
// no local data.
func DefaultOpener(filesDir string) Opener {
	return func(inv *Invitation) (Resource, error) {
		if inv.DataType == models.DataActivity {
			return nopResource{}, nil
		}
		return OpenFile(filesDir, inv.ID, inv.Filename, inv.Size)
	}
}

type fileResource struct {
	mu        sync.Mutex
	file      *os.File
	tempPath  string
	finalPath string
	size      int64
	written   int64
	done      bool
}

// OpenFile creates the partial file for an incoming transfer. The data is
// written to "<id>_<name>.part" and renamed on Commit. A positive size bounds
// the writes and must be reached before Commit succeeds.
func OpenFile(filesDir, id, filename string, size int64) (Resource, error) {
	if filesDir == "" {
		return nil, errors.New("files directory is required")
	}
	if err := os.MkdirAll(filesDir, 0o700); err != nil {
		return nil, fmt.Errorf("create files directory: %w", err)
	}

	finalPath := filepath.Join(filesDir, prefixedFilename(id, filename))
	tempPath := finalPath + ".part"
	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open temp file: %w", err)
	}

	return &fileResource{
		file:      file,
		tempPath:  tempPath,
		finalPath: finalPath,
		size:      max(size, 0),
	}, nil
}

func (r *fileResource) WriteAt(p []byte, off int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return 0, os.ErrClosed
	}
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	end := off + int64(len(p))
	if r.size > 0 && end > r.size {
		return 0, fmt.Errorf("write of %d bytes at %d exceeds declared size %d", len(p), off, r.size)
	}
	n, err := r.file.WriteAt(p, off)
	r.written = max(r.written, off+int64(n))
	return n, err
}

func (r *fileResource) Commit() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return "", os.ErrClosed
	}
	r.done = true

	if err := r.file.Close(); err != nil {
		_ = os.Remove(r.tempPath)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if r.written < r.size {
		_ = os.Remove(r.tempPath)
		return "", fmt.Errorf("%w: %d of %d bytes", ErrIncomplete, r.written, r.size)
	}
	if err := os.Rename(r.tempPath, r.finalPath); err != nil {
		_ = os.Remove(r.tempPath)
		return "", fmt.Errorf("finalize file: %w", err)
	}
	return r.finalPath, nil
}

func (r *fileResource) Discard() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return nil
	}
	r.done = true

	closeErr := r.file.Close()
	if err := os.Remove(r.tempPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove temp file: %w", err)
	}
	return closeErr
}

type nopResource struct{}

func (nopResource) WriteAt(p []byte, _ int64) (int, error) { return len(p), nil }
func (nopResource) Commit() (string, error)              { return "", nil }
func (nopResource) Discard() error                       { return nil }

func prefixedFilename(id, filename string) string {
	base := filepath.Base(filename)
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "file.bin"
	}
	id = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == filepath.Separator {
			return '_'
		}
		return r
	}, id)
	return id + "_" + base
}
