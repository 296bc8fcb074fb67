package fs

import (
	"bytes"
	"os"

	"github.com/natefinch/atomic"
	"golang.org/x/sys/unix"
)

// Real implements [FS] using the real filesystem.
//
// All methods are passthroughs to [os] with identical error semantics, except
// [Real.Exists] which wraps [os.Stat], [Real.WriteFileAtomic] which uses
// atomic file writes, and [Real.Statfs] which wraps statfs(2).
type Real struct{}

// NewReal returns a new [Real] filesystem.
func NewReal() *Real {
	return &Real{}
}

// A passthrough wrapper for [os.OpenFile].
func (r *Real) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	return os.OpenFile(path, flag, perm)
}

// A passthrough wrapper for [os.ReadFile].
func (r *Real) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// WriteFileAtomic writes data via a temp file in the same directory and
// renames it over path. The perm argument is applied after the rename.
func (r *Real) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	err := atomic.WriteFile(path, bytes.NewReader(data))
	if err != nil {
		return err
	}

	return os.Chmod(path, perm)
}

// A passthrough wrapper for [os.MkdirAll].
func (r *Real) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// A passthrough wrapper for [os.Stat].
func (r *Real) Stat(path string) (os.FileInfo, error) {
	return os.Stat(path)
}

// Exists checks if a file exists using [os.Stat].
// Returns (true, nil) if the file exists, (false, nil) if it does not,
// or (false, err) for other errors.
func (r *Real) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}

	if os.IsNotExist(err) {
		return false, nil
	}

	return false, err
}

// A passthrough wrapper for [os.Remove].
func (r *Real) Remove(path string) error {
	return os.Remove(path)
}

// Statfs wraps [unix.Statfs]. Free blocks are the ones available to
// unprivileged users (f_bavail), matching what a writer can actually use.
func (r *Real) Statfs(path string) (Usage, error) {
	var st unix.Statfs_t

	err := unix.Statfs(path, &st)
	if err != nil {
		return Usage{}, &os.PathError{Op: "statfs", Path: path, Err: err}
	}

	return Usage{
		BlockSize:   uint64(st.Bsize), //nolint:gosec // block size is never negative
		TotalBlocks: st.Blocks,
		FreeBlocks:  st.Bavail,
	}, nil
}

// Compile-time interface check.
var _ FS = (*Real)(nil)
