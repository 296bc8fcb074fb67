// Package fs provides the host filesystem abstraction used underneath the
// storage engine.
//
// The main types are:
//   - [FS]: interface for the filesystem operations a drive needs
//   - [File]: interface for open files (satisfied by [os.File])
//   - [Real]: production implementation using [os] and [unix]
//   - [Chaos]: testing implementation that injects removable-media faults
//   - [Locker]: flock-based exclusive locks so one process owns a drive
//
// Example usage:
//
//	fsys := fs.NewReal()
//	f, err := fsys.OpenFile("/media/usb/sensors.csv", os.O_RDWR, 0)
//	if err != nil {
//	    return err
//	}
//	defer f.Close()
package fs

import (
	"io"
	"os"
)

// File represents an open file descriptor.
//
// This interface is satisfied by [os.File] and can be used with all
// standard library functions that accept [io.Reader], [io.Writer],
// [io.Seeker], or [io.Closer].
type File interface {
	io.ReadWriteCloser
	io.Seeker

	// Fd returns the file descriptor. See [os.File.Fd].
	// Used by [Locker] for flock.
	Fd() uintptr

	// Stat returns the [os.FileInfo] for this file. See [os.File.Stat].
	Stat() (os.FileInfo, error)

	// Sync commits the file's contents to the medium. See [os.File.Sync].
	Sync() error
}

// Usage describes the capacity of the filesystem holding a path.
type Usage struct {
	// BlockSize is the allocation unit in bytes.
	BlockSize uint64
	// TotalBlocks is the number of allocation units on the filesystem.
	TotalBlocks uint64
	// FreeBlocks is the number of units available to unprivileged writers.
	FreeBlocks uint64
}

// FreeBytes returns FreeBlocks * BlockSize.
func (u Usage) FreeBytes() uint64 {
	return u.FreeBlocks * u.BlockSize
}

// FS defines the filesystem operations a mounted drive is built on.
//
// Two implementations are provided:
//   - [Real]: production use, wraps [os]
//   - [Chaos]: testing use, injects faults (detach, short writes, EIO)
//
// All methods mirror their [os] package equivalents and return the same
// error values, so errors.Is against [syscall.Errno] works for both.
type FS interface {
	// OpenFile opens a file with specified flags and permissions. See [os.OpenFile].
	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	// ReadFile reads an entire file into memory. See [os.ReadFile].
	ReadFile(path string) ([]byte, error)

	// WriteFileAtomic writes data to a file atomically.
	// Uses a temp file + rename to prevent partial writes on crash.
	WriteFileAtomic(path string, data []byte, perm os.FileMode) error

	// MkdirAll creates a directory and all parents. See [os.MkdirAll].
	MkdirAll(path string, perm os.FileMode) error

	// Stat returns file info. See [os.Stat].
	Stat(path string) (os.FileInfo, error)

	// Exists reports whether a file or directory exists.
	// Returns (false, nil) if not found, (false, err) on other errors.
	Exists(path string) (bool, error)

	// Remove deletes a file or empty directory. See [os.Remove].
	Remove(path string) error

	// Statfs reports capacity of the filesystem containing path.
	Statfs(path string) (Usage, error)
}

// Compile-time interface checks.
var _ File = (*os.File)(nil)
