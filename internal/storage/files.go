package storage

import (
	"fmt"

	"github.com/calvinalkan/usbstore/internal/engine"
)

// CreateFile creates name with data as its whole content. It never
// truncates: an existing file yields [ErrFileExists]. If the engine accepts
// only part of data the file is removed again before returning, so a short
// write never leaves a partial file behind. Empty data creates an empty
// file.
func (s *Store) CreateFile(name string, data []byte) error {
	if !s.IsMounted() {
		return ErrNotMounted
	}

	if !ValidFilename(name) {
		return fmt.Errorf("%w: create %q: bad filename", ErrInvalidParameter, name)
	}

	if s.FileExists(name) {
		return fmt.Errorf("%w: create %q", ErrFileExists, name)
	}

	// The space check is best effort: it is skipped if the query fails.
	if free, err := s.GetFreeSpace(); err == nil && uint64(len(data)) > free {
		return fmt.Errorf("%w: create %q: %d bytes, %d free", ErrDiskFull, name, len(data), free)
	}

	p := drivePath(name)

	f, err := s.engine.Open(p, engine.ModeCreateNew|engine.ModeWrite)
	if err != nil {
		return s.fail("create", name, err)
	}

	n, err := f.Write(data)
	if err != nil || n != len(data) {
		_ = f.Close()

		if unlinkErr := s.engine.Unlink(p); unlinkErr != nil {
			s.log.Warn().Str("file", name).Err(unlinkErr).Msg("removing partial file")
		}

		if err != nil {
			return s.fail("create", name, err)
		}

		return fmt.Errorf("%w: create %q: short write %d of %d bytes", ErrGeneric, name, n, len(data))
	}

	if err := f.Close(); err != nil {
		return s.fail("create", name, err)
	}

	return nil
}

// OpenFile opens an existing file for reading and writing and parks it in a
// free handle slot.
func (s *Store) OpenFile(name string) error {
	if !s.IsMounted() {
		return ErrNotMounted
	}

	if !ValidFilename(name) {
		return fmt.Errorf("%w: open %q: bad filename", ErrInvalidParameter, name)
	}

	if s.find(name) >= 0 {
		return fmt.Errorf("%w: %q", ErrFileAlreadyOpen, name)
	}

	i := s.free()
	if i < 0 {
		return fmt.Errorf("%w: open %q: all %d handles in use", ErrGeneric, name, len(s.handles))
	}

	f, err := s.engine.Open(drivePath(name), engine.ModeRead|engine.ModeWrite)
	if err != nil {
		return s.fail("open", name, err)
	}

	s.handles[i] = handle{name: name, file: f, open: true}

	return nil
}

// CloseFile closes an open file. The handle slot is freed even when the
// engine reports an error.
func (s *Store) CloseFile(name string) error {
	if !ValidFilename(name) {
		return fmt.Errorf("%w: close %q: bad filename", ErrInvalidParameter, name)
	}

	i := s.find(name)
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrFileNotOpen, name)
	}

	if err := s.release(i); err != nil {
		return s.fail("close", name, err)
	}

	return nil
}

// ReadFile reads up to len(buf) bytes at the file's cursor. The returned
// count is what the engine transferred, also when an error is returned.
func (s *Store) ReadFile(name string, buf []byte) (int, error) {
	if !ValidFilename(name) || len(buf) == 0 {
		return 0, fmt.Errorf("%w: read %q", ErrInvalidParameter, name)
	}

	i := s.find(name)
	if i < 0 {
		return 0, fmt.Errorf("%w: %q", ErrFileNotOpen, name)
	}

	n, err := s.handles[i].file.Read(buf)
	if err != nil {
		return n, s.fail("read", name, err)
	}

	return n, nil
}

// WriteFile appends data to an open file and syncs it to the medium.
// Every call appends, wherever the cursor was left.
func (s *Store) WriteFile(name string, data []byte) error {
	if !ValidFilename(name) || len(data) == 0 {
		return fmt.Errorf("%w: write %q", ErrInvalidParameter, name)
	}

	i := s.find(name)
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrFileNotOpen, name)
	}

	f := s.handles[i].file

	size, err := f.Size()
	if err != nil {
		return s.fail("write", name, err)
	}

	if err := f.SeekTo(size); err != nil {
		return s.fail("write", name, err)
	}

	n, err := f.Write(data)
	if err != nil {
		return s.fail("write", name, err)
	}

	if n != len(data) {
		return fmt.Errorf("%w: write %q: %d of %d bytes", ErrDiskFull, name, n, len(data))
	}

	if err := f.Sync(); err != nil {
		return s.fail("sync", name, err)
	}

	return nil
}

// DeleteFile removes name from the drive, closing its handle first if the
// file is open.
func (s *Store) DeleteFile(name string) error {
	if !s.IsMounted() {
		return ErrNotMounted
	}

	if !ValidFilename(name) {
		return fmt.Errorf("%w: delete %q: bad filename", ErrInvalidParameter, name)
	}

	if s.find(name) >= 0 {
		if err := s.CloseFile(name); err != nil {
			s.log.Warn().Str("file", name).Err(err).Msg("closing before delete")
		}
	}

	if err := s.engine.Unlink(drivePath(name)); err != nil {
		return s.fail("delete", name, err)
	}

	return nil
}

// FileExists reports whether name is present. It is false when the drive is
// not mounted or name is invalid.
func (s *Store) FileExists(name string) bool {
	if !s.IsMounted() || !ValidFilename(name) {
		return false
	}

	_, err := s.engine.Stat(drivePath(name))
	if err != nil {
		_ = s.fail("stat", name, err)

		return false
	}

	return true
}

// GetFileSize returns the size of name in bytes.
func (s *Store) GetFileSize(name string) (int64, error) {
	if !s.IsMounted() {
		return 0, ErrNotMounted
	}

	if !ValidFilename(name) {
		return 0, fmt.Errorf("%w: stat %q: bad filename", ErrInvalidParameter, name)
	}

	info, err := s.engine.Stat(drivePath(name))
	if err != nil {
		return 0, s.fail("stat", name, err)
	}

	return info.Size, nil
}

// CloseAllFiles closes every open file. All slots are reclaimed; the first
// close error, if any, is returned.
func (s *Store) CloseAllFiles() error {
	var first error

	for i := range s.handles {
		if !s.handles[i].open {
			continue
		}

		name := s.handles[i].name

		if err := s.release(i); err != nil && first == nil {
			first = s.fail("close", name, err)
		}
	}

	return first
}
