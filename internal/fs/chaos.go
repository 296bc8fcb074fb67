package fs

import (
	iofs "io/fs"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
)

// ChaosConfig controls fault injection probabilities.
// Each rate is a float64 from 0.0 (never) to 1.0 (always).
type ChaosConfig struct {
	OpenFailRate   float64 // Fail OpenFile
	ReadFailRate   float64 // Fail Read/ReadFile
	WriteFailRate  float64 // Fail Write/WriteFileAtomic entirely
	ShortWriteRate float64 // Write a prefix, then fail with ENOSPC (medium full)
	SyncFailRate   float64 // Fail Sync
	StatFailRate   float64 // Fail Stat/Exists
	RemoveFailRate float64 // Fail Remove
	StatfsFailRate float64 // Fail Statfs
}

// DefaultChaosConfig returns a config with reasonable fault rates for testing.
func DefaultChaosConfig() ChaosConfig {
	return ChaosConfig{
		OpenFailRate:   0.02,
		ReadFailRate:   0.02,
		WriteFailRate:  0.02,
		ShortWriteRate: 0.03,
		SyncFailRate:   0.01,
		StatFailRate:   0.01,
		RemoveFailRate: 0.02,
		StatfsFailRate: 0.01,
	}
}

// PathState tracks the fault state of a path for consistent error injection.
type PathState int

const (
	// PathNormal means no persistent fault. Zero value.
	PathNormal PathState = iota
	// PathIOError is sticky: the path sits on a bad sector and always returns EIO.
	PathIOError
	// PathReadOnly is sticky for writes: the path returns EROFS.
	PathReadOnly
)

// ChaosMode controls how Chaos applies fault rates.
type ChaosMode uint8

const (
	// ChaosModeInject enables fault-rate injection and sticky path state.
	// It is the default.
	ChaosModeInject ChaosMode = iota

	// ChaosModePassthrough ignores fault rates and sticky path state.
	ChaosModePassthrough

	// ChaosModeStickyOnly applies only sticky path state.
	ChaosModeStickyOnly
)

// Chaos wraps an [FS] and injects the failures a removable medium produces.
//
// Two physical conditions are modelled independently of [ChaosMode]:
//   - [Chaos.Detach]: the medium was pulled. Every operation, including
//     reads and writes on files opened earlier, fails with ENOMEDIUM until
//     [Chaos.Attach].
//   - [Chaos.SetReadOnly]: the write-protect switch is on. Mutating
//     operations fail with EROFS.
//
// Random faults follow [ChaosConfig] only in [ChaosModeInject]. Errors are
// reality-aware: ENOENT is only returned if the file really does not exist.
// All injected errors are *os.PathError values carrying a [syscall.Errno].
type Chaos struct {
	fs     FS
	rng    *rand.Rand
	config ChaosConfig
	mode   atomic.Uint32

	detached atomic.Bool
	readOnly atomic.Bool

	mu         sync.RWMutex
	pathStates map[string]PathState

	openFails   atomic.Int64
	readFails   atomic.Int64
	writeFails  atomic.Int64
	shortWrites atomic.Int64
	syncFails   atomic.Int64
	statFails   atomic.Int64
	removeFails atomic.Int64
	statfsFails atomic.Int64
	detachedOps atomic.Int64
	readOnlyOps atomic.Int64
}

// NewChaos creates a new Chaos filesystem wrapping the given [FS].
// The seed controls random fault injection for reproducibility.
func NewChaos(fs FS, seed int64, config ChaosConfig) *Chaos {
	return &Chaos{
		fs:         fs,
		rng:        rand.New(rand.NewSource(seed)), //nolint:gosec // deterministic test randomness
		config:     config,
		pathStates: make(map[string]PathState),
	}
}

// SetMode updates how fault rates and sticky state are applied.
// It is safe to call concurrently with filesystem operations.
func (c *Chaos) SetMode(m ChaosMode) { c.mode.Store(uint32(m)) }

// Detach simulates pulling the medium.
func (c *Chaos) Detach() { c.detached.Store(true) }

// Attach simulates re-inserting the medium.
func (c *Chaos) Attach() { c.detached.Store(false) }

// Detached reports whether the medium is currently pulled.
func (c *Chaos) Detached() bool { return c.detached.Load() }

// SetReadOnly toggles the write-protect switch.
func (c *Chaos) SetReadOnly(on bool) { c.readOnly.Store(on) }

// ChaosStats contains counts of injected faults.
type ChaosStats struct {
	OpenFails   int64
	ReadFails   int64
	WriteFails  int64
	ShortWrites int64
	SyncFails   int64
	StatFails   int64
	RemoveFails int64
	StatfsFails int64
	DetachedOps int64
	ReadOnlyOps int64
}

// Stats returns the current fault injection counts.
func (c *Chaos) Stats() ChaosStats {
	return ChaosStats{
		OpenFails:   c.openFails.Load(),
		ReadFails:   c.readFails.Load(),
		WriteFails:  c.writeFails.Load(),
		ShortWrites: c.shortWrites.Load(),
		SyncFails:   c.syncFails.Load(),
		StatFails:   c.statFails.Load(),
		RemoveFails: c.removeFails.Load(),
		StatfsFails: c.statfsFails.Load(),
		DetachedOps: c.detachedOps.Load(),
		ReadOnlyOps: c.readOnlyOps.Load(),
	}
}

// PathState returns the current fault state for a path.
func (c *Chaos) PathState(path string) PathState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.pathStates[path]
}

// MarkPath forces a sticky state on path.
func (c *Chaos) MarkPath(path string, state PathState) {
	c.setState(path, state)
}

// ResetAllPathStates clears all fault states.
func (c *Chaos) ResetAllPathStates() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pathStates = make(map[string]PathState)
}

func (c *Chaos) currentMode() ChaosMode {
	return ChaosMode(c.mode.Load())
}

// should returns true with the given probability when chaos is injecting.
func (c *Chaos) should(mode ChaosMode, rate float64) bool {
	if mode != ChaosModeInject {
		return false
	}

	return c.randFloat() < rate
}

func (c *Chaos) randFloat() float64 {
	c.mu.Lock()
	result := c.rng.Float64()
	c.mu.Unlock()

	return result
}

func (c *Chaos) randIntn(n int) int {
	c.mu.Lock()
	result := c.rng.Intn(n)
	c.mu.Unlock()

	return result
}

// sticky returns the path state if sticky state applies in mode.
func (c *Chaos) sticky(mode ChaosMode, path string) PathState {
	if mode == ChaosModePassthrough {
		return PathNormal
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.pathStates[path]
}

func (c *Chaos) setState(path string, state PathState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if state == PathNormal {
		delete(c.pathStates, path)
	} else {
		c.pathStates[path] = state
	}
}

func errToState(err syscall.Errno) PathState {
	switch err {
	case syscall.EIO:
		return PathIOError
	case syscall.EROFS:
		return PathReadOnly
	default:
		return PathNormal
	}
}

// pathError creates an *os.PathError with the given op, path and errno,
// exactly like the OS would, and registers it as injected.
func pathError(op, path string, errno syscall.Errno) error {
	pe := &iofs.PathError{Op: op, Path: path, Err: errno}
	markInjectedPathError(pe)

	return pe
}

// physical checks the detach and write-protect conditions that apply in
// every mode.
func (c *Chaos) physical(op, path string, write bool) error {
	if c.detached.Load() {
		c.detachedOps.Add(1)

		return pathError(op, path, syscall.ENOMEDIUM)
	}

	if write && c.readOnly.Load() {
		c.readOnlyOps.Add(1)

		return pathError(op, path, syscall.EROFS)
	}

	return nil
}

// pickError selects an errno consistent with the real state of path.
func (c *Chaos) pickError(op string, path string) (syscall.Errno, error) {
	var realExists bool

	switch op {
	case "open", "remove", "stat":
		exists, err := c.fs.Exists(path)
		if err != nil {
			return 0, err
		}

		realExists = exists
	}

	var valid []syscall.Errno

	switch op {
	case "open":
		if realExists {
			valid = []syscall.Errno{syscall.EACCES, syscall.EIO, syscall.EMFILE}
		} else {
			valid = []syscall.Errno{syscall.ENOENT, syscall.EACCES, syscall.EIO}
		}
	case "read":
		valid = []syscall.Errno{syscall.EIO}
	case "write":
		valid = []syscall.Errno{syscall.EIO, syscall.ENOSPC, syscall.EROFS}
	case "remove":
		if realExists {
			valid = []syscall.Errno{syscall.EACCES, syscall.EIO, syscall.EBUSY}
		} else {
			valid = []syscall.Errno{syscall.ENOENT}
		}
	case "stat":
		if realExists {
			valid = []syscall.Errno{syscall.EACCES, syscall.EIO}
		} else {
			valid = []syscall.Errno{syscall.ENOENT, syscall.EIO}
		}
	default:
		valid = []syscall.Errno{syscall.EIO}
	}

	errno := valid[c.randIntn(len(valid))]
	c.setState(path, errToState(errno))

	return errno, nil
}

func isWriteFlag(flag int) bool {
	return flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0
}

func (c *Chaos) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	isWrite := isWriteFlag(flag)

	if err := c.physical("open", path, isWrite); err != nil {
		return nil, err
	}

	mode := c.currentMode()

	switch c.sticky(mode, path) {
	case PathIOError:
		c.openFails.Add(1)

		return nil, pathError("open", path, syscall.EIO)
	case PathReadOnly:
		if isWrite {
			c.openFails.Add(1)

			return nil, pathError("open", path, syscall.EROFS)
		}
	}

	if c.should(mode, c.config.OpenFailRate) {
		errno, err := c.pickError("open", path)
		if err != nil {
			return nil, err
		}

		c.openFails.Add(1)

		return nil, pathError("open", path, errno)
	}

	f, err := c.fs.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}

	return &chaosFile{f: f, chaos: c, path: path}, nil
}

func (c *Chaos) ReadFile(path string) ([]byte, error) {
	if err := c.physical("read", path, false); err != nil {
		return nil, err
	}

	mode := c.currentMode()

	if c.sticky(mode, path) == PathIOError {
		c.readFails.Add(1)

		return nil, pathError("read", path, syscall.EIO)
	}

	if c.should(mode, c.config.ReadFailRate) {
		c.readFails.Add(1)

		return nil, pathError("read", path, syscall.EIO)
	}

	return c.fs.ReadFile(path)
}

func (c *Chaos) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := c.physical("write", path, true); err != nil {
		return err
	}

	mode := c.currentMode()

	if c.should(mode, c.config.WriteFailRate) {
		errno, err := c.pickError("write", path)
		if err != nil {
			return err
		}

		c.writeFails.Add(1)

		return pathError("write", path, errno)
	}

	return c.fs.WriteFileAtomic(path, data, perm)
}

func (c *Chaos) MkdirAll(path string, perm os.FileMode) error {
	if err := c.physical("mkdir", path, true); err != nil {
		return err
	}

	return c.fs.MkdirAll(path, perm)
}

func (c *Chaos) Stat(path string) (os.FileInfo, error) {
	if err := c.physical("stat", path, false); err != nil {
		return nil, err
	}

	mode := c.currentMode()

	if c.sticky(mode, path) == PathIOError {
		c.statFails.Add(1)

		return nil, pathError("stat", path, syscall.EIO)
	}

	if c.should(mode, c.config.StatFailRate) {
		errno, err := c.pickError("stat", path)
		if err != nil {
			return nil, err
		}

		c.statFails.Add(1)

		return nil, pathError("stat", path, errno)
	}

	return c.fs.Stat(path)
}

func (c *Chaos) Exists(path string) (bool, error) {
	_, err := c.Stat(path)
	if err == nil {
		return true, nil
	}

	if os.IsNotExist(err) {
		return false, nil
	}

	return false, err
}

func (c *Chaos) Remove(path string) error {
	if err := c.physical("remove", path, true); err != nil {
		return err
	}

	mode := c.currentMode()

	switch c.sticky(mode, path) {
	case PathIOError:
		c.removeFails.Add(1)

		return pathError("remove", path, syscall.EIO)
	case PathReadOnly:
		c.removeFails.Add(1)

		return pathError("remove", path, syscall.EROFS)
	}

	if c.should(mode, c.config.RemoveFailRate) {
		errno, err := c.pickError("remove", path)
		if err != nil {
			return err
		}

		c.removeFails.Add(1)

		return pathError("remove", path, errno)
	}

	return c.fs.Remove(path)
}

func (c *Chaos) Statfs(path string) (Usage, error) {
	if err := c.physical("statfs", path, false); err != nil {
		return Usage{}, err
	}

	if c.should(c.currentMode(), c.config.StatfsFailRate) {
		c.statfsFails.Add(1)

		return Usage{}, pathError("statfs", path, syscall.EIO)
	}

	return c.fs.Statfs(path)
}

// chaosFile wraps a File and injects read/write/sync faults.
type chaosFile struct {
	f     File
	chaos *Chaos
	path  string
}

func (cf *chaosFile) Read(p []byte) (int, error) {
	if err := cf.chaos.physical("read", cf.path, false); err != nil {
		return 0, err
	}

	mode := cf.chaos.currentMode()

	if cf.chaos.sticky(mode, cf.path) == PathIOError {
		cf.chaos.readFails.Add(1)

		return 0, pathError("read", cf.path, syscall.EIO)
	}

	if cf.chaos.should(mode, cf.chaos.config.ReadFailRate) {
		cf.chaos.readFails.Add(1)

		return 0, pathError("read", cf.path, syscall.EIO)
	}

	return cf.f.Read(p)
}

func (cf *chaosFile) Write(p []byte) (int, error) {
	if err := cf.chaos.physical("write", cf.path, true); err != nil {
		return 0, err
	}

	mode := cf.chaos.currentMode()

	switch cf.chaos.sticky(mode, cf.path) {
	case PathIOError:
		cf.chaos.writeFails.Add(1)

		return 0, pathError("write", cf.path, syscall.EIO)
	case PathReadOnly:
		cf.chaos.writeFails.Add(1)

		return 0, pathError("write", cf.path, syscall.EROFS)
	}

	if cf.chaos.should(mode, cf.chaos.config.WriteFailRate) {
		errno, err := cf.chaos.pickError("write", cf.path)
		if err != nil {
			return 0, err
		}

		cf.chaos.writeFails.Add(1)

		return 0, pathError("write", cf.path, errno)
	}

	// Short write: the medium fills up part way through.
	if cf.chaos.should(mode, cf.chaos.config.ShortWriteRate) && len(p) > 1 {
		cf.chaos.shortWrites.Add(1)

		wrote, err := cf.f.Write(p[:len(p)/2])
		if err != nil {
			return wrote, err
		}

		return wrote, pathError("write", cf.path, syscall.ENOSPC)
	}

	return cf.f.Write(p)
}

func (cf *chaosFile) Close() error {
	err := cf.f.Close()

	// The descriptor is released either way; a pulled medium still reports it.
	if physErr := cf.chaos.physical("close", cf.path, false); physErr != nil {
		return physErr
	}

	return err
}

func (cf *chaosFile) Seek(offset int64, whence int) (int64, error) {
	if err := cf.chaos.physical("seek", cf.path, false); err != nil {
		return 0, err
	}

	return cf.f.Seek(offset, whence)
}

func (cf *chaosFile) Fd() uintptr {
	return cf.f.Fd()
}

func (cf *chaosFile) Stat() (os.FileInfo, error) {
	if err := cf.chaos.physical("stat", cf.path, false); err != nil {
		return nil, err
	}

	return cf.f.Stat()
}

func (cf *chaosFile) Sync() error {
	if err := cf.chaos.physical("sync", cf.path, true); err != nil {
		return err
	}

	if cf.chaos.should(cf.chaos.currentMode(), cf.chaos.config.SyncFailRate) {
		cf.chaos.syncFails.Add(1)

		return pathError("sync", cf.path, syscall.EIO)
	}

	return cf.f.Sync()
}

// Compile-time interface checks.
var (
	_ FS   = (*Chaos)(nil)
	_ File = (*chaosFile)(nil)
)
