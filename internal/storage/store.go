// Package storage is the access layer between the application and the
// filesystem engine.
//
// A [Store] owns the mount state machine and a fixed table of open-file
// handles addressed by filename. It is not safe for concurrent use: every
// call must come from the one worker that owns the store.
package storage

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/calvinalkan/usbstore/internal/engine"
)

const (
	// MaxFilenameLen bounds filenames; valid names are strictly shorter.
	MaxFilenameLen = 32
	// MaxOpenFiles is the default handle table capacity.
	MaxOpenFiles = 4
	// SectorSize is the byte size of an engine sector.
	SectorSize = engine.SectorSize
	// Drive is the logical drive every path lives on.
	Drive = "0:"
	// DriveRoot is prefixed to every filename.
	DriveRoot = Drive + "/"
)

// State is the mount state of a [Store].
type State int

const (
	StateUninitialized State = iota
	StateUnmounted
	StateMounted
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateUnmounted:
		return "unmounted"
	case StateMounted:
		return "mounted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Store mediates every file operation on the drive.
type Store struct {
	engine engine.Engine
	log    zerolog.Logger

	handles     []handle
	initialized bool
	mounted     bool
}

// Option configures a [Store].
type Option func(*Store)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) {
		s.log = l
	}
}

// WithCapacity sets the handle table size. Values below 1 are ignored.
func WithCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.handles = make([]handle, n)
		}
	}
}

// New returns an uninitialized store on top of e.
func New(e engine.Engine, opts ...Option) *Store {
	s := &Store{
		engine:  e,
		log:     zerolog.Nop(),
		handles: make([]handle, MaxOpenFiles),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// State returns the current mount state without probing the engine.
func (s *Store) State() State {
	switch {
	case !s.initialized:
		return StateUninitialized
	case s.mounted:
		return StateMounted
	default:
		return StateUnmounted
	}
}

// Init clears the handle table, initializes the engine and tries to mount.
// A failed mount is not an error: the device may not be plugged in yet.
// Init is a no-op once initialized.
func (s *Store) Init() error {
	if s.initialized {
		return nil
	}

	for i := range s.handles {
		s.handles[i] = handle{}
	}

	if err := s.engine.Init(); err != nil {
		return fmt.Errorf("%w: engine init: %w", ErrGeneric, err)
	}

	if err := s.engine.Mount(DriveRoot, true); err != nil {
		s.mounted = false
		s.log.Info().Err(err).Msg("drive not mounted at init")
	} else {
		s.mounted = true
	}

	s.initialized = true

	return nil
}

// Deinit closes every open file, unmounts and returns to the uninitialized
// state. Close and unmount failures are logged, not returned.
func (s *Store) Deinit() error {
	if !s.initialized {
		return nil
	}

	if err := s.CloseAllFiles(); err != nil {
		s.log.Warn().Err(err).Msg("closing files on deinit")
	}

	if err := s.engine.Unmount(DriveRoot); err != nil {
		s.log.Warn().Err(err).Msg("unmounting on deinit")
	}

	s.mounted = false
	s.initialized = false

	return nil
}

// IsMounted reports whether the drive is mounted. When it is not, IsMounted
// makes exactly one mount attempt first, so every status query doubles as a
// reconnection attempt. It returns false before Init.
func (s *Store) IsMounted() bool {
	if !s.initialized {
		return false
	}

	if !s.mounted {
		if err := s.engine.Mount(DriveRoot, true); err == nil {
			s.mounted = true
			s.log.Info().Msg("drive remounted")
		}
	}

	return s.mounted
}

// fail wraps an engine error into the taxonomy. A result meaning the device
// went away drops the store to unmounted so the next IsMounted remounts.
func (s *Store) fail(op, name string, err error) error {
	sentinel := translate(err)

	if sentinel == ErrNotMounted && s.mounted {
		s.mounted = false
		s.log.Warn().Str("op", op).Str("file", name).Err(err).Msg("drive lost")
	}

	if name == "" {
		return fmt.Errorf("%w: %s: %w", sentinel, op, err)
	}

	return fmt.Errorf("%w: %s %q: %w", sentinel, op, name, err)
}

// GetFreeSpace returns the free bytes on the drive.
func (s *Store) GetFreeSpace() (uint64, error) {
	if !s.IsMounted() {
		return 0, ErrNotMounted
	}

	clusters, clusterSectors, err := s.engine.FreeSpace(DriveRoot)
	if err != nil {
		return 0, s.fail("free space", "", err)
	}

	return clusters * uint64(clusterSectors) * SectorSize, nil
}
