// Package engine defines the boundary to the filesystem engine that sits
// beneath the storage layer, plus two engines: [Volume] backs drive "0:" with
// a host directory, [Memory] is an in-memory removable medium for tests.
//
// The engine is path based. Paths look like "0:/name"; drive 0 is the only
// drive and the root directory is flat.
package engine

import "strings"

// Mode selects the access and the create disposition of [Engine.Open].
type Mode uint8

const (
	ModeRead  Mode = 0x01
	ModeWrite Mode = 0x02

	// ModeOpenExisting fails with NoFile when the file is missing. Zero value.
	ModeOpenExisting Mode = 0x00
	// ModeCreateNew creates a file and fails with Exist if it is present.
	ModeCreateNew Mode = 0x04
	// ModeCreateAlways creates a file, truncating an existing one.
	ModeCreateAlways Mode = 0x08
	// ModeOpenAlways opens a file, creating it if missing.
	ModeOpenAlways Mode = 0x10
	// ModeOpenAppend is ModeOpenAlways with the cursor at end of file.
	ModeOpenAppend Mode = 0x30
)

func (m Mode) writes() bool {
	return m&(ModeWrite|ModeCreateNew|ModeCreateAlways|ModeOpenAlways) != 0
}

// SectorSize is the sector size every engine reports its clusters in.
const SectorSize = 512

// Info describes a file returned by [Engine.Stat].
type Info struct {
	Name string
	Size int64
}

// Engine is the filesystem engine boundary.
//
// Implementations need not be safe for concurrent use; the storage layer
// serializes every call.
type Engine interface {
	// Init prepares the engine. It does not touch the medium.
	Init() error

	// Mount attaches the volume at root ("0:" or "0:/"). With force the
	// medium is probed immediately; without, probing is deferred to first
	// access.
	Mount(root string, force bool) error

	// Unmount detaches the volume. Open files become invalid.
	Unmount(root string) error

	Open(path string, mode Mode) (File, error)
	Stat(path string) (Info, error)
	Unlink(path string) error

	// FreeSpace reports free clusters and the cluster size in sectors.
	FreeSpace(root string) (freeClusters uint64, clusterSectors uint32, err error)
}

// File is an open engine file.
type File interface {
	// Read reads at the cursor. It returns 0, nil at end of file.
	Read(p []byte) (int, error)

	// Write writes at the cursor. A short count with a nil error means the
	// medium is full.
	Write(p []byte) (int, error)

	// SeekTo moves the cursor to an absolute offset.
	SeekTo(offset int64) error

	Size() (int64, error)
	Sync() error
	Close() error
}

// Drive is the only logical drive number.
const Drive = "0"

// splitPath parses "0:/name" (or "0:name") into its file name. An empty name
// addresses the root directory.
func splitPath(path string) (string, error) {
	drive, rest, ok := strings.Cut(path, ":")
	if !ok {
		return "", InvalidName
	}

	if drive != Drive {
		return "", InvalidDrive
	}

	name := strings.TrimPrefix(rest, "/")
	if strings.ContainsAny(name, `/\`) {
		return "", NoPath
	}

	return name, nil
}

func checkRoot(root string) error {
	name, err := splitPath(root)
	if err != nil {
		return err
	}

	if name != "" {
		return InvalidParameter
	}

	return nil
}
