package engine

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/calvinalkan/usbstore/internal/fs"
)

// Volume is an [Engine] that backs drive "0:" with a host directory, usually
// the mount point of a USB stick.
//
// Device absence is detected from the host: a missing drive directory, a
// detached medium (ENOMEDIUM and friends) or, with RequireMountPoint, a
// directory that is not the root of a mounted filesystem all report NotReady.
type Volume struct {
	fs                fs.FS
	dir               string
	requireMountPoint bool

	initialized bool
	mounted     bool
}

// VolumeOption configures a [Volume].
type VolumeOption func(*Volume)

// WithRequireMountPoint makes Mount fail with NotReady unless the drive
// directory lives on a different device than its parent.
func WithRequireMountPoint(on bool) VolumeOption {
	return func(v *Volume) {
		v.requireMountPoint = on
	}
}

// NewVolume returns a Volume rooted at dir.
func NewVolume(fsys fs.FS, dir string, opts ...VolumeOption) *Volume {
	v := &Volume{fs: fsys, dir: dir}
	for _, opt := range opts {
		opt(v)
	}

	return v
}

// Dir returns the host directory backing the drive.
func (v *Volume) Dir() string {
	return v.dir
}

func (v *Volume) Init() error {
	if v.fs == nil || v.dir == "" {
		return NotEnabled
	}

	v.initialized = true

	return nil
}

func (v *Volume) Mount(root string, force bool) error {
	if err := checkRoot(root); err != nil {
		return err
	}

	if !v.initialized {
		return NotEnabled
	}

	if force {
		if err := v.probe(); err != nil {
			v.mounted = false

			return err
		}
	}

	v.mounted = true

	return nil
}

func (v *Volume) probe() error {
	info, err := v.fs.Stat(v.dir)
	if err != nil {
		r := resultFromErr(err)
		if r == NoFile || r == NoPath {
			return NotReady
		}

		return r
	}

	if !info.IsDir() {
		return NoFilesystem
	}

	if v.requireMountPoint {
		parent, err := v.fs.Stat(filepath.Dir(v.dir))
		if err != nil {
			return resultFromErr(err)
		}

		if sameDevice(info, parent) {
			return NotReady
		}
	}

	return nil
}

func sameDevice(a, b os.FileInfo) bool {
	as, ok := a.Sys().(*syscall.Stat_t)
	if !ok {
		return false
	}

	bs, ok := b.Sys().(*syscall.Stat_t)
	if !ok {
		return false
	}

	return as.Dev == bs.Dev
}

func (v *Volume) Unmount(root string) error {
	if err := checkRoot(root); err != nil {
		return err
	}

	v.mounted = false

	return nil
}

// hostPath resolves an engine path to a host path on a mounted volume.
func (v *Volume) hostPath(path string) (string, error) {
	name, err := splitPath(path)
	if err != nil {
		return "", err
	}

	if !v.mounted {
		return "", NotEnabled
	}

	if name == "" {
		return v.dir, nil
	}

	return filepath.Join(v.dir, name), nil
}

// translate maps a host error, reporting NoFile as NotReady when the drive
// directory itself has gone (the stick was pulled).
func (v *Volume) translate(err error) error {
	r := resultFromErr(err)
	if r == OK {
		return nil
	}

	if r == NoFile || r == NoPath {
		if exists, statErr := v.fs.Exists(v.dir); statErr != nil || !exists {
			return NotReady
		}
	}

	return r
}

func (v *Volume) Open(path string, mode Mode) (File, error) {
	host, err := v.hostPath(path)
	if err != nil {
		return nil, err
	}

	f, err := v.fs.OpenFile(host, openFlags(mode), 0o644)
	if err != nil {
		return nil, v.translate(err)
	}

	vf := &volumeFile{v: v, f: f}

	if mode&ModeOpenAppend == ModeOpenAppend {
		size, err := vf.Size()
		if err == nil {
			err = vf.SeekTo(size)
		}

		if err != nil {
			_ = f.Close()

			return nil, err
		}
	}

	return vf, nil
}

func openFlags(mode Mode) int {
	var flag int

	switch {
	case mode&ModeRead != 0 && mode.writes():
		flag = os.O_RDWR
	case mode.writes():
		flag = os.O_WRONLY
	default:
		flag = os.O_RDONLY
	}

	switch {
	case mode&ModeOpenAppend == ModeOpenAppend, mode&ModeOpenAlways != 0:
		flag |= os.O_CREATE
	case mode&ModeCreateAlways != 0:
		flag |= os.O_CREATE | os.O_TRUNC
	case mode&ModeCreateNew != 0:
		flag |= os.O_CREATE | os.O_EXCL
	}

	return flag
}

func (v *Volume) Stat(path string) (Info, error) {
	host, err := v.hostPath(path)
	if err != nil {
		return Info{}, err
	}

	info, err := v.fs.Stat(host)
	if err != nil {
		return Info{}, v.translate(err)
	}

	return Info{Name: info.Name(), Size: info.Size()}, nil
}

func (v *Volume) Unlink(path string) error {
	host, err := v.hostPath(path)
	if err != nil {
		return err
	}

	if host == v.dir {
		return Denied
	}

	return v.translate(v.fs.Remove(host))
}

// FreeSpace reports the host filesystem's available blocks as clusters.
// Blocks smaller than a sector are folded into one-sector clusters.
func (v *Volume) FreeSpace(root string) (uint64, uint32, error) {
	if err := checkRoot(root); err != nil {
		return 0, 0, err
	}

	if !v.mounted {
		return 0, 0, NotEnabled
	}

	u, err := v.fs.Statfs(v.dir)
	if err != nil {
		return 0, 0, v.translate(err)
	}

	clusterSectors := u.BlockSize / SectorSize
	if clusterSectors == 0 {
		return u.FreeBytes() / SectorSize, 1, nil
	}

	return u.FreeBlocks, uint32(clusterSectors), nil //nolint:gosec // block sizes are small
}

type volumeFile struct {
	v *Volume
	f fs.File
}

func (vf *volumeFile) Read(p []byte) (int, error) {
	n, err := vf.f.Read(p)
	if errors.Is(err, io.EOF) {
		return n, nil
	}

	if err != nil {
		return n, vf.v.translate(err)
	}

	return n, nil
}

func (vf *volumeFile) Write(p []byte) (int, error) {
	n, err := vf.f.Write(p)
	if err != nil {
		if isMediumFull(err) {
			return n, nil
		}

		return n, vf.v.translate(err)
	}

	return n, nil
}

func (vf *volumeFile) SeekTo(offset int64) error {
	if offset < 0 {
		return InvalidParameter
	}

	_, err := vf.f.Seek(offset, io.SeekStart)

	return vf.v.translate(err)
}

func (vf *volumeFile) Size() (int64, error) {
	info, err := vf.f.Stat()
	if err != nil {
		return 0, vf.v.translate(err)
	}

	return info.Size(), nil
}

func (vf *volumeFile) Sync() error {
	return vf.v.translate(vf.f.Sync())
}

func (vf *volumeFile) Close() error {
	return vf.v.translate(vf.f.Close())
}

var (
	_ Engine = (*Volume)(nil)
	_ File   = (*volumeFile)(nil)
)
