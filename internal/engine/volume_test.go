package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/calvinalkan/usbstore/internal/fs"
)

func mountedVolume(t *testing.T) (*Volume, *fs.Chaos, string) {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "usb")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}

	chaos := fs.NewChaos(fs.NewReal(), 1, fs.ChaosConfig{})
	v := NewVolume(chaos, dir)

	if err := v.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if err := v.Mount("0:/", true); err != nil {
		t.Fatalf("Mount: %v", err)
	}

	return v, chaos, dir
}

func TestVolume_Init_RequiresDirectory(t *testing.T) {
	v := NewVolume(fs.NewReal(), "")

	if got, want := ResultOf(v.Init()), NotEnabled; got != want {
		t.Fatalf("Init=%v, want=%v", got, want)
	}
}

func TestVolume_Mount_NotReadyWhenDirectoryMissing(t *testing.T) {
	v := NewVolume(fs.NewReal(), filepath.Join(t.TempDir(), "absent"))
	if err := v.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if got, want := ResultOf(v.Mount("0:/", true)), NotReady; got != want {
		t.Fatalf("Mount=%v, want=%v", got, want)
	}

	// A lazy mount succeeds and the first access reports the absence.
	if err := v.Mount("0:/", false); err != nil {
		t.Fatalf("lazy Mount: %v", err)
	}

	if _, err := v.Stat("0:/a.txt"); ResultOf(err) != NotReady {
		t.Fatalf("Stat: err=%v, want NotReady", err)
	}
}

func TestVolume_Mount_NoFilesystemWhenPathIsAFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	v := NewVolume(fs.NewReal(), path)
	_ = v.Init()

	if got, want := ResultOf(v.Mount("0:/", true)), NoFilesystem; got != want {
		t.Fatalf("Mount=%v, want=%v", got, want)
	}
}

func TestVolume_Mount_RequireMountPointRejectsPlainDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "usb")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}

	v := NewVolume(fs.NewReal(), dir, WithRequireMountPoint(true))
	_ = v.Init()

	if got, want := ResultOf(v.Mount("0:/", true)), NotReady; got != want {
		t.Fatalf("Mount=%v, want=%v", got, want)
	}
}

func TestVolume_CreateWriteReadRoundTrip(t *testing.T) {
	v, _, dir := mountedVolume(t)

	f, err := v.Open("0:/a.txt", ModeCreateNew|ModeWrite)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if n, err := f.Write([]byte("hi")); err != nil || n != 2 {
		t.Fatalf("Write=(%d, %v), want (2, nil)", n, err)
	}

	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := v.Open("0:/a.txt", ModeCreateNew|ModeWrite); ResultOf(err) != Exist {
		t.Fatalf("CreateNew on existing: err=%v, want Exist", err)
	}

	f, err = v.Open("0:/a.txt", ModeRead|ModeWrite)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	size, err := f.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}

	if err := f.SeekTo(size); err != nil {
		t.Fatalf("SeekTo: %v", err)
	}

	if _, err := f.Write([]byte("!")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := f.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if got, want := string(data), "hi!"; got != want {
		t.Fatalf("content=%q, want=%q", got, want)
	}

	info, err := v.Stat("0:/a.txt")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}

	if got, want := info.Size, int64(3); got != want {
		t.Fatalf("Size=%d, want=%d", got, want)
	}
}

func TestVolume_Read_ReturnsZeroAtEOF(t *testing.T) {
	v, _, dir := mountedVolume(t)

	if err := os.WriteFile(filepath.Join(dir, "r.txt"), []byte("ab"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	f, err := v.Open("0:/r.txt", ModeRead)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	buf := make([]byte, 4)
	if n, err := f.Read(buf); err != nil || n != 2 {
		t.Fatalf("Read=(%d, %v), want (2, nil)", n, err)
	}

	if n, err := f.Read(buf); err != nil || n != 0 {
		t.Fatalf("Read at EOF=(%d, %v), want (0, nil)", n, err)
	}
}

func TestVolume_MissingFileIsNoFile(t *testing.T) {
	v, _, _ := mountedVolume(t)

	if _, err := v.Stat("0:/nope.txt"); ResultOf(err) != NoFile {
		t.Fatalf("Stat: err=%v, want NoFile", err)
	}

	if err := v.Unlink("0:/nope.txt"); ResultOf(err) != NoFile {
		t.Fatalf("Unlink: err=%v, want NoFile", err)
	}
}

func TestVolume_DetachedMediumIsNotReady(t *testing.T) {
	v, chaos, _ := mountedVolume(t)

	f, err := v.Open("0:/log.csv", ModeCreateNew|ModeWrite)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	chaos.Detach()

	if _, err := f.Write([]byte("x")); ResultOf(err) != NotReady {
		t.Fatalf("Write: err=%v, want NotReady", err)
	}

	if err := f.Close(); ResultOf(err) != NotReady {
		t.Fatalf("Close: err=%v, want NotReady", err)
	}

	if got, want := ResultOf(v.Mount("0:/", true)), NotReady; got != want {
		t.Fatalf("Mount while detached=%v, want=%v", got, want)
	}

	chaos.Attach()

	if err := v.Mount("0:/", true); err != nil {
		t.Fatalf("Mount after attach: %v", err)
	}
}

func TestVolume_RemovedDriveDirectoryReportsNotReady(t *testing.T) {
	v, _, dir := mountedVolume(t)

	if err := os.Remove(dir); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if _, err := v.Stat("0:/a.txt"); ResultOf(err) != NotReady {
		t.Fatalf("Stat: err=%v, want NotReady", err)
	}
}

func TestVolume_ShortWriteOnFullMedium(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "usb")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}

	chaos := fs.NewChaos(fs.NewReal(), 1, fs.ChaosConfig{ShortWriteRate: 1})
	v := NewVolume(chaos, dir)
	_ = v.Init()

	if err := v.Mount("0:/", true); err != nil {
		t.Fatalf("Mount: %v", err)
	}

	f, err := v.Open("0:/full.bin", ModeCreateNew|ModeWrite)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	n, err := f.Write([]byte("abcdef"))
	if err != nil {
		t.Fatalf("Write: err=%v, want nil with short count", err)
	}

	if got, want := n, 3; got != want {
		t.Fatalf("n=%d, want=%d", got, want)
	}
}

func TestVolume_ReadOnlyMediumIsWriteProtected(t *testing.T) {
	v, chaos, _ := mountedVolume(t)
	chaos.SetReadOnly(true)

	if _, err := v.Open("0:/a.txt", ModeCreateNew|ModeWrite); ResultOf(err) != WriteProtected {
		t.Fatalf("Open: err=%v, want WriteProtected", err)
	}
}

func TestVolume_FreeSpaceUsesSectorClusters(t *testing.T) {
	v, _, _ := mountedVolume(t)

	free, csize, err := v.FreeSpace("0:/")
	if err != nil {
		t.Fatalf("FreeSpace: %v", err)
	}

	if csize == 0 {
		t.Fatalf("clusterSectors=0, want > 0")
	}

	if free == 0 {
		t.Fatalf("free clusters=0 on a temp dir, want > 0")
	}
}

func TestVolume_OperationsRequireMount(t *testing.T) {
	v, _, _ := mountedVolume(t)

	if err := v.Unmount("0:/"); err != nil {
		t.Fatalf("Unmount: %v", err)
	}

	if _, err := v.Open("0:/a.txt", ModeRead); ResultOf(err) != NotEnabled {
		t.Fatalf("Open: err=%v, want NotEnabled", err)
	}

	if _, _, err := v.FreeSpace("0:/"); ResultOf(err) != NotEnabled {
		t.Fatalf("FreeSpace: err=%v, want NotEnabled", err)
	}
}
