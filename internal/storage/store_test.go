package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/usbstore/internal/engine"
)

// newMounted returns an initialized, mounted store over a fresh medium of
// 64 one-sector clusters.
func newMounted(t *testing.T, opts ...Option) (*Store, *engine.Memory) {
	t.Helper()

	mem := engine.NewMemory(64, 1)
	s := New(mem, opts...)

	if err := s.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if got, want := s.State(), StateMounted; got != want {
		t.Fatalf("State()=%v, want=%v", got, want)
	}

	return s, mem
}

func readAll(t *testing.T, s *Store, name string) string {
	t.Helper()

	var out []byte

	buf := make([]byte, 3)
	for {
		n, err := s.ReadFile(name, buf)
		if err != nil {
			t.Fatalf("ReadFile(%q): %v", name, err)
		}

		if n == 0 {
			return string(out)
		}

		out = append(out, buf[:n]...)
	}
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

func TestStore_Init_SucceedsWithoutDevice(t *testing.T) {
	mem := engine.NewMemory(64, 1)
	mem.Eject()

	s := New(mem)

	if err := s.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if got, want := s.State(), StateUnmounted; got != want {
		t.Fatalf("State()=%v, want=%v", got, want)
	}
}

func TestStore_Init_FailsWhenEngineInitFails(t *testing.T) {
	mem := engine.NewMemory(64, 1)
	mem.SetInitError(engine.IntErr)

	s := New(mem)

	err := s.Init()
	if !errors.Is(err, ErrGeneric) {
		t.Fatalf("Init: err=%v, want %v", err, ErrGeneric)
	}

	if got, want := s.State(), StateUninitialized; got != want {
		t.Fatalf("State()=%v, want=%v", got, want)
	}

	if s.IsMounted() {
		t.Fatalf("IsMounted()=true before successful Init")
	}
}

func TestStore_Init_IsIdempotent(t *testing.T) {
	s, mem := newMounted(t)

	if err := s.Init(); err != nil {
		t.Fatalf("second Init: %v", err)
	}

	if got, want := mem.MountCalls(), 1; got != want {
		t.Fatalf("MountCalls=%d, want=%d", got, want)
	}
}

func TestStore_Deinit_ClosesFilesAndResets(t *testing.T) {
	s, mem := newMounted(t)
	mem.Put("a.txt", []byte("a"))

	if err := s.OpenFile("a.txt"); err != nil {
		t.Fatalf("OpenFile: %v", err)
	}

	if err := s.Deinit(); err != nil {
		t.Fatalf("Deinit: %v", err)
	}

	if got, want := s.State(), StateUninitialized; got != want {
		t.Fatalf("State()=%v, want=%v", got, want)
	}

	if got := s.OpenFiles(); len(got) != 0 {
		t.Fatalf("OpenFiles()=%v, want empty", got)
	}

	if mem.Mounted() {
		t.Fatalf("engine still mounted after Deinit")
	}

	if err := s.Deinit(); err != nil {
		t.Fatalf("second Deinit: %v", err)
	}
}

func TestStore_IsMounted_AttemptsExactlyOneRemountPerCall(t *testing.T) {
	mem := engine.NewMemory(64, 1)
	mem.Eject()

	s := New(mem)
	if err := s.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	before := mem.MountCalls()

	for i := 1; i <= 5; i++ {
		if s.IsMounted() {
			t.Fatalf("IsMounted()=true with no device")
		}

		if got, want := mem.MountCalls()-before, i; got != want {
			t.Fatalf("mount calls after %d queries=%d, want=%d", i, got, want)
		}

		if got, want := s.State(), StateUnmounted; got != want {
			t.Fatalf("State()=%v, want=%v", got, want)
		}

		if got := s.OpenFiles(); len(got) != 0 {
			t.Fatalf("OpenFiles()=%v, want empty", got)
		}
	}

	mem.Insert()

	if !s.IsMounted() {
		t.Fatalf("IsMounted()=false after Insert")
	}

	calls := mem.MountCalls()
	_ = s.IsMounted()

	if got, want := mem.MountCalls(), calls; got != want {
		t.Fatalf("IsMounted on mounted store called Mount: calls=%d, want=%d", got, want)
	}
}

func TestStore_LazilyDropsMountWhenDeviceDisappears(t *testing.T) {
	s, mem := newMounted(t)
	mem.Put("a.txt", []byte("abc"))

	if err := s.OpenFile("a.txt"); err != nil {
		t.Fatalf("OpenFile: %v", err)
	}

	mem.Eject()

	buf := make([]byte, 8)

	_, err := s.ReadFile("a.txt", buf)
	if !errors.Is(err, ErrNotMounted) {
		t.Fatalf("ReadFile after eject: err=%v, want %v", err, ErrNotMounted)
	}

	if got, want := s.State(), StateUnmounted; got != want {
		t.Fatalf("State()=%v, want=%v", got, want)
	}

	// The stale handle is still reclaimable.
	if err := s.CloseFile("a.txt"); !errors.Is(err, ErrNotMounted) {
		t.Fatalf("CloseFile: err=%v, want %v", err, ErrNotMounted)
	}

	if got := s.OpenFiles(); len(got) != 0 {
		t.Fatalf("OpenFiles()=%v, want empty", got)
	}

	mem.Insert()

	if !s.IsMounted() {
		t.Fatalf("IsMounted()=false after reinsert")
	}

	if err := s.OpenFile("a.txt"); err != nil {
		t.Fatalf("OpenFile after remount: %v", err)
	}

	if got, want := readAll(t, s, "a.txt"), "abc"; got != want {
		t.Fatalf("content=%q, want=%q", got, want)
	}
}

func TestStore_LazyUnmount_OnlyForDeviceLossResults(t *testing.T) {
	tests := []struct {
		result    engine.Result
		wantErr   error
		wantState State
	}{
		{engine.NotReady, ErrNotMounted, StateUnmounted},
		{engine.DiskErr, ErrNotMounted, StateUnmounted},
		{engine.InvalidDrive, ErrGeneric, StateMounted},
		{engine.NotEnabled, ErrGeneric, StateMounted},
		{engine.NoFilesystem, ErrGeneric, StateMounted},
		{engine.Timeout, ErrTimeout, StateMounted},
	}

	for _, tt := range tests {
		t.Run(tt.result.String(), func(t *testing.T) {
			s, mem := newMounted(t)
			mem.Put("a.txt", []byte("abc"))
			mem.FailNext(engine.OpStat, tt.result)

			_, err := s.GetFileSize("a.txt")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("GetFileSize: err=%v, want %v", err, tt.wantErr)
			}

			if got, want := s.State(), tt.wantState; got != want {
				t.Fatalf("State()=%v, want=%v", got, want)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// Free space
// -----------------------------------------------------------------------------

func TestStore_GetFreeSpace(t *testing.T) {
	mem := engine.NewMemory(10, 4)
	s := New(mem)
	require.NoError(t, s.Init())

	free, err := s.GetFreeSpace()
	require.NoError(t, err)
	require.Equal(t, uint64(10*4*512), free)

	mem.Put("one.bin", make([]byte, 1))

	free, err = s.GetFreeSpace()
	require.NoError(t, err)
	require.Equal(t, uint64(9*4*512), free)
}

func TestStore_GetFreeSpace_NotMounted(t *testing.T) {
	mem := engine.NewMemory(10, 1)
	mem.Eject()

	s := New(mem)
	require.NoError(t, s.Init())

	_, err := s.GetFreeSpace()
	require.ErrorIs(t, err, ErrNotMounted)
}

// -----------------------------------------------------------------------------
// CreateFile
// -----------------------------------------------------------------------------

func TestStore_CreateFile_Scenario(t *testing.T) {
	s, _ := newMounted(t)

	require.NoError(t, s.CreateFile("a.txt", []byte("hi")))
	require.True(t, s.FileExists("a.txt"))

	size, err := s.GetFileSize("a.txt")
	require.NoError(t, err)
	require.Equal(t, int64(2), size)
}

func TestStore_CreateFile_ExistingFileIsUntouched(t *testing.T) {
	s, mem := newMounted(t)
	mem.Put("keep.txt", []byte("original"))

	for range 3 {
		err := s.CreateFile("keep.txt", []byte("clobber"))
		if !errors.Is(err, ErrFileExists) {
			t.Fatalf("CreateFile: err=%v, want %v", err, ErrFileExists)
		}
	}

	got, _ := mem.Contents("keep.txt")
	if diff := cmp.Diff("original", string(got)); diff != "" {
		t.Fatalf("contents changed (-want +got):\n%s", diff)
	}
}

func TestStore_CreateFile_ShortWriteLeavesNoFile(t *testing.T) {
	s, mem := newMounted(t)
	mem.ShortWrites(1)

	err := s.CreateFile("partial.bin", []byte("0123456789"))
	if got, want := ResultOf(err), ResultGeneric; got != want {
		t.Fatalf("CreateFile: result=%v (err=%v), want=%v", got, err, want)
	}

	if s.FileExists("partial.bin") {
		t.Fatalf("FileExists(partial.bin)=true after short write")
	}
}

func TestStore_CreateFile_WriteErrorRollsBack(t *testing.T) {
	s, mem := newMounted(t)
	mem.FailNext(engine.OpWrite, engine.Timeout)

	err := s.CreateFile("t.bin", []byte("data"))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("CreateFile: err=%v, want %v", err, ErrTimeout)
	}

	if s.FileExists("t.bin") {
		t.Fatalf("file left behind after failed write")
	}
}

func TestStore_CreateFile_DiskFullBeforeWriting(t *testing.T) {
	mem := engine.NewMemory(2, 1)
	s := New(mem)
	require.NoError(t, s.Init())

	err := s.CreateFile("big.bin", make([]byte, 2000))
	require.ErrorIs(t, err, ErrDiskFull)
	require.Empty(t, mem.Names())
}

func TestStore_CreateFile_SkipsSpaceCheckWhenQueryFails(t *testing.T) {
	s, mem := newMounted(t)
	mem.FailNext(engine.OpFreeSpace, engine.IntErr)

	require.NoError(t, s.CreateFile("ok.txt", []byte("x")))
}

func TestStore_CreateFile_EmptyDataCreatesEmptyFile(t *testing.T) {
	s, _ := newMounted(t)

	require.NoError(t, s.CreateFile("empty.txt", nil))

	size, err := s.GetFileSize("empty.txt")
	require.NoError(t, err)
	require.Zero(t, size)
}

func TestStore_CreateFile_Validation(t *testing.T) {
	s, _ := newMounted(t)

	require.ErrorIs(t, s.CreateFile("bad/name", []byte("x")), ErrInvalidParameter)
	require.ErrorIs(t, s.CreateFile("", []byte("x")), ErrInvalidParameter)
}

func TestStore_CreateFile_WriteProtected(t *testing.T) {
	s, mem := newMounted(t)
	mem.SetReadOnly(true)

	require.ErrorIs(t, s.CreateFile("w.txt", []byte("x")), ErrWriteProtected)
}

func TestStore_Operations_NotMounted(t *testing.T) {
	mem := engine.NewMemory(64, 1)
	mem.Eject()

	s := New(mem)
	require.NoError(t, s.Init())

	require.ErrorIs(t, s.CreateFile("a.txt", []byte("x")), ErrNotMounted)
	require.ErrorIs(t, s.OpenFile("a.txt"), ErrNotMounted)
	require.ErrorIs(t, s.DeleteFile("a.txt"), ErrNotMounted)
	require.False(t, s.FileExists("a.txt"))

	_, err := s.GetFileSize("a.txt")
	require.ErrorIs(t, err, ErrNotMounted)
}

// -----------------------------------------------------------------------------
// Handle table
// -----------------------------------------------------------------------------

func TestStore_OpenFile_TwiceIsAlreadyOpen(t *testing.T) {
	s, mem := newMounted(t)
	mem.Put("a.txt", nil)

	require.NoError(t, s.OpenFile("a.txt"))

	for range 3 {
		require.ErrorIs(t, s.OpenFile("a.txt"), ErrFileAlreadyOpen)
	}

	require.Equal(t, []string{"a.txt"}, s.OpenFiles())
}

func TestStore_OpenFile_MissingIsNotFound(t *testing.T) {
	s, _ := newMounted(t)

	require.ErrorIs(t, s.OpenFile("nope.txt"), ErrFileNotFound)
	require.Empty(t, s.OpenFiles())
}

func TestStore_HandleTable_NeverExceedsCapacity(t *testing.T) {
	s, mem := newMounted(t)

	names := make([]string, 0, MaxOpenFiles+1)
	for i := range MaxOpenFiles + 1 {
		name := fmt.Sprintf("f%d.txt", i)
		mem.Put(name, []byte(name))
		names = append(names, name)
	}

	for _, name := range names[:MaxOpenFiles] {
		require.NoError(t, s.OpenFile(name))
	}

	err := s.OpenFile(names[MaxOpenFiles])
	require.Equal(t, ResultGeneric, ResultOf(err), "err=%v", err)
	require.Equal(t, names[:MaxOpenFiles], s.OpenFiles())

	// Existing handles stay usable.
	for _, name := range names[:MaxOpenFiles] {
		require.Equal(t, name, readAll(t, s, name))
	}

	require.NoError(t, s.CloseFile(names[0]))
	require.NoError(t, s.OpenFile(names[MaxOpenFiles]))
	require.Equal(t, append([]string{names[MaxOpenFiles]}, names[1:MaxOpenFiles]...), s.OpenFiles())
}

func TestStore_WithCapacity(t *testing.T) {
	s, mem := newMounted(t, WithCapacity(1))
	mem.Put("a", nil)
	mem.Put("b", nil)

	require.Equal(t, 1, s.Capacity())
	require.NoError(t, s.OpenFile("a"))
	require.ErrorIs(t, s.OpenFile("b"), ErrGeneric)
}

func TestStore_CloseFile_NotOpen(t *testing.T) {
	s, _ := newMounted(t)

	require.ErrorIs(t, s.CloseFile("never.txt"), ErrFileNotOpen)
	require.ErrorIs(t, s.CloseFile("bad:name"), ErrInvalidParameter)
}

func TestStore_CloseFile_FreesSlotOnEngineError(t *testing.T) {
	s, mem := newMounted(t)
	mem.Put("a.txt", nil)

	require.NoError(t, s.OpenFile("a.txt"))

	mem.FailNext(engine.OpClose, engine.IntErr)

	err := s.CloseFile("a.txt")
	require.ErrorIs(t, err, ErrGeneric)
	require.Empty(t, s.OpenFiles())
	require.ErrorIs(t, s.CloseFile("a.txt"), ErrFileNotOpen)
	require.NoError(t, s.OpenFile("a.txt"))
}

func TestStore_CloseAllFiles_ReclaimsEverySlotAndReturnsFirstError(t *testing.T) {
	s, mem := newMounted(t)

	for _, name := range []string{"a", "b", "c"} {
		mem.Put(name, nil)
		require.NoError(t, s.OpenFile(name))
	}

	mem.FailNext(engine.OpClose, engine.Timeout)

	err := s.CloseAllFiles()
	require.ErrorIs(t, err, ErrTimeout)
	require.Empty(t, s.OpenFiles())

	require.NoError(t, s.CloseAllFiles())
}

// -----------------------------------------------------------------------------
// Read / Write
// -----------------------------------------------------------------------------

func TestStore_WriteFile_AlwaysAppends(t *testing.T) {
	s, _ := newMounted(t)

	require.NoError(t, s.CreateFile("ab.txt", nil))
	require.NoError(t, s.OpenFile("ab.txt"))
	require.NoError(t, s.WriteFile("ab.txt", []byte("A")))
	require.NoError(t, s.WriteFile("ab.txt", []byte("B")))
	require.NoError(t, s.CloseFile("ab.txt"))

	require.NoError(t, s.OpenFile("ab.txt"))
	require.Equal(t, "AB", readAll(t, s, "ab.txt"))
}

func TestStore_WriteFile_AppendsEvenAfterReadMovedCursor(t *testing.T) {
	s, mem := newMounted(t)
	mem.Put("log.txt", []byte("0123456789"))

	require.NoError(t, s.OpenFile("log.txt"))

	n, err := s.ReadFile("log.txt", make([]byte, 2))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	require.NoError(t, s.WriteFile("log.txt", []byte("X")))

	got, _ := mem.Contents("log.txt")
	require.Equal(t, "0123456789X", string(got))
}

func TestStore_WriteFile_Validation(t *testing.T) {
	s, mem := newMounted(t)
	mem.Put("a.txt", nil)
	require.NoError(t, s.OpenFile("a.txt"))

	require.ErrorIs(t, s.WriteFile("a.txt", nil), ErrInvalidParameter)
	require.ErrorIs(t, s.WriteFile("a.txt", []byte{}), ErrInvalidParameter)
	require.ErrorIs(t, s.WriteFile("b.txt", []byte("x")), ErrFileNotOpen)
}

func TestStore_WriteFile_ShortIsDiskFull(t *testing.T) {
	s, mem := newMounted(t)
	mem.Put("a.txt", nil)
	require.NoError(t, s.OpenFile("a.txt"))

	mem.ShortWrites(1)

	require.ErrorIs(t, s.WriteFile("a.txt", []byte("abcd")), ErrDiskFull)
}

func TestStore_WriteFile_SyncFailureIsReported(t *testing.T) {
	s, mem := newMounted(t)
	mem.Put("a.txt", nil)
	require.NoError(t, s.OpenFile("a.txt"))

	mem.FailNext(engine.OpSync, engine.Timeout)

	require.ErrorIs(t, s.WriteFile("a.txt", []byte("x")), ErrTimeout)
}

func TestStore_ReadFile_Validation(t *testing.T) {
	s, mem := newMounted(t)
	mem.Put("a.txt", []byte("x"))
	require.NoError(t, s.OpenFile("a.txt"))

	_, err := s.ReadFile("a.txt", nil)
	require.ErrorIs(t, err, ErrInvalidParameter)

	_, err = s.ReadFile("b.txt", make([]byte, 1))
	require.ErrorIs(t, err, ErrFileNotOpen)
}

func TestStore_ReadFile_ReportsCountAlongsideError(t *testing.T) {
	s, mem := newMounted(t)
	mem.Put("a.txt", []byte("xyz"))
	require.NoError(t, s.OpenFile("a.txt"))

	mem.FailNext(engine.OpRead, engine.DiskErr)

	n, err := s.ReadFile("a.txt", make([]byte, 3))
	require.ErrorIs(t, err, ErrNotMounted)
	require.Zero(t, n)
}

// -----------------------------------------------------------------------------
// Delete / Exists / Size
// -----------------------------------------------------------------------------

func TestStore_DeleteFile_ClosesOpenHandle(t *testing.T) {
	s, mem := newMounted(t)
	mem.Put("d.txt", []byte("x"))

	require.NoError(t, s.OpenFile("d.txt"))
	require.NoError(t, s.DeleteFile("d.txt"))
	require.Empty(t, s.OpenFiles())
	require.ErrorIs(t, s.OpenFile("d.txt"), ErrFileNotFound)
}

func TestStore_DeleteFile_MissingIsNotFound(t *testing.T) {
	s, _ := newMounted(t)

	require.ErrorIs(t, s.DeleteFile("gone.txt"), ErrFileNotFound)
	require.ErrorIs(t, s.DeleteFile("bad*name"), ErrInvalidParameter)
}

func TestStore_FileExists_And_GetFileSize(t *testing.T) {
	s, mem := newMounted(t)
	mem.Put("x.bin", make([]byte, 7))

	require.True(t, s.FileExists("x.bin"))
	require.False(t, s.FileExists("y.bin"))
	require.False(t, s.FileExists("bad?name"))

	size, err := s.GetFileSize("x.bin")
	require.NoError(t, err)
	require.Equal(t, int64(7), size)

	_, err = s.GetFileSize("y.bin")
	require.ErrorIs(t, err, ErrFileNotFound)

	_, err = s.GetFileSize("bad|name")
	require.ErrorIs(t, err, ErrInvalidParameter)
}
