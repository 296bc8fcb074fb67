package engine

import (
	"sort"
	"sync"
)

// Op names an engine operation for [Memory.FailNext].
type Op string

const (
	OpMount     Op = "mount"
	OpUnmount   Op = "unmount"
	OpOpen      Op = "open"
	OpRead      Op = "read"
	OpWrite     Op = "write"
	OpSeek      Op = "seek"
	OpSync      Op = "sync"
	OpClose     Op = "close"
	OpStat      Op = "stat"
	OpUnlink    Op = "unlink"
	OpFreeSpace Op = "freespace"
)

// Memory is an in-memory removable medium. Contents survive Eject/Insert,
// like a stick that is pulled and plugged back in.
//
// Space is accounted in clusters: every non-empty file occupies
// ceil(size/clusterBytes) clusters. A write that does not fit transfers what
// does and reports a short count.
//
// Memory is safe for concurrent use so tests can eject the medium from
// another goroutine while a worker is running.
type Memory struct {
	mu sync.Mutex

	totalClusters  uint64
	clusterSectors uint32
	files          map[string][]byte

	present     bool
	readOnly    bool
	initErr     error
	initialized bool
	mounted     bool
	generation  int

	failNext    map[Op]Result
	shortWrites int
	mountCalls  int
}

// NewMemory returns an inserted, empty medium of totalClusters clusters of
// clusterSectors sectors each.
func NewMemory(totalClusters uint64, clusterSectors uint32) *Memory {
	if clusterSectors == 0 {
		clusterSectors = 1
	}

	return &Memory{
		totalClusters:  totalClusters,
		clusterSectors: clusterSectors,
		files:          make(map[string][]byte),
		present:        true,
		failNext:       make(map[Op]Result),
	}
}

// Eject pulls the medium. The volume drops its mount and every open file
// becomes invalid.
func (m *Memory) Eject() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.present = false
	m.mounted = false
	m.generation++
}

// Insert plugs the medium back in. It still has to be mounted.
func (m *Memory) Insert() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.present = true
}

// SetReadOnly toggles the write-protect switch.
func (m *Memory) SetReadOnly(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.readOnly = on
}

// SetInitError makes Init fail with err.
func (m *Memory) SetInitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.initErr = err
}

// FailNext makes the next call of op fail with r.
func (m *Memory) FailNext(op Op, r Result) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failNext[op] = r
}

// ShortWrites makes the next n writes transfer only half their data.
func (m *Memory) ShortWrites(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.shortWrites = n
}

// MountCalls returns how many times Mount was called.
func (m *Memory) MountCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.mountCalls
}

// Mounted reports whether the volume is currently mounted.
func (m *Memory) Mounted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.mounted
}

// Put stores a file directly on the medium, bypassing the mount.
func (m *Memory) Put(name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.files[name] = append([]byte(nil), data...)
}

// Contents returns a copy of a file's data, bypassing the mount.
func (m *Memory) Contents(name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.files[name]
	if !ok {
		return nil, false
	}

	return append([]byte(nil), data...), true
}

// Names lists the files on the medium in lexical order.
func (m *Memory) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.files))
	for name := range m.files {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// takeFault consumes a pending forced failure for op. Callers hold mu.
func (m *Memory) takeFault(op Op) error {
	r, ok := m.failNext[op]
	if !ok {
		return nil
	}

	delete(m.failNext, op)

	return r
}

// ready checks the medium for a volume-level operation. Callers hold mu.
func (m *Memory) ready(op Op) error {
	if err := m.takeFault(op); err != nil {
		return err
	}

	if !m.present {
		return NotReady
	}

	if !m.mounted {
		return NotEnabled
	}

	return nil
}

func (m *Memory) clusterBytes() int64 {
	return int64(m.clusterSectors) * SectorSize
}

func (m *Memory) clustersFor(size int64) uint64 {
	cb := m.clusterBytes()

	return uint64((size + cb - 1) / cb) //nolint:gosec // sizes are never negative
}

func (m *Memory) usedClusters() uint64 {
	var used uint64
	for _, data := range m.files {
		used += m.clustersFor(int64(len(data)))
	}

	return used
}

func (m *Memory) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initErr != nil {
		return m.initErr
	}

	m.initialized = true

	return nil
}

func (m *Memory) Mount(root string, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.mountCalls++

	if err := checkRoot(root); err != nil {
		return err
	}

	if !m.initialized {
		return NotEnabled
	}

	if err := m.takeFault(OpMount); err != nil {
		m.mounted = false

		return err
	}

	if !m.present {
		return NotReady
	}

	m.mounted = true

	return nil
}

func (m *Memory) Unmount(root string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := checkRoot(root); err != nil {
		return err
	}

	if err := m.takeFault(OpUnmount); err != nil {
		return err
	}

	if m.mounted {
		m.mounted = false
		m.generation++
	}

	return nil
}

func (m *Memory) Open(path string, mode Mode) (File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name, err := splitPath(path)
	if err != nil {
		return nil, err
	}

	if err := m.ready(OpOpen); err != nil {
		return nil, err
	}

	if name == "" {
		return nil, InvalidName
	}

	if mode.writes() && m.readOnly {
		return nil, WriteProtected
	}

	_, exists := m.files[name]

	switch {
	case mode&ModeOpenAppend == ModeOpenAppend, mode&ModeOpenAlways != 0:
		if !exists {
			m.files[name] = nil
		}
	case mode&ModeCreateAlways != 0:
		m.files[name] = nil
	case mode&ModeCreateNew != 0:
		if exists {
			return nil, Exist
		}

		m.files[name] = nil
	default:
		if !exists {
			return nil, NoFile
		}
	}

	f := &memoryFile{m: m, name: name, mode: mode, gen: m.generation}
	if mode&ModeOpenAppend == ModeOpenAppend {
		f.pos = int64(len(m.files[name]))
	}

	return f, nil
}

func (m *Memory) Stat(path string) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name, err := splitPath(path)
	if err != nil {
		return Info{}, err
	}

	if err := m.ready(OpStat); err != nil {
		return Info{}, err
	}

	data, ok := m.files[name]
	if !ok {
		return Info{}, NoFile
	}

	return Info{Name: name, Size: int64(len(data))}, nil
}

func (m *Memory) Unlink(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name, err := splitPath(path)
	if err != nil {
		return err
	}

	if err := m.ready(OpUnlink); err != nil {
		return err
	}

	if m.readOnly {
		return WriteProtected
	}

	if _, ok := m.files[name]; !ok {
		return NoFile
	}

	delete(m.files, name)

	return nil
}

func (m *Memory) FreeSpace(root string) (uint64, uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := checkRoot(root); err != nil {
		return 0, 0, err
	}

	if err := m.ready(OpFreeSpace); err != nil {
		return 0, 0, err
	}

	used := m.usedClusters()
	if used >= m.totalClusters {
		return 0, m.clusterSectors, nil
	}

	return m.totalClusters - used, m.clusterSectors, nil
}

type memoryFile struct {
	m      *Memory
	name   string
	mode   Mode
	gen    int
	pos    int64
	closed bool
}

// check validates the file for op. Callers hold m.mu.
func (f *memoryFile) check(op Op) error {
	if f.closed {
		return InvalidObject
	}

	if err := f.m.takeFault(op); err != nil {
		return err
	}

	if f.gen != f.m.generation || !f.m.present {
		return NotReady
	}

	if _, ok := f.m.files[f.name]; !ok {
		return InvalidObject
	}

	return nil
}

func (f *memoryFile) Read(p []byte) (int, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()

	if err := f.check(OpRead); err != nil {
		return 0, err
	}

	if f.mode&ModeRead == 0 {
		return 0, Denied
	}

	data := f.m.files[f.name]
	if f.pos >= int64(len(data)) {
		return 0, nil
	}

	n := copy(p, data[f.pos:])
	f.pos += int64(n)

	return n, nil
}

func (f *memoryFile) Write(p []byte) (int, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()

	if err := f.check(OpWrite); err != nil {
		return 0, err
	}

	if !f.mode.writes() {
		return 0, Denied
	}

	if f.m.readOnly {
		return 0, WriteProtected
	}

	want := p
	if f.m.shortWrites > 0 {
		f.m.shortWrites--
		want = p[:len(p)/2]
	}

	data := f.m.files[f.name]
	end := f.pos + int64(len(want))

	if grow := end - int64(len(data)); grow > 0 {
		room := f.room(data)
		if grow > room {
			want = want[:int64(len(want))-(grow-room)]
			end = f.pos + int64(len(want))
		}
	}

	if end > int64(len(data)) {
		data = append(data, make([]byte, end-int64(len(data)))...)
	}

	n := copy(data[f.pos:], want)
	f.m.files[f.name] = data
	f.pos += int64(n)

	return n, nil
}

// room is how many bytes the file can grow by: the slack in its last
// cluster plus every free cluster. Callers hold m.mu.
func (f *memoryFile) room(data []byte) int64 {
	used := f.m.usedClusters()

	var free uint64
	if used < f.m.totalClusters {
		free = f.m.totalClusters - used
	}

	cb := f.m.clusterBytes()
	slack := int64(f.m.clustersFor(int64(len(data))))*cb - int64(len(data)) //nolint:gosec // small

	return slack + int64(free)*cb //nolint:gosec // small
}

func (f *memoryFile) SeekTo(offset int64) error {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()

	if err := f.check(OpSeek); err != nil {
		return err
	}

	if offset < 0 {
		return InvalidParameter
	}

	f.pos = min(offset, int64(len(f.m.files[f.name])))

	return nil
}

func (f *memoryFile) Size() (int64, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()

	if err := f.check(OpStat); err != nil {
		return 0, err
	}

	return int64(len(f.m.files[f.name])), nil
}

func (f *memoryFile) Sync() error {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()

	return f.check(OpSync)
}

// Close invalidates the file even when it reports an error.
func (f *memoryFile) Close() error {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()

	if f.closed {
		return InvalidObject
	}

	f.closed = true

	if err := f.m.takeFault(OpClose); err != nil {
		return err
	}

	if f.gen != f.m.generation || !f.m.present {
		return NotReady
	}

	return nil
}

var (
	_ Engine = (*Memory)(nil)
	_ File   = (*memoryFile)(nil)
)
