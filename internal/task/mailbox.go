package task

import "sync"

// LogRecord is one sensor reading to be appended to the log file.
type LogRecord struct {
	Temperature float32
	Humidity    float32
	Timestamp   uint32
}

// mailbox is the single-slot staging area between log triggers and the
// worker. It overwrites, it does not queue: a second Put before the worker
// takes the first record replaces it.
//
// queued tracks whether a LogData command for the slot is already in
// flight, so overwrites do not enqueue commands that would find the slot
// empty.
type mailbox struct {
	mu      sync.Mutex
	rec     LogRecord
	hasData bool
	queued  bool
}

// put stores rec and reports whether the caller must enqueue a command.
func (m *mailbox) put(rec LogRecord) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rec = rec
	m.hasData = true

	if m.queued {
		return false
	}

	m.queued = true

	return true
}

// unqueue records that the enqueue promised by put failed. The record
// stays and is delivered with the next trigger.
func (m *mailbox) unqueue() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queued = false
}

// take drains the slot.
func (m *mailbox) take() (LogRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.rec, m.hasData
	m.rec = LogRecord{}
	m.hasData = false
	m.queued = false

	return rec, ok
}
