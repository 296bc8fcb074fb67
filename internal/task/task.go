// Package task runs the storage worker.
//
// A [Task] owns a [storage.Store] and is the only goroutine that touches it.
// Callers hand it work through a bounded command queue: triggers enqueue
// commands without doing any I/O, and [Task.Do] runs a function against the
// store on the worker and waits for the result.
package task

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/calvinalkan/usbstore/internal/storage"
)

var (
	// ErrStopped is returned to callers whose request could not be served
	// because the worker has exited.
	ErrStopped = errors.New("storage task stopped")

	// ErrUnsupported is returned for commands without a handler.
	ErrUnsupported = errors.New("unsupported command")
)

// Config holds the worker's timing and file settings.
type Config struct {
	MountTimeout     time.Duration
	PollInterval     time.Duration
	ProgressInterval time.Duration
	// StatusInterval is the period of the connect/disconnect check in Run.
	// Zero disables it.
	StatusInterval time.Duration
	QueueDepth     int

	LogFile       string
	TempFile      string
	TempFileLimit int64
	LowSpace      uint64
}

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{
		MountTimeout:     30 * time.Second,
		PollInterval:     500 * time.Millisecond,
		ProgressInterval: 5 * time.Second,
		StatusInterval:   2 * time.Second,
		QueueDepth:       8,
		LogFile:          "sensors.csv",
		TempFile:         "temp_file.txt",
		TempFileLimit:    1024,
		LowSpace:         1024,
	}
}

// Stats is a snapshot of worker counters. Safe to read from any goroutine.
type Stats struct {
	TestRuns      int64
	LoggedRecords int64
	Mounted       bool
}

// Task is the storage worker.
type Task struct {
	store   *storage.Store
	queue   *Queue
	cfg     Config
	log     zerolog.Logger
	metrics *Metrics

	pending mailbox

	// Worker-only state.
	initialized bool
	lastMounted bool

	testRuns atomic.Int64
	logged   atomic.Int64
	mounted  atomic.Bool

	done chan struct{}
}

// Option configures a [Task].
type Option func(*Task)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(t *Task) {
		t.log = l
	}
}

// WithMetrics sets the collectors. The default is an unregistered set.
func WithMetrics(m *Metrics) Option {
	return func(t *Task) {
		if m != nil {
			t.metrics = m
		}
	}
}

// New creates a worker for store. Zero fields in cfg take their defaults.
func New(store *storage.Store, cfg Config, opts ...Option) *Task {
	cfg = withDefaults(cfg)

	t := &Task{
		store: store,
		queue: NewQueue(cfg.QueueDepth),
		cfg:   cfg,
		log:   zerolog.Nop(),
		done:  make(chan struct{}),
	}

	for _, opt := range opts {
		opt(t)
	}

	if t.metrics == nil {
		t.metrics = NewMetrics(nil)
	}

	return t
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}

	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = def.ProgressInterval
	}

	if cfg.MountTimeout < 0 {
		cfg.MountTimeout = 0
	}

	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = def.QueueDepth
	}

	if cfg.LogFile == "" {
		cfg.LogFile = def.LogFile
	}

	if cfg.TempFile == "" {
		cfg.TempFile = def.TempFile
	}

	return cfg
}

// Config returns the effective configuration.
func (t *Task) Config() Config {
	return t.cfg
}

// Stats returns the current counters.
func (t *Task) Stats() Stats {
	return Stats{
		TestRuns:      t.testRuns.Load(),
		LoggedRecords: t.logged.Load(),
		Mounted:       t.mounted.Load(),
	}
}

// Pending reports how many commands are queued.
func (t *Task) Pending() int {
	return t.queue.Len()
}

// Run initializes the store, waits for the drive and then serves commands
// until ctx is done. On exit the store is deinitialized, queued requests
// from [Task.Do] fail with [ErrStopped], and ctx.Err() is returned.
//
// With a positive StatusInterval the mount state is also checked on a
// ticker. That check remounts a returning drive, but it reports a
// disconnect only after an operation has failed on the pulled drive.
//
// Run must be called at most once.
func (t *Task) Run(ctx context.Context) error {
	defer close(t.done)

	_ = t.initialize(ctx) // logged

	var status <-chan time.Time

	if t.cfg.StatusInterval > 0 {
		ticker := time.NewTicker(t.cfg.StatusInterval)
		defer ticker.Stop()

		status = ticker.C
	}

	for {
		select {
		case cm := <-t.queue.ch:
			t.HandleCommand(ctx, &cm)
		case <-status:
			t.CheckStatus()
		case <-ctx.Done():
			t.shutdown()

			return ctx.Err()
		}
	}
}

// Step receives one command and handles it. It is the body of Run's loop
// for callers that drive the worker themselves; it must not be used while
// Run is active.
func (t *Task) Step(ctx context.Context) error {
	cm, err := t.queue.Receive(ctx)
	if err != nil {
		return err
	}

	t.HandleCommand(ctx, &cm)

	return nil
}

func (t *Task) shutdown() {
	for {
		cm, ok := t.queue.tryReceive()
		if !ok {
			break
		}

		if cm.reply != nil {
			cm.reply <- ErrStopped
		}

		cm.Reset()
	}

	if err := t.store.Deinit(); err != nil {
		t.log.Warn().Err(err).Msg("storage deinit")
	}

	t.initialized = false
	t.lastMounted = false
	t.mounted.Store(false)
	t.metrics.Mounted.Set(0)
	t.log.Info().Msg("storage task stopped")
}

// HandleCommand dispatches cm and always resets it before returning.
// Handler failures are logged and never stop the worker.
func (t *Task) HandleCommand(ctx context.Context, cm *Command) {
	defer cm.Reset()

	t.metrics.Commands.WithLabelValues(cm.Op.String()).Inc()

	switch cm.Class {
	case ClassGlobal:
		if cm.Op != GlobalExec || cm.exec == nil {
			t.log.Warn().Stringer("class", cm.Class).Stringer("op", cm.Op).Msg("unsupported global command")
			t.reply(cm, ErrUnsupported)

			return
		}

		t.reply(cm, cm.exec(t.store))
	case ClassTaskSpecific:
		h, ok := handlers[cm.Op]
		if !ok {
			t.log.Warn().Stringer("op", cm.Op).Msg("unknown task command")

			return
		}

		err := h(t, ctx)

		switch {
		case errors.Is(err, errNotReady):
			t.log.Info().Stringer("op", cm.Op).Msg("storage not ready, command skipped")
		case err != nil:
			t.log.Warn().Err(err).Stringer("op", cm.Op).Msg("command failed")
		}
	default:
		t.log.Warn().Stringer("class", cm.Class).Msg("unsupported command class")
	}
}

func (t *Task) reply(cm *Command, err error) {
	if cm.reply == nil {
		return
	}

	select {
	case cm.reply <- err:
	default:
	}
}

// Do runs fn against the store on the worker and returns its error.
// It fails with [ErrQueueFull] when the queue has no room and with
// [ErrStopped] once the worker has exited.
func (t *Task) Do(ctx context.Context, fn func(*storage.Store) error) error {
	reply := make(chan error, 1)

	if err := t.queue.Send(NewExec(fn, reply)); err != nil {
		return err
	}

	select {
	case err := <-reply:
		return err
	case <-t.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ---------------------------------------------------------------------------
// Triggers
// ---------------------------------------------------------------------------

// TriggerInit asks the worker to run the init sequence again.
func (t *Task) TriggerInit() error {
	return t.trigger(OpInit)
}

// TriggerTest asks the worker to run the test routine.
func (t *Task) TriggerTest() error {
	return t.trigger(OpTest)
}

// TriggerCleanup asks the worker to run the cleanup routine.
func (t *Task) TriggerCleanup() error {
	return t.trigger(OpCleanup)
}

// TriggerLogData stages a sensor record and asks the worker to log it.
//
// The staging slot holds one record. A record staged before the worker
// drained the previous one replaces it, and only one command is queued
// for the pair.
func (t *Task) TriggerLogData(temperature, humidity float32, timestamp uint32) error {
	rec := LogRecord{Temperature: temperature, Humidity: humidity, Timestamp: timestamp}

	if !t.pending.put(rec) {
		return nil
	}

	if err := t.trigger(OpLogData); err != nil {
		t.pending.unqueue()

		return err
	}

	return nil
}

func (t *Task) trigger(op Opcode) error {
	err := t.queue.Send(NewCommand(op))
	if err != nil {
		t.metrics.TriggerDrops.WithLabelValues(op.String()).Inc()
		t.log.Warn().Stringer("op", op).Msg("command queue full, trigger dropped")

		return err
	}

	return nil
}
