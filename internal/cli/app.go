package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/calvinalkan/usbstore/internal/config"
	"github.com/calvinalkan/usbstore/internal/engine"
	"github.com/calvinalkan/usbstore/internal/fs"
	"github.com/calvinalkan/usbstore/internal/storage"
	"github.com/calvinalkan/usbstore/internal/task"
)

// app carries what every command needs.
type app struct {
	cfg *config.Config
	log zerolog.Logger
	in  io.Reader
	env map[string]string
	fs  *fs.Real
	now func() time.Time
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: time.TimeOnly}).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}

// lockDrive takes the per-drive process lock.
func (a *app) lockDrive() (*fs.Lock, error) {
	lk, err := fs.NewLocker(a.fs).TryLock(a.cfg.LockFileAbs)
	if errors.Is(err, fs.ErrWouldBlock) {
		return nil, fmt.Errorf("%w: %s (lock %s)", ErrDriveBusy, a.cfg.DriveAbs, a.cfg.LockFileAbs)
	}

	if err != nil {
		return nil, fmt.Errorf("locking drive: %w", err)
	}

	return lk, nil
}

func (a *app) newStore() *storage.Store {
	vol := engine.NewVolume(a.fs, a.cfg.DriveAbs, engine.WithRequireMountPoint(a.cfg.RequireMountPoint))

	return storage.New(vol, storage.WithLogger(a.log))
}

// withStore locks the drive, initializes a store and runs fn with it.
// The store is deinitialized and the lock released afterwards.
func (a *app) withStore(fn func(*storage.Store) error) error {
	lk, err := a.lockDrive()
	if err != nil {
		return err
	}

	defer func() { _ = lk.Close() }()

	store := a.newStore()

	if err := store.Init(); err != nil {
		return err
	}

	defer func() {
		if err := store.Deinit(); err != nil {
			a.log.Warn().Err(err).Msg("storage deinit")
		}
	}()

	return fn(store)
}

// worker is a running storage task.
type worker struct {
	task *task.Task
	lock *fs.Lock

	cancel context.CancelFunc
	done   chan error
}

// startWorker locks the drive and starts a storage task. reg may be nil.
func (a *app) startWorker(ctx context.Context, reg prometheus.Registerer) (*worker, error) {
	lk, err := a.lockDrive()
	if err != nil {
		return nil, err
	}

	tk := task.New(a.newStore(), a.cfg.Task(),
		task.WithLogger(a.log),
		task.WithMetrics(task.NewMetrics(reg)),
	)

	ctx, cancel := context.WithCancel(ctx)

	w := &worker{task: tk, lock: lk, cancel: cancel, done: make(chan error, 1)}

	go func() { w.done <- tk.Run(ctx) }()

	return w, nil
}

// flush waits until every command queued so far has been handled.
func (w *worker) flush(ctx context.Context, poll time.Duration) error {
	b := backoff.WithContext(backoff.NewConstantBackOff(poll), ctx)

	return backoff.Retry(func() error {
		err := w.task.Do(ctx, func(*storage.Store) error { return nil })
		if errors.Is(err, task.ErrQueueFull) {
			return err
		}

		if err != nil {
			return backoff.Permanent(err)
		}

		return nil
	}, b)
}

// stop cancels the task, waits for it to exit and releases the lock.
func (w *worker) stop() {
	w.cancel()
	<-w.done
	_ = w.lock.Close()
}

// fireTrigger parses a trigger line ("test", "cleanup", "init",
// "log <temp> <humidity> [timestamp]") and fires it.
func (a *app) fireTrigger(tk *task.Task, fields []string) error {
	if len(fields) == 0 {
		return fmt.Errorf("%w: empty line", ErrUnknownTrigger)
	}

	switch fields[0] {
	case "test":
		return tk.TriggerTest()
	case "cleanup":
		return tk.TriggerCleanup()
	case "init":
		return tk.TriggerInit()
	case "log":
		rec, err := a.parseLog(fields[1:])
		if err != nil {
			return err
		}

		return tk.TriggerLogData(rec.Temperature, rec.Humidity, rec.Timestamp)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownTrigger, fields[0])
	}
}

func (a *app) parseLog(args []string) (task.LogRecord, error) {
	if len(args) < 2 {
		return task.LogRecord{}, fmt.Errorf("%w: log <temperature> <humidity> [timestamp]", ErrMissingArg)
	}

	if len(args) > 3 {
		return task.LogRecord{}, fmt.Errorf("%w: log <temperature> <humidity> [timestamp]", ErrTooManyArgs)
	}

	temp, err := strconv.ParseFloat(args[0], 32)
	if err != nil {
		return task.LogRecord{}, fmt.Errorf("%w: temperature %q", ErrInvalidArg, args[0])
	}

	hum, err := strconv.ParseFloat(args[1], 32)
	if err != nil {
		return task.LogRecord{}, fmt.Errorf("%w: humidity %q", ErrInvalidArg, args[1])
	}

	ts := uint32(a.now().Unix())

	if len(args) == 3 {
		parsed, err := strconv.ParseUint(args[2], 10, 32)
		if err != nil {
			return task.LogRecord{}, fmt.Errorf("%w: timestamp %q", ErrInvalidArg, args[2])
		}

		ts = uint32(parsed)
	}

	return task.LogRecord{Temperature: float32(temp), Humidity: float32(hum), Timestamp: ts}, nil
}

// readAll opens name, reads it to the end and closes it again.
func readAll(s *storage.Store, name string) ([]byte, error) {
	if err := s.OpenFile(name); err != nil {
		return nil, err
	}

	var (
		out     []byte
		readErr error
	)

	buf := make([]byte, storage.SectorSize)

	for {
		n, err := s.ReadFile(name, buf)
		out = append(out, buf[:n]...)

		if err != nil {
			readErr = err

			break
		}

		if n == 0 {
			break
		}
	}

	return out, errors.Join(readErr, s.CloseFile(name))
}

// appendText appends text to name, creating the file when it is missing.
func appendText(s *storage.Store, name string, text []byte) error {
	if !s.FileExists(name) {
		return s.CreateFile(name, text)
	}

	if err := s.OpenFile(name); err != nil {
		return err
	}

	return errors.Join(s.WriteFile(name, text), s.CloseFile(name))
}
