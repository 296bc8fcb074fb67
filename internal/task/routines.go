package task

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/calvinalkan/usbstore/internal/storage"
)

// Files touched by the test routine.
const (
	GreetingFile = "test.txt"
	DataLogFile  = "data.log"
	FlightFile   = "flight_data.bin"
)

const (
	greeting      = "Hello from usbstore!\nThis is a test file.\n"
	dataLogHeader = "Data Log\n"
	dataLogEntry  = "New log entry\n"
	csvHeader     = "Timestamp,Temperature,Humidity\n"
	dataLogPeek   = 255
)

var (
	errNotReady       = errors.New("storage not ready")
	errFlightMismatch = errors.New("flight record mismatch")
)

type handler func(t *Task, ctx context.Context) error

var handlers = map[Opcode]handler{
	OpInit:    (*Task).handleInit,
	OpTest:    (*Task).handleTest,
	OpLogData: (*Task).handleLogData,
	OpCleanup: (*Task).handleCleanup,
}

func (t *Task) handleInit(ctx context.Context) error {
	return t.initialize(ctx)
}

// ---------------------------------------------------------------------------
// Test routine
// ---------------------------------------------------------------------------

func (t *Task) handleTest(_ context.Context) error {
	if !t.ready() {
		return errNotReady
	}

	err := errors.Join(
		t.writeGreeting(),
		t.appendDataLog(),
		t.checkFlightRecord(),
	)

	if err != nil {
		return err
	}

	t.testRuns.Add(1)
	t.log.Info().Msg("test routine passed")

	return nil
}

func (t *Task) writeGreeting() error {
	err := t.store.CreateFile(GreetingFile, []byte(greeting))
	if err != nil && !errors.Is(err, storage.ErrFileExists) {
		return err
	}

	return nil
}

func (t *Task) appendDataLog() error {
	s := t.store

	if !s.FileExists(DataLogFile) {
		if err := s.CreateFile(DataLogFile, []byte(dataLogHeader)); err != nil {
			return err
		}
	}

	if err := s.OpenFile(DataLogFile); err != nil {
		return err
	}

	buf := make([]byte, dataLogPeek)

	n, readErr := s.ReadFile(DataLogFile, buf)
	if readErr == nil {
		t.log.Debug().Int("bytes", n).Str("file", DataLogFile).Msg("read data log")
	}

	writeErr := s.WriteFile(DataLogFile, []byte(dataLogEntry))
	closeErr := s.CloseFile(DataLogFile)

	return errors.Join(readErr, writeErr, closeErr)
}

// FlightRecord is the fixed-layout binary record written by the test
// routine. It is encoded little-endian without padding.
type FlightRecord struct {
	Timestamp    uint32
	Altitude     float32
	Velocity     float32
	Acceleration [3]float32
	Battery      uint16
}

// SampleFlightRecord is the record the test routine writes.
var SampleFlightRecord = FlightRecord{
	Timestamp:    12345678,
	Altitude:     1000.5,
	Velocity:     25.8,
	Acceleration: [3]float32{0.1, 0.2, 9.8},
	Battery:      3700,
}

// MarshalBinary encodes r.
func (r FlightRecord) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer

	if err := binary.Write(&buf, binary.LittleEndian, r); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// UnmarshalBinary decodes data into r.
func (r *FlightRecord) UnmarshalBinary(data []byte) error {
	return binary.Read(bytes.NewReader(data), binary.LittleEndian, r)
}

func (t *Task) checkFlightRecord() error {
	s := t.store

	data, err := SampleFlightRecord.MarshalBinary()
	if err != nil {
		return err
	}

	err = s.CreateFile(FlightFile, data)
	if errors.Is(err, storage.ErrFileExists) {
		t.log.Debug().Str("file", FlightFile).Msg("flight record exists, skipping")

		return nil
	}

	if err != nil {
		return err
	}

	if err := s.OpenFile(FlightFile); err != nil {
		return err
	}

	buf := make([]byte, len(data))

	n, readErr := s.ReadFile(FlightFile, buf)
	closeErr := s.CloseFile(FlightFile)

	if err := errors.Join(readErr, closeErr); err != nil {
		return err
	}

	var got FlightRecord
	if n != len(data) || got.UnmarshalBinary(buf[:n]) != nil || got != SampleFlightRecord {
		return fmt.Errorf("%w: read %d of %d bytes", errFlightMismatch, n, len(data))
	}

	return nil
}

// ---------------------------------------------------------------------------
// Log data
// ---------------------------------------------------------------------------

// handleLogData drains the staging slot. The record is consumed even when
// the drive is not ready.
func (t *Task) handleLogData(_ context.Context) error {
	rec, ok := t.pending.take()

	if !t.ready() {
		if ok {
			t.log.Warn().Uint32("timestamp", rec.Timestamp).Msg("drive not ready, sensor record dropped")
		}

		return errNotReady
	}

	if !ok {
		return nil
	}

	return t.appendRecord(rec)
}

// FormatRecord renders rec as one CSV line.
func FormatRecord(rec LogRecord) string {
	return fmt.Sprintf("%d,%.2f,%.2f\n", rec.Timestamp, rec.Temperature, rec.Humidity)
}

func (t *Task) appendRecord(rec LogRecord) error {
	s := t.store
	name := t.cfg.LogFile

	if !s.FileExists(name) {
		err := s.CreateFile(name, []byte(csvHeader))
		if err != nil && !errors.Is(err, storage.ErrFileExists) {
			return err
		}
	}

	err := s.OpenFile(name)

	opened := err == nil
	if err != nil && !errors.Is(err, storage.ErrFileAlreadyOpen) {
		return err
	}

	writeErr := s.WriteFile(name, []byte(FormatRecord(rec)))

	var closeErr error
	if opened {
		closeErr = s.CloseFile(name)
	}

	if writeErr != nil {
		return errors.Join(writeErr, closeErr)
	}

	t.logged.Add(1)
	t.metrics.LogRecords.Inc()
	t.log.Debug().
		Uint32("timestamp", rec.Timestamp).
		Float32("temperature", rec.Temperature).
		Float32("humidity", rec.Humidity).
		Msg("sensor record logged")

	return closeErr
}

// ---------------------------------------------------------------------------
// Cleanup
// ---------------------------------------------------------------------------

func (t *Task) handleCleanup(_ context.Context) error {
	if !t.ready() {
		return errNotReady
	}

	s := t.store

	var errs []error

	if s.FileExists(t.cfg.TempFile) {
		size, err := s.GetFileSize(t.cfg.TempFile)

		switch {
		case err != nil:
			errs = append(errs, err)
		case size > t.cfg.TempFileLimit:
			if err := s.DeleteFile(t.cfg.TempFile); err != nil {
				errs = append(errs, err)
			} else {
				t.log.Info().Str("file", t.cfg.TempFile).Int64("size", size).Msg("temp file removed")
			}
		}
	}

	if err := s.CloseAllFiles(); err != nil {
		errs = append(errs, err)
	}

	free, err := s.GetFreeSpace()

	switch {
	case err != nil:
		errs = append(errs, err)
	case free < t.cfg.LowSpace:
		t.log.Warn().Uint64("free_bytes", free).Uint64("low_space", t.cfg.LowSpace).Msg("low disk space")
	}

	return errors.Join(errs...)
}
