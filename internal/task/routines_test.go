package task

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/usbstore/internal/engine"
)

// -----------------------------------------------------------------------------
// Log data
// -----------------------------------------------------------------------------

func TestTriggerLogData_CoalescesBeforeWorkerDrains(t *testing.T) {
	f := started(t, fastConfig())

	require.NoError(t, f.task.TriggerLogData(21.5, 55.0, 1000))
	require.NoError(t, f.task.TriggerLogData(22.0, 56.0, 1001))

	if got, want := f.task.Pending(), 1; got != want {
		t.Fatalf("Pending()=%d, want=%d", got, want)
	}

	f.step(t)

	if got, want := f.contents(t, "sensors.csv"), csvHeader+"1001,22.00,56.00\n"; got != want {
		t.Fatalf("log=%q, want=%q", got, want)
	}

	if got, want := f.task.Stats().LoggedRecords, int64(1); got != want {
		t.Fatalf("LoggedRecords=%d, want=%d", got, want)
	}

	if got, want := testutil.ToFloat64(f.metrics.Commands.WithLabelValues("log_data")), 1.0; got != want {
		t.Fatalf("log_data commands=%v, want=%v", got, want)
	}

	if got, want := f.task.Pending(), 0; got != want {
		t.Fatalf("Pending()=%d, want=%d", got, want)
	}
}

func TestTriggerLogData_AppendsAfterDrain(t *testing.T) {
	f := started(t, fastConfig())

	require.NoError(t, f.task.TriggerLogData(21.5, 55.0, 1000))
	f.step(t)
	require.NoError(t, f.task.TriggerLogData(22.25, 56.5, 1001))
	f.step(t)

	want := csvHeader + "1000,21.50,55.00\n" + "1001,22.25,56.50\n"
	require.Equal(t, want, f.contents(t, "sensors.csv"))
	require.Equal(t, 2.0, testutil.ToFloat64(f.metrics.LogRecords))
	require.Empty(t, f.store.OpenFiles())
}

func TestTriggerLogData_KeepsRecordWhenQueueFull(t *testing.T) {
	cfg := fastConfig()
	cfg.QueueDepth = 1

	f := started(t, cfg)

	require.NoError(t, f.task.TriggerCleanup())
	require.ErrorIs(t, f.task.TriggerLogData(1, 2, 3), ErrQueueFull)

	if got, want := testutil.ToFloat64(f.metrics.TriggerDrops.WithLabelValues("log_data")), 1.0; got != want {
		t.Fatalf("drops=%v, want=%v", got, want)
	}

	f.step(t)

	// The staged record is replaced and queued by the next trigger.
	require.NoError(t, f.task.TriggerLogData(4, 5, 6))
	f.step(t)

	require.Equal(t, csvHeader+"6,4.00,5.00\n", f.contents(t, "sensors.csv"))
}

func TestTriggerLogData_RecordConsumedWhenNotReady(t *testing.T) {
	f := newFixture(t, fastConfig())

	require.NoError(t, f.task.TriggerLogData(1, 2, 3))
	f.step(t)

	require.Contains(t, f.logs.String(), "command skipped")

	_, staged := f.task.pending.take()
	require.False(t, staged, "record still staged")

	require.NoError(t, f.task.initialize(t.Context()))
	require.NoError(t, f.task.TriggerLogData(4, 5, 6))
	f.step(t)

	require.Equal(t, csvHeader+"6,4.00,5.00\n", f.contents(t, "sensors.csv"))
}

func TestTriggerLogData_AppendsToExistingLog(t *testing.T) {
	f := started(t, fastConfig())
	f.mem.Put("sensors.csv", []byte("old\n"))

	require.NoError(t, f.task.TriggerLogData(1, 2, 3))
	f.step(t)

	require.Equal(t, "old\n3,1.00,2.00\n", f.contents(t, "sensors.csv"))
}

func TestFormatRecord(t *testing.T) {
	tests := []struct {
		rec  LogRecord
		want string
	}{
		{LogRecord{Temperature: 22, Humidity: 56, Timestamp: 1001}, "1001,22.00,56.00\n"},
		{LogRecord{Temperature: -3.456, Humidity: 0.004, Timestamp: 0}, "0,-3.46,0.00\n"},
	}

	for _, tt := range tests {
		if got := FormatRecord(tt.rec); got != tt.want {
			t.Errorf("FormatRecord(%+v)=%q, want=%q", tt.rec, got, tt.want)
		}
	}
}

// -----------------------------------------------------------------------------
// Test routine
// -----------------------------------------------------------------------------

func TestHandleTest_WritesAndRepeats(t *testing.T) {
	f := started(t, fastConfig())

	require.NoError(t, f.task.TriggerTest())
	f.step(t)
	require.NoError(t, f.task.TriggerTest())
	f.step(t)

	if diff := cmp.Diff([]string{DataLogFile, FlightFile, GreetingFile}, f.mem.Names()); diff != "" {
		t.Fatalf("files mismatch (-want +got):\n%s", diff)
	}

	require.Equal(t, greeting, f.contents(t, GreetingFile))
	require.Equal(t, dataLogHeader+dataLogEntry+dataLogEntry, f.contents(t, DataLogFile))
	require.Equal(t, int64(2), f.task.Stats().TestRuns)
	require.Empty(t, f.store.OpenFiles())

	var rec FlightRecord
	require.NoError(t, rec.UnmarshalBinary([]byte(f.contents(t, FlightFile))))
	require.Equal(t, SampleFlightRecord, rec)
}

func TestHandleTest_FailsOnWriteProtectedDrive(t *testing.T) {
	f := started(t, fastConfig())
	f.mem.SetReadOnly(true)

	require.NoError(t, f.task.TriggerTest())
	f.step(t)

	require.Equal(t, int64(0), f.task.Stats().TestRuns)
	require.Contains(t, f.logs.String(), "command failed")
	require.Empty(t, f.mem.Names())
	require.Empty(t, f.store.OpenFiles())
}

func TestFlightRecord_Layout(t *testing.T) {
	data, err := SampleFlightRecord.MarshalBinary()
	require.NoError(t, err)

	if got, want := len(data), 26; got != want {
		t.Fatalf("len=%d, want=%d", got, want)
	}

	if got, want := binary.LittleEndian.Uint32(data[:4]), uint32(12345678); got != want {
		t.Fatalf("timestamp=%d, want=%d", got, want)
	}

	if got, want := binary.LittleEndian.Uint16(data[24:]), uint16(3700); got != want {
		t.Fatalf("battery=%d, want=%d", got, want)
	}

	var rec FlightRecord
	require.Error(t, rec.UnmarshalBinary(data[:10]))
	require.True(t, bytes.Equal(data, mustMarshal(t, SampleFlightRecord)))
}

func mustMarshal(t *testing.T, r FlightRecord) []byte {
	t.Helper()

	data, err := r.MarshalBinary()
	require.NoError(t, err)

	return data
}

// -----------------------------------------------------------------------------
// Cleanup
// -----------------------------------------------------------------------------

func TestHandleCleanup_RemovesOversizedTempFile(t *testing.T) {
	f := started(t, fastConfig())
	f.mem.Put("temp_file.txt", bytes.Repeat([]byte("x"), 2000))
	f.mem.Put("keep.txt", []byte("k"))

	require.NoError(t, f.store.OpenFile("keep.txt"))
	require.NoError(t, f.task.TriggerCleanup())
	f.step(t)

	if diff := cmp.Diff([]string{"keep.txt"}, f.mem.Names()); diff != "" {
		t.Fatalf("files mismatch (-want +got):\n%s", diff)
	}

	require.Empty(t, f.store.OpenFiles())
	require.Contains(t, f.logs.String(), "temp file removed")
}

func TestHandleCleanup_KeepsSmallTempFile(t *testing.T) {
	f := started(t, fastConfig())
	f.mem.Put("temp_file.txt", []byte("small"))

	require.NoError(t, f.task.TriggerCleanup())
	f.step(t)

	require.Equal(t, "small", f.contents(t, "temp_file.txt"))
	require.NotContains(t, f.logs.String(), "low disk space")
}

func TestHandleCleanup_WarnsOnLowSpace(t *testing.T) {
	cfg := fastConfig()
	cfg.LowSpace = 1 << 20

	f := started(t, cfg)

	require.NoError(t, f.task.TriggerCleanup())
	f.step(t)

	if !strings.Contains(f.logs.String(), "low disk space") {
		t.Fatalf("no low space warning: %s", f.logs.String())
	}
}

func TestHandleCleanup_ReportsDeleteFailure(t *testing.T) {
	f := started(t, fastConfig())
	f.mem.Put("temp_file.txt", bytes.Repeat([]byte("x"), 2000))
	f.mem.FailNext(engine.OpUnlink, engine.Denied)

	require.NoError(t, f.task.TriggerCleanup())
	f.step(t)

	require.Contains(t, f.logs.String(), "command failed")

	_, ok := f.mem.Contents("temp_file.txt")
	require.True(t, ok, "temp file removed despite unlink failure")
}
