package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestConfig is the project config NewCLI writes: fast mount polling, no
// background timers and a lock file inside the test directory.
const TestConfig = `{
	"drive": "usb",
	"lock_file": "usbstore.lock",
	"mount_timeout": "200ms",
	"poll_interval": "10ms",
	"progress_interval": "50ms",
	"status_interval": "0s",
	"cleanup_interval": "0s",
	"log_level": "warn",
}`

// CLI provides a clean interface for running CLI commands in tests.
// It manages a temp directory with a drive directory and a project config.
type CLI struct {
	t   *testing.T
	Dir string
	Env map[string]string
}

// NewCLI creates a new test CLI with a temp directory, an empty drive
// directory and [TestConfig].
func NewCLI(t *testing.T) *CLI {
	t.Helper()

	c := &CLI{
		t:   t,
		Dir: t.TempDir(),
		Env: map[string]string{},
	}

	if err := os.MkdirAll(c.DriveDir(), 0o755); err != nil {
		t.Fatalf("creating drive dir: %v", err)
	}

	c.WriteConfig(TestConfig)

	return c
}

// Run executes the CLI with the given args and returns stdout, stderr, and exit code.
// Args should not include "usbstore" or "--cwd" - those are added automatically.
func (r *CLI) Run(args ...string) (string, string, int) {
	return r.RunWithInput(nil, args...)
}

// RunWithInput executes the CLI with stdin and returns stdout, stderr, and exit code.
// stdin must be nil, a string or an io.Reader; panics otherwise.
func (r *CLI) RunWithInput(stdin any, args ...string) (string, string, int) {
	var inReader io.Reader
	switch v := stdin.(type) {
	case nil:
	case string:
		inReader = strings.NewReader(v)
	case io.Reader:
		inReader = v
	default:
		panic(fmt.Sprintf("stdin must be string or io.Reader, got %T", stdin))
	}

	var outBuf, errBuf bytes.Buffer

	fullArgs := append([]string{"usbstore", "--cwd", r.Dir}, args...)
	code := Run(inReader, &outBuf, &errBuf, fullArgs, r.Env, nil)

	return outBuf.String(), errBuf.String(), code
}

// MustRun executes the CLI and fails the test if the command returns non-zero.
// Returns trimmed stdout on success.
func (r *CLI) MustRun(args ...string) string {
	r.t.Helper()

	stdout, stderr, code := r.Run(args...)
	if code != 0 {
		r.t.Fatalf("command %v failed with exit code %d\nstderr: %s", args, code, stderr)
	}

	return strings.TrimSpace(stdout)
}

// MustRunWithInput is MustRun with stdin.
func (r *CLI) MustRunWithInput(stdin any, args ...string) string {
	r.t.Helper()

	stdout, stderr, code := r.RunWithInput(stdin, args...)
	if code != 0 {
		r.t.Fatalf("command %v failed with exit code %d\nstderr: %s", args, code, stderr)
	}

	return strings.TrimSpace(stdout)
}

// MustFail executes the CLI and fails the test if the command succeeds.
// Also fails if stdout is not empty. Returns trimmed stderr.
func (r *CLI) MustFail(args ...string) string {
	r.t.Helper()

	stdout, stderr, code := r.Run(args...)
	if code == 0 {
		r.t.Fatalf("command %v should have failed but succeeded\nstdout: %s", args, stdout)
	}

	if stdout != "" {
		r.t.Fatalf("command %v failed but stdout should be empty\nstdout: %s", args, stdout)
	}

	return strings.TrimSpace(stderr)
}

// DriveDir returns the host directory backing the drive.
func (r *CLI) DriveDir() string {
	return filepath.Join(r.Dir, "usb")
}

// WriteConfig replaces the project config file.
func (r *CLI) WriteConfig(content string) {
	r.t.Helper()

	r.writeFile(filepath.Join(r.Dir, ".usbstore.json"), content)
}

// ReadDriveFile returns the content of a file on the drive.
func (r *CLI) ReadDriveFile(name string) string {
	r.t.Helper()

	content, err := os.ReadFile(filepath.Join(r.DriveDir(), name))
	if err != nil {
		r.t.Fatalf("failed to read drive file %s: %v", name, err)
	}

	return string(content)
}

// WriteDriveFile writes a file straight into the drive directory.
func (r *CLI) WriteDriveFile(name, content string) {
	r.t.Helper()

	r.writeFile(filepath.Join(r.DriveDir(), name), content)
}

// DriveFileExists reports whether name exists on the drive.
func (r *CLI) DriveFileExists(name string) bool {
	_, err := os.Stat(filepath.Join(r.DriveDir(), name))

	return err == nil
}

func (r *CLI) writeFile(path, content string) {
	r.t.Helper()

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		r.t.Fatalf("failed to write %s: %v", path, err)
	}
}

// AssertContains fails the test if content doesn't contain substr.
func AssertContains(t *testing.T, content, substr string) {
	t.Helper()

	if !strings.Contains(content, substr) {
		t.Errorf("content should contain %q\ncontent:\n%s", substr, content)
	}
}

// AssertNotContains fails the test if content contains substr.
func AssertNotContains(t *testing.T, content, substr string) {
	t.Helper()

	if strings.Contains(content, substr) {
		t.Errorf("content should NOT contain %q\ncontent:\n%s", substr, content)
	}
}
