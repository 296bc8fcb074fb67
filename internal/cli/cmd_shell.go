package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/usbstore/internal/storage"
)

// ShellCmd returns the shell command.
func ShellCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("shell", flag.ContinueOnError),
		Usage: "shell",
		Short: "Interactive shell on a running worker",
		Long: "Start the storage worker and read commands interactively.\n" +
			"Type 'help' inside the shell for the command list.",
		Group: GroupWorker,
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			return execShell(ctx, o, a)
		},
	}
}

const shellHelp = `Commands:
  test                          run the test routine
  log <temp> <humidity> [ts]    log a sensor record
  cleanup                       run the cleanup routine
  init                          re-run the init sequence
  cat <name>                    print a file
  put <name> <text>             create a file
  append <name> <text>          append a line to a file
  rm <name>                     delete a file
  stat <name>                   show file size
  df                            show free space
  status                        show drive state
  stats                         show worker counters
  sync                          wait for queued triggers
  help                          show this help
  exit                          leave the shell`

var shellWords = []string{
	"append", "cat", "cleanup", "df", "exit", "help", "init", "log",
	"put", "rm", "stat", "stats", "status", "sync", "test",
}

// lineSource reads shell input.
type lineSource interface {
	Prompt(prompt string) (string, error)
	AppendHistory(line string)
	Close() error
}

// newLineSource uses liner on an interactive terminal and a plain line
// reader otherwise.
func newLineSource(in io.Reader, env map[string]string) lineSource {
	if f, ok := in.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		return newLinerSource(env)
	}

	return &plainSource{sc: bufio.NewScanner(in)}
}

type linerSource struct {
	state   *liner.State
	history string
}

func newLinerSource(env map[string]string) *linerSource {
	s := &linerSource{state: liner.NewLiner()}

	s.state.SetCtrlCAborts(true)
	s.state.SetCompleter(func(line string) []string {
		var out []string

		for _, w := range shellWords {
			if strings.HasPrefix(w, line) {
				out = append(out, w)
			}
		}

		return out
	})

	if home := env["HOME"]; home != "" {
		s.history = filepath.Join(home, ".usbstore_history")

		if f, err := os.Open(s.history); err == nil {
			_, _ = s.state.ReadHistory(f)
			_ = f.Close()
		}
	}

	return s
}

func (s *linerSource) Prompt(prompt string) (string, error) {
	line, err := s.state.Prompt(prompt)
	if errors.Is(err, liner.ErrPromptAborted) {
		return "", io.EOF
	}

	return line, err
}

func (s *linerSource) AppendHistory(line string) {
	s.state.AppendHistory(line)
}

func (s *linerSource) Close() error {
	if s.history != "" {
		if f, err := os.Create(s.history); err == nil {
			_, _ = s.state.WriteHistory(f)
			_ = f.Close()
		}
	}

	return s.state.Close()
}

type plainSource struct {
	sc *bufio.Scanner
}

func (s *plainSource) Prompt(string) (string, error) {
	if s.sc.Scan() {
		return s.sc.Text(), nil
	}

	if err := s.sc.Err(); err != nil {
		return "", err
	}

	return "", io.EOF
}

func (s *plainSource) AppendHistory(string) {}

func (s *plainSource) Close() error { return nil }

func execShell(ctx context.Context, o *IO, a *app) error {
	w, err := a.startWorker(ctx, nil)
	if err != nil {
		return err
	}

	defer w.stop()

	in := a.in
	if in == nil {
		in = strings.NewReader("")
	}

	src := newLineSource(in, a.env)
	defer func() { _ = src.Close() }()

	sh := &shell{ctx: ctx, o: o, a: a, w: w}

	for {
		line, err := src.Prompt("usbstore> ")
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		src.AppendHistory(line)

		if done := sh.exec(strings.Fields(line)); done {
			break
		}

		if ctx.Err() != nil {
			break
		}
	}

	if err := w.flush(ctx, a.cfg.PollInterval.Std()); err != nil && ctx.Err() == nil {
		return err
	}

	return nil
}

type shell struct {
	ctx context.Context
	o   *IO
	a   *app
	w   *worker
}

// exec runs one shell line. It reports whether the shell should exit.
func (sh *shell) exec(args []string) bool {
	cmd, rest := args[0], args[1:]

	var err error

	switch cmd {
	case "exit", "quit", "q":
		return true
	case "help", "?":
		sh.o.Println(shellHelp)
	case "test", "log", "cleanup", "init":
		err = sh.a.fireTrigger(sh.w.task, args)
	case "sync":
		err = sh.w.flush(sh.ctx, sh.a.cfg.PollInterval.Std())
	case "stats":
		stats := sh.w.task.Stats()
		sh.o.Printf("test_runs=%d logged_records=%d mounted=%t pending=%d\n",
			stats.TestRuns, stats.LoggedRecords, stats.Mounted, sh.w.task.Pending())
	case "cat":
		err = sh.withName(rest, func(s *storage.Store, name string) error {
			data, err := readAll(s, name)
			if err != nil {
				return err
			}

			_, _ = sh.o.Write(data)

			return nil
		})
	case "put", "append":
		err = sh.writeText(cmd, rest)
	case "rm":
		err = sh.withName(rest, func(s *storage.Store, name string) error {
			return s.DeleteFile(name)
		})
	case "stat":
		err = sh.withName(rest, func(s *storage.Store, name string) error {
			return printStat(sh.o, s, name)
		})
	case "df":
		err = sh.do(func(s *storage.Store) error {
			free, err := s.GetFreeSpace()
			if err != nil {
				return err
			}

			sh.o.Printf("free_bytes=%d\n", free)

			return nil
		})
	case "status":
		err = sh.do(func(s *storage.Store) error {
			printStatus(sh.o, sh.a, s)

			return nil
		})
	default:
		err = fmt.Errorf("%w: %s (type 'help' for commands)", ErrUnknownCommand, cmd)
	}

	if err != nil {
		sh.o.ErrPrintln("error:", err)
	}

	return false
}

// do runs fn on the worker. fn may print: the shell goroutine is blocked
// until it returns.
func (sh *shell) do(fn func(*storage.Store) error) error {
	return sh.w.task.Do(sh.ctx, fn)
}

func (sh *shell) withName(args []string, fn func(*storage.Store, string) error) error {
	if err := exactlyOneName(args); err != nil {
		return err
	}

	return sh.do(func(s *storage.Store) error { return fn(s, args[0]) })
}

func (sh *shell) writeText(cmd string, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: %s <name> <text>", ErrMissingArg, cmd)
	}

	name, text := args[0], strings.Join(args[1:], " ")+"\n"

	return sh.do(func(s *storage.Store) error {
		if cmd == "put" {
			return s.CreateFile(name, []byte(text))
		}

		return appendText(s, name, []byte(text))
	})
}
