package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/usbstore/internal/storage"
)

// PutCmd returns the put command.
func PutCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("put", flag.ContinueOnError),
		Usage:   "put <name> [file]",
		Short:   "Create a file on the drive",
		Group:   GroupFiles,
		MinArgs: 1,
		MaxArgs: 2,
		Long: "Create <name> on the drive with the contents of [file], or stdin when no file is given.\n" +
			"Fails if <name> already exists.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			return execPut(o, a, args)
		},
	}
}

func execPut(o *IO, a *app, args []string) error {
	var (
		data []byte
		err  error
	)

	switch {
	case len(args) == 2:
		path := args[1]
		if !filepath.IsAbs(path) {
			path = filepath.Join(a.cfg.EffectiveCwd, path)
		}

		data, err = os.ReadFile(path)
	case a.in != nil:
		data, err = io.ReadAll(a.in)
	}

	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	err = a.withStore(func(s *storage.Store) error {
		return s.CreateFile(args[0], data)
	})
	if err != nil {
		return err
	}

	o.Printf("wrote %s (%d bytes)\n", args[0], len(data))

	return nil
}

// AppendCmd returns the append command.
func AppendCmd(a *app) *Command {
	flags := flag.NewFlagSet("append", flag.ContinueOnError)
	noNewline := flags.BoolP("no-newline", "n", false, "Do not add a trailing newline")

	return &Command{
		Flags: flags,
		Usage:   "append <name> <text>",
		Short:   "Append a line to a file",
		Long:    "Append <text> and a newline to <name>, creating the file if it does not exist.",
		Group:   GroupFiles,
		MinArgs: 2,
		MaxArgs: 2,
		Exec: func(_ context.Context, _ *IO, args []string) error {
			text := args[1]
			if !*noNewline {
				text += "\n"
			}

			return a.withStore(func(s *storage.Store) error {
				return appendText(s, args[0], []byte(text))
			})
		},
	}
}

// CatCmd returns the cat command.
func CatCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("cat", flag.ContinueOnError),
		Usage:   "cat <name>",
		Short:   "Print a file",
		Group:   GroupFiles,
		MinArgs: 1,
		MaxArgs: 1,
		Exec: func(_ context.Context, o *IO, args []string) error {
			return a.withStore(func(s *storage.Store) error {
				data, err := readAll(s, args[0])
				if err != nil {
					return err
				}

				_, _ = o.Write(data)

				return nil
			})
		},
	}
}

// RmCmd returns the rm command.
func RmCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("rm", flag.ContinueOnError),
		Usage:   "rm <name>",
		Short:   "Delete a file",
		Group:   GroupFiles,
		MinArgs: 1,
		MaxArgs: 1,
		Exec: func(_ context.Context, _ *IO, args []string) error {
			return a.withStore(func(s *storage.Store) error {
				return s.DeleteFile(args[0])
			})
		},
	}
}

// StatCmd returns the stat command.
func StatCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("stat", flag.ContinueOnError),
		Usage:   "stat <name>",
		Short:   "Show whether a file exists and its size",
		Group:   GroupFiles,
		MinArgs: 1,
		MaxArgs: 1,
		Exec: func(_ context.Context, o *IO, args []string) error {
			return a.withStore(func(s *storage.Store) error {
				return printStat(o, s, args[0])
			})
		},
	}
}

func printStat(o *IO, s *storage.Store, name string) error {
	if !s.IsMounted() {
		return storage.ErrNotMounted
	}

	if !s.FileExists(name) {
		return fmt.Errorf("%w: %s", storage.ErrFileNotFound, name)
	}

	size, err := s.GetFileSize(name)
	if err != nil {
		return err
	}

	o.Println("name=" + name)
	o.Printf("size=%d\n", size)

	return nil
}

// DfCmd returns the df command.
func DfCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("df", flag.ContinueOnError),
		Usage: "df",
		Short: "Show free space on the drive",
		Group: GroupFiles,
		Exec: func(_ context.Context, o *IO, _ []string) error {
			return a.withStore(func(s *storage.Store) error {
				free, err := s.GetFreeSpace()
				if err != nil {
					return err
				}

				o.Printf("free_bytes=%d\n", free)

				return nil
			})
		},
	}
}

// StatusCmd returns the status command.
func StatusCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("status", flag.ContinueOnError),
		Usage: "status",
		Short: "Show drive state",
		Long:  "Show whether the drive is mounted and how much space is free. An unmounted drive is reported as a warning.",
		Group: GroupFiles,
		Exec: func(_ context.Context, o *IO, _ []string) error {
			return a.withStore(func(s *storage.Store) error {
				printStatus(o, a, s)

				return nil
			})
		},
	}
}

func printStatus(o *IO, a *app, s *storage.Store) {
	mounted := s.IsMounted()

	o.Println("drive=" + a.cfg.DriveAbs)
	o.Println("state=" + s.State().String())
	o.Printf("mounted=%t\n", mounted)

	if !mounted {
		o.Warn("drive not mounted", "check that "+a.cfg.DriveAbs+" exists and is a directory")

		return
	}

	free, err := s.GetFreeSpace()
	if err != nil {
		o.Warn("free space unavailable", err.Error())

		return
	}

	o.Printf("free_bytes=%d\n", free)
}

func exactlyOneName(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: <name>", ErrMissingArg)
	}

	if len(args) > 1 {
		return ErrTooManyArgs
	}

	return nil
}
