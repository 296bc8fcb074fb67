package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/usbstore/internal/config"
	"github.com/calvinalkan/usbstore/internal/fs"
)

// Run is the main entry point. Returns exit code.
//
// A value on sigCh cancels the running command. sigCh may be nil.
func Run(in io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	// The worker logs from its own goroutine.
	errOut = zerolog.SyncWriter(errOut)
	o := NewIO(out, errOut)

	globals := flag.NewFlagSet("usbstore", flag.ContinueOnError)
	globals.SetInterspersed(false)
	globals.SetOutput(&strings.Builder{})

	workDir := globals.StringP("cwd", "C", "", "Run as if started in `dir`")
	configPath := globals.StringP("config", "c", "", "Use specified config `file`")
	drive := globals.String("drive", "", "Host `dir` backing drive 0:")
	logLevel := globals.String("log-level", "", "Log `level` (debug, info, warn, error)")
	help := globals.BoolP("help", "h", false, "Show help")

	if len(args) > 0 {
		args = args[1:]
	}

	if err := globals.Parse(args); err != nil {
		o.ErrPrintln("error:", err)
		printUsage(errOut, globals, nil)

		return 1
	}

	rest := globals.Args()
	if *help || len(rest) == 0 {
		printUsage(out, globals, commands(&app{cfg: &config.Config{}}))

		return 0
	}

	cfg, err := config.Load(config.LoadInput{
		WorkDirOverride: *workDir,
		ConfigPath:      *configPath,
		Overrides:       config.Overrides{Drive: *drive, LogLevel: *logLevel},
		Env:             env,
	})
	if err != nil {
		o.ErrPrintln("error:", err)

		return 1
	}

	a := &app{
		cfg: &cfg,
		log: newLogger(errOut, cfg.LogLevel),
		in:  in,
		env: env,
		fs:  fs.NewReal(),
		now: time.Now,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sigCh != nil {
		go func() {
			select {
			case <-sigCh:
				a.log.Info().Msg("signal received, stopping")
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	cmd, err := findCommand(commands(a), rest[0])
	if err != nil {
		o.ErrPrintln("error:", err)
		printUsage(errOut, globals, commands(a))

		return 1
	}

	if code := cmd.Run(ctx, o, rest[1:]); code != 0 {
		return code
	}

	return o.Finish()
}

func commands(a *app) []*Command {
	return []*Command{
		PutCmd(a),
		AppendCmd(a),
		CatCmd(a),
		RmCmd(a),
		StatCmd(a),
		DfCmd(a),
		StatusCmd(a),
		RunCmd(a),
		ShellCmd(a),
		PrintConfigCmd(a.cfg),
		InitConfigCmd(a),
	}
}

func findCommand(cmds []*Command, name string) (*Command, error) {
	for _, c := range cmds {
		if c.Name() == name {
			return c, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
}

func printUsage(w io.Writer, globals *flag.FlagSet, cmds []*Command) {
	var b strings.Builder

	b.WriteString("usbstore - removable drive storage worker\n\n")
	b.WriteString("Usage: usbstore [options] <command> [args]\n\n")
	b.WriteString("Options:\n")
	b.WriteString(globals.FlagUsages())

	groups := groupCommands(cmds)

	for _, g := range []Group{GroupFiles, GroupWorker, GroupConfig} {
		if len(groups[g]) == 0 {
			continue
		}

		b.WriteString("\n" + g.String() + ":\n")

		for _, c := range groups[g] {
			b.WriteString(c.HelpLine())
			b.WriteString("\n")
		}
	}

	_, _ = io.WriteString(w, b.String())
}
