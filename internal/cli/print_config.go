package cli

import (
	"context"
	"fmt"
	"path/filepath"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/usbstore/internal/config"
)

// PrintConfigCmd returns the print-config command.
func PrintConfigCmd(cfg *config.Config) *Command {
	return &Command{
		Flags: flag.NewFlagSet("print-config", flag.ContinueOnError),
		Usage: "print-config",
		Short: "Show resolved configuration",
		Long:  "Display the effective configuration and which files it was loaded from.",
		Group: GroupConfig,
		Exec: func(_ context.Context, io *IO, _ []string) error {
			return execPrintConfig(io, cfg)
		},
	}
}

func execPrintConfig(io *IO, cfg *config.Config) error {
	formatted, err := config.Format(*cfg)
	if err != nil {
		return err
	}

	io.Println(formatted)
	io.Println("")
	io.Println("# resolved")
	io.Println("effective_cwd=" + cfg.EffectiveCwd)
	io.Println("drive=" + cfg.DriveAbs)
	io.Println("lock_file=" + cfg.LockFileAbs)
	io.Println("")
	io.Println("# sources")

	if cfg.Sources.Global == "" && cfg.Sources.Project == "" {
		io.Println("(defaults only)")
	} else {
		if cfg.Sources.Global != "" {
			io.Println("global_config=" + cfg.Sources.Global)
		}

		if cfg.Sources.Project != "" {
			io.Println("project_config=" + cfg.Sources.Project)
		}
	}

	return nil
}

// InitConfigCmd returns the init-config command.
func InitConfigCmd(a *app) *Command {
	flags := flag.NewFlagSet("init-config", flag.ContinueOnError)
	force := flags.BoolP("force", "f", false, "Overwrite an existing config file")

	return &Command{
		Flags: flags,
		Usage: "init-config [flags]",
		Short: "Write a default " + config.FileName,
		Long:  "Write " + config.FileName + " with the default settings to the working directory.",
		Group: GroupConfig,
		Exec: func(_ context.Context, io *IO, _ []string) error {
			path := filepath.Join(a.cfg.EffectiveCwd, config.FileName)

			exists, err := a.fs.Exists(path)
			if err != nil {
				return err
			}

			if exists && !*force {
				return fmt.Errorf("%w: %s (use --force to overwrite)", ErrConfigExists, path)
			}

			formatted, err := config.Format(config.Default())
			if err != nil {
				return err
			}

			if err := a.fs.WriteFileAtomic(path, []byte(formatted+"\n"), 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", path, err)
			}

			io.Println("wrote " + path)

			return nil
		},
	}
}
