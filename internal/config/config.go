// Package config loads usbstore settings from layered JSONC files.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
	"github.com/tailscale/hujson"

	"github.com/calvinalkan/usbstore/internal/storage"
	"github.com/calvinalkan/usbstore/internal/task"
)

// Config holds all configuration options.
type Config struct {
	// From config files (serialized)
	Drive             string   `json:"drive"`
	RequireMountPoint bool     `json:"require_mount_point"`
	MountTimeout      Duration `json:"mount_timeout"`
	PollInterval      Duration `json:"poll_interval"`
	ProgressInterval  Duration `json:"progress_interval"`
	StatusInterval    Duration `json:"status_interval"`
	CleanupInterval   Duration `json:"cleanup_interval"`
	QueueDepth        int      `json:"queue_depth"`
	LogFile           string   `json:"log_file"`
	TempFile          string   `json:"temp_file"`
	TempFileLimit     int64    `json:"temp_file_limit"`
	LowSpace          uint64   `json:"low_space"`
	LogLevel          string   `json:"log_level"`
	LockFile          string   `json:"lock_file,omitempty"`
	MetricsAddr       string   `json:"metrics_addr,omitempty"`

	// Resolved paths (computed, not serialized)
	EffectiveCwd string `json:"-"`
	DriveAbs     string `json:"-"`
	LockFileAbs  string `json:"-"`

	// Sources tracks which config files were loaded (for diagnostics)
	Sources Sources `json:"-"`
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global  string // Path to global config if loaded, empty otherwise
	Project string // Path to project config if loaded, empty otherwise
}

// Default returns the default configuration.
func Default() Config {
	def := task.DefaultConfig()

	return Config{
		Drive:            "usb",
		MountTimeout:     Duration(def.MountTimeout),
		PollInterval:     Duration(def.PollInterval),
		ProgressInterval: Duration(def.ProgressInterval),
		StatusInterval:   Duration(def.StatusInterval),
		CleanupInterval:  Duration(time.Minute),
		QueueDepth:       def.QueueDepth,
		LogFile:          def.LogFile,
		TempFile:         def.TempFile,
		TempFileLimit:    def.TempFileLimit,
		LowSpace:         def.LowSpace,
		LogLevel:         zerolog.LevelInfoValue,
	}
}

// FileName is the project config file name.
const FileName = ".usbstore.json"

// globalPath returns $XDG_CONFIG_HOME/usbstore/config.json, falling back to
// ~/.config/usbstore/config.json. Empty if neither can be determined.
func globalPath(env map[string]string) string {
	if xdgConfig := env["XDG_CONFIG_HOME"]; xdgConfig != "" {
		return filepath.Join(xdgConfig, "usbstore", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "usbstore", "config.json")
	}

	return ""
}

// Overrides are command-line values applied after all files. Empty fields
// are not applied.
type Overrides struct {
	Drive    string
	LogLevel string
}

// LoadInput holds the inputs for Load.
type LoadInput struct {
	WorkDirOverride string            // -C/--cwd flag value; if empty, os.Getwd() is used
	ConfigPath      string            // -c/--config flag value
	Overrides       Overrides         // flag overrides
	Env             map[string]string // environment variables
}

// Load loads configuration with the following precedence (highest wins):
// 1. Defaults
// 2. Global user config ($XDG_CONFIG_HOME/usbstore/config.json)
// 3. Project config file in the work dir (.usbstore.json, if exists)
// 4. Explicit config file via ConfigPath (replaces 3, must exist)
// 5. CLI overrides.
//
// Each file only replaces the keys it sets. Paths in the returned Config
// are resolved to absolute paths.
func Load(input LoadInput) (Config, error) {
	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	if !filepath.IsAbs(workDir) {
		abs, err := filepath.Abs(workDir)
		if err != nil {
			return Config{}, fmt.Errorf("cannot resolve working directory: %w", err)
		}

		workDir = abs
	}

	cfg := Default()

	if path := globalPath(input.Env); path != "" {
		loaded, err := loadFile(&cfg, path, false)
		if err != nil {
			return Config{}, err
		}

		if loaded {
			cfg.Sources.Global = path
		}
	}

	projectPath, mustExist := filepath.Join(workDir, FileName), false

	if input.ConfigPath != "" {
		projectPath, mustExist = input.ConfigPath, true
		if !filepath.IsAbs(projectPath) {
			projectPath = filepath.Join(workDir, projectPath)
		}

		if _, err := os.Stat(projectPath); err != nil {
			return Config{}, fmt.Errorf("%w: %s", ErrConfigFileNotFound, input.ConfigPath)
		}
	}

	loaded, err := loadFile(&cfg, projectPath, mustExist)
	if err != nil {
		return Config{}, err
	}

	if loaded {
		cfg.Sources.Project = projectPath
	}

	if input.Overrides.Drive != "" {
		cfg.Drive = input.Overrides.Drive
	}

	if input.Overrides.LogLevel != "" {
		cfg.LogLevel = input.Overrides.LogLevel
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}

	cfg.EffectiveCwd = workDir
	cfg.DriveAbs = absPath(workDir, cfg.Drive)

	if cfg.LockFile != "" {
		cfg.LockFileAbs = absPath(workDir, cfg.LockFile)
	} else {
		cfg.LockFileAbs = DefaultLockFile(cfg.DriveAbs)
	}

	return cfg, nil
}

// DefaultLockFile returns the lock file used for a drive directory when
// none is configured. Distinct drives get distinct files.
func DefaultLockFile(driveAbs string) string {
	sum := strconv.FormatUint(xxhash.Sum64String(driveAbs), 16)

	return filepath.Join(os.TempDir(), "usbstore-"+sum+".lock")
}

func absPath(workDir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}

	return filepath.Join(workDir, p)
}

// loadFile decodes the file at path onto cfg. If mustExist is false a
// missing file is not an error. Reports whether a file was loaded.
func loadFile(cfg *Config, path string, mustExist bool) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return false, nil
		}

		return false, fmt.Errorf("%w: %s: %w", ErrConfigFileRead, path, err)
	}

	if err := Parse(cfg, data); err != nil {
		return false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return true, nil
}

// Parse decodes JSONC data onto cfg. Keys absent from data keep their
// current values. An explicitly empty "drive" is rejected.
func Parse(cfg *Config, data []byte) error {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fmt.Errorf("invalid JSONC: %w", err)
	}

	var raw map[string]json.RawMessage

	if err := json.Unmarshal(standardized, &raw); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if drive, ok := raw["drive"]; ok && string(drive) == `""` {
		return ErrDriveEmpty
	}

	if err := json.Unmarshal(standardized, cfg); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	return nil
}

// Validate checks values that would make the store or worker misbehave.
func Validate(cfg Config) error {
	if cfg.Drive == "" {
		return ErrDriveEmpty
	}

	switch {
	case cfg.PollInterval <= 0:
		return fmt.Errorf("%w: poll_interval must be > 0", ErrInvalidValue)
	case cfg.ProgressInterval <= 0:
		return fmt.Errorf("%w: progress_interval must be > 0", ErrInvalidValue)
	case cfg.MountTimeout < 0, cfg.StatusInterval < 0, cfg.CleanupInterval < 0:
		return fmt.Errorf("%w: durations cannot be negative", ErrInvalidValue)
	case cfg.QueueDepth <= 0:
		return fmt.Errorf("%w: queue_depth must be > 0", ErrInvalidValue)
	case cfg.TempFileLimit < 0:
		return fmt.Errorf("%w: temp_file_limit cannot be negative", ErrInvalidValue)
	case !storage.ValidFilename(cfg.LogFile):
		return fmt.Errorf("%w: log_file %q is not a valid drive filename", ErrInvalidValue, cfg.LogFile)
	case !storage.ValidFilename(cfg.TempFile):
		return fmt.Errorf("%w: temp_file %q is not a valid drive filename", ErrInvalidValue, cfg.TempFile)
	}

	if cfg.LogLevel == "" {
		return fmt.Errorf("%w: log_level cannot be empty", ErrInvalidValue)
	}

	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level: %w", ErrInvalidValue, err)
	}

	return nil
}

// Task returns the worker settings.
func (c Config) Task() task.Config {
	return task.Config{
		MountTimeout:     c.MountTimeout.Std(),
		PollInterval:     c.PollInterval.Std(),
		ProgressInterval: c.ProgressInterval.Std(),
		StatusInterval:   c.StatusInterval.Std(),
		QueueDepth:       c.QueueDepth,
		LogFile:          c.LogFile,
		TempFile:         c.TempFile,
		TempFileLimit:    c.TempFileLimit,
		LowSpace:         c.LowSpace,
	}
}

// Format renders the serialized fields as indented JSON.
func Format(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("formatting config: %w", err)
	}

	return string(data), nil
}
