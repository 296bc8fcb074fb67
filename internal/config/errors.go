package config

import "errors"

var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
	ErrConfigInvalid      = errors.New("invalid config file")
	ErrDriveEmpty         = errors.New("drive cannot be empty")
	ErrInvalidValue       = errors.New("invalid config value")
)
