package cli

import "errors"

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrUnknownTrigger = errors.New("unknown trigger")
	ErrMissingArg     = errors.New("missing argument")
	ErrTooManyArgs    = errors.New("too many arguments")
	ErrInvalidArg     = errors.New("invalid argument")
	ErrDriveBusy      = errors.New("drive is used by another process")
	ErrConfigExists   = errors.New("config file already exists")
)
