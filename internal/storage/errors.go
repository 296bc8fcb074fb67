package storage

import (
	"errors"
	"fmt"

	"github.com/calvinalkan/usbstore/internal/engine"
)

// Errors returned by [Store]. Every failure wraps exactly one of them;
// use errors.Is to test, or [ResultOf] to get the numeric [Result].
var (
	ErrGeneric          = errors.New("storage error")
	ErrNotMounted       = errors.New("not mounted")
	ErrFileNotFound     = errors.New("file not found")
	ErrFileExists       = errors.New("file exists")
	ErrDiskFull         = errors.New("disk full")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrFileAlreadyOpen  = errors.New("file already open")
	ErrFileNotOpen      = errors.New("file not open")
	ErrWriteProtected   = errors.New("write protected")
	ErrTimeout          = errors.New("timeout")
)

// Result is the numeric form of the storage error taxonomy.
type Result int

const (
	ResultOK Result = iota
	ResultGeneric
	ResultNotMounted
	ResultFileNotFound
	ResultFileExists
	ResultDiskFull
	ResultInvalidParameter
	ResultFileAlreadyOpen
	ResultFileNotOpen
	ResultWriteProtected
	ResultTimeout
)

var resultErrors = []struct {
	result Result
	err    error
}{
	{ResultNotMounted, ErrNotMounted},
	{ResultFileNotFound, ErrFileNotFound},
	{ResultFileExists, ErrFileExists},
	{ResultDiskFull, ErrDiskFull},
	{ResultInvalidParameter, ErrInvalidParameter},
	{ResultFileAlreadyOpen, ErrFileAlreadyOpen},
	{ResultFileNotOpen, ErrFileNotOpen},
	{ResultWriteProtected, ErrWriteProtected},
	{ResultTimeout, ErrTimeout},
	{ResultGeneric, ErrGeneric},
}

// ResultOf classifies err. nil is ResultOK; errors outside the taxonomy are
// ResultGeneric.
func ResultOf(err error) Result {
	if err == nil {
		return ResultOK
	}

	for _, re := range resultErrors {
		if errors.Is(err, re.err) {
			return re.result
		}
	}

	return ResultGeneric
}

func (r Result) String() string {
	if r == ResultOK {
		return "ok"
	}

	for _, re := range resultErrors {
		if re.result == r {
			return re.err.Error()
		}
	}

	return fmt.Sprintf("result(%d)", int(r))
}

// resultTable translates engine results. Codes missing from the table are
// ErrGeneric.
var resultTable = map[engine.Result]error{
	engine.NoFile:           ErrFileNotFound,
	engine.NoPath:           ErrFileNotFound,
	engine.Exist:            ErrFileExists,
	engine.DiskErr:          ErrNotMounted,
	engine.NotReady:         ErrNotMounted,
	engine.WriteProtected:   ErrWriteProtected,
	engine.Timeout:          ErrTimeout,
	engine.InvalidParameter: ErrInvalidParameter,
	engine.InvalidName:      ErrInvalidParameter,
}

// translate maps an engine error onto the taxonomy.
func translate(err error) error {
	if err == nil {
		return nil
	}

	if sentinel, ok := resultTable[engine.ResultOf(err)]; ok {
		return sentinel
	}

	return ErrGeneric
}
