package engine

import (
	"errors"
	"strconv"
)

// Result is the engine's native result code. Every failing engine call
// returns one of these as its error; success is a nil error, never OK.
type Result int

const (
	OK               Result = iota // succeeded
	DiskErr                        // hard error in the low level disk I/O layer
	IntErr                         // internal error
	NotReady                       // the physical drive cannot work
	NoFile                         // could not find the file
	NoPath                         // could not find the path
	InvalidName                    // the path name format is invalid
	Denied                         // access denied due to prohibited access or directory full
	Exist                          // the object already exists
	InvalidObject                  // the file object is invalid
	WriteProtected                 // the physical drive is write protected
	InvalidDrive                   // the logical drive number is invalid
	NotEnabled                     // the volume has no work area (not mounted)
	NoFilesystem                   // there is no valid volume
	Timeout                        // could not get access to the volume within the defined period
	Locked                         // rejected by the file sharing policy
	NotEnoughCore                  // working buffer could not be allocated
	TooManyOpenFiles               // number of open files exceeds the engine limit
	InvalidParameter               // given parameter is invalid
)

var resultNames = [...]string{
	OK:               "ok",
	DiskErr:          "disk error",
	IntErr:           "internal error",
	NotReady:         "not ready",
	NoFile:           "no file",
	NoPath:           "no path",
	InvalidName:      "invalid name",
	Denied:           "denied",
	Exist:            "exist",
	InvalidObject:    "invalid object",
	WriteProtected:   "write protected",
	InvalidDrive:     "invalid drive",
	NotEnabled:       "not enabled",
	NoFilesystem:     "no filesystem",
	Timeout:          "timeout",
	Locked:           "locked",
	NotEnoughCore:    "not enough core",
	TooManyOpenFiles: "too many open files",
	InvalidParameter: "invalid parameter",
}

func (r Result) String() string {
	if r >= 0 && int(r) < len(resultNames) {
		return resultNames[r]
	}

	return "result(" + strconv.Itoa(int(r)) + ")"
}

func (r Result) Error() string {
	return "engine: " + r.String()
}

// ResultOf extracts the engine result from err. A nil error is OK; an error
// that carries no Result is IntErr.
func ResultOf(err error) Result {
	if err == nil {
		return OK
	}

	var r Result
	if errors.As(err, &r) {
		return r
	}

	return IntErr
}
