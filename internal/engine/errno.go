package engine

import (
	"context"
	"errors"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// errnoResults translates host errno values into engine results.
var errnoResults = map[syscall.Errno]Result{
	unix.ENOENT:       NoFile,
	unix.ENOTDIR:      NoPath,
	unix.EEXIST:       Exist,
	unix.EROFS:        WriteProtected,
	unix.EACCES:       Denied,
	unix.EPERM:        Denied,
	unix.EISDIR:       Denied,
	unix.ENOTEMPTY:    Denied,
	unix.EIO:          DiskErr,
	unix.ENOMEDIUM:    NotReady,
	unix.ENODEV:       NotReady,
	unix.ENXIO:        NotReady,
	unix.ESTALE:       NotReady,
	unix.ETIMEDOUT:    Timeout,
	unix.ENAMETOOLONG: InvalidName,
	unix.EINVAL:       InvalidParameter,
	unix.EMFILE:       TooManyOpenFiles,
	unix.ENFILE:       TooManyOpenFiles,
	unix.EBUSY:        Locked,
	unix.ENOMEM:       NotEnoughCore,
	unix.EBADF:        InvalidObject,
}

// resultFromErr maps a host error to an engine result. Unknown errors are
// IntErr.
func resultFromErr(err error) Result {
	if err == nil {
		return OK
	}

	var r Result
	if errors.As(err, &r) {
		return r
	}

	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}

	if errors.Is(err, os.ErrClosed) {
		return InvalidObject
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		if r, ok := errnoResults[errno]; ok {
			return r
		}
	}

	return IntErr
}

// isMediumFull reports whether a write error means "no space left".
func isMediumFull(err error) bool {
	return errors.Is(err, unix.ENOSPC) || errors.Is(err, unix.EDQUOT)
}
