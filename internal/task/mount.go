package task

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff"
)

var errNotMounted = errors.New("drive not mounted")

// initialize brings up the store and waits for the drive. A failed init
// leaves the worker running but never ready.
func (t *Task) initialize(ctx context.Context) error {
	if err := t.store.Init(); err != nil {
		t.initialized = false
		t.log.Error().Err(err).Msg("storage init failed")

		return err
	}

	t.initialized = true

	if t.WaitForMount(ctx, t.cfg.MountTimeout) {
		t.log.Info().Msg("drive mounted")
	} else {
		t.log.Warn().Dur("timeout", t.cfg.MountTimeout).Msg("drive not mounted, continuing without it")
	}

	t.CheckStatus()

	return nil
}

// WaitForMount polls the store every PollInterval until the drive mounts,
// timeout elapses or ctx is done. It logs progress every ProgressInterval
// and reports whether the drive is mounted. A timeout leaves the store
// unmounted; later mount checks keep retrying.
func (t *Task) WaitForMount(ctx context.Context, timeout time.Duration) bool {
	poll := t.cfg.PollInterval

	retries := uint64(0)
	if timeout > 0 {
		retries = uint64((timeout + poll - 1) / poll)
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(poll), retries),
		ctx,
	)

	start := time.Now()
	lastProgress := start

	err := backoff.RetryNotify(func() error {
		if t.store.IsMounted() {
			return nil
		}

		return errNotMounted
	}, b, func(_ error, _ time.Duration) {
		now := time.Now()
		if now.Sub(lastProgress) < t.cfg.ProgressInterval {
			return
		}

		lastProgress = now
		t.log.Info().
			Dur("elapsed", now.Sub(start).Round(time.Millisecond)).
			Dur("timeout", timeout).
			Msg("waiting for drive")
	})

	return err == nil
}

// CheckStatus re-evaluates the mount state, which may remount the drive,
// and logs connect and disconnect edges. On connect it also logs the free
// space.
//
// A mounted store is not probed, so a pulled drive shows up as a disconnect
// only after some storage operation has failed on it.
func (t *Task) CheckStatus() bool {
	mounted := t.store.IsMounted()

	t.mounted.Store(mounted)

	if mounted {
		t.metrics.Mounted.Set(1)
	} else {
		t.metrics.Mounted.Set(0)
	}

	if mounted == t.lastMounted {
		return mounted
	}

	t.lastMounted = mounted

	if !mounted {
		t.metrics.Transitions.WithLabelValues("disconnect").Inc()
		t.log.Warn().Msg("drive disconnected")

		return false
	}

	t.metrics.Transitions.WithLabelValues("connect").Inc()

	free, err := t.store.GetFreeSpace()
	if err != nil {
		t.log.Info().Err(err).Msg("drive connected")
	} else {
		t.log.Info().Uint64("free_bytes", free).Msg("drive connected")
	}

	return true
}

// ready reports whether storage operations may run now. It is evaluated
// fresh for every command.
func (t *Task) ready() bool {
	return t.CheckStatus() && t.initialized
}
