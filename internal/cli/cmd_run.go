package cli

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
)

// RunCmd returns the run command.
func RunCmd(a *app) *Command {
	flags := flag.NewFlagSet("run", flag.ContinueOnError)
	metricsAddr := flags.String("metrics-addr", "", "Serve prometheus metrics on `addr` (overrides metrics_addr)")
	exitOnEOF := flags.Bool("exit-on-eof", false, "Stop once stdin is exhausted and all triggers are handled")
	cleanupEvery := flags.Duration("cleanup-interval", -1, "Trigger cleanup every `interval` (overrides cleanup_interval, 0 disables)")

	return &Command{
		Flags: flags,
		Usage: "run [flags]",
		Short: "Run the storage worker",
		Long: "Run the storage worker until interrupted.\n\n" +
			"Triggers are read from stdin, one per line:\n" +
			"  test                          run the test routine\n" +
			"  log <temp> <humidity> [ts]    log a sensor record\n" +
			"  cleanup                       run the cleanup routine\n" +
			"  init                          re-run the init sequence",
		Group: GroupWorker,
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			opts := runOptions{
				metricsAddr: a.cfg.MetricsAddr,
				exitOnEOF:   *exitOnEOF,
				cleanup:     a.cfg.CleanupInterval.Std(),
			}

			if *metricsAddr != "" {
				opts.metricsAddr = *metricsAddr
			}

			if *cleanupEvery >= 0 {
				opts.cleanup = *cleanupEvery
			}

			return execRun(ctx, o, a, opts)
		},
	}
}

type runOptions struct {
	metricsAddr string
	exitOnEOF   bool
	cleanup     time.Duration
}

func execRun(ctx context.Context, o *IO, a *app, opts runOptions) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if opts.metricsAddr != "" {
		shutdown, err := serveMetrics(a, opts.metricsAddr, reg)
		if err != nil {
			return err
		}

		defer shutdown()
	}

	w, err := a.startWorker(ctx, reg)
	if err != nil {
		return err
	}

	lines := readLines(ctx, a.in)

	var cleanup <-chan time.Time

	if opts.cleanup > 0 {
		ticker := time.NewTicker(opts.cleanup)
		defer ticker.Stop()

		cleanup = ticker.C
	}

	var runErr error

loop:
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				lines = nil

				if opts.exitOnEOF {
					if err := w.flush(ctx, a.cfg.PollInterval.Std()); err != nil && ctx.Err() == nil {
						a.log.Warn().Err(err).Msg("flushing queued triggers")
					}

					cancel()
				}

				continue
			}

			if err := a.fireTrigger(w.task, strings.Fields(line)); err != nil {
				a.log.Warn().Err(err).Str("line", line).Msg("trigger ignored")
			}
		case <-cleanup:
			_ = w.task.TriggerCleanup()
		case runErr = <-w.done:
			// Hand the result back so stop does not wait forever.
			w.done <- runErr

			break loop
		}
	}

	w.stop()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}

	stats := w.task.Stats()
	o.Printf("test_runs=%d\n", stats.TestRuns)
	o.Printf("logged_records=%d\n", stats.LoggedRecords)

	return nil
}

// readLines streams non-empty lines from r until EOF or ctx is done.
// The channel is closed at the end. A nil r yields a closed channel.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)

	if r == nil {
		close(lines)

		return lines
	}

	go func() {
		defer close(lines)

		sc := bufio.NewScanner(r)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}

			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	return lines
}

// serveMetrics starts the metrics endpoint and returns its shutdown func.
func serveMetrics(a *app, addr string, reg *prometheus.Registry) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error().Err(err).Msg("metrics server")
		}
	}()

	a.log.Info().Str("addr", ln.Addr().String()).Msg("serving metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		_ = srv.Shutdown(ctx)
	}, nil
}
