package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joeycumines/go-scheduler"
	"github.com/joeycumines/go-scheduler/hostloop"
	"github.com/joeycumines/go-scheduler/internal/workload"
	promexp "github.com/joeycumines/go-scheduler/observability/prometheus"
	"github.com/joeycumines/go-scheduler/trace"
	"github.com/joeycumines/logiface"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// ErrTimedOut is returned by the run command if the workload did not
// quiesce within its timeout.
var ErrTimedOut = errors.New(`schedrun: timed out`)

type runConfig struct {
	listen            string
	traceJSONL        string
	traceDB           string
	timeout           time.Duration
	shutdownTimeout   time.Duration
	frameInterval     time.Duration
	yieldRounds       int
	poolLimit         int
	strictMicrotasks  bool
	disableRunMetrics bool
}

func newRunCmd(logger func() *logiface.Logger[logiface.Event]) *cobra.Command {
	var cfg runConfig

	cmd := &cobra.Command{
		Use:   "run <workload.yaml>",
		Short: "Run a workload on an event loop, until every queue is idle",
		Long: `Run enqueues every task of the workload onto a scheduler, driven by an
in-process event loop, then waits for all five queues to yield, printing a
summary once the loop has shut down.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := workload.Load(args[0])
			if err != nil {
				return err
			}
			return runWorkload(cmd.Context(), cfg, w, cmd.OutOrStdout(), logger())
		},
	}

	cmd.Flags().StringVar(&cfg.listen, "listen", "", "Serve /metrics and /debug endpoints on this address, e.g. :9090")
	cmd.Flags().StringVar(&cfg.traceJSONL, "trace-jsonl", "", "Write task events to this file, as JSON lines")
	cmd.Flags().StringVar(&cfg.traceDB, "trace-db", "", "Write task events to this SQLite database")
	cmd.Flags().DurationVar(&cfg.timeout, "timeout", 0, "Overrides the workload timeout")
	cmd.Flags().DurationVar(&cfg.shutdownTimeout, "shutdown-timeout", 5*time.Second, "Maximum time to drain the loop and traces")
	cmd.Flags().DurationVar(&cfg.frameInterval, "frame-interval", hostloop.DefaultFrameInterval, "Animation frame interval")
	cmd.Flags().IntVar(&cfg.yieldRounds, "yield-rounds", 2, "Number of times to yield every queue, before shutting down")
	cmd.Flags().IntVar(&cfg.poolLimit, "pool-limit", 0, "Maximum pooled tasks per queue (0 for the default)")
	cmd.Flags().BoolVar(&cfg.strictMicrotasks, "strict-microtasks", false, "Drain microtasks after every loop callback")
	cmd.Flags().BoolVar(&cfg.disableRunMetrics, "no-run-metrics", false, "Disable run duration percentiles")

	return cmd
}

type traceOutput struct {
	recorder *trace.Recorder
	close    func() error
	path     string
	file     bool
}

func runWorkload(ctx context.Context, cfg runConfig, w *workload.Workload, out io.Writer, logger *logiface.Logger[logiface.Event]) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}

	timeout := cfg.timeout
	if timeout <= 0 {
		timeout = w.Timeout
	}
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	runID := uuid.NewString()
	started := time.Now()

	loop, err := hostloop.New(
		hostloop.WithLogger(logger),
		hostloop.WithFrameInterval(cfg.frameInterval),
		hostloop.WithStrictMicrotaskOrdering(cfg.strictMicrotasks),
	)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	exporter, err := promexp.NewExporter("", registry, promexp.ExporterOptions{})
	if err != nil {
		return err
	}

	opts := []scheduler.Option{
		scheduler.WithLogger(logger),
		scheduler.WithObserver(exporter),
		scheduler.WithMetrics(!cfg.disableRunMetrics),
	}
	if cfg.poolLimit > 0 {
		opts = append(opts, scheduler.WithPoolLimit(cfg.poolLimit))
	}

	traces, err := openTraces(ctx, cfg, runID, logger)
	defer func() {
		for _, t := range traces {
			if t.close != nil {
				err = errors.Join(err, t.close())
			}
		}
	}()
	if err != nil {
		return err
	}
	for _, t := range traces {
		opts = append(opts, scheduler.WithObserver(t.recorder))
	}

	s, err := hostloop.NewScheduler(loop, opts...)
	if err != nil {
		return err
	}
	if err := registry.Register(promexp.NewQueueCollector("", s)); err != nil {
		return err
	}

	runner := workload.NewRunner(s, w, logger)

	logger.Info().
		Str(`workload`, w.Name).
		Str(`run`, runID).
		Int(`specs`, len(w.Tasks)).
		Dur(`timeout`, timeout).
		Log(`schedrun: starting`)

	g, gctx := errgroup.WithContext(runCtx)

	// canceled once the workload is done, to stop the server
	stopCtx, stop := context.WithCancel(gctx)
	defer stop()

	g.Go(func() error {
		if err := loop.Run(gctx); err != nil && !isContextError(err) {
			return err
		}
		return nil
	})

	if cfg.listen != "" {
		listener, err := net.Listen("tcp", cfg.listen)
		if err != nil {
			_ = loop.Close()
			_ = g.Wait()
			return err
		}
		srv := &http.Server{
			Handler:           newRouter(registry, s, runner),
			ReadHeaderTimeout: 5 * time.Second,
		}
		logger.Info().
			Str(`addr`, listener.Addr().String()).
			Log(`schedrun: serving metrics`)
		g.Go(func() error {
			if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-stopCtx.Done()
			ctx, cancel := context.WithTimeout(context.Background(), cfg.shutdownTimeout)
			defer cancel()
			return srv.Shutdown(ctx)
		})
	}

	g.Go(func() error {
		defer stop()
		if err := runner.Produce(gctx); err != nil {
			return err
		}
		if _, err := s.YieldAll(cfg.yieldRounds).Wait(gctx); err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), cfg.shutdownTimeout)
		defer cancel()
		return loop.Shutdown(ctx)
	})

	runErr := g.Wait()
	// limiter waits fail early, with their own error, near the deadline
	timedOut := runErr != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	if runErr != nil && !timedOut {
		_ = loop.Close()
		return runErr
	}
	if timedOut {
		_ = loop.Close()
	}

	summary := runSummary{
		Name:     displayName(w),
		RunID:    runID,
		Tasks:    runner.Summary(),
		Queues:   s.Stats(),
		Elapsed:  time.Since(started),
		TimedOut: timedOut,
	}

	for _, t := range traces {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.shutdownTimeout)
		if err := t.recorder.Shutdown(ctx); err != nil {
			logger.Warning().
				Err(err).
				Str(`path`, t.path).
				Log(`schedrun: trace shutdown incomplete`)
		}
		cancel()
		stats := t.recorder.Stats()
		ts := traceSummary{
			Path:    t.path,
			Size:    -1,
			Written: stats.Written,
			Dropped: stats.Dropped,
			Failed:  stats.Failed,
		}
		if t.file {
			if info, err := os.Stat(t.path); err == nil {
				ts.Size = info.Size()
			}
		}
		summary.Traces = append(summary.Traces, ts)
	}

	if err := summary.write(out); err != nil {
		return err
	}

	if timedOut {
		return fmt.Errorf(`%w after %s`, ErrTimedOut, timeout)
	}
	return nil
}

// openTraces opens the configured trace sinks, returning any that were
// opened, even on error.
func openTraces(ctx context.Context, cfg runConfig, runID string, logger *logiface.Logger[logiface.Event]) ([]traceOutput, error) {
	var traces []traceOutput
	newRecorder := func(sink trace.Sink) (*trace.Recorder, error) {
		return trace.NewRecorder(sink, &trace.RecorderConfig{Logger: logger, RunID: runID})
	}

	if cfg.traceJSONL != "" {
		f, err := os.Create(cfg.traceJSONL)
		if err != nil {
			return traces, err
		}
		rec, err := newRecorder(trace.NewJSONLinesSink(f))
		if err != nil {
			_ = f.Close()
			return traces, err
		}
		traces = append(traces, traceOutput{
			recorder: rec,
			path:     cfg.traceJSONL,
			file:     true,
			close: func() error {
				_ = rec.Close()
				return f.Close()
			},
		})
	}

	if cfg.traceDB != "" {
		sink, err := trace.OpenSQLite(ctx, cfg.traceDB)
		if err != nil {
			return traces, err
		}
		rec, err := newRecorder(sink)
		if err != nil {
			_ = sink.Close()
			return traces, err
		}
		traces = append(traces, traceOutput{
			recorder: rec,
			path:     cfg.traceDB,
			close: func() error {
				_ = rec.Close()
				return sink.Close()
			},
		})
	}

	return traces, nil
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
