package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/v0xg/clickloop/internal/browser"
	"github.com/v0xg/clickloop/internal/config"
	"github.com/v0xg/clickloop/internal/coords"
	"github.com/v0xg/clickloop/internal/cursor"
	"github.com/v0xg/clickloop/internal/metrics"
	"github.com/v0xg/clickloop/internal/orchestrator"
	"github.com/v0xg/clickloop/internal/overlay"
	"github.com/v0xg/clickloop/internal/recording"
	"github.com/v0xg/clickloop/internal/task"
	"github.com/v0xg/clickloop/internal/verify"
	"github.com/v0xg/clickloop/internal/vision"
)

func run(cmd *cobra.Command, args []string) error {
	logger := initLogger(verbose, logFormat)
	defer func() { _ = logger.Sync() }()

	file, tasks, err := config.Load(args[0])
	if err != nil {
		return err
	}
	if err := applyFlags(cmd, file); err != nil {
		return err
	}
	settings := file.Settings

	logVerbose("Starting clickloop")
	logVerbose("  URL: %s", file.URL)
	logVerbose("  Tasks: %d", len(tasks))
	logVerbose("  Provider: %s", settings.Provider)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Step 1: Vision provider (fail before launching anything)
	fmt.Printf("→ Connecting vision provider %s... ", settings.Provider)
	provider, err := vision.NewProvider(settings.Provider, settings.Model, logger)
	if err != nil {
		fmt.Println("failed")
		return fmt.Errorf("vision provider init failed: %w", err)
	}
	fmt.Println("done")

	// Step 2: Browser
	fmt.Printf("→ Opening %s... ", file.URL)
	b, err := browser.Launch(ctx, file.URL, settings.BrowserOptions(), logger)
	if err != nil {
		fmt.Println("failed")
		return err
	}
	defer b.Close()

	surface, err := b.SurfaceSize(ctx)
	if err != nil {
		fmt.Println("failed")
		return fmt.Errorf("failed to measure viewport: %w", err)
	}
	mapper, err := coords.NewMapper(b.CaptureSize(), surface)
	if err != nil {
		fmt.Println("failed")
		return err
	}
	fmt.Printf("done (viewport %s, frames %s)\n", surface, b.CaptureSize())

	ctrl := cursor.New(b, mapper, settings.CursorOptions(), logger)
	if err := ctrl.Home(ctx); err != nil {
		return fmt.Errorf("failed to place cursor: %w", err)
	}

	// Step 3: Wire verification and location
	var rec *recording.Recorder
	var sink overlay.Sink
	if settings.Record != "" {
		rec = recording.NewRecorder(recording.DefaultOptions())
		sink = rec
	}
	var position overlay.PositionFunc
	if settings.MarkCursor {
		position = ctrl.Position
	}
	frames := overlay.NewCapturer(b, position, mapper, overlay.DefaultStyle(), sink)
	gate := verify.NewGate(frames, provider, settings.VerifyOptions(), logger)
	locator := browser.NewLocator(b, mapper, vision.NewLocator(b, provider))

	collector := metrics.NewCollector("clickloop", logger)

	opts := settings.OrchestratorOptions()
	opts.OnTaskDone = printResult
	orch := orchestrator.New(ctrl, mapper, gate, locator, collector, opts, logger)
	for _, t := range tasks {
		if err := orch.AddTask(t); err != nil {
			return err
		}
	}

	// Step 4: Run, with the cursor sync loop and metrics endpoint alongside
	fmt.Printf("→ Running %d tasks...\n", len(tasks))
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return ctrl.Sync(gctx)
	})
	if settings.MetricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, settings.MetricsAddr, collector, logger)
		})
	}

	var summary *orchestrator.Summary
	g.Go(func() error {
		defer cancelRun()
		summary = orch.Run(ctx)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Warn("background task failed", zap.Error(err))
	}

	// Step 5: Recording
	if rec != nil && rec.Len() > 0 {
		fmt.Printf("→ Writing recording (%d frames)... ", rec.Len())
		size, err := rec.Save(settings.Record)
		if err != nil {
			fmt.Println("failed")
			logger.Error("recording failed", zap.Error(err))
		} else {
			fmt.Printf("done (%s, %.1f MB)\n", settings.Record, float64(size)/(1024*1024))
		}
	}

	printSummary(summary)
	return &runExit{code: summary.ExitCode()}
}

// serveMetrics serves /metrics until ctx is done
func serveMetrics(ctx context.Context, addr string, collector *metrics.Collector, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics endpoint listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics endpoint: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func printResult(r orchestrator.TaskResult) {
	if r.Status == task.StatusSucceeded {
		fmt.Printf("  ✓ %s (%s, %d attempt%s, %s)\n", r.Name, r.Action, r.Attempts, plural(r.Attempts), r.Duration.Round(time.Millisecond))
		return
	}
	fmt.Printf("  ✗ %s (%s, %d attempt%s): %v\n", r.Name, r.Action, r.Attempts, plural(r.Attempts), r.Err)
}

func printSummary(s *orchestrator.Summary) {
	for _, r := range s.Results {
		if r.Skipped {
			fmt.Printf("  - %s skipped\n", r.Name)
		}
	}
	if s.Aborted != nil {
		fmt.Printf("⚠ Run stopped early: %v\n", s.Aborted)
	}

	mark := "✓"
	if !s.OK() {
		mark = "✗"
	}
	fmt.Printf("%s %d succeeded, %d failed, %d skipped in %s (run %s, %d retries)\n",
		mark, s.Succeeded, s.Failed, s.Skipped, s.Duration.Round(time.Millisecond), s.RunID, s.Metrics.Retried)
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func logVerbose(format string, args ...interface{}) {
	if verbose {
		fmt.Printf(format+"\n", args...)
	}
}
