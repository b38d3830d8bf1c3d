package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// exitSetup is returned for anything that fails before the first task runs
const exitSetup = 2

var (
	url           string
	width         int
	height        int
	captureWidth  int
	captureHeight int
	provider      string
	model         string
	maxAttempts   int
	retryDelay    string
	verifyTimeout string
	settleDelay   string
	minConfidence float64
	clamp         bool
	headful       bool
	noCursor      bool
	profile       string
	record        string
	metricsAddr   string
	logFormat     string
	verbose       bool
)

// runExit carries the run's exit status out of cobra
type runExit struct {
	code int
}

func (e *runExit) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func main() {
	// Load .env file if present (silently ignore if not found)
	_ = godotenv.Load()

	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		var exit *runExit
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitSetup)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "clickloop <tasks-file>",
		Short: "Drive a web page through verified, retried steps",
		Long: `clickloop opens a page in Chromium and runs the steps of a task file one
by one: it moves an eased cursor, clicks, types and scrolls, then asks a
vision model whether each step reached the expected state, retrying within
each step's attempt budget.

Exit status is 0 when every task succeeded, 1 when any failed or was
skipped, and 2 when the run could not start.

Example:
  clickloop login.yaml --url https://myapp.com --record login.gif`,
		Args:          cobra.ExactArgs(1),
		RunE:          run,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := rootCmd.Flags()
	f.StringVar(&url, "url", "", "Start URL (overrides the task file)")
	f.IntVar(&width, "width", 0, "Viewport width")
	f.IntVar(&height, "height", 0, "Viewport height")
	f.IntVar(&captureWidth, "capture-width", 0, "Width of frames sent to the vision model (default: viewport)")
	f.IntVar(&captureHeight, "capture-height", 0, "Height of frames sent to the vision model (default: viewport)")
	f.StringVar(&provider, "provider", "", "Vision provider: claude, openai (default: from env or claude)")
	f.StringVar(&model, "model", "", "Specific model override")
	f.IntVar(&maxAttempts, "max-attempts", 0, "Attempts per task")
	f.StringVar(&retryDelay, "retry-delay", "", "Delay between attempts, e.g. 1s")
	f.StringVar(&verifyTimeout, "verify-timeout", "", "Verification timeout, e.g. 30s")
	f.StringVar(&settleDelay, "settle-delay", "", "Pause between an action and its verification")
	f.Float64Var(&minConfidence, "min-confidence", 0, "Minimum verification confidence (0-1)")
	f.BoolVar(&clamp, "clamp", false, "Clamp out-of-bounds targets instead of failing the attempt")
	f.BoolVar(&headful, "headful", false, "Show the browser window")
	f.BoolVar(&noCursor, "no-cursor", false, "Don't draw the cursor marker on verification frames")
	f.StringVar(&profile, "profile", "", "Chrome/Chromium profile directory for authenticated sessions (close browser first)")
	f.StringVarP(&record, "record", "o", "", "Write the verification frames to this GIF")
	f.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	f.StringVar(&logFormat, "log-format", "console", "Log format: console, json")
	f.BoolVarP(&verbose, "verbose", "v", false, "Show detailed progress")

	rootCmd.AddCommand(newCheckCmd())
	return rootCmd
}
