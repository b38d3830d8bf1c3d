package orchestrator

import (
	"time"

	"github.com/v0xg/clickloop/internal/metrics"
	"github.com/v0xg/clickloop/internal/task"
)

// TaskResult is the outcome of one queued task
type TaskResult struct {
	Name     string
	Action   task.Action
	Status   task.Status
	Attempts int
	Err      error // Failure reason; nil on success
	Skipped  bool  // Never started because the run stopped first
	Duration time.Duration
}

// Summary describes a finished run
type Summary struct {
	RunID    string
	Started  time.Time
	Duration time.Duration

	Succeeded int
	Failed    int
	Skipped   int
	Results   []TaskResult // Queue order

	// Aborted is set when the run stopped before the queue was drained
	Aborted error
	Metrics metrics.Snapshot
}

func (s *Summary) record(r TaskResult) {
	switch r.Status {
	case task.StatusSucceeded:
		s.Succeeded++
	case task.StatusFailed:
		s.Failed++
	}
	s.Results = append(s.Results, r)
}

func (s *Summary) skip(rest []*task.Task) {
	for _, t := range rest {
		s.Skipped++
		s.Results = append(s.Results, TaskResult{
			Name:    t.Name(),
			Action:  t.Action(),
			Status:  t.Status(),
			Skipped: true,
		})
	}
}

// Failures returns the failed tasks with their reasons
func (s *Summary) Failures() []TaskResult {
	var out []TaskResult
	for _, r := range s.Results {
		if r.Status == task.StatusFailed {
			out = append(out, r)
		}
	}
	return out
}

// OK reports whether every task succeeded
func (s *Summary) OK() bool {
	return s.Failed == 0 && s.Skipped == 0 && s.Aborted == nil
}

// ExitCode maps the run to a process exit status: 0 when every task
// succeeded, 1 otherwise
func (s *Summary) ExitCode() int {
	if s.OK() {
		return 0
	}
	return 1
}
