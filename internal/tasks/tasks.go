// package tasks implements long-running automation operations.
package tasks

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/cuedeck/internal/models"
	"github.com/desertthunder/cuedeck/internal/shared"
	"golang.org/x/time/rate"
)

const (
	defaultPollInterval = time.Second
	defaultPollTimeout  = 2 * time.Minute
	defaultWorkers      = 3
	maxWorkers          = 10
)

// AutomationClient triggers rules and reads the execution log. Implemented by
// services.AutomationService.
type AutomationClient interface {
	TriggerRule(ctx context.Context, productionID, ruleID string) (string, error)
	ExecutionLogs(ctx context.Context, productionID, ruleID string) ([]models.ExecutionLog, error)
}

// RunnerOptions configures an [AutomationRunner].
type RunnerOptions struct {
	Client       AutomationClient
	PollInterval time.Duration // Minimum spacing between log polls (default: 1s)
	Timeout      time.Duration // Per-execution bound on polling (default: 2m)
	Workers      int           // Concurrent executions for RunMany (default: 3, max: 10)
	Logger       *log.Logger
}

// RunResult is the outcome of one triggered execution.
type RunResult struct {
	RuleID      string
	ExecutionID string
	Status      models.ExecutionStatus
	Message     string
	Attempts    int                   // Log polls issued
	Log         []models.ExecutionLog // Entries belonging to this execution, oldest first
	Err         error
}

// AutomationRunner triggers automation rules and follows their executions.
type AutomationRunner struct {
	client  AutomationClient
	limiter *rate.Limiter
	timeout time.Duration
	workers int
	logger  *log.Logger
}

// NewAutomationRunner creates a runner. The poll rate limit is shared by every run.
func NewAutomationRunner(opts RunnerOptions) (*AutomationRunner, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("%w: automation client not initialized", shared.ErrServiceUnavailable)
	}

	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultPollTimeout
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	workers = min(workers, maxWorkers)

	return &AutomationRunner{
		client:  opts.Client,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		timeout: timeout,
		workers: workers,
		logger:  shared.ComponentLogger(opts.Logger, "automation"),
	}, nil
}

// sendProgress sends a progress update through the channel without blocking.
func (r *AutomationRunner) sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

// Run triggers ruleID and polls the execution log until the execution finishes.
//
// A failed execution is not an error: the result carries [models.ExecutionFailed]. Run returns
// [shared.ErrTimeout] when the execution is still pending after the poll timeout, together with the
// last observed state.
func (r *AutomationRunner) Run(ctx context.Context, progress chan<- ProgressUpdate, productionID, ruleID string) (*RunResult, error) {
	result, err := r.run(ctx, progress, productionID, ruleID, 1, 1)
	if result != nil {
		r.sendProgress(progress, doneUpdate(1, 1, result))
	}
	return result, err
}

func (r *AutomationRunner) run(ctx context.Context, progress chan<- ProgressUpdate, productionID, ruleID string, step, total int) (*RunResult, error) {
	if productionID == "" || ruleID == "" {
		return nil, fmt.Errorf("%w: production and rule ids are required", shared.ErrMissingArgument)
	}

	r.sendProgress(progress, triggeringUpdate(step, total, ruleID))

	executionID, err := r.client.TriggerRule(ctx, productionID, ruleID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to trigger rule %s: %w", shared.ErrAPIRequest, ruleID, err)
	}

	r.logger.Info("rule triggered", "production", productionID, "rule", ruleID, "execution", executionID)
	r.sendProgress(progress, triggeredUpdate(step, total, ruleID, executionID))

	result := &RunResult{RuleID: ruleID, ExecutionID: executionID, Status: models.ExecutionPending}

	pollCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	pollDeadline, _ := pollCtx.Deadline()

	// expired distinguishes the caller's cancellation from the poll timeout.
	expired := func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if dl, ok := ctx.Deadline(); ok && !dl.After(pollDeadline) {
			return context.DeadlineExceeded
		}
		return fmt.Errorf("%w: execution %s still %s after %s", shared.ErrTimeout, result.ExecutionID, result.Status, r.timeout)
	}

	for {
		if err := r.limiter.Wait(pollCtx); err != nil {
			return result, expired()
		}

		result.Attempts++
		logs, err := r.client.ExecutionLogs(pollCtx, productionID, ruleID)
		if err != nil {
			if pollCtx.Err() != nil {
				return result, expired()
			}
			r.logger.Warn("execution log poll failed", "execution", executionID, "error", err)
			continue
		}

		entries := executionEntries(logs, executionID)
		var latest *models.ExecutionLog
		if len(entries) > 0 {
			latest = &entries[len(entries)-1]
			result.Log = entries
			result.Status = latest.Status
			result.Message = latest.Message
			if result.ExecutionID == "" {
				result.ExecutionID = latest.ExecutionID
			}
		}
		r.sendProgress(progress, pollUpdate(result.Attempts, latest))

		if result.Status.Terminal() {
			r.logger.Info("execution finished", "execution", result.ExecutionID, "status", result.Status)
			return result, nil
		}
	}
}

// RunMany runs each rule through a bounded worker pool. Results follow the order of ruleIDs; a rule
// that failed to trigger or timed out carries its error in [RunResult.Err].
func (r *AutomationRunner) RunMany(ctx context.Context, progress chan<- ProgressUpdate, productionID string, ruleIDs []string) []RunResult {
	total := len(ruleIDs)
	results := make([]RunResult, total)

	type job struct {
		index  int
		ruleID string
	}
	jobs := make(chan job)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
	)
	for range min(r.workers, max(total, 1)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				res, err := r.run(ctx, progress, productionID, j.ruleID, j.index+1, total)
				if res == nil {
					res = &RunResult{RuleID: j.ruleID}
				}
				res.Err = err
				results[j.index] = *res

				mu.Lock()
				completed++
				step := completed
				mu.Unlock()
				r.sendProgress(progress, doneUpdate(step, total, res))
			}
		}()
	}

	for i, id := range ruleIDs {
		select {
		case jobs <- job{index: i, ruleID: id}:
		case <-ctx.Done():
			for k := i; k < total; k++ {
				results[k] = RunResult{RuleID: ruleIDs[k], Err: ctx.Err()}
			}
			close(jobs)
			wg.Wait()
			return results
		}
	}
	close(jobs)
	wg.Wait()

	return results
}

// executionEntries returns the log entries of executionID, oldest first. With no execution id every
// entry of the most recent execution is returned.
func executionEntries(logs []models.ExecutionLog, executionID string) []models.ExecutionLog {
	sorted := slices.Clone(logs)
	slices.SortStableFunc(sorted, func(a, b models.ExecutionLog) int {
		return a.StartedAt.Compare(b.StartedAt)
	})

	if executionID == "" && len(sorted) > 0 {
		executionID = sorted[len(sorted)-1].ExecutionID
	}

	var entries []models.ExecutionLog
	for _, entry := range sorted {
		if entry.ExecutionID == executionID {
			entries = append(entries, entry)
		}
	}
	return entries
}
