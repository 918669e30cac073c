package tasks

import (
	"fmt"

	"github.com/desertthunder/cuedeck/internal/models"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data for advanced UIs
}

// Operation phase enumeration
type Phase int

const (
	TriggerRule Phase = iota
	PollExecution
	ExecutionDone
)

func (p Phase) String() string {
	switch p {
	case TriggerRule:
		return "trigger_rule"
	case PollExecution:
		return "poll_execution"
	case ExecutionDone:
		return "execution_done"
	default:
		return ""
	}
}

func triggeringUpdate(step, total int, ruleID string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   TriggerRule,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Triggering rule %s...", ruleID),
	}
}

func triggeredUpdate(step, total int, ruleID, executionID string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   TriggerRule,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Rule %s triggered (execution %s)", ruleID, executionID),
		Data:    executionID,
	}
}

func pollUpdate(attempt int, entry *models.ExecutionLog) ProgressUpdate {
	if entry == nil {
		return ProgressUpdate{
			Phase:   PollExecution,
			Step:    attempt,
			Message: "Waiting for execution to appear in the log...",
		}
	}
	return ProgressUpdate{
		Phase:   PollExecution,
		Step:    attempt,
		Message: fmt.Sprintf("Execution %s: %s", entry.ExecutionID, entry.Status),
		Data:    *entry,
	}
}

func doneUpdate(step, total int, result *RunResult) ProgressUpdate {
	mark := "✓"
	if result.Status != models.ExecutionSuccess {
		mark = "✗"
	}

	msg := fmt.Sprintf("[%d/%d] %s %s (%s)", step, total, mark, result.RuleID, result.Status)
	if result.Message != "" {
		msg += ": " + result.Message
	}
	return ProgressUpdate{
		Phase:   ExecutionDone,
		Step:    step,
		Total:   total,
		Message: msg,
		Data:    *result,
	}
}
