// Package tasks follows automation rule executions with real-time progress reporting.
//
// # Core Operations
//
//  1. [AutomationRunner.Run] : trigger one rule and poll the execution log until the execution
//     reaches a terminal status or the poll timeout elapses
//  2. [AutomationRunner.RunMany] : trigger several rules through a bounded worker pool, sharing one
//     poll rate limit
//
// # Progress Reporting
//
// All operations use non-blocking channels for progress updates.
//
// The [ProgressUpdate] struct contains phase, step counters, messages, and optional data for
// advanced UI rendering. Updates use select with default to prevent blocking, so a slow or absent
// reader never stalls a run.
package tasks
