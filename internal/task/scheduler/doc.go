// Package scheduler registers recurring tasks and runs them.
//
// The Scheduler is the registration facade:
//   - building schedules through the recurrence engine
//   - storing tasks in the registry (upsert by name)
//   - owning the process-wide execution counter
//
// The Worker is the control loop that waits for the next due time,
// dispatches due tasks and drains running executions on shutdown.
package scheduler
