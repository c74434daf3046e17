// Package storage persists scheduler state and provides named leases.
//
// It backs the scheduler hooks:
//   - schedules, so a restart keeps each task's phase
//   - task return values, for tasks registered with Save
//   - leases, for task-level and process-level locking
//
// Drivers: memory, file, sqlite and redis. Only sqlite and redis leases are
// shared between processes.
package storage
