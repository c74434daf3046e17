// Package recurrence turns task frequencies into anchored schedules.
//
// It is pure computation: a frequency (seconds, a Rule, or a prebuilt
// schedule) becomes a Rule, the Rule gets an anchor aligned to a "nice"
// boundary, and the resulting Schedule answers "next occurrence after now".
// When a ScheduleLoader is configured, a previously persisted schedule with
// the same period keeps its phase across restarts.
package recurrence
