// Package dispatcher drives external jobs on heterogeneous CI backends.
//
// Every backend is reduced to the trigger/poll/cancel capability. The
// dispatcher adds the common behaviour on top: bounded exponential backoff
// while polling, a transient-error retry ceiling that escalates to
// BackendUnavailable, surfacing terminal failures as JobFailed, and
// best-effort cancellation of the external job when the stage context is
// cancelled.
package dispatcher
