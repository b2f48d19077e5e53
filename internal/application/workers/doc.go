// Package workers runs the pool of goroutines that execute dispatched
// pipeline stages. The pool consumes stage dispatch events from the event
// bus, triggers the matching external job through the dispatcher, stores a
// result receipt in the artifact store and publishes the outcome back to
// the coordination loop.
package workers
