// Package orchestrator coordinates pipeline runs. The Manager owns each
// run's state from a single goroutine: it dispatches stages whose
// dependencies have succeeded, folds worker results back into the run and
// settles the final status. The Validator gates runs up front, checking
// the declaration's structure, backends and stage graph and applying the
// release policy to trigger parameters.
package orchestrator
