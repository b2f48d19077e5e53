// Package artifacts provides artifact store implementations.
//
// An artifact is a stage output blob keyed by (run, stage), with SHA-256
// content hash metadata. Stores guarantee at-most-one writer per key.
//
// Implementations:
//   - redis: SETNX-guarded content with run-lifetime TTL
//   - memory: In-memory for testing and single-node use
package artifacts
