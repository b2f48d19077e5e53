// Package ports defines the interfaces between the orchestration core and its
// adapters (event bus, run store, artifact store, backends, metrics).
//
// Adapters under pkg/adapters implement these interfaces; the application
// layer under internal/application depends only on this package.
package ports
