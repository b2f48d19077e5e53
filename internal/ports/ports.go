package ports

import (
	"context"
	"time"

	"github.com/forksnd/convey/internal/domain"
)

// EventHandler processes one event delivered by the bus.
type EventHandler func(ctx context.Context, event domain.Event) error

// EventBus decouples the coordination loop from the workers. Workers publish
// stage results; the manager publishes dispatch requests and run lifecycle
// events for observers.
//
// Subscribe joins the bus's shared consumer group: each event is consumed by
// exactly one subscriber, which is what dispatch and result topics need.
// SubscribeBroadcast gives the handler its own copy of every event published
// after the call; observers use it so they never steal events from each other
// or from competing consumers. Both kinds of subscription last until ctx is
// done.
type EventBus interface {
	Publish(ctx context.Context, topic string, event domain.Event) error
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
	SubscribeBroadcast(ctx context.Context, topic string, handler EventHandler) error
	Unsubscribe(ctx context.Context, topic string) error
	Close() error
}

// RunStore persists run state between coordination steps and across restarts.
type RunStore interface {
	SaveRun(ctx context.Context, run *domain.RunState) error
	GetRun(ctx context.Context, runID string) (*domain.RunState, error)
	ListRuns(ctx context.Context) ([]*domain.RunState, error)
	DeleteRun(ctx context.Context, runID string) error
}

// ArtifactStore keeps stage outputs for the lifetime of their run.
// Put enforces at-most-one writer per (run, stage): a second write returns
// domain.ErrArtifactConflict, an unknown ref on Get returns
// domain.ErrArtifactNotFound.
type ArtifactStore interface {
	Put(ctx context.Context, runID, stage string, blob []byte) (domain.ArtifactRef, error)
	Get(ctx context.Context, ref domain.ArtifactRef) ([]byte, *domain.ArtifactMeta, error)
	Stat(ctx context.Context, ref domain.ArtifactRef) (*domain.ArtifactMeta, error)
}

// Backend is the capability every external CI system is reduced to: start a
// job, ask how it is doing, stop it.
type Backend interface {
	Kind() string
	Trigger(ctx context.Context, spec domain.JobSpec) (domain.JobRef, error)
	Poll(ctx context.Context, ref domain.JobRef) (domain.JobStatus, error)
	Cancel(ctx context.Context, ref domain.JobRef) error
}

// BackendRegistry resolves a stage's backend kind to a concrete adapter.
type BackendRegistry interface {
	Backend(kind string) (Backend, bool)
}

// MetricsCollector records orchestrator metrics.
type MetricsCollector interface {
	RecordRunSubmitted(status string)
	RecordRunCompleted(status string, duration time.Duration)
	RecordStageExecuted(backend, status string, duration time.Duration)
	RecordBackendPoll(backend, status string)
	RecordBackendRetry(backend string)
	RecordArtifactStored(size int64)
	RecordWorkerPoolStatus(idle, busy, stopped int)
}
