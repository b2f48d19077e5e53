package dispatcher

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/forksnd/convey/internal/domain"
	"github.com/forksnd/convey/internal/ports"
	"go.uber.org/zap"
)

// Config tunes polling and retry behaviour.
type Config struct {
	// InitialPollInterval is the first poll delay after triggering a job.
	InitialPollInterval time.Duration
	// MaxPollInterval bounds the exponential backoff between polls.
	MaxPollInterval time.Duration
	// MaxTransientRetries is the ceiling of consecutive transient backend
	// errors before the dispatcher escalates to BackendUnavailable.
	MaxTransientRetries int
}

// Dispatcher drives external jobs through heterogeneous backends behind the
// trigger/poll/cancel capability.
type Dispatcher struct {
	registry ports.BackendRegistry
	metrics  ports.MetricsCollector
	logger   *zap.Logger
	cfg      Config
}

// New creates a dispatcher over the given backend registry.
func New(registry ports.BackendRegistry, metrics ports.MetricsCollector, logger *zap.Logger, cfg Config) *Dispatcher {
	if cfg.InitialPollInterval <= 0 {
		cfg.InitialPollInterval = time.Second
	}
	if cfg.MaxPollInterval <= 0 {
		cfg.MaxPollInterval = 30 * time.Second
	}
	if cfg.MaxTransientRetries <= 0 {
		cfg.MaxTransientRetries = 5
	}
	return &Dispatcher{
		registry: registry,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
	}
}

// Execute triggers a job on the named backend and, unless detach is set,
// polls it to a terminal status with bounded exponential backoff.
//
// The started callback fires once the backend has accepted the job, so the
// caller can record the JobRef before the (possibly long) poll phase.
//
// Errors: *domain.JobFailed for a terminal backend failure,
// *domain.BackendUnavailable when the transient retry ceiling is exhausted,
// ctx.Err() when the context is cancelled (the external job is cancelled
// best-effort first).
func (d *Dispatcher) Execute(ctx context.Context, backendKind string, spec domain.JobSpec, detach bool, started func(domain.JobRef)) (domain.JobRef, domain.JobStatus, error) {
	backend, ok := d.registry.Backend(backendKind)
	if !ok {
		return domain.JobRef{}, domain.JobStatusFailed, &domain.JobFailed{
			Backend: backendKind,
			Reason:  "unknown backend kind",
		}
	}

	ref, err := d.trigger(ctx, backend, spec)
	if err != nil {
		return domain.JobRef{}, domain.JobStatusFailed, err
	}
	if started != nil {
		started(ref)
	}

	d.logger.Info("external job triggered",
		zap.String("backend", backend.Kind()),
		zap.String("job_id", ref.ID),
		zap.String("run_id", spec.RunID),
		zap.String("stage", spec.Stage))

	if detach {
		// Fire-and-forget stage: acceptance by the backend is success.
		return ref, domain.JobStatusSucceeded, nil
	}

	status, err := d.poll(ctx, backend, ref)
	return ref, status, err
}

// trigger starts the job, retrying transient failures up to the ceiling.
func (d *Dispatcher) trigger(ctx context.Context, backend ports.Backend, spec domain.JobSpec) (domain.JobRef, error) {
	b := d.newBackoff()

	var attempts int
	var lastErr error
	for {
		ref, err := backend.Trigger(ctx, spec)
		if err == nil {
			return ref, nil
		}
		if !domain.IsTransient(err) {
			return domain.JobRef{}, &domain.JobFailed{
				Backend: backend.Kind(),
				Reason:  err.Error(),
			}
		}

		attempts++
		lastErr = err
		d.metrics.RecordBackendRetry(backend.Kind())
		if attempts >= d.cfg.MaxTransientRetries {
			return domain.JobRef{}, &domain.BackendUnavailable{
				Backend:  backend.Kind(),
				Attempts: attempts,
				Err:      lastErr,
			}
		}

		d.logger.Warn("trigger failed, retrying",
			zap.String("backend", backend.Kind()),
			zap.Int("attempt", attempts),
			zap.Error(err))

		if err := d.sleep(ctx, b.NextBackOff()); err != nil {
			return domain.JobRef{}, err
		}
	}
}

// poll watches the job until it reaches a terminal status. Consecutive
// transient errors are counted against the retry ceiling and reset on any
// successful poll.
func (d *Dispatcher) poll(ctx context.Context, backend ports.Backend, ref domain.JobRef) (domain.JobStatus, error) {
	b := d.newBackoff()

	var consecutive int
	for {
		if err := d.sleep(ctx, b.NextBackOff()); err != nil {
			// Run was cancelled while we were waiting; stop the
			// external job best-effort.
			d.cancelDetached(backend, ref)
			return domain.JobStatusCancelled, err
		}

		status, err := backend.Poll(ctx, ref)
		if err != nil {
			if ctx.Err() != nil {
				d.cancelDetached(backend, ref)
				return domain.JobStatusCancelled, ctx.Err()
			}
			if !domain.IsTransient(err) {
				return domain.JobStatusFailed, &domain.JobFailed{
					Backend: backend.Kind(),
					Job:     ref,
					Reason:  err.Error(),
				}
			}

			consecutive++
			d.metrics.RecordBackendRetry(backend.Kind())
			if consecutive >= d.cfg.MaxTransientRetries {
				return domain.JobStatusFailed, &domain.BackendUnavailable{
					Backend:  backend.Kind(),
					Attempts: consecutive,
					Err:      err,
				}
			}
			continue
		}

		consecutive = 0
		d.metrics.RecordBackendPoll(backend.Kind(), string(status))

		switch status {
		case domain.JobStatusSucceeded:
			return status, nil
		case domain.JobStatusFailed:
			return status, &domain.JobFailed{
				Backend: backend.Kind(),
				Job:     ref,
				Reason:  "backend reported job failure",
			}
		case domain.JobStatusCancelled:
			return status, nil
		}
	}
}

// Cancel stops an external job.
func (d *Dispatcher) Cancel(ctx context.Context, ref domain.JobRef) error {
	backend, ok := d.registry.Backend(ref.Backend)
	if !ok {
		return &domain.JobFailed{Backend: ref.Backend, Job: ref, Reason: "unknown backend kind"}
	}
	return backend.Cancel(ctx, ref)
}

// cancelDetached cancels a job with a fresh short-lived context, for use when
// the stage's own context is already done.
func (d *Dispatcher) cancelDetached(backend ports.Backend, ref domain.JobRef) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := backend.Cancel(ctx, ref); err != nil {
		d.logger.Warn("failed to cancel external job",
			zap.String("backend", backend.Kind()),
			zap.String("job_id", ref.ID),
			zap.Error(err))
	}
}

func (d *Dispatcher) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.InitialPollInterval
	b.MaxInterval = d.cfg.MaxPollInterval
	b.MaxElapsedTime = 0 // the stage context bounds total time
	return b
}

func (d *Dispatcher) sleep(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
