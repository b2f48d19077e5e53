package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/forksnd/convey/internal/application/dispatcher"
	"github.com/forksnd/convey/internal/application/orchestrator"
	"github.com/forksnd/convey/internal/domain"
	"github.com/forksnd/convey/internal/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Pool manages the worker goroutines that execute dispatched stages.
type Pool struct {
	size       int
	eventBus   ports.EventBus
	store      ports.RunStore
	artifacts  ports.ArtifactStore
	dispatcher *dispatcher.Dispatcher
	metrics    ports.MetricsCollector
	logger     *zap.Logger
	health     *HealthMonitor

	stageTimeout time.Duration

	jobs    chan domain.Event
	workers []*worker
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// worker represents a single worker goroutine.
type worker struct {
	id      string
	pool    *Pool
	status  WorkerStatus
	mu      sync.RWMutex
	lastJob time.Time
}

// WorkerStatus represents worker status.
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusStopped WorkerStatus = "stopped"
)

// NewPool creates a new worker pool.
func NewPool(
	size int,
	eventBus ports.EventBus,
	store ports.RunStore,
	artifacts ports.ArtifactStore,
	disp *dispatcher.Dispatcher,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	stageTimeout time.Duration,
	healthCheckInterval time.Duration,
) *Pool {
	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool{
		size:         size,
		eventBus:     eventBus,
		store:        store,
		artifacts:    artifacts,
		dispatcher:   disp,
		metrics:      metrics,
		logger:       logger,
		stageTimeout: stageTimeout,
		jobs:         make(chan domain.Event, 4*size),
		workers:      make([]*worker, size),
		ctx:          ctx,
		cancel:       cancel,
	}

	pool.health = NewHealthMonitor(pool, healthCheckInterval, logger)

	return pool
}

// Start subscribes the pool to stage dispatch events and starts the workers.
// The pool subscribes once; dispatch events fan out to workers over an
// internal channel so each stage is executed exactly once per process.
func (p *Pool) Start() error {
	p.logger.Info("starting worker pool", zap.Int("size", p.size))

	err := p.eventBus.Subscribe(p.ctx, orchestrator.TopicDispatch, func(ctx context.Context, event domain.Event) error {
		select {
		case p.jobs <- event:
			return nil
		case <-p.ctx.Done():
			return p.ctx.Err()
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to dispatch events: %w", err)
	}

	for i := 0; i < p.size; i++ {
		w := &worker{
			id:      fmt.Sprintf("worker-%d", i),
			pool:    p,
			status:  WorkerStatusIdle,
			lastJob: time.Now(),
		}
		p.workers[i] = w

		p.wg.Add(1)
		go w.run(p.ctx)
	}

	p.health.Start()

	p.logger.Info("worker pool started", zap.Int("workers", p.size))
	return nil
}

// Shutdown gracefully shuts down the worker pool.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.logger.Info("shutting down worker pool")

	p.health.Stop()
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool shut down complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout")
	}
}

// Health exposes the pool's health monitor.
func (p *Pool) Health() *HealthMonitor {
	return p.health
}

// GetStatus returns the status of all workers.
func (p *Pool) GetStatus() map[string]WorkerStatus {
	status := make(map[string]WorkerStatus)
	for _, w := range p.workers {
		w.mu.RLock()
		status[w.id] = w.status
		w.mu.RUnlock()
	}
	return status
}

// run is the main worker loop.
func (w *worker) run(ctx context.Context) {
	defer w.pool.wg.Done()

	w.pool.logger.Info("worker started", zap.String("worker_id", w.id))

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			w.status = WorkerStatusStopped
			w.mu.Unlock()
			w.pool.logger.Info("worker stopped", zap.String("worker_id", w.id))
			return

		case event := <-w.pool.jobs:
			w.executeStage(ctx, event)
		}
	}
}

// stageSpec is the dispatch payload, decoded tolerantly after the JSON
// round-trip through the event bus.
type stageSpec struct {
	backend   string
	params    map[string]domain.ParamValue
	targetEnv string
	detach    bool
	timeout   time.Duration
}

func parseDispatch(data map[string]interface{}, defaultTimeout time.Duration) stageSpec {
	spec := stageSpec{timeout: defaultTimeout}
	if s, ok := data["backend"].(string); ok {
		spec.backend = s
	}
	if m, ok := data["params"].(map[string]interface{}); ok {
		spec.params = make(map[string]domain.ParamValue, len(m))
		for k, v := range m {
			spec.params[k] = v
		}
	}
	if s, ok := data["target_env"].(string); ok {
		spec.targetEnv = s
	}
	if b, ok := data["detach"].(bool); ok {
		spec.detach = b
	}
	switch n := data["timeout_seconds"].(type) {
	case float64:
		if n > 0 {
			spec.timeout = time.Duration(n) * time.Second
		}
	case int:
		if n > 0 {
			spec.timeout = time.Duration(n) * time.Second
		}
	}
	return spec
}

// executeStage runs one dispatched stage end to end: trigger the external
// job, wait for it, store the result artifact, report the outcome.
func (w *worker) executeStage(ctx context.Context, event domain.Event) {
	w.mu.Lock()
	w.status = WorkerStatusBusy
	w.lastJob = time.Now()
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.status = WorkerStatusIdle
		w.mu.Unlock()
	}()

	runID := event.RunID
	stage := event.Stage
	spec := parseDispatch(event.Data, w.pool.stageTimeout)

	logger := w.pool.logger.With(
		zap.String("worker_id", w.id),
		zap.String("run_id", runID),
		zap.String("stage", stage),
		zap.String("backend", spec.backend))

	// The run may have been cancelled between dispatch and pickup.
	run, err := w.pool.store.GetRun(ctx, runID)
	if err != nil {
		logger.Error("failed to load run", zap.Error(err))
		return
	}
	if st, ok := run.Stages[stage]; !ok || st.Status.Terminal() || run.Status.Terminal() {
		logger.Info("skipping stale dispatch")
		return
	}

	logger.Info("executing stage")
	start := time.Now()

	stageCtx, cancel := context.WithTimeout(ctx, spec.timeout)
	defer cancel()

	jobSpec := domain.JobSpec{
		RunID:     runID,
		Stage:     stage,
		Params:    spec.params,
		TargetEnv: spec.targetEnv,
	}

	var jobRef domain.JobRef
	_, status, execErr := w.pool.dispatcher.Execute(stageCtx, spec.backend, jobSpec, spec.detach,
		func(ref domain.JobRef) {
			jobRef = ref
			w.publishResult(runID, stage, domain.EventTypeStageStarted, map[string]interface{}{
				"job": jobRefData(ref),
			})
		})

	duration := time.Since(start)

	switch {
	case execErr == nil && status == domain.JobStatusSucceeded:
		data := map[string]interface{}{"job": jobRefData(jobRef)}
		if ref, err := w.storeResult(runID, stage, jobRef, duration); err != nil {
			// A duplicate or failed artifact write fails the stage.
			logger.Error("failed to store stage artifact", zap.Error(err))
			data["error"] = fmt.Sprintf("artifact store: %v", err)
			w.publishResult(runID, stage, domain.EventTypeStageFailed, data)
			w.pool.metrics.RecordStageExecuted(spec.backend, string(domain.StatusFailed), duration)
		} else {
			data["artifact"] = map[string]interface{}{"run_id": ref.RunID, "stage": ref.Stage}
			w.publishResult(runID, stage, domain.EventTypeStageSucceeded, data)
			w.pool.metrics.RecordStageExecuted(spec.backend, string(domain.StatusSucceeded), duration)
		}

	case status == domain.JobStatusCancelled:
		data := map[string]interface{}{"job": jobRefData(jobRef)}
		if errors.Is(execErr, context.DeadlineExceeded) {
			data["error"] = fmt.Sprintf("stage timed out after %s", spec.timeout)
		}
		w.publishResult(runID, stage, domain.EventTypeStageCancelled, data)
		w.pool.metrics.RecordStageExecuted(spec.backend, string(domain.StatusCancelled), duration)

	default:
		msg := "stage failed"
		if execErr != nil {
			msg = execErr.Error()
		}
		data := map[string]interface{}{
			"job":   jobRefData(jobRef),
			"error": msg,
		}
		var unavailable *domain.BackendUnavailable
		if errors.As(execErr, &unavailable) {
			data["retries"] = unavailable.Attempts
		}
		logger.Error("stage execution failed", zap.Error(execErr))
		w.publishResult(runID, stage, domain.EventTypeStageFailed, data)
		w.pool.metrics.RecordStageExecuted(spec.backend, string(domain.StatusFailed), duration)
	}

	logger.Info("stage execution finished",
		zap.String("status", string(status)),
		zap.Duration("duration", duration))
}

// storeResult writes the stage's result receipt to the artifact store. The
// backends expose job status and links rather than downloadable blobs, so
// the receipt is what downstream stages and operators get by ref.
func (w *worker) storeResult(runID, stage string, job domain.JobRef, duration time.Duration) (domain.ArtifactRef, error) {
	receipt, err := json.Marshal(map[string]interface{}{
		"backend":     job.Backend,
		"job_id":      job.ID,
		"link":        job.Link,
		"status":      string(domain.JobStatusSucceeded),
		"duration_ms": duration.Milliseconds(),
		"finished_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return domain.ArtifactRef{}, fmt.Errorf("marshal receipt: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ref, err := w.pool.artifacts.Put(ctx, runID, stage, receipt)
	if err != nil {
		return domain.ArtifactRef{}, err
	}
	w.pool.metrics.RecordArtifactStored(int64(len(receipt)))
	return ref, nil
}

// publishResult reports a stage outcome to the coordination loop. A fresh
// context is used so results still go out when the stage context is done.
func (w *worker) publishResult(runID, stage string, eventType domain.EventType, data map[string]interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	event := domain.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		RunID:     runID,
		Stage:     stage,
		Timestamp: time.Now(),
		Data:      data,
	}

	if err := w.pool.eventBus.Publish(ctx, orchestrator.TopicResults, event); err != nil {
		w.pool.logger.Error("failed to publish stage result",
			zap.String("worker_id", w.id),
			zap.String("run_id", runID),
			zap.String("stage", stage),
			zap.String("event_type", string(eventType)),
			zap.Error(err))
	}
}

func jobRefData(ref domain.JobRef) map[string]interface{} {
	if ref.ID == "" {
		return nil
	}
	return map[string]interface{}{
		"backend": ref.Backend,
		"id":      ref.ID,
		"link":    ref.Link,
	}
}
