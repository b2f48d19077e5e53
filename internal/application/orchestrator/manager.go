package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/forksnd/convey/internal/application/dispatcher"
	"github.com/forksnd/convey/internal/application/graph"
	"github.com/forksnd/convey/internal/domain"
	"github.com/forksnd/convey/internal/pipeline"
	"github.com/forksnd/convey/internal/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event bus topics.
const (
	// TopicDispatch carries stage dispatch requests from the manager to
	// the worker pool.
	TopicDispatch = "stage.dispatch"
	// TopicResults carries stage results from workers back to the manager.
	TopicResults = "stage.results"
	// TopicRunEvents carries run lifecycle events for observers.
	TopicRunEvents = "run.events"
)

// Manager coordinates pipeline runs. Each run's state is owned by exactly
// one coordination goroutine; workers report results as events and never
// touch run state directly.
type Manager struct {
	pipelines  *pipeline.Registry
	eventBus   ports.EventBus
	store      ports.RunStore
	dispatcher *dispatcher.Dispatcher
	metrics    ports.MetricsCollector
	validator  *Validator
	logger     *zap.Logger

	// Track active executions
	executions sync.Map // map[string]*execution

	runTimeout time.Duration
}

// execution holds the coordination-side state of a single active run.
type execution struct {
	runID      string
	graph      *graph.Graph
	decl       *pipeline.Declaration
	updates    chan domain.Event
	cancelFunc context.CancelFunc

	mu        sync.Mutex
	cancelled bool
}

// NewManager creates a new orchestrator manager.
func NewManager(
	pipelines *pipeline.Registry,
	eventBus ports.EventBus,
	store ports.RunStore,
	disp *dispatcher.Dispatcher,
	metrics ports.MetricsCollector,
	validator *Validator,
	logger *zap.Logger,
	runTimeout time.Duration,
) *Manager {
	return &Manager{
		pipelines:  pipelines,
		eventBus:   eventBus,
		store:      store,
		dispatcher: disp,
		metrics:    metrics,
		validator:  validator,
		logger:     logger,
		runTimeout: runTimeout,
	}
}

// Start subscribes the manager to stage results. Must be called once before
// the first trigger.
func (m *Manager) Start(ctx context.Context) error {
	return m.eventBus.Subscribe(ctx, TopicResults, func(ctx context.Context, event domain.Event) error {
		m.routeResult(event)
		return nil
	})
}

// routeResult forwards a worker result to the owning coordination loop.
// Results for finished runs are dropped; the loop already decided.
func (m *Manager) routeResult(event domain.Event) {
	val, ok := m.executions.Load(event.RunID)
	if !ok {
		return
	}
	exec := val.(*execution)
	select {
	case exec.updates <- event:
	default:
		// The updates channel is sized for the whole stage graph; a
		// full channel means duplicate deliveries, safe to drop.
		m.logger.Warn("dropping stage result, updates channel full",
			zap.String("run_id", event.RunID),
			zap.String("stage", event.Stage))
	}
}

// TriggerRun validates and starts a run of the named pipeline.
func (m *Manager) TriggerRun(ctx context.Context, pipelineName string, params map[string]domain.ParamValue) (string, error) {
	decl, ok := m.pipelines.Get(pipelineName)
	if !ok {
		return "", fmt.Errorf("unknown pipeline: %s", pipelineName)
	}

	g, err := m.validator.Validate(decl)
	if err != nil {
		m.logger.Error("pipeline validation failed",
			zap.String("pipeline", pipelineName),
			zap.Error(err))
		m.metrics.RecordRunSubmitted(string(domain.StatusFailed))
		return "", err
	}

	// Release policy gate: a bad version bump aborts before any stage runs.
	if err := m.validator.ValidateTrigger(decl, params); err != nil {
		m.logger.Error("trigger validation failed",
			zap.String("pipeline", pipelineName),
			zap.Error(err))
		m.metrics.RecordRunSubmitted(string(domain.StatusFailed))
		return "", err
	}

	runID := uuid.New().String()

	run := &domain.RunState{
		RunID:       runID,
		Pipeline:    decl.Name,
		Trigger:     params,
		Status:      domain.StatusPending,
		Stages:      make(map[string]*domain.StageState, len(decl.Stages)),
		SubmittedAt: time.Now(),
	}
	for _, stage := range decl.Stages {
		run.Stages[stage.Name] = &domain.StageState{
			Name:    stage.Name,
			Needs:   append([]string(nil), stage.Needs...),
			Backend: stage.Backend,
			Status:  domain.StatusPending,
		}
	}

	if err := m.store.SaveRun(ctx, run); err != nil {
		m.logger.Error("failed to save initial run state",
			zap.String("run_id", runID),
			zap.Error(err))
		return "", fmt.Errorf("failed to save run: %w", err)
	}

	m.publishRunEvent(ctx, domain.EventTypeRunSubmitted, run, nil)

	runCtx, cancel := context.WithTimeout(context.Background(), m.runTimeout)
	exec := &execution{
		runID:      runID,
		graph:      g,
		decl:       decl,
		updates:    make(chan domain.Event, 2*len(decl.Stages)+4),
		cancelFunc: cancel,
	}
	m.executions.Store(runID, exec)

	m.metrics.RecordRunSubmitted(string(domain.StatusPending))
	m.logger.Info("run submitted",
		zap.String("run_id", runID),
		zap.String("pipeline", decl.Name),
		zap.Int("stages", len(decl.Stages)))

	go m.coordinate(runCtx, exec, run)

	return runID, nil
}

// GetRun retrieves the current state of a run.
func (m *Manager) GetRun(ctx context.Context, runID string) (*domain.RunState, error) {
	return m.store.GetRun(ctx, runID)
}

// ListRuns lists all known runs.
func (m *Manager) ListRuns(ctx context.Context) ([]*domain.RunState, error) {
	return m.store.ListRuns(ctx)
}

// CancelRun cancels an active run: pending stages never start, running
// stages' external jobs are cancelled, succeeded stages keep their
// artifacts.
func (m *Manager) CancelRun(ctx context.Context, runID string) error {
	val, ok := m.executions.Load(runID)
	if !ok {
		run, err := m.store.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		return fmt.Errorf("run already in terminal state: %s", run.Status)
	}

	exec := val.(*execution)
	exec.mu.Lock()
	already := exec.cancelled
	exec.cancelled = true
	exec.mu.Unlock()
	if already {
		return nil
	}

	m.logger.Info("cancelling run", zap.String("run_id", runID))

	// Wake the coordination loop; it owns the state transitions.
	exec.cancelFunc()
	return nil
}

// coordinate is the single-threaded coordination loop for one run. It is
// the only writer of the run's state.
func (m *Manager) coordinate(ctx context.Context, exec *execution, run *domain.RunState) {
	defer exec.cancelFunc()
	defer m.executions.Delete(exec.runID)

	start := time.Now()
	now := start
	run.Status = domain.StatusRunning
	run.StartedAt = &now
	m.saveRun(run)
	m.publishRunEvent(context.Background(), domain.EventTypeRunStarted, run, nil)

	dispatched := make(map[string]bool, len(run.Stages))
	m.dispatchReady(ctx, exec, run, dispatched)

	for !m.runDone(run) {
		select {
		case <-ctx.Done():
			m.abortRun(exec, run)
			m.finishRun(run, start)
			return

		case event := <-exec.updates:
			m.applyResult(run, event)

			// A failed or cancelled stage can never unblock its
			// dependents; settle them now instead of letting them
			// sit until the run timeout.
			switch event.Type {
			case domain.EventTypeStageFailed, domain.EventTypeStageCancelled:
				m.skipDependents(run, exec.graph, event.Stage)
			}

			m.saveRun(run)

			if event.Type == domain.EventTypeStageSucceeded {
				m.dispatchReady(ctx, exec, run, dispatched)
			}
		}
	}

	m.finishRun(run, start)
}

// dispatchReady publishes dispatch events for every stage whose dependencies
// have all succeeded and which has not been dispatched yet.
func (m *Manager) dispatchReady(ctx context.Context, exec *execution, run *domain.RunState, dispatched map[string]bool) {
	for _, name := range exec.graph.NextReady(run) {
		if dispatched[name] {
			continue
		}
		dispatched[name] = true

		decl, _ := exec.decl.Stage(name)
		event := domain.Event{
			ID:        uuid.New().String(),
			Type:      domain.EventTypeStageDispatch,
			RunID:     run.RunID,
			Stage:     name,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"backend":         decl.Backend,
				"params":          mergeParams(decl.Params, run.Trigger),
				"target_env":      decl.TargetEnv,
				"detach":          decl.Detach,
				"timeout_seconds": decl.TimeoutSeconds,
			},
		}

		if err := m.eventBus.Publish(ctx, TopicDispatch, event); err != nil {
			m.logger.Error("failed to dispatch stage",
				zap.String("run_id", run.RunID),
				zap.String("stage", name),
				zap.Error(err))
			st := run.Stages[name]
			st.Status = domain.StatusFailed
			st.Error = fmt.Sprintf("dispatch failed: %v", err)
			m.recordFatal(run, st.Error)
			m.skipDependents(run, exec.graph, name)
			continue
		}

		m.logger.Info("stage dispatched",
			zap.String("run_id", run.RunID),
			zap.String("stage", name),
			zap.String("backend", decl.Backend))
	}
}

// applyResult folds one worker result into the run state.
func (m *Manager) applyResult(run *domain.RunState, event domain.Event) {
	st, ok := run.Stages[event.Stage]
	if !ok {
		m.logger.Warn("result for unknown stage",
			zap.String("run_id", run.RunID),
			zap.String("stage", event.Stage))
		return
	}
	// A terminal stage never changes again; late duplicates are dropped.
	if st.Status.Terminal() {
		return
	}

	now := time.Now()
	if job := jobRefFromData(event.Data); job != nil {
		st.Job = job
	}

	switch event.Type {
	case domain.EventTypeStageStarted:
		st.Status = domain.StatusRunning
		st.StartedAt = &now

	case domain.EventTypeStageSucceeded:
		st.Status = domain.StatusSucceeded
		st.CompletedAt = &now
		if ref := artifactRefFromData(event.Data); ref != nil {
			st.Artifact = ref
		}

	case domain.EventTypeStageFailed:
		st.Status = domain.StatusFailed
		st.CompletedAt = &now
		if msg, ok := event.Data["error"].(string); ok {
			st.Error = msg
		}
		switch n := event.Data["retries"].(type) {
		case float64:
			st.RetryCount = int(n)
		case int:
			st.RetryCount = n
		}
		m.recordFatal(run, fmt.Sprintf("stage %s: %s", st.Name, st.Error))

	case domain.EventTypeStageCancelled:
		// Cancellation reported by a worker means the external job was
		// stopped out-of-band or hit its stage timeout; run-level
		// cancellation never comes through here.
		st.Status = domain.StatusCancelled
		st.CompletedAt = &now
		st.Error = "job cancelled"
		if msg, ok := event.Data["error"].(string); ok && msg != "" {
			st.Error = msg
		}
		m.recordFatal(run, fmt.Sprintf("stage %s: %s", st.Name, st.Error))

	default:
		m.logger.Warn("unexpected result event type",
			zap.String("run_id", run.RunID),
			zap.String("type", string(event.Type)))
	}
}

// skipDependents marks every transitive dependent of a failed or cancelled
// stage as skipped. Unrelated branches of the graph keep running.
func (m *Manager) skipDependents(run *domain.RunState, g *graph.Graph, failed string) {
	reason := fmt.Sprintf("dependency %s failed", failed)
	if st := run.Stages[failed]; st != nil && st.Status == domain.StatusCancelled {
		reason = fmt.Sprintf("dependency %s cancelled", failed)
	}

	now := time.Now()
	for _, name := range g.TransitiveDependents(failed) {
		st := run.Stages[name]
		if st == nil || st.Status.Terminal() {
			continue
		}
		st.Status = domain.StatusSkipped
		st.Error = reason
		st.CompletedAt = &now

		m.publishStageEvent(run, name, domain.EventTypeStageSkipped)
	}
}

// abortRun handles cancellation and run timeout: it cancels the external
// jobs of non-terminal stages and settles their states. Succeeded stages
// and their artifacts are left untouched.
func (m *Manager) abortRun(exec *execution, run *domain.RunState) {
	exec.mu.Lock()
	cancelled := exec.cancelled
	exec.mu.Unlock()

	reason := "run timeout"
	if cancelled {
		reason = "run cancelled"
	}
	m.logger.Warn("aborting run",
		zap.String("run_id", run.RunID),
		zap.String("reason", reason))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := time.Now()
	for _, st := range run.Stages {
		if st.Status.Terminal() {
			continue
		}
		if st.Job != nil {
			if err := m.dispatcher.Cancel(ctx, *st.Job); err != nil {
				m.logger.Warn("failed to cancel external job",
					zap.String("run_id", run.RunID),
					zap.String("stage", st.Name),
					zap.String("job_id", st.Job.ID),
					zap.Error(err))
			}
		}
		st.Status = domain.StatusCancelled
		st.Error = reason
		st.CompletedAt = &now
	}

	if cancelled {
		run.Status = domain.StatusCancelled
	} else {
		run.Status = domain.StatusFailed
		m.recordFatal(run, reason)
	}
}

// finishRun settles the overall status, persists the terminal record and
// emits the final event.
func (m *Manager) finishRun(run *domain.RunState, start time.Time) {
	if !run.Status.Terminal() {
		run.Status = domain.StatusSucceeded
		for _, st := range run.Stages {
			if st.Status != domain.StatusSucceeded {
				run.Status = domain.StatusFailed
				break
			}
		}
	}

	now := time.Now()
	run.CompletedAt = &now
	m.saveRun(run)

	eventType := domain.EventTypeRunSucceeded
	switch run.Status {
	case domain.StatusFailed:
		eventType = domain.EventTypeRunFailed
	case domain.StatusCancelled:
		eventType = domain.EventTypeRunCancelled
	}
	m.publishRunEvent(context.Background(), eventType, run, map[string]interface{}{
		"error": run.Error,
	})

	duration := time.Since(start)
	m.metrics.RecordRunCompleted(string(run.Status), duration)
	m.logger.Info("run finished",
		zap.String("run_id", run.RunID),
		zap.String("pipeline", run.Pipeline),
		zap.String("status", string(run.Status)),
		zap.Duration("duration", duration))
}

// runDone reports whether every stage has reached a terminal state.
func (m *Manager) runDone(run *domain.RunState) bool {
	for _, st := range run.Stages {
		if !st.Status.Terminal() {
			return false
		}
	}
	return true
}

// recordFatal keeps the first fatal error of the run.
func (m *Manager) recordFatal(run *domain.RunState, msg string) {
	if run.Error == "" {
		run.Error = msg
	}
}

func (m *Manager) saveRun(run *domain.RunState) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.store.SaveRun(ctx, run); err != nil {
		m.logger.Error("failed to save run state",
			zap.String("run_id", run.RunID),
			zap.Error(err))
	}
}

func (m *Manager) publishRunEvent(ctx context.Context, eventType domain.EventType, run *domain.RunState, data map[string]interface{}) {
	event := domain.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		RunID:     run.RunID,
		Timestamp: time.Now(),
		Data:      data,
	}
	if err := m.eventBus.Publish(ctx, TopicRunEvents, event); err != nil {
		m.logger.Error("failed to publish run event",
			zap.String("run_id", run.RunID),
			zap.String("type", string(eventType)),
			zap.Error(err))
	}
}

func (m *Manager) publishStageEvent(run *domain.RunState, stage string, eventType domain.EventType) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	event := domain.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		RunID:     run.RunID,
		Stage:     stage,
		Timestamp: time.Now(),
	}
	if err := m.eventBus.Publish(ctx, TopicRunEvents, event); err != nil {
		m.logger.Error("failed to publish stage event",
			zap.String("run_id", run.RunID),
			zap.String("stage", stage),
			zap.Error(err))
	}
}

// Shutdown cancels all active coordination loops.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down orchestrator manager")

	m.executions.Range(func(key, value interface{}) bool {
		exec := value.(*execution)
		exec.mu.Lock()
		exec.cancelled = true
		exec.mu.Unlock()
		exec.cancelFunc()
		return true
	})

	m.logger.Info("orchestrator manager shut down complete")
	return nil
}

// mergeParams overlays trigger parameters on the stage's declared params.
// Trigger values win.
func mergeParams(declared map[string]interface{}, trigger map[string]domain.ParamValue) map[string]interface{} {
	merged := make(map[string]interface{}, len(declared)+len(trigger))
	for k, v := range declared {
		merged[k] = v
	}
	for k, v := range trigger {
		merged[k] = v
	}
	return merged
}

// jobRefFromData decodes the worker-reported job ref, tolerating the JSON
// round-trip through the event bus.
func jobRefFromData(data map[string]interface{}) *domain.JobRef {
	raw, ok := data["job"].(map[string]interface{})
	if !ok {
		return nil
	}
	ref := &domain.JobRef{}
	if s, ok := raw["backend"].(string); ok {
		ref.Backend = s
	}
	if s, ok := raw["id"].(string); ok {
		ref.ID = s
	}
	if s, ok := raw["link"].(string); ok {
		ref.Link = s
	}
	if ref.ID == "" {
		return nil
	}
	return ref
}

// artifactRefFromData decodes the worker-reported artifact ref.
func artifactRefFromData(data map[string]interface{}) *domain.ArtifactRef {
	raw, ok := data["artifact"].(map[string]interface{})
	if !ok {
		return nil
	}
	ref := &domain.ArtifactRef{}
	if s, ok := raw["run_id"].(string); ok {
		ref.RunID = s
	}
	if s, ok := raw["stage"].(string); ok {
		ref.Stage = s
	}
	if ref.RunID == "" || ref.Stage == "" {
		return nil
	}
	return ref
}
