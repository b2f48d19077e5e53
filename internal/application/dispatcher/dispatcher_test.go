package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/forksnd/convey/internal/domain"
	"github.com/forksnd/convey/internal/ports"
	"github.com/forksnd/convey/pkg/adapters/metrics/noop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeBackend scripts trigger and poll behaviour for one job.
type fakeBackend struct {
	kind        string
	triggerErrs []error
	pollResults []pollResult
	triggers    int
	polls       int
	cancelled   []string
}

type pollResult struct {
	status domain.JobStatus
	err    error
}

func (f *fakeBackend) Kind() string { return f.kind }

func (f *fakeBackend) Trigger(ctx context.Context, spec domain.JobSpec) (domain.JobRef, error) {
	f.triggers++
	if len(f.triggerErrs) > 0 {
		err := f.triggerErrs[0]
		f.triggerErrs = f.triggerErrs[1:]
		if err != nil {
			return domain.JobRef{}, err
		}
	}
	return domain.JobRef{Backend: f.kind, ID: "job-1"}, nil
}

func (f *fakeBackend) Poll(ctx context.Context, ref domain.JobRef) (domain.JobStatus, error) {
	f.polls++
	if len(f.pollResults) == 0 {
		return domain.JobStatusRunning, nil
	}
	r := f.pollResults[0]
	if len(f.pollResults) > 1 {
		f.pollResults = f.pollResults[1:]
	}
	return r.status, r.err
}

func (f *fakeBackend) Cancel(ctx context.Context, ref domain.JobRef) error {
	f.cancelled = append(f.cancelled, ref.ID)
	return nil
}

type fakeRegistry map[string]ports.Backend

func (r fakeRegistry) Backend(kind string) (ports.Backend, bool) {
	b, ok := r[kind]
	return b, ok
}

func newTestDispatcher(b *fakeBackend) *Dispatcher {
	return New(
		fakeRegistry{b.kind: b},
		noop.NewCollector(),
		zap.NewNop(),
		Config{
			InitialPollInterval: time.Millisecond,
			MaxPollInterval:     2 * time.Millisecond,
			MaxTransientRetries: 3,
		},
	)
}

func TestExecuteSucceeds(t *testing.T) {
	b := &fakeBackend{
		kind: "container-build",
		pollResults: []pollResult{
			{status: domain.JobStatusQueued},
			{status: domain.JobStatusRunning},
			{status: domain.JobStatusSucceeded},
		},
	}
	d := newTestDispatcher(b)

	var started domain.JobRef
	ref, status, err := d.Execute(context.Background(), "container-build",
		domain.JobSpec{RunID: "r1", Stage: "build"}, false,
		func(r domain.JobRef) { started = r })

	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusSucceeded, status)
	assert.Equal(t, "job-1", ref.ID)
	assert.Equal(t, ref, started)
	assert.GreaterOrEqual(t, b.polls, 3)
}

func TestExecuteDetachSkipsPolling(t *testing.T) {
	b := &fakeBackend{kind: "container-build"}
	d := newTestDispatcher(b)

	_, status, err := d.Execute(context.Background(), "container-build",
		domain.JobSpec{RunID: "r1", Stage: "publish"}, true, nil)

	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusSucceeded, status)
	assert.Zero(t, b.polls)
}

func TestExecuteUnknownBackend(t *testing.T) {
	d := newTestDispatcher(&fakeBackend{kind: "container-build"})

	_, _, err := d.Execute(context.Background(), "no-such-backend",
		domain.JobSpec{}, false, nil)

	var failed *domain.JobFailed
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "no-such-backend", failed.Backend)
}

func TestExecuteTerminalFailure(t *testing.T) {
	b := &fakeBackend{
		kind:        "test-pipeline",
		pollResults: []pollResult{{status: domain.JobStatusFailed}},
	}
	d := newTestDispatcher(b)

	_, status, err := d.Execute(context.Background(), "test-pipeline",
		domain.JobSpec{RunID: "r1", Stage: "smoke"}, false, nil)

	assert.Equal(t, domain.JobStatusFailed, status)
	var failed *domain.JobFailed
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "test-pipeline", failed.Backend)
	assert.Equal(t, "job-1", failed.Job.ID)
}

func TestTransientPollErrorsAreRetried(t *testing.T) {
	transient := &domain.TransientError{Err: errors.New("connection reset")}
	b := &fakeBackend{
		kind: "container-build",
		pollResults: []pollResult{
			{err: transient},
			{err: transient},
			{status: domain.JobStatusSucceeded},
		},
	}
	d := newTestDispatcher(b)

	_, status, err := d.Execute(context.Background(), "container-build",
		domain.JobSpec{}, false, nil)

	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusSucceeded, status)
}

func TestTransientRetryCeilingEscalates(t *testing.T) {
	transient := &domain.TransientError{Err: errors.New("gateway timeout")}
	b := &fakeBackend{
		kind:        "container-build",
		pollResults: []pollResult{{err: transient}},
	}
	d := newTestDispatcher(b)

	_, _, err := d.Execute(context.Background(), "container-build",
		domain.JobSpec{}, false, nil)

	var unavailable *domain.BackendUnavailable
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, 3, unavailable.Attempts)
}

func TestPermanentPollErrorFailsImmediately(t *testing.T) {
	b := &fakeBackend{
		kind:        "container-build",
		pollResults: []pollResult{{err: errors.New("job not found")}},
	}
	d := newTestDispatcher(b)

	_, _, err := d.Execute(context.Background(), "container-build",
		domain.JobSpec{}, false, nil)

	var failed *domain.JobFailed
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, 1, b.polls)
}

func TestTriggerTransientRetries(t *testing.T) {
	transient := &domain.TransientError{Err: errors.New("dial tcp: refused")}
	b := &fakeBackend{
		kind:        "container-build",
		triggerErrs: []error{transient, transient},
		pollResults: []pollResult{{status: domain.JobStatusSucceeded}},
	}
	d := newTestDispatcher(b)

	_, status, err := d.Execute(context.Background(), "container-build",
		domain.JobSpec{}, false, nil)

	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusSucceeded, status)
	assert.Equal(t, 3, b.triggers)
}

func TestCancelledContextStopsExternalJob(t *testing.T) {
	b := &fakeBackend{
		kind:        "container-build",
		pollResults: []pollResult{{status: domain.JobStatusRunning}},
	}
	d := newTestDispatcher(b)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, status, err := d.Execute(ctx, "container-build",
		domain.JobSpec{RunID: "r1", Stage: "build"}, false, nil)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.JobStatusCancelled, status)
	assert.Contains(t, b.cancelled, "job-1")
}
