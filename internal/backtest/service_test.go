package backtest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nautgate/internal/fault"
)

func newTestService(t *testing.T, runner Runner) *Service {
	t.Helper()
	svc, err := NewService(ServiceConfig{
		Runner:          runner,
		RateLimitPerMin: 600,
		MaxConcurrent:   2,
	})
	require.NoError(t, err)
	return svc
}

func pollUntilDone(t *testing.T, svc *Service, jobID string) Job {
	t.Helper()
	var job Job
	require.Eventually(t, func() bool {
		j, err := svc.PollJob(context.Background(), jobID)
		if err != nil {
			return false
		}
		job = j
		return j.Status == StatusDone || j.Status == StatusFailed || j.Status == StatusCanceled
	}, 2*time.Second, 5*time.Millisecond)
	return job
}

func TestSubmitAndPoll(t *testing.T) {
	svc := newTestService(t, RunnerFunc(func(ctx context.Context, spec map[string]any) (map[string]any, error) {
		return map[string]any{"trades": 3}, nil
	}))

	jobID, err := svc.SubmitJob(context.Background(), map[string]any{"instrument_id": "BTCUSDT"})
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	job := pollUntilDone(t, svc, jobID)
	assert.Equal(t, StatusDone, job.Status)
	assert.Equal(t, 3, job.Result["trades"])
	svc.Wait()
}

func TestFailedJobKeepsClassifiedError(t *testing.T) {
	svc := newTestService(t, RunnerFunc(func(ctx context.Context, spec map[string]any) (map[string]any, error) {
		return nil, fault.New(fault.Validation, "unknown instrument")
	}))

	jobID, err := svc.SubmitJob(context.Background(), map[string]any{"instrument_id": "NOPE"})
	require.NoError(t, err)
	job := pollUntilDone(t, svc, jobID)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, "unknown instrument", job.Error)
}

func TestUnexpectedRunnerErrorIsOpaque(t *testing.T) {
	svc := newTestService(t, RunnerFunc(func(ctx context.Context, spec map[string]any) (map[string]any, error) {
		return nil, errors.New("nil pointer dereference")
	}))
	jobID, err := svc.SubmitJob(context.Background(), map[string]any{"x": 1})
	require.NoError(t, err)
	job := pollUntilDone(t, svc, jobID)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, "internal error", job.Error)
}

func TestEmptySpecRejected(t *testing.T) {
	svc := newTestService(t, RunnerFunc(func(ctx context.Context, spec map[string]any) (map[string]any, error) {
		return nil, nil
	}))
	_, err := svc.SubmitJob(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, fault.Validation, fault.CategoryOf(err))
}

func TestPollUnknownJob(t *testing.T) {
	svc := newTestService(t, RunnerFunc(func(ctx context.Context, spec map[string]any) (map[string]any, error) {
		return nil, nil
	}))
	_, err := svc.PollJob(context.Background(), "no-such-job")
	require.Error(t, err)
	assert.Equal(t, fault.Validation, fault.CategoryOf(err))
}

func TestJobStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewJobStore(dir)
	require.NoError(t, err)

	job := Job{
		ID:          "job-1",
		Status:      StatusDone,
		Spec:        map[string]any{"instrument_id": "BTCUSDT"},
		Result:      map[string]any{"hold_pnl": "120.5"},
		SubmittedAt: time.Now().Unix(),
		UpdatedAt:   time.Now().Unix(),
	}
	require.NoError(t, store.Save(job))

	loaded, found, err := store.Load("job-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, StatusDone, loaded.Status)
	assert.Equal(t, "120.5", loaded.Result["hold_pnl"])

	_, found, err = store.Load("missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestReplayRunner(t *testing.T) {
	dir := t.TempDir()
	data := `{"candles":[{"close":"100"},{"close":"90"},{"close":"130"},{"close":"120"}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "BTCUSDT.json"), []byte(data), 0o644))

	runner := NewReplayRunner(dir)
	result, err := runner.Run(context.Background(), map[string]any{
		"instrument_id": "BTC/USDT",
		"quantity":      "2",
	})
	require.NoError(t, err)
	assert.Equal(t, 4, result["candles"])
	assert.Equal(t, "100", result["first_close"])
	assert.Equal(t, "120", result["last_close"])
	assert.Equal(t, "130", result["high"])
	assert.Equal(t, "90", result["low"])
	assert.Equal(t, "40", result["hold_pnl"])
}

func TestReplayRunnerMissingData(t *testing.T) {
	runner := NewReplayRunner(t.TempDir())
	_, err := runner.Run(context.Background(), map[string]any{"instrument_id": "GHOSTUSDT"})
	require.Error(t, err)
	assert.Equal(t, fault.Validation, fault.CategoryOf(err))

	_, err = runner.Run(context.Background(), map[string]any{})
	require.Error(t, err)
	assert.Equal(t, fault.Validation, fault.CategoryOf(err))
}
