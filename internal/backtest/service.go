package backtest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"nautgate/internal/fault"
	"nautgate/internal/logger"
)

// ServiceConfig wires the job service.
type ServiceConfig struct {
	Runner          Runner
	Store           *JobStore
	RateLimitPerMin int
	MaxConcurrent   int
}

// Service owns job lifecycle: id assignment, queueing, rate limiting and
// result retention. Jobs run asynchronously; callers poll by id.
type Service struct {
	runner  Runner
	store   *JobStore
	limiter *rate.Limiter
	sem     chan struct{}

	mu   sync.RWMutex
	jobs map[string]*Job

	baseCtx context.Context
	wg      sync.WaitGroup
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Runner == nil {
		return nil, fault.New(fault.Validation, "backtest service requires a runner")
	}
	perSec := rate.Limit(float64(cfg.RateLimitPerMin) / 60.0)
	if cfg.RateLimitPerMin <= 0 {
		perSec = 2
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	return &Service{
		runner:  cfg.Runner,
		store:   cfg.Store,
		limiter: rate.NewLimiter(perSec, 1),
		sem:     make(chan struct{}, maxConcurrent),
		jobs:    make(map[string]*Job),
		baseCtx: context.Background(),
	}, nil
}

// SetContext injects the host context used to cancel running jobs on
// shutdown.
func (s *Service) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

// SubmitJob queues a backtest and returns its id immediately.
func (s *Service) SubmitJob(ctx context.Context, spec map[string]any) (string, error) {
	if len(spec) == 0 {
		return "", fault.New(fault.Validation, "backtest spec must not be empty")
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return "", fault.Classify(err)
	}

	now := time.Now().Unix()
	job := &Job{
		ID:          uuid.NewString(),
		Status:      StatusQueued,
		Spec:        spec,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	s.persist(job)

	s.wg.Add(1)
	go s.run(job.ID)
	logger.Infof("backtest: job %s queued", job.ID)
	return job.ID, nil
}

// PollJob returns the job's current status and, if finished, its result.
func (s *Service) PollJob(_ context.Context, jobID string) (Job, error) {
	s.mu.RLock()
	job, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if ok {
		return *job, nil
	}
	if s.store != nil {
		if stored, found, err := s.store.Load(jobID); err == nil && found {
			return stored, nil
		}
	}
	return Job{}, fault.Newf(fault.Validation, "unknown backtest job %q", jobID)
}

// Wait blocks until all in-flight jobs finish.
func (s *Service) Wait() { s.wg.Wait() }

func (s *Service) run(jobID string) {
	defer s.wg.Done()
	s.sem <- struct{}{}
	defer func() { <-s.sem }()

	s.update(jobID, func(j *Job) { j.Status = StatusRunning })

	s.mu.RLock()
	spec := s.jobs[jobID].Spec
	s.mu.RUnlock()

	result, err := s.runner.Run(s.baseCtx, spec)
	if err != nil {
		if s.baseCtx.Err() != nil {
			s.update(jobID, func(j *Job) {
				j.Status = StatusCanceled
				j.Error = "canceled by shutdown"
			})
			return
		}
		classified := fault.Classify(err)
		s.update(jobID, func(j *Job) {
			j.Status = StatusFailed
			j.Error = classified.Message
		})
		logger.Warnf("backtest: job %s failed: %v", jobID, err)
		return
	}
	s.update(jobID, func(j *Job) {
		j.Status = StatusDone
		j.Result = result
	})
	logger.Infof("backtest: job %s done", jobID)
}

func (s *Service) update(jobID string, fn func(*Job)) {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if ok {
		fn(job)
		job.UpdatedAt = time.Now().Unix()
	}
	var snapshot Job
	if ok {
		snapshot = *job
	}
	s.mu.Unlock()
	if ok {
		s.persist(&snapshot)
	}
}

func (s *Service) persist(job *Job) {
	if s.store == nil {
		return
	}
	if err := s.store.Save(*job); err != nil {
		logger.Warnf("backtest: persisting job %s failed: %v", job.ID, err)
	}
}
