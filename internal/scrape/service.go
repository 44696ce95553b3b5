package scrape

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Config controls job layout and admission.
type Config struct {
	JobsDir        string
	OutputFile     string
	EnqueueTimeout time.Duration
}

// Service submits scrape jobs and waits for their outcome.
type Service struct {
	jobStore JobStore
	queue    Enqueuer
	idGen    IDGenerator
	clock    Clock
	history  *History
	cfg      Config
	logger   *zap.Logger
}

// NewService wires a Service.
func NewService(
	jobStore JobStore,
	queue Enqueuer,
	idGen IDGenerator,
	clock Clock,
	history *History,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.OutputFile == "" {
		cfg.OutputFile = "output.json"
	}
	// The crawler runs in its own project directory, so artifact paths
	// handed to it must not depend on the service's working directory.
	if cfg.JobsDir != "" && !filepath.IsAbs(cfg.JobsDir) {
		if abs, err := filepath.Abs(cfg.JobsDir); err == nil {
			cfg.JobsDir = abs
		} else {
			logger.Warn("could not resolve jobs dir", zap.String("jobs_dir", cfg.JobsDir), zap.Error(err))
		}
	}
	return &Service{
		jobStore: jobStore,
		queue:    queue,
		idGen:    idGen,
		clock:    clock,
		history:  history,
		cfg:      cfg,
		logger:   logger,
	}
}

// ValidateURL accepts absolute http(s) URLs only.
func ValidateURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: url is required", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q is not an absolute http(s) url", ErrInvalidURL, raw)
	}
	return u.String(), nil
}

// OutputPath is where the crawler writes the artifact for jobID.
func (s *Service) OutputPath(jobID string) string {
	return filepath.Join(s.cfg.JobsDir, jobID, s.cfg.OutputFile)
}

// Submit runs one scrape for rawURL and blocks until the job finishes or ctx ends.
func (s *Service) Submit(ctx context.Context, rawURL string) (Result, error) {
	target, err := ValidateURL(rawURL)
	if err != nil {
		return Result{}, err
	}
	jobID, err := s.idGen.NewID()
	if err != nil {
		return Result{}, fmt.Errorf("generate job id: %w", err)
	}
	now := s.clock.Now()
	job := Job{
		ID:         jobID,
		URL:        target,
		Status:     JobStatusQueued,
		Submitted:  now,
		OutputPath: s.OutputPath(jobID),
	}
	if err := s.jobStore.CreateJob(ctx, job); err != nil {
		return Result{}, fmt.Errorf("create job: %w", err)
	}

	item := QueueItem{
		JobID:      jobID,
		URL:        target,
		OutputPath: job.OutputPath,
		Submitted:  now,
		Done:       make(chan Outcome, 1),
	}
	if err := s.enqueue(ctx, item); err != nil {
		if updErr := s.jobStore.UpdateJobStatus(context.WithoutCancel(ctx), jobID, JobStatusFailed, err.Error()); updErr != nil {
			s.logger.Error("fail job status update", zap.String("job_id", jobID), zap.Error(updErr))
		}
		return Result{JobID: jobID}, err
	}
	s.logger.Debug("job enqueued", zap.String("job_id", jobID), zap.String("url", target))

	select {
	case out := <-item.Done:
		if out.Err != nil {
			return Result{JobID: jobID}, out.Err
		}
		return Result{JobID: jobID, Data: out.Data}, nil
	case <-ctx.Done():
		s.logger.Warn("caller gave up waiting for job", zap.String("job_id", jobID), zap.Error(ctx.Err()))
		return Result{JobID: jobID}, fmt.Errorf("wait for job %s: %w", jobID, ctx.Err())
	}
}

func (s *Service) enqueue(ctx context.Context, item QueueItem) error {
	queueCtx := ctx
	if s.cfg.EnqueueTimeout > 0 {
		var cancel context.CancelFunc
		queueCtx, cancel = context.WithTimeout(ctx, s.cfg.EnqueueTimeout)
		defer cancel()
	}
	err := s.queue.Enqueue(queueCtx, item)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("enqueue job: %w", ctx.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrQueueFull, err)
	}
	return fmt.Errorf("enqueue job: %w", err)
}

// Job returns the stored record for jobID.
func (s *Service) Job(ctx context.Context, jobID string) (Job, error) {
	job, err := s.jobStore.GetJob(ctx, jobID)
	if err != nil {
		return Job{}, fmt.Errorf("%w: %w", ErrJobNotFound, err)
	}
	return job, nil
}

// History exposes the results tree reader.
func (s *Service) History() *History {
	return s.history
}
