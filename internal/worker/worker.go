// Package worker implements the scrape job execution loop.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/fandom-scrape-gateway/internal/metrics"
	"github.com/JakeFAU/fandom-scrape-gateway/internal/resultstore"
	"github.com/JakeFAU/fandom-scrape-gateway/internal/runner"
	"github.com/JakeFAU/fandom-scrape-gateway/internal/scrape"
)

// Config controls Worker behavior.
type Config struct {
	ContentType string
	BlobPrefix  string
	Topic       string
}

// Invalidator is notified after every successful job.
type Invalidator interface {
	Invalidate()
}

// Worker consumes queue items and runs the crawler for each.
type Worker struct {
	queue       scrape.Queue
	jobStore    scrape.JobStore
	runner      runner.Runner
	blobStore   scrape.BlobStore
	publisher   scrape.Publisher
	hasher      scrape.Hasher
	clock       scrape.Clock
	invalidator Invalidator
	cfg         Config
	logger      *zap.Logger
}

// New constructs a Worker. blobStore, publisher, and invalidator may be nil.
func New(
	queue scrape.Queue,
	jobStore scrape.JobStore,
	run runner.Runner,
	blobStore scrape.BlobStore,
	publisher scrape.Publisher,
	hasher scrape.Hasher,
	clock scrape.Clock,
	invalidator Invalidator,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "application/json"
	}
	return &Worker{
		queue:       queue,
		jobStore:    jobStore,
		runner:      run,
		blobStore:   blobStore,
		publisher:   publisher,
		hasher:      hasher,
		clock:       clock,
		invalidator: invalidator,
		cfg:         cfg,
		logger:      logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			if errors.Is(err, scrape.ErrQueueClosed) {
				return
			}
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		out := w.processJob(ctx, item)
		deliver(item, out)
	}
}

func deliver(item scrape.QueueItem, out scrape.Outcome) {
	if item.Done == nil {
		return
	}
	select {
	case item.Done <- out:
	default:
	}
}

func (w *Worker) processJob(ctx context.Context, item scrape.QueueItem) scrape.Outcome {
	start := w.clock.Now()
	metrics.IncActiveJobs()
	defer func() {
		metrics.DecActiveJobs()
		metrics.ObserveJobDuration(w.clock.Now().Sub(start))
	}()

	if err := w.jobStore.UpdateJobStatus(ctx, item.JobID, scrape.JobStatusRunning, ""); err != nil {
		w.logger.Error("update job status failed", zap.String("job_id", item.JobID), zap.Error(err))
	}

	data, err := w.execute(ctx, item)
	status := scrape.JobStatusSucceeded
	errText := ""
	switch {
	case err == nil:
	case errors.Is(err, scrape.ErrArtifactMissing):
		status = scrape.JobStatusMissingOutput
		errText = err.Error()
	default:
		status = scrape.JobStatusFailed
		errText = err.Error()
	}
	metrics.ObserveJob(string(status))

	if updErr := w.jobStore.UpdateJobStatus(ctx, item.JobID, status, errText); updErr != nil {
		w.logger.Error("final job status update failed", zap.String("job_id", item.JobID), zap.Error(updErr))
	}
	if err != nil {
		w.logger.Warn("scrape job ended without data",
			zap.String("job_id", item.JobID),
			zap.String("url", item.URL),
			zap.String("status", string(status)),
			zap.Error(err),
		)
		return scrape.Outcome{JobID: item.JobID, Status: status, Err: err}
	}
	w.logger.Info("scrape job succeeded", zap.String("job_id", item.JobID), zap.String("url", item.URL))
	return scrape.Outcome{JobID: item.JobID, Status: status, Data: data}
}

// execute runs the crawler and reads its artifact. Errors wrap
// runner.ErrProcessFailed, scrape.ErrArtifactMissing, or a resultstore error.
func (w *Worker) execute(ctx context.Context, item scrape.QueueItem) (json.RawMessage, error) {
	if err := os.MkdirAll(filepath.Dir(item.OutputPath), 0o750); err != nil {
		return nil, fmt.Errorf("create job dir: %w", err)
	}
	if err := resultstore.Remove(item.OutputPath); err != nil {
		return nil, fmt.Errorf("clear stale artifact: %w", err)
	}

	if _, err := w.runner.Run(ctx, runner.Params{URL: item.URL, OutputPath: item.OutputPath}); err != nil {
		if rmErr := resultstore.Remove(item.OutputPath); rmErr != nil {
			w.logger.Warn("remove partial artifact failed", zap.String("job_id", item.JobID), zap.Error(rmErr))
		}
		w.removeJobDir(item)
		return nil, fmt.Errorf("run crawler: %w", err)
	}

	data, err := resultstore.Read(item.OutputPath)
	if err != nil {
		if errors.Is(err, resultstore.ErrNotFound) {
			w.removeJobDir(item)
			return nil, fmt.Errorf("%w: %s", scrape.ErrArtifactMissing, item.OutputPath)
		}
		return nil, fmt.Errorf("read artifact: %w", err)
	}

	w.persistAndPublish(ctx, item, data)
	return data, nil
}

// removeJobDir drops the per-job directory when the crawler left nothing in
// it. A directory holding crawler leftovers is kept for inspection.
func (w *Worker) removeJobDir(item scrape.QueueItem) {
	dir := filepath.Dir(item.OutputPath)
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) > 0 {
		return
	}
	if err := os.Remove(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		w.logger.Debug("remove empty job dir failed", zap.String("job_id", item.JobID), zap.Error(err))
	}
}

// persistAndPublish records the digest, mirrors the artifact, and announces
// completion. Failures here are logged and never fail the job.
func (w *Worker) persistAndPublish(ctx context.Context, item scrape.QueueItem, data []byte) {
	hash := ""
	if w.hasher != nil {
		h, err := w.hasher.Hash(data)
		if err != nil {
			w.logger.Warn("hash artifact failed", zap.String("job_id", item.JobID), zap.Error(err))
		} else {
			hash = h
		}
	}

	uri := ""
	if w.blobStore != nil {
		u, err := w.blobStore.PutObject(ctx, w.buildBlobPath(item.JobID), w.cfg.ContentType, data)
		if err != nil {
			w.logger.Warn("mirror artifact failed", zap.String("job_id", item.JobID), zap.Error(err))
		} else {
			uri = u
		}
	}

	if err := w.jobStore.RecordArtifact(ctx, item.JobID, hash, uri); err != nil {
		w.logger.Warn("record artifact failed", zap.String("job_id", item.JobID), zap.Error(err))
	}

	if w.invalidator != nil {
		w.invalidator.Invalidate()
	}

	w.publishResult(ctx, item, hash, uri)
}

func (w *Worker) publishResult(ctx context.Context, item scrape.QueueItem, hash, uri string) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	event := scrape.CompletionEvent{
		JobID:       item.JobID,
		URL:         item.URL,
		ContentHash: hash,
		BlobURI:     uri,
		FinishedAt:  w.clock.Now().UTC(),
	}
	msgID, err := w.publisher.Publish(ctx, w.cfg.Topic, event)
	if err != nil {
		w.logger.Warn("publish completion failed", zap.String("job_id", item.JobID), zap.Error(err))
		return
	}
	w.logger.Info("completion published",
		zap.String("job_id", item.JobID),
		zap.String("message_id", msgID),
		zap.String("blob_uri", uri),
		zap.String("hash", hash),
	)
}

func (w *Worker) buildBlobPath(jobID string) string {
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/output.json", jobID)
	}
	return fmt.Sprintf("%s/%s/output.json", prefix, jobID)
}
