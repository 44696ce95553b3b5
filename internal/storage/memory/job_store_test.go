package memory

import (
	"context"
	"testing"
	"time"

	"github.com/JakeFAU/fandom-scrape-gateway/internal/scrape"
)

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	job := scrape.Job{ID: "job-1", URL: "https://onepiece.fandom.com", Status: scrape.JobStatusQueued}

	if err := store.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if err := store.CreateJob(ctx, job); err == nil {
		t.Fatal("expected duplicate job error")
	}
	if err := store.UpdateJobStatus(ctx, job.ID, scrape.JobStatusRunning, ""); err != nil {
		t.Fatalf("UpdateJobStatus running error = %v", err)
	}
	running, _ := store.GetJob(ctx, job.ID)
	if running.Started == nil || running.Finished != nil {
		t.Fatalf("expected only start timestamp, got %+v", running)
	}
	if err := store.RecordArtifact(ctx, job.ID, "abc123", "memory://artifacts/job-1/output.json"); err != nil {
		t.Fatalf("RecordArtifact() error = %v", err)
	}
	if err := store.UpdateJobStatus(ctx, job.ID, scrape.JobStatusSucceeded, ""); err != nil {
		t.Fatalf("UpdateJobStatus succeeded error = %v", err)
	}
	final, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if final.Status != scrape.JobStatusSucceeded || final.Started == nil || final.Finished == nil {
		t.Fatalf("expected timestamps set, got %+v", final)
	}
	if final.ContentHash != "abc123" || final.BlobURI == "" {
		t.Fatalf("expected artifact metadata to persist, got %+v", final)
	}
}

func TestJobStoreMissingOutputIsTerminal(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	if err := store.CreateJob(ctx, scrape.Job{ID: "job-2"}); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if err := store.UpdateJobStatus(ctx, "job-2", scrape.JobStatusMissingOutput, "output not generated"); err != nil {
		t.Fatalf("UpdateJobStatus() error = %v", err)
	}
	job, _ := store.GetJob(ctx, "job-2")
	if job.Finished == nil || job.ErrorText != "output not generated" {
		t.Fatalf("expected terminal missing_output job, got %+v", job)
	}
}

func TestJobStoreUnknownJob(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	if _, err := store.GetJob(ctx, "nope"); err == nil {
		t.Fatal("expected not found error")
	}
	if err := store.UpdateJobStatus(ctx, "nope", scrape.JobStatusFailed, ""); err == nil {
		t.Fatal("expected not found error on update")
	}
	if err := store.RecordArtifact(ctx, "nope", "", ""); err == nil {
		t.Fatal("expected not found error on record")
	}
}

func TestJobStoreListJobsOrdered(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	base := time.Unix(1000, 0)
	for i, id := range []string{"c", "a", "b"} {
		if err := store.CreateJob(ctx, scrape.Job{ID: id, Submitted: base.Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatalf("CreateJob() error = %v", err)
		}
	}
	jobs, err := store.ListJobs(ctx)
	if err != nil {
		t.Fatalf("ListJobs() error = %v", err)
	}
	if len(jobs) != 3 || jobs[0].ID != "c" || jobs[2].ID != "b" {
		t.Fatalf("unexpected order %+v", jobs)
	}
}

func TestBoundedJobStoreEvictsOldestFinished(t *testing.T) {
	t.Parallel()

	store := NewBoundedJobStore(2)
	ctx := context.Background()
	for _, id := range []string{"old", "active"} {
		if err := store.CreateJob(ctx, scrape.Job{ID: id, Status: scrape.JobStatusQueued}); err != nil {
			t.Fatalf("CreateJob(%s) error = %v", id, err)
		}
	}
	if err := store.UpdateJobStatus(ctx, "old", scrape.JobStatusFailed, "exit 1"); err != nil {
		t.Fatalf("UpdateJobStatus() error = %v", err)
	}

	if err := store.CreateJob(ctx, scrape.Job{ID: "new", Status: scrape.JobStatusQueued}); err != nil {
		t.Fatalf("CreateJob(new) error = %v", err)
	}
	if got := store.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}
	if _, err := store.GetJob(ctx, "old"); err == nil {
		t.Fatal("expected finished job to be evicted")
	}
	for _, id := range []string{"active", "new"} {
		if _, err := store.GetJob(ctx, id); err != nil {
			t.Fatalf("GetJob(%s) error = %v", id, err)
		}
	}
}

func TestBoundedJobStoreKeepsUnfinishedJobs(t *testing.T) {
	t.Parallel()

	store := NewBoundedJobStore(1)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := store.CreateJob(ctx, scrape.Job{ID: id, Status: scrape.JobStatusRunning}); err != nil {
			t.Fatalf("CreateJob(%s) error = %v", id, err)
		}
	}
	if got := store.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3 unfinished jobs retained", got)
	}

	if err := store.UpdateJobStatus(ctx, "a", scrape.JobStatusSucceeded, ""); err != nil {
		t.Fatalf("UpdateJobStatus() error = %v", err)
	}
	if err := store.UpdateJobStatus(ctx, "b", scrape.JobStatusSucceeded, ""); err != nil {
		t.Fatalf("UpdateJobStatus() error = %v", err)
	}
	if err := store.CreateJob(ctx, scrape.Job{ID: "d"}); err != nil {
		t.Fatalf("CreateJob(d) error = %v", err)
	}
	if got := store.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2 after evicting finished jobs", got)
	}
}
