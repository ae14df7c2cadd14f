//go:build !integration

package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bp-api-service/internal/config"
	"bp-api-service/internal/domain"
	"bp-api-service/internal/domain/model"
	"bp-api-service/internal/domain/ports/adapter"
	"bp-api-service/internal/domain/ports/repository"
	"bp-api-service/internal/usecase"
)

func testCfg() config.DispatcherConfig {
	return config.DispatcherConfig{
		Workers:       1,
		PollInterval:  5 * time.Millisecond,
		MaxRetries:    2,
		WorkerTimeout: 100 * time.Millisecond,
		BackoffBase:   time.Millisecond,
		BackoffCap:    5 * time.Millisecond,
		StaleAfter:    time.Hour,
	}
}

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func seedJob(t *testing.T, repo *memJobRepo, store *memMediaStore) *model.Job {
	t.Helper()
	id := uuid.NewString()
	job := &model.Job{
		ID:        id,
		TaskGroup: uuid.NewString(),
		Status:    model.JobStatusQueued,
		Tier:      model.TierLight,
		InputKey:  fmt.Sprintf("background-remover/%s/original.jpg", id),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if _, err := store.Put(context.Background(), job.InputKey, []byte("input"), "image/jpeg"); err != nil {
		t.Fatal(err)
	}
	if err := repo.Create(context.Background(), nil, job); err != nil {
		t.Fatal(err)
	}
	return job
}

func TestProcessOneSuccess(t *testing.T) {
	ctx := context.Background()
	repo, store := newMemJobRepo(), newMemMediaStore()
	remover := &fakeRemover{}
	notes := &recNotifier{}
	d := NewDispatcher(repo, store, remover, notes, testCfg(), nopLogger())
	job := seedJob(t, repo, store)

	d.processOne(ctx)

	got, _ := repo.Get(ctx, nil, job.ID)
	if got.Status != model.JobStatusSucceeded {
		t.Fatalf("status = %s, want succeeded", got.Status)
	}
	if got.OutputKey != usecase.OutputKey(job.ID) {
		t.Errorf("OutputKey = %q", got.OutputKey)
	}
	out, contentType, err := store.Get(ctx, got.OutputKey)
	if err != nil || string(out) != "processed" || contentType != "image/png" {
		t.Errorf("stored output = (%q, %s, %v)", out, contentType, err)
	}
	if len(notes.updates) != 2 || notes.updates[1] != model.JobStatusSucceeded {
		t.Errorf("notifications = %v", notes.updates)
	}
}

func TestRetryableFailureRequeuesUntilExhausted(t *testing.T) {
	ctx := context.Background()
	repo, store := newMemJobRepo(), newMemMediaStore()
	remover := &fakeRemover{
		removeFunc: func(call int, ctx context.Context, tier model.Tier, input adapter.ImageInput) (*adapter.Removal, error) {
			return nil, fmt.Errorf("%w: connection reset", domain.ErrWorkerRetryable)
		},
	}
	d := NewDispatcher(repo, store, remover, nil, testCfg(), nopLogger())
	job := seedJob(t, repo, store)

	// max retries = 2: attempts 1 and 2 requeue, attempt 3 is terminal.
	for i := 0; i < 3; i++ {
		d.processOne(ctx)
	}

	got, _ := repo.Get(ctx, nil, job.ID)
	if got.Status != model.JobStatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.Retries != 2 {
		t.Errorf("retries = %d, want 2", got.Retries)
	}
	if got.ErrorDetail == "" {
		t.Error("error detail empty on failed job")
	}
	if remover.callCount() != 3 {
		t.Errorf("worker calls = %d, want 3", remover.callCount())
	}

	// The (N+1)-th failure is terminal: nothing left to claim.
	if _, err := repo.ClaimQueued(ctx); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("ClaimQueued = %v, want ErrNotFound", err)
	}
}

func TestTerminalWorkerErrorDoesNotRetry(t *testing.T) {
	ctx := context.Background()
	repo, store := newMemJobRepo(), newMemMediaStore()
	remover := &fakeRemover{
		removeFunc: func(call int, ctx context.Context, tier model.Tier, input adapter.ImageInput) (*adapter.Removal, error) {
			return nil, fmt.Errorf("%w: unsupported format", domain.ErrWorkerTerminal)
		},
	}
	d := NewDispatcher(repo, store, remover, nil, testCfg(), nopLogger())
	job := seedJob(t, repo, store)

	d.processOne(ctx)

	got, _ := repo.Get(ctx, nil, job.ID)
	if got.Status != model.JobStatusFailed || got.Retries != 0 {
		t.Fatalf("job = %+v, want failed with 0 retries", got)
	}
	if remover.callCount() != 1 {
		t.Errorf("worker calls = %d, want 1", remover.callCount())
	}
}

func TestCancelledJobResultIsDiscarded(t *testing.T) {
	ctx := context.Background()
	repo, store := newMemJobRepo(), newMemMediaStore()
	job := make(chan string, 1)
	cancelled := make(chan struct{})
	remover := &fakeRemover{
		removeFunc: func(call int, ctx context.Context, tier model.Tier, input adapter.ImageInput) (*adapter.Removal, error) {
			// Cancellation lands while the worker call is in flight.
			job <- input.JobID
			<-cancelled
			return &adapter.Removal{Bytes: []byte("late result"), ContentType: "image/png"}, nil
		},
	}
	d := NewDispatcher(repo, store, remover, nil, testCfg(), nopLogger())
	seeded := seedJob(t, repo, store)

	go func() {
		id := <-job
		repo.Transition(ctx, nil, id,
			[]model.JobStatus{model.JobStatusQueued, model.JobStatusRunning},
			model.JobStatusCancelled, repository.TransitionFields{})
		close(cancelled)
	}()

	d.processOne(ctx)

	got, _ := repo.Get(ctx, nil, seeded.ID)
	if got.Status != model.JobStatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
	if got.OutputKey != "" {
		t.Errorf("cancelled job must not carry an output reference, got %q", got.OutputKey)
	}
}

func TestStorageFailureAfterWorkerSuccessRetries(t *testing.T) {
	ctx := context.Background()
	repo, store := newMemJobRepo(), newMemMediaStore()
	failures := 1
	store.putErr = func(key string) error {
		if failures > 0 && key == usecase.OutputKey(keyOf(repo)) {
			failures--
			return domain.ErrStorage
		}
		return nil
	}
	remover := &fakeRemover{}
	d := NewDispatcher(repo, store, remover, nil, testCfg(), nopLogger())
	job := seedJob(t, repo, store)

	d.processOne(ctx) // storage write fails, job requeued
	d.processOne(ctx) // retried write succeeds

	got, _ := repo.Get(ctx, nil, job.ID)
	if got.Status != model.JobStatusSucceeded {
		t.Fatalf("status = %s, want succeeded", got.Status)
	}
	if got.Retries != 1 {
		t.Errorf("retries = %d, want 1", got.Retries)
	}
}

// keyOf returns the single job's ID from a fresh repo.
func keyOf(repo *memJobRepo) string {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	for id := range repo.jobs {
		return id
	}
	return ""
}

func TestDoubleClaimYieldsSingleRunningTransition(t *testing.T) {
	ctx := context.Background()
	repo, store := newMemJobRepo(), newMemMediaStore()
	job := seedJob(t, repo, store)

	first, err := repo.ClaimQueued(ctx)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if first.ID != job.ID || first.Status != model.JobStatusRunning {
		t.Fatalf("first claim = %+v", first)
	}

	if _, err := repo.ClaimQueued(ctx); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second claim = %v, want ErrNotFound", err)
	}

	// A direct conflicting CAS also loses.
	_, err = repo.Transition(ctx, nil, job.ID,
		[]model.JobStatus{model.JobStatusQueued}, model.JobStatusRunning,
		repository.TransitionFields{})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("conflicting transition = %v, want ErrConflict", err)
	}
}

func TestRecoverRequeuesStaleRunning(t *testing.T) {
	ctx := context.Background()
	repo, store := newMemJobRepo(), newMemMediaStore()
	cfg := testCfg()
	cfg.StaleAfter = 10 * time.Millisecond
	d := NewDispatcher(repo, store, &fakeRemover{}, nil, cfg, nopLogger())
	job := seedJob(t, repo, store)

	if _, err := repo.ClaimQueued(ctx); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)

	d.recover(ctx)

	got, _ := repo.Get(ctx, nil, job.ID)
	if got.Status != model.JobStatusQueued {
		t.Fatalf("status = %s, want queued after recovery", got.Status)
	}
}

func TestStartDrivesJobToTerminalState(t *testing.T) {
	repo, store := newMemJobRepo(), newMemMediaStore()
	d := NewDispatcher(repo, store, &fakeRemover{}, nil, testCfg(), nopLogger())
	job := seedJob(t, repo, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool := NewPool(2, nopLogger())
	pool.Start(ctx)
	go d.Start(ctx, pool)

	deadline := time.After(2 * time.Second)
	for {
		got, _ := repo.Get(context.Background(), nil, job.ID)
		if got.Status.Terminal() {
			if got.Status != model.JobStatusSucceeded {
				t.Fatalf("terminal status = %s, want succeeded", got.Status)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("job never reached a terminal state")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
