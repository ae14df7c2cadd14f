//go:build !integration

package worker

import (
	"context"
	"sync"
	"time"

	"bp-api-service/internal/domain"
	"bp-api-service/internal/domain/model"
	"bp-api-service/internal/domain/ports/adapter"
	"bp-api-service/internal/domain/ports/repository"
)

// ---- in-memory JobRepository ----

type memJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*model.Job
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: map[string]*model.Job{}}
}

func (m *memJobRepo) Create(ctx context.Context, tx repository.Tx, job *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return domain.ErrAlreadyExists
	}
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memJobRepo) Get(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memJobRepo) Transition(ctx context.Context, tx repository.Tx, id string, from []model.JobStatus, to model.JobStatus, fields repository.TransitionFields) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	allowed := false
	for _, f := range from {
		if j.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, domain.ErrConflict
	}
	j.Status = to
	if fields.OutputKey != nil {
		j.OutputKey = *fields.OutputKey
	}
	if fields.ErrorDetail != nil {
		j.ErrorDetail = *fields.ErrorDetail
	}
	if fields.Retries != nil {
		j.Retries = *fields.Retries
	}
	j.UpdatedAt = time.Now()
	cp := *j
	return &cp, nil
}

func (m *memJobRepo) ClaimQueued(ctx context.Context) (*model.Job, error) {
	m.mu.Lock()
	var oldest *model.Job
	for _, j := range m.jobs {
		if j.Status != model.JobStatusQueued {
			continue
		}
		if oldest == nil || j.CreatedAt.Before(oldest.CreatedAt) {
			oldest = j
		}
	}
	if oldest == nil {
		m.mu.Unlock()
		return nil, domain.ErrNotFound
	}
	id := oldest.ID
	m.mu.Unlock()
	return m.Transition(ctx, nil, id, []model.JobStatus{model.JobStatusQueued}, model.JobStatusRunning, repository.TransitionFields{})
}

func (m *memJobRepo) RequeueStale(ctx context.Context, olderThan time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	n := 0
	for _, j := range m.jobs {
		if j.Status == model.JobStatusRunning && j.UpdatedAt.Before(cutoff) {
			j.Status = model.JobStatusQueued
			j.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (m *memJobRepo) ListByGroup(ctx context.Context, tx repository.Tx, taskGroup string) ([]*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Job
	for _, j := range m.jobs {
		if j.TaskGroup == taskGroup {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memJobRepo) ListPurgeable(ctx context.Context, cutoff time.Time, limit int) ([]*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Job
	for _, j := range m.jobs {
		if j.Status.Terminal() && j.PurgedAt == nil && j.UpdatedAt.Before(cutoff) {
			cp := *j
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memJobRepo) MarkPurged(ctx context.Context, tx repository.Tx, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now()
	j.PurgedAt = &now
	return nil
}

// ---- in-memory MediaStore ----

type memObject struct {
	data        []byte
	contentType string
}

type memMediaStore struct {
	mu      sync.Mutex
	objects map[string]memObject

	putErr func(key string) error // optional hook
}

func newMemMediaStore() *memMediaStore {
	return &memMediaStore{objects: map[string]memObject{}}
}

func (m *memMediaStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		if err := m.putErr(key); err != nil {
			return "", err
		}
	}
	if _, ok := m.objects[key]; ok {
		return "", domain.ErrAlreadyExists
	}
	m.objects[key] = memObject{data: append([]byte(nil), data...), contentType: contentType}
	return "mem://" + key, nil
}

func (m *memMediaStore) Get(ctx context.Context, key string) ([]byte, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[key]
	if !ok {
		return nil, "", domain.ErrNotFound
	}
	return append([]byte(nil), o.data...), o.contentType, nil
}

func (m *memMediaStore) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memMediaStore) URLFor(key string) string {
	return "https://cdn.example.com/media/" + key
}

// ---- configurable BackgroundRemover ----

type fakeRemover struct {
	mu    sync.Mutex
	calls int

	removeFunc func(call int, ctx context.Context, tier model.Tier, input adapter.ImageInput) (*adapter.Removal, error)
}

func (f *fakeRemover) Remove(ctx context.Context, tier model.Tier, input adapter.ImageInput) (*adapter.Removal, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	fn := f.removeFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(call, ctx, tier, input)
	}
	return &adapter.Removal{Bytes: []byte("processed"), ContentType: "image/png"}, nil
}

func (f *fakeRemover) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// ---- recording notifier ----

type recNotifier struct {
	mu      sync.Mutex
	updates []model.JobStatus
}

func (r *recNotifier) JobUpdated(ctx context.Context, job *model.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, job.Status)
}
