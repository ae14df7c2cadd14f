//go:build !integration

package web

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bp-api-service/internal/domain"
	"bp-api-service/internal/domain/model"
	"bp-api-service/internal/domain/ports/repository"
)

// --- Mock Repositories (Ports) ---

type mockJobRepo struct {
	repository.JobRepository // Embed interface for forward compatibility
	mu                       sync.Mutex
	jobs                     map[string]*model.Job
	CreateError              error // To simulate errors
}

func newMockJobRepo() *mockJobRepo {
	return &mockJobRepo{jobs: map[string]*model.Job{}}
}

func (m *mockJobRepo) Create(ctx context.Context, tx repository.Tx, job *model.Job) error {
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return domain.ErrAlreadyExists
	}
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *mockJobRepo) Get(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *mockJobRepo) Transition(ctx context.Context, tx repository.Tx, id string, from []model.JobStatus, to model.JobStatus, fields repository.TransitionFields) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	allowed := false
	for _, f := range from {
		if job.Status == f {
			allowed = true
		}
	}
	if !allowed {
		return nil, domain.ErrConflict
	}
	job.Status = to
	if fields.OutputKey != nil {
		job.OutputKey = *fields.OutputKey
	}
	if fields.ErrorDetail != nil {
		job.ErrorDetail = *fields.ErrorDetail
	}
	if fields.Retries != nil {
		job.Retries = *fields.Retries
	}
	job.UpdatedAt = time.Now()
	cp := *job
	return &cp, nil
}

func (m *mockJobRepo) ListByGroup(ctx context.Context, tx repository.Tx, taskGroup string) ([]*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Job
	for _, job := range m.jobs {
		if job.TaskGroup == taskGroup {
			cp := *job
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- Mock Media Store ---

type mockObject struct {
	data        []byte
	contentType string
}

type mockMediaStore struct {
	mu       sync.Mutex
	objects  map[string]mockObject
	PutError error
}

func newMockMediaStore() *mockMediaStore {
	return &mockMediaStore{objects: map[string]mockObject{}}
}

func (m *mockMediaStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if m.PutError != nil {
		return "", m.PutError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; ok {
		return "", domain.ErrAlreadyExists
	}
	m.objects[key] = mockObject{data: append([]byte(nil), data...), contentType: contentType}
	return key, nil
}

func (m *mockMediaStore) Get(ctx context.Context, key string) ([]byte, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[key]
	if !ok {
		return nil, "", domain.ErrNotFound
	}
	return append([]byte(nil), o.data...), o.contentType, nil
}

func (m *mockMediaStore) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *mockMediaStore) URLFor(key string) string {
	return fmt.Sprintf("http://media.local/%s", key)
}
