package registry

import (
	"context"
	"sync"
	"time"

	"LectureNotes/internal/domain"
	"LectureNotes/internal/ports"
)

// Memory keeps job records in process memory.
type Memory struct {
	mu   sync.RWMutex
	jobs map[string]domain.Job
	now  func() time.Time
}

var _ ports.JobRegistry = (*Memory)(nil)

// NewMemory builds an empty in-memory registry.
func NewMemory() *Memory {
	return &Memory{jobs: map[string]domain.Job{}, now: time.Now}
}

func (m *Memory) Create(_ context.Context, job domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[job.ID]; ok {
		return domain.Errorf(domain.CodeInvalidInput, "job %s already exists", job.ID)
	}
	m.jobs[job.ID] = job.Clone()
	return nil
}

func (m *Memory) Update(_ context.Context, id string, update domain.JobUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return notFound(id)
	}
	if err := job.Apply(update, m.now()); err != nil {
		return err
	}
	m.jobs[id] = job
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return domain.Job{}, notFound(id)
	}
	return job.Clone(), nil
}

func notFound(id string) error {
	return domain.Errorf(domain.CodeJobNotFound, "job %s not found", id)
}
