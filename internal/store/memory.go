package store

import (
	"context"
	"sort"
	"sync"

	"github.com/fieldops-dev/fieldops/internal/models"
)

// Memory is a mutex-guarded in-process Store used by tests and local runs
// without a database. It mirrors the Mongo implementation's semantics,
// including the version-conditional job write.
type Memory struct {
	mu       sync.Mutex
	jobs     map[string]models.Job
	events   []models.JobEvent
	staff    map[string]models.StaffProfile
	pins     map[string]models.PinAttemptRecord
	tracking map[string]models.TrackingSession
}

func NewMemory() *Memory {
	return &Memory{
		jobs:     make(map[string]models.Job),
		staff:    make(map[string]models.StaffProfile),
		pins:     make(map[string]models.PinAttemptRecord),
		tracking: make(map[string]models.TrackingSession),
	}
}

// SeedStaff installs a directory entry; tests use this in place of the
// external staff directory.
func (m *Memory) SeedStaff(staff models.StaffProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staff[staff.ID] = staff
}

func (m *Memory) CreateJob(_ context.Context, job models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
	return nil
}

func (m *Memory) GetJob(_ context.Context, id string) (models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return models.Job{}, ErrNotFound
	}
	return job, nil
}

func (m *Memory) ListJobsByStaff(_ context.Context, staffID string) ([]models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var jobs []models.Job
	for _, j := range m.jobs {
		if j.AssignedStaffID == staffID {
			jobs = append(jobs, j)
		}
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].ScheduledAt.Before(jobs[k].ScheduledAt) })
	return jobs, nil
}

func (m *Memory) UpdateJob(_ context.Context, job models.Job, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.jobs[job.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != expectedVersion {
		return ErrVersionMismatch
	}
	m.jobs[job.ID] = job
	return nil
}

func (m *Memory) AppendEvent(_ context.Context, ev models.JobEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *Memory) ListEvents(_ context.Context, jobID string) ([]models.JobEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var events []models.JobEvent
	for _, ev := range m.events {
		if ev.JobID == jobID {
			events = append(events, ev)
		}
	}
	return events, nil
}

func (m *Memory) GetStaff(_ context.Context, id string) (models.StaffProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	staff, ok := m.staff[id]
	if !ok {
		return models.StaffProfile{}, ErrNotFound
	}
	return staff, nil
}

func (m *Memory) GetPinAttempts(_ context.Context, staffID string) (models.PinAttemptRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.pins[staffID]
	if !ok {
		return models.PinAttemptRecord{StaffID: staffID}, nil
	}
	return rec, nil
}

func (m *Memory) PutPinAttempts(_ context.Context, rec models.PinAttemptRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pins[rec.StaffID] = rec
	return nil
}

func (m *Memory) ResetPinAttempts(_ context.Context, staffID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pins, staffID)
	return nil
}

func (m *Memory) GetTrackingSession(_ context.Context, staffID, jobID string) (models.TrackingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.tracking {
		if s.StaffID == staffID && s.JobID == jobID && s.Open() {
			return s, nil
		}
	}
	return models.TrackingSession{}, ErrNotFound
}

func (m *Memory) PutTrackingSession(_ context.Context, s models.TrackingSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracking[s.ID] = s
	return nil
}

func (m *Memory) ListOpenTrackingSessions(_ context.Context) ([]models.TrackingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sessions []models.TrackingSession
	for _, s := range m.tracking {
		if s.Open() {
			sessions = append(sessions, s)
		}
	}
	return sessions, nil
}
