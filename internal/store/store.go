// Package store is the persistence boundary. The document store is an
// external collaborator; this package only assumes CRUD plus atomic
// per-document conditional writes.
package store

import (
	"context"
	"errors"

	"github.com/fieldops-dev/fieldops/internal/models"
)

var (
	// ErrNotFound means the referenced document does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrVersionMismatch means a conditional job write lost the version race.
	ErrVersionMismatch = errors.New("store: version mismatch")
)

// Store is everything the lifecycle core persists or reads. Staff profiles
// are read-only: the directory service owns them.
type Store interface {
	CreateJob(ctx context.Context, job models.Job) error
	GetJob(ctx context.Context, id string) (models.Job, error)
	ListJobsByStaff(ctx context.Context, staffID string) ([]models.Job, error)
	// UpdateJob replaces the job document only if the stored version still
	// equals expectedVersion. ErrVersionMismatch otherwise.
	UpdateJob(ctx context.Context, job models.Job, expectedVersion int64) error

	AppendEvent(ctx context.Context, ev models.JobEvent) error
	ListEvents(ctx context.Context, jobID string) ([]models.JobEvent, error)

	GetStaff(ctx context.Context, id string) (models.StaffProfile, error)

	// GetPinAttempts returns a zero-valued record when none exists yet.
	GetPinAttempts(ctx context.Context, staffID string) (models.PinAttemptRecord, error)
	PutPinAttempts(ctx context.Context, rec models.PinAttemptRecord) error
	ResetPinAttempts(ctx context.Context, staffID string) error

	GetTrackingSession(ctx context.Context, staffID, jobID string) (models.TrackingSession, error)
	PutTrackingSession(ctx context.Context, s models.TrackingSession) error
	ListOpenTrackingSessions(ctx context.Context) ([]models.TrackingSession, error)
}
