// Package tracking manages per-job location sessions on the server side. The
// mobile client samples at a bounded interval (5s in test mode, 60s
// otherwise) and posts each sample here.
package tracking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops-dev/fieldops/internal/geofence"
	"github.com/fieldops-dev/fieldops/internal/lifecycle"
	"github.com/fieldops-dev/fieldops/internal/logging"
	"github.com/fieldops-dev/fieldops/internal/metrics"
	"github.com/fieldops-dev/fieldops/internal/models"
	"github.com/fieldops-dev/fieldops/internal/store"
)

var trackerLogger = logging.C("tracking")

// Sessions keep a bounded sample ring so a long shift cannot grow a document
// without limit.
const maxSamples = 500

// ArrivalHook is invoked exactly once per session, the first time a sample
// lands inside the arrival radius.
type ArrivalHook interface {
	HandleArrival(ctx context.Context, jobID, staffID string)
}

// Tracker records samples, evaluates arrival, and sweeps sessions whose jobs
// are no longer active.
type Tracker struct {
	store        store.Store
	hook         ArrivalHook
	radiusMeters float64
	clock        func() time.Time
}

func New(st store.Store, hook ArrivalHook, radiusMeters float64) *Tracker {
	if radiusMeters <= 0 {
		radiusMeters = geofence.DefaultArrivalRadiusMeters
	}
	return &Tracker{store: st, hook: hook, radiusMeters: radiusMeters, clock: time.Now}
}

// WithClock overrides the time source; tests only.
func (t *Tracker) WithClock(clock func() time.Time) *Tracker {
	t.clock = clock
	return t
}

// Record stores one sample and returns the geofence evaluation for it. The
// session is created lazily on the first sample for an active job.
func (t *Tracker) Record(ctx context.Context, staffID, jobID string, coord models.Coordinate) (geofence.Evaluation, error) {
	job, err := t.store.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return geofence.Evaluation{}, lifecycle.NotFoundf("job %s not found", jobID)
	}
	if err != nil {
		return geofence.Evaluation{}, lifecycle.Transient("load job", err)
	}
	if job.AssignedStaffID != staffID {
		return geofence.Evaluation{}, lifecycle.Unauthorizedf("job %s is not assigned to staff %s", jobID, staffID)
	}
	if !job.Status.Active() {
		return geofence.Evaluation{}, lifecycle.InvalidStatef("job %s is %s; tracking requires an active job", jobID, job.Status)
	}
	if job.Location.Coordinate == nil {
		return geofence.Evaluation{}, lifecycle.Validationf("job %s has no target coordinate", jobID)
	}

	eval := geofence.Evaluate(coord, *job.Location.Coordinate, t.radiusMeters)
	now := t.clock().UTC()

	sess, err := t.store.GetTrackingSession(ctx, staffID, jobID)
	if errors.Is(err, store.ErrNotFound) {
		sess = models.TrackingSession{
			ID:        uuid.NewString(),
			StaffID:   staffID,
			JobID:     jobID,
			StartedAt: now,
		}
	} else if err != nil {
		return geofence.Evaluation{}, lifecycle.Transient("load tracking session", err)
	}

	sess.Samples = append(sess.Samples, models.LocationSample{Coordinate: coord, RecordedAt: now})
	if len(sess.Samples) > maxSamples {
		sess.Samples = sess.Samples[len(sess.Samples)-maxSamples:]
	}
	sess.DistanceMeters = eval.DistanceMeters

	firstArrival := eval.HasArrived && !sess.Arrived
	if firstArrival {
		sess.Arrived = true
		arrivedAt := now
		sess.ArrivedAt = &arrivedAt
	}

	if err := t.store.PutTrackingSession(ctx, sess); err != nil {
		return geofence.Evaluation{}, lifecycle.Transient("persist tracking session", err)
	}

	if firstArrival {
		metrics.Arrival()
		if t.hook != nil {
			t.hook.HandleArrival(ctx, jobID, staffID)
		}
	}
	return eval, nil
}

// Stop closes the open session for the staff/job pair, if any.
func (t *Tracker) Stop(ctx context.Context, staffID, jobID string) error {
	sess, err := t.store.GetTrackingSession(ctx, staffID, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return lifecycle.Transient("load tracking session", err)
	}
	now := t.clock().UTC()
	sess.ClosedAt = &now
	if err := t.store.PutTrackingSession(ctx, sess); err != nil {
		return lifecycle.Transient("persist tracking session", err)
	}
	return nil
}

// Sweep closes every open session whose job has left an active status.
func (t *Tracker) Sweep(ctx context.Context) {
	sessions, err := t.store.ListOpenTrackingSessions(ctx)
	if err != nil {
		trackerLogger.WithError(err).Warn("tracking sweep: list failed")
		return
	}
	for _, sess := range sessions {
		job, err := t.store.GetJob(ctx, sess.JobID)
		if err == nil && job.Status.Active() {
			continue
		}
		now := t.clock().UTC()
		sess.ClosedAt = &now
		if err := t.store.PutTrackingSession(ctx, sess); err != nil {
			trackerLogger.WithError(err).WithField("session_id", sess.ID).Warn("tracking sweep: close failed")
		}
	}
}

// Run sweeps on a ticker until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			trackerLogger.Info("stopping tracking sweep")
			return
		case <-ticker.C:
			t.Sweep(ctx)
		}
	}
}
