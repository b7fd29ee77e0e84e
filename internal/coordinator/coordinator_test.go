package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops-dev/fieldops/internal/lifecycle"
	"github.com/fieldops-dev/fieldops/internal/models"
	"github.com/fieldops-dev/fieldops/internal/store"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.JobEvent
}

func (r *recordingNotifier) Notify(_ context.Context, ev models.JobEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingNotifier) byType(evType string) []models.JobEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.JobEvent
	for _, ev := range r.events {
		if ev.Type == evType {
			out = append(out, ev)
		}
	}
	return out
}

var (
	testNow    = time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	staffActor = lifecycle.Actor{ID: "staff-1", Role: models.RoleStaff}
	adminActor = lifecycle.Actor{ID: "admin-1", Role: models.RoleAdmin}
)

func newTestCoordinator(t *testing.T, autoStart bool) (*Coordinator, *store.Memory, *recordingNotifier) {
	t.Helper()
	st := store.NewMemory()
	st.SeedStaff(models.StaffProfile{ID: "staff-1", Name: "Dana", Role: models.RoleStaff})
	st.SeedStaff(models.StaffProfile{ID: "staff-2", Name: "Theo", Role: models.RoleStaff})
	st.SeedStaff(models.StaffProfile{ID: "admin-1", Name: "Ops", Role: models.RoleAdmin})

	notifier := &recordingNotifier{}
	machine := &lifecycle.Machine{Clock: func() time.Time { return testNow }}
	coord := New(st, machine, notifier, autoStart).WithClock(func() time.Time { return testNow })
	return coord, st, notifier
}

func validInput() CreateJobInput {
	return CreateJobInput{
		Title:       "Inspect boiler",
		Type:        models.JobTypeInspection,
		StaffID:     "staff-1",
		ScheduledAt: testNow.Add(24 * time.Hour),
		Location: models.Location{
			Address:    "12 Harbor Rd",
			Coordinate: &models.Coordinate{Latitude: 51.5, Longitude: -0.12},
		},
		Requirements: []string{"photograph boiler plate"},
		AssignedBy:   adminActor,
		Source:       models.SourceWeb,
	}
}

func TestCreateJob(t *testing.T) {
	coord, st, notifier := newTestCoordinator(t, false)
	ctx := context.Background()

	job, err := coord.CreateJob(ctx, validInput())
	require.NoError(t, err)
	assert.Equal(t, models.StatusAssigned, job.Status)
	assert.Equal(t, int64(1), job.Version)
	assert.Equal(t, models.PriorityMedium, job.Priority, "priority defaults to medium")
	assert.Equal(t, 60, job.EstimatedMinutes, "estimate defaults to 60 minutes")
	assert.Len(t, job.Requirements, 1)

	stored, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job, stored)

	events, err := st.ListEvents(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventJobAssigned, events[0].Type)
	assert.Len(t, notifier.byType(models.EventJobAssigned), 1)
}

func TestCreateJobValidation(t *testing.T) {
	coord, _, _ := newTestCoordinator(t, false)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*CreateJobInput)
		kind   lifecycle.Kind
	}{
		{"missing title", func(in *CreateJobInput) { in.Title = " " }, lifecycle.KindValidation},
		{"missing staff", func(in *CreateJobInput) { in.StaffID = "" }, lifecycle.KindValidation},
		{"bad type", func(in *CreateJobInput) { in.Type = "gardening" }, lifecycle.KindValidation},
		{"bad priority", func(in *CreateJobInput) { in.Priority = "asap" }, lifecycle.KindValidation},
		{"missing schedule", func(in *CreateJobInput) { in.ScheduledAt = time.Time{} }, lifecycle.KindValidation},
		{"unknown staff", func(in *CreateJobInput) { in.StaffID = "ghost" }, lifecycle.KindNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validInput()
			tc.mutate(&in)
			_, err := coord.CreateJob(ctx, in)
			assert.True(t, lifecycle.IsKind(err, tc.kind), "got %v", err)
		})
	}
}

func TestReconcileStaleBaseVersion(t *testing.T) {
	coord, _, _ := newTestCoordinator(t, false)
	ctx := context.Background()

	job, err := coord.CreateJob(ctx, validInput())
	require.NoError(t, err)

	_, err = coord.Reconcile(ctx, job.ID, job.Version+5, lifecycle.NewAccept(staffActor, models.SourceMobile))
	require.True(t, lifecycle.IsKind(err, lifecycle.KindConflict))
	current, ok := lifecycle.ConflictVersion(err)
	require.True(t, ok)
	assert.Equal(t, job.Version, current)
}

func TestReconcileReplayIsRejected(t *testing.T) {
	coord, st, _ := newTestCoordinator(t, false)
	ctx := context.Background()

	job, err := coord.CreateJob(ctx, validInput())
	require.NoError(t, err)

	out, err := coord.Reconcile(ctx, job.ID, job.Version, lifecycle.NewAccept(staffActor, models.SourceMobile))
	require.NoError(t, err)
	require.True(t, out.Applied)
	assert.Equal(t, models.StatusAccepted, out.Job.Status)

	// A duplicate network retry carries the same base version; it must be a
	// conflict, not a second application.
	_, err = coord.Reconcile(ctx, job.ID, job.Version, lifecycle.NewAccept(staffActor, models.SourceMobile))
	require.True(t, lifecycle.IsKind(err, lifecycle.KindConflict))

	stored, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, out.Job.Version, stored.Version, "replay must not bump the version")

	events, err := st.ListEvents(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, events, 2, "assign + accept only")
}

func TestReconcileUnknownJob(t *testing.T) {
	coord, _, _ := newTestCoordinator(t, false)

	_, err := coord.Reconcile(context.Background(), "missing", 1, lifecycle.NewAccept(staffActor, models.SourceMobile))
	assert.True(t, lifecycle.IsKind(err, lifecycle.KindNotFound))
}

// Full dispatch scenario: assign, accept, a foreign rejection attempt, then
// completion, with fan-out invoked exactly once per accepted transition.
func TestLifecycleScenario(t *testing.T) {
	coord, st, notifier := newTestCoordinator(t, false)
	ctx := context.Background()

	job, err := coord.CreateJob(ctx, validInput())
	require.NoError(t, err)
	require.Equal(t, int64(1), job.Version)

	out, err := coord.Reconcile(ctx, job.ID, 1, lifecycle.NewAccept(staffActor, models.SourceMobile))
	require.NoError(t, err)
	require.Equal(t, int64(2), out.Job.Version)
	require.Equal(t, models.StatusAccepted, out.Job.Status)

	intruder := lifecycle.Actor{ID: "staff-2", Role: models.RoleStaff}
	_, err = coord.Reconcile(ctx, job.ID, 2, lifecycle.NewReject(intruder, models.SourceMobile, "not mine"))
	require.True(t, lifecycle.IsKind(err, lifecycle.KindUnauthorized))

	stored, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), stored.Version, "failed transition must not move the version")

	out, err = coord.Reconcile(ctx, job.ID, 2,
		lifecycle.NewComplete(staffActor, models.SourceMobile, 90, "done", nil))
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, out.Job.Status)
	assert.Equal(t, int64(3), out.Job.Version)
	assert.Equal(t, 90, out.Job.ActualMinutes)

	for _, evType := range []string{models.EventJobAssigned, models.EventJobAccepted, models.EventJobCompleted} {
		assert.Len(t, notifier.byType(evType), 1, "exactly one fan-out for %s", evType)
	}
}

func TestHandleArrivalEmitsEventWithoutAutoStart(t *testing.T) {
	coord, st, notifier := newTestCoordinator(t, false)
	ctx := context.Background()

	job, err := coord.CreateJob(ctx, validInput())
	require.NoError(t, err)
	_, err = coord.Reconcile(ctx, job.ID, 1, lifecycle.NewAccept(staffActor, models.SourceMobile))
	require.NoError(t, err)

	coord.HandleArrival(ctx, job.ID, "staff-1")

	stored, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, stored.Status, "arrival must not force a transition")
	assert.Len(t, notifier.byType(models.EventJobArrival), 1)
}

func TestHandleArrivalAutoStart(t *testing.T) {
	coord, st, _ := newTestCoordinator(t, true)
	ctx := context.Background()

	job, err := coord.CreateJob(ctx, validInput())
	require.NoError(t, err)
	_, err = coord.Reconcile(ctx, job.ID, 1, lifecycle.NewAccept(staffActor, models.SourceMobile))
	require.NoError(t, err)

	coord.HandleArrival(ctx, job.ID, "staff-1")

	stored, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, stored.Status)
	assert.Equal(t, int64(3), stored.Version)

	// Arrival for the wrong staff member must be ignored.
	coord.HandleArrival(ctx, job.ID, "staff-2")
	stored, err = st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stored.Version)
}
