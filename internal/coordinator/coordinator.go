// Package coordinator is the only writer of the authoritative job document.
// Clients never mutate a job directly; they submit intents carrying the
// version they read, and stale submissions are rejected for retry.
package coordinator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops-dev/fieldops/internal/lifecycle"
	"github.com/fieldops-dev/fieldops/internal/logging"
	"github.com/fieldops-dev/fieldops/internal/metrics"
	"github.com/fieldops-dev/fieldops/internal/models"
	"github.com/fieldops-dev/fieldops/internal/store"
)

var coordLogger = logging.C("coordinator")

// Notifier is the fan-out boundary. Implementations must be fire-and-forget;
// the coordinator never checks a delivery result.
type Notifier interface {
	Notify(ctx context.Context, ev models.JobEvent)
}

// Coordinator reconciles client intents against the stored job document.
type Coordinator struct {
	store              store.Store
	machine            *lifecycle.Machine
	notifier           Notifier
	autoStartOnArrival bool
	clock              func() time.Time
}

func New(st store.Store, machine *lifecycle.Machine, notifier Notifier, autoStartOnArrival bool) *Coordinator {
	return &Coordinator{
		store:              st,
		machine:            machine,
		notifier:           notifier,
		autoStartOnArrival: autoStartOnArrival,
		clock:              time.Now,
	}
}

// WithClock overrides the time source; tests only.
func (c *Coordinator) WithClock(clock func() time.Time) *Coordinator {
	c.clock = clock
	return c
}

// CreateJobInput is the assignment intake from the dispatching party.
type CreateJobInput struct {
	Title            string
	Description      string
	Type             models.JobType
	Priority         models.JobPriority
	StaffID          string
	PropertyID       string
	Location         models.Location
	ScheduledAt      time.Time
	EstimatedMinutes int
	Requirements     []string
	AssignedBy       lifecycle.Actor
	Source           models.EventSource
}

// CreateJob validates the intake, creates the job, and runs the pending →
// assigned transition through the state machine so the first version is 1.
func (c *Coordinator) CreateJob(ctx context.Context, in CreateJobInput) (models.Job, error) {
	if strings.TrimSpace(in.Title) == "" {
		return models.Job{}, lifecycle.Validationf("title is required")
	}
	if strings.TrimSpace(in.StaffID) == "" {
		return models.Job{}, lifecycle.Validationf("staff id is required")
	}
	if !in.Type.Valid() {
		return models.Job{}, lifecycle.Validationf("unknown job type %q", in.Type)
	}
	if in.ScheduledAt.IsZero() {
		return models.Job{}, lifecycle.Validationf("scheduled time is required")
	}
	if in.Priority == "" {
		in.Priority = models.PriorityMedium
	}
	if !in.Priority.Valid() {
		return models.Job{}, lifecycle.Validationf("unknown priority %q", in.Priority)
	}
	if in.EstimatedMinutes <= 0 {
		in.EstimatedMinutes = 60
	}

	if _, err := c.store.GetStaff(ctx, in.StaffID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.Job{}, lifecycle.NotFoundf("staff %s not found", in.StaffID)
		}
		return models.Job{}, lifecycle.Transient("look up staff", err)
	}

	now := c.clock().UTC()
	job := models.Job{
		ID:               uuid.NewString(),
		Title:            in.Title,
		Description:      in.Description,
		Type:             in.Type,
		Priority:         in.Priority,
		Status:           models.StatusPending,
		PropertyID:       in.PropertyID,
		Location:         in.Location,
		ScheduledAt:      in.ScheduledAt.UTC(),
		EstimatedMinutes: in.EstimatedMinutes,
		Version:          0,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	for _, desc := range in.Requirements {
		if strings.TrimSpace(desc) == "" {
			continue
		}
		job.Requirements = append(job.Requirements, models.Requirement{
			ID:          uuid.NewString(),
			Description: desc,
		})
	}

	src := in.Source
	if src == "" {
		src = models.SourceWeb
	}
	assigned, err := c.machine.Apply(job, lifecycle.NewAssign(in.AssignedBy, src, in.StaffID))
	if err != nil {
		metrics.TransitionRejected(string(lifecycle.KindOf(err)))
		return models.Job{}, err
	}

	if err := c.store.CreateJob(ctx, assigned); err != nil {
		return models.Job{}, lifecycle.Transient("persist job", err)
	}

	c.commitSideEffects(ctx, assigned, lifecycle.NewAssign(in.AssignedBy, src, in.StaffID), "")
	return assigned, nil
}

// Outcome is what a reconciliation produced.
type Outcome struct {
	Applied bool
	Job     models.Job
}

// Reconcile loads the current document, rejects stale base versions, applies
// the intent through the state machine, and persists with a conditional
// write. Replaying an intent against an already-applied version yields a
// conflict rather than a double application.
func (c *Coordinator) Reconcile(ctx context.Context, jobID string, baseVersion int64, intent lifecycle.Intent) (Outcome, error) {
	job, err := c.store.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return Outcome{}, lifecycle.NotFoundf("job %s not found", jobID)
	}
	if err != nil {
		return Outcome{}, lifecycle.Transient("load job", err)
	}

	if job.Version != baseVersion {
		metrics.Conflict()
		return Outcome{}, lifecycle.Conflictf(job.Version,
			"job %s is at version %d, intent based on %d", jobID, job.Version, baseVersion)
	}

	updated, err := c.machine.Apply(job, intent)
	if err != nil {
		metrics.TransitionRejected(string(lifecycle.KindOf(err)))
		return Outcome{}, err
	}

	if err := c.store.UpdateJob(ctx, updated, baseVersion); err != nil {
		switch {
		case errors.Is(err, store.ErrVersionMismatch):
			// Another writer landed between our read and our write.
			metrics.Conflict()
			current, gerr := c.store.GetJob(ctx, jobID)
			if gerr != nil {
				return Outcome{}, lifecycle.Conflictf(baseVersion, "job %s version changed during write", jobID)
			}
			return Outcome{}, lifecycle.Conflictf(current.Version,
				"job %s is at version %d, intent based on %d", jobID, current.Version, baseVersion)
		case errors.Is(err, store.ErrNotFound):
			return Outcome{}, lifecycle.NotFoundf("job %s not found", jobID)
		default:
			return Outcome{}, lifecycle.Transient("persist job", err)
		}
	}

	reason := reasonOf(intent)
	c.commitSideEffects(ctx, updated, intent, reason)
	return Outcome{Applied: true, Job: updated}, nil
}

// commitSideEffects runs after the state write: append the audit event, then
// hand it to the fan-out. An event-log write failure is logged, not surfaced;
// the transition has already committed and is not rolled back.
func (c *Coordinator) commitSideEffects(ctx context.Context, job models.Job, intent lifecycle.Intent, reason string) {
	metrics.TransitionApplied(string(job.Status))

	ev := models.JobEvent{
		ID:         uuid.NewString(),
		Type:       lifecycle.EventType(intent),
		JobID:      job.ID,
		ActorID:    intent.Actor().ID,
		Status:     job.Status,
		Source:     intent.Source(),
		Reason:     reason,
		OccurredAt: c.clock().UTC(),
	}
	if err := c.store.AppendEvent(ctx, ev); err != nil {
		coordLogger.WithError(err).WithField("job_id", job.ID).Warn("job event append failed")
	}
	if c.notifier != nil {
		c.notifier.Notify(ctx, ev)
	}
}

func reasonOf(intent lifecycle.Intent) string {
	switch in := intent.(type) {
	case lifecycle.RejectIntent:
		return in.Reason
	case lifecycle.CancelIntent:
		return in.Reason
	}
	return ""
}

// HandleArrival is the policy hook fired when a tracking session first
// crosses into the arrival radius. It always records the arrival in the
// event log; starting the job automatically is configurable and runs through
// the normal reconcile path, so a lost race degrades to a dropped conflict.
func (c *Coordinator) HandleArrival(ctx context.Context, jobID, staffID string) {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		coordLogger.WithError(err).WithField("job_id", jobID).Warn("arrival hook: job load failed")
		return
	}

	ev := models.JobEvent{
		ID:         uuid.NewString(),
		Type:       models.EventJobArrival,
		JobID:      jobID,
		ActorID:    staffID,
		Status:     job.Status,
		Source:     models.SourceMobile,
		OccurredAt: c.clock().UTC(),
	}
	if err := c.store.AppendEvent(ctx, ev); err != nil {
		coordLogger.WithError(err).WithField("job_id", jobID).Warn("arrival event append failed")
	}
	if c.notifier != nil {
		c.notifier.Notify(ctx, ev)
	}

	if !c.autoStartOnArrival {
		return
	}
	if job.Status != models.StatusAccepted || job.AssignedStaffID != staffID {
		return
	}

	actor := lifecycle.Actor{ID: staffID, Role: models.RoleStaff}
	if _, err := c.Reconcile(ctx, jobID, job.Version, lifecycle.NewStart(actor, models.SourceSystem, nil)); err != nil {
		if lifecycle.IsKind(err, lifecycle.KindConflict) {
			coordLogger.WithField("job_id", jobID).Debug("arrival auto-start lost a version race; dropping")
			return
		}
		coordLogger.WithError(err).WithField("job_id", jobID).Warn("arrival auto-start failed")
	}
}
