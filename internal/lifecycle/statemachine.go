package lifecycle

import (
	"strings"
	"time"

	"github.com/fieldops-dev/fieldops/internal/models"
)

// Actor is the identity attempting a transition. Role comes from the staff
// directory, not from the request.
type Actor struct {
	ID   string
	Role models.StaffRole
}

func (a Actor) dispatcher() bool { return a.Role.Dispatcher() }

// Intent is one client-submitted transition request. Each concrete intent
// carries only the fields its transition needs.
type Intent interface {
	Target() models.JobStatus
	Actor() Actor
	Source() models.EventSource
}

type base struct {
	By  Actor
	Src models.EventSource
}

func (b base) Actor() Actor { return b.By }
func (b base) Source() models.EventSource { return b.Src }

// AssignIntent moves a freshly created job from pending to assigned.
type AssignIntent struct {
	base
	StaffID string
}

// AcceptIntent is the assigned staff member taking the job.
type AcceptIntent struct{ base }

// RejectIntent declines an assignment; Reason is mandatory.
type RejectIntent struct {
	base
	Reason string
}

// StartIntent begins work. StartedAt defaults to the current time and is
// clamped so it never precedes acceptance.
type StartIntent struct {
	base
	StartedAt *time.Time
}

// RequirementUpdate marks one checklist item, matched by id. Requirements not
// listed in a completion are left untouched.
type RequirementUpdate struct {
	ID        string   `json:"id"`
	Completed bool     `json:"completed"`
	Notes     string   `json:"notes,omitempty"`
	PhotoIDs  []string `json:"photoIds,omitempty"`
}

// CompleteIntent finishes work; duration and notes are mandatory.
type CompleteIntent struct {
	base
	ActualMinutes   int
	CompletionNotes string
	Requirements    []RequirementUpdate
}

// CancelIntent withdraws a job; dispatcher-only, Reason mandatory.
type CancelIntent struct {
	base
	Reason string
}

// VerifyIntent is the dispatcher signing off a completed job.
type VerifyIntent struct{ base }

// NewAssign and friends exist so callers outside the package can construct
// intents without reaching into the unexported base.
func NewAssign(by Actor, src models.EventSource, staffID string) AssignIntent {
	return AssignIntent{base: base{By: by, Src: src}, StaffID: staffID}
}

func NewAccept(by Actor, src models.EventSource) AcceptIntent {
	return AcceptIntent{base: base{By: by, Src: src}}
}

func NewReject(by Actor, src models.EventSource, reason string) RejectIntent {
	return RejectIntent{base: base{By: by, Src: src}, Reason: reason}
}

func NewStart(by Actor, src models.EventSource, at *time.Time) StartIntent {
	return StartIntent{base: base{By: by, Src: src}, StartedAt: at}
}

func NewComplete(by Actor, src models.EventSource, minutes int, notes string, reqs []RequirementUpdate) CompleteIntent {
	return CompleteIntent{base: base{By: by, Src: src}, ActualMinutes: minutes, CompletionNotes: notes, Requirements: reqs}
}

func NewCancel(by Actor, src models.EventSource, reason string) CancelIntent {
	return CancelIntent{base: base{By: by, Src: src}, Reason: reason}
}

func NewVerify(by Actor, src models.EventSource) VerifyIntent {
	return VerifyIntent{base: base{By: by, Src: src}}
}

func (AssignIntent) Target() models.JobStatus { return models.StatusAssigned }

func (AcceptIntent) Target() models.JobStatus { return models.StatusAccepted }

func (RejectIntent) Target() models.JobStatus { return models.StatusRejected }

func (StartIntent) Target() models.JobStatus { return models.StatusInProgress }

func (CompleteIntent) Target() models.JobStatus { return models.StatusCompleted }

func (CancelIntent) Target() models.JobStatus { return models.StatusCancelled }

func (VerifyIntent) Target() models.JobStatus { return models.StatusVerified }

// EventType maps an intent to the event-log entry written when it lands.
func EventType(in Intent) string {
	switch in.Target() {
	case models.StatusAssigned:
		return models.EventJobAssigned
	case models.StatusAccepted:
		return models.EventJobAccepted
	case models.StatusRejected:
		return models.EventJobRejected
	case models.StatusInProgress:
		return models.EventJobStarted
	case models.StatusCompleted:
		return models.EventJobCompleted
	case models.StatusCancelled:
		return models.EventJobCancelled
	case models.StatusVerified:
		return models.EventJobVerified
	}
	return ""
}

// Machine applies intents to jobs. It is stateless; the clock is injectable
// for tests and defaults to time.Now.
type Machine struct {
	Clock func() time.Time
}

func NewMachine() *Machine { return &Machine{Clock: time.Now} }

func (m *Machine) now() time.Time {
	if m.Clock != nil {
		return m.Clock().UTC()
	}
	return time.Now().UTC()
}

// Apply validates intent against job and returns the mutated copy. The input
// job is never modified. On success the copy carries version+1 and a fresh
// UpdatedAt; on any error the returned job is the zero value.
func (m *Machine) Apply(job models.Job, intent Intent) (models.Job, error) {
	now := m.now()

	var err error
	switch in := intent.(type) {
	case AssignIntent:
		err = m.assign(&job, in, now)
	case AcceptIntent:
		err = m.accept(&job, in, now)
	case RejectIntent:
		err = m.reject(&job, in, now)
	case StartIntent:
		err = m.start(&job, in, now)
	case CompleteIntent:
		err = m.complete(&job, in, now)
	case CancelIntent:
		err = m.cancel(&job, in, now)
	case VerifyIntent:
		err = m.verify(&job, in, now)
	default:
		err = Validationf("unsupported intent %T", intent)
	}
	if err != nil {
		return models.Job{}, err
	}

	job.Version++
	job.UpdatedAt = now
	return job, nil
}

func requireStatus(job models.Job, want models.JobStatus, target models.JobStatus) error {
	if job.Status != want {
		return InvalidStatef("job %s is %s; cannot transition to %s", job.ID, job.Status, target)
	}
	return nil
}

// requireAssignee runs before any status reasoning: an actor who is not the
// assigned staff member gets Unauthorized no matter where the job is in its
// lifecycle. Jobs with no assignee yet fall through to the status check.
func requireAssignee(job models.Job, by Actor, verb string) error {
	if job.AssignedStaffID != "" && by.ID != job.AssignedStaffID {
		return Unauthorizedf("only the assigned staff member may %s job %s", verb, job.ID)
	}
	return nil
}

func (m *Machine) assign(job *models.Job, in AssignIntent, now time.Time) error {
	if err := requireStatus(*job, models.StatusPending, models.StatusAssigned); err != nil {
		return err
	}
	if !in.By.dispatcher() {
		return Unauthorizedf("actor %s may not assign jobs", in.By.ID)
	}
	if strings.TrimSpace(in.StaffID) == "" {
		return Validationf("assignment requires a staff id")
	}
	job.Status = models.StatusAssigned
	job.AssignedStaffID = in.StaffID
	job.AssignedByID = in.By.ID
	return nil
}

func (m *Machine) accept(job *models.Job, in AcceptIntent, now time.Time) error {
	if err := requireAssignee(*job, in.By, "accept"); err != nil {
		return err
	}
	if err := requireStatus(*job, models.StatusAssigned, models.StatusAccepted); err != nil {
		return err
	}
	job.Status = models.StatusAccepted
	job.AcceptedAt = &now
	return nil
}

func (m *Machine) reject(job *models.Job, in RejectIntent, now time.Time) error {
	if err := requireAssignee(*job, in.By, "reject"); err != nil {
		return err
	}
	if err := requireStatus(*job, models.StatusAssigned, models.StatusRejected); err != nil {
		return err
	}
	if strings.TrimSpace(in.Reason) == "" {
		return Validationf("rejection requires a reason")
	}
	job.Status = models.StatusRejected
	job.RejectionReason = in.Reason
	job.RejectedAt = &now
	return nil
}

func (m *Machine) start(job *models.Job, in StartIntent, now time.Time) error {
	if err := requireAssignee(*job, in.By, "start"); err != nil {
		return err
	}
	if err := requireStatus(*job, models.StatusAccepted, models.StatusInProgress); err != nil {
		return err
	}
	started := now
	if in.StartedAt != nil {
		started = in.StartedAt.UTC()
	}
	// The mobile clock is not trusted to predate acceptance.
	if job.AcceptedAt != nil && started.Before(*job.AcceptedAt) {
		started = *job.AcceptedAt
	}
	job.Status = models.StatusInProgress
	job.StartedAt = &started
	return nil
}

func (m *Machine) complete(job *models.Job, in CompleteIntent, now time.Time) error {
	if err := requireAssignee(*job, in.By, "complete"); err != nil {
		return err
	}
	// Field staff may finish a job they never explicitly started, so
	// completion is reachable from accepted as well as in_progress.
	if job.Status != models.StatusInProgress && job.Status != models.StatusAccepted {
		return InvalidStatef("job %s is %s; cannot transition to %s", job.ID, job.Status, models.StatusCompleted)
	}
	if in.ActualMinutes <= 0 {
		return Validationf("completion requires the actual duration")
	}
	if strings.TrimSpace(in.CompletionNotes) == "" {
		return Validationf("completion requires notes")
	}

	merged, err := mergeRequirements(job.Requirements, in.Requirements, now)
	if err != nil {
		return err
	}
	job.Requirements = merged
	job.Status = models.StatusCompleted
	job.ActualMinutes = in.ActualMinutes
	job.CompletionNotes = in.CompletionNotes
	job.CompletedAt = &now
	return nil
}

// mergeRequirements applies updates by requirement id. Items absent from the
// update keep their prior completion state; newly completed items get a
// completion timestamp.
func mergeRequirements(existing []models.Requirement, updates []RequirementUpdate, now time.Time) ([]models.Requirement, error) {
	if len(updates) == 0 {
		return existing, nil
	}
	byID := make(map[string]RequirementUpdate, len(updates))
	for _, u := range updates {
		if _, ok := findRequirement(existing, u.ID); !ok {
			return nil, Validationf("unknown requirement %q", u.ID)
		}
		byID[u.ID] = u
	}
	out := make([]models.Requirement, len(existing))
	copy(out, existing)
	for i := range out {
		u, ok := byID[out[i].ID]
		if !ok {
			continue
		}
		if u.Completed && !out[i].Completed {
			t := now
			out[i].CompletedAt = &t
		}
		if !u.Completed {
			out[i].CompletedAt = nil
		}
		out[i].Completed = u.Completed
		if u.Notes != "" {
			out[i].Notes = u.Notes
		}
		if len(u.PhotoIDs) > 0 {
			out[i].PhotoIDs = append(out[i].PhotoIDs, u.PhotoIDs...)
		}
	}
	return out, nil
}

func findRequirement(reqs []models.Requirement, id string) (models.Requirement, bool) {
	for _, r := range reqs {
		if r.ID == id {
			return r, true
		}
	}
	return models.Requirement{}, false
}

func (m *Machine) cancel(job *models.Job, in CancelIntent, now time.Time) error {
	if !job.Status.Cancellable() {
		return InvalidStatef("job %s is %s; cannot cancel", job.ID, job.Status)
	}
	if !in.By.dispatcher() && in.By.ID != job.AssignedByID {
		return Unauthorizedf("actor %s may not cancel job %s", in.By.ID, job.ID)
	}
	if strings.TrimSpace(in.Reason) == "" {
		return Validationf("cancellation requires a reason")
	}
	job.Status = models.StatusCancelled
	job.CancellationReason = in.Reason
	job.CancelledAt = &now
	return nil
}

func (m *Machine) verify(job *models.Job, in VerifyIntent, now time.Time) error {
	if err := requireStatus(*job, models.StatusCompleted, models.StatusVerified); err != nil {
		return err
	}
	if !in.By.dispatcher() && in.By.ID != job.AssignedByID {
		return Unauthorizedf("actor %s may not verify job %s", in.By.ID, job.ID)
	}
	job.Status = models.StatusVerified
	job.VerifiedAt = &now
	return nil
}
