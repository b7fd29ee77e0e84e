package models

import (
	"strings"
	"time"
)

// JobType classifies the kind of field work a job represents.
type JobType string

const (
	JobTypeCleaning     JobType = "cleaning"
	JobTypeMaintenance  JobType = "maintenance"
	JobTypeInspection   JobType = "inspection"
	JobTypeRepair       JobType = "repair"
	JobTypeInstallation JobType = "installation"
	JobTypeEmergency    JobType = "emergency"
	JobTypeGeneral      JobType = "general"
)

var jobTypes = map[JobType]bool{
	JobTypeCleaning:     true,
	JobTypeMaintenance:  true,
	JobTypeInspection:   true,
	JobTypeRepair:       true,
	JobTypeInstallation: true,
	JobTypeEmergency:    true,
	JobTypeGeneral:      true,
}

func (t JobType) Valid() bool { return jobTypes[t] }

type JobPriority string

const (
	PriorityLow    JobPriority = "low"
	PriorityMedium JobPriority = "medium"
	PriorityHigh   JobPriority = "high"
	PriorityUrgent JobPriority = "urgent"
)

func (p JobPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// JobStatus is the lifecycle state of a job. Transitions between statuses are
// owned by the lifecycle package; nothing else mutates Status.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusAssigned   JobStatus = "assigned"
	StatusAccepted   JobStatus = "accepted"
	StatusRejected   JobStatus = "rejected"
	StatusInProgress JobStatus = "in_progress"
	StatusCompleted  JobStatus = "completed"
	StatusVerified   JobStatus = "verified"
	StatusCancelled  JobStatus = "cancelled"
)

func ParseJobStatus(v string) (JobStatus, bool) {
	s := JobStatus(strings.ToLower(strings.TrimSpace(v)))
	switch s {
	case StatusPending, StatusAssigned, StatusAccepted, StatusRejected,
		StatusInProgress, StatusCompleted, StatusVerified, StatusCancelled:
		return s, true
	}
	return "", false
}

// Terminal reports whether no further transitions are possible. A completed
// job still admits verification, so it is not terminal.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusRejected, StatusVerified, StatusCancelled:
		return true
	}
	return false
}

// Cancellable reports whether a cancel intent is permitted from this status.
func (s JobStatus) Cancellable() bool {
	switch s {
	case StatusAssigned, StatusAccepted, StatusInProgress:
		return true
	}
	return false
}

// Active reports whether location tracking makes sense for the job.
func (s JobStatus) Active() bool {
	return s == StatusAccepted || s == StatusInProgress
}

// Coordinate is a WGS84 latitude/longitude pair.
type Coordinate struct {
	Latitude  float64 `bson:"latitude" json:"latitude"`
	Longitude float64 `bson:"longitude" json:"longitude"`
}

// Location is a job site: a human address plus an optional geocoordinate.
// Arrival detection requires the coordinate.
type Location struct {
	Address    string      `bson:"address" json:"address"`
	Coordinate *Coordinate `bson:"coordinate,omitempty" json:"coordinate,omitempty"`
}

// Requirement is a checklist item owned by exactly one job.
type Requirement struct {
	ID          string     `bson:"id" json:"id"`
	Description string     `bson:"description" json:"description"`
	Completed   bool       `bson:"completed" json:"completed"`
	CompletedAt *time.Time `bson:"completed_at,omitempty" json:"completedAt,omitempty"`
	Notes       string     `bson:"notes,omitempty" json:"notes,omitempty"`
	PhotoIDs    []string   `bson:"photo_ids,omitempty" json:"photoIds,omitempty"`
}

// Job is the authoritative document reconciled between dispatch and mobile.
// Version increases by exactly 1 on every accepted mutation; writers must
// submit the version they read, and stale writes are rejected.
type Job struct {
	ID                 string        `bson:"_id" json:"id"`
	Title              string        `bson:"title" json:"title"`
	Description        string        `bson:"description,omitempty" json:"description,omitempty"`
	Type               JobType       `bson:"type" json:"type"`
	Priority           JobPriority   `bson:"priority" json:"priority"`
	Status             JobStatus     `bson:"status" json:"status"`
	AssignedStaffID    string        `bson:"assigned_staff_id" json:"assignedStaffId"`
	AssignedByID       string        `bson:"assigned_by_id" json:"assignedById"`
	PropertyID         string        `bson:"property_id,omitempty" json:"propertyId,omitempty"`
	Location           Location      `bson:"location" json:"location"`
	ScheduledAt        time.Time     `bson:"scheduled_at" json:"scheduledAt"`
	EstimatedMinutes   int           `bson:"estimated_minutes" json:"estimatedMinutes"`
	ActualMinutes      int           `bson:"actual_minutes,omitempty" json:"actualMinutes,omitempty"`
	Requirements       []Requirement `bson:"requirements,omitempty" json:"requirements,omitempty"`
	PhotoIDs           []string      `bson:"photo_ids,omitempty" json:"photoIds,omitempty"`
	CompletionNotes    string        `bson:"completion_notes,omitempty" json:"completionNotes,omitempty"`
	RejectionReason    string        `bson:"rejection_reason,omitempty" json:"rejectionReason,omitempty"`
	CancellationReason string        `bson:"cancellation_reason,omitempty" json:"cancellationReason,omitempty"`
	AcceptedAt         *time.Time    `bson:"accepted_at,omitempty" json:"acceptedAt,omitempty"`
	RejectedAt         *time.Time    `bson:"rejected_at,omitempty" json:"rejectedAt,omitempty"`
	StartedAt          *time.Time    `bson:"started_at,omitempty" json:"startedAt,omitempty"`
	CompletedAt        *time.Time    `bson:"completed_at,omitempty" json:"completedAt,omitempty"`
	VerifiedAt         *time.Time    `bson:"verified_at,omitempty" json:"verifiedAt,omitempty"`
	CancelledAt        *time.Time    `bson:"cancelled_at,omitempty" json:"cancelledAt,omitempty"`
	Version            int64         `bson:"version" json:"version"`
	CreatedAt          time.Time     `bson:"created_at" json:"createdAt"`
	UpdatedAt          time.Time     `bson:"updated_at" json:"updatedAt"`
}

// StaffRole enumerates directory roles. Admins and managers act as the
// dispatching party for authorization purposes.
type StaffRole string

const (
	RoleStaff   StaffRole = "staff"
	RoleManager StaffRole = "manager"
	RoleAdmin   StaffRole = "admin"
)

func (r StaffRole) Dispatcher() bool { return r == RoleAdmin || r == RoleManager }

type NotificationPrefs struct {
	Push  bool `bson:"push" json:"push"`
	Email bool `bson:"email" json:"email"`
}

// StaffProfile is read-only here; the directory service owns it. PinHash is a
// derived check value, never the raw PIN.
type StaffProfile struct {
	ID           string            `bson:"_id" json:"id"`
	Name         string            `bson:"name" json:"name"`
	Role         StaffRole         `bson:"role" json:"role"`
	PinHash      string            `bson:"pin_hash" json:"-"`
	PhotoID      string            `bson:"photo_id,omitempty" json:"photoId,omitempty"`
	DeviceTokens []string          `bson:"device_tokens,omitempty" json:"-"`
	Prefs        NotificationPrefs `bson:"prefs" json:"prefs"`
}

// PinAttemptRecord tracks consecutive failed PIN verifications per staff
// member. It is transient state: reset on success and expired once the
// lockout window passes.
type PinAttemptRecord struct {
	StaffID       string    `bson:"_id" json:"staffId"`
	Failures      int       `bson:"failures" json:"failures"`
	LastFailureAt time.Time `bson:"last_failure_at,omitempty" json:"lastFailureAt,omitempty"`
	LockedUntil   time.Time `bson:"locked_until,omitempty" json:"lockedUntil,omitempty"`
}

func (r PinAttemptRecord) Locked(now time.Time) bool {
	return now.Before(r.LockedUntil)
}

// LocationSample is one timestamped GPS reading inside a tracking session.
type LocationSample struct {
	Coordinate Coordinate `bson:"coordinate" json:"coordinate"`
	RecordedAt time.Time  `bson:"recorded_at" json:"recordedAt"`
}

// TrackingSession accumulates location samples for one staff member working
// one job. It closes when the job leaves an active status or tracking stops.
type TrackingSession struct {
	ID             string           `bson:"_id" json:"id"`
	StaffID        string           `bson:"staff_id" json:"staffId"`
	JobID          string           `bson:"job_id" json:"jobId"`
	Samples        []LocationSample `bson:"samples,omitempty" json:"samples,omitempty"`
	Arrived        bool             `bson:"arrived" json:"arrived"`
	ArrivedAt      *time.Time       `bson:"arrived_at,omitempty" json:"arrivedAt,omitempty"`
	DistanceMeters float64          `bson:"distance_meters" json:"distanceMeters"`
	StartedAt      time.Time        `bson:"started_at" json:"startedAt"`
	ClosedAt       *time.Time       `bson:"closed_at,omitempty" json:"closedAt,omitempty"`
}

func (s TrackingSession) Open() bool { return s.ClosedAt == nil }

// EventSource tells which side of the system produced an event.
type EventSource string

const (
	SourceMobile EventSource = "mobile"
	SourceWeb    EventSource = "web"
	SourceSystem EventSource = "system"
)

// Event types recorded in the job event log.
const (
	EventJobAssigned  = "job.assigned"
	EventJobAccepted  = "job.accepted"
	EventJobRejected  = "job.rejected"
	EventJobStarted   = "job.started"
	EventJobCompleted = "job.completed"
	EventJobVerified  = "job.verified"
	EventJobCancelled = "job.cancelled"
	EventJobArrival   = "job.arrival"
	EventPinVerified  = "pin.verified"
	EventPinRejected  = "pin.rejected"
)

// JobEvent is an append-only audit record. It is written once per accepted
// transition and never mutated or deleted here.
type JobEvent struct {
	ID         string      `bson:"_id" json:"id"`
	Type       string      `bson:"type" json:"type"`
	JobID      string      `bson:"job_id,omitempty" json:"jobId,omitempty"`
	ActorID    string      `bson:"actor_id" json:"actorId"`
	Status     JobStatus   `bson:"status,omitempty" json:"status,omitempty"`
	Source     EventSource `bson:"source" json:"source"`
	Reason     string      `bson:"reason,omitempty" json:"reason,omitempty"`
	OccurredAt time.Time   `bson:"occurred_at" json:"occurredAt"`
}
