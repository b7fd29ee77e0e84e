// Package identity answers exactly one question: is this PIN currently valid
// for this staff member. Session lifetime belongs to the calling layer.
package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/fieldops-dev/fieldops/internal/lifecycle"
	"github.com/fieldops-dev/fieldops/internal/logging"
	"github.com/fieldops-dev/fieldops/internal/metrics"
	"github.com/fieldops-dev/fieldops/internal/models"
	"github.com/fieldops-dev/fieldops/internal/store"
)

var gateLogger = logging.C("identity.gate")

// Decision is the outcome of one verification attempt.
type Decision struct {
	Granted           bool       `json:"granted"`
	AttemptsRemaining int        `json:"attemptsRemaining"`
	LockedUntil       *time.Time `json:"lockedUntil,omitempty"`
}

// Gate enforces the attempt/lockout policy around PIN verification. Attempt
// records live in the same store as jobs, keyed by staff id.
type Gate struct {
	store       store.Store
	pinLength   int
	maxFailures int
	lockout     time.Duration
	clock       func() time.Time
}

func NewGate(st store.Store, pinLength, maxFailures int, lockout time.Duration) *Gate {
	return &Gate{
		store:       st,
		pinLength:   pinLength,
		maxFailures: maxFailures,
		lockout:     lockout,
		clock:       time.Now,
	}
}

// WithClock overrides the time source; tests only.
func (g *Gate) WithClock(clock func() time.Time) *Gate {
	g.clock = clock
	return g
}

// VerifyPin checks candidate against the staff member's stored check value.
// While locked out it denies without comparing, so lockout responses cannot
// be timed against the credential. The candidate never appears in logs.
func (g *Gate) VerifyPin(ctx context.Context, staffID, candidate string) (Decision, error) {
	if !validFormat(candidate, g.pinLength) {
		return Decision{}, lifecycle.Validationf("pin must be exactly %d digits", g.pinLength)
	}

	staff, err := g.store.GetStaff(ctx, staffID)
	if errors.Is(err, store.ErrNotFound) {
		return Decision{}, lifecycle.NotFoundf("staff %s not found", staffID)
	}
	if err != nil {
		return Decision{}, lifecycle.Transient("load staff profile", err)
	}

	now := g.clock().UTC()
	rec, err := g.store.GetPinAttempts(ctx, staffID)
	if err != nil {
		return Decision{}, lifecycle.Transient("load pin attempt record", err)
	}

	if rec.Locked(now) {
		locked := rec.LockedUntil
		g.audit(ctx, staffID, false, "locked")
		return Decision{Granted: false, AttemptsRemaining: 0, LockedUntil: &locked}, nil
	}

	// Failures age out: once the lockout window has elapsed since the last
	// one, the count starts fresh. An expired lockout resets the same way.
	if rec.Failures > 0 && now.Sub(rec.LastFailureAt) >= g.lockout {
		rec = models.PinAttemptRecord{StaffID: staffID}
	}

	if bcrypt.CompareHashAndPassword([]byte(staff.PinHash), []byte(candidate)) != nil {
		rec.Failures++
		rec.LastFailureAt = now
		if rec.Failures >= g.maxFailures {
			rec.LockedUntil = now.Add(g.lockout)
		}
		if err := g.store.PutPinAttempts(ctx, rec); err != nil {
			return Decision{}, lifecycle.Transient("persist pin attempt record", err)
		}
		g.audit(ctx, staffID, false, "mismatch")

		d := Decision{Granted: false, AttemptsRemaining: g.maxFailures - rec.Failures}
		if d.AttemptsRemaining < 0 {
			d.AttemptsRemaining = 0
		}
		if !rec.LockedUntil.IsZero() {
			locked := rec.LockedUntil
			d.LockedUntil = &locked
		}
		return d, nil
	}

	if err := g.store.ResetPinAttempts(ctx, staffID); err != nil {
		return Decision{}, lifecycle.Transient("reset pin attempt record", err)
	}
	g.audit(ctx, staffID, true, "")
	return Decision{Granted: true, AttemptsRemaining: g.maxFailures}, nil
}

// audit records the attempt in the event log regardless of outcome. Failures
// to write the audit trail never block the decision.
func (g *Gate) audit(ctx context.Context, staffID string, granted bool, reason string) {
	evType := models.EventPinRejected
	outcome := "rejected"
	if granted {
		evType = models.EventPinVerified
		outcome = "granted"
	}
	metrics.PinAttempt(outcome)

	ev := models.JobEvent{
		ID:         uuid.NewString(),
		Type:       evType,
		ActorID:    staffID,
		Source:     models.SourceMobile,
		Reason:     reason,
		OccurredAt: g.clock().UTC(),
	}
	if err := g.store.AppendEvent(ctx, ev); err != nil {
		gateLogger.WithError(err).WithField("staff_id", staffID).Warn("pin attempt audit write failed")
	}
}

func validFormat(candidate string, length int) bool {
	if len(candidate) != length {
		return false
	}
	for _, r := range candidate {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
