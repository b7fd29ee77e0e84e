// Package notify fans lifecycle events out to push devices, an external
// webhook, and the internal event stream. Delivery is best-effort: failures
// are logged and counted, never surfaced to the transition that caused them.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/fieldops-dev/fieldops/internal/logging"
	"github.com/fieldops-dev/fieldops/internal/metrics"
	"github.com/fieldops-dev/fieldops/internal/models"
	"github.com/fieldops-dev/fieldops/internal/store"
)

var fanoutLogger = logging.C("notify.fanout")

// Fanout routes one event to the channels its type calls for. Any channel
// may be nil, in which case it is simply skipped.
type Fanout struct {
	store    store.Store
	push     *PushSender
	webhook  *WebhookSender
	eventLog *EventLogPublisher
	timeout  time.Duration
}

func NewFanout(st store.Store, push *PushSender, webhook *WebhookSender, eventLog *EventLogPublisher, timeout time.Duration) *Fanout {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Fanout{store: st, push: push, webhook: webhook, eventLog: eventLog, timeout: timeout}
}

// Notify dispatches asynchronously and returns immediately. The caller's
// context is deliberately not reused: the transition has already committed,
// and a cancelled request must not abort its notifications.
func (f *Fanout) Notify(ctx context.Context, ev models.JobEvent) {
	go func() {
		dctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				fanoutLogger.WithField("panic", r).Error("notification dispatch panicked")
			}
		}()
		f.dispatch(dctx, ev)
	}()
}

// dispatch runs the channel routing synchronously; Notify wraps it in a
// goroutine and tests call it directly.
func (f *Fanout) dispatch(ctx context.Context, ev models.JobEvent) {
	if f.eventLog != nil {
		f.report("eventlog", ev, f.eventLog.Publish(ev))
	}

	switch ev.Type {
	case models.EventJobAssigned:
		f.pushToStaff(ctx, ev, assignedStaffFor(ctx, f.store, ev))
	case models.EventJobAccepted, models.EventJobRejected, models.EventJobCompleted:
		// Administrative notice back to the dispatching party.
		f.pushToStaff(ctx, ev, assignerFor(ctx, f.store, ev))
	}

	switch ev.Type {
	case models.EventJobAssigned, models.EventJobAccepted, models.EventJobRejected,
		models.EventJobStarted, models.EventJobCompleted, models.EventJobVerified,
		models.EventJobCancelled:
		if f.webhook != nil {
			f.report("webhook", ev, f.webhook.Send(ctx, ev))
		}
	}
}

func (f *Fanout) pushToStaff(ctx context.Context, ev models.JobEvent, staff *models.StaffProfile) {
	if f.push == nil || staff == nil {
		return
	}
	if !staff.Prefs.Push || len(staff.DeviceTokens) == 0 {
		return
	}
	n := notificationFor(ev)
	for _, token := range staff.DeviceTokens {
		f.report("push", ev, f.push.Send(ctx, token, n))
	}
}

func (f *Fanout) report(channel string, ev models.JobEvent, err error) {
	if err == nil {
		metrics.Notification(channel, "ok")
		return
	}
	metrics.Notification(channel, "error")
	fanoutLogger.WithError(err).
		WithField("channel", channel).
		WithField("event_type", ev.Type).
		WithField("job_id", ev.JobID).
		Warn("notification delivery failed")
	if !errors.Is(err, context.Canceled) {
		sentry.CaptureException(err)
	}
}

func assignedStaffFor(ctx context.Context, st store.Store, ev models.JobEvent) *models.StaffProfile {
	job, err := st.GetJob(ctx, ev.JobID)
	if err != nil {
		return nil
	}
	staff, err := st.GetStaff(ctx, job.AssignedStaffID)
	if err != nil {
		return nil
	}
	return &staff
}

func assignerFor(ctx context.Context, st store.Store, ev models.JobEvent) *models.StaffProfile {
	job, err := st.GetJob(ctx, ev.JobID)
	if err != nil {
		return nil
	}
	staff, err := st.GetStaff(ctx, job.AssignedByID)
	if err != nil {
		return nil
	}
	return &staff
}

func notificationFor(ev models.JobEvent) PushNotification {
	var title, body string
	switch ev.Type {
	case models.EventJobAssigned:
		title = "New job assigned"
		body = "You have been assigned a new job. Open the app to accept or reject it."
	case models.EventJobAccepted:
		title = "Job accepted"
		body = "The assigned staff member accepted the job."
	case models.EventJobRejected:
		title = "Job rejected"
		body = "The assigned staff member rejected the job."
	case models.EventJobCompleted:
		title = "Job completed"
		body = "The job has been marked completed and is ready for verification."
	default:
		title = "Job update"
		body = "A job you are involved with changed status."
	}
	return PushNotification{
		Title: title,
		Body:  body,
		Data: map[string]string{
			"jobId":  ev.JobID,
			"type":   ev.Type,
			"status": string(ev.Status),
		},
	}
}
