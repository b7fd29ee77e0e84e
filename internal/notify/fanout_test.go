package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops-dev/fieldops/internal/models"
	"github.com/fieldops-dev/fieldops/internal/store"
)

type fakePublisher struct {
	mu       sync.Mutex
	messages []*message.Message
	fail     bool
}

func (f *fakePublisher) Publish(_ string, msgs ...*message.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return assert.AnError
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func seedStore() *store.Memory {
	st := store.NewMemory()
	st.SeedStaff(models.StaffProfile{
		ID:           "staff-1",
		Name:         "Dana",
		Role:         models.RoleStaff,
		DeviceTokens: []string{"token-a", "token-b"},
		Prefs:        models.NotificationPrefs{Push: true},
	})
	st.SeedStaff(models.StaffProfile{
		ID:           "admin-1",
		Name:         "Ops",
		Role:         models.RoleAdmin,
		DeviceTokens: []string{"token-admin"},
		Prefs:        models.NotificationPrefs{Push: true},
	})
	_ = st.CreateJob(context.Background(), models.Job{
		ID:              "job-1",
		Title:           "Inspect boiler",
		Status:          models.StatusAssigned,
		AssignedStaffID: "staff-1",
		AssignedByID:    "admin-1",
		Version:         1,
	})
	return st
}

func assignedEvent() models.JobEvent {
	return models.JobEvent{
		ID:         "ev-1",
		Type:       models.EventJobAssigned,
		JobID:      "job-1",
		ActorID:    "admin-1",
		Status:     models.StatusAssigned,
		Source:     models.SourceWeb,
		OccurredAt: time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC),
	}
}

func TestDispatchPushesAssignmentToAssignedStaff(t *testing.T) {
	var mu sync.Mutex
	var tokens []string
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Token string `json:"token"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		tokens = append(tokens, body.Token)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer relay.Close()

	f := NewFanout(seedStore(), NewPushSender(relay.URL, time.Second), nil, nil, time.Second)
	f.dispatch(context.Background(), assignedEvent())

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"token-a", "token-b"}, tokens)
}

func TestDispatchNotifiesAssignerOnCompletion(t *testing.T) {
	var mu sync.Mutex
	var tokens []string
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Token string `json:"token"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		tokens = append(tokens, body.Token)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer relay.Close()

	ev := assignedEvent()
	ev.Type = models.EventJobCompleted
	ev.Status = models.StatusCompleted
	ev.ActorID = "staff-1"
	ev.Source = models.SourceMobile

	f := NewFanout(seedStore(), NewPushSender(relay.URL, time.Second), nil, nil, time.Second)
	f.dispatch(context.Background(), ev)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"token-admin"}, tokens)
}

func TestWebhookCarriesBearerAndPayload(t *testing.T) {
	var mu sync.Mutex
	var gotAuth string
	var gotPayload webhookPayload
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer sink.Close()

	f := NewFanout(seedStore(), nil, NewWebhookSender(sink.URL, "s3cret", time.Second), nil, time.Second)
	f.dispatch(context.Background(), assignedEvent())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "Bearer s3cret", gotAuth)
	assert.Equal(t, models.EventJobAssigned, gotPayload.Event)
	assert.Equal(t, "job-1", gotPayload.JobID)
	assert.Equal(t, models.StatusAssigned, gotPayload.Status)
}

func TestChannelFailuresAreSwallowed(t *testing.T) {
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer sink.Close()

	f := NewFanout(seedStore(),
		NewPushSender(sink.URL, time.Second),
		NewWebhookSender(sink.URL, "s3cret", time.Second),
		NewEventLogPublisherWith(&fakePublisher{fail: true}, "events"),
		time.Second)

	// Every channel fails; dispatch must still return normally.
	f.dispatch(context.Background(), assignedEvent())
}

func TestEventLogReceivesEveryEvent(t *testing.T) {
	pub := &fakePublisher{}
	f := NewFanout(seedStore(), nil, nil, NewEventLogPublisherWith(pub, "events"), time.Second)

	ev := assignedEvent()
	f.dispatch(context.Background(), ev)

	arrival := assignedEvent()
	arrival.Type = models.EventJobArrival
	f.dispatch(context.Background(), arrival)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.messages, 2)

	var decoded models.JobEvent
	require.NoError(t, json.Unmarshal(pub.messages[0].Payload, &decoded))
	assert.Equal(t, ev.ID, decoded.ID)
	assert.Equal(t, ev.Type, decoded.Type)
}

func TestPushSkippedWhenPrefsDisabled(t *testing.T) {
	st := store.NewMemory()
	st.SeedStaff(models.StaffProfile{
		ID:           "staff-1",
		DeviceTokens: []string{"token-a"},
		Prefs:        models.NotificationPrefs{Push: false},
	})
	st.SeedStaff(models.StaffProfile{ID: "admin-1"})
	_ = st.CreateJob(context.Background(), models.Job{
		ID:              "job-1",
		AssignedStaffID: "staff-1",
		AssignedByID:    "admin-1",
	})

	called := false
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer relay.Close()

	f := NewFanout(st, NewPushSender(relay.URL, time.Second), nil, nil, time.Second)
	f.dispatch(context.Background(), assignedEvent())

	assert.False(t, called, "push must respect notification preferences")
}
