package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/fieldops-dev/fieldops/internal/coordinator"
	"github.com/fieldops-dev/fieldops/internal/identity"
	"github.com/fieldops-dev/fieldops/internal/lifecycle"
	"github.com/fieldops-dev/fieldops/internal/models"
	"github.com/fieldops-dev/fieldops/internal/store"
	"github.com/fieldops-dev/fieldops/internal/tracking"
)

func newTestRouter(t *testing.T) (*gin.Engine, *store.Memory) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hash, err := bcrypt.GenerateFromPassword([]byte("1234"), bcrypt.MinCost)
	require.NoError(t, err)

	st := store.NewMemory()
	st.SeedStaff(models.StaffProfile{ID: "staff-1", Name: "Dana", Role: models.RoleStaff, PinHash: string(hash)})
	st.SeedStaff(models.StaffProfile{ID: "staff-2", Name: "Theo", Role: models.RoleStaff})
	st.SeedStaff(models.StaffProfile{ID: "admin-1", Name: "Ops", Role: models.RoleAdmin})

	coord := coordinator.New(st, lifecycle.NewMachine(), nil, false)
	gate := identity.NewGate(st, 4, 5, 15*time.Minute)
	tracker := tracking.New(st, coord, 30)

	r := gin.New()
	NewServer(coord, gate, tracker, st).Register(r)
	return r, st
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func createJobPayload() map[string]interface{} {
	return map[string]interface{}{
		"title":       "Inspect boiler",
		"type":        "inspection",
		"staffId":     "staff-1",
		"assignedBy":  "admin-1",
		"scheduledAt": time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339),
		"location": map[string]interface{}{
			"address":   "12 Harbor Rd",
			"latitude":  51.5007,
			"longitude": -0.1246,
		},
		"requirements": []string{"photograph boiler plate"},
	}
}

func createJobViaAPI(t *testing.T, r *gin.Engine) models.Job {
	t.Helper()
	w := doJSON(t, r, http.MethodPost, "/jobs", createJobPayload())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var job models.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	return job
}

func TestCreateJobEndpoint(t *testing.T) {
	r, st := newTestRouter(t)

	job := createJobViaAPI(t, r)
	assert.Equal(t, models.StatusAssigned, job.Status)
	assert.Equal(t, int64(1), job.Version)
	assert.Equal(t, "staff-1", job.AssignedStaffID)

	stored, err := st.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, stored.ID)
}

func TestCreateJobEndpointValidation(t *testing.T) {
	r, _ := newTestRouter(t)

	missingTitle := createJobPayload()
	delete(missingTitle, "title")
	w := doJSON(t, r, http.MethodPost, "/jobs", missingTitle)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	unknownStaff := createJobPayload()
	unknownStaff["staffId"] = "ghost"
	w = doJSON(t, r, http.MethodPost, "/jobs", unknownStaff)
	assert.Equal(t, http.StatusNotFound, w.Code)

	badType := createJobPayload()
	badType["type"] = "gardening"
	w = doJSON(t, r, http.MethodPost, "/jobs", badType)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusEndpointFlow(t *testing.T) {
	r, _ := newTestRouter(t)
	job := createJobViaAPI(t, r)

	w := doJSON(t, r, http.MethodPost, "/jobs/"+job.ID+"/status", map[string]interface{}{
		"staffId":     "staff-1",
		"status":      "accepted",
		"baseVersion": 1,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var accepted models.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accepted))
	assert.Equal(t, models.StatusAccepted, accepted.Status)
	assert.Equal(t, int64(2), accepted.Version)

	// Ownership mismatch surfaces as 403.
	w = doJSON(t, r, http.MethodPost, "/jobs/"+job.ID+"/status", map[string]interface{}{
		"staffId":     "staff-2",
		"status":      "rejected",
		"baseVersion": 2,
		"reason":      "not mine",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Stale base version surfaces as 409 with the current version.
	w = doJSON(t, r, http.MethodPost, "/jobs/"+job.ID+"/status", map[string]interface{}{
		"staffId":     "staff-1",
		"status":      "accepted",
		"baseVersion": 1,
	})
	require.Equal(t, http.StatusConflict, w.Code)
	var conflict struct {
		CurrentVersion int64 `json:"currentVersion"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conflict))
	assert.Equal(t, int64(2), conflict.CurrentVersion)

	w = doJSON(t, r, http.MethodPost, "/jobs/"+job.ID+"/status", map[string]interface{}{
		"staffId":         "staff-1",
		"status":          "completed",
		"baseVersion":     2,
		"actualMinutes":   90,
		"completionNotes": "done",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var completed models.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &completed))
	assert.Equal(t, models.StatusCompleted, completed.Status)
	assert.Equal(t, int64(3), completed.Version)
}

func TestStatusEndpointRejectsBadInput(t *testing.T) {
	r, _ := newTestRouter(t)
	job := createJobViaAPI(t, r)

	w := doJSON(t, r, http.MethodPost, "/jobs/"+job.ID+"/status", map[string]interface{}{
		"staffId":     "staff-1",
		"status":      "levitating",
		"baseVersion": 1,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Missing base version fails binding.
	w = doJSON(t, r, http.MethodPost, "/jobs/"+job.ID+"/status", map[string]interface{}{
		"staffId": "staff-1",
		"status":  "accepted",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Rejecting without a reason is a validation error from the machine.
	w = doJSON(t, r, http.MethodPost, "/jobs/"+job.ID+"/status", map[string]interface{}{
		"staffId":     "staff-1",
		"status":      "rejected",
		"baseVersion": 1,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPost, "/jobs/unknown/status", map[string]interface{}{
		"staffId":     "staff-1",
		"status":      "accepted",
		"baseVersion": 1,
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatusEndpointIllegalTransition(t *testing.T) {
	r, _ := newTestRouter(t)
	job := createJobViaAPI(t, r)

	// assigned -> in_progress skips acceptance.
	w := doJSON(t, r, http.MethodPost, "/jobs/"+job.ID+"/status", map[string]interface{}{
		"staffId":     "staff-1",
		"status":      "in_progress",
		"baseVersion": 1,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestVerifyPinEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/staff/staff-1/verify-pin", map[string]interface{}{"pin": "1234"})
	require.Equal(t, http.StatusOK, w.Code)
	var d identity.Decision
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))
	assert.True(t, d.Granted)
	assert.Equal(t, 5, d.AttemptsRemaining)

	w = doJSON(t, r, http.MethodPost, "/staff/staff-1/verify-pin", map[string]interface{}{"pin": "0000"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))
	assert.False(t, d.Granted)
	assert.Equal(t, 4, d.AttemptsRemaining)

	w = doJSON(t, r, http.MethodPost, "/staff/staff-1/verify-pin", map[string]interface{}{"pin": "12ab"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPost, "/staff/ghost/verify-pin", map[string]interface{}{"pin": "1234"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLocationEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	job := createJobViaAPI(t, r)

	w := doJSON(t, r, http.MethodPost, "/jobs/"+job.ID+"/status", map[string]interface{}{
		"staffId":     "staff-1",
		"status":      "accepted",
		"baseVersion": 1,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodPost, "/jobs/"+job.ID+"/location", map[string]interface{}{
		"staffId":   "staff-1",
		"latitude":  51.5007,
		"longitude": -0.1246,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var eval struct {
		DistanceMeters float64 `json:"distanceMeters"`
		HasArrived     bool    `json:"hasArrived"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &eval))
	assert.True(t, eval.HasArrived)
	assert.Less(t, eval.DistanceMeters, 1.0)

	// A sample from someone else's phone is refused.
	w = doJSON(t, r, http.MethodPost, "/jobs/"+job.ID+"/location", map[string]interface{}{
		"staffId":   "staff-2",
		"latitude":  51.5007,
		"longitude": -0.1246,
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, r, http.MethodDelete, "/jobs/"+job.ID+"/location", map[string]interface{}{
		"staffId": "staff-1",
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadEndpoints(t *testing.T) {
	r, _ := newTestRouter(t)
	job := createJobViaAPI(t, r)

	w := doJSON(t, r, http.MethodGet, "/jobs/"+job.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/jobs/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, r, http.MethodGet, "/jobs?staffId=staff-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Jobs []models.Job `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Jobs, 1)
	assert.Equal(t, job.ID, list.Jobs[0].ID)

	w = doJSON(t, r, http.MethodGet, fmt.Sprintf("/jobs/%s/events", job.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var events struct {
		Events []models.JobEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	require.Len(t, events.Events, 1)
	assert.Equal(t, models.EventJobAssigned, events.Events[0].Type)

	w = doJSON(t, r, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
