package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fieldops-dev/fieldops/internal/coordinator"
	"github.com/fieldops-dev/fieldops/internal/identity"
	"github.com/fieldops-dev/fieldops/internal/lifecycle"
	"github.com/fieldops-dev/fieldops/internal/logging"
	"github.com/fieldops-dev/fieldops/internal/models"
	"github.com/fieldops-dev/fieldops/internal/store"
	"github.com/fieldops-dev/fieldops/internal/tracking"
)

var apiLogger = logging.C("api")

// Server holds the handler dependencies. Handlers translate HTTP to intents;
// every rule lives below this layer.
type Server struct {
	coord   *coordinator.Coordinator
	gate    *identity.Gate
	tracker *tracking.Tracker
	store   store.Store
}

func NewServer(coord *coordinator.Coordinator, gate *identity.Gate, tracker *tracking.Tracker, st store.Store) *Server {
	return &Server{coord: coord, gate: gate, tracker: tracker, store: st}
}

// Register wires all routes onto the engine.
func (s *Server) Register(r *gin.Engine) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "fieldops"})
	})

	jobs := r.Group("/jobs")
	{
		jobs.POST("", s.createJob)
		jobs.GET("", s.listJobs)
		jobs.GET("/:id", s.getJob)
		jobs.GET("/:id/events", s.listJobEvents)
		jobs.POST("/:id/status", s.updateStatus)
		jobs.POST("/:id/location", s.recordLocation)
		jobs.DELETE("/:id/location", s.stopTracking)
	}

	r.POST("/staff/:id/verify-pin", s.verifyPin)
}

type locationInput struct {
	Address   string   `json:"address"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type createJobRequest struct {
	Title            string        `json:"title" binding:"required"`
	Description      string        `json:"description"`
	Type             string        `json:"type" binding:"required"`
	Priority         string        `json:"priority"`
	StaffID          string        `json:"staffId" binding:"required"`
	AssignedBy       string        `json:"assignedBy" binding:"required"`
	PropertyID       string        `json:"propertyId"`
	Location         locationInput `json:"location"`
	ScheduledAt      time.Time     `json:"scheduledAt" binding:"required"`
	EstimatedMinutes int           `json:"estimatedMinutes"`
	Requirements     []string      `json:"requirements"`
}

func (s *Server) createJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	actor, err := s.actorFor(c, req.AssignedBy)
	if err != nil {
		s.writeError(c, err)
		return
	}

	loc := models.Location{Address: req.Location.Address}
	if req.Location.Latitude != nil && req.Location.Longitude != nil {
		loc.Coordinate = &models.Coordinate{
			Latitude:  *req.Location.Latitude,
			Longitude: *req.Location.Longitude,
		}
	}

	job, err := s.coord.CreateJob(c.Request.Context(), coordinator.CreateJobInput{
		Title:            req.Title,
		Description:      req.Description,
		Type:             models.JobType(req.Type),
		Priority:         models.JobPriority(req.Priority),
		StaffID:          req.StaffID,
		PropertyID:       req.PropertyID,
		Location:         loc,
		ScheduledAt:      req.ScheduledAt,
		EstimatedMinutes: req.EstimatedMinutes,
		Requirements:     req.Requirements,
		AssignedBy:       actor,
		Source:           models.SourceWeb,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, job)
}

type statusRequest struct {
	StaffID         string                        `json:"staffId" binding:"required"`
	Status          string                        `json:"status" binding:"required"`
	BaseVersion     *int64                        `json:"baseVersion" binding:"required"`
	Reason          string                        `json:"reason"`
	StartedAt       *time.Time                    `json:"startedAt"`
	ActualMinutes   int                           `json:"actualMinutes"`
	CompletionNotes string                        `json:"completionNotes"`
	Requirements    []lifecycle.RequirementUpdate `json:"requirements"`
}

func (s *Server) updateStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	target, ok := models.ParseJobStatus(req.Status)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unrecognized status value: " + req.Status})
		return
	}

	actor, err := s.actorFor(c, req.StaffID)
	if err != nil {
		s.writeError(c, err)
		return
	}

	src := models.SourceMobile
	if actor.Role.Dispatcher() {
		src = models.SourceWeb
	}

	var intent lifecycle.Intent
	switch target {
	case models.StatusAccepted:
		intent = lifecycle.NewAccept(actor, src)
	case models.StatusRejected:
		intent = lifecycle.NewReject(actor, src, req.Reason)
	case models.StatusInProgress:
		intent = lifecycle.NewStart(actor, src, req.StartedAt)
	case models.StatusCompleted:
		intent = lifecycle.NewComplete(actor, src, req.ActualMinutes, req.CompletionNotes, req.Requirements)
	case models.StatusCancelled:
		intent = lifecycle.NewCancel(actor, src, req.Reason)
	case models.StatusVerified:
		intent = lifecycle.NewVerify(actor, src)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "status " + req.Status + " cannot be requested directly"})
		return
	}

	outcome, err := s.coord.Reconcile(c.Request.Context(), c.Param("id"), *req.BaseVersion, intent)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome.Job)
}

type pinRequest struct {
	Pin string `json:"pin" binding:"required"`
}

func (s *Server) verifyPin(c *gin.Context) {
	var req pinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pin is required"})
		return
	}

	decision, err := s.gate.VerifyPin(c.Request.Context(), c.Param("id"), req.Pin)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, decision)
}

type locationSampleRequest struct {
	StaffID   string   `json:"staffId" binding:"required"`
	Latitude  *float64 `json:"latitude" binding:"required"`
	Longitude *float64 `json:"longitude" binding:"required"`
}

func (s *Server) recordLocation(c *gin.Context) {
	var req locationSampleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	eval, err := s.tracker.Record(c.Request.Context(), req.StaffID, c.Param("id"), models.Coordinate{
		Latitude:  *req.Latitude,
		Longitude: *req.Longitude,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, eval)
}

type stopTrackingRequest struct {
	StaffID string `json:"staffId" binding:"required"`
}

func (s *Server) stopTracking(c *gin.Context) {
	var req stopTrackingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.tracker.Stop(c.Request.Context(), req.StaffID, c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopped": true})
}

func (s *Server) getJob(c *gin.Context) {
	job, err := s.store.GetJob(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) listJobs(c *gin.Context) {
	staffID := c.Query("staffId")
	if staffID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "staffId query parameter is required"})
		return
	}
	jobs, err := s.store.ListJobsByStaff(c.Request.Context(), staffID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (s *Server) listJobEvents(c *gin.Context) {
	events, err := s.store.ListEvents(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// actorFor resolves the acting identity against the staff directory so role
// checks use directory data, never request data.
func (s *Server) actorFor(c *gin.Context, staffID string) (lifecycle.Actor, error) {
	staff, err := s.store.GetStaff(c.Request.Context(), staffID)
	if errors.Is(err, store.ErrNotFound) {
		return lifecycle.Actor{}, lifecycle.NotFoundf("staff %s not found", staffID)
	}
	if err != nil {
		return lifecycle.Actor{}, lifecycle.Transient("look up staff", err)
	}
	return lifecycle.Actor{ID: staff.ID, Role: staff.Role}, nil
}

// writeError maps the lifecycle taxonomy onto HTTP statuses. Conflicts carry
// the current version so the client can re-fetch and retry.
func (s *Server) writeError(c *gin.Context, err error) {
	var le *lifecycle.Error
	if !errors.As(err, &le) {
		apiLogger.WithError(err).Error("unclassified handler error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	body := gin.H{"error": le.Message, "kind": string(le.Kind)}
	var status int
	switch le.Kind {
	case lifecycle.KindValidation:
		status = http.StatusBadRequest
	case lifecycle.KindNotFound:
		status = http.StatusNotFound
	case lifecycle.KindUnauthorized:
		status = http.StatusForbidden
	case lifecycle.KindConflict:
		status = http.StatusConflict
		body["currentVersion"] = le.CurrentVersion
	case lifecycle.KindInvalidState:
		status = http.StatusUnprocessableEntity
	case lifecycle.KindTransient:
		status = http.StatusServiceUnavailable
	default:
		status = http.StatusInternalServerError
	}
	c.JSON(status, body)
}
