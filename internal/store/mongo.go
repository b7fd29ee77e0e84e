package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/fieldops-dev/fieldops/internal/models"
)

const (
	jobsCollection     = "jobs"
	eventsCollection   = "job_events"
	staffCollection    = "staff"
	pinsCollection     = "pin_attempts"
	trackingCollection = "tracking_sessions"
)

// Mongo implements Store on a MongoDB database. The version check relies on
// Mongo's per-document write atomicity: a replace filtered on {_id, version}
// either swaps the whole document or matches nothing.
type Mongo struct {
	jobs     *mongo.Collection
	events   *mongo.Collection
	staff    *mongo.Collection
	pins     *mongo.Collection
	tracking *mongo.Collection
}

// Connect dials the cluster and pings the primary before returning.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(dialCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(dialCtx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client, nil
}

func NewMongo(client *mongo.Client, database string) *Mongo {
	db := client.Database(database)
	return &Mongo{
		jobs:     db.Collection(jobsCollection),
		events:   db.Collection(eventsCollection),
		staff:    db.Collection(staffCollection),
		pins:     db.Collection(pinsCollection),
		tracking: db.Collection(trackingCollection),
	}
}

func (m *Mongo) CreateJob(ctx context.Context, job models.Job) error {
	if _, err := m.jobs.InsertOne(ctx, job); err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

func (m *Mongo) GetJob(ctx context.Context, id string) (models.Job, error) {
	var job models.Job
	err := m.jobs.FindOne(ctx, bson.M{"_id": id}).Decode(&job)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Job{}, ErrNotFound
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("find job %s: %w", id, err)
	}
	return job, nil
}

func (m *Mongo) ListJobsByStaff(ctx context.Context, staffID string) ([]models.Job, error) {
	cur, err := m.jobs.Find(ctx, bson.M{"assigned_staff_id": staffID},
		options.Find().SetSort(bson.D{{Key: "scheduled_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list jobs for staff %s: %w", staffID, err)
	}
	defer cur.Close(ctx)

	var jobs []models.Job
	if err := cur.All(ctx, &jobs); err != nil {
		return nil, fmt.Errorf("decode jobs for staff %s: %w", staffID, err)
	}
	return jobs, nil
}

func (m *Mongo) UpdateJob(ctx context.Context, job models.Job, expectedVersion int64) error {
	res, err := m.jobs.ReplaceOne(ctx, bson.M{"_id": job.ID, "version": expectedVersion}, job)
	if err != nil {
		return fmt.Errorf("replace job %s: %w", job.ID, err)
	}
	if res.MatchedCount == 0 {
		// Disambiguate a lost race from a deleted document.
		if _, err := m.GetJob(ctx, job.ID); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrVersionMismatch
	}
	return nil
}

func (m *Mongo) AppendEvent(ctx context.Context, ev models.JobEvent) error {
	if _, err := m.events.InsertOne(ctx, ev); err != nil {
		return fmt.Errorf("append event %s: %w", ev.ID, err)
	}
	return nil
}

func (m *Mongo) ListEvents(ctx context.Context, jobID string) ([]models.JobEvent, error) {
	cur, err := m.events.Find(ctx, bson.M{"job_id": jobID},
		options.Find().SetSort(bson.D{{Key: "occurred_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list events for job %s: %w", jobID, err)
	}
	defer cur.Close(ctx)

	var events []models.JobEvent
	if err := cur.All(ctx, &events); err != nil {
		return nil, fmt.Errorf("decode events for job %s: %w", jobID, err)
	}
	return events, nil
}

func (m *Mongo) GetStaff(ctx context.Context, id string) (models.StaffProfile, error) {
	var staff models.StaffProfile
	err := m.staff.FindOne(ctx, bson.M{"_id": id}).Decode(&staff)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.StaffProfile{}, ErrNotFound
	}
	if err != nil {
		return models.StaffProfile{}, fmt.Errorf("find staff %s: %w", id, err)
	}
	return staff, nil
}

func (m *Mongo) GetPinAttempts(ctx context.Context, staffID string) (models.PinAttemptRecord, error) {
	var rec models.PinAttemptRecord
	err := m.pins.FindOne(ctx, bson.M{"_id": staffID}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.PinAttemptRecord{StaffID: staffID}, nil
	}
	if err != nil {
		return models.PinAttemptRecord{}, fmt.Errorf("find pin attempts for %s: %w", staffID, err)
	}
	return rec, nil
}

func (m *Mongo) PutPinAttempts(ctx context.Context, rec models.PinAttemptRecord) error {
	_, err := m.pins.ReplaceOne(ctx, bson.M{"_id": rec.StaffID}, rec,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("put pin attempts for %s: %w", rec.StaffID, err)
	}
	return nil
}

func (m *Mongo) ResetPinAttempts(ctx context.Context, staffID string) error {
	if _, err := m.pins.DeleteOne(ctx, bson.M{"_id": staffID}); err != nil {
		return fmt.Errorf("reset pin attempts for %s: %w", staffID, err)
	}
	return nil
}

func (m *Mongo) GetTrackingSession(ctx context.Context, staffID, jobID string) (models.TrackingSession, error) {
	var sess models.TrackingSession
	err := m.tracking.FindOne(ctx, bson.M{"staff_id": staffID, "job_id": jobID, "closed_at": nil}).Decode(&sess)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.TrackingSession{}, ErrNotFound
	}
	if err != nil {
		return models.TrackingSession{}, fmt.Errorf("find tracking session %s/%s: %w", staffID, jobID, err)
	}
	return sess, nil
}

func (m *Mongo) PutTrackingSession(ctx context.Context, s models.TrackingSession) error {
	_, err := m.tracking.ReplaceOne(ctx, bson.M{"_id": s.ID}, s,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("put tracking session %s: %w", s.ID, err)
	}
	return nil
}

func (m *Mongo) ListOpenTrackingSessions(ctx context.Context) ([]models.TrackingSession, error) {
	cur, err := m.tracking.Find(ctx, bson.M{"closed_at": nil})
	if err != nil {
		return nil, fmt.Errorf("list open tracking sessions: %w", err)
	}
	defer cur.Close(ctx)

	var sessions []models.TrackingSession
	if err := cur.All(ctx, &sessions); err != nil {
		return nil, fmt.Errorf("decode tracking sessions: %w", err)
	}
	return sessions, nil
}
