// Package mongo implements session.Store against MongoDB via the official
// v2 driver, the durable backend named in spec §1/§6 for session metadata.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	appsession "github.com/agentcp/controlplane/internal/session"
)

const (
	defaultSessionsCollection = "agent_sessions"
	defaultJobsCollection     = "agent_jobs"
	defaultOpTimeout          = 5 * time.Second
)

// Options configures the Mongo-backed session.Store.
type Options struct {
	Client             *mongo.Client
	Database           string
	SessionsCollection string
	JobsCollection     string
	Timeout            time.Duration
}

// Store implements session.Store against two Mongo collections: one for
// session lifecycle documents, one for job metadata.
type Store struct {
	sessions *mongo.Collection
	jobs     *mongo.Collection
	timeout  time.Duration
}

// NewStore constructs a Store and ensures the indexes it depends on exist.
func NewStore(ctx context.Context, opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("session/mongo: client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("session/mongo: database name is required")
	}
	sessionsName := opts.SessionsCollection
	if sessionsName == "" {
		sessionsName = defaultSessionsCollection
	}
	jobsName := opts.JobsCollection
	if jobsName == "" {
		jobsName = defaultJobsCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}

	db := opts.Client.Database(opts.Database)
	sessions := db.Collection(sessionsName)
	jobs := db.Collection(jobsName)

	idxCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := ensureIndexes(idxCtx, sessions, jobs); err != nil {
		return nil, err
	}

	return &Store{sessions: sessions, jobs: jobs, timeout: timeout}, nil
}

func ensureIndexes(ctx context.Context, sessions, jobs *mongo.Collection) error {
	if _, err := sessions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "session_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	if _, err := jobs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "job_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	if _, err := jobs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "status", Value: 1}},
	}); err != nil {
		return err
	}
	return nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// CreateSession implements session.Store. CreateSession must never modify an
// existing session, so the insert uses a pure $setOnInsert update, making it
// safe under concurrent retries.
func (s *Store) CreateSession(ctx context.Context, sessionID string, createdAt time.Time) (appsession.Session, error) {
	if sessionID == "" {
		return appsession.Session{}, errors.New("session id is required")
	}
	if createdAt.IsZero() {
		return appsession.Session{}, errors.New("created_at is required")
	}

	existing, err := s.LoadSession(ctx, sessionID)
	if err == nil {
		if existing.Status == appsession.StatusEnded {
			return appsession.Session{}, appsession.ErrSessionEnded
		}
		return existing, nil
	}
	if !errors.Is(err, appsession.ErrSessionNotFound) {
		return appsession.Session{}, err
	}

	now := time.Now().UTC()
	opCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"session_id": sessionID}
	update := bson.M{
		"$setOnInsert": bson.M{
			"session_id": sessionID,
			"status":     appsession.StatusActive,
			"created_at": createdAt.UTC(),
			"updated_at": now,
		},
	}
	if _, err := s.sessions.UpdateOne(opCtx, filter, update, options.UpdateOne().SetUpsert(true)); err != nil {
		return appsession.Session{}, err
	}

	out, err := s.LoadSession(ctx, sessionID)
	if err != nil {
		return appsession.Session{}, err
	}
	if out.Status == appsession.StatusEnded {
		return appsession.Session{}, appsession.ErrSessionEnded
	}
	return out, nil
}

// LoadSession implements session.Store.
func (s *Store) LoadSession(ctx context.Context, sessionID string) (appsession.Session, error) {
	if sessionID == "" {
		return appsession.Session{}, errors.New("session id is required")
	}
	opCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc sessionDocument
	if err := s.sessions.FindOne(opCtx, bson.M{"session_id": sessionID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return appsession.Session{}, appsession.ErrSessionNotFound
		}
		return appsession.Session{}, err
	}
	return doc.toSession(), nil
}

// EndSession implements session.Store.
func (s *Store) EndSession(ctx context.Context, sessionID string, endedAt time.Time) (appsession.Session, error) {
	if sessionID == "" {
		return appsession.Session{}, errors.New("session id is required")
	}
	if endedAt.IsZero() {
		return appsession.Session{}, errors.New("ended_at is required")
	}

	existing, err := s.LoadSession(ctx, sessionID)
	if err != nil {
		return appsession.Session{}, err
	}
	if existing.Status == appsession.StatusEnded {
		return existing, nil
	}

	opCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	update := bson.M{"$set": bson.M{
		"status":     appsession.StatusEnded,
		"ended_at":   endedAt.UTC(),
		"updated_at": time.Now().UTC(),
	}}
	if _, err := s.sessions.UpdateOne(opCtx, bson.M{"session_id": sessionID}, update); err != nil {
		return appsession.Session{}, err
	}
	return s.LoadSession(ctx, sessionID)
}

// UpsertJob implements session.Store.
func (s *Store) UpsertJob(ctx context.Context, job appsession.JobMeta) error {
	if job.JobID == "" {
		return errors.New("job id is required")
	}
	if job.SessionID == "" {
		return errors.New("session id is required")
	}
	now := time.Now().UTC()
	if job.StartedAt.IsZero() {
		job.StartedAt = now
	}
	job.UpdatedAt = now
	doc := fromJobMeta(job)

	opCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"job_id": job.JobID}
	update := bson.M{
		"$set": bson.M{
			"job_id":     doc.JobID,
			"project_id": doc.ProjectID,
			"session_id": doc.SessionID,
			"status":     doc.Status,
			"updated_at": doc.UpdatedAt,
			"labels":     doc.Labels,
			"metadata":   doc.Metadata,
		},
		"$setOnInsert": bson.M{"started_at": doc.StartedAt},
	}
	_, err := s.jobs.UpdateOne(opCtx, filter, update, options.UpdateOne().SetUpsert(true))
	return err
}

// LoadJob implements session.Store.
func (s *Store) LoadJob(ctx context.Context, jobID string) (appsession.JobMeta, error) {
	if jobID == "" {
		return appsession.JobMeta{}, errors.New("job id is required")
	}
	opCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc jobDocument
	if err := s.jobs.FindOne(opCtx, bson.M{"job_id": jobID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return appsession.JobMeta{}, appsession.ErrJobNotFound
		}
		return appsession.JobMeta{}, err
	}
	return doc.toJobMeta(), nil
}

// ListJobsBySession implements session.Store.
func (s *Store) ListJobsBySession(ctx context.Context, sessionID string, statuses []appsession.JobStatus) ([]appsession.JobMeta, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	filter := bson.M{"session_id": sessionID}
	if len(statuses) > 0 {
		filter["status"] = bson.M{"$in": statuses}
	}
	opCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	cur, err := s.jobs.Find(opCtx, filter, options.Find().SetSort(bson.D{{Key: "started_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(ctx) }()

	var out []appsession.JobMeta
	for cur.Next(ctx) {
		var doc jobDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toJobMeta())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type jobDocument struct {
	JobID     string               `bson:"job_id"`
	ProjectID string               `bson:"project_id,omitempty"`
	SessionID string               `bson:"session_id,omitempty"`
	Status    appsession.JobStatus `bson:"status"`
	StartedAt time.Time            `bson:"started_at"`
	UpdatedAt time.Time            `bson:"updated_at"`
	Labels    map[string]string    `bson:"labels,omitempty"`
	Metadata  map[string]any       `bson:"metadata,omitempty"`
}

type sessionDocument struct {
	SessionID string             `bson:"session_id"`
	Status    appsession.Status  `bson:"status"`
	CreatedAt time.Time          `bson:"created_at"`
	EndedAt   *time.Time         `bson:"ended_at,omitempty"`
	UpdatedAt time.Time          `bson:"updated_at"`
}

func fromJobMeta(job appsession.JobMeta) jobDocument {
	return jobDocument{
		JobID:     job.JobID,
		ProjectID: job.ProjectID,
		SessionID: job.SessionID,
		Status:    job.Status,
		StartedAt: job.StartedAt.UTC(),
		UpdatedAt: job.UpdatedAt.UTC(),
		Labels:    job.Labels,
		Metadata:  job.Metadata,
	}
}

func (doc jobDocument) toJobMeta() appsession.JobMeta {
	return appsession.JobMeta{
		JobID:     doc.JobID,
		ProjectID: doc.ProjectID,
		SessionID: doc.SessionID,
		Status:    doc.Status,
		StartedAt: doc.StartedAt,
		UpdatedAt: doc.UpdatedAt,
		Labels:    doc.Labels,
		Metadata:  doc.Metadata,
	}
}

func (doc sessionDocument) toSession() appsession.Session {
	var endedAt *time.Time
	if doc.EndedAt != nil {
		at := doc.EndedAt.UTC()
		endedAt = &at
	}
	return appsession.Session{
		ID:        doc.SessionID,
		Status:    doc.Status,
		CreatedAt: doc.CreatedAt.UTC(),
		EndedAt:   endedAt,
	}
}
