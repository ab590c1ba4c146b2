// Package jobs tracks document ingestion jobs and publishes their
// lifecycle events on NATS.
//
// Events go to {prefix}.{user_id}.{job_id}.{started|completed|failed}.
// Without a NATS connection the registry still tracks jobs in memory and
// publishing is skipped.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docqa/internal/logging"
)

// ErrNotFound is returned for unknown jobs and jobs owned by someone else.
var ErrNotFound = errors.New("job not found")

// Status is a job's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Job is one file being ingested.
type Job struct {
	ID         string    `json:"id"`
	UserID     int64     `json:"user_id"`
	Filename   string    `json:"filename"`
	Status     Status    `json:"status"`
	DocumentID int64     `json:"document_id,omitempty"`
	Error      string    `json:"error,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Finished reports whether the job reached a terminal state.
func (j Job) Finished() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// DefaultRetention is how long finished jobs stay queryable.
const DefaultRetention = time.Hour

// Registry holds jobs in memory and publishes their transitions.
type Registry struct {
	nc        *nats.Conn
	prefix    string
	retention time.Duration
	logger    *logging.Logger
	now       func() time.Time

	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewRegistry creates a registry. nc may be nil.
func NewRegistry(nc *nats.Conn, prefix string, logger *logging.Logger) *Registry {
	if prefix == "" {
		prefix = "docqa.jobs"
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Registry{
		nc:        nc,
		prefix:    prefix,
		retention: DefaultRetention,
		logger:    logger,
		now:       time.Now,
		jobs:      make(map[string]*Job),
	}
}

// Connect dials NATS. An empty URL returns a nil connection.
func Connect(url string, logger *logging.Logger) (*nats.Conn, error) {
	if url == "" {
		return nil, nil
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("docqa"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn(context.Background(), "nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info(context.Background(), "nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	return nc, nil
}

// Subject returns the event subject for a job transition.
func (r *Registry) Subject(j Job, event string) string {
	return fmt.Sprintf("%s.%d.%s.%s", r.prefix, j.UserID, j.ID, event)
}

// Create registers a pending job and prunes finished jobs past retention.
func (r *Registry) Create(ctx context.Context, userID int64, filename string) Job {
	now := r.now()
	j := &Job{
		ID:        uuid.NewString(),
		UserID:    userID,
		Filename:  filename,
		Status:    StatusPending,
		RequestID: logging.RequestIDFromContext(ctx),
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, old := range r.jobs {
		if old.Finished() && now.Sub(old.UpdatedAt) > r.retention {
			delete(r.jobs, id)
		}
	}
	r.jobs[j.ID] = j
	return *j
}

// Started marks the job running and publishes "started".
func (r *Registry) Started(id string) error {
	return r.transition(id, "started", func(j *Job) { j.Status = StatusRunning })
}

// Complete marks the job completed with its document and publishes
// "completed".
func (r *Registry) Complete(id string, documentID int64) error {
	return r.transition(id, "completed", func(j *Job) {
		j.Status = StatusCompleted
		j.DocumentID = documentID
	})
}

// Fail marks the job failed and publishes "failed".
func (r *Registry) Fail(id string, cause error) error {
	return r.transition(id, "failed", func(j *Job) {
		j.Status = StatusFailed
		if cause != nil {
			j.Error = cause.Error()
		}
	})
}

func (r *Registry) transition(id, event string, apply func(*Job)) error {
	r.mu.Lock()
	j, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	apply(j)
	j.UpdatedAt = r.now()
	snapshot := *j
	r.mu.Unlock()

	return r.publish(snapshot, event)
}

func (r *Registry) publish(j Job, event string) error {
	if r.nc == nil {
		return nil
	}
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("marshal job event: %w", err)
	}
	if err := r.nc.Publish(r.Subject(j, event), data); err != nil {
		return fmt.Errorf("publish %s event: %w", event, err)
	}
	return nil
}

// Get returns the job if userID owns it.
func (r *Registry) Get(userID int64, id string) (Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok || j.UserID != userID {
		return Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *j, nil
}
