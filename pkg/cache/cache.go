// Package cache mirrors job status snapshots into Redis so other processes
// can read them without asking the queue owner.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jdziat/docflow/pkg/core"
)

// DefaultTTL is how long a mirrored snapshot lives after its last write.
const DefaultTTL = 10 * time.Minute

// Client is the subset of the Redis API the mirror uses.
type Client interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Connect opens a Redis client and verifies it with a ping.
func Connect(ctx context.Context, opts Options) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     10,
		MinIdleConns: 2,
		PoolTimeout:  5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Mirror writes job snapshots under docflow:job:<id>.
type Mirror struct {
	client Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewMirror creates a mirror. A non-positive ttl uses DefaultTTL.
func NewMirror(client Client, ttl time.Duration, logger *slog.Logger) *Mirror {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{client: client, ttl: ttl, logger: logger}
}

// Key returns the Redis key for a job.
func Key(jobID string) string {
	return "docflow:job:" + jobID
}

// Put stores a snapshot of job.
func (m *Mirror) Put(ctx context.Context, job *core.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	return m.client.Set(ctx, Key(job.ID), data, m.ttl).Err()
}

// Get reads a mirrored snapshot. A missing key yields core.ErrNotFound.
func (m *Mirror) Get(ctx context.Context, jobID string) (*core.Job, error) {
	val, err := m.client.Get(ctx, Key(jobID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var job core.Job
	if err := json.Unmarshal([]byte(val), &job); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", jobID, err)
	}
	return &job, nil
}

// Delete removes a mirrored snapshot.
func (m *Mirror) Delete(ctx context.Context, jobID string) error {
	return m.client.Del(ctx, Key(jobID)).Err()
}

// Source is the queue surface the mirror follows.
type Source interface {
	Events() <-chan core.Event
	Unsubscribe(<-chan core.Event)
	Status(jobID string) (*core.Job, error)
}

// Follow mirrors every job event from source until ctx is done.
// Write failures are logged and never affect the queue.
func (m *Mirror) Follow(ctx context.Context, source Source) {
	events := source.Events()
	defer source.Unsubscribe(events)

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-events:
			job := m.snapshotFor(e, source)
			if job == nil {
				continue
			}
			if err := m.Put(ctx, job); err != nil && ctx.Err() == nil {
				m.logger.Warn("failed to mirror job status", "job_id", job.ID, "error", err)
			}
		}
	}
}

func (m *Mirror) snapshotFor(e core.Event, source Source) *core.Job {
	switch ev := e.(type) {
	case *core.JobSubmitted:
		return ev.Job
	case *core.JobStarted:
		return ev.Job
	case *core.JobCompleted:
		return ev.Job
	case *core.JobFailed:
		return ev.Job
	case *core.JobProgressed:
		job, err := source.Status(ev.JobID)
		if err != nil {
			return nil
		}
		return job
	}
	return nil
}
