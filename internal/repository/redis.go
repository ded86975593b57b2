package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bookvision/visualization/internal/model"
)

const keyPrefix = "visualization:"

// RedisJobRepository stores each job as JSON under visualization:job:<id>
// with explicit index keys per book, user and status, and a per-job event
// stream written in the same MULTI block as the job.
type RedisJobRepository struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisJobRepository creates a repository. ttl of zero keeps records forever.
func NewRedisJobRepository(rdb *redis.Client, ttl time.Duration) *RedisJobRepository {
	return &RedisJobRepository{rdb: rdb, ttl: ttl}
}

func jobKey(id string) string                 { return keyPrefix + "job:" + id }
func eventsKey(id string) string              { return keyPrefix + "job:" + id + ":events" }
func bookKey(id string) string                { return keyPrefix + "book:" + id + ":jobs" }
func userKey(id string) string                { return keyPrefix + "user:" + id + ":jobs" }
func statusKey(status model.JobStatus) string { return keyPrefix + "status:" + string(status) }

// Add stores a new job. It fails with model.ErrConflict if the ID is taken.
func (r *RedisJobRepository) Add(ctx context.Context, job *model.VisualizationJob) error {
	key := jobKey(job.ID)
	err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: job %s already exists", model.ErrConflict, job.ID)
		}
		return r.write(ctx, tx, job, "")
	}, key)
	return mapTxErr(err, job.ID)
}

// Update stores job if nobody else wrote it since it was read.
func (r *RedisJobRepository) Update(ctx context.Context, job *model.VisualizationJob) error {
	key := jobKey(job.ID)
	err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: job %s", model.ErrNotFound, job.ID)
		}
		if err != nil {
			return err
		}

		var stored struct {
			Status  model.JobStatus `json:"status"`
			Version int64           `json:"version"`
		}
		if err := json.Unmarshal(data, &stored); err != nil {
			return fmt.Errorf("failed to decode stored job: %w", err)
		}
		if stored.Version != job.Version {
			return fmt.Errorf("%w: job %s is at version %d, have %d", model.ErrConflict, job.ID, stored.Version, job.Version)
		}
		return r.write(ctx, tx, job, stored.Status)
	}, key)
	return mapTxErr(err, job.ID)
}

// write queues the job, index and event commands in one transaction.
func (r *RedisJobRepository) write(ctx context.Context, tx *redis.Tx, job *model.VisualizationJob, prevStatus model.JobStatus) error {
	next := *job
	next.Version++
	payload, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	events := job.PendingEvents()
	encoded := make([]string, 0, len(events))
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		encoded = append(encoded, string(data))
	}

	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, jobKey(job.ID), payload, r.ttl)

		if prevStatus == "" {
			score := float64(job.CreatedAt.UnixMicro())
			pipe.ZAdd(ctx, bookKey(job.BookID), redis.Z{Score: score, Member: job.ID})
			pipe.ZAdd(ctx, userKey(job.UserID), redis.Z{Score: score, Member: job.ID})
		}
		if prevStatus != job.Status {
			if prevStatus != "" {
				pipe.SRem(ctx, statusKey(prevStatus), job.ID)
			}
			pipe.SAdd(ctx, statusKey(job.Status), job.ID)
		}

		for i, data := range encoded {
			pipe.XAdd(ctx, &redis.XAddArgs{
				Stream: eventsKey(job.ID),
				Values: map[string]interface{}{
					"type": events[i].Type,
					"data": data,
				},
			})
		}
		if r.ttl > 0 {
			pipe.Expire(ctx, eventsKey(job.ID), r.ttl)
		}
		return nil
	})
	if err != nil {
		return err
	}

	job.Version = next.Version
	return nil
}

// Get loads a job by ID.
func (r *RedisJobRepository) Get(ctx context.Context, jobID string) (*model.VisualizationJob, error) {
	data, err := r.rdb.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: job %s", model.ErrNotFound, jobID)
		}
		return nil, err
	}

	var job model.VisualizationJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", jobID, err)
	}
	return &job, nil
}

// ListByBook returns the newest jobs for a book.
func (r *RedisJobRepository) ListByBook(ctx context.Context, bookID string, limit int) ([]*model.VisualizationJob, error) {
	return r.listSorted(ctx, bookKey(bookID), limit)
}

// ListByUser returns the newest jobs requested by a user.
func (r *RedisJobRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*model.VisualizationJob, error) {
	return r.listSorted(ctx, userKey(userID), limit)
}

func (r *RedisJobRepository) listSorted(ctx context.Context, key string, limit int) ([]*model.VisualizationJob, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := r.rdb.ZRevRange(ctx, key, 0, stop).Result()
	if err != nil {
		return nil, err
	}
	return r.loadMany(ctx, ids)
}

// ListByStatus returns jobs in any of the given states, oldest first.
func (r *RedisJobRepository) ListByStatus(ctx context.Context, statuses ...model.JobStatus) ([]*model.VisualizationJob, error) {
	var ids []string
	for _, status := range statuses {
		members, err := r.rdb.SMembers(ctx, statusKey(status)).Result()
		if err != nil {
			return nil, err
		}
		ids = append(ids, members...)
	}

	jobs, err := r.loadMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	return oldestFirst(jobs), nil
}

// loadMany fetches jobs in order, skipping IDs whose record has expired.
func (r *RedisJobRepository) loadMany(ctx context.Context, ids []string) ([]*model.VisualizationJob, error) {
	if len(ids) == 0 {
		return []*model.VisualizationJob{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = jobKey(id)
	}
	values, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	jobs := make([]*model.VisualizationJob, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var job model.VisualizationJob
		if err := json.Unmarshal([]byte(s), &job); err != nil {
			return nil, fmt.Errorf("failed to decode job %s: %w", ids[i], err)
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}

// Events returns the committed event history of a job.
func (r *RedisJobRepository) Events(ctx context.Context, jobID string) ([]model.Event, error) {
	msgs, err := r.rdb.XRange(ctx, eventsKey(jobID), "-", "+").Result()
	if err != nil {
		return nil, err
	}

	events := make([]model.Event, 0, len(msgs))
	for _, msg := range msgs {
		data, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}
		var e model.Event
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, fmt.Errorf("failed to decode event %s: %w", msg.ID, err)
		}
		events = append(events, e)
	}
	return events, nil
}

func mapTxErr(err error, jobID string) error {
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: job %s changed during write", model.ErrConflict, jobID)
	}
	return err
}

// Ping checks the connection to Redis.
func (r *RedisJobRepository) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}
