package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Oldsnak/video-downloader-api/internal/model"
)

const maxTxRetries = 32

// RedisStore keeps each job as a JSON document under job:<id>. Updates use
// WATCH/MULTI so concurrent writers to the same job never lose an update.
type RedisStore struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewRedisStore returns a store. A zero ttl keeps records forever.
func NewRedisStore(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		redis:  client,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

func jobKey(id string) string {
	return fmt.Sprintf("job:%s", id)
}

func (s *RedisStore) Create(ctx context.Context, spec model.JobSpec) (*model.Job, error) {
	job := newJob(spec, s.now().UTC())
	data, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	ok, err := s.redis.SetNX(ctx, jobKey(job.ID), data, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("save job: id %s already exists", job.ID)
	}
	return job, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*model.Job, error) {
	data, err := s.redis.Get(ctx, jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

func (s *RedisStore) UpdateStatus(ctx context.Context, id string, status model.JobStatus, errMsg string) (*model.Job, error) {
	return s.mutate(ctx, "update_status", id, statusMutator(status, errMsg))
}

func (s *RedisStore) UpdateProgress(ctx context.Context, id string, p model.Progress) (*model.Job, error) {
	return s.mutate(ctx, "update_progress", id, progressMutator(p))
}

func (s *RedisStore) SetOutput(ctx context.Context, id, filePath, publicURL string) (*model.Job, error) {
	return s.mutate(ctx, "set_output", id, outputMutator(filePath, publicURL))
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

// Close is a no-op; the Redis client is owned by the caller.
func (s *RedisStore) Close() error {
	return nil
}

func (s *RedisStore) mutate(ctx context.Context, op, id string, fn mutator) (*model.Job, error) {
	key := jobKey(id)

	var (
		result  *model.Job
		before  model.JobStatus
		outcome Outcome
	)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		var job model.Job
		if err := json.Unmarshal(data, &job); err != nil {
			return fmt.Errorf("decode job %s: %w", id, err)
		}
		before = job.Status

		outcome, err = fn(&job, s.now().UTC())
		if err != nil {
			return err
		}
		result = &job
		if outcome == Ignored {
			return nil
		}

		encoded, err := json.Marshal(&job)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, redis.KeepTTL)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.redis.Watch(ctx, txf, key)
		if err == nil {
			logOutcome(s.logger, op, id, before, outcome)
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s", ErrConflict, id)
}
