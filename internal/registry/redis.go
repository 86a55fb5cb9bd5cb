package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"LectureNotes/internal/domain"
	"LectureNotes/internal/ports"
)

const maxWatchRetries = 8

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// Redis stores each job as a JSON value under prefix+id. Updates run in a
// WATCH/MULTI transaction so concurrent writers never interleave.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

var _ ports.JobRegistry = (*Redis)(nil)

// NewRedis wires a go-redis client. A zero ttl keeps records forever.
func NewRedis(client redis.UniversalClient, prefix string, ttl time.Duration) *Redis {
	return &Redis{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

// OpenRedis connects and pings the server.
func OpenRedis(ctx context.Context, addr, password string, db int, prefix string, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: 10,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connect error: %w", err)
	}
	return NewRedis(client, prefix, ttl), nil
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Create(ctx context.Context, job domain.Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	ok, err := r.client.SetNX(ctx, r.key(job.ID), raw, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("store job: %w", err)
	}
	if !ok {
		return domain.Errorf(domain.CodeInvalidInput, "job %s already exists", job.ID)
	}
	return nil
}

func (r *Redis) Update(ctx context.Context, id string, update domain.JobUpdate) error {
	key := r.key(id)

	txf := func(tx *redis.Tx) error {
		job, err := r.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := job.Apply(update, r.now()); err != nil {
			return err
		}

		raw, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("marshal job: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, redis.KeepTTL)
			return nil
		})
		return err
	}

	for range maxWatchRetries {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("update job %s: too much contention", id)
}

func (r *Redis) Get(ctx context.Context, id string) (domain.Job, error) {
	return r.load(ctx, r.client, id)
}

func (r *Redis) load(ctx context.Context, c getter, id string) (domain.Job, error) {
	raw, err := c.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Job{}, notFound(id)
	}
	if err != nil {
		return domain.Job{}, fmt.Errorf("load job: %w", err)
	}

	var job domain.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return domain.Job{}, fmt.Errorf("decode job: %w", err)
	}
	return job, nil
}

func (r *Redis) key(id string) string {
	return r.prefix + id
}
