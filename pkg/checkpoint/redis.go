package checkpoint

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	lferrors "github.com/logflow/tracemine/pkg/errors"
)

// RedisConfig configures the Redis checkpoint backend.
type RedisConfig struct {
	// Address is the Redis server address (e.g., "localhost:6379")
	Address  string
	Password string
	Database int

	// Prefix is prepended to all record keys (e.g., "tracemine:runs:")
	Prefix string

	// TTL is the time-to-live for record keys (0 = no expiration)
	TTL     time.Duration
	Timeout time.Duration

	PoolSize     int
	MinIdleConns int
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig(address string) RedisConfig {
	return RedisConfig{
		Address:      address,
		Prefix:       "tracemine:runs:",
		TTL:          7 * 24 * time.Hour,
		Timeout:      5 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// RedisBackend stores run records in Redis. Record ids are kept in a sorted
// set scored by start time so listing needs no key scan.
type RedisBackend struct {
	cfg    RedisConfig
	client redis.UniversalClient
}

// NewRedisBackend connects to Redis and pings it.
func NewRedisBackend(cfg RedisConfig) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, lferrors.Wrap(err, lferrors.CodeCheckpointRead, "failed to connect to Redis").
			WithContext("address", cfg.Address)
	}
	return newRedisBackend(cfg, client), nil
}

func newRedisBackend(cfg RedisConfig, client redis.UniversalClient) *RedisBackend {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &RedisBackend{cfg: cfg, client: client}
}

func (b *RedisBackend) key(id string) string {
	return b.cfg.Prefix + id
}

func (b *RedisBackend) indexKey() string {
	return b.cfg.Prefix + "index"
}

func (b *RedisBackend) incompleteKey() string {
	return b.cfg.Prefix + "incomplete"
}

// Save persists a record and updates the indexes in one pipeline.
func (b *RedisBackend) Save(ctx context.Context, r *Record) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	data, err := r.marshal()
	if err != nil {
		return err
	}

	pipe := b.client.TxPipeline()
	pipe.Set(ctx, b.key(r.ID), data, b.cfg.TTL)
	pipe.ZAdd(ctx, b.indexKey(), redis.Z{
		Score:  float64(r.StartedAt.UnixNano()),
		Member: r.ID,
	})
	if r.Done() {
		pipe.SRem(ctx, b.incompleteKey(), r.ID)
	} else {
		pipe.SAdd(ctx, b.incompleteKey(), r.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return lferrors.Wrap(err, lferrors.CodeCheckpointWrite, "failed to save run record to Redis").
			WithContext("id", r.ID)
	}
	return nil
}

// Load retrieves a record from Redis.
func (b *RedisBackend) Load(ctx context.Context, id string) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	data, err := b.client.Get(ctx, b.key(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, notFound(id)
		}
		return nil, lferrors.Wrap(err, lferrors.CodeCheckpointRead, "failed to load run record from Redis").
			WithContext("id", id)
	}
	return unmarshal(data, id)
}

// Delete removes a record and its index entries.
func (b *RedisBackend) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	pipe := b.client.TxPipeline()
	del := pipe.Del(ctx, b.key(id))
	pipe.ZRem(ctx, b.indexKey(), id)
	pipe.SRem(ctx, b.incompleteKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return lferrors.Wrap(err, lferrors.CodeCheckpointWrite, "failed to delete run record from Redis").
			WithContext("id", id)
	}
	if del.Val() == 0 {
		return notFound(id)
	}
	return nil
}

// List returns the indexed records whose id starts with prefix, newest
// first. Index entries whose record expired are dropped.
func (b *RedisBackend) List(ctx context.Context, prefix string) ([]*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	ids, err := b.client.ZRevRange(ctx, b.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeCheckpointRead, "failed to list run records")
	}

	var out []*Record
	for _, id := range ids {
		if !strings.HasPrefix(id, prefix) {
			continue
		}
		r, err := b.Load(ctx, id)
		if lferrors.IsCode(err, lferrors.CodeNotFound) {
			b.client.ZRem(ctx, b.indexKey(), id)
			continue
		}
		if err != nil {
			continue
		}
		out = append(out, r)
	}
	sortByStart(out)
	return out, nil
}

// ListIncomplete returns the records of runs that never finished.
func (b *RedisBackend) ListIncomplete(ctx context.Context) ([]*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	ids, err := b.client.SMembers(ctx, b.incompleteKey()).Result()
	if err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeCheckpointRead, "failed to list incomplete run records")
	}

	var out []*Record
	for _, id := range ids {
		r, err := b.Load(ctx, id)
		if err != nil || r.Done() {
			b.client.SRem(ctx, b.incompleteKey(), id)
			continue
		}
		out = append(out, r)
	}
	sortByStart(out)
	return out, nil
}

// Cleanup removes finished records older than maxAge.
func (b *RedisBackend) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	return cleanup(ctx, b, maxAge)
}

// Name returns "redis".
func (b *RedisBackend) Name() string {
	return "redis"
}

// Ping checks the Redis connection.
func (b *RedisBackend) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()
	return b.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
