package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/finrecon/internal/model"
)

// DefaultRedisPrefix namespaces extraction keys.
const DefaultRedisPrefix = "finrecon:extraction:"

// Redis is a Cache backed by a Redis server. Entries are JSON documents
// under prefix+fingerprint.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisOptions configures NewRedis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration // zero keeps entries forever
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close() //nolint:errcheck
		return nil, eris.Wrapf(err, "cache: redis ping %s", opts.Addr)
	}
	return NewRedisWithClient(client, opts.Prefix, opts.TTL), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

func (r *Redis) key(fingerprint string) string {
	return r.prefix + fingerprint
}

func (r *Redis) Get(ctx context.Context, fingerprint string) (*model.CachedExtraction, bool) {
	val, err := r.client.Get(ctx, r.key(fingerprint)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		zap.L().Warn("cache: redis get failed, treating as miss",
			zap.String("fingerprint", fingerprint), zap.Error(err))
		return nil, false
	}

	var entry model.CachedExtraction
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		zap.L().Warn("cache: corrupt redis entry, treating as miss",
			zap.String("fingerprint", fingerprint), zap.Error(err))
		return nil, false
	}
	if entry.Result == nil {
		return nil, false
	}
	return &entry, true
}

func (r *Redis) Set(ctx context.Context, entry model.CachedExtraction) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		zap.L().Warn("cache: marshal entry", zap.String("fingerprint", entry.Fingerprint), zap.Error(err))
		return
	}
	if err := r.client.Set(ctx, r.key(entry.Fingerprint), string(data), r.ttl).Err(); err != nil {
		zap.L().Warn("cache: redis set failed",
			zap.String("fingerprint", entry.Fingerprint), zap.Error(err))
	}
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
