package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	logx "crew/pkg/logx"

	"github.com/redis/go-redis/v9"
)

const DefaultRedisKey = "crew:snapshot"

// redisStore keeps the latest document under one key and publishes it on a
// channel of the same name so dashboards can follow along without polling.
type redisStore struct {
	client *redis.Client
	key    string
	log    logx.Logger
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("snapshot.redis_addr is required for redis driver")
	}
	key := strings.TrimSpace(cfg.RedisKey)
	if key == "" {
		key = DefaultRedisKey
	}

	client := redis.NewClient(&redis.Options{
		Addr:            addr,
		Password:        cfg.RedisPassword,
		DB:              cfg.RedisDB,
		MaxRetries:      3,
		MinRetryBackoff: 100 * time.Millisecond,
		MaxRetryBackoff: 1 * time.Second,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		PoolSize:        2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &redisStore{client: client, key: key, log: log}, nil
}

func (s *redisStore) Write(ctx context.Context, doc Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return err
	}
	// Publish is best effort; the key is the source of truth.
	if err := s.client.Publish(ctx, s.key, data).Err(); err != nil {
		s.log.Debug("snapshot publish failed", logx.String("key", s.key), logx.Err(err))
	}
	return nil
}

func (s *redisStore) Read(ctx context.Context) (Document, error) {
	var doc Document
	val, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return doc, ErrNotFound
	}
	if err != nil {
		return doc, err
	}
	err = json.Unmarshal(val, &doc)
	return doc, err
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
