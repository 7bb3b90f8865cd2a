package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/brunohmelo/docpipe-back/internal/domain"
	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// RedisStore persists one JSON record per job under a common key prefix.
// Every Set issues SET ... EX, which resets the expiry clock (sliding TTL).
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "docpipe:status:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisStore{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		ttl:       cfg.TTL,
	}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(jobID string) string {
	return s.keyPrefix + jobID
}

func (s *RedisStore) Set(ctx context.Context, record domain.JobStatusRecord) error {
	existing, found, err := s.Get(ctx, record.JobID)
	if err != nil {
		return err
	}

	var current *domain.JobStatusRecord
	if found {
		current = &existing
	}
	prepared, skip := prepareWrite(current, record, time.Now().UTC())
	if skip {
		return nil
	}

	payload, err := json.Marshal(prepared)
	if err != nil {
		return fmt.Errorf("encode status record: %w", err)
	}
	if err := s.client.Set(ctx, s.key(record.JobID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("write status record: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, jobID string) (domain.JobStatusRecord, bool, error) {
	payload, err := s.client.Get(ctx, s.key(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.JobStatusRecord{}, false, nil
		}
		return domain.JobStatusRecord{}, false, fmt.Errorf("read status record: %w", err)
	}

	var record domain.JobStatusRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return domain.JobStatusRecord{}, false, fmt.Errorf("decode status record: %w", err)
	}
	return record, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, jobID string) error {
	if err := s.client.Del(ctx, s.key(jobID)).Err(); err != nil {
		return fmt.Errorf("delete status record: %w", err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, namespaceFilter string) ([]domain.JobStatusRecord, error) {
	records := make([]domain.JobStatusRecord, 0)

	iter := s.client.Scan(ctx, 0, s.keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		payload, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				// Expired between SCAN and GET.
				continue
			}
			return nil, fmt.Errorf("read status record: %w", err)
		}

		var record domain.JobStatusRecord
		if err := json.Unmarshal(payload, &record); err != nil {
			return nil, fmt.Errorf("decode status record: %w", err)
		}
		if namespaceFilter != "" && record.Namespace != namespaceFilter {
			continue
		}
		records = append(records, record)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan status records: %w", err)
	}
	return records, nil
}
