package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dealflow/internal/models"

	"github.com/redis/go-redis/v9"
)

// DeadLetterKey is the Redis list failed notifications are pushed to for
// out-of-band inspection.
const DeadLetterKey = "notifications:dead"

type CacheService struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCacheService(client *redis.Client, defaultTTL time.Duration) *CacheService {
	return &CacheService{
		client: client,
		ttl:    defaultTTL,
	}
}

// Base operations
func (s *CacheService) Set(ctx context.Context, key string, value interface{}) error {
	return s.SetWithTTL(ctx, key, value, s.ttl)
}

func (s *CacheService) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("failed to get cache value: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return true, nil
}

func (s *CacheService) Delete(ctx context.Context, keys ...string) error {
	return s.client.Del(ctx, keys...).Err()
}

// Key generation
func (s *CacheService) GenerateKey(entityType, keyType string, value interface{}) string {
	return fmt.Sprintf("%s:%s:%v", entityType, keyType, value)
}

// User caching
func (s *CacheService) CacheUser(ctx context.Context, user *models.User) error {
	if user == nil {
		return errors.New("cannot cache nil user")
	}

	keys := []string{
		s.GenerateKey("user", "id", user.ID),
		s.GenerateKey("user", "email", user.Email),
	}

	for _, key := range keys {
		if err := s.Set(ctx, key, user); err != nil {
			return err
		}
	}
	return nil
}

func (s *CacheService) GetUser(ctx context.Context, key string) (*models.User, error) {
	var user models.User
	found, err := s.Get(ctx, key, &user)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.New("user not found in cache")
	}
	return &user, nil
}

// Deal caching. The cached aggregate includes total_committed, so the
// ledger must invalidate it after every commitment mutation.
func (s *CacheService) CacheDeal(ctx context.Context, deal *models.Deal) error {
	if deal == nil {
		return errors.New("cannot cache nil deal")
	}
	return s.Set(ctx, s.GenerateKey("deal", "id", deal.ID), deal)
}

func (s *CacheService) GetDeal(ctx context.Context, dealID uint) (*models.Deal, error) {
	var deal models.Deal
	found, err := s.Get(ctx, s.GenerateKey("deal", "id", dealID), &deal)
	if err != nil || !found {
		if !found {
			return nil, errors.New("deal not found in cache")
		}
		return nil, err
	}
	return &deal, nil
}

// Invalidation patterns
func (s *CacheService) InvalidateUser(ctx context.Context, userID uint) error {
	user, err := s.GetUser(ctx, s.GenerateKey("user", "id", userID))
	if err != nil {
		return err
	}

	return s.Delete(ctx,
		s.GenerateKey("user", "id", userID),
		s.GenerateKey("user", "email", user.Email),
	)
}

func (s *CacheService) InvalidateDeal(ctx context.Context, dealID uint) error {
	return s.Delete(ctx, s.GenerateKey("deal", "id", dealID))
}

// PushDeadLetter appends an undeliverable notification payload to the
// dead-letter list so operators can replay it.
func (s *CacheService) PushDeadLetter(ctx context.Context, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}
	return s.client.RPush(ctx, DeadLetterKey, data).Err()
}

// HealthCheck pings Redis.
func (s *CacheService) HealthCheck(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	return nil
}

// FlushAll flushes all keys from the cache
func (s *CacheService) FlushAll(ctx context.Context) error {
	return s.client.FlushAll(ctx).Err()
}

// Close closes the Redis client connection
func (s *CacheService) Close() error {
	return s.client.Close()
}
