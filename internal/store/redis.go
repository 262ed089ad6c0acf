package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"callscribe/internal/domain"
)

const (
	defaultKeyPrefix = "callscribe:"
	maxUpdateRetries = 3
)

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisStore keeps each call as a JSON document and indexes a user's calls in a
// sorted set scored by creation time.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) callKey(id string) string {
	return s.prefix + "call:" + id
}

func (s *RedisStore) userKey(userID string) string {
	return s.prefix + "user:" + userID + ":calls"
}

func (s *RedisStore) Create(ctx context.Context, userID string, title string) (domain.Call, error) {
	now := s.now().UTC()
	call := domain.Call{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     strings.TrimSpace(title),
		Status:    domain.CallStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}

	data, err := json.Marshal(call)
	if err != nil {
		return domain.Call{}, fmt.Errorf("marshal call: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.callKey(call.ID), data, 0)
		pipe.ZAdd(ctx, s.userKey(userID), redis.Z{Score: float64(now.UnixMicro()), Member: call.ID})
		return nil
	})
	if err != nil {
		return domain.Call{}, fmt.Errorf("store call %s: %w", call.ID, err)
	}
	return call, nil
}

func (s *RedisStore) Get(ctx context.Context, userID string, id string) (domain.Call, error) {
	return s.load(ctx, s.client, userID, id)
}

func (s *RedisStore) Update(ctx context.Context, userID string, id string, update domain.CallUpdate) (domain.Call, error) {
	key := s.callKey(id)

	var updated domain.Call
	txn := func(tx *redis.Tx) error {
		call, err := s.load(ctx, tx, userID, id)
		if err != nil {
			return err
		}
		if update.Empty() {
			updated = call
			return nil
		}
		update.Apply(&call)
		call.UpdatedAt = s.now().UTC()

		data, err := json.Marshal(call)
		if err != nil {
			return fmt.Errorf("marshal call: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		if err == nil {
			updated = call
		}
		return err
	}

	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		err := s.client.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return domain.Call{}, err
		}
		return updated, nil
	}
	return domain.Call{}, fmt.Errorf("update call %s: too much contention", id)
}

func (s *RedisStore) Delete(ctx context.Context, userID string, id string) error {
	if _, err := s.load(ctx, s.client, userID, id); err != nil {
		return err
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.callKey(id))
		pipe.ZRem(ctx, s.userKey(userID), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete call %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, userID string) ([]domain.Call, error) {
	return s.Recent(ctx, userID, 0)
}

// Recent returns the newest calls of userID first; limit <= 0 returns all of them.
func (s *RedisStore) Recent(ctx context.Context, userID string, limit int) ([]domain.Call, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.client.ZRevRange(ctx, s.userKey(userID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}

	calls := make([]domain.Call, 0, len(ids))
	if len(ids) == 0 {
		return calls, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.callKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load calls: %w", err)
	}

	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		var call domain.Call
		if err := json.Unmarshal([]byte(raw), &call); err != nil {
			return nil, fmt.Errorf("decode call: %w", err)
		}
		if call.UserID == userID {
			calls = append(calls, call)
		}
	}
	return calls, nil
}

// Ping reports whether the backing Redis server is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) load(ctx context.Context, client getter, userID string, id string) (domain.Call, error) {
	data, err := client.Get(ctx, s.callKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Call{}, domain.ErrCallNotFound
	}
	if err != nil {
		return domain.Call{}, fmt.Errorf("load call %s: %w", id, err)
	}

	var call domain.Call
	if err := json.Unmarshal(data, &call); err != nil {
		return domain.Call{}, fmt.Errorf("decode call %s: %w", id, err)
	}
	if call.UserID != userID {
		return domain.Call{}, domain.ErrForbidden
	}
	return call, nil
}
