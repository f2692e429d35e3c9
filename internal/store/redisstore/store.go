package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/suPer8Hu/companion-chat/internal/quota"
)

type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) *Store {
	return &Store{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func NewFromClient(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func quotaKey(userID, companionID string, day time.Time) string {
	return "quota:" + userID + ":" + companionID + ":" + quota.DayStamp(day)
}

// Used returns how many messages were consumed on day; a missing key is 0.
func (s *Store) Used(ctx context.Context, userID, companionID string, day time.Time) (int, error) {
	n, err := s.rdb.Get(ctx, quotaKey(userID, companionID, day)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

// Consume bumps the day's counter. The key expires an hour after the UTC day ends.
func (s *Store) Consume(ctx context.Context, userID, companionID string, day time.Time) error {
	key := quotaKey(userID, companionID, day)
	pipe := s.rdb.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.ExpireAt(ctx, key, quota.EndOfDay(day).Add(time.Hour))
	_, err := pipe.Exec(ctx)
	return err
}
