// Package redisdb keeps queue entries in a Redis hash named
// "logship:<namespace>", one field per index.
package redisdb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/loykin/logship/internal/store"
)

const shiftRetries = 5

type DB struct {
	rdb *redis.Client
	key string
}

// New connects using a redis:// or rediss:// URL.
func New(url, ns string) (*DB, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewWithClient(redis.NewClient(opts), ns), nil
}

// NewWithClient uses an existing client. Close closes it.
func NewWithClient(rdb *redis.Client, ns string) *DB {
	return &DB{rdb: rdb, key: "logship:" + ns}
}

func (s *DB) Get(ctx context.Context, idx int) (string, error) {
	v, err := s.rdb.HGet(ctx, s.key, strconv.Itoa(idx)).Result()
	if errors.Is(err, redis.Nil) {
		return "", store.ErrNotFound
	}
	return v, err
}

func (s *DB) Set(ctx context.Context, idx int, value string) error {
	if err := store.CheckIndex(idx); err != nil {
		return err
	}
	return s.rdb.HSet(ctx, s.key, strconv.Itoa(idx), value).Err()
}

func (s *DB) Remove(ctx context.Context, idx int) error {
	return s.rdb.HDel(ctx, s.key, strconv.Itoa(idx)).Err()
}

func (s *DB) Keys(ctx context.Context) ([]int, error) {
	fields, err := s.rdb.HKeys(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}
	return parseFields(fields), nil
}

// Shift renumbers the hash inside a WATCH/MULTI transaction and retries
// when another client changed it concurrently.
func (s *DB) Shift(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	fn := func(tx *redis.Tx) error {
		all, err := tx.HGetAll(ctx, s.key).Result()
		if err != nil {
			return err
		}
		next := make(map[string]any, len(all))
		for f, v := range all {
			k, err := strconv.Atoi(f)
			if err != nil || k < n {
				continue
			}
			next[strconv.Itoa(k-n)] = v
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, s.key)
			if len(next) > 0 {
				p.HSet(ctx, s.key, next)
			}
			return nil
		})
		return err
	}
	for i := 0; i < shiftRetries; i++ {
		err := s.rdb.Watch(ctx, fn, s.key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("shift %s: %w", s.key, redis.TxFailedErr)
}

func (s *DB) Close() error { return s.rdb.Close() }

func parseFields(fields []string) []int {
	keys := make([]int, 0, len(fields))
	for _, f := range fields {
		k, err := strconv.Atoi(f)
		if err != nil || k < 0 {
			continue
		}
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
