// MIT License
//
// Copyright (c) 2022-2026 GoAkt Team
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	gerrors "github.com/tochemey/podsession/errors"
	"github.com/tochemey/podsession/log"
	"github.com/tochemey/podsession/session"
)

const defaultKeyPrefix = "session:"

// script results: 1 applied, 0 version conflict or precondition not met,
// -1 record missing
var (
	casScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if not current then return -1 end
local record = cjson.decode(current)
if tonumber(record['version']) ~= tonumber(ARGV[1]) then return 0 end
redis.call('SET', KEYS[1], ARGV[2])
return 1`)

	touchScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if not current then return -1 end
local record = cjson.decode(current)
if record['status'] ~= 'ready' then return 0 end
record['version'] = tonumber(record['version']) + 1
record['last_access_at'] = ARGV[1]
redis.call('SET', KEYS[1], cjson.encode(record))
return 1`)

	deleteScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if not current then return -1 end
local record = cjson.decode(current)
if tonumber(record['version']) ~= tonumber(ARGV[1]) then return 0 end
redis.call('DEL', KEYS[1])
return 1`)
)

// RedisStore implements Store on top of a shared redis instance. Records are
// stored as JSON strings; the conditional writes run as server-side scripts
// so the version check and the write are one atomic step.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	logger    log.Logger
}

// enforce compilation error
var _ Store = (*RedisStore)(nil)

// RedisOption configures the redis store.
type RedisOption func(*RedisStore)

// WithKeyPrefix overrides the key prefix under which records are stored.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.keyPrefix = prefix }
}

// WithRedisLogger sets the logger.
func WithRedisLogger(logger log.Logger) RedisOption {
	return func(s *RedisStore) { s.logger = logger }
}

// NewRedisStore creates a session store backed by the given redis client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	redisStore := &RedisStore{
		client:    client,
		keyPrefix: defaultKeyPrefix,
		logger:    log.DefaultLogger,
	}
	for _, opt := range opts {
		opt(redisStore)
	}
	return redisStore
}

// Ping verifies connectivity to redis.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Get returns the record stored for the key.
func (s *RedisStore) Get(ctx context.Context, key string) (*session.Record, error) {
	payload, err := s.client.Get(ctx, s.recordKey(key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, gerrors.ErrRecordNotFound
	case err != nil:
		return nil, fmt.Errorf("reading record for key=%s: %w", key, err)
	}
	return decodeRecord(payload)
}

// CreateIfAbsent atomically stores the record when the key has none.
func (s *RedisStore) CreateIfAbsent(ctx context.Context, record *session.Record) (*session.Record, bool, error) {
	stored := record.Clone()
	stored.Version = 1
	payload, err := json.Marshal(stored)
	if err != nil {
		return nil, false, fmt.Errorf("encoding record for key=%s: %w", record.Key, err)
	}
	created, err := s.client.SetNX(ctx, s.recordKey(record.Key), payload, 0).Result()
	if err != nil {
		return nil, false, fmt.Errorf("creating record for key=%s: %w", record.Key, err)
	}
	if !created {
		return nil, false, nil
	}
	return stored, true, nil
}

// CompareAndSwap replaces the record when the stored version still matches.
func (s *RedisStore) CompareAndSwap(ctx context.Context, record *session.Record, expectedVersion uint64) (*session.Record, error) {
	stored := record.Clone()
	stored.Version = expectedVersion + 1
	payload, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("encoding record for key=%s: %w", record.Key, err)
	}
	result, err := casScript.Run(ctx, s.client, []string{s.recordKey(record.Key)}, expectedVersion, payload).Int()
	if err != nil {
		return nil, fmt.Errorf("swapping record for key=%s: %w", record.Key, err)
	}
	switch result {
	case -1:
		return nil, gerrors.ErrRecordNotFound
	case 0:
		return nil, gerrors.ErrVersionConflict
	}
	return stored, nil
}

// Touch refreshes the last access time of a ready record.
func (s *RedisStore) Touch(ctx context.Context, key string, at time.Time) error {
	timestamp, err := at.MarshalText()
	if err != nil {
		return fmt.Errorf("encoding access time for key=%s: %w", key, err)
	}
	result, err := touchScript.Run(ctx, s.client, []string{s.recordKey(key)}, string(timestamp)).Int()
	if err != nil {
		return fmt.Errorf("touching record for key=%s: %w", key, err)
	}
	if result == -1 {
		return gerrors.ErrRecordNotFound
	}
	return nil
}

// Delete removes the record when the stored version still matches.
func (s *RedisStore) Delete(ctx context.Context, key string, expectedVersion uint64) error {
	result, err := deleteScript.Run(ctx, s.client, []string{s.recordKey(key)}, expectedVersion).Int()
	if err != nil {
		return fmt.Errorf("deleting record for key=%s: %w", key, err)
	}
	switch result {
	case -1:
		return gerrors.ErrRecordNotFound
	case 0:
		return gerrors.ErrVersionConflict
	}
	return nil
}

// Scan enumerates all stored session records.
func (s *RedisStore) Scan(ctx context.Context) ([]*session.Record, error) {
	var (
		records []*session.Record
		cursor  uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.keyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scanning session records: %w", err)
		}
		if len(keys) > 0 {
			values, err := s.client.MGet(ctx, keys...).Result()
			if err != nil {
				return nil, fmt.Errorf("fetching session records: %w", err)
			}
			for i, value := range values {
				payload, ok := value.(string)
				if !ok {
					// key deleted between SCAN and MGET
					continue
				}
				record, err := decodeRecord([]byte(payload))
				if err != nil {
					s.logger.Warnf("skipping corrupt record at %s: %v", keys[i], err)
					continue
				}
				records = append(records, record)
			}
		}
		cursor = next
		if cursor == 0 {
			return records, nil
		}
	}
}

// Close frees the underlying redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) recordKey(key string) string {
	return s.keyPrefix + key
}

func decodeRecord(payload []byte) (*session.Record, error) {
	record := new(session.Record)
	if err := json.Unmarshal(payload, record); err != nil {
		return nil, fmt.Errorf("decoding session record: %w", err)
	}
	return record, nil
}
