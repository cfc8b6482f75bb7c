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

// Package testkit provides in-memory doubles of the store and the queue for
// tests. They honor the same concurrency contracts as the production
// implementations so lifecycle races can be exercised without external
// services.
package testkit

import (
	"context"
	"sync"
	"time"

	gerrors "github.com/tochemey/podsession/errors"
	"github.com/tochemey/podsession/session"
	"github.com/tochemey/podsession/store"
)

// MemoryStore is an in-memory Store with the same conditional-write semantics
// as the redis implementation. It is safe for concurrent use.
type MemoryStore struct {
	mutex   sync.Mutex
	records map[string]*session.Record
}

// enforce compilation error
var _ store.Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*session.Record)}
}

// Get returns the record stored for the key.
func (s *MemoryStore) Get(_ context.Context, key string) (*session.Record, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	record, ok := s.records[key]
	if !ok {
		return nil, gerrors.ErrRecordNotFound
	}
	return record.Clone(), nil
}

// CreateIfAbsent atomically stores the record when the key has none.
func (s *MemoryStore) CreateIfAbsent(_ context.Context, record *session.Record) (*session.Record, bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.records[record.Key]; ok {
		return nil, false, nil
	}
	stored := record.Clone()
	stored.Version = 1
	s.records[record.Key] = stored
	return stored.Clone(), true, nil
}

// CompareAndSwap replaces the record when the stored version still matches.
func (s *MemoryStore) CompareAndSwap(_ context.Context, record *session.Record, expectedVersion uint64) (*session.Record, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	current, ok := s.records[record.Key]
	if !ok {
		return nil, gerrors.ErrRecordNotFound
	}
	if current.Version != expectedVersion {
		return nil, gerrors.ErrVersionConflict
	}
	stored := record.Clone()
	stored.Version = expectedVersion + 1
	s.records[record.Key] = stored
	return stored.Clone(), nil
}

// Touch refreshes the last access time of a ready record.
func (s *MemoryStore) Touch(_ context.Context, key string, at time.Time) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	record, ok := s.records[key]
	if !ok {
		return gerrors.ErrRecordNotFound
	}
	if record.Status != session.StatusReady {
		return nil
	}
	record.LastAccessAt = at
	record.Version++
	return nil
}

// Delete removes the record when the stored version still matches.
func (s *MemoryStore) Delete(_ context.Context, key string, expectedVersion uint64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	record, ok := s.records[key]
	if !ok {
		return gerrors.ErrRecordNotFound
	}
	if record.Version != expectedVersion {
		return gerrors.ErrVersionConflict
	}
	delete(s.records, key)
	return nil
}

// Scan enumerates all stored session records.
func (s *MemoryStore) Scan(_ context.Context) ([]*session.Record, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	records := make([]*session.Record, 0, len(s.records))
	for _, record := range s.records {
		records = append(records, record.Clone())
	}
	return records, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.records)
}
