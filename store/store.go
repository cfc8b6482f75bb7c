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

// Package store provides the typed accessor over the shared key-value store
// holding one session record per user key. The record is the only piece of
// mutable state shared between the gateway, the fulfillment workers and the
// reaper; it is never locked, all mutation goes through compare-and-set on
// the record version.
package store

import (
	"context"
	"time"

	"github.com/tochemey/podsession/session"
)

// Store captures the behaviour the session lifecycle components need from
// the state store. Writers must follow the read-version, conditional-write
// discipline: a write carries the version read alongside the record and is
// rejected with ErrVersionConflict when the stored version has advanced.
type Store interface {
	// Get returns the record stored for the key, or ErrRecordNotFound.
	Get(ctx context.Context, key string) (*session.Record, error)
	// CreateIfAbsent atomically stores the record when no record exists for
	// its key. It returns the stored snapshot and true on creation, or
	// (nil, false) when another writer won the race. This is the gateway's
	// single-flight gate.
	CreateIfAbsent(ctx context.Context, record *session.Record) (*session.Record, bool, error)
	// CompareAndSwap replaces the stored record when its version still equals
	// expectedVersion, bumping the version by one. It returns the stored
	// snapshot, ErrVersionConflict when the record changed concurrently, or
	// ErrRecordNotFound when it vanished.
	CompareAndSwap(ctx context.Context, record *session.Record, expectedVersion uint64) (*session.Record, error)
	// Touch refreshes the last access time of a ready record, bumping its
	// version so concurrent conditional writes observe the access. Touching
	// a non-ready record is a no-op; a missing record yields
	// ErrRecordNotFound.
	Touch(ctx context.Context, key string, at time.Time) error
	// Delete removes the record when its version still equals
	// expectedVersion, returning the key to the implicit absent state.
	Delete(ctx context.Context, key string, expectedVersion uint64) error
	// Scan enumerates all stored session records.
	Scan(ctx context.Context) ([]*session.Record, error)
	// Close frees the underlying client resources.
	Close() error
}
