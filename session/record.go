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

// Package session defines the session record and its lifecycle states.
//
// A record moves through a small state machine that every component observes
// through the state store:
//
//	none -> pending -> ready <-> ready (access refresh) -> terminating -> none
//
// with pending -> none on a failed fill. Terminating is a one-way gate: once
// set, the gateway treats the key as absent and only the reaper writes to the
// record again.
package session

import (
	"time"
)

// Status represents the lifecycle state of a session. The absence of a record
// is the implicit fourth state.
type Status string

const (
	// StatusPending indicates a fill request is in flight and no resource is
	// routable yet.
	StatusPending Status = "pending"
	// StatusReady indicates the backing resource is running and reachable at
	// the record's endpoint.
	StatusReady Status = "ready"
	// StatusTerminating indicates the reaper claimed the session for
	// teardown. The gateway treats such a record as absent.
	StatusTerminating Status = "terminating"
)

// Record is the source of truth for one user key. Every write carries the
// version that was read alongside it; the store rejects the write when the
// stored version has advanced.
type Record struct {
	// Key is the stable user identifier. Immutable once set.
	Key string `json:"key"`
	// Status is the current lifecycle state.
	Status Status `json:"status"`
	// ResourceName is the name of the backing pod. Set when status leaves pending.
	ResourceName string `json:"resource_name,omitempty"`
	// ResourceNamespace is the namespace of the backing pod.
	ResourceNamespace string `json:"resource_namespace,omitempty"`
	// Endpoint is the host:port the pod serves on. Non-empty iff status is ready.
	Endpoint string `json:"endpoint,omitempty"`
	// CreatedAt is the time of the first pending transition.
	CreatedAt time.Time `json:"created_at"`
	// LastAccessAt is the time of the most recent successful hit. Refreshed
	// only while status is ready.
	LastAccessAt time.Time `json:"last_access_at"`
	// Version orders all writes to this record.
	Version uint64 `json:"version"`
}

// NewPending returns the record the gateway creates on a cache miss.
func NewPending(key string, now time.Time) *Record {
	return &Record{
		Key:       key,
		Status:    StatusPending,
		CreatedAt: now,
	}
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}

// Routable reports whether the gateway may proxy traffic to this record.
func (r *Record) Routable() bool {
	return r != nil && r.Status == StatusReady && r.Endpoint != ""
}

// IdleFor returns how long the session has been idle as of now.
// It is only meaningful for ready records.
func (r *Record) IdleFor(now time.Time) time.Duration {
	return now.Sub(r.LastAccessAt)
}
