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

package testkit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	gerrors "github.com/tochemey/podsession/errors"
	"github.com/tochemey/podsession/queue"
	"github.com/tochemey/podsession/session"
)

func TestMemoryStore(t *testing.T) {
	t.Run("With create and get", func(t *testing.T) {
		ctx := context.TODO()
		memStore := NewMemoryStore()

		record := session.NewPending("alice", time.Now())
		stored, created, err := memStore.CreateIfAbsent(ctx, record)
		require.NoError(t, err)
		require.True(t, created)
		assert.EqualValues(t, 1, stored.Version)

		fetched, err := memStore.Get(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, session.StatusPending, fetched.Status)
		assert.EqualValues(t, 1, fetched.Version)
	})
	t.Run("With single flight creation", func(t *testing.T) {
		ctx := context.TODO()
		memStore := NewMemoryStore()

		var wg sync.WaitGroup
		winners := atomic.NewInt32(0)
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, created, err := memStore.CreateIfAbsent(ctx, session.NewPending("bob", time.Now()))
				assert.NoError(t, err)
				if created {
					winners.Inc()
				}
			}()
		}
		wg.Wait()
		assert.EqualValues(t, 1, winners.Load())
	})
	t.Run("With version conflict on stale swap", func(t *testing.T) {
		ctx := context.TODO()
		memStore := NewMemoryStore()

		record := session.NewPending("carol", time.Now())
		stored, _, err := memStore.CreateIfAbsent(ctx, record)
		require.NoError(t, err)

		ready := stored.Clone()
		ready.Status = session.StatusReady
		ready.Endpoint = "10.0.0.1:80"
		swapped, err := memStore.CompareAndSwap(ctx, ready, stored.Version)
		require.NoError(t, err)
		assert.EqualValues(t, 2, swapped.Version)

		// a second swap with the stale version must fail
		_, err = memStore.CompareAndSwap(ctx, ready, stored.Version)
		assert.ErrorIs(t, err, gerrors.ErrVersionConflict)
	})
	t.Run("With touch bumping version", func(t *testing.T) {
		ctx := context.TODO()
		memStore := NewMemoryStore()

		record := session.NewPending("dave", time.Now())
		stored, _, err := memStore.CreateIfAbsent(ctx, record)
		require.NoError(t, err)

		// touching a pending record is a no-op
		require.NoError(t, memStore.Touch(ctx, "dave", time.Now()))
		fetched, err := memStore.Get(ctx, "dave")
		require.NoError(t, err)
		assert.EqualValues(t, 1, fetched.Version)

		ready := stored.Clone()
		ready.Status = session.StatusReady
		ready.Endpoint = "10.0.0.1:80"
		swapped, err := memStore.CompareAndSwap(ctx, ready, stored.Version)
		require.NoError(t, err)

		accessTime := time.Now().Add(time.Minute)
		require.NoError(t, memStore.Touch(ctx, "dave", accessTime))
		fetched, err = memStore.Get(ctx, "dave")
		require.NoError(t, err)
		assert.Equal(t, swapped.Version+1, fetched.Version)
		assert.True(t, fetched.LastAccessAt.Equal(accessTime))
	})
	t.Run("With delete guarded by version", func(t *testing.T) {
		ctx := context.TODO()
		memStore := NewMemoryStore()

		stored, _, err := memStore.CreateIfAbsent(ctx, session.NewPending("erin", time.Now()))
		require.NoError(t, err)

		assert.ErrorIs(t, memStore.Delete(ctx, "erin", stored.Version+1), gerrors.ErrVersionConflict)
		require.NoError(t, memStore.Delete(ctx, "erin", stored.Version))
		_, err = memStore.Get(ctx, "erin")
		assert.ErrorIs(t, err, gerrors.ErrRecordNotFound)
	})
	t.Run("With scan", func(t *testing.T) {
		ctx := context.TODO()
		memStore := NewMemoryStore()
		for _, key := range []string{"a", "b", "c"} {
			_, _, err := memStore.CreateIfAbsent(ctx, session.NewPending(key, time.Now()))
			require.NoError(t, err)
		}
		records, err := memStore.Scan(ctx)
		require.NoError(t, err)
		assert.Len(t, records, 3)
	})
}

func TestMemoryQueue(t *testing.T) {
	t.Run("With publish and consume", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.TODO())
		defer cancel()
		memQueue := NewMemoryQueue()

		request := queue.NewFillRequest("alice")
		require.NoError(t, memQueue.Publish(ctx, request))

		deliveries, err := memQueue.Consume(ctx)
		require.NoError(t, err)

		delivery := <-deliveries
		require.NotNil(t, delivery)
		assert.Equal(t, request.ID, delivery.Request.ID)
		require.NoError(t, delivery.Ack())
		assert.Zero(t, memQueue.Pending())
	})
	t.Run("With nak requeueing", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.TODO())
		defer cancel()
		memQueue := NewMemoryQueue()

		request := queue.NewFillRequest("bob")
		require.NoError(t, memQueue.Publish(ctx, request))

		deliveries, err := memQueue.Consume(ctx)
		require.NoError(t, err)

		first := <-deliveries
		require.NoError(t, first.Nak())

		second := <-deliveries
		assert.Equal(t, request.ID, second.Request.ID)
		require.NoError(t, second.Ack())
	})
	t.Run("With closed queue", func(t *testing.T) {
		ctx := context.TODO()
		memQueue := NewMemoryQueue()
		require.NoError(t, memQueue.Close())
		assert.ErrorIs(t, memQueue.Publish(ctx, queue.NewFillRequest("carol")), gerrors.ErrQueueClosed)
	})
}
