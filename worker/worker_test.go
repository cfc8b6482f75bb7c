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

package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/tochemey/podsession/controller"
	gerrors "github.com/tochemey/podsession/errors"
	"github.com/tochemey/podsession/log"
	"github.com/tochemey/podsession/queue"
	"github.com/tochemey/podsession/session"
	"github.com/tochemey/podsession/testkit"
)

func newTestController(client kubernetes.Interface, readyTimeout time.Duration) *controller.PodController {
	return controller.NewPodController(client,
		controller.WithPollInterval(10*time.Millisecond),
		controller.WithReadyTimeout(readyTimeout),
		controller.WithLogger(log.DiscardLogger))
}

// markPodRunning flips the named pod to running with an IP once it exists.
func markPodRunning(ctx context.Context, client kubernetes.Interface, name, ip string) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Millisecond):
		}
		pod, err := client.CoreV1().Pods("default").Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			continue
		}
		pod.Status.Phase = corev1.PodRunning
		pod.Status.PodIP = ip
		if _, err := client.CoreV1().Pods("default").Update(ctx, pod, metav1.UpdateOptions{}); err == nil {
			return
		}
	}
}

func TestProcess(t *testing.T) {
	t.Run("With happy path", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.TODO(), 5*time.Second)
		defer cancel()

		memStore := testkit.NewMemoryStore()
		client := fake.NewClientset()
		fulfiller := New(memStore, testkit.NewMemoryQueue(), newTestController(client, time.Second),
			WithLogger(log.DiscardLogger))

		stored, _, err := memStore.CreateIfAbsent(ctx, session.NewPending("alice", time.Now()))
		require.NoError(t, err)

		go markPodRunning(ctx, client, "session-alice", "10.1.2.3")

		require.NoError(t, fulfiller.process(ctx, queue.NewFillRequest("alice")))

		record, err := memStore.Get(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, session.StatusReady, record.Status)
		assert.Equal(t, "10.1.2.3:80", record.Endpoint)
		assert.Equal(t, "session-alice", record.ResourceName)
		assert.Equal(t, stored.Version+1, record.Version)
	})
	t.Run("With replayed delivery skipped", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.TODO(), 5*time.Second)
		defer cancel()

		memStore := testkit.NewMemoryStore()
		client := fake.NewClientset()
		fulfiller := New(memStore, testkit.NewMemoryQueue(), newTestController(client, time.Second),
			WithLogger(log.DiscardLogger))

		_, _, err := memStore.CreateIfAbsent(ctx, session.NewPending("bob", time.Now()))
		require.NoError(t, err)
		go markPodRunning(ctx, client, "session-bob", "10.1.2.4")

		request := queue.NewFillRequest("bob")
		require.NoError(t, fulfiller.process(ctx, request))
		ready, err := memStore.Get(ctx, "bob")
		require.NoError(t, err)

		// the queue redelivers, the record must not move
		require.NoError(t, fulfiller.process(ctx, request))
		replayed, err := memStore.Get(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, ready.Version, replayed.Version)
		assert.Equal(t, ready.Endpoint, replayed.Endpoint)
	})
	t.Run("With invalid key dropped", func(t *testing.T) {
		ctx := context.TODO()
		memStore := testkit.NewMemoryStore()
		fulfiller := New(memStore, testkit.NewMemoryQueue(), newTestController(fake.NewClientset(), time.Second),
			WithLogger(log.DiscardLogger))

		require.NoError(t, fulfiller.process(ctx, queue.NewFillRequest("!!!")))
		assert.Zero(t, memStore.Len())
	})
	t.Run("With vanished record skipped", func(t *testing.T) {
		ctx := context.TODO()
		client := fake.NewClientset()
		fulfiller := New(testkit.NewMemoryStore(), testkit.NewMemoryQueue(), newTestController(client, time.Second),
			WithLogger(log.DiscardLogger))

		require.NoError(t, fulfiller.process(ctx, queue.NewFillRequest("carol")))
		pods, err := client.CoreV1().Pods("default").List(ctx, metav1.ListOptions{})
		require.NoError(t, err)
		assert.Empty(t, pods.Items)
	})
	t.Run("With pod never ready", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.TODO(), 5*time.Second)
		defer cancel()

		memStore := testkit.NewMemoryStore()
		client := fake.NewClientset()
		fulfiller := New(memStore, testkit.NewMemoryQueue(), newTestController(client, 100*time.Millisecond),
			WithLogger(log.DiscardLogger))

		_, _, err := memStore.CreateIfAbsent(ctx, session.NewPending("dave", time.Now()))
		require.NoError(t, err)

		err = fulfiller.process(ctx, queue.NewFillRequest("dave"))
		require.Error(t, err)
		assert.ErrorIs(t, err, gerrors.ErrResourceNotReady)

		// both the pod and the claim are gone so the next miss starts clean
		pods, err := client.CoreV1().Pods("default").List(ctx, metav1.ListOptions{})
		require.NoError(t, err)
		assert.Empty(t, pods.Items)
		assert.Zero(t, memStore.Len())
	})
	t.Run("With conflicting write while pod came up", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.TODO(), 5*time.Second)
		defer cancel()

		memStore := testkit.NewMemoryStore()
		client := fake.NewClientset()
		fulfiller := New(memStore, testkit.NewMemoryQueue(), newTestController(client, time.Second),
			WithLogger(log.DiscardLogger))

		stored, _, err := memStore.CreateIfAbsent(ctx, session.NewPending("erin", time.Now()))
		require.NoError(t, err)

		// once the worker has created the pod, rewrite the record behind its
		// back and only then let the pod go ready, so the worker's promotion
		// is guaranteed to hit a version conflict
		go func() {
			for {
				if _, err := client.CoreV1().Pods("default").Get(ctx, "session-erin", metav1.GetOptions{}); err == nil {
					break
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(10 * time.Millisecond):
				}
			}
			marked := stored.Clone()
			marked.Status = session.StatusTerminating
			if _, err := memStore.CompareAndSwap(ctx, marked, stored.Version); err != nil {
				return
			}
			markPodRunning(ctx, client, "session-erin", "10.1.2.5")
		}()

		err = fulfiller.process(ctx, queue.NewFillRequest("erin"))
		require.Error(t, err)
		assert.ErrorIs(t, err, gerrors.ErrVersionConflict)

		// the orphan pod must not outlive its record
		pods, err := client.CoreV1().Pods("default").List(ctx, metav1.ListOptions{})
		require.NoError(t, err)
		assert.Empty(t, pods.Items)
	})
}

func TestRun(t *testing.T) {
	t.Run("With fills consumed end to end", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.TODO(), 5*time.Second)
		defer cancel()

		memStore := testkit.NewMemoryStore()
		memQueue := testkit.NewMemoryQueue()
		client := fake.NewClientset()
		fulfiller := New(memStore, memQueue, newTestController(client, time.Second),
			WithConcurrency(2),
			WithLogger(log.DiscardLogger))

		_, _, err := memStore.CreateIfAbsent(ctx, session.NewPending("frank", time.Now()))
		require.NoError(t, err)
		require.NoError(t, memQueue.Publish(ctx, queue.NewFillRequest("frank")))
		go markPodRunning(ctx, client, "session-frank", "10.1.2.6")

		runCtx, stop := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- fulfiller.Run(runCtx) }()

		assert.Eventually(t, func() bool {
			record, err := memStore.Get(ctx, "frank")
			return err == nil && record.Routable()
		}, 3*time.Second, 20*time.Millisecond)

		stop()
		require.NoError(t, <-done)
	})
}
