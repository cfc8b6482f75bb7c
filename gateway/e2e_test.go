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

package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/tochemey/podsession/controller"
	"github.com/tochemey/podsession/log"
	"github.com/tochemey/podsession/reaper"
	"github.com/tochemey/podsession/session"
	"github.com/tochemey/podsession/testkit"
	"github.com/tochemey/podsession/worker"
)

// TestLifecycle drives the full session lifecycle through the real gateway,
// worker and reaper wired over in-memory store and queue, with pods faked by
// a local backend: miss, fill, proxy, touch, idle eviction and re-provision.
func TestLifecycle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.TODO(), 30*time.Second)
	defer cancel()

	backend := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		_, _ = writer.Write([]byte("session backend"))
	}))
	defer backend.Close()
	backendURL, err := url.Parse(backend.URL)
	require.NoError(t, err)
	backendPort, err := strconv.Atoi(backendURL.Port())
	require.NoError(t, err)

	memStore := testkit.NewMemoryStore()
	memQueue := testkit.NewMemoryQueue()
	client := fake.NewClientset()
	podController := controller.NewPodController(client,
		// pods report the backend's host and port so proxied requests land
		// on the local stub
		controller.WithPort(int32(backendPort)),
		controller.WithPollInterval(10*time.Millisecond),
		controller.WithReadyTimeout(2*time.Second),
		controller.WithLogger(log.DiscardLogger))

	// flip every created pod to running at the backend's address
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
			pods, err := client.CoreV1().Pods("default").List(ctx, metav1.ListOptions{})
			if err != nil {
				continue
			}
			for i := range pods.Items {
				pod := pods.Items[i]
				if pod.Status.Phase == corev1.PodRunning {
					continue
				}
				pod.Status.Phase = corev1.PodRunning
				pod.Status.PodIP = backendURL.Hostname()
				_, _ = client.CoreV1().Pods("default").Update(ctx, &pod, metav1.UpdateOptions{})
			}
		}
	}()

	fulfiller := worker.New(memStore, memQueue, podController,
		worker.WithConcurrency(2),
		worker.WithLogger(log.DiscardLogger))
	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	workerDone := make(chan error, 1)
	go func() { workerDone <- fulfiller.Run(workerCtx) }()

	edge := New(memStore, memQueue,
		WithWaitTimeout(10*time.Second),
		WithPollInterval(20*time.Millisecond),
		WithLogger(log.DiscardLogger))

	// cold start: the miss suspends, the worker fills, the proxy answers
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/", nil)
	request.Header.Set(UserHeader, "alice")
	edge.ServeHTTP(recorder, request)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "session backend", recorder.Body.String())
	assert.EqualValues(t, 1, memQueue.Published())

	// warm hit: served straight from the ready record
	recorder = httptest.NewRecorder()
	request = httptest.NewRequest(http.MethodGet, "/", nil)
	request.Header.Set(UserHeader, "alice")
	edge.ServeHTTP(recorder, request)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.EqualValues(t, 1, memQueue.Published())

	// idle eviction: with a tiny threshold the next scan removes everything
	evictor := reaper.New(memStore, podController,
		reaper.WithIdleThreshold(time.Millisecond),
		reaper.WithLogger(log.DiscardLogger))
	assert.Eventually(t, func() bool {
		evictor.Scan(ctx)
		return memStore.Len() == 0
	}, 5*time.Second, 50*time.Millisecond)
	pods, err := client.CoreV1().Pods("default").List(ctx, metav1.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, pods.Items)

	// the next request re-provisions from scratch
	recorder = httptest.NewRecorder()
	request = httptest.NewRequest(http.MethodGet, "/", nil)
	request.Header.Set(UserHeader, "alice")
	edge.ServeHTTP(recorder, request)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.EqualValues(t, 2, memQueue.Published())

	stopWorker()
	require.NoError(t, <-workerDone)

	record, err := memStore.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, session.StatusReady, record.Status)
}
