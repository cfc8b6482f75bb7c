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

	"go.uber.org/atomic"

	gerrors "github.com/tochemey/podsession/errors"
	"github.com/tochemey/podsession/queue"
)

// MemoryQueue is an in-memory Queue. Nak'd deliveries are requeued so
// redelivery paths can be exercised; acknowledged messages are dropped.
type MemoryQueue struct {
	mutex     sync.Mutex
	pending   []*queue.FillRequest
	notify    chan struct{}
	closed    *atomic.Bool
	published *atomic.Int64
}

// enforce compilation error
var _ queue.Queue = (*MemoryQueue)(nil)

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		notify:    make(chan struct{}, 1),
		closed:    atomic.NewBool(false),
		published: atomic.NewInt64(0),
	}
}

// Publish enqueues one fill request.
func (q *MemoryQueue) Publish(_ context.Context, request *queue.FillRequest) error {
	if q.closed.Load() {
		return gerrors.ErrQueueClosed
	}
	q.mutex.Lock()
	q.pending = append(q.pending, request)
	q.mutex.Unlock()
	q.published.Inc()
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Consume returns a channel of deliveries fed from the pending list.
func (q *MemoryQueue) Consume(ctx context.Context) (<-chan *queue.Delivery, error) {
	if q.closed.Load() {
		return nil, gerrors.ErrQueueClosed
	}
	deliveries := make(chan *queue.Delivery)
	go func() {
		defer close(deliveries)
		for {
			request := q.dequeue()
			if request == nil {
				select {
				case <-q.notify:
					continue
				case <-ctx.Done():
					return
				}
			}
			delivery := queue.NewDelivery(request,
				func() error { return nil },
				func() error { return q.Publish(context.WithoutCancel(ctx), request) })
			select {
			case deliveries <- delivery:
			case <-ctx.Done():
				return
			}
		}
	}()
	return deliveries, nil
}

// Close implements Queue.
func (q *MemoryQueue) Close() error {
	q.closed.Store(true)
	return nil
}

// Published returns how many messages were published, redeliveries included.
func (q *MemoryQueue) Published() int64 {
	return q.published.Load()
}

// Pending returns how many messages await delivery.
func (q *MemoryQueue) Pending() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.pending)
}

func (q *MemoryQueue) dequeue() *queue.FillRequest {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	request := q.pending[0]
	q.pending = q.pending[1:]
	return request
}
