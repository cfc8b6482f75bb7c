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

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/flowchartsman/retry"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/atomic"

	gerrors "github.com/tochemey/podsession/errors"
	"github.com/tochemey/podsession/log"
)

const (
	defaultStreamName   = "SESSION_FILL"
	defaultSubject      = "session.fill"
	defaultDurableName  = "fulfillment-workers"
	defaultAckWait      = 2 * time.Minute
	defaultMaxDeliver   = 5
	connectMaxRetries   = 5
	connectInitialDelay = 100 * time.Millisecond
	connectMaxDelay     = 2 * time.Second
)

// JetStreamQueue implements Queue on top of a NATS JetStream work queue
// stream. Messages are file-backed, delivered at least once and removed on
// explicit acknowledgment.
type JetStreamQueue struct {
	conn       *nats.Conn
	jetstream  jetstream.JetStream
	stream     jetstream.Stream
	streamName string
	subject    string
	durable    string
	ackWait    time.Duration
	maxDeliver int
	logger     log.Logger
	closed     *atomic.Bool
}

// enforce compilation error
var _ Queue = (*JetStreamQueue)(nil)

// JetStreamOption configures the jetstream queue.
type JetStreamOption func(*JetStreamQueue)

// WithStreamName overrides the stream name.
func WithStreamName(name string) JetStreamOption {
	return func(q *JetStreamQueue) { q.streamName = name }
}

// WithSubject overrides the subject fill requests are published on.
func WithSubject(subject string) JetStreamOption {
	return func(q *JetStreamQueue) { q.subject = subject }
}

// WithDurableName overrides the durable consumer name shared by the workers.
func WithDurableName(name string) JetStreamOption {
	return func(q *JetStreamQueue) { q.durable = name }
}

// WithAckWait overrides how long the server waits for an acknowledgment
// before redelivering a message.
func WithAckWait(ackWait time.Duration) JetStreamOption {
	return func(q *JetStreamQueue) { q.ackWait = ackWait }
}

// WithMaxDeliver bounds redeliveries of a single message.
func WithMaxDeliver(maxDeliver int) JetStreamOption {
	return func(q *JetStreamQueue) { q.maxDeliver = maxDeliver }
}

// WithQueueLogger sets the logger.
func WithQueueLogger(logger log.Logger) JetStreamOption {
	return func(q *JetStreamQueue) { q.logger = logger }
}

// NewJetStreamQueue connects to the given NATS server and ensures the
// fulfillment stream exists. The connection is retried with exponential
// backoff before giving up.
func NewJetStreamQueue(ctx context.Context, serverURL string, opts ...JetStreamOption) (*JetStreamQueue, error) {
	jetStreamQueue := &JetStreamQueue{
		streamName: defaultStreamName,
		subject:    defaultSubject,
		durable:    defaultDurableName,
		ackWait:    defaultAckWait,
		maxDeliver: defaultMaxDeliver,
		logger:     log.DefaultLogger,
		closed:     atomic.NewBool(false),
	}
	for _, opt := range opts {
		opt(jetStreamQueue)
	}

	var conn *nats.Conn
	retrier := retry.NewRetrier(connectMaxRetries, connectInitialDelay, connectMaxDelay)
	err := retrier.RunContext(ctx, func(_ context.Context) error {
		var err error
		conn, err = nats.Connect(serverURL,
			nats.Name("podsession"),
			nats.ReconnectWait(2*time.Second),
			nats.MaxReconnects(-1))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to nats server=%s: %w", serverURL, err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating jetstream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      jetStreamQueue.streamName,
		Subjects:  []string{jetStreamQueue.subject},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ensuring stream=%s: %w", jetStreamQueue.streamName, err)
	}

	jetStreamQueue.conn = conn
	jetStreamQueue.jetstream = js
	jetStreamQueue.stream = stream
	return jetStreamQueue, nil
}

// Publish enqueues one fill request.
func (q *JetStreamQueue) Publish(ctx context.Context, request *FillRequest) error {
	if q.closed.Load() {
		return gerrors.ErrQueueClosed
	}
	payload, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("encoding fill request for key=%s: %w", request.Key, err)
	}
	if _, err := q.jetstream.Publish(ctx, q.subject, payload, jetstream.WithMsgID(request.ID)); err != nil {
		return fmt.Errorf("publishing fill request for key=%s: %w", request.Key, err)
	}
	return nil
}

// Consume returns a channel of fill request deliveries backed by the durable
// consumer. Malformed messages are terminated so they never redeliver.
func (q *JetStreamQueue) Consume(ctx context.Context) (<-chan *Delivery, error) {
	if q.closed.Load() {
		return nil, gerrors.ErrQueueClosed
	}
	consumer, err := q.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       q.durable,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       q.ackWait,
		MaxDeliver:    q.maxDeliver,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("ensuring consumer=%s: %w", q.durable, err)
	}

	deliveries := make(chan *Delivery)
	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		request := new(FillRequest)
		if err := json.Unmarshal(msg.Data(), request); err != nil {
			q.logger.Warnf("dropping malformed fill request: %v", err)
			_ = msg.Term()
			return
		}
		delivery := NewDelivery(request, msg.Ack, msg.Nak)
		select {
		case deliveries <- delivery:
		case <-ctx.Done():
			_ = msg.Nak()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("starting consumer=%s: %w", q.durable, err)
	}

	go func() {
		<-ctx.Done()
		consumeCtx.Stop()
	}()
	return deliveries, nil
}

// Close releases the underlying NATS connection.
func (q *JetStreamQueue) Close() error {
	if !q.closed.CompareAndSwap(false, true) {
		return nil
	}
	q.conn.Close()
	return nil
}
