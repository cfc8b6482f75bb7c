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

// Package queue provides the typed producer/consumer over the durable queue
// carrying fill requests. Delivery is at-least-once: consumers must tolerate
// redelivery and acknowledge a message only once the resulting state write
// has succeeded.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// FillRequest asks a fulfillment worker to make the key's session routable.
type FillRequest struct {
	// ID identifies this message across redeliveries.
	ID string `json:"id"`
	// Key is the raw user key to provision for.
	Key string `json:"key"`
	// EnqueuedAt is the publish time.
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewFillRequest creates a fill request for the given key.
func NewFillRequest(key string) *FillRequest {
	return &FillRequest{
		ID:         uuid.NewString(),
		Key:        key,
		EnqueuedAt: time.Now(),
	}
}

// Delivery is one received fill request together with its acknowledgment
// handles. Ack removes the message from the queue; Nak asks for redelivery.
type Delivery struct {
	Request *FillRequest
	ack     func() error
	nak     func() error
}

// NewDelivery wraps a fill request with its acknowledgment handles.
func NewDelivery(request *FillRequest, ack, nak func() error) *Delivery {
	return &Delivery{Request: request, ack: ack, nak: nak}
}

// Ack acknowledges the message, removing it from the queue.
func (d *Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

// Nak signals the message could not be processed and should be redelivered.
func (d *Delivery) Nak() error {
	if d.nak == nil {
		return nil
	}
	return d.nak()
}

// Queue captures the behaviour of the durable fulfillment queue.
type Queue interface {
	// Publish enqueues one fill request.
	Publish(ctx context.Context, request *FillRequest) error
	// Consume returns a channel of deliveries. Consumption stops when the
	// given context is canceled; messages that were delivered but neither
	// acknowledged nor rejected are redelivered after the ack deadline.
	Consume(ctx context.Context) (<-chan *Delivery, error)
	// Close releases the underlying connection.
	Close() error
}
