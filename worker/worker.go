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

// Package worker implements the fulfillment side of the session fabric. A
// worker consumes fill requests from the durable queue, provisions the
// backing pod and promotes the session record from pending to ready. The
// queue delivers at least once, so every step here must tolerate replays.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flowchartsman/retry"
	"golang.org/x/sync/errgroup"

	"github.com/tochemey/podsession/controller"
	gerrors "github.com/tochemey/podsession/errors"
	"github.com/tochemey/podsession/log"
	"github.com/tochemey/podsession/queue"
	"github.com/tochemey/podsession/session"
	"github.com/tochemey/podsession/store"
)

const (
	defaultConcurrency = 4

	ensureMaxRetries   = 3
	ensureInitialDelay = 200 * time.Millisecond
	ensureMaxDelay     = 2 * time.Second
)

// Worker turns fill requests into ready sessions.
type Worker struct {
	store       store.Store
	queue       queue.Queue
	controller  controller.Controller
	logger      log.Logger
	concurrency int
}

// Option configures the worker.
type Option func(*Worker)

// WithConcurrency sets how many fill requests are processed at once.
func WithConcurrency(concurrency int) Option {
	return func(w *Worker) { w.concurrency = concurrency }
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

// New creates a fulfillment worker.
func New(sessionStore store.Store, fillQueue queue.Queue, podController controller.Controller, opts ...Option) *Worker {
	worker := &Worker{
		store:       sessionStore,
		queue:       fillQueue,
		controller:  podController,
		logger:      log.DefaultLogger,
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(worker)
	}
	return worker
}

// Run consumes fill requests until the context is canceled. Every delivery is
// acknowledged whether fulfillment succeeded or not: a failed fill deletes
// the pending record so the next gateway request re-triggers the miss path,
// which is safer than redelivering a request that keeps failing.
func (w *Worker) Run(ctx context.Context) error {
	deliveries, err := w.queue.Consume(ctx)
	if err != nil {
		return fmt.Errorf("starting fill request consumer: %w", err)
	}
	w.logger.Infof("fulfillment worker running with concurrency=%d", w.concurrency)

	eg, ctx := errgroup.WithContext(ctx)
	for range w.concurrency {
		eg.Go(func() error {
			for {
				select {
				case delivery, ok := <-deliveries:
					if !ok {
						return nil
					}
					w.handle(ctx, delivery)
				case <-ctx.Done():
					return nil
				}
			}
		})
	}
	return eg.Wait()
}

func (w *Worker) handle(ctx context.Context, delivery *queue.Delivery) {
	if err := w.process(ctx, delivery.Request); err != nil {
		w.logger.Errorf("fulfilling key=%s: %v", delivery.Request.Key, err)
	}
	if err := delivery.Ack(); err != nil {
		w.logger.Warnf("acknowledging fill request for key=%s: %v", delivery.Request.Key, err)
	}
}

// process fulfills one fill request. Replays are harmless: a record already
// ready is skipped, and pod creation checks for an existing pod first.
func (w *Worker) process(ctx context.Context, request *queue.FillRequest) error {
	safeKey, err := session.SafeKey(request.Key)
	if err != nil {
		// unroutable key, drop the request
		w.logger.Warnf("dropping fill request with invalid key=%q", request.Key)
		return nil
	}

	record, err := w.store.Get(ctx, request.Key)
	switch {
	case errors.Is(err, gerrors.ErrRecordNotFound):
		// the claim vanished, nothing left to fulfill
		return nil
	case err != nil:
		return fmt.Errorf("reading record: %w", err)
	case record.Status != session.StatusPending:
		// replayed delivery, the session already moved on
		return nil
	}

	var (
		ref     controller.Ref
		created bool
	)
	retrier := retry.NewRetrier(ensureMaxRetries, ensureInitialDelay, ensureMaxDelay)
	if err := retrier.RunContext(ctx, func(ctx context.Context) error {
		ref, created, err = w.controller.EnsurePod(ctx, request.Key, safeKey)
		return err
	}); err != nil {
		w.abandon(ctx, record)
		return fmt.Errorf("ensuring pod: %w", err)
	}
	if created {
		w.logger.Infof("provisioning pod %s for key=%s", ref, request.Key)
	}

	endpoint, err := w.controller.WaitReady(ctx, ref)
	if err != nil {
		// the pod never became routable, tear it down with the record so the
		// next request starts from a clean miss
		if deleteErr := w.controller.DeletePod(context.WithoutCancel(ctx), ref); deleteErr != nil {
			w.logger.Warnf("cleaning up pod %s for key=%s: %v", ref, request.Key, deleteErr)
		}
		w.abandon(ctx, record)
		return fmt.Errorf("waiting for pod %s: %w", ref, err)
	}

	ready := record.Clone()
	ready.Status = session.StatusReady
	ready.ResourceName = ref.Name
	ready.ResourceNamespace = ref.Namespace
	ready.Endpoint = endpoint
	ready.LastAccessAt = time.Now()
	if _, err := w.store.CompareAndSwap(ctx, ready, record.Version); err != nil {
		// someone else rewrote or removed the record while the pod came up;
		// the pod is now an orphan and must not outlive its record
		if deleteErr := w.controller.DeletePod(context.WithoutCancel(ctx), ref); deleteErr != nil {
			w.logger.Warnf("cleaning up orphan pod %s for key=%s: %v", ref, request.Key, deleteErr)
		}
		return fmt.Errorf("promoting record to ready: %w", err)
	}
	w.logger.Infof("session ready for key=%s at endpoint=%s", request.Key, endpoint)
	return nil
}

// abandon removes the pending claim after a failed fill. A version conflict
// means the record moved on without us, which is fine.
func (w *Worker) abandon(ctx context.Context, record *session.Record) {
	err := w.store.Delete(context.WithoutCancel(ctx), record.Key, record.Version)
	if err != nil && !errors.Is(err, gerrors.ErrRecordNotFound) && !errors.Is(err, gerrors.ErrVersionConflict) {
		w.logger.Warnf("abandoning claim for key=%s: %v", record.Key, err)
	}
}
