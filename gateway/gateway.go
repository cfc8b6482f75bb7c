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

// Package gateway implements the request-routing edge. Each request is keyed
// by the X-User-ID header; requests whose session is not yet routable are
// suspended while a fill request is queued, then proxied once the backing pod
// reports an endpoint.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/atomic"

	gerrors "github.com/tochemey/podsession/errors"
	"github.com/tochemey/podsession/internal/ticker"
	"github.com/tochemey/podsession/log"
	"github.com/tochemey/podsession/queue"
	"github.com/tochemey/podsession/session"
	"github.com/tochemey/podsession/store"
)

const (
	// UserHeader carries the session key on every request.
	UserHeader = "X-User-ID"

	defaultWaitTimeout  = 90 * time.Second
	defaultPollInterval = 500 * time.Millisecond

	// maxCreateAttempts bounds how often one suspended request restarts the
	// miss path after its record vanished mid-wait.
	maxCreateAttempts = 2
)

// hop-by-hop headers are stripped before proxying, per RFC 9110 section 7.6.1
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Gateway is the HTTP edge of the session fabric.
type Gateway struct {
	store        store.Store
	queue        queue.Queue
	logger       log.Logger
	waitTimeout  time.Duration
	pollInterval time.Duration
	httpClient   *http.Client
	mutex        sync.Mutex
	server       *http.Server
	started      *atomic.Bool
}

// Option configures the gateway.
type Option func(*Gateway)

// WithWaitTimeout bounds how long a request is suspended waiting for its
// session to become routable.
func WithWaitTimeout(timeout time.Duration) Option {
	return func(g *Gateway) { g.waitTimeout = timeout }
}

// WithPollInterval sets the record poll cadence while waiting.
func WithPollInterval(interval time.Duration) Option {
	return func(g *Gateway) { g.pollInterval = interval }
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

// WithHTTPClient overrides the client used to reach session pods.
func WithHTTPClient(client *http.Client) Option {
	return func(g *Gateway) { g.httpClient = client }
}

// New creates a gateway routing through the given store and queue.
func New(sessionStore store.Store, fillQueue queue.Queue, opts ...Option) *Gateway {
	gateway := &Gateway{
		store:        sessionStore,
		queue:        fillQueue,
		logger:       log.DefaultLogger,
		waitTimeout:  defaultWaitTimeout,
		pollInterval: defaultPollInterval,
		httpClient:   &http.Client{},
		started:      atomic.NewBool(false),
	}
	for _, opt := range opts {
		opt(gateway)
	}
	return gateway
}

// Start serves HTTP on the given address until Stop is called.
func (g *Gateway) Start(addr string) error {
	if !g.started.CompareAndSwap(false, true) {
		return nil
	}
	g.mutex.Lock()
	g.server = &http.Server{
		Addr:     addr,
		Handler:  g,
		ErrorLog: g.logger.StdLogger(),
	}
	server := g.server
	g.mutex.Unlock()
	g.logger.Infof("gateway listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving on %s: %w", addr, err)
	}
	return nil
}

// Stop drains in-flight requests and shuts the server down.
func (g *Gateway) Stop(ctx context.Context) error {
	if !g.started.CompareAndSwap(true, false) {
		return nil
	}
	g.mutex.Lock()
	server := g.server
	g.mutex.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

// ServeHTTP implements http.Handler.
func (g *Gateway) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if request.URL.Path == "/healthz" {
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ok"))
		return
	}

	key := request.Header.Get(UserHeader)
	if key == "" {
		http.Error(writer, fmt.Sprintf("missing %s header", UserHeader), http.StatusBadRequest)
		return
	}
	if _, err := session.SafeKey(key); err != nil {
		http.Error(writer, fmt.Sprintf("invalid %s header", UserHeader), http.StatusBadRequest)
		return
	}

	endpoint, err := g.resolve(request.Context(), key)
	switch {
	case errors.Is(err, gerrors.ErrProvisioningTimeout):
		http.Error(writer, "session not ready in time", http.StatusGatewayTimeout)
		return
	case errors.Is(err, context.Canceled):
		// client went away while suspended
		return
	case err != nil:
		g.logger.Errorf("resolving session for key=%s: %v", key, err)
		http.Error(writer, "session unavailable", http.StatusInternalServerError)
		return
	}

	g.proxy(writer, request, key, endpoint)
}

// resolve suspends until the key's session is routable and returns its
// endpoint. On a miss it claims the key with a pending record and publishes
// exactly one fill request; on a lost race it simply waits for the winner's
// fill to complete.
func (g *Gateway) resolve(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.waitTimeout)
	defer cancel()

	pollTicker := ticker.New(g.pollInterval)
	pollTicker.Start()
	defer pollTicker.Stop()

	createAttempts := 0
	for {
		record, err := g.store.Get(ctx, key)
		switch {
		case errors.Is(err, gerrors.ErrRecordNotFound):
			createAttempts++
			if createAttempts > maxCreateAttempts {
				return "", fmt.Errorf("session for key=%s keeps vanishing: %w", key, gerrors.ErrProvisioningFailed)
			}
			if err := g.claim(ctx, key); err != nil {
				return "", err
			}
		case err != nil:
			return "", err
		case record.Routable():
			g.touch(key)
			return record.Endpoint, nil
		default:
			// pending or terminating, keep waiting; a terminating record is
			// treated as absent once the reaper finishes deleting it
		}

		select {
		case <-pollTicker.Ticks:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", fmt.Errorf("waited %s for key=%s: %w", g.waitTimeout, key, gerrors.ErrProvisioningTimeout)
			}
			return "", ctx.Err()
		}
	}
}

// claim creates the pending record and enqueues its fill request. Losing the
// creation race is not an error: another request already claimed the key. A
// failed publish rolls the record back so a later request can retry the miss.
func (g *Gateway) claim(ctx context.Context, key string) error {
	record, created, err := g.store.CreateIfAbsent(ctx, session.NewPending(key, time.Now()))
	if err != nil {
		return fmt.Errorf("claiming session for key=%s: %w", key, err)
	}
	if !created {
		return nil
	}
	g.logger.Infof("claimed session for key=%s, enqueueing fill request", key)
	if err := g.queue.Publish(ctx, queue.NewFillRequest(key)); err != nil {
		if rollbackErr := g.store.Delete(context.WithoutCancel(ctx), key, record.Version); rollbackErr != nil &&
			!errors.Is(rollbackErr, gerrors.ErrRecordNotFound) {
			g.logger.Warnf("rolling back unfilled claim for key=%s: %v", key, rollbackErr)
		}
		return fmt.Errorf("enqueueing fill request for key=%s: %w", key, err)
	}
	return nil
}

// touch refreshes the session's last access time off the request path.
func (g *Gateway) touch(key string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := g.store.Touch(ctx, key, time.Now()); err != nil && !errors.Is(err, gerrors.ErrRecordNotFound) {
			g.logger.Warnf("touching session for key=%s: %v", key, err)
		}
	}()
}

// proxy streams the request to the session pod and the response back.
func (g *Gateway) proxy(writer http.ResponseWriter, request *http.Request, key, endpoint string) {
	outbound := request.Clone(request.Context())
	outbound.URL.Scheme = "http"
	outbound.URL.Host = endpoint
	outbound.Host = endpoint
	outbound.RequestURI = ""
	for _, header := range hopByHopHeaders {
		outbound.Header.Del(header)
	}

	response, err := g.httpClient.Do(outbound)
	if err != nil {
		g.logger.Warnf("proxying to %s for key=%s: %v", endpoint, key, err)
		http.Error(writer, "session backend unreachable", http.StatusServiceUnavailable)
		return
	}
	defer func() { _ = response.Body.Close() }()

	for _, header := range hopByHopHeaders {
		response.Header.Del(header)
	}
	for name, values := range response.Header {
		for _, value := range values {
			writer.Header().Add(name, value)
		}
	}
	writer.WriteHeader(response.StatusCode)
	if _, err := io.Copy(writer, response.Body); err != nil {
		g.logger.Warnf("streaming response from %s for key=%s: %v", endpoint, key, err)
	}
}
