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

// Package reaper evicts idle sessions. On every scan it marks ready records
// whose last access is older than the idle threshold as terminating, deletes
// their pods and finally removes the records. Eviction is conservative: any
// conflicting write observed along the way means the session is active again
// and the record is left alone until the next scan.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/reugn/go-quartz/job"
	quartzlogger "github.com/reugn/go-quartz/logger"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/atomic"

	"github.com/tochemey/podsession/controller"
	gerrors "github.com/tochemey/podsession/errors"
	"github.com/tochemey/podsession/log"
	"github.com/tochemey/podsession/session"
	"github.com/tochemey/podsession/store"
)

const (
	defaultIdleThreshold = 10 * time.Minute
	defaultScanInterval  = 60 * time.Second

	scanJobKey = "session-reaper-scan"
)

// Reaper periodically scans the store and evicts idle sessions.
type Reaper struct {
	store         store.Store
	controller    controller.Controller
	logger        log.Logger
	idleThreshold time.Duration
	scanInterval  time.Duration
	scheduler     quartz.Scheduler
	started       *atomic.Bool
}

// Option configures the reaper.
type Option func(*Reaper)

// WithIdleThreshold sets the inactivity span after which a ready session is
// evicted.
func WithIdleThreshold(threshold time.Duration) Option {
	return func(r *Reaper) { r.idleThreshold = threshold }
}

// WithScanInterval sets the scan cadence.
func WithScanInterval(interval time.Duration) Option {
	return func(r *Reaper) { r.scanInterval = interval }
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(r *Reaper) { r.logger = logger }
}

// New creates a reaper over the given store and pod controller.
func New(sessionStore store.Store, podController controller.Controller, opts ...Option) *Reaper {
	// scheduler logging goes through our logger instead
	scheduler, _ := quartz.NewStdScheduler(quartz.WithLogger(quartzlogger.NewSimpleLogger(nil, quartzlogger.LevelOff)))
	reaper := &Reaper{
		store:         sessionStore,
		controller:    podController,
		logger:        log.DefaultLogger,
		idleThreshold: defaultIdleThreshold,
		scanInterval:  defaultScanInterval,
		scheduler:     scheduler,
		started:       atomic.NewBool(false),
	}
	for _, opt := range opts {
		opt(reaper)
	}
	return reaper
}

// Start schedules the periodic scan. It returns once the scheduler is
// running; scans happen in the background until Stop is called.
func (r *Reaper) Start(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return nil
	}
	r.scheduler.Start(ctx)
	scanJob := job.NewFunctionJob[bool](func(ctx context.Context) (bool, error) {
		r.Scan(ctx)
		return true, nil
	})
	detail := quartz.NewJobDetail(scanJob, quartz.NewJobKey(scanJobKey))
	if err := r.scheduler.ScheduleJob(detail, quartz.NewSimpleTrigger(r.scanInterval)); err != nil {
		return fmt.Errorf("scheduling reaper scan: %w", err)
	}
	r.logger.Infof("reaper scanning every %s, idle threshold %s", r.scanInterval, r.idleThreshold)
	return nil
}

// Stop halts scanning and waits for an in-flight scan to finish.
func (r *Reaper) Stop(ctx context.Context) {
	if !r.started.CompareAndSwap(true, false) {
		return
	}
	_ = r.scheduler.Clear()
	r.scheduler.Stop()
	r.scheduler.Wait(ctx)
}

// Scan runs one eviction pass over all session records.
func (r *Reaper) Scan(ctx context.Context) {
	records, err := r.store.Scan(ctx)
	if err != nil {
		r.logger.Errorf("scanning session records: %v", err)
		return
	}

	now := time.Now()
	for _, record := range records {
		switch record.Status {
		case session.StatusReady:
			if record.IdleFor(now) < r.idleThreshold {
				continue
			}
			r.evict(ctx, record, now)
		case session.StatusTerminating:
			// a previous pass marked it but did not finish, resume teardown
			r.finalize(ctx, record)
		}
	}
}

// evict marks an idle record terminating then tears it down. The conditional
// write is the safety gate: a request that touched the session after the
// scan read bumps the version, the mark fails and the session survives.
func (r *Reaper) evict(ctx context.Context, record *session.Record, now time.Time) {
	marked := record.Clone()
	marked.Status = session.StatusTerminating
	stored, err := r.store.CompareAndSwap(ctx, marked, record.Version)
	switch {
	case errors.Is(err, gerrors.ErrVersionConflict), errors.Is(err, gerrors.ErrRecordNotFound):
		return
	case err != nil:
		r.logger.Errorf("marking session key=%s terminating: %v", record.Key, err)
		return
	}
	r.logger.Infof("evicting session key=%s idle for %s", record.Key, now.Sub(record.LastAccessAt).Round(time.Second))
	r.finalize(ctx, stored)
}

// finalize deletes the pod then the record, in that order: if the pod delete
// fails the terminating record stays behind and the next scan retries, so a
// pod can never outlive the eviction decision unnoticed.
func (r *Reaper) finalize(ctx context.Context, record *session.Record) {
	if record.ResourceName != "" {
		ref := controller.Ref{Name: record.ResourceName, Namespace: record.ResourceNamespace}
		if err := r.controller.DeletePod(ctx, ref); err != nil {
			r.logger.Errorf("deleting pod %s for key=%s: %v", ref, record.Key, err)
			return
		}
	}
	err := r.store.Delete(ctx, record.Key, record.Version)
	if err != nil && !errors.Is(err, gerrors.ErrRecordNotFound) {
		r.logger.Errorf("deleting record for key=%s: %v", record.Key, err)
	}
}
