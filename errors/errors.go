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

// Package errors defines the sentinel errors shared by the session lifecycle
// components. Callers are expected to match them with errors.Is since most of
// them travel wrapped with additional context.
package errors

import "errors"

var (
	// ErrInvalidKey is returned when a user key is empty or cannot be
	// sanitized into a resource-name-safe form. Requests carrying such a key
	// are rejected before any write happens.
	ErrInvalidKey = errors.New("invalid session key")

	// ErrRecordNotFound is returned when no session record exists for the
	// requested key.
	ErrRecordNotFound = errors.New("session record not found")

	// ErrVersionConflict is returned when a conditional write observes a
	// version different from the one read alongside the record. It never
	// crosses a component boundary: the writer re-reads and reconciles.
	ErrVersionConflict = errors.New("session record version conflict")

	// ErrResourceNotFound is returned when the backing pod vanished while an
	// operation was in flight. The reaper treats it as benign.
	ErrResourceNotFound = errors.New("backing resource not found")

	// ErrResourceNotReady is returned when a pod did not report a routable
	// endpoint within the readiness deadline.
	ErrResourceNotReady = errors.New("backing resource not ready")

	// ErrProvisioningTimeout is returned when a gateway request exhausted its
	// wait deadline before the session became ready. The pending record is
	// left in place since the fill may still succeed for a later request.
	ErrProvisioningTimeout = errors.New("session provisioning timed out")

	// ErrProvisioningFailed is returned when provisioning was retriggered and
	// failed again within a single gateway request.
	ErrProvisioningFailed = errors.New("session provisioning failed")

	// ErrQueueClosed is returned when publishing to or consuming from a
	// fulfillment queue that has been closed.
	ErrQueueClosed = errors.New("fulfillment queue is closed")
)
