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

// Package controller wraps the kubernetes API behind the small surface the
// session lifecycle needs: idempotent pod creation, readiness polling and
// deletion. Every operation is safe to retry: AlreadyExists and NotFound are
// never fatal.
package controller

import (
	"context"
	"fmt"
	"strconv"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"

	gerrors "github.com/tochemey/podsession/errors"
	"github.com/tochemey/podsession/log"
)

const (
	podNamePrefix = "session-"
	keyAnnotation = "podsession.tochemey.io/key"

	defaultNamespace    = "default"
	defaultImage        = "httpd:2.4-alpine"
	defaultPort         = 80
	defaultReadyTimeout = 60 * time.Second
	defaultPollInterval = 2 * time.Second
)

// Ref identifies a backing pod.
type Ref struct {
	Name      string
	Namespace string
}

// String returns namespace/name.
func (r Ref) String() string {
	return r.Namespace + "/" + r.Name
}

// Controller captures the orchestration operations the worker and the reaper
// drive. Implementations must be idempotent under retry.
type Controller interface {
	// EnsurePod makes sure a pod exists for the sanitized key, creating it
	// when absent. It reports whether a new pod was created.
	EnsurePod(ctx context.Context, key, safeKey string) (Ref, bool, error)
	// WaitReady blocks until the pod reports a routable endpoint or the
	// context expires, returning the host:port endpoint.
	WaitReady(ctx context.Context, ref Ref) (string, error)
	// DeletePod removes the backing pod. A pod that is already gone is not
	// an error.
	DeletePod(ctx context.Context, ref Ref) error
}

// PodController implements Controller against a kubernetes cluster.
type PodController struct {
	client       kubernetes.Interface
	namespace    string
	image        string
	port         int32
	readyTimeout time.Duration
	pollInterval time.Duration
	logger       log.Logger
}

// enforce compilation error
var _ Controller = (*PodController)(nil)

// Option configures the pod controller.
type Option func(*PodController)

// WithNamespace sets the namespace session pods are created in.
func WithNamespace(namespace string) Option {
	return func(c *PodController) { c.namespace = namespace }
}

// WithImage sets the container image session pods run.
func WithImage(image string) Option {
	return func(c *PodController) { c.image = image }
}

// WithPort sets the container port session pods serve on.
func WithPort(port int32) Option {
	return func(c *PodController) { c.port = port }
}

// WithReadyTimeout bounds how long WaitReady polls for a routable endpoint.
func WithReadyTimeout(timeout time.Duration) Option {
	return func(c *PodController) { c.readyTimeout = timeout }
}

// WithPollInterval sets the readiness poll interval.
func WithPollInterval(interval time.Duration) Option {
	return func(c *PodController) { c.pollInterval = interval }
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(c *PodController) { c.logger = logger }
}

// NewPodController creates a pod controller using the given kubernetes client.
func NewPodController(client kubernetes.Interface, opts ...Option) *PodController {
	podController := &PodController{
		client:       client,
		namespace:    defaultNamespace,
		image:        defaultImage,
		port:         defaultPort,
		readyTimeout: defaultReadyTimeout,
		pollInterval: defaultPollInterval,
		logger:       log.DefaultLogger,
	}
	for _, opt := range opts {
		opt(podController)
	}
	return podController
}

// EnsurePod makes sure a pod exists for the sanitized key. The existence
// check is what makes queue redelivery safe: replaying a fill request for a
// key whose pod already runs never creates a second pod.
func (c *PodController) EnsurePod(ctx context.Context, key, safeKey string) (Ref, bool, error) {
	ref := Ref{Name: podNamePrefix + safeKey, Namespace: c.namespace}

	_, err := c.client.CoreV1().Pods(ref.Namespace).Get(ctx, ref.Name, metav1.GetOptions{})
	switch {
	case err == nil:
		return ref, false, nil
	case !apierrors.IsNotFound(err):
		return ref, false, fmt.Errorf("inspecting pod %s: %w", ref, err)
	}

	_, err = c.client.CoreV1().Pods(ref.Namespace).Create(ctx, c.manifest(key, safeKey, ref), metav1.CreateOptions{})
	switch {
	case apierrors.IsAlreadyExists(err):
		// lost a race against a concurrent fill for the same key
		return ref, false, nil
	case err != nil:
		return ref, false, fmt.Errorf("creating pod %s: %w", ref, err)
	}
	c.logger.Infof("created pod %s for key=%s", ref, safeKey)
	return ref, true, nil
}

// WaitReady polls the pod until it is running with an assigned IP.
func (c *PodController) WaitReady(ctx context.Context, ref Ref) (string, error) {
	var endpoint string
	err := wait.PollUntilContextTimeout(ctx, c.pollInterval, c.readyTimeout, true,
		func(ctx context.Context) (bool, error) {
			pod, err := c.client.CoreV1().Pods(ref.Namespace).Get(ctx, ref.Name, metav1.GetOptions{})
			switch {
			case apierrors.IsNotFound(err):
				return false, fmt.Errorf("pod %s: %w", ref, gerrors.ErrResourceNotFound)
			case err != nil:
				// transient API failures do not abort the wait
				c.logger.Warnf("polling pod %s: %v", ref, err)
				return false, nil
			}
			switch pod.Status.Phase {
			case corev1.PodFailed, corev1.PodSucceeded:
				return false, fmt.Errorf("pod %s terminated with phase=%s: %w", ref, pod.Status.Phase, gerrors.ErrResourceNotReady)
			case corev1.PodRunning:
				if pod.Status.PodIP != "" {
					endpoint = pod.Status.PodIP + ":" + strconv.Itoa(int(c.port))
					return true, nil
				}
			}
			return false, nil
		})
	if err != nil {
		if wait.Interrupted(err) {
			return "", fmt.Errorf("pod %s not ready within %s: %w", ref, c.readyTimeout, gerrors.ErrResourceNotReady)
		}
		return "", err
	}
	return endpoint, nil
}

// DeletePod removes the backing pod.
func (c *PodController) DeletePod(ctx context.Context, ref Ref) error {
	err := c.client.CoreV1().Pods(ref.Namespace).Delete(ctx, ref.Name, metav1.DeleteOptions{})
	switch {
	case apierrors.IsNotFound(err):
		return nil
	case err != nil:
		return fmt.Errorf("deleting pod %s: %w", ref, err)
	}
	c.logger.Infof("deleted pod %s", ref)
	return nil
}

func (c *PodController) manifest(key, safeKey string, ref Ref) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      ref.Name,
			Namespace: ref.Namespace,
			Labels: map[string]string{
				"app":     "session-pod",
				"user-id": safeKey,
			},
			Annotations: map[string]string{
				keyAnnotation: key,
			},
		},
		Spec: corev1.PodSpec{
			Containers: []corev1.Container{
				{
					Name:  "web-container",
					Image: c.image,
					Ports: []corev1.ContainerPort{
						{ContainerPort: c.port},
					},
				},
			},
			RestartPolicy: corev1.RestartPolicyNever,
		},
	}
}
