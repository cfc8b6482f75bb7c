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

// Package config holds the runtime configuration of the three binaries. All
// settings come from the environment with sensible defaults so a bare
// deployment only needs REDIS_ADDR and NATS_URL.
package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/tochemey/podsession/internal/validation"
)

const (
	defaultRedisAddr     = "127.0.0.1:6379"
	defaultNatsURL       = "nats://127.0.0.1:4222"
	defaultNamespace     = "default"
	defaultImage         = "httpd:2.4-alpine"
	defaultPort          = 80
	defaultGatewayAddr   = ":8080"
	defaultWaitTimeout   = 90 * time.Second
	defaultPollInterval  = 500 * time.Millisecond
	defaultConcurrency   = 4
	defaultReadyTimeout  = 60 * time.Second
	defaultIdleThreshold = 10 * time.Minute
	defaultScanInterval  = 60 * time.Second
)

// Config carries the settings shared by the gateway, the fulfillment worker
// and the reaper.
type Config struct {
	// RedisAddr is the address of the redis instance holding session records.
	RedisAddr string
	// RedisPassword is the optional redis password.
	RedisPassword string
	// NatsURL is the address of the NATS server backing the fulfillment queue.
	NatsURL string
	// Namespace is the kubernetes namespace session pods live in.
	Namespace string
	// Image is the container image session pods run.
	Image string
	// Port is the container port session pods serve on.
	Port int32
	// GatewayAddr is the listen address of the gateway.
	GatewayAddr string
	// WaitTimeout bounds how long the gateway suspends a request waiting for
	// its session to become routable.
	WaitTimeout time.Duration
	// PollInterval is the gateway's record poll cadence while waiting.
	PollInterval time.Duration
	// Concurrency is the number of fill requests a worker processes at once.
	Concurrency int
	// ReadyTimeout bounds how long a worker waits for a pod to become ready.
	ReadyTimeout time.Duration
	// IdleThreshold is the inactivity span after which a session is evicted.
	IdleThreshold time.Duration
	// ScanInterval is the reaper's scan cadence.
	ScanInterval time.Duration
	// LogLevel is the minimum level emitted by the loggers.
	LogLevel string
}

// FromEnv builds a Config from the process environment, falling back to the
// defaults for anything unset.
func FromEnv() *Config {
	return &Config{
		RedisAddr:     envString("REDIS_ADDR", defaultRedisAddr),
		RedisPassword: envString("REDIS_PASSWORD", ""),
		NatsURL:       envString("NATS_URL", defaultNatsURL),
		Namespace:     envString("POD_NAMESPACE", defaultNamespace),
		Image:         envString("POD_IMAGE", defaultImage),
		Port:          int32(envInt("POD_PORT", defaultPort)),
		GatewayAddr:   envString("GATEWAY_ADDR", defaultGatewayAddr),
		WaitTimeout:   envDuration("SESSION_WAIT_TIMEOUT", defaultWaitTimeout),
		PollInterval:  envDuration("SESSION_POLL_INTERVAL", defaultPollInterval),
		Concurrency:   envInt("WORKER_CONCURRENCY", defaultConcurrency),
		ReadyTimeout:  envDuration("POD_READY_TIMEOUT", defaultReadyTimeout),
		IdleThreshold: envDuration("SESSION_IDLE_THRESHOLD", defaultIdleThreshold),
		ScanInterval:  envDuration("REAPER_SCAN_INTERVAL", defaultScanInterval),
		LogLevel:      envString("LOG_LEVEL", "info"),
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	return validation.New(validation.FailFast()).
		AddValidator(validation.NewEmptyStringValidator("RedisAddr", c.RedisAddr)).
		AddValidator(validation.NewEmptyStringValidator("NatsURL", c.NatsURL)).
		AddValidator(validation.NewEmptyStringValidator("Namespace", c.Namespace)).
		AddValidator(validation.NewPatternValidator("^[a-z0-9]([a-z0-9-]*[a-z0-9])?$", c.Namespace,
			errors.New("the [Namespace] must be a valid dns label"))).
		AddValidator(validation.NewEmptyStringValidator("Image", c.Image)).
		AddValidator(validation.NewEmptyStringValidator("GatewayAddr", c.GatewayAddr)).
		AddAssertion(c.Port > 0, "Port must be positive").
		AddAssertion(c.WaitTimeout > 0, "WaitTimeout must be positive").
		AddAssertion(c.PollInterval > 0, "PollInterval must be positive").
		AddAssertion(c.PollInterval < c.WaitTimeout, "PollInterval must be shorter than WaitTimeout").
		AddAssertion(c.Concurrency > 0, "Concurrency must be positive").
		AddAssertion(c.ReadyTimeout > 0, "ReadyTimeout must be positive").
		AddAssertion(c.IdleThreshold > 0, "IdleThreshold must be positive").
		AddAssertion(c.ScanInterval > 0, "ScanInterval must be positive").
		Validate()
}

func envString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
