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

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv(t *testing.T) {
	t.Run("With defaults", func(t *testing.T) {
		cfg := FromEnv()
		require.NoError(t, cfg.Validate())
		assert.Equal(t, "127.0.0.1:6379", cfg.RedisAddr)
		assert.Equal(t, "nats://127.0.0.1:4222", cfg.NatsURL)
		assert.Equal(t, "default", cfg.Namespace)
		assert.Equal(t, "httpd:2.4-alpine", cfg.Image)
		assert.EqualValues(t, 80, cfg.Port)
		assert.Equal(t, 90*time.Second, cfg.WaitTimeout)
		assert.Equal(t, 500*time.Millisecond, cfg.PollInterval)
		assert.Equal(t, 10*time.Minute, cfg.IdleThreshold)
		assert.Equal(t, 60*time.Second, cfg.ScanInterval)
		assert.Equal(t, 60*time.Second, cfg.ReadyTimeout)
	})
	t.Run("With environment overrides", func(t *testing.T) {
		t.Setenv("REDIS_ADDR", "redis.internal:6380")
		t.Setenv("SESSION_IDLE_THRESHOLD", "5m")
		t.Setenv("WORKER_CONCURRENCY", "16")
		t.Setenv("POD_PORT", "8080")

		cfg := FromEnv()
		require.NoError(t, cfg.Validate())
		assert.Equal(t, "redis.internal:6380", cfg.RedisAddr)
		assert.Equal(t, 5*time.Minute, cfg.IdleThreshold)
		assert.Equal(t, 16, cfg.Concurrency)
		assert.EqualValues(t, 8080, cfg.Port)
	})
	t.Run("With malformed values falling back", func(t *testing.T) {
		t.Setenv("SESSION_WAIT_TIMEOUT", "not-a-duration")
		t.Setenv("WORKER_CONCURRENCY", "many")

		cfg := FromEnv()
		require.NoError(t, cfg.Validate())
		assert.Equal(t, 90*time.Second, cfg.WaitTimeout)
		assert.Equal(t, 4, cfg.Concurrency)
	})
}

func TestValidate(t *testing.T) {
	t.Run("With missing redis address", func(t *testing.T) {
		cfg := FromEnv()
		cfg.RedisAddr = ""
		assert.Error(t, cfg.Validate())
	})
	t.Run("With poll interval above wait timeout", func(t *testing.T) {
		cfg := FromEnv()
		cfg.PollInterval = 2 * cfg.WaitTimeout
		assert.Error(t, cfg.Validate())
	})
	t.Run("With invalid namespace", func(t *testing.T) {
		cfg := FromEnv()
		cfg.Namespace = "Not_A_DNS_Label"
		assert.Error(t, cfg.Validate())
	})
	t.Run("With non positive concurrency", func(t *testing.T) {
		cfg := FromEnv()
		cfg.Concurrency = 0
		assert.Error(t, cfg.Validate())
	})
}
