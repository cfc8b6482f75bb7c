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

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowchartsman/retry"
	"github.com/redis/go-redis/v9"

	"github.com/tochemey/podsession/config"
	"github.com/tochemey/podsession/controller"
	"github.com/tochemey/podsession/log"
	"github.com/tochemey/podsession/reaper"
	"github.com/tochemey/podsession/store"
)

func main() {
	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		log.DefaultLogger.Fatal(err)
	}

	logger := log.NewZap(log.ParseLevel(cfg.LogLevel), os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.RedisAddr},
		Password: cfg.RedisPassword,
	})
	sessionStore := store.NewRedisStore(redisClient, store.WithRedisLogger(logger))
	retrier := retry.NewRetrier(5, 200*time.Millisecond, 3*time.Second)
	if err := retrier.RunContext(ctx, sessionStore.Ping); err != nil {
		logger.Fatalf("connecting to redis at %s: %v", cfg.RedisAddr, err)
	}

	kubeClient, err := controller.NewClient()
	if err != nil {
		logger.Fatal(err)
	}
	podController := controller.NewPodController(kubeClient,
		controller.WithNamespace(cfg.Namespace),
		controller.WithLogger(logger))

	evictor := reaper.New(sessionStore, podController,
		reaper.WithIdleThreshold(cfg.IdleThreshold),
		reaper.WithScanInterval(cfg.ScanInterval),
		reaper.WithLogger(logger))

	if err := evictor.Start(ctx); err != nil {
		logger.Fatal(err)
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	evictor.Stop(shutdownCtx)
	_ = sessionStore.Close()
	logger.Info("reaper stopped")
}
