// Command ws-load holds many subscriber connections open against the event
// api while one publisher issues commands, then reports how many broadcast
// events arrived. It exits non-zero when nothing was received or too many
// connection attempts failed.
package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"event-api/client"
	"event-api/domain"
	"event-api/internal/env"
)

type counters struct {
	events   atomic.Uint64
	attempts atomic.Uint64
	failures atomic.Uint64
}

func (c *counters) failureRate() float64 {
	attempts := c.attempts.Load()
	if attempts == 0 {
		return 0
	}
	return float64(c.failures.Load()) / float64(attempts)
}

func main() {
	url := env.String("EVENT_API_URL", "ws://localhost:8080/ws")
	conns := env.Int("WS_CONNECTIONS", 200)
	duration := env.Duration("LOAD_DURATION", 2*time.Minute)
	interval := env.Duration("PUBLISH_INTERVAL", 100*time.Millisecond)

	logger := log.New()
	logger.SetLevel(log.WarnLevel)

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	var stats counters
	var wg sync.WaitGroup
	wg.Add(conns)
	for i := 0; i < conns; i++ {
		go func() {
			defer wg.Done()
			subscribe(ctx, url, logger, &stats)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		publish(ctx, url, logger, interval, &stats)
	}()

	go func() {
		select {
		case <-time.After(60 * time.Second):
			if stats.events.Load() == 0 {
				fmt.Println("no events received in 60s")
				os.Exit(1)
			}
		case <-ctx.Done():
		}
	}()

	wg.Wait()
	fmt.Printf("connections=%d duration_sec=%d events_received=%d connection_failures=%d\n",
		conns, int(duration.Seconds()), stats.events.Load(), stats.failures.Load())
	if stats.events.Load() == 0 || stats.failureRate() > 0.01 {
		os.Exit(1)
	}
}

// subscribe keeps one connection open until ctx ends, reconnecting with
// backoff whenever the server drops it.
func subscribe(ctx context.Context, url string, logger *log.Logger, stats *counters) {
	backoff := time.Second
	for ctx.Err() == nil {
		stats.attempts.Add(1)
		c := client.New(url, client.WithLogger(logger))
		c.OnEvent(func(domain.Event) { stats.events.Add(1) })
		if err := c.Connect(ctx); err != nil {
			stats.failures.Add(1)
			sleep(ctx, backoff)
			backoff = min(backoff*2, 5*time.Second)
			continue
		}
		backoff = time.Second

		for c.Connected() && ctx.Err() == nil {
			sleep(ctx, 250*time.Millisecond)
		}
		_ = c.Disconnect()
		if ctx.Err() == nil {
			stats.failures.Add(1)
			sleep(ctx, backoff)
		}
	}
}

func publish(ctx context.Context, url string, logger *log.Logger, interval time.Duration, stats *counters) {
	c := client.New(url, client.WithLogger(logger))
	stats.attempts.Add(1)
	if err := c.Connect(ctx); err != nil {
		stats.failures.Add(1)
		logger.WithError(err).Error("publisher connect")
		return
	}
	defer c.Disconnect()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for n := 0; ; n++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		var err error
		if n%10 == 0 {
			err = c.Create(fmt.Sprintf("load-%d", n), fmt.Sprintf("load-%d@example.com", n))
		} else {
			err = c.GetAll()
		}
		if err != nil {
			logger.WithError(err).Warn("publish command")
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
