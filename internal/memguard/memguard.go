// Package memguard periodically samples process memory usage and
// cancels a context once a configured ceiling is crossed, as a
// portable stand-in for OS-level memory limits like
// resource.setrlimit(RLIMIT_AS, ...).
package memguard

import (
	"context"
	"log"
	"runtime"
	"time"
)

const defaultInterval = 500 * time.Millisecond

// Guard cancels its context when resident memory exceeds LimitBytes.
type Guard struct {
	LimitBytes int64
	Interval   time.Duration

	cancel context.CancelFunc
	tripped bool
}

// Watch wraps parent with a cancellable context and starts a
// background sampling goroutine; call the returned stop func to end
// sampling. Tripped reports whether the ceiling was ever crossed.
func Watch(parent context.Context, limitBytes int64) (ctx context.Context, stop func(), g *Guard) {
	ctx, cancel := context.WithCancel(parent)
	g = &Guard{LimitBytes: limitBytes, Interval: defaultInterval, cancel: cancel}

	if limitBytes <= 0 {
		return ctx, func() {}, g
	}

	done := make(chan struct{})
	go g.run(ctx, done)
	return ctx, func() { close(done) }, g
}

func (g *Guard) run(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(g.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			var stats runtime.MemStats
			runtime.ReadMemStats(&stats)
			if int64(stats.Sys) > g.LimitBytes {
				g.tripped = true
				log.Printf("memguard: resident memory %d bytes exceeds limit %d bytes, cancelling run", stats.Sys, g.LimitBytes)
				g.cancel()
				return
			}
		}
	}
}

// Tripped reports whether the guard cancelled its context due to the
// memory ceiling being crossed (as opposed to any other cancellation).
func (g *Guard) Tripped() bool { return g.tripped }
