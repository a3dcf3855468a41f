package run

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

const defaultProgressInterval = 2 * time.Second

// progressReporter prints a heartbeat while a slow step such as a remote
// generation runs.
type progressReporter struct {
	enabled  bool
	interval time.Duration
	w        io.Writer

	mu      sync.Mutex
	step    string
	started time.Time
}

func newProgressReporter(w io.Writer, enabled bool) *progressReporter {
	if !enabled || w == nil {
		return &progressReporter{enabled: false}
	}
	return &progressReporter{enabled: true, interval: defaultProgressInterval, w: w}
}

func (p *progressReporter) run(ctx context.Context, step string, fn func() error) error {
	if p == nil || !p.enabled {
		return fn()
	}
	p.setStep(step)
	p.emit()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		for {
			select {
			case <-ticker.C:
				p.emit()
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	err := fn()
	close(done)
	<-stopped
	return err
}

func (p *progressReporter) setStep(step string) {
	p.mu.Lock()
	p.step = step
	p.started = time.Now()
	p.mu.Unlock()
}

func (p *progressReporter) emit() {
	if p == nil || !p.enabled || p.w == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	elapsed := time.Since(p.started).Truncate(time.Second)
	_, _ = fmt.Fprintf(p.w, "ergo: %s... %s\n", p.step, elapsed)
}
