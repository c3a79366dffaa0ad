package dataset

import (
	"context"
	"log"
	"time"
)

// Refresher re-runs the loader on an interval so restriction data tracks the
// upstream feed without a redeploy.
type Refresher struct {
	Loader   *Loader
	Interval time.Duration
	Stop     chan struct{}
}

func NewRefresher(l *Loader, interval time.Duration) *Refresher {
	return &Refresher{Loader: l, Interval: interval, Stop: make(chan struct{})}
}

func (r *Refresher) Start() {
	if r.Interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(r.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.Stop:
				return
			case <-ticker.C:
				r.refreshOnce()
			}
		}
	}()
}

func (r *Refresher) refreshOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if _, err := r.Loader.Load(ctx); err != nil {
		// Keep serving the previous dataset; the next tick retries.
		log.Printf("dataset: refresh failed: %v", err)
	}
}
