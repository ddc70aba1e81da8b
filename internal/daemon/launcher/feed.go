package launcher

import (
	"context"

	"github.com/nine-chronicles/launcher/internal/daemon/bus"
)

// StatusFeed calls fn with a fresh Status after every bus event. Run it as
// a Service alongside the orchestrator to keep the tray up to date.
type StatusFeed struct {
	o  *Orchestrator
	fn func(Status)
}

// StatusFeed creates a feed delivering to fn.
func (o *Orchestrator) StatusFeed(fn func(Status)) *StatusFeed {
	return &StatusFeed{o: o, fn: fn}
}

// Run delivers the current status, then one per event until ctx is
// cancelled or the bus closes. A feed that falls behind resubscribes.
func (f *StatusFeed) Run(ctx context.Context) error {
	for {
		sub := f.o.Subscribe()
		more := f.push(ctx) && f.follow(ctx, sub)
		f.o.Unsubscribe(sub)
		if !more {
			return nil
		}
		f.o.logger.Debug().Msg("status feed fell behind, resubscribing")
	}
}

// follow pushes a status per event on sub. It returns true only when the
// bus dropped the subscription.
func (f *StatusFeed) follow(ctx context.Context, sub *bus.Subscription) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case _, ok := <-sub.C:
			if !ok {
				return sub.Dropped()
			}
			if !f.push(ctx) {
				return false
			}
		}
	}
}

func (f *StatusFeed) push(ctx context.Context) bool {
	st, err := f.o.Status(ctx)
	if err != nil {
		return false
	}
	f.fn(st)
	return true
}
