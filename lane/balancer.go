package lane

import (
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/chatrelay/logger"
)

// ErrStopped is returned by Acquire after Stop.
var ErrStopped = errors.New("lane: balancer stopped")

// Balancer hands out lanes to new connections. It starts lanes lazily until
// the ideal count exists and from then on picks the lane with the fewest
// active connections, preferring the lowest id on ties. A connection never
// moves lanes.
type Balancer struct {
	mu      sync.Mutex
	ideal   int
	lanes   []*Lane
	group   errgroup.Group
	stopped bool
	logger  logger.Logger
}

// NewBalancer creates a Balancer for up to ideal lanes; values below 1 use
// IdealCount.
//
// Parameters:
//   - ideal: Maximum number of lanes
//   - l: Logger for lane lifecycle events
//
// Returns:
//   - The Balancer; call Stop to end its lanes
func NewBalancer(ideal int, l logger.Logger) *Balancer {
	if ideal < 1 {
		ideal = IdealCount()
	}

	return &Balancer{
		ideal:  ideal,
		lanes:  make([]*Lane, 0, ideal),
		logger: l.With(logger.Field{Key: "component", Value: "balancer"}),
	}
}

// Ideal returns the maximum number of lanes.
func (b *Balancer) Ideal() int {
	return b.ideal
}

// Acquire assigns a lane to a new connection and counts it as active there.
//
// Returns:
//   - The lane the connection must run on
//   - ErrStopped if the balancer has been stopped
func (b *Balancer) Acquire() (*Lane, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return nil, ErrStopped
	}

	if len(b.lanes) < b.ideal {
		l := newLane(len(b.lanes), b.logger)
		l.active = 1
		b.lanes = append(b.lanes, l)
		b.group.Go(l.run)
		b.logger.Debug("lane created", logger.Field{Key: "lane", Value: l.id})
		return l, nil
	}

	least := b.lanes[0]
	for _, l := range b.lanes[1:] {
		if l.active < least.active {
			least = l
		}
	}

	least.active++
	return least, nil
}

// Release returns a connection's slot on l. The counter never drops below zero.
func (b *Balancer) Release(l *Lane) {
	if l == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if l.active > 0 {
		l.active--
	}
}

// Loads returns the active count of every lane created so far, indexed by lane id.
func (b *Balancer) Loads() []int {
	b.mu.Lock()
	defer b.mu.Unlock()

	loads := make([]int, len(b.lanes))
	for i, l := range b.lanes {
		loads[i] = l.active
	}

	return loads
}

// Stop refuses further Acquire calls, lets every lane finish the tasks
// already queued, and waits for all lane goroutines to exit. Tasks posted
// after Stop are dropped. Safe to call multiple times.
func (b *Balancer) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}

	b.stopped = true
	lanes := append([]*Lane(nil), b.lanes...)
	b.mu.Unlock()

	for _, l := range lanes {
		l.stop()
	}

	_ = b.group.Wait()
	b.logger.Debug("all lanes stopped", logger.Field{Key: "lanes", Value: len(lanes)})
}
