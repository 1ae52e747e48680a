//go:build linux

package thermocycler

import (
	"context"
	"sync"
	"time"

	"go.viam.com/utils"

	"github.com/viam-modules/thermocycler-motion/motors"
)

// tickPeriod is the shortest wait between wakeups of the tick goroutine. Faster rates are
// reached by running every tick owed since start on each wakeup, so they hold on average, not
// per tick.
const tickPeriod = time.Millisecond

// tickSource drives one motors.TickFunc from a goroutine.
type tickSource struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// ticksOwed is the number of ticks at hz that fit in elapsed.
func ticksOwed(elapsed time.Duration, hz uint32) uint64 {
	if elapsed <= 0 {
		return 0
	}
	secs := uint64(elapsed / time.Second)
	rem := uint64(elapsed % time.Second)
	return secs*uint64(hz) + rem*uint64(hz)/uint64(time.Second)
}

// Start runs tick at hz until it returns false or Stop is called. A running source is stopped
// first.
func (s *tickSource) Start(hz uint32, tick motors.TickFunc) {
	s.Stop()
	if hz == 0 {
		hz = 1
	}
	period := max(time.Second/time.Duration(hz), tickPeriod)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	utils.PanicCapturingGo(func() {
		defer close(done)
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		start := time.Now()
		var fired uint64
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			for owed := ticksOwed(time.Since(start), hz); fired < owed; fired++ {
				if ctx.Err() != nil || !tick() {
					return
				}
			}
		}
	})
}

// Stop stops the source and waits for the goroutine to exit. Must not be called from the
// TickFunc.
func (s *tickSource) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
