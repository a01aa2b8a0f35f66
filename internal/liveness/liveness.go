package liveness

import (
	"sync"
	"time"
)

// DefaultInterval is the keepalive period used when none is configured.
const DefaultInterval = 5 * time.Second

// Keepalive runs a ping function on a fixed interval in a background
// goroutine until Stop is called. Ping results are not inspected: liveness
// failure is detected by the transport's close event, never by the timer.
type Keepalive struct {
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// Start launches a keepalive that calls ping every interval. ping must not
// block; a transport that needs to write should queue the frame instead.
func Start(interval time.Duration, ping func()) *Keepalive {
	if interval <= 0 {
		interval = DefaultInterval
	}
	k := &Keepalive{
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go k.loop(interval, ping)
	return k
}

func (k *Keepalive) loop(interval time.Duration, ping func()) {
	defer close(k.doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Stop may have raced with the tick.
			select {
			case <-k.stopCh:
				return
			default:
			}
			ping()
		case <-k.stopCh:
			return
		}
	}
}

// Stop cancels the keepalive and waits for its goroutine to exit. Once Stop
// returns, ping will not be called again. Safe to call more than once and on
// a nil Keepalive.
func (k *Keepalive) Stop() {
	if k == nil {
		return
	}
	k.stopOnce.Do(func() {
		close(k.stopCh)
	})
	<-k.doneCh
}
