// Package countdown turns a server-issued end time into a once-per-second
// display string, trusting the local clock.
package countdown

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Interval is the tick cadence.
const Interval = time.Second

// EndedDisplay is the terminal display string.
const EndedDisplay = "Ended"

// urgentThreshold marks the last minute of an auction.
const urgentThreshold = time.Minute

// Tick is one display update.
type Tick struct {
	Display   string
	Remaining time.Duration
	Urgent    bool
	Ended     bool
}

// Format renders a remaining duration as "1h 2m 3s", "2m 3s" or "3s".
func Format(remaining time.Duration) string {
	if remaining <= 0 {
		return EndedDisplay
	}

	hours := int(remaining / time.Hour)
	minutes := int((remaining % time.Hour) / time.Minute)
	seconds := int((remaining % time.Minute) / time.Second)

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// Countdown emits a Tick every Interval until the target is reached, then
// emits a terminal tick and calls onExpire once per target.
//
// Callbacks run on the countdown goroutine (the first one on the caller of
// Start). They must not block and must not call Stop or Reset.
type Countdown struct {
	clock    clockwork.Clock
	onTick   func(Tick)
	onExpire func()

	mu      sync.Mutex
	target  time.Time
	fired   bool
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// New creates a stopped countdown. Either callback may be nil.
func New(clock clockwork.Clock, target time.Time, onTick func(Tick), onExpire func()) *Countdown {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if onTick == nil {
		onTick = func(Tick) {}
	}
	if onExpire == nil {
		onExpire = func() {}
	}
	return &Countdown{
		clock:    clock,
		target:   target,
		onTick:   onTick,
		onExpire: onExpire,
	}
}

// Target returns the current target time.
func (c *Countdown) Target() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

// Start emits the first tick synchronously and keeps ticking in the background.
// Starting a running countdown is a no-op.
func (c *Countdown) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	c.stop, c.done = stop, done
	c.running = true
	c.mu.Unlock()

	if c.emit() {
		close(done)
		return
	}

	ticker := c.clock.NewTicker(Interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.Chan():
				select {
				case <-stop:
					return
				default:
				}
				if c.emit() {
					return
				}
			}
		}
	}()
}

// Stop halts ticking. When Stop returns no callback is running or will run.
func (c *Countdown) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	stop, done := c.stop, c.done
	c.mu.Unlock()

	close(stop)
	<-done
}

// Reset stops the countdown and restarts it against target. The expiry
// callback re-arms only when target differs from the previous one.
func (c *Countdown) Reset(target time.Time) {
	c.Stop()

	c.mu.Lock()
	if !target.Equal(c.target) {
		c.fired = false
	}
	c.target = target
	c.mu.Unlock()

	c.Start()
}

// emit computes and delivers one tick, reporting whether it was terminal.
func (c *Countdown) emit() bool {
	c.mu.Lock()
	remaining := c.target.Sub(c.clock.Now())
	ended := remaining <= 0
	expire := ended && !c.fired
	if expire {
		c.fired = true
	}
	c.mu.Unlock()

	if ended {
		c.onTick(Tick{Display: EndedDisplay, Ended: true})
		if expire {
			c.onExpire()
		}
		return true
	}

	c.onTick(Tick{
		Display:   Format(remaining),
		Remaining: remaining,
		Urgent:    remaining < urgentThreshold,
	})
	return false
}
