package usecase

import (
	"sync"
	"time"
)

// durationClock counts whole intervals of unpaused recording. Active time accumulates
// across pauses, so a pause and resume only subtract the paused span.
type durationClock struct {
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	active   time.Duration
	since    time.Time
	running  bool
	reported int

	changed  chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newDurationClock(interval time.Duration) *durationClock {
	if interval <= 0 {
		interval = time.Second
	}
	return &durationClock{
		interval: interval,
		now:      time.Now,
		changed:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins counting; onTick receives the new value each time a whole interval completes.
func (c *durationClock) Start(onTick func(seconds int)) {
	c.mu.Lock()
	c.since = c.now()
	c.running = true
	c.mu.Unlock()

	go c.run(onTick)
}

func (c *durationClock) run(onTick func(seconds int)) {
	defer close(c.done)

	timer := time.NewTimer(c.interval)
	defer timer.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-c.changed:
			timer.Stop()
		case <-timer.C:
			if seconds, ok := c.advance(); ok && onTick != nil {
				onTick(seconds)
			}
		}
		if wait, ok := c.untilNext(); ok {
			timer.Reset(wait)
		}
	}
}

func (c *durationClock) Pause() {
	c.mu.Lock()
	if c.running {
		c.active += c.now().Sub(c.since)
		c.running = false
	}
	c.mu.Unlock()
	c.notify()
}

func (c *durationClock) Resume() {
	c.mu.Lock()
	if !c.running {
		c.since = c.now()
		c.running = true
	}
	c.mu.Unlock()
	c.notify()
}

func (c *durationClock) notify() {
	select {
	case c.changed <- struct{}{}:
	default:
	}
}

func (c *durationClock) Seconds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int(c.elapsedLocked() / c.interval)
}

// Stop halts the clock and latches the elapsed value. It must follow Start and may be
// called more than once.
func (c *durationClock) Stop() int {
	c.stopOnce.Do(func() {
		c.Pause()
		close(c.stop)
	})
	<-c.done
	return c.Seconds()
}

func (c *durationClock) elapsedLocked() time.Duration {
	if !c.running {
		return c.active
	}
	return c.active + c.now().Sub(c.since)
}

// advance reports the current value when it moved past the last reported one.
func (c *durationClock) advance() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	seconds := int(c.elapsedLocked() / c.interval)
	if seconds <= c.reported {
		return 0, false
	}
	c.reported = seconds
	return seconds, true
}

// untilNext returns the wait until the next whole interval, or false while paused.
func (c *durationClock) untilNext() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return 0, false
	}
	elapsed := c.elapsedLocked()
	next := (elapsed/c.interval + 1) * c.interval
	return next - elapsed, true
}
