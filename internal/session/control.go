package session

import "sync"

// Control is the pause/resume/stop surface for a running machine. Flags are
// polled at suspension points and unit boundaries only; an in-flight action
// is never interrupted.
type Control struct {
	mu      sync.Mutex
	paused  bool
	stopped bool
}

// NewControl creates an un-paused, un-stopped control channel.
func NewControl() *Control {
	return &Control{}
}

// Pause requests the machine hold at the next suspension point.
func (c *Control) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
}

// Resume clears a pause request.
func (c *Control) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
}

// Stop requests a clean exit: the machine finishes the current unit,
// persists state, and transitions to Aborted.
func (c *Control) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
}

// Paused reports whether a pause is requested.
func (c *Control) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Stopped reports whether a stop is requested.
func (c *Control) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}
