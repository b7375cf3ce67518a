// Package presencetest provides a recording presence.Conn.
package presencetest

import (
	"sync"

	"chatrelay/backend/internal/models"
)

// Conn records every event delivered to it. A closed Conn rejects deliveries.
type Conn struct {
	handle string

	mu     sync.Mutex
	events []models.Outbound
	closed bool
}

func NewConn(handle string) *Conn { return &Conn{handle: handle} }

func (c *Conn) Handle() string { return c.handle }

func (c *Conn) Deliver(evt models.Outbound) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.events = append(c.events, evt)
	return true
}

// Close makes further deliveries fail.
func (c *Conn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Events returns a copy of what was delivered so far.
func (c *Conn) Events() []models.Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Outbound(nil), c.events...)
}

// Named returns the delivered events with the given name.
func (c *Conn) Named(name models.EventName) []models.Outbound {
	var out []models.Outbound
	for _, e := range c.Events() {
		if e.Event == name {
			out = append(out, e)
		}
	}
	return out
}

// Last returns the most recent event, if any.
func (c *Conn) Last() (models.Outbound, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return models.Outbound{}, false
	}
	return c.events[len(c.events)-1], true
}

// Reset forgets recorded events.
func (c *Conn) Reset() {
	c.mu.Lock()
	c.events = nil
	c.mu.Unlock()
}
