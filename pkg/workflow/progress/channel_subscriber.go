package progress

import "sync/atomic"

// ChannelSubscriber is the one reference Subscriber adapter this package
// ships: it forwards events onto a buffered channel and drops events when
// the channel is full rather than blocking the publisher.
type ChannelSubscriber struct {
	id      string
	events  chan Event
	filter  map[string]bool
	active  int32
}

// NewChannelSubscriber returns a subscriber with the given id and channel
// buffer size. A nil filter receives every event; a non-nil filter receives
// only events for the project ids it lists, plus events with no project id.
func NewChannelSubscriber(id string, bufferSize int, filter map[string]bool) *ChannelSubscriber {
	return &ChannelSubscriber{
		id:     id,
		events: make(chan Event, bufferSize),
		filter: filter,
		active: 1,
	}
}

// Events exposes the channel for callers to range over.
func (c *ChannelSubscriber) Events() <-chan Event { return c.events }

func (c *ChannelSubscriber) ID() string { return c.id }

func (c *ChannelSubscriber) OnEvent(e Event) {
	select {
	case c.events <- e:
	default:
		// Slow consumer: drop rather than block the publisher, matching
		// the monitor's no-unbounded-buffering backpressure policy.
	}
}

func (c *ChannelSubscriber) IsActive() bool {
	return atomic.LoadInt32(&c.active) == 1
}

func (c *ChannelSubscriber) ProjectFilter() map[string]bool { return c.filter }

// Close marks the subscriber inactive so the monitor prunes it on the next
// publish or cleanup cycle, and closes the channel.
func (c *ChannelSubscriber) Close() {
	if atomic.CompareAndSwapInt32(&c.active, 1, 0) {
		close(c.events)
	}
}
