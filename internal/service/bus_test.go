package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBusRoutesBySession(t *testing.T) {
	bus := NewEventBus()
	a := bus.Subscribe("a")
	all := bus.Subscribe("")
	defer bus.Unsubscribe(a)
	defer bus.Unsubscribe(all)

	bus.Publish(Event{Session: "a", Kind: "hud"})
	bus.Publish(Event{Session: "b", Kind: "tour"})

	assert.Equal(t, "hud", (<-a).Kind)
	assert.Empty(t, a)
	assert.Len(t, all, 2)
}

func TestBusSkipsSlowSubscribers(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe("s")
	for i := 0; i < cap(ch)+10; i++ {
		bus.Publish(Event{Session: "s"})
	}
	assert.Len(t, ch, cap(ch))

	bus.Unsubscribe(ch)
	bus.Unsubscribe(ch)
	assert.Zero(t, bus.Subscribers())

	n := 0
	for range ch {
		n++
	}
	assert.Equal(t, cap(ch), n, "buffered events survive, then the channel is closed")
}
