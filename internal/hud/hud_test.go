package hud

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-atlas/internal/loop"
)

func newChannel() (*Channel, *loop.Manual, *[]State) {
	clock := loop.NewManual(time.Unix(0, 0))
	var seen []State
	c := New(clock, DefaultConfig(), func(s State) { seen = append(seen, s) })
	return c, clock, &seen
}

func TestShowReplacesAndOnlyLatestTimerFires(t *testing.T) {
	c, clock, seen := newChannel()

	c.Show("first", "", 2*time.Second)
	clock.Advance(time.Second)
	c.Show("second", "Blue Door", 3*time.Second)
	assert.Equal(t, 1, clock.Pending(), "superseded timer must be disarmed")

	// The first message's deadline passes without effect.
	clock.Advance(1500 * time.Millisecond)
	require.True(t, c.State().Visible)
	assert.Equal(t, "second", c.State().SummaryText)
	assert.Equal(t, "Blue Door", c.State().PrimaryBusinessName)

	clock.Advance(1500 * time.Millisecond)
	assert.False(t, c.State().Visible)
	assert.Zero(t, clock.Pending())

	// show, show, auto-dismiss of the second only.
	require.Len(t, *seen, 3)
	assert.Equal(t, "first", (*seen)[0].SummaryText)
	assert.Equal(t, "second", (*seen)[1].SummaryText)
	assert.False(t, (*seen)[2].Visible)
}

func TestShowWithoutAutoDismissStays(t *testing.T) {
	c, clock, _ := newChannel()

	c.Show("sticky", "", 0)
	assert.Zero(t, clock.Pending())
	assert.Nil(t, c.State().DismissDeadline)

	clock.Advance(time.Hour)
	assert.True(t, c.State().Visible)
}

func TestDismissDeadline(t *testing.T) {
	c, clock, _ := newChannel()
	clock.Advance(10 * time.Second)

	c.Show("hello", "", 4*time.Second)
	require.NotNil(t, c.State().DismissDeadline)
	assert.Equal(t, time.Unix(14, 0), *c.State().DismissDeadline)

	data, err := json.Marshal(c.State())
	require.NoError(t, err)
	var decoded State
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.NotNil(t, decoded.DismissDeadline)
	assert.True(t, decoded.DismissDeadline.Equal(time.Unix(14, 0)))

	c.Show("sticky", "", 0)
	data, err = json.Marshal(c.State())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"dismissDeadline":null`)
}

func TestShowAfterCameraDelaysAppearance(t *testing.T) {
	c, clock, _ := newChannel()

	c.ShowAfterCamera(Message{Kind: KindBusiness, Summary: "Blue Door", AutoDismiss: time.Second})
	assert.False(t, c.State().Visible)
	assert.Equal(t, 1, clock.Pending())

	clock.Advance(119 * time.Millisecond)
	assert.False(t, c.State().Visible)

	clock.Advance(time.Millisecond)
	assert.True(t, c.State().Visible)
	assert.Equal(t, KindBusiness, c.State().Kind)
	assert.Equal(t, 1, clock.Pending(), "dismiss timer replaces appearance timer")
}

func TestDelayedMessageSupersededBeforeAppearing(t *testing.T) {
	c, clock, _ := newChannel()

	c.ShowAfterCamera(Message{Summary: "stale"})
	c.ShowMessage(Message{Summary: "fresh"})
	clock.Advance(time.Second)

	assert.Equal(t, "fresh", c.State().SummaryText)
}

func TestDismissCancelsTimer(t *testing.T) {
	c, clock, seen := newChannel()

	c.Show("bye", "", 5*time.Second)
	c.Dismiss()
	assert.False(t, c.State().Visible)
	assert.Zero(t, clock.Pending())

	c.Dismiss()
	assert.Len(t, *seen, 2, "second dismiss is a no-op")
}

func TestSystemMessageKinds(t *testing.T) {
	c, clock, _ := newChannel()

	c.NoMatches("Say \"show all\" to reset.")
	assert.Equal(t, KindNoMatches, c.State().Kind)
	assert.Contains(t, c.State().SummaryText, "No places match")
	assert.Equal(t, clock.Now().Add(DefaultConfig().NoMatchesDismiss), *c.State().DismissDeadline)

	c.Restored(1)
	assert.Equal(t, KindRestored, c.State().Kind)
	assert.Equal(t, "Showing all 1 place again.", c.State().SummaryText)

	c.Restored(5)
	assert.Equal(t, "Showing all 5 places again.", c.State().SummaryText)

	c.Failure()
	assert.Equal(t, KindError, c.State().Kind)
	assert.Equal(t, 1, clock.Pending())
}

func TestCloseLeavesStateButStopsTimer(t *testing.T) {
	c, clock, _ := newChannel()
	c.Show("x", "", time.Second)
	c.Close()

	assert.Zero(t, clock.Pending())
	clock.Advance(2 * time.Second)
	assert.True(t, c.State().Visible)
}
