package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-atlas/internal/atlas"
	"github.com/joeblew999/plat-atlas/internal/business"
	"github.com/joeblew999/plat-atlas/internal/logger"
	"github.com/joeblew999/plat-atlas/internal/markers"
	"github.com/joeblew999/plat-atlas/internal/render"
)

func newRegistry() *Registry {
	return NewRegistry(RegistryConfig{
		Timings: atlas.DefaultTimings(),
		Markers: markers.DefaultConfig(),
	}, NewEventBus(), logger.Discard())
}

func TestRegistryLifecycle(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry()

	sess, err := reg.Create(ctx, render.Config{Center: orb.Point{-75, 40}, Zoom: 11})
	require.NoError(t, err)
	ch := reg.Bus().Subscribe(sess.ID())
	defer reg.Bus().Unsubscribe(ch)

	got, err := reg.Get(sess.ID())
	require.NoError(t, err)
	assert.Same(t, sess, got)
	assert.Equal(t, []string{sess.ID()}, reg.IDs())

	yes := true
	require.NoError(t, sess.HandleRendererReport(ctx, atlas.RendererReport{
		Event:       render.Event{Type: render.EventLoad},
		StyleLoaded: &yes,
		Loaded:      &yes,
	}))
	applied, err := sess.ReceiveBusinesses(ctx, []business.Business{
		{ID: "a", Name: "A", Lat: 40, Lng: -75},
		{ID: "b", Name: "B", Lat: 40.01, Lng: -75},
	})
	require.NoError(t, err)
	assert.True(t, applied)

	snap, err := sess.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, atlas.ModeInteractive, snap.Mode)
	assert.Len(t, snap.Businesses, 2)

	// Renderer commands reach the session's subscribers.
	sawRender := false
	deadline := time.After(time.Second)
	for !sawRender {
		select {
		case ev := <-ch:
			assert.Equal(t, sess.ID(), ev.Session)
			sawRender = ev.Kind == EventRender
		case <-deadline:
			t.Fatal("no render event published")
		}
	}

	require.NoError(t, reg.Close(ctx, sess.ID()))
	_, err = reg.Get(sess.ID())
	assert.ErrorIs(t, err, atlas.ErrSessionNotFound)
	assert.ErrorIs(t, reg.Close(ctx, sess.ID()), atlas.ErrSessionNotFound)

	_, err = sess.Snapshot(ctx)
	assert.ErrorIs(t, err, atlas.ErrClosed)
}

func TestRegistryCloseAll(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry()
	for i := 0; i < 3; i++ {
		_, err := reg.Create(ctx, render.Config{})
		require.NoError(t, err)
	}
	assert.Len(t, reg.IDs(), 3)

	reg.CloseAll(ctx)
	assert.Empty(t, reg.IDs())
}

func TestRegistryJournal(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry()
	defer reg.CloseAll(ctx)

	sess, err := reg.Create(ctx, render.Config{Center: orb.Point{-75, 40}, Zoom: 11})
	require.NoError(t, err)

	journal, replayed, err := reg.Journal(sess.ID())
	require.NoError(t, err)
	require.NotEmpty(t, journal)
	assert.Equal(t, "create", journal[0].Op)

	ch := reg.Bus().Subscribe(sess.ID())
	defer reg.Bus().Unsubscribe(ch)
	yes := true
	require.NoError(t, sess.HandleRendererReport(ctx, atlas.RendererReport{
		Event:       render.Event{Type: render.EventLoad},
		StyleLoaded: &yes,
		Loaded:      &yes,
	}))
	_, err = sess.ReceiveBusinesses(ctx, []business.Business{{ID: "a", Name: "A", Lat: 40, Lng: -75}})
	require.NoError(t, err)

	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Kind != EventRender {
				continue
			}
			assert.Greater(t, ev.Seq, replayed)
			return
		case <-deadline:
			t.Fatal("no render event published")
		}
	}
}

func TestRegistryJournalKeepsLatestData(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry()
	defer reg.CloseAll(ctx)

	sess, err := reg.Create(ctx, render.Config{Center: orb.Point{-75, 40}, Zoom: 11})
	require.NoError(t, err)
	yes := true
	require.NoError(t, sess.HandleRendererReport(ctx, atlas.RendererReport{
		Event:       render.Event{Type: render.EventLoad},
		StyleLoaded: &yes,
		Loaded:      &yes,
	}))

	for i := range 20 {
		list := []business.Business{
			{ID: fmt.Sprintf("a%d", i), Name: "A", Lat: 40, Lng: -75},
			{ID: fmt.Sprintf("b%d", i), Name: "B", Lat: 40.01, Lng: -75.01},
		}
		_, err := sess.ReceiveBusinesses(ctx, list)
		require.NoError(t, err)
	}

	journal, replayed, err := reg.Journal(sess.ID())
	require.NoError(t, err)
	assert.Greater(t, replayed, len(journal))

	setData := 0
	for _, cmd := range journal {
		if cmd.Op == render.OpSetData && cmd.ID == markers.SourceBusinesses {
			setData++
		}
	}
	assert.Equal(t, 1, setData)
	assert.Equal(t, render.OpCreate, journal[0].Op)
}

func TestCompactJournal(t *testing.T) {
	var j []journaled
	seq := 0
	add := func(op, id string) {
		seq++
		j = compact(j, journaled{seq: seq, cmd: render.Command{Op: op, ID: id}})
	}
	ops := func() []string {
		out := make([]string, len(j))
		for i, x := range j {
			out[i] = x.cmd.Op + ":" + x.cmd.ID
		}
		return out
	}

	add(render.OpCreate, "")
	add(render.OpAddSource, "pins")
	add(render.OpSetData, "pins")
	add(render.OpAddLayer, "dots")
	add(string(render.CameraJump), "")
	add(render.OpSetData, "pins")
	add(string(render.CameraFly), "")
	assert.Equal(t, []string{"create:", "addSource:pins", "addLayer:dots", "setData:pins", "flyTo:"}, ops())

	add(render.OpRemoveLayer, "dots")
	add(render.OpAddSource, "pulse")
	add(render.OpSetData, "pulse")
	add(render.OpRemoveSource, "pulse")
	assert.Equal(t, []string{"create:", "addSource:pins", "setData:pins", "flyTo:"}, ops())

	for i := 1; i < len(j); i++ {
		assert.Less(t, j[i-1].seq, j[i].seq, "order is preserved")
	}
}
