package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-atlas/internal/atlas"
	"github.com/joeblew999/plat-atlas/internal/humastar"
	"github.com/joeblew999/plat-atlas/internal/logger"
	"github.com/joeblew999/plat-atlas/internal/service"
	"github.com/joeblew999/plat-atlas/internal/templates"
)

// DOM events dispatched on the stream. The browser map bridge listens for
// RenderEvent and applies each command to the real renderer.
const (
	RenderEvent = "atlas-render"
	ListEvent   = "atlas-list"
)

// signalNames maps session event kinds to the Datastar signal they patch.
var signalNames = map[string]string{
	atlas.EventState:  "session",
	atlas.EventTour:   "tour",
	atlas.EventPrompt: "prompt",
	atlas.EventSelect: "selected",
}

// Stream sends a session's live output as Datastar SSE. It starts with the
// current snapshot and every renderer command issued so far, then follows
// the bus until the client leaves or the session closes.
func (h *APIHandler) Stream(ctx context.Context, input *SessionInput) (*huma.StreamResponse, error) {
	sess, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	reg := h.svc.Sessions
	bus := reg.Bus()

	// Subscribe before reading the journal so nothing falls in between.
	ch := bus.Subscribe(input.ID)
	journal, replayed, err := reg.Journal(input.ID)
	if err != nil {
		bus.Unsubscribe(ch)
		return nil, httpError(err)
	}
	snap, err := sess.Snapshot(ctx)
	if err != nil {
		bus.Unsubscribe(ch)
		return nil, httpError(err)
	}

	return humastar.Stream(func(sse humastar.SSE) {
		defer bus.Unsubscribe(ch)

		if err := sse.Signals(map[string]any{"session": snap, "closed": false}); err != nil {
			return
		}
		if err := h.patch(sse, templates.List, snap.Businesses); err != nil {
			return
		}
		if err := h.patch(sse, templates.HUD, snap.HUD); err != nil {
			return
		}
		for _, cmd := range journal {
			if err := sse.Event(RenderEvent, cmd); err != nil {
				return
			}
		}
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				done, err := h.forward(sse, ev, replayed)
				if done || err != nil {
					return
				}
			}
		}
	}), nil
}

// forward writes one bus event. Render commands already sent from the
// journal are skipped. It reports done once the session has closed.
func (h *APIHandler) forward(sse humastar.SSE, ev service.Event, replayed int) (bool, error) {
	switch ev.Kind {
	case service.EventRender:
		if ev.Seq <= replayed {
			return false, nil
		}
		return false, sse.Event(RenderEvent, ev.Data)
	case service.EventClosed:
		return true, sse.Signals(map[string]any{"closed": true})
	case atlas.EventList:
		if err := sse.Event(ListEvent, ev.Data); err != nil {
			return false, err
		}
		return false, h.patch(sse, templates.List, ev.Data)
	case atlas.EventHUD:
		if err := sse.Signals(map[string]any{"hud": ev.Data}); err != nil {
			return false, err
		}
		return false, h.patch(sse, templates.HUD, ev.Data)
	}
	if name, ok := signalNames[ev.Kind]; ok {
		return false, sse.Signals(map[string]any{name: ev.Data})
	}
	return false, sse.Event("atlas-"+ev.Kind, ev.Data)
}

// patch renders a fragment and morphs it into the page. Without fragments
// configured it does nothing. A template failure is logged, not fatal to
// the stream.
func (h *APIHandler) patch(sse humastar.SSE, name string, data any) error {
	if h.svc.Fragments == nil {
		return nil
	}
	html, err := h.svc.Fragments.Render(name, data)
	if err != nil {
		logger.L().Warn("fragment render failed", "fragment", name, "error", err)
		return nil
	}
	return sse.Patch(html)
}
