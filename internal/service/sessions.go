// Package service holds the long-lived Atlas services behind the API: the
// session registry and the event bus that carries session output to
// clients.
package service

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/joeblew999/plat-atlas/internal/atlas"
	"github.com/joeblew999/plat-atlas/internal/loop"
	"github.com/joeblew999/plat-atlas/internal/markers"
	"github.com/joeblew999/plat-atlas/internal/metrics"
	"github.com/joeblew999/plat-atlas/internal/render"
)

// Bus kinds published by the registry itself.
const (
	// EventRender carries a render.Command.
	EventRender = "render"
	// EventClosed is the last event of a session.
	EventClosed = "closed"
)

// RegistryConfig configures new sessions.
type RegistryConfig struct {
	Searcher  atlas.Searcher
	Notifier  atlas.Notifier
	Timings   atlas.Timings
	Markers   markers.Config
	FocusZoom float64
}

// Registry owns the open sessions, each running on its own loop with a
// headless renderer whose commands are published on the bus.
type Registry struct {
	cfg    RegistryConfig
	bus    *EventBus
	base   *slog.Logger
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*entry
}

type entry struct {
	session *atlas.Session
	loop    *loop.Loop
	cancel  context.CancelFunc

	// journal is the compacted render history a late client replays to
	// rebuild the map. seq numbers every command ever published.
	mu      sync.Mutex
	journal []journaled
	seq     int
}

type journaled struct {
	seq int
	cmd render.Command
}

func (e *entry) record(bus *EventBus, id string, cmd render.Command) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	e.journal = compact(e.journal, journaled{seq: e.seq, cmd: cmd})
	bus.Publish(Event{Session: id, Kind: EventRender, Data: cmd, Seq: e.seq})
}

// compact appends next to journal, keeping only what a fresh map needs:
// the latest data per source, the latest camera and cursor, and no trace
// of layers or sources that were removed again.
func compact(journal []journaled, next journaled) []journaled {
	cmd := next.cmd
	var drop func(render.Command) bool
	keep := true
	switch {
	case cmd.Op == render.OpSetData:
		drop = func(c render.Command) bool { return c.Op == render.OpSetData && c.ID == cmd.ID }
	case isCamera(cmd.Op):
		drop = func(c render.Command) bool { return isCamera(c.Op) }
	case cmd.Op == render.OpCursor:
		drop = func(c render.Command) bool { return c.Op == render.OpCursor }
	case cmd.Op == render.OpRemoveLayer:
		keep = false
		drop = func(c render.Command) bool { return c.Op == render.OpAddLayer && c.ID == cmd.ID }
	case cmd.Op == render.OpRemoveSource:
		keep = false
		drop = func(c render.Command) bool {
			return (c.Op == render.OpAddSource || c.Op == render.OpSetData) && c.ID == cmd.ID
		}
	}

	if drop != nil {
		kept := journal[:0]
		for _, j := range journal {
			if !drop(j.cmd) {
				kept = append(kept, j)
			}
		}
		journal = kept
	}
	if keep {
		journal = append(journal, next)
	}
	return journal
}

func isCamera(op string) bool {
	switch render.CameraMode(op) {
	case render.CameraFly, render.CameraJump, render.CameraEase:
		return true
	}
	return false
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig, bus *EventBus, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cfg:      cfg,
		bus:      bus,
		base:     logger,
		logger:   logger.With("component", "registry"),
		sessions: make(map[string]*entry),
	}
}

// Bus returns the event bus.
func (r *Registry) Bus() *EventBus { return r.bus }

// Create opens a session and creates its renderer with mapCfg.
func (r *Registry) Create(ctx context.Context, mapCfg render.Config) (*atlas.Session, error) {
	id := uuid.NewString()
	lp := loop.New(r.base.With("session", id))
	runCtx, cancel := context.WithCancel(context.Background())
	go lp.Run(runCtx)

	e := &entry{loop: lp, cancel: cancel}
	rec := render.NewRecorder(func(cmd render.Command) { e.record(r.bus, id, cmd) })
	sess := atlas.New(atlas.Options{
		ID:        id,
		Scheduler: lp,
		Renderer:  rec,
		Searcher:  r.cfg.Searcher,
		Notifier:  r.cfg.Notifier,
		Emit: func(kind string, data any) {
			r.bus.Publish(Event{Session: id, Kind: kind, Data: data})
		},
		Logger:    r.base,
		Timings:   r.cfg.Timings,
		Markers:   r.cfg.Markers,
		FocusZoom: r.cfg.FocusZoom,
	})
	if err := sess.Open(ctx, mapCfg); err != nil {
		cancel()
		lp.Close()
		return nil, err
	}

	e.session = sess
	r.mu.Lock()
	r.sessions[id] = e
	r.mu.Unlock()
	metrics.SessionsOpen.Inc()
	r.logger.Info("session opened", "session", id)
	return sess, nil
}

// Get returns an open session.
func (r *Registry) Get(id string) (*atlas.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil, atlas.ErrSessionNotFound
	}
	return e.session, nil
}

// Journal returns the compacted render history of a session and the Seq
// of the last command it covers. Bus render events with a Seq at or below
// that are already reflected in the history.
func (r *Registry) Journal(id string) ([]render.Command, int, error) {
	r.mu.Lock()
	e, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return nil, 0, atlas.ErrSessionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cmds := make([]render.Command, len(e.journal))
	for i, j := range e.journal {
		cmds[i] = j.cmd
	}
	return cmds, e.seq, nil
}

// IDs returns the open session ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close tears a session down and stops its loop.
func (r *Registry) Close(ctx context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return atlas.ErrSessionNotFound
	}

	err := e.session.Close(ctx)
	e.loop.Close()
	e.cancel()
	r.bus.Publish(Event{Session: id, Kind: EventClosed})
	metrics.SessionsOpen.Dec()
	r.logger.Info("session closed", "session", id)
	return err
}

// CloseAll closes every session.
func (r *Registry) CloseAll(ctx context.Context) {
	for _, id := range r.IDs() {
		if err := r.Close(ctx, id); err != nil {
			r.logger.Warn("session close failed", "session", id, "error", err)
		}
	}
}
