package render

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-atlas/internal/loop"
	"github.com/joeblew999/plat-atlas/internal/metrics"
)

// State is the lifecycle of a Surface.
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateStyleReady
	StateInteractive
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateStyleReady:
		return "styleReady"
	case StateInteractive:
		return "interactive"
	default:
		return "uninitialized"
	}
}

// SurfaceConfig tunes readiness polling.
type SurfaceConfig struct {
	PollInterval time.Duration
	MaxPolls     int
}

// DefaultSurfaceConfig polls every 50ms for up to 10s.
func DefaultSurfaceConfig() SurfaceConfig {
	return SurfaceConfig{PollInterval: 50 * time.Millisecond, MaxPolls: 200}
}

// Surface owns the single renderer of a session. It is confined to the
// session loop.
//
// Invariants: at most one camera request is queued (last write wins) and it
// is replayed exactly once; mutations issued before the renderer is
// interactive are deferred, keyed so that a later write to the same
// resource replaces the earlier one.
type Surface struct {
	r      Renderer
	sched  loop.Scheduler
	cfg    SurfaceConfig
	logger *slog.Logger

	state   State
	created bool
	failed  bool
	closed  bool

	pending  *Camera
	deferred []deferredOp
	waiters  []func()

	pollTimer loop.Timer
	polls     int
	gate      *readinessGate
}

type deferredOp struct {
	key string
	fn  func()
}

// readinessGate is registered for load, styledata and idle.
type readinessGate struct{ s *Surface }

func (g *readinessGate) HandleEvent(ev Event) { g.s.checkReady(ev.Type) }

// NewSurface wraps r. Nothing is created until Initialize.
func NewSurface(r Renderer, sched loop.Scheduler, cfg SurfaceConfig, logger *slog.Logger) *Surface {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultSurfaceConfig().PollInterval
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = DefaultSurfaceConfig().MaxPolls
	}
	s := &Surface{
		r:      r,
		sched:  sched,
		cfg:    cfg,
		logger: logger.With("component", "surface"),
	}
	s.gate = &readinessGate{s: s}
	return s
}

// Initialize creates the renderer once. Later calls are no-ops.
func (s *Surface) Initialize(cfg Config) {
	if s.created || s.closed {
		return
	}
	s.created = true
	s.state = StateLoading

	if err := s.guard("create", func() error { return s.r.Create(cfg) }); err != nil {
		s.failed = true
		s.logger.Warn("renderer unavailable, continuing without map", "error", err)
		return
	}
	s.r.On(EventLoad, "", s.gate)
	s.r.On(EventStyleData, "", s.gate)
	s.schedulePoll()
	s.checkReady("init")
}

// State returns the lifecycle state.
func (s *Surface) State() State { return s.state }

// IsReady reports whether the renderer is interactive.
func (s *Surface) IsReady() bool { return s.state == StateInteractive }

// WhenReady runs fn on the loop once the renderer is interactive, or
// immediately if it already is.
func (s *Surface) WhenReady(fn func()) {
	if s.closed {
		return
	}
	if s.state == StateInteractive {
		fn()
		return
	}
	s.waiters = append(s.waiters, fn)
}

// FlyTo animates the camera to center.
func (s *Surface) FlyTo(center orb.Point, zoom float64) {
	s.move(Camera{Mode: CameraFly, Center: center, Zoom: zoom})
}

// JumpTo moves the camera without animation.
func (s *Surface) JumpTo(center orb.Point, zoom float64) {
	s.move(Camera{Mode: CameraJump, Center: center, Zoom: zoom})
}

// EaseTo eases the camera to center.
func (s *Surface) EaseTo(center orb.Point, zoom float64) {
	s.move(Camera{Mode: CameraEase, Center: center, Zoom: zoom})
}

// PendingCamera returns the queued camera request, if any.
func (s *Surface) PendingCamera() (Camera, bool) {
	if s.pending == nil {
		return Camera{}, false
	}
	return *s.pending, true
}

func (s *Surface) move(cam Camera) {
	if s.closed || s.failed {
		return
	}
	if s.state != StateInteractive {
		s.pending = &cam
		s.logger.Debug("camera queued", "mode", cam.Mode, "center", cam.Center)
		return
	}
	s.guard(string(cam.Mode), func() error { return s.r.Move(cam) })
}

// SetSourceData updates the named source in place, creating it from spec
// when it does not exist yet. Clustering options only apply on creation.
func (s *Surface) SetSourceData(id string, spec SourceSpec) {
	s.whenInteractive("source:"+id, func() {
		s.guard("setSourceData", func() error {
			if src, ok := s.r.GetSource(id); ok {
				return src.SetData(spec.Data)
			}
			return s.r.AddSource(id, spec)
		})
	})
}

// RemoveSource drops a source if present.
func (s *Surface) RemoveSource(id string) {
	s.whenInteractive("source:"+id, func() {
		if _, ok := s.r.GetSource(id); !ok {
			return
		}
		s.guard("removeSource", func() error { return s.r.RemoveSource(id) })
	})
}

// AddLayer adds layer unless a layer with the same id exists.
func (s *Surface) AddLayer(layer LayerSpec, before string) {
	s.whenInteractive("layer:"+layer.ID, func() {
		if s.r.HasLayer(layer.ID) {
			return
		}
		if before != "" && !s.r.HasLayer(before) {
			before = ""
		}
		s.guard("addLayer", func() error { return s.r.AddLayer(layer, before) })
	})
}

// RemoveLayer removes a layer if present.
func (s *Surface) RemoveLayer(id string) {
	s.whenInteractive("layer:"+id, func() {
		if !s.r.HasLayer(id) {
			return
		}
		s.guard("removeLayer", func() error { return s.r.RemoveLayer(id) })
	})
}

// AddImage registers an icon unless one with the same id exists.
func (s *Surface) AddImage(id string, img Image, opts ImageOptions) {
	s.whenInteractive("image:"+id, func() {
		if s.r.HasImage(id) {
			return
		}
		s.guard("addImage", func() error { return s.r.AddImage(id, img, opts) })
	})
}

// Bind attaches h for event on layer, first detaching the same reference so
// that repeated calls never stack registrations.
func (s *Surface) Bind(event, layer string, h Handler) {
	if s.closed || s.failed {
		return
	}
	s.r.Off(event, layer, h)
	s.r.On(event, layer, h)
}

// Unbind detaches h.
func (s *Surface) Unbind(event, layer string, h Handler) {
	if s.failed {
		return
	}
	s.r.Off(event, layer, h)
}

// ClusterExpansionZoom asks the renderer for the zoom that splits a cluster.
func (s *Surface) ClusterExpansionZoom(source string, clusterID int) (float64, error) {
	if s.state != StateInteractive {
		return 0, fmt.Errorf("cluster %d: renderer %s", clusterID, s.state)
	}
	return s.r.ClusterExpansionZoom(source, clusterID)
}

// SetCursor changes the map cursor.
func (s *Surface) SetCursor(cursor string) {
	if s.state == StateInteractive {
		s.r.SetCursor(cursor)
	}
}

// Close cancels the readiness poll and any queued work, then removes the
// renderer. It is idempotent.
func (s *Surface) Close() {
	if s.closed {
		return
	}
	s.closed = true
	if s.pollTimer != nil {
		s.pollTimer.Stop()
		s.pollTimer = nil
	}
	s.pending = nil
	s.deferred = nil
	s.waiters = nil
	if s.created && !s.failed {
		s.r.Off(EventLoad, "", s.gate)
		s.r.Off(EventStyleData, "", s.gate)
		s.guard("remove", s.r.Remove)
	}
}

func (s *Surface) whenInteractive(key string, fn func()) {
	if s.closed || s.failed {
		return
	}
	if s.state == StateInteractive {
		fn()
		return
	}
	for i := range s.deferred {
		if s.deferred[i].key == key {
			s.deferred[i].fn = fn
			return
		}
	}
	s.deferred = append(s.deferred, deferredOp{key: key, fn: fn})
}

func (s *Surface) schedulePoll() {
	s.pollTimer = s.sched.AfterFunc(s.cfg.PollInterval, func() {
		s.pollTimer = nil
		s.polls++
		s.checkReady("poll")
		if s.state == StateInteractive || s.closed {
			return
		}
		if s.polls >= s.cfg.MaxPolls {
			s.logger.Warn("renderer never became ready", "polls", s.polls)
			return
		}
		s.schedulePoll()
	})
}

// checkReady requires both the style and the full load to be confirmed;
// either alone races.
func (s *Surface) checkReady(trigger string) {
	if s.closed || s.state == StateInteractive || !s.created || s.failed {
		return
	}
	styleLoaded := s.r.IsStyleLoaded()
	loaded := s.r.Loaded()
	if styleLoaded && s.state == StateLoading {
		s.state = StateStyleReady
	}
	if styleLoaded && loaded {
		s.markReady()
		return
	}
	if trigger == EventLoad || trigger == EventStyleData {
		s.r.Once(EventIdle, s.gate)
	}
}

func (s *Surface) markReady() {
	s.state = StateInteractive
	if s.pollTimer != nil {
		s.pollTimer.Stop()
		s.pollTimer = nil
	}
	s.r.Off(EventLoad, "", s.gate)
	s.r.Off(EventStyleData, "", s.gate)
	s.logger.Debug("renderer interactive", "polls", s.polls)

	if cam := s.pending; cam != nil {
		s.pending = nil
		s.guard(string(cam.Mode), func() error { return s.r.Move(*cam) })
	}

	ops := s.deferred
	s.deferred = nil
	for _, op := range ops {
		op.fn()
	}

	waiters := s.waiters
	s.waiters = nil
	for _, fn := range waiters {
		fn()
	}
}

// guard runs a renderer operation, converting errors and panics into a log
// line so a misbehaving renderer degrades visuals instead of the session.
func (s *Surface) guard(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", op, r)
		}
		if err != nil {
			metrics.RendererFailuresTotal.WithLabelValues(op).Inc()
			s.logger.Warn("renderer operation failed", "op", op, "error", err)
		}
	}()
	return fn()
}

// FeatureCollection is a small helper for single-feature sources.
func FeatureCollection(features ...*geojson.Feature) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, f := range features {
		fc.Append(f)
	}
	return fc
}
