// Package atlas is the session controller of the Atlas map: it owns the
// base result set and filters, and coordinates the render surface, the
// marker layers, the tour and the HUD.
//
// All session state lives on the session's loop. Exported methods may be
// called from any goroutine and hop onto the loop; callbacks that already
// run on the loop use the unexported variants.
package atlas

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-atlas/internal/business"
	"github.com/joeblew999/plat-atlas/internal/filter"
	"github.com/joeblew999/plat-atlas/internal/hud"
	"github.com/joeblew999/plat-atlas/internal/loop"
	"github.com/joeblew999/plat-atlas/internal/markers"
	"github.com/joeblew999/plat-atlas/internal/render"
	"github.com/joeblew999/plat-atlas/internal/tour"
)

// Options configures a session.
type Options struct {
	ID        string
	Scheduler loop.Scheduler
	Renderer  render.Renderer
	Searcher  Searcher
	Notifier  Notifier
	Emit      EmitFunc
	Logger    *slog.Logger
	Timings   Timings
	Markers   markers.Config
	// FocusZoom is the zoom used when the camera visits a single business.
	FocusZoom float64
}

// Session is one Atlas map.
//
// Invariants: the visible set is always filter.Evaluate(base, filters,
// user); the selected business and the tour list are members of the base
// set; lastKey identifies the one inbound list already processed.
type Session struct {
	id        string
	sched     loop.Scheduler
	renderer  render.Renderer
	searcher  Searcher
	notifier  Notifier
	emit      EmitFunc
	logger    *slog.Logger
	timings   Timings
	focusZoom float64

	surface *render.Surface
	markers *markers.Manager
	tour    *tour.Sequencer
	hud     *hud.Channel

	base      []business.Business
	visible   []business.Business
	noMatches bool
	filters   filter.State
	user      *orb.Point
	selected  string
	prompt    *Prompt
	lastKey   string
	searching bool
	searchSeq uint64
	closed    bool
}

// New builds a session. Nothing touches the renderer until Open.
func New(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session", opts.ID)
	if opts.FocusZoom == 0 {
		opts.FocusZoom = 15
	}

	s := &Session{
		id:        opts.ID,
		sched:     opts.Scheduler,
		renderer:  opts.Renderer,
		searcher:  opts.Searcher,
		notifier:  opts.Notifier,
		emit:      opts.Emit,
		logger:    logger,
		timings:   opts.Timings,
		focusZoom: opts.FocusZoom,
	}
	s.surface = render.NewSurface(opts.Renderer, opts.Scheduler, opts.Timings.Surface, logger)
	s.markers = markers.New(s.surface, opts.Markers, logger, s.pinSelected)
	s.hud = hud.New(opts.Scheduler, opts.Timings.HUD, func(st hud.State) { s.publish(EventHUD, st) })
	s.tour = tour.New(opts.Scheduler, opts.Timings.Tour, tour.Hooks{
		Focus:    s.tourFocus,
		Intro:    s.tourIntro,
		Announce: s.tourAnnounce,
		Complete: s.tourComplete,
		Changed:  func(st tour.State) { s.publish(EventTour, st) },
	})
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Open creates the renderer. It is a no-op after the first call.
func (s *Session) Open(ctx context.Context, cfg render.Config) error {
	return s.do(ctx, func() error {
		first := s.surface.State() == render.StateUninitialized
		s.surface.Initialize(cfg)
		if first {
			s.surface.WhenReady(func() {
				s.logger.Debug("session interactive")
				s.publishState()
			})
		}
		s.publishState()
		return nil
	})
}

// Snapshot returns the current session state.
func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.do(ctx, func() error {
		snap = s.snapshot()
		return nil
	})
	return snap, err
}

// ReceiveBusinesses installs an externally supplied result list. A list
// with the same ids as the last one processed is ignored; the result
// reports whether the list was applied.
func (s *Session) ReceiveBusinesses(ctx context.Context, list []business.Business) (bool, error) {
	var applied bool
	err := s.do(ctx, func() error {
		key := business.Key(list)
		if key == s.lastKey {
			s.logger.Debug("duplicate business list ignored", "count", len(list))
			return nil
		}
		applied = true
		s.load(list)
		return nil
	})
	return applied, err
}

// SetFilters replaces the active filters. A distance filter without a user
// location is rejected with filter.ErrLocationRequired and a HUD prompt.
func (s *Session) SetFilters(ctx context.Context, f filter.State) error {
	return s.do(ctx, func() error { return s.setFilters(f) })
}

// ClearFilters restores the full base set.
func (s *Session) ClearFilters(ctx context.Context) error {
	return s.do(ctx, func() error {
		s.clearFilters()
		return nil
	})
}

// SetUserLocation records where the user is. Visible businesses are
// annotated with their distance from it.
func (s *Session) SetUserLocation(ctx context.Context, p orb.Point) error {
	return s.do(ctx, func() error {
		s.user = &p
		s.markers.SetUserLocation(p)
		if len(s.base) > 0 {
			s.refresh()
		}
		s.publishState()
		return nil
	})
}

// SelectBusiness focuses id as if its pin was clicked.
func (s *Session) SelectBusiness(ctx context.Context, id string) error {
	return s.do(ctx, func() error { return s.selectBusiness(id) })
}

// Next moves to the next stop, ending any automated tour. It reports
// whether there was a next stop.
func (s *Session) Next(ctx context.Context) (bool, error) {
	var moved bool
	err := s.do(ctx, func() error {
		moved = s.tour.Next()
		return nil
	})
	return moved, err
}

// Previous moves to the previous stop, ending any automated tour.
func (s *Session) Previous(ctx context.Context) (bool, error) {
	var moved bool
	err := s.do(ctx, func() error {
		moved = s.tour.Previous()
		return nil
	})
	return moved, err
}

// StopTour cancels the running tour.
func (s *Session) StopTour(ctx context.Context) error {
	return s.do(ctx, func() error {
		s.tour.Stop()
		return nil
	})
}

// StartTour starts a tour over the visible businesses.
func (s *Session) StartTour(ctx context.Context) error {
	return s.do(ctx, func() error {
		s.setPrompt(nil)
		return s.tour.Start(s.visible)
	})
}

// DismissHUD hides the HUD. Dismissing also ends the tour.
func (s *Session) DismissHUD(ctx context.Context) error {
	return s.do(ctx, func() error {
		s.tour.Stop()
		s.hud.Dismiss()
		return nil
	})
}

// AnswerPrompt resolves the end-of-tour prompt.
func (s *Session) AnswerPrompt(ctx context.Context, choice PromptChoice) error {
	return s.do(ctx, func() error {
		if s.prompt == nil {
			return ErrNoPrompt
		}
		switch choice {
		case ChoiceRestart:
			s.setPrompt(nil)
			return s.tour.Start(s.visible)
		case ChoiceList:
			s.setPrompt(nil)
			s.publish(EventList, business.Clone(s.visible))
		case ChoiceSearch:
			s.setPrompt(nil)
		default:
			return fmt.Errorf("%w: %q", ErrInvalidChoice, choice)
		}
		s.track("prompt_answered", map[string]any{"choice": string(choice)})
		return nil
	})
}

// RequestDetails notifies the host that details for id were requested.
func (s *Session) RequestDetails(ctx context.Context, id string) error {
	return s.do(ctx, func() error {
		if business.Index(s.base, id) < 0 {
			return ErrUnknownBusiness
		}
		if s.notifier != nil {
			s.notifier.RequestDetails(s.id, id)
		}
		return nil
	})
}

// Directions notifies the host that directions to id were requested.
func (s *Session) Directions(ctx context.Context, id string) error {
	return s.do(ctx, func() error {
		if business.Index(s.base, id) < 0 {
			return ErrUnknownBusiness
		}
		if s.notifier != nil {
			s.notifier.DirectionsClicked(s.id, id)
		}
		return nil
	})
}

// HandleRendererReport applies readiness flags and dispatches the event
// reported by the client map. It is a no-op for local renderers.
func (s *Session) HandleRendererReport(ctx context.Context, rep RendererReport) error {
	return s.do(ctx, func() error {
		remote, ok := s.renderer.(RemoteRenderer)
		if !ok {
			return nil
		}
		if rep.StyleLoaded != nil {
			remote.SetStyleLoaded(*rep.StyleLoaded)
		}
		if rep.Loaded != nil {
			remote.SetLoaded(*rep.Loaded)
		}
		if rep.ExpansionZoom != nil {
			remote.SetClusterExpansion(rep.Event.ClusterID, *rep.ExpansionZoom)
		}
		if rep.Event.Type != "" {
			remote.Emit(rep.Event)
		}
		return nil
	})
}

// Close cancels every pending timer and then tears down the renderer. It
// is idempotent.
func (s *Session) Close(ctx context.Context) error {
	err := s.sched.Do(ctx, func() {
		if s.closed {
			return
		}
		s.closed = true
		s.hud.Close()
		s.tour.Stop()
		s.markers.Detach()
		s.surface.Close()
		s.prompt = nil
		s.logger.Debug("session closed")
	})
	if errors.Is(err, loop.ErrClosed) {
		return nil
	}
	return err
}

func (s *Session) do(ctx context.Context, fn func() error) error {
	var opErr error
	err := s.sched.Do(ctx, func() {
		if s.closed {
			opErr = ErrClosed
			return
		}
		opErr = fn()
	})
	if errors.Is(err, loop.ErrClosed) {
		return ErrClosed
	}
	if err != nil {
		return err
	}
	return opErr
}

// load replaces the base set. Filters reset so a fresh result set is never
// hidden by stale predicates.
func (s *Session) load(list []business.Business) {
	s.lastKey = business.Key(list)
	s.tour.Stop()
	s.setPrompt(nil)
	s.base = business.Clone(list)
	s.filters = filter.State{}
	s.selected = ""
	s.markers.SetActiveBusiness(nil)
	s.refresh()
	s.tour.Load(s.visible, 0)

	if len(s.visible) == 0 {
		s.publishState()
		return
	}

	first := s.visible[0]
	s.surface.JumpTo(first.Point(), s.focusZoom)
	if len(s.visible) > 1 {
		// Any selection, dismissal, filter or search before the map is
		// interactive moves the tour generation and cancels the auto tour.
		gen := s.tour.Generation()
		s.surface.WhenReady(func() {
			if s.closed || s.tour.Generation() != gen || len(s.visible) < 2 {
				return
			}
			if err := s.tour.Schedule(s.visible, s.timings.TourStartDelay); err != nil {
				s.logger.Warn("tour not scheduled", "error", err)
			}
		})
	} else {
		s.selected = first.ID
		s.markers.SetActiveBusiness(&first)
	}
	s.publishState()
}

// refresh recomputes the visible set and pushes it to the map.
func (s *Session) refresh() filter.Result {
	res := filter.Evaluate(s.base, s.filters, s.user)
	s.visible = res.Businesses
	if s.user != nil {
		s.visible = filter.WithDistances(s.visible, *s.user)
	}
	s.noMatches = res.NoMatches
	s.markers.SetBusinesses(s.visible)

	if s.selected != "" && business.Index(s.visible, s.selected) < 0 {
		s.selected = ""
		s.markers.SetActiveBusiness(nil)
	}
	return res
}

func (s *Session) setFilters(f filter.State) error {
	if err := f.Validate(s.user); err != nil {
		s.hud.Guidance("Share your location so I can find places near you.")
		return err
	}
	s.tour.Stop()
	s.setPrompt(nil)
	s.filters = f
	res := s.refresh()
	s.tour.Load(s.visible, 0)

	switch {
	case res.NoMatches:
		s.hud.NoMatches(`Say "show all" to see every result again.`)
	case f.Active():
		s.hud.Show(describeFilters(len(s.visible), f), "", s.timings.HUD.RestoredDismiss)
	}
	s.publishState()
	return nil
}

func (s *Session) clearFilters() {
	wasActive := s.filters.Active()
	s.filters = filter.State{}
	s.refresh()
	s.tour.Load(s.visible, 0)
	if wasActive {
		s.hud.Restored(len(s.base))
	}
	s.publishState()
}

func (s *Session) selectBusiness(id string) error {
	i := business.Index(s.visible, id)
	if i < 0 {
		return ErrUnknownBusiness
	}
	s.setPrompt(nil)
	s.tour.Load(s.visible, i)

	b := s.visible[i]
	s.focus(b)
	s.hud.ShowAfterCamera(hud.Message{
		Kind:        hud.KindBusiness,
		Summary:     describeBusiness(b),
		PrimaryName: b.Name,
	})
	s.publish(EventSelect, b)
	s.track("select", map[string]any{"businessId": b.ID})
	return nil
}

// pinSelected runs on the loop from the pin click handler.
func (s *Session) pinSelected(id string) {
	if err := s.selectBusiness(id); err != nil {
		s.logger.Debug("pin selection ignored", "id", id, "error", err)
	}
}

func (s *Session) focus(b business.Business) {
	s.selected = b.ID
	s.markers.SetActiveBusiness(&b)
	s.surface.FlyTo(b.Point(), s.focusZoom)
}

func (s *Session) tourFocus(b business.Business) { s.focus(b) }

func (s *Session) tourIntro(total int) {
	s.hud.ShowAfterCamera(hud.Message{
		Kind:    hud.KindTour,
		Summary: fmt.Sprintf("I found %d places. Let me show you around.", total),
	})
}

func (s *Session) tourAnnounce(text string, b business.Business) {
	s.hud.ShowAfterCamera(hud.Message{Kind: hud.KindTour, Summary: text, PrimaryName: b.Name})
}

func (s *Session) tourComplete(last business.Business) {
	s.hud.Dismiss()
	s.setPrompt(&Prompt{
		Question:       "That was the last stop. What would you like to do next?",
		Options:        []PromptChoice{ChoiceRestart, ChoiceList, ChoiceSearch},
		LastBusinessID: last.ID,
	})
	s.track("tour_complete", map[string]any{"stops": len(s.tour.State().Businesses)})
}

func (s *Session) setPrompt(p *Prompt) {
	if s.prompt == nil && p == nil {
		return
	}
	s.prompt = p
	s.publish(EventPrompt, p)
}

func (s *Session) track(kind string, payload map[string]any) {
	if s.notifier == nil {
		return
	}
	payload["session"] = s.id
	s.notifier.Track(kind, payload)
}

func (s *Session) mode() Mode {
	switch st := s.surface.State(); {
	case st == render.StateUninitialized:
		return ModeUninitialized
	case st == render.StateInteractive:
		return ModeInteractive
	default:
		return ModeLoading
	}
}

func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		ID:         s.id,
		Mode:       s.mode(),
		Renderer:   s.surface.State().String(),
		Searching:  s.searching,
		BaseCount:  len(s.base),
		Businesses: business.Clone(s.visible),
		Filters:    s.filters,
		NoMatches:  s.noMatches,
		Selected:   s.selected,
		Tour:       s.tour.State(),
		HUD:        s.hud.State(),
		Prompt:     s.prompt,
	}
	if s.user != nil {
		p := *s.user
		snap.UserLocation = &p
	}
	if cam, ok := s.surface.PendingCamera(); ok {
		snap.PendingCamera = &cam
	}
	return snap
}

func (s *Session) publishState() { s.publish(EventState, s.snapshot()) }

func (s *Session) publish(kind string, data any) {
	if s.emit != nil {
		s.emit(kind, data)
	}
}

func describeFilters(n int, f filter.State) string {
	noun := "places"
	if n == 1 {
		noun = "place"
	}
	switch {
	case f.OpenNow && f.MaxDistanceMeters != nil:
		return fmt.Sprintf("%d %s open now within %s.", n, noun, formatDistance(*f.MaxDistanceMeters))
	case f.OpenNow:
		return fmt.Sprintf("%d %s open now.", n, noun)
	default:
		return fmt.Sprintf("%d %s within %s.", n, noun, formatDistance(*f.MaxDistanceMeters))
	}
}

func formatDistance(m float64) string {
	if m < 1000 {
		return fmt.Sprintf("%.0f m", m)
	}
	return fmt.Sprintf("%.1f km", m/1000)
}

func describeBusiness(b business.Business) string {
	if b.Reason != nil && b.Reason.Label != "" {
		return fmt.Sprintf("%s • %s", b.Name, b.Reason.Label)
	}
	if b.ReviewCount > 0 {
		return fmt.Sprintf("%s • %.1f★ (%d)", b.Name, b.Rating, b.ReviewCount)
	}
	return b.Name
}
