// Package tour drives the self-running walk across a result set: the
// camera visits each business in order with a fixed dwell, until the last
// stop, a manual action, or Stop ends it.
package tour

import (
	"errors"
	"fmt"
	"time"

	"github.com/joeblew999/plat-atlas/internal/business"
	"github.com/joeblew999/plat-atlas/internal/loop"
	"github.com/joeblew999/plat-atlas/internal/metrics"
)

// ErrEmptyTour is returned when a tour is started without businesses.
var ErrEmptyTour = errors.New("tour needs at least one business")

// Config holds the dwell timings.
type Config struct {
	// IntroDwell is how long the tour-start message stays before stop 1.
	IntroDwell time.Duration
	// StopDwell is the time spent on each stop before advancing.
	StopDwell time.Duration
}

// DefaultConfig returns the stock timings.
func DefaultConfig() Config {
	return Config{IntroDwell: 1500 * time.Millisecond, StopDwell: 3 * time.Second}
}

// Hooks are the effects a tour has on the rest of the session. Every hook
// is optional.
type Hooks struct {
	// Focus flies the camera to b and marks it active.
	Focus func(b business.Business)
	// Intro announces the start of a multi-stop tour.
	Intro func(total int)
	// Announce shows the HUD line for a stop.
	Announce func(text string, b business.Business)
	// Complete raises the end-of-tour decision prompt.
	Complete func(last business.Business)
	// Changed observes state transitions.
	Changed func(State)
}

// State is a snapshot of the sequencer.
type State struct {
	Active     bool                `json:"active"`
	Businesses []business.Business `json:"businesses,omitempty"`
	Index      int                 `json:"index"`
}

// Sequencer is the tour state machine. It is loop-confined.
//
// Invariant: at most one timer is live. Arming always disarms first, and a
// timer whose generation is stale does nothing if it still fires.
type Sequencer struct {
	sched loop.Scheduler
	cfg   Config
	hooks Hooks

	active     bool
	businesses []business.Business
	index      int
	intro      bool // stop 1 not announced yet

	timer loop.Timer
	gen   uint64
}

// New returns an idle sequencer.
func New(sched loop.Scheduler, cfg Config, hooks Hooks) *Sequencer {
	return &Sequencer{sched: sched, cfg: cfg, hooks: hooks}
}

// State returns a snapshot.
func (s *Sequencer) State() State {
	return State{Active: s.active, Businesses: business.Clone(s.businesses), Index: s.index}
}

// Active reports whether a tour is running.
func (s *Sequencer) Active() bool { return s.active }

// Generation changes every time the tour is stopped, started or moved.
// Work deferred on the tour's behalf compares it to notice manual intent.
func (s *Sequencer) Generation() uint64 { return s.gen }

func (s *Sequencer) armed() bool { return s.timer != nil }

// Schedule starts a tour over list after delay. It cancels any current tour
// and occupies the tour timer until the start fires.
func (s *Sequencer) Schedule(list []business.Business, delay time.Duration) error {
	if len(list) == 0 {
		return ErrEmptyTour
	}
	s.Stop()
	list = business.Clone(list)
	s.arm(delay, func() { s.Start(list) })
	return nil
}

// Start begins a tour at the first business, cancelling any current one.
func (s *Sequencer) Start(list []business.Business) error {
	if len(list) == 0 {
		return ErrEmptyTour
	}
	s.Stop()

	s.active = true
	s.businesses = business.Clone(list)
	s.index = 0
	metrics.ToursStartedTotal.Inc()

	first := s.businesses[0]
	s.focus(first)

	if len(s.businesses) == 1 {
		s.announce(0)
		s.arm(s.cfg.StopDwell, s.finishQuietly)
		s.changed()
		return nil
	}

	if s.hooks.Intro != nil {
		s.hooks.Intro(len(s.businesses))
	}
	s.intro = true
	s.arm(s.cfg.IntroDwell, func() { s.Advance(0) })
	s.changed()
	return nil
}

// Advance moves the running tour to target. On the last stop the tour ends
// and the decision prompt is raised instead of a HUD line.
func (s *Sequencer) Advance(target int) {
	if !s.active || target < 0 || target >= len(s.businesses) {
		return
	}
	s.disarm()
	s.intro = false
	s.index = target
	b := s.businesses[target]
	s.focus(b)
	metrics.TourStopsTotal.Inc()

	if target == len(s.businesses)-1 {
		s.active = false
		if s.hooks.Complete != nil {
			s.hooks.Complete(b)
		}
		s.changed()
		return
	}

	s.announce(target)
	s.arm(s.cfg.StopDwell, func() { s.Advance(target + 1) })
	s.changed()
}

// Next is manual navigation forward. It ends any automated progression.
// During the intro it lands on stop 1, which has not been shown yet. It
// reports false when there is no next stop.
func (s *Sequencer) Next() bool {
	if s.active && s.intro {
		return s.jump(s.index)
	}
	return s.jump(s.index + 1)
}

// Previous is manual navigation backward.
func (s *Sequencer) Previous() bool { return s.jump(s.index - 1) }

// Load replaces the list manual navigation walks without starting a tour.
func (s *Sequencer) Load(list []business.Business, index int) {
	s.Stop()
	s.businesses = business.Clone(list)
	s.index = index
	s.changed()
}

// Stop cancels the pending timer and goes idle. It is idempotent.
func (s *Sequencer) Stop() {
	wasActive := s.active
	s.disarm()
	s.active = false
	s.intro = false
	if wasActive {
		s.changed()
	}
}

func (s *Sequencer) jump(target int) bool {
	s.Stop()
	if target < 0 || target >= len(s.businesses) {
		return false
	}
	s.index = target
	s.focus(s.businesses[target])
	s.announce(target)
	s.changed()
	return true
}

func (s *Sequencer) finishQuietly() {
	s.active = false
	s.changed()
}

func (s *Sequencer) focus(b business.Business) {
	if s.hooks.Focus != nil {
		s.hooks.Focus(b)
	}
}

func (s *Sequencer) announce(i int) {
	if s.hooks.Announce != nil {
		b := s.businesses[i]
		s.hooks.Announce(StopMessage(i, len(s.businesses), b), b)
	}
}

func (s *Sequencer) changed() {
	if s.hooks.Changed != nil {
		s.hooks.Changed(s.State())
	}
}

func (s *Sequencer) arm(d time.Duration, fn func()) {
	s.disarm()
	gen := s.gen
	s.timer = s.sched.AfterFunc(d, func() {
		if gen != s.gen {
			return
		}
		s.timer = nil
		fn()
	})
}

func (s *Sequencer) disarm() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// StopMessage formats the HUD line for stop i of total.
func StopMessage(i, total int, b business.Business) string {
	prefix := fmt.Sprintf("Stop %d of %d", i+1, total)
	if b.ReviewCount <= 0 {
		return prefix + " • " + b.Name
	}
	who := "people"
	if b.ReviewCount == 1 {
		who = "person"
	}
	return fmt.Sprintf("%s • Rated %.1f★ by %d %s on Google", prefix, b.Rating, b.ReviewCount, who)
}
