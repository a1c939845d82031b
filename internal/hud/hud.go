// Package hud implements the transient text bubble shown over the Atlas map.
package hud

import (
	"fmt"
	"time"

	"github.com/joeblew999/plat-atlas/internal/loop"
	"github.com/joeblew999/plat-atlas/internal/metrics"
)

// Kind distinguishes HUD messages.
type Kind string

const (
	KindBusiness  Kind = "business"
	KindSummary   Kind = "summary"
	KindTour      Kind = "tour"
	KindNoMatches Kind = "no_matches"
	KindRestored  Kind = "restored"
	KindGuidance  Kind = "guidance"
	KindError     Kind = "error"
)

// Message is a HUD payload.
type Message struct {
	Kind        Kind
	Summary     string
	PrimaryName string
	// AutoDismiss of zero keeps the message until replaced or dismissed.
	AutoDismiss time.Duration
}

// State is the visible HUD. DismissDeadline is nil while the message has
// no auto-dismiss.
type State struct {
	Visible             bool       `json:"visible"`
	Kind                Kind       `json:"kind,omitempty"`
	SummaryText         string     `json:"summaryText"`
	PrimaryBusinessName string     `json:"primaryBusinessName,omitempty"`
	DismissDeadline     *time.Time `json:"dismissDeadline"`
}

// Config holds the HUD timings.
type Config struct {
	AppearDelay      time.Duration
	NoMatchesDismiss time.Duration
	RestoredDismiss  time.Duration
	GuidanceDismiss  time.Duration
	ErrorDismiss     time.Duration
}

// DefaultConfig returns the stock HUD timings.
func DefaultConfig() Config {
	return Config{
		AppearDelay:      120 * time.Millisecond,
		NoMatchesDismiss: 4 * time.Second,
		RestoredDismiss:  2500 * time.Millisecond,
		GuidanceDismiss:  5 * time.Second,
		ErrorDismiss:     4 * time.Second,
	}
}

// Channel owns the HUD state and its single timer. It is loop-confined.
//
// Invariant: at most one timer is outstanding, either the delayed
// appearance of the next message or the auto-dismiss of the current one.
// Every new message stops that timer before arming another.
type Channel struct {
	sched    loop.Scheduler
	cfg      Config
	onChange func(State)

	state State
	timer loop.Timer
	gen   uint64
}

// New returns a hidden HUD. onChange, if set, observes every state change.
func New(sched loop.Scheduler, cfg Config, onChange func(State)) *Channel {
	return &Channel{sched: sched, cfg: cfg, onChange: onChange}
}

// State returns the current HUD.
func (c *Channel) State() State { return c.state }

// Show replaces the current message immediately.
func (c *Channel) Show(summary, primaryName string, autoDismiss time.Duration) {
	c.ShowMessage(Message{Kind: KindSummary, Summary: summary, PrimaryName: primaryName, AutoDismiss: autoDismiss})
}

// ShowMessage replaces the current message immediately.
func (c *Channel) ShowMessage(m Message) {
	c.disarm()
	c.apply(m)
}

// ShowAfterCamera shows m after the appearance delay so the bubble follows
// the camera move that was just issued. A newer message supersedes it.
func (c *Channel) ShowAfterCamera(m Message) {
	c.disarm()
	if c.cfg.AppearDelay <= 0 {
		c.apply(m)
		return
	}
	gen := c.gen
	c.timer = c.sched.AfterFunc(c.cfg.AppearDelay, func() {
		if gen != c.gen {
			return
		}
		c.timer = nil
		c.apply(m)
	})
}

// NoMatches reports that the active filters hide every result.
func (c *Channel) NoMatches(hint string) {
	text := "No places match your current filters."
	if hint != "" {
		text += " " + hint
	}
	c.ShowMessage(Message{Kind: KindNoMatches, Summary: text, AutoDismiss: c.cfg.NoMatchesDismiss})
}

// Restored reports that filters were cleared and count results are back.
func (c *Channel) Restored(count int) {
	c.ShowMessage(Message{
		Kind:        KindRestored,
		Summary:     fmt.Sprintf("Showing all %d %s again.", count, plural(count, "place", "places")),
		AutoDismiss: c.cfg.RestoredDismiss,
	})
}

// Guidance shows an instruction such as a request to share location.
func (c *Channel) Guidance(text string) {
	c.ShowMessage(Message{Kind: KindGuidance, Summary: text, AutoDismiss: c.cfg.GuidanceDismiss})
}

// Failure shows the generic apology after a failed search.
func (c *Channel) Failure() {
	c.ShowMessage(Message{
		Kind:        KindError,
		Summary:     "Sorry, something went wrong with that search. Please try again.",
		AutoDismiss: c.cfg.ErrorDismiss,
	})
}

// Dismiss hides the HUD immediately and cancels its timer.
func (c *Channel) Dismiss() {
	c.disarm()
	if !c.state.Visible {
		return
	}
	c.state = State{}
	c.notify()
}

// Close cancels the timer without touching the visible state.
func (c *Channel) Close() { c.disarm() }

func (c *Channel) apply(m Message) {
	c.state = State{
		Visible:             true,
		Kind:                m.Kind,
		SummaryText:         m.Summary,
		PrimaryBusinessName: m.PrimaryName,
	}
	if m.AutoDismiss > 0 {
		deadline := c.sched.Now().Add(m.AutoDismiss)
		c.state.DismissDeadline = &deadline
		gen := c.gen
		c.timer = c.sched.AfterFunc(m.AutoDismiss, func() {
			if gen != c.gen {
				return
			}
			c.timer = nil
			c.state = State{}
			c.notify()
		})
	}
	metrics.HUDMessagesTotal.WithLabelValues(string(m.Kind)).Inc()
	c.notify()
}

func (c *Channel) disarm() {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Channel) notify() {
	if c.onChange != nil {
		c.onChange(c.state)
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
