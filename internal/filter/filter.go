// Package filter derives the visible business set from a base result set
// and the active filter predicates. Everything here is pure.
package filter

import (
	"errors"
	"sort"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-atlas/internal/business"
	"github.com/joeblew999/plat-atlas/internal/geo"
)

// ErrLocationRequired is returned when a distance filter is requested
// without a known user location.
var ErrLocationRequired = errors.New("user location required for distance filter")

// NearbyMeters is the radius applied by a plain "nearby" request.
const NearbyMeters = 1609.0

// State is the set of active filters. The zero value means no filters.
type State struct {
	OpenNow           bool     `json:"openNow"`
	MaxDistanceMeters *float64 `json:"maxDistanceMeters,omitempty"`
}

// Active reports whether any filter is set.
func (s State) Active() bool { return s.OpenNow || s.MaxDistanceMeters != nil }

// WithMaxDistance returns s with the distance filter set to meters.
func (s State) WithMaxDistance(meters float64) State {
	s.MaxDistanceMeters = &meters
	return s
}

// Validate rejects a distance filter that has no location to measure from.
func (s State) Validate(user *orb.Point) error {
	if s.MaxDistanceMeters != nil && user == nil {
		return ErrLocationRequired
	}
	return nil
}

// Result is the outcome of applying filters.
type Result struct {
	Businesses []business.Business
	// Distances holds meters from the user, keyed by id, when the distance
	// filter ran.
	Distances map[string]float64
	// NoMatches is set when filters hid a non-empty base set entirely.
	NoMatches bool
	// DistanceSkipped is set when the distance filter was requested without
	// a location; callers must prompt for location.
	DistanceSkipped bool
}

// Apply returns the businesses that pass f. See Evaluate.
func Apply(base []business.Business, f State, user *orb.Point) []business.Business {
	return Evaluate(base, f, user).Businesses
}

// Evaluate filters base without mutating it. The open-now filter trusts the
// precomputed ReasonMeta.IsOpenNow. The distance filter keeps businesses
// within MaxDistanceMeters of user and sorts them nearest first; without a
// user location it is skipped and flagged.
func Evaluate(base []business.Business, f State, user *orb.Point) Result {
	out := make([]business.Business, 0, len(base))
	for _, b := range base {
		if f.OpenNow && !b.OpenNow() {
			continue
		}
		out = append(out, b)
	}

	res := Result{}
	if f.MaxDistanceMeters != nil {
		if user == nil {
			res.DistanceSkipped = true
		} else {
			out, res.Distances = withinDistance(out, *user, *f.MaxDistanceMeters)
		}
	}

	res.Businesses = out
	res.NoMatches = f.Active() && len(base) > 0 && len(out) == 0
	return res
}

func withinDistance(list []business.Business, user orb.Point, maxMeters float64) ([]business.Business, map[string]float64) {
	dist := make(map[string]float64, len(list))
	kept := list[:0]
	for _, b := range list {
		d := geo.Haversine(user, b.Point())
		if d <= maxMeters {
			dist[b.ID] = d
			kept = append(kept, b)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return dist[kept[i].ID] < dist[kept[j].ID]
	})
	return kept, dist
}

// WithDistances returns copies of list whose ReasonMeta carries the
// distance from user in meters. The records in list are not modified.
func WithDistances(list []business.Business, user orb.Point) []business.Business {
	out := make([]business.Business, len(list))
	for i, b := range list {
		var meta business.ReasonMeta
		if b.ReasonMeta != nil {
			meta = *b.ReasonMeta
		}
		d := geo.Haversine(user, b.Point())
		meta.DistanceMeters = &d
		b.ReasonMeta = &meta
		out[i] = b
	}
	return out
}
