// Package business holds the immutable business records the Atlas map works
// with. Records arrive from search results and are replaced wholesale.
package business

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// Tier drives pin colour.
type Tier int

const (
	TierUnclaimed Tier = iota
	TierClaimedFree
	TierPaid
)

var tierNames = map[Tier]string{
	TierUnclaimed:   "unclaimed",
	TierClaimedFree: "claimed_free",
	TierPaid:        "paid",
}

// String returns the wire name of the tier.
func (t Tier) String() string {
	if s, ok := tierNames[t]; ok {
		return s
	}
	return "unclaimed"
}

// ParseTier converts a wire name into a Tier.
func ParseTier(s string) (Tier, error) {
	for t, name := range tierNames {
		if name == s {
			return t, nil
		}
	}
	return TierUnclaimed, fmt.Errorf("unknown tier %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t Tier) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(b []byte) error {
	v, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ReasonType classifies why a business is shown.
type ReasonType string

const (
	ReasonFeatured ReasonType = "featured"
	ReasonOpenNow  ReasonType = "open_now"
	ReasonNearby   ReasonType = "nearby"
	ReasonTopRated ReasonType = "top_rated"
	ReasonMatch    ReasonType = "match"
)

// Reason is the why-shown tag rendered next to a pin.
type Reason struct {
	Type  ReasonType `json:"type" doc:"Reason kind" example:"open_now"`
	Label string     `json:"label" doc:"Short label" example:"Open now"`
	Glyph string     `json:"glyph,omitempty" doc:"Icon glyph" example:"🕒"`
}

// ReasonMeta carries facts already resolved by the directory.
type ReasonMeta struct {
	IsOpenNow      bool     `json:"isOpenNow" doc:"Whether the business is open at query time"`
	DistanceMeters *float64 `json:"distanceMeters,omitempty" doc:"Distance from the user in meters"`
	RatingBadge    string   `json:"ratingBadge,omitempty" doc:"Badge such as 'Top rated'"`
}

// Business is a single search result.
type Business struct {
	ID          string      `json:"id" required:"true" doc:"Business identifier" example:"biz_123"`
	Name        string      `json:"name" doc:"Display name" example:"Blue Door Coffee"`
	Category    string      `json:"category,omitempty" doc:"Category" example:"coffee"`
	Lat         float64     `json:"lat" minimum:"-90" maximum:"90" doc:"Latitude"`
	Lng         float64     `json:"lng" minimum:"-180" maximum:"180" doc:"Longitude"`
	Rating      float64     `json:"rating,omitempty" minimum:"0" maximum:"5" doc:"Google rating"`
	ReviewCount int         `json:"reviewCount,omitempty" minimum:"0" doc:"Google review count"`
	Tier        Tier        `json:"tier" doc:"paid, claimed_free or unclaimed"`
	Reason      *Reason     `json:"reason,omitempty" doc:"Why this business is shown"`
	ReasonMeta  *ReasonMeta `json:"reasonMeta,omitempty" doc:"Resolved facts used by filters"`
}

// Point returns the business position.
func (b Business) Point() orb.Point { return orb.Point{b.Lng, b.Lat} }

// OpenNow reports the precomputed open-now fact.
func (b Business) OpenNow() bool { return b.ReasonMeta != nil && b.ReasonMeta.IsOpenNow }

// Key identifies a set of businesses independent of order. Ids are length
// prefixed so no id content can make two different sets collide, and the
// empty set has a key of its own ("0"), distinct from no set at all.
func Key(list []Business) string {
	ids := make([]string, len(list))
	for i, b := range list {
		ids[i] = b.ID
	}
	sort.Strings(ids)

	var sb strings.Builder
	sb.WriteString(strconv.Itoa(len(ids)))
	for _, id := range ids {
		fmt.Fprintf(&sb, "|%d:%s", len(id), id)
	}
	return sb.String()
}

// Index returns the position of id in list, or -1.
func Index(list []Business, id string) int {
	for i, b := range list {
		if b.ID == id {
			return i
		}
	}
	return -1
}

// Clone returns a shallow copy of list so callers can keep a snapshot.
func Clone(list []Business) []Business {
	if list == nil {
		return nil
	}
	out := make([]Business, len(list))
	copy(out, list)
	return out
}
