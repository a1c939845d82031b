package filter

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-atlas/internal/business"
	"github.com/joeblew999/plat-atlas/internal/geo"
)

var user = orb.Point{-73.9857, 40.7484}

func biz(id string, lat, lng float64, open bool) business.Business {
	return business.Business{
		ID:         id,
		Lat:        lat,
		Lng:        lng,
		ReasonMeta: &business.ReasonMeta{IsOpenNow: open},
	}
}

func fixture() []business.Business {
	return []business.Business{
		biz("far", user.Lat()+0.01, user.Lon(), true),      // ~1,112 m
		biz("here", user.Lat(), user.Lon(), false),         // 0 m
		biz("mid", user.Lat()+0.005, user.Lon(), true),     // ~556 m
		biz("closed", user.Lat()+0.002, user.Lon(), false), // ~222 m
	}
}

func TestIdentityWithoutFilters(t *testing.T) {
	base := fixture()
	assert.Equal(t, base, Apply(base, State{}, &user))
	assert.Equal(t, base, Apply(base, State{}, nil))

	res := Evaluate(base, State{}, &user)
	assert.False(t, res.NoMatches)
	assert.Nil(t, res.Distances)
}

func TestApplyIsPureAndDeterministic(t *testing.T) {
	base := fixture()
	snapshot := business.Clone(base)
	f := State{OpenNow: true}.WithMaxDistance(2000)

	first := Apply(base, f, &user)
	second := Apply(base, f, &user)

	assert.Equal(t, first, second)
	assert.Equal(t, snapshot, base, "base must not be reordered or mutated")
}

func TestOpenNowUsesPrecomputedFact(t *testing.T) {
	got := Apply(fixture(), State{OpenNow: true}, nil)
	ids := idsOf(got)
	assert.Equal(t, []string{"far", "mid"}, ids)

	noMeta := []business.Business{{ID: "x"}}
	assert.Empty(t, Apply(noMeta, State{OpenNow: true}, nil))
}

func TestDistanceFilter(t *testing.T) {
	res := Evaluate(fixture(), State{}.WithMaxDistance(1000), &user)

	assert.Equal(t, []string{"here", "closed", "mid"}, idsOf(res.Businesses), "nearest first, far excluded")
	assert.NotContains(t, res.Distances, "far")

	expected := geo.Haversine(user, orb.Point{user.Lon(), user.Lat() + 0.005})
	assert.InEpsilon(t, expected, res.Distances["mid"], 0.01)
	assert.InDelta(t, 555.97, res.Distances["mid"], 5.6)
	assert.Zero(t, res.Distances["here"])
}

func TestWithDistances(t *testing.T) {
	base := fixture()
	base = append(base, business.Business{ID: "bare", Lat: user.Lat(), Lng: user.Lon()})

	got := WithDistances(base, user)
	require.Len(t, got, len(base))
	for i, b := range got {
		require.NotNil(t, b.ReasonMeta, b.ID)
		require.NotNil(t, b.ReasonMeta.DistanceMeters, b.ID)
		assert.InDelta(t, geo.Haversine(user, base[i].Point()), *b.ReasonMeta.DistanceMeters, 1e-9)
	}
	assert.True(t, got[0].ReasonMeta.IsOpenNow, "other facts are kept")
	assert.InDelta(t, 555.97, *got[2].ReasonMeta.DistanceMeters, 5.6)

	assert.Nil(t, base[0].ReasonMeta.DistanceMeters, "input records are untouched")
	assert.Nil(t, base[4].ReasonMeta)
}

func TestDistanceFilterWithoutLocationIsSkipped(t *testing.T) {
	base := fixture()
	res := Evaluate(base, State{}.WithMaxDistance(10), nil)

	assert.True(t, res.DistanceSkipped)
	assert.Equal(t, base, res.Businesses)
	assert.ErrorIs(t, State{}.WithMaxDistance(10).Validate(nil), ErrLocationRequired)
	assert.NoError(t, State{}.WithMaxDistance(10).Validate(&user))
	assert.NoError(t, State{OpenNow: true}.Validate(nil))
}

func TestNoMatches(t *testing.T) {
	var closed []business.Business
	for i := 0; i < 5; i++ {
		closed = append(closed, biz(string(rune('a'+i)), 0, 0, false))
	}

	res := Evaluate(closed, State{OpenNow: true}, nil)
	assert.Empty(t, res.Businesses)
	assert.True(t, res.NoMatches)

	// An empty base is not a filter miss.
	assert.False(t, Evaluate(nil, State{OpenNow: true}, nil).NoMatches)
}

func TestParseIntent(t *testing.T) {
	cases := map[string]Intent{
		"open now":                   IntentOpenNow,
		"  Open Now! ":               IntentOpenNow,
		"show places open right now": IntentOpenNow,
		"closer":                     IntentCloser,
		"Nearby":                     IntentCloser,
		"something closer":           IntentCloser,
		"near me":                    IntentCloser,
		"clear":                      IntentClear,
		"reset filters":              IntentClear,
		"Show all.":                  IntentClear,
		"coffee open now":            IntentNone,
		"tacos":                      IntentNone,
		"":                           IntentNone,
	}
	for q, want := range cases {
		assert.Equal(t, want, ParseIntent(q), q)
	}
}

func TestCloser(t *testing.T) {
	s := Closer(State{})
	require.NotNil(t, s.MaxDistanceMeters)
	assert.Equal(t, NearbyMeters, *s.MaxDistanceMeters)

	s = Closer(s)
	assert.Equal(t, NearbyMeters/2, *s.MaxDistanceMeters)
}

func idsOf(list []business.Business) []string {
	ids := make([]string, len(list))
	for i, b := range list {
		ids[i] = b.ID
	}
	return ids
}
