package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-atlas/internal/atlas"
	"github.com/joeblew999/plat-atlas/internal/business"
	"github.com/joeblew999/plat-atlas/internal/db"
	"github.com/joeblew999/plat-atlas/internal/directory"
	"github.com/joeblew999/plat-atlas/internal/humastar"
	"github.com/joeblew999/plat-atlas/internal/logger"
	"github.com/joeblew999/plat-atlas/internal/markers"
	"github.com/joeblew999/plat-atlas/internal/render"
	"github.com/joeblew999/plat-atlas/internal/service"
	"github.com/joeblew999/plat-atlas/internal/templates"
)

type recordingNotifier struct {
	mu         sync.Mutex
	details    []string
	directions []string
}

func (n *recordingNotifier) RequestDetails(_, id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.details = append(n.details, id)
}

func (n *recordingNotifier) DirectionsClicked(_, id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.directions = append(n.directions, id)
}

func (n *recordingNotifier) Track(string, map[string]any) {}

func minutes(h, m int) *int {
	v := h*60 + m
	return &v
}

type fixture struct {
	svc      *Services
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := db.Open(db.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	opts := directory.DefaultOptions()
	opts.Now = func() time.Time { return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC) }
	store := directory.New(conn, opts)
	ctx := context.Background()
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Upsert(ctx,
		directory.Listing{ID: "b1", Name: "Blue Door Coffee", Category: "coffee", Lat: 40.000, Lng: -75.000,
			Rating: 4.7, ReviewCount: 210, Tier: business.TierClaimedFree, OpenMinute: minutes(7, 0), CloseMinute: minutes(18, 0)},
		directory.Listing{ID: "b2", Name: "Corner Espresso", Category: "coffee", Lat: 40.010, Lng: -75.000,
			Rating: 4.1, ReviewCount: 12, Tier: business.TierPaid, OpenMinute: minutes(6, 0), CloseMinute: minutes(11, 0)},
		directory.Listing{ID: "b3", Name: "Night Owl Coffee Bar", Category: "coffee", Lat: 40.020, Lng: -75.000,
			Rating: 3.9, ReviewCount: 40, OpenMinute: minutes(20, 0), CloseMinute: minutes(2, 0)},
	))

	timings := atlas.DefaultTimings()
	// Tours only start when a test asks for one.
	timings.TourStartDelay = time.Hour
	notifier := &recordingNotifier{}
	reg := service.NewRegistry(service.RegistryConfig{
		Searcher: store,
		Notifier: notifier,
		Timings:  timings,
		Markers:  markers.DefaultConfig(),
	}, service.NewEventBus(), logger.Discard())
	t.Cleanup(func() { reg.CloseAll(context.Background()) })

	return &fixture{
		svc:      &Services{Sessions: reg, Directory: store, Searcher: store},
		notifier: notifier,
	}
}

func apiConfig(links *humastar.Links) huma.Config {
	cfg := huma.DefaultConfig("plat-atlas API", Version)
	cfg.CreateHooks = nil
	cfg.Transformers = append(cfg.Transformers, links.Transformer())
	return cfg
}

func (f *fixture) testAPI(t *testing.T) humatest.TestAPI {
	links := &humastar.Links{Search: "/api/v1/directory/search", Skip: []string{"stream"}}
	_, api := humatest.New(t, apiConfig(links))
	RegisterRoutes(api, f.svc)
	NewInfoHandler("", "directory").RegisterRoutes(api)
	links.Build(api)
	return api
}

func decode[T any](t *testing.T, resp *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &v), resp.Body.String())
	return v
}

func hasLink(resp *httptest.ResponseRecorder, rel string) bool {
	for _, l := range resp.Header().Values("Link") {
		if strings.Contains(l, `rel="`+rel+`"`) {
			return true
		}
	}
	return false
}

var ready = map[string]any{
	"event":       map[string]any{"type": render.EventLoad},
	"styleLoaded": true,
	"loaded":      true,
}

// openSession creates a session and reports the map as loaded.
func openSession(t *testing.T, api humatest.TestAPI) string {
	t.Helper()
	resp := api.Post("/api/v1/sessions", map[string]any{"center": []float64{-75, 40}, "zoom": 11})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	body := decode[SessionBody](t, resp)
	assert.Equal(t, "/api/v1/sessions/"+body.ID, resp.Header().Get("Location"))
	assert.Equal(t, atlas.ModeLoading, body.Mode)

	resp = api.Post("/api/v1/sessions/"+body.ID+"/renderer/events", ready)
	require.Equal(t, http.StatusNoContent, resp.Code, resp.Body.String())
	return body.ID
}

func results() map[string]any {
	return map[string]any{"businesses": []map[string]any{
		{"id": "b1", "name": "Blue Door Coffee", "lat": 40.000, "lng": -75.000, "tier": "claimed_free"},
		{"id": "b2", "name": "Corner Espresso", "lat": 40.010, "lng": -75.000, "tier": "paid"},
		{"id": "b3", "name": "Night Owl Coffee Bar", "lat": 40.020, "lng": -75.000, "tier": "unclaimed"},
	}}
}

func TestHealthAndInfo(t *testing.T) {
	api := newFixture(t).testAPI(t)

	resp := api.Get("/health")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, HealthBody{Status: "ok", Version: Version}, decode[HealthBody](t, resp))
	assert.True(t, hasLink(resp, "sessions"))
	assert.True(t, hasLink(resp, "search"))

	resp = api.Get("/api/v1/info")
	require.Equal(t, http.StatusOK, resp.Code)
	info := decode[InfoBody](t, resp)
	assert.Equal(t, "plat-atlas", info.Name)
	assert.Contains(t, info.Features, "directory")
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t)
	api := f.testAPI(t)
	id := openSession(t, api)

	resp := api.Get("/api/v1/sessions/" + id)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, atlas.ModeInteractive, decode[SessionBody](t, resp).Mode)
	assert.True(t, hasLink(resp, "self"))
	assert.True(t, hasLink(resp, "search"))
	assert.False(t, hasLink(resp, "start-tour"))

	resp = api.Get("/api/v1/sessions")
	assert.Equal(t, []string{id}, decode[SessionListBody](t, resp).Sessions)

	resp = api.Post("/api/v1/sessions/"+id+"/businesses", results())
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	rb := decode[ReceiveBody](t, resp)
	assert.True(t, rb.Applied)
	assert.Len(t, rb.Businesses, 3)
	assert.True(t, hasLink(resp, "start-tour"))

	resp = api.Post("/api/v1/sessions/"+id+"/businesses", results())
	assert.False(t, decode[ReceiveBody](t, resp).Applied)

	resp = api.Delete("/api/v1/sessions/" + id)
	require.Equal(t, http.StatusNoContent, resp.Code)
	assert.Equal(t, http.StatusNotFound, api.Get("/api/v1/sessions/"+id).Code)
	assert.Equal(t, http.StatusNotFound, api.Delete("/api/v1/sessions/"+id).Code)
}

func TestSessionSearch(t *testing.T) {
	api := newFixture(t).testAPI(t)
	id := openSession(t, api)

	resp := api.Post("/api/v1/sessions/"+id+"/search", map[string]any{"query": "coffee"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	body := decode[SessionBody](t, resp)
	assert.False(t, body.Searching)
	ids := make([]string, 0, len(body.Businesses))
	for _, b := range body.Businesses {
		ids = append(ids, b.ID)
	}
	assert.Equal(t, []string{"b2", "b1", "b3"}, ids)

	// Filter phrases never reach the directory.
	resp = api.Post("/api/v1/sessions/"+id+"/search", map[string]any{"query": "open now"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	body = decode[SessionBody](t, resp)
	assert.True(t, body.Filters.OpenNow)
	assert.True(t, hasLink(resp, "clear-filters"))
	for _, b := range body.Businesses {
		assert.True(t, b.OpenNow(), b.ID)
	}

	resp = api.Post("/api/v1/sessions/"+id+"/search", map[string]any{"query": "closer"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)

	resp = api.Delete("/api/v1/sessions/" + id + "/filters")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, decode[SessionBody](t, resp).Businesses, 3)
}

func TestFiltersNeedLocation(t *testing.T) {
	api := newFixture(t).testAPI(t)
	id := openSession(t, api)
	require.Equal(t, http.StatusOK, api.Post("/api/v1/sessions/"+id+"/businesses", results()).Code)

	near := map[string]any{"openNow": false, "maxDistanceMeters": 500}
	resp := api.Put("/api/v1/sessions/"+id+"/filters", near)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)

	resp = api.Put("/api/v1/sessions/"+id+"/location", map[string]any{"lat": 40.0, "lng": -75.0})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, &orb.Point{-75, 40}, decode[SessionBody](t, resp).UserLocation)

	resp = api.Put("/api/v1/sessions/"+id+"/filters", near)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	body := decode[SessionBody](t, resp)
	require.Len(t, body.Businesses, 1)
	assert.Equal(t, "b1", body.Businesses[0].ID)
}

func TestTourAndSelection(t *testing.T) {
	f := newFixture(t)
	api := f.testAPI(t)
	id := openSession(t, api)
	require.Equal(t, http.StatusOK, api.Post("/api/v1/sessions/"+id+"/businesses", results()).Code)

	resp := api.Post("/api/v1/sessions/"+id+"/select", map[string]any{"businessId": "nope"})
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = api.Post("/api/v1/sessions/"+id+"/select", map[string]any{"businessId": "b2"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, "b2", decode[SessionBody](t, resp).Selected)

	resp = api.Post("/api/v1/sessions/"+id+"/tour/start")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	tb := decode[TourBody](t, resp)
	assert.True(t, tb.Moved)
	assert.True(t, tb.Tour.Active)
	assert.True(t, hasLink(resp, "next"))
	assert.True(t, hasLink(resp, "stop-tour"))

	resp = api.Post("/api/v1/sessions/"+id+"/tour/stop")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.False(t, decode[TourBody](t, resp).Tour.Active)

	assert.Equal(t, http.StatusUnprocessableEntity, api.Post("/api/v1/sessions/"+id+"/tour/sideways").Code)

	resp = api.Post("/api/v1/sessions/"+id+"/prompt", map[string]any{"choice": "restart"})
	assert.Equal(t, http.StatusConflict, resp.Code)

	resp = api.Post("/api/v1/sessions/"+id+"/hud/dismiss")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.False(t, decode[SessionBody](t, resp).HUD.Visible)
}

func TestNotifications(t *testing.T) {
	f := newFixture(t)
	api := f.testAPI(t)
	id := openSession(t, api)
	require.Equal(t, http.StatusOK, api.Post("/api/v1/sessions/"+id+"/businesses", results()).Code)

	assert.Equal(t, http.StatusAccepted, api.Post("/api/v1/sessions/"+id+"/details", map[string]any{"businessId": "b1"}).Code)
	assert.Equal(t, http.StatusAccepted, api.Post("/api/v1/sessions/"+id+"/directions", map[string]any{"businessId": "b3"}).Code)
	assert.Equal(t, http.StatusNotFound, api.Post("/api/v1/sessions/"+id+"/details", map[string]any{"businessId": "zz"}).Code)

	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	assert.Equal(t, []string{"b1"}, f.notifier.details)
	assert.Equal(t, []string{"b3"}, f.notifier.directions)
}

func TestDirectoryRoutes(t *testing.T) {
	api := newFixture(t).testAPI(t)

	resp := api.Post("/api/v1/directory/businesses", map[string]any{"businesses": []map[string]any{
		{"id": "b4", "name": "Taco Stand", "category": "Mexican", "lat": 40.03, "lng": -75.0, "rating": 4.9, "reviewCount": 5},
	}})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, UpsertResult{Upserted: 1, Total: 4}, decode[UpsertResult](t, resp))

	resp = api.Get("/api/v1/directory/businesses?offset=0&limit=2")
	require.Equal(t, http.StatusOK, resp.Code)
	page := decode[humastar.PageBody[directory.Listing]](t, resp)
	assert.Equal(t, 4, page.Total)
	require.Len(t, page.Data, 2)
	assert.Equal(t, "b1", page.Data[0].ID)
	assert.True(t, hasLink(resp, "next"))
	assert.False(t, hasLink(resp, "prev"))

	resp = api.Get("/api/v1/directory/businesses/b4")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "mexican", decode[directory.Listing](t, resp).Category)

	resp = api.Get("/api/v1/directory/search?q=coffee&near=-75,40.02")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	found := decode[DirectorySearchBody](t, resp)
	assert.Equal(t, []string{"b2", "b1", "b3"}, found.BusinessIDs)
	assert.Len(t, found.Businesses, 3)
	assert.Contains(t, found.Summary, "Closest is Night Owl Coffee Bar")

	tile := maptile.At(orb.Point{-75, 40}, 10)
	resp = api.Get(fmt.Sprintf("/api/v1/directory/tiles/10/%d/%d", tile.X, tile.Y))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "application/vnd.mapbox-vector-tile", resp.Header().Get("Content-Type"))
	assert.Equal(t, "gzip", resp.Header().Get("Content-Encoding"))
	assert.NotEmpty(t, resp.Body.Bytes())
	assert.Equal(t, http.StatusNoContent, api.Get("/api/v1/directory/tiles/10/0/0").Code)
	assert.Equal(t, http.StatusNotFound, api.Get("/api/v1/directory/tiles/2/4/0").Code)

	require.Equal(t, http.StatusOK, api.Delete("/api/v1/directory/businesses/b4").Code)
	assert.Equal(t, http.StatusNotFound, api.Get("/api/v1/directory/businesses/b4").Code)
}

func TestHTTPErrorMapping(t *testing.T) {
	cases := map[error]int{
		atlas.ErrSessionNotFound: http.StatusNotFound,
		atlas.ErrClosed:          http.StatusGone,
		atlas.ErrInvalidChoice:   http.StatusBadRequest,
		context.Canceled:         http.StatusServiceUnavailable,
	}
	for err, status := range cases {
		var se huma.StatusError
		require.ErrorAs(t, httpError(err), &se)
		assert.Equal(t, status, se.GetStatus(), err.Error())
	}

	var se huma.StatusError
	require.ErrorAs(t, upstreamError(assert.AnError), &se)
	assert.Equal(t, http.StatusBadGateway, se.GetStatus())
	require.ErrorAs(t, httpError(assert.AnError), &se)
	assert.Equal(t, http.StatusInternalServerError, se.GetStatus())
	assert.NoError(t, httpError(nil))
}

func TestStream(t *testing.T) {
	f := newFixture(t)
	fragments, err := templates.New()
	require.NoError(t, err)
	f.svc.Fragments = fragments
	mux := http.NewServeMux()
	api := humago.New(mux, apiConfig(&humastar.Links{}))
	RegisterRoutes(api, f.svc)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx := context.Background()
	sess, err := f.svc.Sessions.Create(ctx, render.Config{Center: orb.Point{-75, 40}, Zoom: 11})
	require.NoError(t, err)

	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, srv.URL+"/api/v1/sessions/"+sess.ID()+"/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	lines := make(chan string, 1024)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	waitFor := func(substr string) {
		t.Helper()
		for line := range lines {
			if strings.Contains(line, substr) {
				return
			}
		}
		t.Fatalf("stream ended before %q", substr)
	}

	// Snapshot and fragments first, then the journal replays the create command.
	waitFor(`"session"`)
	waitFor(`id="atlas-list"`)
	waitFor(`id="atlas-hud"`)
	waitFor(RenderEvent)

	require.NoError(t, f.svc.Sessions.Close(ctx, sess.ID()))
	waitFor(`"closed":true`)
	for range lines {
	}
}
