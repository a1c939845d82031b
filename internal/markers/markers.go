// Package markers maintains the Atlas map layers: business pins and their
// clusters, the active pin with its arrival pulse, the arc route and the
// user location. It is the only code that mutates sources and layers.
package markers

import (
	"log/slog"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-atlas/internal/business"
	"github.com/joeblew999/plat-atlas/internal/geo"
	"github.com/joeblew999/plat-atlas/internal/render"
)

// Source, layer and image identifiers.
const (
	SourceBusinesses = "atlas-businesses"
	SourceActive     = "atlas-active"
	SourceArrival    = "atlas-arrival"
	SourceRoute      = "atlas-route"
	SourceUser       = "atlas-user"

	LayerRoute        = "atlas-route-line"
	LayerClusters     = "atlas-clusters"
	LayerClusterCount = "atlas-cluster-count"
	LayerPins         = "atlas-pins"
	LayerArrival      = "atlas-arrival-pulse"
	LayerActive       = "atlas-active-pin"
	LayerUser         = "atlas-user-location"

	ImagePulse = "atlas-pulse"
)

// Config holds clustering and styling options.
type Config struct {
	ClusterRadius  int
	ClusterMaxZoom int
	ArcPoints      int
	TierColors     map[business.Tier]string
	ActiveColor    string
	UserColor      string
}

// DefaultConfig returns the stock pin styling.
func DefaultConfig() Config {
	return Config{
		ClusterRadius:  50,
		ClusterMaxZoom: 14,
		ArcPoints:      geo.DefaultArcPoints,
		TierColors: map[business.Tier]string{
			business.TierPaid:        "#f5b301",
			business.TierClaimedFree: "#2f80ed",
			business.TierUnclaimed:   "#9aa5b1",
		},
		ActiveColor: "#ff6b35",
		UserColor:   "#2563eb",
	}
}

// Manager owns the map layers of one session. It is loop-confined.
type Manager struct {
	surface  *render.Surface
	cfg      Config
	logger   *slog.Logger
	onSelect func(id string)

	byID        map[string]business.Business
	active      *business.Business
	user        *orb.Point
	activeShown bool
	routeShown  bool
	layersAdded bool

	// Stable handler references, bound once and re-bound in place.
	pinClick     *pinClickHandler
	clusterClick *clusterClickHandler
	cursor       *cursorHandler
}

// New returns a manager drawing on surface. onSelect is called with the id
// of a clicked pin.
func New(surface *render.Surface, cfg Config, logger *slog.Logger, onSelect func(id string)) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		surface:  surface,
		cfg:      cfg,
		logger:   logger.With("component", "markers"),
		onSelect: onSelect,
		byID:     make(map[string]business.Business),
	}
	m.pinClick = &pinClickHandler{m: m}
	m.clusterClick = &clusterClickHandler{m: m}
	m.cursor = &cursorHandler{m: m}
	return m
}

// SetBusinesses replaces the pins. The shared source is updated in place;
// its clustering options are only used the first time it is created.
func (m *Manager) SetBusinesses(list []business.Business) {
	m.byID = make(map[string]business.Business, len(list))
	fc := geojson.NewFeatureCollection()
	for _, b := range list {
		m.byID[b.ID] = b
		fc.Append(m.pinFeature(b))
	}

	m.surface.SetSourceData(SourceBusinesses, render.SourceSpec{
		Data:           fc,
		Cluster:        true,
		ClusterRadius:  m.cfg.ClusterRadius,
		ClusterMaxZoom: m.cfg.ClusterMaxZoom,
	})
	m.addPinLayers()
	m.bindHandlers()
}

// Has reports whether id is among the current pins.
func (m *Manager) Has(id string) bool {
	_, ok := m.byID[id]
	return ok
}

// Active returns the active business, if any.
func (m *Manager) Active() (business.Business, bool) {
	if m.active == nil {
		return business.Business{}, false
	}
	return *m.active, true
}

// SetActiveBusiness highlights b with the active pin and arrival pulse and
// draws a route to it when the user location is known. nil clears it.
func (m *Manager) SetActiveBusiness(b *business.Business) {
	if b == nil {
		m.active = nil
		if m.activeShown {
			m.surface.SetSourceData(SourceActive, render.SourceSpec{Data: geojson.NewFeatureCollection()})
			m.surface.SetSourceData(SourceArrival, render.SourceSpec{Data: geojson.NewFeatureCollection()})
		}
		m.ClearRoute()
		return
	}

	cp := *b
	m.active = &cp
	feature := m.pinFeature(cp)

	m.surface.SetSourceData(SourceActive, render.SourceSpec{Data: render.FeatureCollection(feature)})
	m.surface.AddLayer(render.LayerSpec{
		ID:     LayerActive,
		Type:   "circle",
		Source: SourceActive,
		Paint: map[string]any{
			"circle-color":        m.cfg.ActiveColor,
			"circle-radius":       11,
			"circle-stroke-width": 3,
			"circle-stroke-color": "#ffffff",
		},
	}, LayerUser)

	m.surface.AddImage(ImagePulse, render.NewPulseIcon(), render.ImageOptions{PixelRatio: 2})
	m.surface.SetSourceData(SourceArrival, render.SourceSpec{Data: render.FeatureCollection(geojson.NewFeature(cp.Point()))})
	m.surface.AddLayer(render.LayerSpec{
		ID:     LayerArrival,
		Type:   "symbol",
		Source: SourceArrival,
		Layout: map[string]any{
			"icon-image":            ImagePulse,
			"icon-allow-overlap":    true,
			"icon-ignore-placement": true,
		},
	}, LayerActive)

	m.activeShown = true

	if m.user != nil {
		m.BuildRoute()
	}
}

// SetUserLocation draws the user dot and refreshes the route.
func (m *Manager) SetUserLocation(p orb.Point) {
	m.user = &p
	m.surface.SetSourceData(SourceUser, render.SourceSpec{Data: render.FeatureCollection(geojson.NewFeature(p))})
	m.surface.AddLayer(render.LayerSpec{
		ID:     LayerUser,
		Type:   "circle",
		Source: SourceUser,
		Paint: map[string]any{
			"circle-color":        m.cfg.UserColor,
			"circle-radius":       8,
			"circle-stroke-width": 2,
			"circle-stroke-color": "#ffffff",
		},
	}, "")
	if m.active != nil {
		m.BuildRoute()
	}
}

// BuildRoute draws the cosmetic arc from the user to the active business.
func (m *Manager) BuildRoute() {
	if m.user == nil || m.active == nil {
		return
	}
	line := geo.ArcRoute(*m.user, m.active.Point(), m.cfg.ArcPoints)
	f := geojson.NewFeature(line)
	f.Properties["to"] = m.active.ID

	m.surface.SetSourceData(SourceRoute, render.SourceSpec{Data: render.FeatureCollection(f)})
	m.surface.AddLayer(render.LayerSpec{
		ID:     LayerRoute,
		Type:   "line",
		Source: SourceRoute,
		Layout: map[string]any{"line-cap": "round", "line-join": "round"},
		Paint: map[string]any{
			"line-color":     m.cfg.ActiveColor,
			"line-width":     3,
			"line-dasharray": []float64{2, 1},
		},
	}, LayerClusters)
	m.routeShown = true
}

// ClearRoute empties the route source.
func (m *Manager) ClearRoute() {
	if !m.routeShown {
		return
	}
	m.surface.SetSourceData(SourceRoute, render.SourceSpec{Data: geojson.NewFeatureCollection()})
	m.routeShown = false
}

// Detach removes the event handlers.
func (m *Manager) Detach() {
	for _, b := range m.bindings() {
		m.surface.Unbind(b.event, b.layer, b.h)
	}
}

func (m *Manager) addPinLayers() {
	if m.layersAdded {
		return
	}
	m.layersAdded = true

	hasCount := []any{"has", "point_count"}
	m.surface.AddLayer(render.LayerSpec{
		ID:     LayerClusters,
		Type:   "circle",
		Source: SourceBusinesses,
		Filter: hasCount,
		Paint: map[string]any{
			"circle-color":        "#1f2937",
			"circle-opacity":      0.85,
			"circle-radius":       []any{"step", []any{"get", "point_count"}, 16, 10, 20, 50, 26},
			"circle-stroke-width": 2,
			"circle-stroke-color": "#ffffff",
		},
	}, "")
	m.surface.AddLayer(render.LayerSpec{
		ID:     LayerClusterCount,
		Type:   "symbol",
		Source: SourceBusinesses,
		Filter: hasCount,
		Layout: map[string]any{
			"text-field": "{point_count_abbreviated}",
			"text-size":  12,
		},
		Paint: map[string]any{"text-color": "#ffffff"},
	}, "")
	m.surface.AddLayer(render.LayerSpec{
		ID:     LayerPins,
		Type:   "circle",
		Source: SourceBusinesses,
		Filter: []any{"!", hasCount},
		Paint: map[string]any{
			"circle-color": []any{"match", []any{"get", "tier"},
				business.TierPaid.String(), m.cfg.TierColors[business.TierPaid],
				business.TierClaimedFree.String(), m.cfg.TierColors[business.TierClaimedFree],
				m.cfg.TierColors[business.TierUnclaimed],
			},
			"circle-radius":       7,
			"circle-stroke-width": 2,
			"circle-stroke-color": "#ffffff",
		},
	}, "")
}

type binding struct {
	event, layer string
	h            render.Handler
}

func (m *Manager) bindings() []binding {
	return []binding{
		{render.EventClick, LayerPins, m.pinClick},
		{render.EventClick, LayerClusters, m.clusterClick},
		{render.EventMouseEnter, LayerPins, m.cursor},
		{render.EventMouseLeave, LayerPins, m.cursor},
		{render.EventMouseEnter, LayerClusters, m.cursor},
		{render.EventMouseLeave, LayerClusters, m.cursor},
	}
}

func (m *Manager) bindHandlers() {
	for _, b := range m.bindings() {
		m.surface.Bind(b.event, b.layer, b.h)
	}
}

func (m *Manager) pinFeature(b business.Business) *geojson.Feature {
	f := geojson.NewFeature(b.Point())
	f.ID = b.ID
	f.Properties["id"] = b.ID
	f.Properties["name"] = b.Name
	f.Properties["category"] = b.Category
	f.Properties["rating"] = b.Rating
	f.Properties["reviewCount"] = b.ReviewCount
	f.Properties["tier"] = b.Tier.String()
	f.Properties["open"] = b.OpenNow()
	if b.Reason != nil {
		f.Properties["reasonType"] = string(b.Reason.Type)
		f.Properties["reasonLabel"] = b.Reason.Label
		f.Properties["reasonGlyph"] = b.Reason.Glyph
	}
	return f
}

type pinClickHandler struct{ m *Manager }

func (h *pinClickHandler) HandleEvent(ev render.Event) {
	if !h.m.Has(ev.FeatureID) {
		return
	}
	if h.m.onSelect != nil {
		h.m.onSelect(ev.FeatureID)
	}
}

type clusterClickHandler struct{ m *Manager }

func (h *clusterClickHandler) HandleEvent(ev render.Event) {
	zoom, err := h.m.surface.ClusterExpansionZoom(SourceBusinesses, ev.ClusterID)
	if err != nil {
		h.m.logger.Debug("cluster expansion unavailable", "cluster", ev.ClusterID, "error", err)
		return
	}
	h.m.surface.EaseTo(ev.Point, zoom)
}

type cursorHandler struct{ m *Manager }

func (h *cursorHandler) HandleEvent(ev render.Event) {
	if ev.Type == render.EventMouseEnter {
		h.m.surface.SetCursor("pointer")
		return
	}
	h.m.surface.SetCursor("")
}
