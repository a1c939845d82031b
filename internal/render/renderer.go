// Package render owns the boundary to the map renderer. Renderer describes
// the asynchronous drawing engine; Surface wraps one instance of it, absorbs
// its load sequence and queues work until it is interactive.
package render

import (
	"errors"
	"image"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

var (
	// ErrNotCreated is returned by renderer calls made before Create.
	ErrNotCreated = errors.New("renderer not created")
	// ErrUnknownCluster is returned when no expansion zoom is known for a cluster.
	ErrUnknownCluster = errors.New("unknown cluster")
)

// Renderer event names.
const (
	EventLoad       = "load"
	EventStyleData  = "styledata"
	EventIdle       = "idle"
	EventClick      = "click"
	EventMouseEnter = "mouseenter"
	EventMouseLeave = "mouseleave"
)

// Config is passed to Renderer.Create.
type Config struct {
	Container string    `json:"container,omitempty" doc:"DOM container id" example:"atlas-map"`
	Style     string    `json:"style,omitempty" doc:"Style URL" example:"https://tiles.example.com/style.json"`
	Center    orb.Point `json:"center" doc:"Initial center as [lng, lat]"`
	Zoom      float64   `json:"zoom" minimum:"0" maximum:"22" doc:"Initial zoom"`
}

// CameraMode selects how the camera moves.
type CameraMode string

const (
	CameraFly  CameraMode = "flyTo"
	CameraJump CameraMode = "jumpTo"
	CameraEase CameraMode = "easeTo"
)

// Camera is a camera move request.
type Camera struct {
	Mode   CameraMode `json:"mode"`
	Center orb.Point  `json:"center"`
	Zoom   float64    `json:"zoom"`
}

// SourceSpec describes a GeoJSON source. Clustering is fixed at creation.
type SourceSpec struct {
	Data           *geojson.FeatureCollection `json:"data"`
	Cluster        bool                       `json:"cluster,omitempty"`
	ClusterRadius  int                        `json:"clusterRadius,omitempty"`
	ClusterMaxZoom int                        `json:"clusterMaxZoom,omitempty"`
}

// LayerSpec describes a style layer.
type LayerSpec struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Source  string         `json:"source"`
	Filter  []any          `json:"filter,omitempty"`
	Paint   map[string]any `json:"paint,omitempty"`
	Layout  map[string]any `json:"layout,omitempty"`
	MinZoom float64        `json:"minzoom,omitempty"`
}

// Event is delivered to handlers registered with On or Once.
type Event struct {
	Type      string    `json:"type"`
	Layer     string    `json:"layer,omitempty"`
	FeatureID string    `json:"featureId,omitempty"`
	ClusterID int       `json:"clusterId,omitempty"`
	Point     orb.Point `json:"point,omitempty" doc:"Event position as [lng, lat]"`
}

// Handler receives renderer events. Implementations are pointers so that a
// registration can be removed with the same reference it was added with.
type Handler interface {
	HandleEvent(Event)
}

// Image is a raster icon. Animated images are re-rendered every frame.
type Image interface {
	Size() (width, height int)
	Render(elapsed time.Duration) *image.RGBA
	Animated() bool
}

// ImageOptions configures an added image.
type ImageOptions struct {
	PixelRatio float64 `json:"pixelRatio,omitempty"`
}

// Source is a live GeoJSON source inside the renderer.
type Source interface {
	SetData(fc *geojson.FeatureCollection) error
}

// Renderer is the asynchronous map engine. Calls are made from the session
// loop; readiness is reported through IsStyleLoaded, Loaded and events.
type Renderer interface {
	Create(cfg Config) error
	Remove() error

	On(event, layer string, h Handler)
	Off(event, layer string, h Handler)
	Once(event string, h Handler)

	IsStyleLoaded() bool
	Loaded() bool

	Move(cam Camera) error

	AddSource(id string, spec SourceSpec) error
	GetSource(id string) (Source, bool)
	RemoveSource(id string) error

	HasLayer(id string) bool
	AddLayer(layer LayerSpec, before string) error
	RemoveLayer(id string) error

	HasImage(id string) bool
	AddImage(id string, img Image, opts ImageOptions) error

	ClusterExpansionZoom(source string, clusterID int) (float64, error)
	SetCursor(cursor string)
}
