package atlas

import (
	"context"
	"errors"
	"time"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-atlas/internal/business"
	"github.com/joeblew999/plat-atlas/internal/filter"
	"github.com/joeblew999/plat-atlas/internal/hud"
	"github.com/joeblew999/plat-atlas/internal/render"
	"github.com/joeblew999/plat-atlas/internal/tour"
)

var (
	// ErrClosed is returned by every operation on a closed session.
	ErrClosed = errors.New("atlas session closed")
	// ErrSessionNotFound is returned when a session id is unknown.
	ErrSessionNotFound = errors.New("atlas session not found")
	// ErrUnknownBusiness is returned when an id is not in the current results.
	ErrUnknownBusiness = errors.New("business not in current results")
	// ErrNoPrompt is returned when a prompt answer arrives with no prompt open.
	ErrNoPrompt = errors.New("no decision prompt is open")
	// ErrInvalidChoice is returned for an answer the prompt does not offer.
	ErrInvalidChoice = errors.New("invalid prompt choice")
)

// Mode is the session lifecycle state.
type Mode string

const (
	ModeUninitialized Mode = "uninitialized"
	ModeLoading       Mode = "loading"
	ModeInteractive   Mode = "interactive"
)

// SearchResponse is the natural-language interpretation of a query.
type SearchResponse struct {
	Summary           string   `json:"summary" doc:"Human readable answer"`
	BusinessIDs       []string `json:"businessIds" doc:"Matching business ids in display order"`
	PrimaryBusinessID string   `json:"primaryBusinessId,omitempty" doc:"Best match"`
	AutoDismissMs     int      `json:"autoDismissMs" doc:"How long the answer stays on screen"`
}

// Searcher is the search collaborator.
type Searcher interface {
	Search(ctx context.Context, query string, loc *orb.Point) (SearchResponse, error)
	// SearchDetails resolves full records for a prior Search.
	SearchDetails(ctx context.Context, query string, limit int) ([]business.Business, error)
}

// Notifier receives fire-and-forget notifications. Implementations must not
// block.
type Notifier interface {
	RequestDetails(sessionID, businessID string)
	DirectionsClicked(sessionID, businessID string)
	Track(kind string, payload map[string]any)
}

// Event kinds published by a session.
const (
	EventState  = "state"
	EventHUD    = "hud"
	EventTour   = "tour"
	EventPrompt = "prompt"
	EventList   = "list"
	EventSelect = "select"
)

// EmitFunc receives session events for delivery to clients.
type EmitFunc func(kind string, data any)

// PromptChoice is an answer to the end-of-tour prompt.
type PromptChoice string

const (
	ChoiceRestart PromptChoice = "restart"
	ChoiceList    PromptChoice = "list"
	ChoiceSearch  PromptChoice = "search"
)

// Prompt is the decision raised when a tour reaches its last stop.
type Prompt struct {
	Question       string         `json:"question"`
	Options        []PromptChoice `json:"options"`
	LastBusinessID string         `json:"lastBusinessId"`
}

// Timings groups every tunable delay of a session.
type Timings struct {
	Surface        render.SurfaceConfig
	HUD            hud.Config
	Tour           tour.Config
	TourStartDelay time.Duration
}

// DefaultTimings returns the stock timings.
func DefaultTimings() Timings {
	return Timings{
		Surface:        render.DefaultSurfaceConfig(),
		HUD:            hud.DefaultConfig(),
		Tour:           tour.DefaultConfig(),
		TourStartDelay: 600 * time.Millisecond,
	}
}

// Snapshot is a read-only view of a session.
type Snapshot struct {
	ID            string              `json:"id"`
	Mode          Mode                `json:"mode"`
	Renderer      string              `json:"renderer"`
	Searching     bool                `json:"searching"`
	BaseCount     int                 `json:"baseCount"`
	Businesses    []business.Business `json:"businesses"`
	Filters       filter.State        `json:"filters"`
	NoMatches     bool                `json:"noMatches"`
	UserLocation  *orb.Point          `json:"userLocation,omitempty"`
	Selected      string              `json:"selected,omitempty"`
	Tour          tour.State          `json:"tour"`
	HUD           hud.State           `json:"hud"`
	Prompt        *Prompt             `json:"prompt,omitempty"`
	PendingCamera *render.Camera      `json:"pendingCamera,omitempty"`
}

// RendererReport is what the client map reports back: an event and the
// readiness flags observed when it fired.
type RendererReport struct {
	Event         render.Event `json:"event"`
	StyleLoaded   *bool        `json:"styleLoaded,omitempty" doc:"Result of isStyleLoaded()"`
	Loaded        *bool        `json:"loaded,omitempty" doc:"Result of loaded()"`
	ExpansionZoom *float64     `json:"expansionZoom,omitempty" doc:"Expansion zoom of the clicked cluster"`
}

// RemoteRenderer is a renderer whose state is reported by a remote client.
type RemoteRenderer interface {
	render.Renderer
	SetStyleLoaded(bool)
	SetLoaded(bool)
	SetClusterExpansion(clusterID int, zoom float64)
	Emit(render.Event)
}
