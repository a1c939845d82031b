package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-atlas/internal/atlas"
	"github.com/joeblew999/plat-atlas/internal/business"
	"github.com/joeblew999/plat-atlas/internal/filter"
	"github.com/joeblew999/plat-atlas/internal/humastar"
	"github.com/joeblew999/plat-atlas/internal/render"
	"github.com/joeblew999/plat-atlas/internal/service"
)

const sessionPath = "/api/v1/sessions/%s"

var (
	actSearch   = humastar.ActionDef{Rel: "search", Pattern: sessionPath + "/search", Method: http.MethodPost, Title: "Search"}
	actStream   = humastar.ActionDef{Rel: "events", Pattern: sessionPath + "/stream", Method: http.MethodGet, Title: "Live events"}
	actClose    = humastar.ActionDef{Rel: "close", Pattern: sessionPath, Method: http.MethodDelete, Title: "Close session"}
	actNext     = humastar.ActionDef{Rel: "next", Pattern: sessionPath + "/tour/next", Method: http.MethodPost, Title: "Next stop"}
	actPrevious = humastar.ActionDef{Rel: "prev", Pattern: sessionPath + "/tour/previous", Method: http.MethodPost, Title: "Previous stop"}
	actStop     = humastar.ActionDef{Rel: "stop-tour", Pattern: sessionPath + "/tour/stop", Method: http.MethodPost, Title: "Stop tour"}
	actStart    = humastar.ActionDef{Rel: "start-tour", Pattern: sessionPath + "/tour/start", Method: http.MethodPost, Title: "Start tour"}
	actDismiss  = humastar.ActionDef{Rel: "dismiss", Pattern: sessionPath + "/hud/dismiss", Method: http.MethodPost, Title: "Dismiss"}
	actAnswer   = humastar.ActionDef{Rel: "answer", Pattern: sessionPath + "/prompt", Method: http.MethodPost, Title: "Answer prompt"}
	actClear    = humastar.ActionDef{Rel: "clear-filters", Pattern: sessionPath + "/filters", Method: http.MethodDelete, Title: "Show all"}
)

// SessionBody is a session snapshot plus the actions its state allows.
type SessionBody struct {
	atlas.Snapshot
}

// Actions implements humastar.Actor.
func (b SessionBody) Actions() []humastar.Action {
	defs := []humastar.ActionDef{actSearch, actStream, actClose}
	switch {
	case b.Tour.Active:
		defs = append(defs, actNext, actPrevious, actStop)
	case len(b.Businesses) > 1:
		defs = append(defs, actStart)
	}
	if b.HUD.Visible {
		defs = append(defs, actDismiss)
	}
	if b.Prompt != nil {
		defs = append(defs, actAnswer)
	}
	if b.Filters.Active() {
		defs = append(defs, actClear)
	}
	return humastar.ActionsFor(b.ID, defs...)
}

type SessionInput struct {
	ID string `path:"id" doc:"Session ID" example:"3f6c1d2e-8a4b-4c55-9d1e-0b7f2a9c4e10"`
}

type SessionOutput struct {
	Body SessionBody
}

type CreateSessionOutput struct {
	Location string `header:"Location" doc:"URL of the new session"`
	Body     SessionBody
}

type SessionListBody struct {
	Sessions []string `json:"sessions" doc:"Open session IDs"`
}

type BusinessesBody struct {
	Businesses []business.Business `json:"businesses" doc:"Result set to show, in display order"`
}

type ReceiveBody struct {
	SessionBody
	Applied bool `json:"applied" doc:"False when the same list was already shown"`
}

type SearchBody struct {
	Query string `json:"query" minLength:"1" maxLength:"500" doc:"Free text, or a filter phrase such as 'open now'" example:"coffee near me"`
}

type LocationBody struct {
	Lat float64 `json:"lat" minimum:"-90" maximum:"90" doc:"Latitude"`
	Lng float64 `json:"lng" minimum:"-180" maximum:"180" doc:"Longitude"`
}

type BusinessRef struct {
	BusinessID string `json:"businessId" minLength:"1" doc:"Business ID from the current results"`
}

type TourInput struct {
	SessionInput
	Action string `path:"action" enum:"next,previous,stop,start" doc:"Tour action"`
}

type TourBody struct {
	SessionBody
	Moved bool `json:"moved" doc:"Whether the camera moved to another stop"`
}

type PromptBody struct {
	Choice atlas.PromptChoice `json:"choice" enum:"restart,list,search" doc:"Answer to the end-of-tour prompt"`
}

// RegisterSessions registers session routes.
func (h *APIHandler) RegisterSessions(api huma.API) {
	tags := huma.OperationTags("sessions")
	created := func(o *huma.Operation) { o.DefaultStatus = http.StatusCreated }
	accepted := func(o *huma.Operation) { o.DefaultStatus = http.StatusAccepted }

	huma.Get(api, "/api/v1/sessions", h.ListSessions, tags)
	huma.Post(api, "/api/v1/sessions", h.CreateSession, tags, created)
	huma.Get(api, "/api/v1/sessions/{id}", h.GetSession, tags)
	huma.Delete(api, "/api/v1/sessions/{id}", h.DeleteSession, tags)

	huma.Post(api, "/api/v1/sessions/{id}/businesses", h.ReceiveBusinesses, tags)
	huma.Post(api, "/api/v1/sessions/{id}/search", h.Search, tags)
	huma.Put(api, "/api/v1/sessions/{id}/location", h.SetLocation, tags)
	huma.Put(api, "/api/v1/sessions/{id}/filters", h.SetFilters, tags)
	huma.Delete(api, "/api/v1/sessions/{id}/filters", h.ClearFilters, tags)
	huma.Post(api, "/api/v1/sessions/{id}/select", h.Select, tags)
	huma.Post(api, "/api/v1/sessions/{id}/tour/{action}", h.Tour, tags)
	huma.Post(api, "/api/v1/sessions/{id}/hud/dismiss", h.DismissHUD, tags)
	huma.Post(api, "/api/v1/sessions/{id}/prompt", h.AnswerPrompt, tags)
	huma.Post(api, "/api/v1/sessions/{id}/details", h.RequestDetails, tags, accepted)
	huma.Post(api, "/api/v1/sessions/{id}/directions", h.Directions, tags, accepted)
	huma.Post(api, "/api/v1/sessions/{id}/renderer/events", h.RendererEvent, tags)

	huma.Get(api, "/api/v1/sessions/{id}/stream", h.Stream, huma.OperationTags("stream"))
}

func (h *APIHandler) registry() (*service.Registry, error) {
	if h.svc == nil || h.svc.Sessions == nil {
		return nil, huma.Error503ServiceUnavailable("sessions not available")
	}
	return h.svc.Sessions, nil
}

func (h *APIHandler) session(id string) (*atlas.Session, error) {
	reg, err := h.registry()
	if err != nil {
		return nil, err
	}
	sess, err := reg.Get(id)
	return sess, httpError(err)
}

func snapshotBody(ctx context.Context, sess *atlas.Session) (SessionBody, error) {
	snap, err := sess.Snapshot(ctx)
	if err != nil {
		return SessionBody{}, httpError(err)
	}
	return SessionBody{snap}, nil
}

// apply runs fn against a session and answers with its new snapshot.
func (h *APIHandler) apply(ctx context.Context, id string, fn func(*atlas.Session) error) (*SessionOutput, error) {
	sess, err := h.session(id)
	if err != nil {
		return nil, err
	}
	if err := fn(sess); err != nil {
		return nil, httpError(err)
	}
	body, err := snapshotBody(ctx, sess)
	if err != nil {
		return nil, err
	}
	return &SessionOutput{Body: body}, nil
}

func (h *APIHandler) ListSessions(ctx context.Context, input *struct{}) (*struct{ Body SessionListBody }, error) {
	reg, err := h.registry()
	if err != nil {
		return nil, err
	}
	return &struct{ Body SessionListBody }{Body: SessionListBody{Sessions: reg.IDs()}}, nil
}

func (h *APIHandler) CreateSession(ctx context.Context, input *struct{ Body render.Config }) (*CreateSessionOutput, error) {
	reg, err := h.registry()
	if err != nil {
		return nil, err
	}
	sess, err := reg.Create(ctx, input.Body)
	if err != nil {
		return nil, httpError(err)
	}
	body, err := snapshotBody(ctx, sess)
	if err != nil {
		return nil, err
	}
	return &CreateSessionOutput{Location: "/api/v1/sessions/" + sess.ID(), Body: body}, nil
}

func (h *APIHandler) GetSession(ctx context.Context, input *SessionInput) (*SessionOutput, error) {
	return h.apply(ctx, input.ID, func(*atlas.Session) error { return nil })
}

func (h *APIHandler) DeleteSession(ctx context.Context, input *SessionInput) (*struct{}, error) {
	reg, err := h.registry()
	if err != nil {
		return nil, err
	}
	if err := reg.Close(ctx, input.ID); err != nil {
		return nil, httpError(err)
	}
	return nil, nil
}

func (h *APIHandler) ReceiveBusinesses(ctx context.Context, input *struct {
	SessionInput
	Body BusinessesBody
}) (*struct{ Body ReceiveBody }, error) {
	var applied bool
	out, err := h.apply(ctx, input.ID, func(s *atlas.Session) (err error) {
		applied, err = s.ReceiveBusinesses(ctx, input.Body.Businesses)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &struct{ Body ReceiveBody }{Body: ReceiveBody{SessionBody: out.Body, Applied: applied}}, nil
}

// Search blocks until the searcher answers, so the returned snapshot holds
// the new results.
func (h *APIHandler) Search(ctx context.Context, input *struct {
	SessionInput
	Body SearchBody
}) (*SessionOutput, error) {
	sess, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	if err := sess.Search(ctx, input.Body.Query); err != nil {
		return nil, upstreamError(err)
	}
	body, err := snapshotBody(ctx, sess)
	if err != nil {
		return nil, err
	}
	return &SessionOutput{Body: body}, nil
}

func (h *APIHandler) SetLocation(ctx context.Context, input *struct {
	SessionInput
	Body LocationBody
}) (*SessionOutput, error) {
	return h.apply(ctx, input.ID, func(s *atlas.Session) error {
		return s.SetUserLocation(ctx, orb.Point{input.Body.Lng, input.Body.Lat})
	})
}

func (h *APIHandler) SetFilters(ctx context.Context, input *struct {
	SessionInput
	Body filter.State
}) (*SessionOutput, error) {
	return h.apply(ctx, input.ID, func(s *atlas.Session) error {
		return s.SetFilters(ctx, input.Body)
	})
}

func (h *APIHandler) ClearFilters(ctx context.Context, input *SessionInput) (*SessionOutput, error) {
	return h.apply(ctx, input.ID, func(s *atlas.Session) error {
		return s.ClearFilters(ctx)
	})
}

func (h *APIHandler) Select(ctx context.Context, input *struct {
	SessionInput
	Body BusinessRef
}) (*SessionOutput, error) {
	return h.apply(ctx, input.ID, func(s *atlas.Session) error {
		return s.SelectBusiness(ctx, input.Body.BusinessID)
	})
}

func (h *APIHandler) Tour(ctx context.Context, input *TourInput) (*struct{ Body TourBody }, error) {
	var moved bool
	out, err := h.apply(ctx, input.ID, func(s *atlas.Session) (err error) {
		switch input.Action {
		case "next":
			moved, err = s.Next(ctx)
		case "previous":
			moved, err = s.Previous(ctx)
		case "stop":
			err = s.StopTour(ctx)
		case "start":
			err = s.StartTour(ctx)
			moved = err == nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &struct{ Body TourBody }{Body: TourBody{SessionBody: out.Body, Moved: moved}}, nil
}

func (h *APIHandler) DismissHUD(ctx context.Context, input *SessionInput) (*SessionOutput, error) {
	return h.apply(ctx, input.ID, func(s *atlas.Session) error {
		return s.DismissHUD(ctx)
	})
}

func (h *APIHandler) AnswerPrompt(ctx context.Context, input *struct {
	SessionInput
	Body PromptBody
}) (*SessionOutput, error) {
	return h.apply(ctx, input.ID, func(s *atlas.Session) error {
		return s.AnswerPrompt(ctx, input.Body.Choice)
	})
}

func (h *APIHandler) RequestDetails(ctx context.Context, input *struct {
	SessionInput
	Body BusinessRef
}) (*struct{}, error) {
	sess, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	return nil, httpError(sess.RequestDetails(ctx, input.Body.BusinessID))
}

func (h *APIHandler) Directions(ctx context.Context, input *struct {
	SessionInput
	Body BusinessRef
}) (*struct{}, error) {
	sess, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	return nil, httpError(sess.Directions(ctx, input.Body.BusinessID))
}

// RendererEvent takes readiness flags and input events from the browser map.
func (h *APIHandler) RendererEvent(ctx context.Context, input *struct {
	SessionInput
	Body atlas.RendererReport
}) (*struct{}, error) {
	sess, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	return nil, httpError(sess.HandleRendererReport(ctx, input.Body))
}
