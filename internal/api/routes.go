// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-atlas/internal/atlas"
	"github.com/joeblew999/plat-atlas/internal/directory"
	"github.com/joeblew999/plat-atlas/internal/filter"
	"github.com/joeblew999/plat-atlas/internal/service"
	"github.com/joeblew999/plat-atlas/internal/templates"
	"github.com/joeblew999/plat-atlas/internal/tour"
)

// Version is reported by /health and /api/v1/info.
const Version = "0.1.0"

// Services holds the service dependencies for API handlers.
type Services struct {
	Sessions  *service.Registry
	Directory *directory.Store
	// Searcher answers directory searches; usually the cached store.
	Searcher atlas.Searcher
	// Fragments, when set, adds HTML patches for the list and HUD to streams.
	Fragments *templates.Renderer
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"0.1.0"`
}

type MessageBody struct {
	Message string `json:"message" doc:"Result message"`
}

// APIHandler holds the REST handlers.
type APIHandler struct {
	svc *Services
}

func NewAPIHandler(svc *Services) *APIHandler {
	return &APIHandler{svc: svc}
}

// RegisterRoutes registers every route on api.
func RegisterRoutes(api huma.API, svc *Services) {
	h := NewAPIHandler(svc)
	h.RegisterHealth(api)
	h.RegisterSessions(api)
	h.RegisterDirectory(api)
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: Version}}, nil
}

var errorStatus = []struct {
	err    error
	status int
}{
	{atlas.ErrSessionNotFound, http.StatusNotFound},
	{atlas.ErrClosed, http.StatusGone},
	{atlas.ErrUnknownBusiness, http.StatusNotFound},
	{filter.ErrLocationRequired, http.StatusUnprocessableEntity},
	{atlas.ErrNoPrompt, http.StatusConflict},
	{tour.ErrEmptyTour, http.StatusConflict},
	{atlas.ErrInvalidChoice, http.StatusBadRequest},
	{context.Canceled, http.StatusServiceUnavailable},
	{context.DeadlineExceeded, http.StatusServiceUnavailable},
}

// httpError maps domain errors onto HTTP problems. Anything unknown is a
// 500.
func httpError(err error) error {
	return mapError(err, http.StatusInternalServerError)
}

// upstreamError is httpError for calls that reach the searcher, where an
// unknown error is the collaborator failing.
func upstreamError(err error) error {
	return mapError(err, http.StatusBadGateway)
}

func mapError(err error, fallback int) error {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return err
	}
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			return huma.NewError(e.status, err.Error())
		}
	}
	return huma.NewError(fallback, http.StatusText(fallback), err)
}
