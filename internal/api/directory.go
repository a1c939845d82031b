package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"github.com/joeblew999/plat-atlas/internal/atlas"
	"github.com/joeblew999/plat-atlas/internal/business"
	"github.com/joeblew999/plat-atlas/internal/directory"
	"github.com/joeblew999/plat-atlas/internal/humastar"
)

type ListingInput struct {
	ID string `path:"id" doc:"Business ID" example:"b-001"`
}

type ListingsInput struct {
	Offset int `query:"offset" minimum:"0" default:"0" doc:"Items to skip"`
	Limit  int `query:"limit" minimum:"1" maximum:"200" default:"50" doc:"Page size"`
}

type UpsertBody struct {
	Businesses []directory.Listing `json:"businesses" minItems:"1" doc:"Listings to insert or replace"`
}

type UpsertResult struct {
	Upserted int `json:"upserted" doc:"Listings written"`
	Total    int `json:"total" doc:"Listings in the directory"`
}

type DirectorySearchInput struct {
	Query string    `query:"q" required:"true" minLength:"1" doc:"Free text query" example:"coffee"`
	Near  []float64 `query:"near" minItems:"2" maxItems:"2" doc:"Optional user location as lng,lat"`
}

type DirectorySearchBody struct {
	atlas.SearchResponse
	Businesses []business.Business `json:"businesses" doc:"Matching businesses in display order"`
}

type TileInput struct {
	Z uint32 `path:"z" maximum:"22" doc:"Zoom"`
	X uint32 `path:"x" doc:"Tile column"`
	Y uint32 `path:"y" doc:"Tile row"`
}

type TileOutput struct {
	Status          int
	ContentType     string `header:"Content-Type"`
	ContentEncoding string `header:"Content-Encoding"`
	CacheControl    string `header:"Cache-Control"`
	Body            []byte
}

// RegisterDirectory registers the business directory routes.
func (h *APIHandler) RegisterDirectory(api huma.API) {
	tags := huma.OperationTags("directory")
	huma.Get(api, "/api/v1/directory/businesses", h.ListListings, tags)
	huma.Post(api, "/api/v1/directory/businesses", h.UpsertListings, tags)
	huma.Get(api, "/api/v1/directory/businesses/{id}", h.GetListing, tags)
	huma.Delete(api, "/api/v1/directory/businesses/{id}", h.DeleteListing, tags)
	huma.Get(api, "/api/v1/directory/search", h.SearchDirectory, tags)
	huma.Get(api, "/api/v1/directory/tiles/{z}/{x}/{y}", h.GetTile, huma.OperationTags("tiles"))
}

func (h *APIHandler) store() (*directory.Store, error) {
	if h.svc == nil || h.svc.Directory == nil {
		return nil, huma.Error503ServiceUnavailable("directory not available")
	}
	return h.svc.Directory, nil
}

func (h *APIHandler) ListListings(ctx context.Context, input *ListingsInput) (*struct {
	Body humastar.PageBody[directory.Listing]
}, error) {
	store, err := h.store()
	if err != nil {
		return nil, err
	}
	listings, total, err := store.List(ctx, input.Offset, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list businesses", err)
	}
	return &struct {
		Body humastar.PageBody[directory.Listing]
	}{Body: humastar.PageBody[directory.Listing]{
		Total: total, Offset: input.Offset, Limit: input.Limit, Data: listings,
	}}, nil
}

func (h *APIHandler) UpsertListings(ctx context.Context, input *struct{ Body UpsertBody }) (*struct{ Body UpsertResult }, error) {
	store, err := h.store()
	if err != nil {
		return nil, err
	}
	if err := store.Upsert(ctx, input.Body.Businesses...); err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}
	total, err := store.Count(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to count businesses", err)
	}
	return &struct{ Body UpsertResult }{Body: UpsertResult{Upserted: len(input.Body.Businesses), Total: total}}, nil
}

func (h *APIHandler) GetListing(ctx context.Context, input *ListingInput) (*struct{ Body directory.Listing }, error) {
	store, err := h.store()
	if err != nil {
		return nil, err
	}
	l, ok, err := store.Get(ctx, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to read business", err)
	}
	if !ok {
		return nil, huma.Error404NotFound("business not found")
	}
	return &struct{ Body directory.Listing }{Body: l}, nil
}

func (h *APIHandler) DeleteListing(ctx context.Context, input *ListingInput) (*struct{ Body MessageBody }, error) {
	store, err := h.store()
	if err != nil {
		return nil, err
	}
	if err := store.Delete(ctx, input.ID); err != nil {
		return nil, huma.Error500InternalServerError("failed to delete business", err)
	}
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Business deleted"}}, nil
}

// SearchDirectory runs a search outside any session, through the same
// searcher the sessions use.
func (h *APIHandler) SearchDirectory(ctx context.Context, input *DirectorySearchInput) (*struct{ Body DirectorySearchBody }, error) {
	if h.svc == nil || h.svc.Searcher == nil {
		return nil, huma.Error503ServiceUnavailable("search not available")
	}
	var loc *orb.Point
	if len(input.Near) == 2 {
		loc = &orb.Point{input.Near[0], input.Near[1]}
	} else if len(input.Near) != 0 {
		return nil, huma.Error422UnprocessableEntity("near must be lng,lat")
	}

	resp, err := h.svc.Searcher.Search(ctx, input.Query, loc)
	if err != nil {
		return nil, upstreamError(err)
	}
	list, err := h.svc.Searcher.SearchDetails(ctx, input.Query, len(resp.BusinessIDs))
	if err != nil {
		return nil, upstreamError(err)
	}
	if list == nil {
		list = []business.Business{}
	}
	return &struct{ Body DirectorySearchBody }{Body: DirectorySearchBody{SearchResponse: resp, Businesses: list}}, nil
}

// GetTile serves directory pins as a gzipped vector tile. Tiles without
// businesses answer 204.
func (h *APIHandler) GetTile(ctx context.Context, input *TileInput) (*TileOutput, error) {
	store, err := h.store()
	if err != nil {
		return nil, err
	}
	if n := uint32(1) << input.Z; input.X >= n || input.Y >= n {
		return nil, huma.Error404NotFound("tile out of range")
	}
	data, err := store.Tile(ctx, maptile.New(input.X, input.Y, maptile.Zoom(input.Z)))
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to render tile", err)
	}
	if data == nil {
		return &TileOutput{Status: http.StatusNoContent}, nil
	}
	return &TileOutput{
		Status:          http.StatusOK,
		ContentType:     "application/vnd.mapbox-vector-tile",
		ContentEncoding: "gzip",
		CacheControl:    "no-cache",
		Body:            data,
	}, nil
}
