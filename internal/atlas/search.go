package atlas

import (
	"context"
	"errors"
	"time"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-atlas/internal/business"
	"github.com/joeblew999/plat-atlas/internal/filter"
	"github.com/joeblew999/plat-atlas/internal/hud"
	"github.com/joeblew999/plat-atlas/internal/metrics"
)

// Search handles free text. Filter phrases such as "open now", "closer" or
// "show all" are applied locally. Anything else cancels the tour and the
// HUD, clears the selection and asks the searcher; the loop is released
// while the request is in flight. A response that arrives after a newer
// search was issued is dropped.
func (s *Session) Search(ctx context.Context, query string) error {
	var (
		seq     uint64
		loc     *orb.Point
		handled bool
	)
	err := s.do(ctx, func() error {
		if intent := filter.ParseIntent(query); intent != filter.IntentNone {
			handled = true
			metrics.FilterIntentsTotal.WithLabelValues(string(intent)).Inc()
			return s.applyIntent(intent)
		}

		s.tour.Stop()
		s.hud.Dismiss()
		s.setPrompt(nil)
		s.selected = ""
		s.markers.SetActiveBusiness(nil)

		s.searchSeq++
		seq = s.searchSeq
		s.searching = true
		if s.user != nil {
			p := *s.user
			loc = &p
		}
		s.publishState()
		return nil
	})
	if err != nil || handled {
		return err
	}

	s.track("search", map[string]any{"query": query})
	resp, list, searchErr := s.runSearch(ctx, query, loc)

	// The searching flag is cleared whatever happened, even if ctx is done.
	err = s.do(context.WithoutCancel(ctx), func() error {
		if seq != s.searchSeq {
			s.logger.Debug("stale search response dropped", "query", query)
			return nil
		}
		s.searching = false

		switch {
		case searchErr != nil && ctx.Err() != nil:
			// Caller went away; nothing to show.
		case searchErr != nil:
			metrics.SearchFailuresTotal.Inc()
			s.logger.Error("search failed", "query", query, "error", searchErr)
			s.hud.Failure()
		default:
			s.applySearch(resp, list)
		}
		s.publishState()
		return nil
	})
	if err != nil {
		return err
	}
	return searchErr
}

func (s *Session) runSearch(ctx context.Context, query string, loc *orb.Point) (SearchResponse, []business.Business, error) {
	if s.searcher == nil {
		return SearchResponse{}, nil, errors.New("no searcher configured")
	}
	start := time.Now()
	metrics.SearchesTotal.Inc()
	defer func() {
		metrics.SearchDurationMs.Observe(float64(time.Since(start).Milliseconds()))
	}()

	resp, err := s.searcher.Search(ctx, query, loc)
	if err != nil {
		return resp, nil, err
	}
	if len(resp.BusinessIDs) == 0 {
		return resp, nil, nil
	}
	details, err := s.searcher.SearchDetails(ctx, query, len(resp.BusinessIDs))
	if err != nil {
		return resp, nil, err
	}
	return resp, orderByIDs(details, resp.BusinessIDs), nil
}

// applySearch installs a search result. Repeated queries are applied even
// when they return the same set.
func (s *Session) applySearch(resp SearchResponse, list []business.Business) {
	s.load(list)

	var primary string
	if i := business.Index(s.visible, resp.PrimaryBusinessID); i >= 0 {
		primary = s.visible[i].Name
	}
	summary := resp.Summary
	if summary == "" && len(list) == 0 {
		summary = "I couldn't find any places for that. Try another search."
	}
	s.hud.ShowAfterCamera(hud.Message{
		Kind:        hud.KindSummary,
		Summary:     summary,
		PrimaryName: primary,
		AutoDismiss: time.Duration(resp.AutoDismissMs) * time.Millisecond,
	})
}

func (s *Session) applyIntent(intent filter.Intent) error {
	switch intent {
	case filter.IntentOpenNow:
		next := s.filters
		next.OpenNow = true
		return s.setFilters(next)
	case filter.IntentCloser:
		return s.setFilters(filter.Closer(s.filters))
	case filter.IntentClear:
		s.clearFilters()
	}
	return nil
}

// orderByIDs keeps the members of list named in ids, in ids order.
func orderByIDs(list []business.Business, ids []string) []business.Business {
	byID := make(map[string]business.Business, len(list))
	for _, b := range list {
		byID[b.ID] = b
	}
	out := make([]business.Business, 0, len(ids))
	for _, id := range ids {
		if b, ok := byID[id]; ok {
			out = append(out, b)
		}
	}
	return out
}
