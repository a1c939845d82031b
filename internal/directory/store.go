// Package directory is the business directory behind Atlas search: a
// DuckDB table of businesses with opening hours, matched by free text.
package directory

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-atlas/internal/atlas"
	"github.com/joeblew999/plat-atlas/internal/business"
	"github.com/joeblew999/plat-atlas/internal/geo"
)

const schema = `
CREATE TABLE IF NOT EXISTS businesses (
	id           VARCHAR PRIMARY KEY,
	name         VARCHAR NOT NULL,
	category     VARCHAR NOT NULL DEFAULT '',
	lat          DOUBLE NOT NULL,
	lng          DOUBLE NOT NULL,
	rating       DOUBLE NOT NULL DEFAULT 0,
	review_count INTEGER NOT NULL DEFAULT 0,
	tier         VARCHAR NOT NULL DEFAULT 'unclaimed',
	open_minute  INTEGER,
	close_minute INTEGER
)`

// Listing is a directory row.
type Listing struct {
	ID          string        `json:"id" required:"true" minLength:"1" doc:"Business id" example:"b-001"`
	Name        string        `json:"name" required:"true" minLength:"1" doc:"Display name" example:"Blue Door Coffee"`
	Category    string        `json:"category,omitempty" doc:"Category" example:"coffee"`
	Lat         float64       `json:"lat" minimum:"-90" maximum:"90" doc:"Latitude"`
	Lng         float64       `json:"lng" minimum:"-180" maximum:"180" doc:"Longitude"`
	Rating      float64       `json:"rating,omitempty" minimum:"0" maximum:"5" doc:"Average rating"`
	ReviewCount int           `json:"reviewCount,omitempty" minimum:"0" doc:"Number of reviews"`
	Tier        business.Tier `json:"tier,omitempty" doc:"Listing tier: paid, claimed_free or unclaimed"`
	// Opening hours in minutes after local midnight. Close before open means
	// the business closes after midnight.
	OpenMinute  *int `json:"openMinute,omitempty" minimum:"0" maximum:"1439" doc:"Opening time, minutes after midnight"`
	CloseMinute *int `json:"closeMinute,omitempty" minimum:"0" maximum:"1440" doc:"Closing time, minutes after midnight"`
}

// OpenAt reports whether the listing is open at t. Unknown hours count as
// closed.
func (l Listing) OpenAt(t time.Time) bool {
	if l.OpenMinute == nil || l.CloseMinute == nil {
		return false
	}
	m := t.Hour()*60 + t.Minute()
	opens, closes := *l.OpenMinute, *l.CloseMinute
	if opens == closes {
		return true
	}
	if opens < closes {
		return m >= opens && m < closes
	}
	return m >= opens || m < closes
}

// Options tunes search.
type Options struct {
	// Limit caps the number of results per search.
	Limit int
	// AutoDismissMs is returned with every search summary.
	AutoDismissMs int
	// Now is the directory clock used to resolve opening hours.
	Now func() time.Time
}

// DefaultOptions returns the stock search options.
func DefaultOptions() Options {
	return Options{Limit: 10, AutoDismissMs: 6000, Now: time.Now}
}

// Store is a DuckDB backed atlas.Searcher.
type Store struct {
	db   *sql.DB
	opts Options
}

var _ atlas.Searcher = (*Store)(nil)

// New returns a store over db. Call Migrate before use.
func New(db *sql.DB, opts Options) *Store {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{db: db, opts: opts}
}

// Migrate creates the businesses table.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate directory: %w", err)
	}
	return nil
}

// Upsert inserts or replaces listings.
func (s *Store) Upsert(ctx context.Context, listings ...Listing) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO businesses
		(id, name, category, lat, lng, rating, review_count, tier, open_minute, close_minute)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, l := range listings {
		if _, err := stmt.ExecContext(ctx,
			l.ID, l.Name, strings.ToLower(l.Category), l.Lat, l.Lng, l.Rating, l.ReviewCount,
			l.Tier.String(), nullInt(l.OpenMinute), nullInt(l.CloseMinute),
		); err != nil {
			return fmt.Errorf("upsert %s: %w", l.ID, err)
		}
	}
	return tx.Commit()
}

const selectListings = `SELECT id, name, category, lat, lng, rating, review_count, tier, open_minute, close_minute
	FROM businesses`

// List returns one page of listings ordered by id, and the total count.
func (s *Store) List(ctx context.Context, offset, limit int) ([]Listing, int, error) {
	total, err := s.Count(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("count listings: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, selectListings+` ORDER BY id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list listings: %w", err)
	}
	defer rows.Close()

	listings := []Listing{}
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, 0, err
		}
		listings = append(listings, l)
	}
	return listings, total, rows.Err()
}

// Get returns one listing. The bool is false if id is unknown.
func (s *Store) Get(ctx context.Context, id string) (Listing, bool, error) {
	rows, err := s.db.QueryContext(ctx, selectListings+` WHERE id = ?`, id)
	if err != nil {
		return Listing{}, false, fmt.Errorf("get listing %s: %w", id, err)
	}
	defer rows.Close()
	if !rows.Next() {
		return Listing{}, false, rows.Err()
	}
	l, err := scanListing(rows)
	return l, err == nil, err
}

// Delete removes a listing. Deleting an unknown id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM businesses WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete listing %s: %w", id, err)
	}
	return nil
}

// Count returns the number of listings.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM businesses`).Scan(&n)
	return n, err
}

// Search matches query against names and categories and summarises the
// best results. When loc is set the summary mentions the nearest match.
func (s *Store) Search(ctx context.Context, query string, loc *orb.Point) (atlas.SearchResponse, error) {
	listings, err := s.match(ctx, query)
	if err != nil {
		return atlas.SearchResponse{}, err
	}
	if len(listings) > s.opts.Limit {
		listings = listings[:s.opts.Limit]
	}

	resp := atlas.SearchResponse{
		BusinessIDs:   make([]string, 0, len(listings)),
		AutoDismissMs: s.opts.AutoDismissMs,
	}
	for _, l := range listings {
		resp.BusinessIDs = append(resp.BusinessIDs, l.ID)
	}
	q := strings.TrimSpace(query)
	switch len(listings) {
	case 0:
		resp.Summary = fmt.Sprintf("I couldn't find any places matching %q.", q)
		return resp, nil
	case 1:
		resp.Summary = fmt.Sprintf("I found %s.", listings[0].Name)
	default:
		resp.Summary = fmt.Sprintf("I found %d places for %q. Top pick: %s.", len(listings), q, listings[0].Name)
	}
	resp.PrimaryBusinessID = listings[0].ID

	if loc != nil {
		nearest, d := listings[0], geo.Haversine(*loc, point(listings[0]))
		for _, l := range listings[1:] {
			if dl := geo.Haversine(*loc, point(l)); dl < d {
				nearest, d = l, dl
			}
		}
		resp.Summary += fmt.Sprintf(" Closest is %s, %s away.", nearest.Name, formatMeters(d))
	}
	return resp, nil
}

// SearchDetails returns the full records for the first limit matches of
// query, with opening state and why-shown reasons resolved.
func (s *Store) SearchDetails(ctx context.Context, query string, limit int) ([]business.Business, error) {
	listings, err := s.match(ctx, query)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > s.opts.Limit {
		limit = s.opts.Limit
	}
	if len(listings) > limit {
		listings = listings[:limit]
	}

	now := s.opts.Now()
	out := make([]business.Business, 0, len(listings))
	for _, l := range listings {
		out = append(out, toBusiness(l, now))
	}
	return out, nil
}

// match returns every listing matching a term of query, best first.
func (s *Store) match(ctx context.Context, query string) ([]Listing, error) {
	terms := searchTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	clauses := make([]string, 0, len(terms))
	args := make([]any, 0, len(terms)*2)
	for _, t := range terms {
		clauses = append(clauses, "(lower(name) LIKE ? OR category LIKE ?)")
		like := "%" + t + "%"
		args = append(args, like, like)
	}
	rows, err := s.db.QueryContext(ctx, selectListings+` WHERE `+strings.Join(clauses, " OR "), args...)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	defer rows.Close()

	var (
		listings []Listing
		scores   = map[string]float64{}
	)
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, l)
		scores[l.ID] = score(l, terms)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(listings, func(i, j int) bool {
		a, b := listings[i], listings[j]
		if scores[a.ID] != scores[b.ID] {
			return scores[a.ID] > scores[b.ID]
		}
		return a.ID < b.ID
	})
	return listings, nil
}

// score ranks by matched terms, then tier, then rating weighted by volume.
func score(l Listing, terms []string) float64 {
	name, cat := strings.ToLower(l.Name), strings.ToLower(l.Category)
	var s float64
	for _, t := range terms {
		if strings.Contains(name, t) || strings.Contains(cat, t) {
			s += 100
		}
	}
	s += float64(l.Tier) * 10
	if l.ReviewCount > 0 {
		s += l.Rating * float64(min(l.ReviewCount, 100)) / 100
	}
	return s
}

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "for": true, "in": true, "near": true,
	"me": true, "some": true, "find": true, "show": true, "place": true,
	"places": true, "good": true, "best": true, "to": true, "of": true,
}

func searchTerms(query string) []string {
	var terms []string
	for _, f := range strings.Fields(strings.ToLower(query)) {
		f = strings.Trim(f, ".,!?'\"")
		if f == "" || stopWords[f] {
			continue
		}
		terms = append(terms, f)
	}
	return terms
}

func toBusiness(l Listing, now time.Time) business.Business {
	b := business.Business{
		ID:          l.ID,
		Name:        l.Name,
		Category:    l.Category,
		Lat:         l.Lat,
		Lng:         l.Lng,
		Rating:      l.Rating,
		ReviewCount: l.ReviewCount,
		Tier:        l.Tier,
		ReasonMeta:  &business.ReasonMeta{IsOpenNow: l.OpenAt(now)},
	}
	if l.ReviewCount > 0 {
		b.ReasonMeta.RatingBadge = fmt.Sprintf("%.1f★", l.Rating)
	}

	switch {
	case l.Tier == business.TierPaid:
		b.Reason = &business.Reason{Type: business.ReasonFeatured, Label: "Featured", Glyph: "★"}
	case l.Rating >= 4.5 && l.ReviewCount >= 50:
		b.Reason = &business.Reason{Type: business.ReasonTopRated, Label: "Top rated", Glyph: "🏆"}
	case b.ReasonMeta.IsOpenNow:
		b.Reason = &business.Reason{Type: business.ReasonOpenNow, Label: "Open now", Glyph: "🕒"}
	default:
		b.Reason = &business.Reason{Type: business.ReasonMatch, Label: "Matches your search", Glyph: "🔎"}
	}
	return b
}

func scanListing(rows *sql.Rows) (Listing, error) {
	var (
		l                 Listing
		tier              string
		openMin, closeMin sql.NullInt32
	)
	if err := rows.Scan(&l.ID, &l.Name, &l.Category, &l.Lat, &l.Lng, &l.Rating, &l.ReviewCount, &tier, &openMin, &closeMin); err != nil {
		return Listing{}, fmt.Errorf("scan listing: %w", err)
	}
	t, err := business.ParseTier(tier)
	if err != nil {
		return Listing{}, fmt.Errorf("listing %s: %w", l.ID, err)
	}
	l.Tier = t
	l.OpenMinute = intPtr(openMin)
	l.CloseMinute = intPtr(closeMin)
	return l, nil
}

func point(l Listing) orb.Point { return orb.Point{l.Lng, l.Lat} }

func formatMeters(m float64) string {
	if m < 1000 {
		return fmt.Sprintf("%.0f m", m)
	}
	return fmt.Sprintf("%.1f km", m/1000)
}

func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func intPtr(n sql.NullInt32) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int32)
	return &v
}
