// Package server assembles the Atlas HTTP server: the Huma API over the
// session registry and business directory, the SSE streams and /metrics.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/redis/go-redis/v9"

	"github.com/joeblew999/plat-atlas/internal/api"
	"github.com/joeblew999/plat-atlas/internal/atlas"
	"github.com/joeblew999/plat-atlas/internal/db"
	"github.com/joeblew999/plat-atlas/internal/directory"
	"github.com/joeblew999/plat-atlas/internal/humastar"
	"github.com/joeblew999/plat-atlas/internal/markers"
	"github.com/joeblew999/plat-atlas/internal/metrics"
	"github.com/joeblew999/plat-atlas/internal/notify"
	"github.com/joeblew999/plat-atlas/internal/service"
	"github.com/joeblew999/plat-atlas/internal/templates"
)

// Config holds the server configuration.
type Config struct {
	Host    string
	Port    string
	DataDir string // empty keeps the directory in memory

	RedisAddr     string // empty disables the search cache
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	Notify    notify.Config
	Directory directory.Options
	Timings   atlas.Timings
	Markers   markers.Config
	FocusZoom float64

	Logger *slog.Logger
}

// Server is the Atlas HTTP server.
type Server struct {
	config    Config
	mux       *http.ServeMux
	humaAPI   huma.API
	links     *humastar.Links
	db        *sql.DB
	redis     *redis.Client
	store     *directory.Store
	notifier  *notify.Webhook
	sessions  *service.Registry
	fragments *templates.Renderer
	logger    *slog.Logger
}

// New creates the server, opening the directory database and running its
// migration.
func New(ctx context.Context, cfg Config) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timings == (atlas.Timings{}) {
		cfg.Timings = atlas.DefaultTimings()
	}
	if cfg.Markers.ClusterRadius == 0 {
		cfg.Markers = markers.DefaultConfig()
	}
	if cfg.Directory.Limit == 0 {
		cfg.Directory = directory.DefaultOptions()
	}

	fragments, err := templates.New()
	if err != nil {
		return nil, fmt.Errorf("parse fragments: %w", err)
	}

	conn, err := db.Get(db.Config{DataDir: cfg.DataDir, DBName: "atlas"})
	if err != nil {
		return nil, fmt.Errorf("open directory database: %w", err)
	}
	store := directory.New(conn, cfg.Directory)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate directory: %w", err)
	}

	var searcher atlas.Searcher = store
	rdb := directory.OpenRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if rdb != nil {
		searcher = directory.NewCache(store, rdb, cfg.CacheTTL, logger)
	}

	notifier := notify.New(cfg.Notify, logger)
	sessions := service.NewRegistry(service.RegistryConfig{
		Searcher:  searcher,
		Notifier:  notifier,
		Timings:   cfg.Timings,
		Markers:   cfg.Markers,
		FocusZoom: cfg.FocusZoom,
	}, service.NewEventBus(), logger)

	mux := http.NewServeMux()
	links := &humastar.Links{Search: "/api/v1/directory/search", Skip: []string{"stream"}}

	// Create Huma API with humago (pure stdlib) adapter
	humaConfig := huma.DefaultConfig("plat-atlas API", api.Version)
	humaConfig.Info.Description = "Map sessions for conversational local search: results, guided tours, HUD and live renderer streams."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, links.Transformer())

	s := &Server{
		config:    cfg,
		mux:       mux,
		humaAPI:   humago.New(mux, humaConfig),
		links:     links,
		db:        conn,
		redis:     rdb,
		store:     store,
		notifier:  notifier,
		sessions:  sessions,
		fragments: fragments,
		logger:    logger.With("component", "server"),
	}
	s.routes(searcher)
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// OpenAPI returns the generated OpenAPI document.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Sessions returns the session registry.
func (s *Server) Sessions() *service.Registry { return s.sessions }

// Close closes every session, waits for queued notifications and releases
// the database and cache.
func (s *Server) Close(ctx context.Context) error {
	s.sessions.CloseAll(ctx)
	s.notifier.Wait()
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warn("redis close failed", "error", err)
		}
	}
	return db.Close()
}

func (s *Server) routes(searcher atlas.Searcher) {
	api.RegisterRoutes(s.humaAPI, &api.Services{
		Sessions:  s.sessions,
		Directory: s.store,
		Searcher:  searcher,
		Fragments: s.fragments,
	})
	api.NewInfoHandler(s.config.DataDir, s.features()...).RegisterRoutes(s.humaAPI)
	s.links.Build(s.humaAPI)

	s.mux.Handle("/metrics", metrics.Handler())
	s.mux.HandleFunc("/", s.handleRoot)
}

func (s *Server) features() []string {
	features := []string{"directory", "fragments"}
	if s.redis != nil {
		features = append(features, "search-cache")
	}
	if s.config.Notify.URL != "" {
		features = append(features, "webhook")
	}
	return features
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	for _, link := range s.links.For("/health") {
		w.Header().Add("Link", link)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"service":  "plat-atlas",
		"status":   "running",
		"sessions": len(s.sessions.IDs()),
	})
}
