package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-atlas/internal/atlas"
	"github.com/joeblew999/plat-atlas/internal/logger"
	"github.com/joeblew999/plat-atlas/internal/notify"
	"github.com/joeblew999/plat-atlas/internal/server"
)

// Options defines all CLI flags and env vars for the atlas server.
// Flags: --host, --port, --data-dir, --redis-addr, ...
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_DATA_DIR, SERVICE_REDIS_ADDR, ...
type Options struct {
	Host    string `doc:"Host to bind to" default:"0.0.0.0"`
	Port    int    `doc:"Port to listen on" short:"p" default:"8087"`
	DataDir string `doc:"Directory for the business database, empty for in-memory" default:".data"`

	RedisAddr     string `doc:"Redis address for the search cache, empty disables it"`
	RedisPassword string `doc:"Redis password"`
	RedisDB       int    `doc:"Redis database number" default:"0"`
	CacheTTLSec   int    `doc:"Search cache TTL in seconds" default:"3600"`

	WebhookURL   string `doc:"URL receiving notification events, empty only logs them"`
	WebhookRate  int    `doc:"Notifications per second before dropping" default:"10"`
	WebhookBurst int    `doc:"Notification burst size" default:"20"`

	TourIntroMs      int `doc:"How long the tour intro stays before the first stop" default:"1500"`
	TourStopMs       int `doc:"Dwell time on each tour stop" default:"3000"`
	TourStartMs      int `doc:"Delay between results arriving and the tour starting" default:"600"`
	HUDAppearMs      int `doc:"Delay before a HUD message appears after a camera move" default:"120"`
	NoMatchesMs      int `doc:"How long the no-matches message stays" default:"4000"`
	RestoredMs       int `doc:"How long the filters-cleared message stays" default:"2500"`
	GuidanceMs       int `doc:"How long guidance messages stay" default:"5000"`
	ErrorMs          int `doc:"How long error messages stay" default:"4000"`
	ReadyPollMs      int `doc:"Renderer readiness poll interval" default:"50"`
	ReadyMaxPolls    int `doc:"Readiness polls before giving up" default:"200"`
	SearchLimit      int `doc:"Maximum results per search" default:"10"`
	SummaryDismissMs int `doc:"How long search answers stay on screen" default:"6000"`
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func (o *Options) timings() atlas.Timings {
	t := atlas.DefaultTimings()
	t.Tour.IntroDwell = ms(o.TourIntroMs)
	t.Tour.StopDwell = ms(o.TourStopMs)
	t.TourStartDelay = ms(o.TourStartMs)
	t.HUD.AppearDelay = ms(o.HUDAppearMs)
	t.HUD.NoMatchesDismiss = ms(o.NoMatchesMs)
	t.HUD.RestoredDismiss = ms(o.RestoredMs)
	t.HUD.GuidanceDismiss = ms(o.GuidanceMs)
	t.HUD.ErrorDismiss = ms(o.ErrorMs)
	t.Surface.PollInterval = ms(o.ReadyPollMs)
	t.Surface.MaxPolls = o.ReadyMaxPolls
	return t
}

func newServer(ctx context.Context, opts *Options) (*server.Server, error) {
	cfg := server.Config{
		Host:          opts.Host,
		Port:          fmt.Sprintf("%d", opts.Port),
		DataDir:       opts.DataDir,
		RedisAddr:     opts.RedisAddr,
		RedisPassword: opts.RedisPassword,
		RedisDB:       opts.RedisDB,
		CacheTTL:      time.Duration(opts.CacheTTLSec) * time.Second,
		Notify: notify.Config{
			URL:           opts.WebhookURL,
			RatePerSecond: float64(opts.WebhookRate),
			Burst:         opts.WebhookBurst,
		},
		Timings: opts.timings(),
		Logger:  logger.L(),
	}
	cfg.Directory.Limit = opts.SearchLimit
	cfg.Directory.AutoDismissMs = opts.SummaryDismissMs
	cfg.Directory.Now = time.Now
	return server.New(ctx, cfg)
}

func main() {
	// A missing .env is fine; flags and the environment still apply.
	_ = godotenv.Load()
	log := logger.Setup()

	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		var srv *server.Server
		httpSrv := &http.Server{Addr: fmt.Sprintf("%s:%d", opts.Host, opts.Port)}

		hooks.OnStart(func() {
			var err error
			srv, err = newServer(context.Background(), opts)
			if err != nil {
				log.Error("server setup failed", "error", err)
				os.Exit(1)
			}
			httpSrv.Handler = srv

			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)
			log.Info("plat-atlas API server starting",
				"server", baseURL,
				"docs", baseURL+"/docs",
				"openapi", baseURL+"/openapi.json",
				"data", opts.DataDir,
			)

			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("server error", "error", err)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(ctx); err != nil {
				log.Warn("shutdown", "error", err)
			}
			if srv != nil {
				if err := srv.Close(ctx); err != nil {
					log.Warn("close", "error", err)
				}
			}
		})
	})

	cli.Root().Use = "atlas"
	cli.Root().Short = "Map sessions for conversational local search"
	cli.Root().Version = "0.1.0"

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			ctx := context.Background()
			opts.DataDir = ""
			srv, err := newServer(ctx, opts)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error building server: %v\n", err)
				os.Exit(1)
			}
			defer srv.Close(ctx)
			spec := srv.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			if useYAML {
				output, err = yaml.Marshal(spec)
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error marshaling spec: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	cli.Run()
}
