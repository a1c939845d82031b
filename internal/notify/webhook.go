// Package notify delivers Atlas notifications (detail requests, directions
// clicks and analytics) to a webhook. Delivery is fire-and-forget: callers
// never block and failures are only logged.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/joeblew999/plat-atlas/internal/atlas"
	"github.com/joeblew999/plat-atlas/internal/metrics"
)

// Notification kinds.
const (
	KindDetails    = "details_requested"
	KindDirections = "directions_clicked"
)

// Event is the webhook payload.
type Event struct {
	Kind       string         `json:"kind"`
	Session    string         `json:"session,omitempty"`
	BusinessID string         `json:"businessId,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	At         time.Time      `json:"at"`
}

// Config configures a Webhook.
type Config struct {
	// URL receives a POST per event. Empty disables delivery.
	URL string
	// RatePerSecond and Burst bound the delivery rate; excess events are
	// dropped.
	RatePerSecond float64
	Burst         int
	Timeout       time.Duration
}

// Webhook is an atlas.Notifier posting JSON events.
type Webhook struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
	wg      sync.WaitGroup
}

var _ atlas.Notifier = (*Webhook)(nil)

// New returns a webhook notifier.
func New(cfg Config, logger *slog.Logger) *Webhook {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 20
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		logger:  logger.With("component", "notify"),
	}
}

func (w *Webhook) RequestDetails(sessionID, businessID string) {
	w.send(Event{Kind: KindDetails, Session: sessionID, BusinessID: businessID})
}

func (w *Webhook) DirectionsClicked(sessionID, businessID string) {
	w.send(Event{Kind: KindDirections, Session: sessionID, BusinessID: businessID})
}

func (w *Webhook) Track(kind string, payload map[string]any) {
	w.send(Event{Kind: kind, Payload: payload})
}

// Wait blocks until in-flight deliveries finish.
func (w *Webhook) Wait() { w.wg.Wait() }

func (w *Webhook) send(e Event) {
	if w.cfg.URL == "" {
		w.logger.Debug("notification", "kind", e.Kind, "session", e.Session, "business", e.BusinessID)
		return
	}
	if !w.limiter.Allow() {
		metrics.NotificationsTotal.WithLabelValues(e.Kind, "dropped").Inc()
		w.logger.Warn("notification dropped, rate limit exceeded", "kind", e.Kind)
		return
	}
	e.At = time.Now().UTC()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.post(e); err != nil {
			metrics.NotificationsTotal.WithLabelValues(e.Kind, "failed").Inc()
			w.logger.Warn("notification failed", "kind", e.Kind, "error", err)
			return
		}
		metrics.NotificationsTotal.WithLabelValues(e.Kind, "sent").Inc()
	}()
}

func (w *Webhook) post(e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
