// Package watchdog resolves per-cell soft/hard deadlines and reports
// expirations. Hard timeouts optionally fire an incident webhook.
package watchdog

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/neira-project/neira/pkg/config"
	"github.com/neira-project/neira/pkg/metrics"
)

// Watchdog holds the resolved deadlines for one cell.
type Watchdog struct {
	Soft time.Duration
	Hard time.Duration

	webhookURL string
	metrics    *metrics.Metrics
	client     *http.Client
}

// ForCell resolves deadlines for a cell id. Resolution order:
// WATCHDOG_SOFT_MS_{UPPER(id)} / WATCHDOG_HARD_MS_{UPPER(id)}, then
// the configured defaults. Non-alphanumeric id characters map to '_'.
func ForCell(id string, cfg config.WatchdogConfig, m *metrics.Metrics) *Watchdog {
	up := sanitizeID(id)
	soft := envMS("WATCHDOG_SOFT_MS_"+up, cfg.SoftDefault)
	hard := envMS("WATCHDOG_HARD_MS_"+up, cfg.HardDefault)
	return &Watchdog{
		Soft:       soft,
		Hard:       hard,
		webhookURL: cfg.WebhookURL,
		metrics:    m,
		client:     &http.Client{Timeout: 5 * time.Second},
	}
}

// SoftTimeout records a soft deadline expiration.
func (w *Watchdog) SoftTimeout() {
	w.metrics.WatchdogTimeouts.WithLabelValues("soft").Inc()
}

// HardTimeout records a hard deadline expiration and fires the
// incident webhook when configured. The POST runs fire-and-forget
// with a short bounded retry; failures are logged, never surfaced.
func (w *Watchdog) HardTimeout(id string) {
	w.metrics.WatchdogTimeouts.WithLabelValues("hard").Inc()
	if w.webhookURL == "" {
		return
	}

	payload, _ := json.Marshal(map[string]string{
		"type": "watchdog_hard",
		"id":   id,
		"ts":   time.Now().UTC().Format(time.RFC3339),
	})
	go w.postWebhook(id, payload)
}

func (w *Watchdog) postWebhook(id string, payload []byte) {
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	err := backoff.Retry(func() error {
		resp, err := w.client.Post(w.webhookURL, "application/json", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return errStatus(resp.StatusCode)
		}
		return nil
	}, policy)
	if err != nil {
		slog.Error("Incident webhook delivery failed", "id", id, "error", err)
	}
}

type errStatus int

func (e errStatus) Error() string {
	return "webhook returned status " + strconv.Itoa(int(e))
}

// sanitizeID uppercases and replaces everything outside [A-Za-z0-9]
// with '_'. Empty ids resolve as "DEFAULT".
func sanitizeID(id string) string {
	var b strings.Builder
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z':
			b.WriteRune(c - 'a' + 'A')
		case (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9'):
			b.WriteRune(c)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "DEFAULT"
	}
	return b.String()
}

func envMS(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Duration(n) * time.Millisecond
		}
	}
	return def
}
