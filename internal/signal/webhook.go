package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/moltbunker/solverbond/internal/logging"
	"github.com/moltbunker/solverbond/internal/util"
	"github.com/moltbunker/solverbond/pkg/types"
)

// WebhookSink POSTs each outcome as JSON to an external registry adapter.
// Server errors are retried; client errors are not.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink creates a sink posting to url.
func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSink{url: url, client: &http.Client{Timeout: timeout}}
}

// Name implements Sink.
func (w *WebhookSink) Name() string { return "webhook:" + logging.RedactURL(w.url) }

// Deliver implements Sink.
func (w *WebhookSink) Deliver(ctx context.Context, o types.Outcome) error {
	body, err := json.Marshal(o)
	if err != nil {
		return util.MarkNonRetryable(fmt.Errorf("encode outcome: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return util.MarkNonRetryable(fmt.Errorf("build webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	default:
		return util.MarkNonRetryable(fmt.Errorf("webhook returned %d", resp.StatusCode))
	}
}
