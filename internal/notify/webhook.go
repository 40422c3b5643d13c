package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gojektech/heimdall/v6"
	"github.com/gojektech/heimdall/v6/httpclient"
)

// WebhookPusher posts pushes as JSON to the push service.
type WebhookPusher struct {
	url    string
	client *httpclient.Client
}

// NewWebhookPusher creates a pusher for url. Failed requests are retried
// retries times with a constant backoff.
func NewWebhookPusher(url string, timeout time.Duration, retries int) *WebhookPusher {
	backoff := heimdall.NewConstantBackoff(100*time.Millisecond, 50*time.Millisecond)
	return &WebhookPusher{
		url: url,
		client: httpclient.NewClient(
			httpclient.WithHTTPTimeout(timeout),
			httpclient.WithRetryCount(retries),
			httpclient.WithRetrier(heimdall.NewRetrier(backoff)),
		),
	}
}

// Push implements Pusher.
func (w *WebhookPusher) Push(ctx context.Context, p Push) error {
	body, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "encode push")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build push request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if resp != nil {
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	if err != nil {
		return errors.Wrapf(err, "post push to %s", w.url)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return errors.Newf("push service answered %d", resp.StatusCode)
	}
	return nil
}
