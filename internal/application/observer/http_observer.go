package observer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPObserver posts lifecycle events as JSON to a configured callback URL,
// per config.ObserverConfig.EnableHTTP.
type HTTPObserver struct {
	url    string
	client *http.Client
}

// NewHTTPObserver constructs an HTTPObserver posting to url with timeout.
func NewHTTPObserver(url string, timeout time.Duration) *HTTPObserver {
	return &HTTPObserver{url: url, client: &http.Client{Timeout: timeout}}
}

func (o *HTTPObserver) Name() string { return "http_callback" }

func (o *HTTPObserver) OnEvent(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("http observer callback returned status %d", resp.StatusCode)
	}
	return nil
}
