package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/54b3r/postsearch-go/internal/version"
)

// defaultHTTPTimeout bounds a single backend call when the caller does not
// supply its own client.
const defaultHTTPTimeout = 30 * time.Second

// maxErrorBody caps how much of a non-2xx body is read for the error message.
const maxErrorBody = 4 << 10

// httpClientOrDefault returns c, or a client with defaultHTTPTimeout.
func httpClientOrDefault(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: defaultHTTPTimeout}
}

// postJSON sends body as JSON to url and decodes a 2xx response into out.
// On a non-2xx status, errMsg extracts a backend-specific message from the
// raw body; an empty message falls back to "HTTP <code>".
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body, out any, errMsg func([]byte) string) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := ""
		if errMsg != nil {
			msg = errMsg(raw)
		}
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		return fmt.Errorf("%s", msg)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
