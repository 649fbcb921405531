package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const (
	userAgent    = "automatex-notifier/1.0 (+https://github.com/automatex)"
	maxBodyBytes = 32 << 20
)

// NewHTTPClient returns a client with bounded dial and TLS timeouts shared by
// all sources.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        20,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: tr}
}

// getJSON GETs rawURL and decodes the body into out.
func (b *base) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return &FetchError{Source: b.settings.Name, URL: b.redact(rawURL), Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return &FetchError{Source: b.settings.Name, URL: b.redact(rawURL), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &FetchError{Source: b.settings.Name, URL: b.redact(rawURL), Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &FetchError{
			Source: b.settings.Name,
			URL:    b.redact(rawURL),
			Status: resp.StatusCode,
			Err:    fmt.Errorf("unexpected status %s: %s", resp.Status, snippet(body, 200)),
		}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &ResponseFormatError{Source: b.settings.Name, URL: b.redact(rawURL), Err: err}
	}
	return nil
}

func snippet(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// decodeItems decodes each raw element into a T and checks it with valid (nil
// means no check). Elements that fail either step are skipped and reported
// with their index in raw.
func decodeItems[T any](raw []json.RawMessage, valid func(T) error, skip func(i int, err error)) []T {
	out := make([]T, 0, len(raw))
	for i, r := range raw {
		var v T
		err := json.Unmarshal(r, &v)
		if err == nil && valid != nil {
			err = valid(v)
		}
		if err != nil {
			skip(i, err)
			continue
		}
		out = append(out, v)
	}
	return out
}

var errMissingField = errors.New("missing required field")
