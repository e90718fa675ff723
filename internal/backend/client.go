package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const actorHeader = "x-user-id"

// Client is a thin wrapper over the financial backend HTTP API. Every call
// resolves to an Outcome; transport and HTTP errors never surface as Go
// errors to callers.
type Client struct {
	log     *slog.Logger
	baseURL string
	http    *http.Client
}

type Options struct {
	Logger *slog.Logger

	// BaseURL is the backend origin, e.g. http://localhost:3001.
	BaseURL string

	// Timeout applies per request. Zero means 60s.
	Timeout time.Duration

	// Transport overrides the HTTP transport (used by tests).
	Transport http.RoundTripper
}

func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("missing backend base URL")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	hc := &http.Client{Timeout: timeout}
	if opts.Transport != nil {
		hc.Transport = opts.Transport
	}
	return &Client{log: logger, baseURL: base, http: hc}, nil
}

func (c *Client) BaseURL() string {
	if c == nil {
		return ""
	}
	return c.baseURL
}

// Call issues an HTTP request against the backend and folds the result into
// the uniform Outcome envelope:
//   - transport failure -> {ok:false, error}
//   - non-2xx           -> {ok:false, status, error: parsed body or raw text}
//   - 2xx               -> {ok:true, data: parsed JSON, or {raw: text}}
//
// When actorID is set and the caller did not already supply an identity
// header (case-insensitive), the x-user-id header is injected.
func (c *Client) Call(ctx context.Context, method, path string, params map[string]any, body any, headers map[string]string, actorID string) Outcome {
	if c == nil {
		return Fail("backend client not configured")
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		q := url.Values{}
		for k, v := range params {
			q.Set(k, anyToQueryValue(v))
		}
		reqURL += "?" + q.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return Failf("encode request body: %v", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return Fail(err.Error())
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if strings.TrimSpace(actorID) != "" && !hasHeaderFold(headers, actorHeader) {
		req.Header.Set(actorHeader, actorID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("backend request failed", "method", method, "path", path, "error", err)
		return Fail(err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Fail(err.Error())
	}

	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		payload = map[string]any{"raw": string(raw)}
	}

	if resp.StatusCode >= 400 {
		return Outcome{OK: false, Status: resp.StatusCode, Error: payload}
	}
	// HTTP-level success is authoritative; payload shape is the caller's
	// problem.
	return Outcome{OK: true, Data: payload}
}

func hasHeaderFold(headers map[string]string, name string) bool {
	for k := range headers {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}

func anyToQueryValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		// JSON numbers decode as float64; render integers without a
		// trailing ".0" so pagination params stay clean.
		if t == float64(int64(t)) {
			b, _ := json.Marshal(int64(t))
			return string(b)
		}
		b, _ := json.Marshal(t)
		return string(b)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return strings.Trim(string(b), `"`)
	}
}
