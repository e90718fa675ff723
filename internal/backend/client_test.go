package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

type failingTransport struct{}

func (failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("connection refused")
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Options{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c, srv
}

func TestCallSuccessParsesJSON(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"amount": "42.50"})
	}))
	out := c.Call(context.Background(), http.MethodGet, "/api/treasury/balance", nil, nil, nil, "user_1")
	if !out.OK {
		t.Fatalf("ok=false, error=%v", out.Error)
	}
	data := out.DataMap()
	if data["amount"] != "42.50" {
		t.Fatalf("data=%v, want amount 42.50", data)
	}
}

func TestCallNonJSONBodyWrappedAsRaw(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "plain text")
	}))
	out := c.Call(context.Background(), http.MethodGet, "/x", nil, nil, nil, "")
	if !out.OK {
		t.Fatalf("HTTP 200 with unparsable body must still be ok, got %+v", out)
	}
	if out.DataMap()["raw"] != "plain text" {
		t.Fatalf("data=%v, want raw wrapper", out.Data)
	}
}

func TestCallErrorStatusCarriesParsedBody(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]any{"message": "insufficient funds"})
	}))
	out := c.Call(context.Background(), http.MethodPost, "/api/payments/execute", nil, map[string]any{"amount": "1"}, nil, "user_1")
	if out.OK {
		t.Fatal("ok=true for 422 response")
	}
	if out.Status != http.StatusUnprocessableEntity {
		t.Fatalf("status=%d, want 422", out.Status)
	}
	errMap, ok := out.Error.(map[string]any)
	if !ok || errMap["message"] != "insufficient funds" {
		t.Fatalf("error=%v, want parsed body", out.Error)
	}
}

func TestCallTransportFailureNeverPanics(t *testing.T) {
	c, err := New(Options{BaseURL: "http://localhost:1", Transport: failingTransport{}})
	if err != nil {
		t.Fatal(err)
	}
	out := c.Call(context.Background(), http.MethodGet, "/api/treasury/balance", nil, nil, nil, "")
	if out.OK {
		t.Fatal("ok=true on transport failure")
	}
	if out.ErrorText() == "" {
		t.Fatal("missing error message")
	}
}

func TestCallInjectsActorHeaderUnlessPresent(t *testing.T) {
	var seen []string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("x-user-id"))
		_, _ = io.WriteString(w, "{}")
	}))

	c.Call(context.Background(), http.MethodGet, "/a", nil, nil, nil, "user_9")
	c.Call(context.Background(), http.MethodGet, "/b", nil, nil, map[string]string{"X-User-Id": "override"}, "user_9")
	c.Call(context.Background(), http.MethodGet, "/c", nil, nil, nil, "")

	want := []string{"user_9", "override", ""}
	if !reflect.DeepEqual(seen, want) {
		t.Fatalf("headers seen=%v, want %v", seen, want)
	}
}

func TestCallIdempotentAgainstStubTransport(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"balance": float64(7)})
	}))
	first := c.Call(context.Background(), http.MethodGet, "/api/treasury/balance", map[string]any{"limit": float64(5)}, nil, nil, "u")
	second := c.Call(context.Background(), http.MethodGet, "/api/treasury/balance", map[string]any{"limit": float64(5)}, nil, nil, "u")
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("outcomes differ:\n%+v\n%+v", first, second)
	}
}

func TestQueryParamsEncoded(t *testing.T) {
	var gotQuery string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = io.WriteString(w, "{}")
	}))
	c.Call(context.Background(), http.MethodGet, "/api/vendors/search", map[string]any{"q": "ai agent"}, nil, nil, "")
	if gotQuery != "q=ai+agent" {
		t.Fatalf("query=%q, want q=ai+agent", gotQuery)
	}
}
