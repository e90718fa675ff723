package agent

import (
	"context"
	"encoding/json"
	"iter"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"google.golang.org/genai"

	"github.com/autowealth/treasury-agent/internal/backend"
	"github.com/autowealth/treasury-agent/internal/policy"
	"github.com/autowealth/treasury-agent/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Role:  genai.RoleModel,
				Parts: []*genai.Part{{Text: text}},
			},
		}},
	}
}

func thoughtResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Role:  genai.RoleModel,
				Parts: []*genai.Part{{Text: text, Thought: true}},
			},
		}},
	}
}

func callResponse(name string, args map[string]any) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Role:  genai.RoleModel,
				Parts: []*genai.Part{{FunctionCall: &genai.FunctionCall{Name: name, Args: args}}},
			},
		}},
	}
}

// fakeProvider replays scripted responses for Generate and fixed chunk
// sequences for GenerateStream.
type fakeProvider struct {
	responses    []*genai.GenerateContentResponse
	generateErr  error
	genCalls     int
	streamChunks []*genai.GenerateContentResponse
	streamErr    error
	streamCalls  int
}

func (p *fakeProvider) Generate(_ context.Context, _ string, _ []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	if p.generateErr != nil {
		return nil, p.generateErr
	}
	idx := p.genCalls
	p.genCalls++
	if idx < len(p.responses) {
		return p.responses[idx], nil
	}
	if len(p.responses) > 0 {
		return p.responses[len(p.responses)-1], nil
	}
	return &genai.GenerateContentResponse{}, nil
}

func (p *fakeProvider) GenerateStream(_ context.Context, _ string, _ []*genai.Content, _ *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
	p.streamCalls++
	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		for _, chunk := range p.streamChunks {
			if !yield(chunk, nil) {
				return
			}
		}
		if p.streamErr != nil {
			yield(nil, p.streamErr)
		}
	}
}

type recordedRequest struct {
	Method string
	Path   string
	Body   map[string]any
}

// fakeBackend is an httptest server with per-path canned JSON responses.
type fakeBackend struct {
	srv       *httptest.Server
	responses map[string]any
	statuses  map[string]int
	requests  []recordedRequest
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{
		responses: map[string]any{},
		statuses:  map[string]int{},
	}
	fb.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}
		fb.requests = append(fb.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Body: body})

		key := r.Method + " " + r.URL.Path
		status := fb.statuses[key]
		if status == 0 {
			status = http.StatusOK
		}
		resp, ok := fb.responses[key]
		if !ok {
			status = http.StatusNotFound
			resp = map[string]any{"error": "not found"}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBackend) on(method, path string, status int, resp any) {
	fb.responses[method+" "+path] = resp
	fb.statuses[method+" "+path] = status
}

func (fb *fakeBackend) client(t *testing.T) *backend.Client {
	t.Helper()
	c, err := backend.New(backend.Options{Logger: testLogger(), BaseURL: fb.srv.URL})
	if err != nil {
		t.Fatalf("backend.New: %v", err)
	}
	return c
}

func (fb *fakeBackend) calls(method, path string) int {
	n := 0
	for _, req := range fb.requests {
		if req.Method == method && req.Path == path {
			n++
		}
	}
	return n
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "agent.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestRegistry(t *testing.T, fb *fakeBackend, st *store.Store) *Registry {
	t.Helper()
	var validator *policy.Validator
	if st != nil {
		validator = policy.NewValidator(policy.ValidatorOptions{Logger: testLogger(), Store: st})
	}
	return NewRegistry(RegistryOptions{
		Logger:    testLogger(),
		Backend:   fb.client(t),
		Store:     st,
		Validator: validator,
	})
}

// collectSink records events in order.
type collectSink struct {
	events []Event
}

func (c *collectSink) Send(e Event) error {
	c.events = append(c.events, e)
	return nil
}

func (c *collectSink) types() []string {
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Type)
	}
	return out
}
