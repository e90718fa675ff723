package httpapi

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/labstack/echo/v4"

	"github.com/autowealth/treasury-agent/internal/agent"
)

// sseSink writes streaming events as server-sent `data:` frames, flushing
// after every event so clients see progress immediately.
type sseSink struct {
	mu sync.Mutex
	w  *echo.Response
}

func newSSESink(w *echo.Response) *sseSink {
	return &sseSink{w: w}
}

func (s *sseSink) Send(ev agent.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", b); err != nil {
		return err
	}
	s.w.Flush()
	return nil
}
