// Package httpapi exposes the conversational agent over HTTP: chat CRUD,
// message posting with optional assistant responses, and an SSE streaming
// variant of the same flow.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/autowealth/treasury-agent/internal/agent"
	"github.com/autowealth/treasury-agent/internal/config"
	"github.com/autowealth/treasury-agent/internal/store"
)

type Options struct {
	Logger *slog.Logger

	Service *agent.Service
	Store   *store.Store

	// DefaultModel and DefaultSystemPrompt fill chats created without them.
	DefaultModel        string
	DefaultSystemPrompt string
}

type Handler struct {
	log          *slog.Logger
	svc          *agent.Service
	store        *store.Store
	model        string
	systemPrompt string
	started      time.Time
}

func New(opts Options) (*Handler, error) {
	if opts.Service == nil {
		return nil, errors.New("httpapi: missing service")
	}
	if opts.Store == nil {
		return nil, errors.New("httpapi: missing store")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	model := strings.TrimSpace(opts.DefaultModel)
	if model == "" {
		model = config.DefaultModel
	}
	prompt := opts.DefaultSystemPrompt
	if strings.TrimSpace(prompt) == "" {
		prompt = config.DefaultSystemPrompt
	}
	return &Handler{
		log:          log,
		svc:          opts.Service,
		store:        opts.Store,
		model:        model,
		systemPrompt: prompt,
		started:      time.Now(),
	}, nil
}

func (h *Handler) Register(e *echo.Echo) {
	e.GET("/health", h.Health)

	api := e.Group("/api")
	api.POST("/chats", h.CreateChat)
	api.GET("/users/:user_id/chats", h.ListChats)
	api.GET("/chats/:chat_id", h.GetChat)
	api.PATCH("/chats/:chat_id", h.UpdateChat)
	api.DELETE("/chats/:chat_id", h.DeleteChat)
	api.GET("/chats/:chat_id/messages", h.ListMessages)
	api.POST("/chats/:chat_id/messages", h.CreateMessage)
	api.POST("/chats/:chat_id/messages/stream", h.StreamMessage)
}

func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": agent.NowISO(),
		"model":     h.model,
		"process":   processStats(c.Request().Context(), h.started),
	})
}

func processStats(ctx context.Context, started time.Time) map[string]any {
	stats := map[string]any{
		"pid":            os.Getpid(),
		"goroutines":     runtime.NumGoroutine(),
		"uptime_seconds": int64(time.Since(started).Seconds()),
	}
	p, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return stats
	}
	if mi, err := p.MemoryInfoWithContext(ctx); err == nil && mi != nil {
		stats["rss_bytes"] = mi.RSS
	}
	if pct, err := p.CPUPercentWithContext(ctx); err == nil {
		stats["cpu_percent"] = pct
	}
	return stats
}

type ChatCreateRequest struct {
	UserID       string `json:"user_id"`
	Title        string `json:"title,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	Model        string `json:"model,omitempty"`
}

func (h *Handler) CreateChat(c echo.Context) error {
	var req ChatCreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body.")
	}
	if strings.TrimSpace(req.UserID) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required.")
	}

	now := agent.NowISO()
	chat := store.Chat{
		ID:           agent.NewChatID(),
		UserID:       req.UserID,
		Title:        req.Title,
		SystemPrompt: req.SystemPrompt,
		Model:        req.Model,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if chat.SystemPrompt == "" {
		chat.SystemPrompt = h.systemPrompt
	}
	if chat.Model == "" {
		chat.Model = h.model
	}
	if err := h.store.CreateChat(c.Request().Context(), chat); err != nil {
		h.log.Error("create chat failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Could not create chat.")
	}
	return c.JSON(http.StatusOK, chat)
}

func (h *Handler) ListChats(c echo.Context) error {
	chats, err := h.store.ListChats(c.Request().Context(), c.Param("user_id"))
	if err != nil {
		h.log.Error("list chats failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Could not list chats.")
	}
	if chats == nil {
		chats = []store.Chat{}
	}
	return c.JSON(http.StatusOK, chats)
}

func (h *Handler) loadChat(c echo.Context) (store.Chat, error) {
	chat, ok, err := h.store.GetChat(c.Request().Context(), c.Param("chat_id"))
	if err != nil {
		h.log.Error("get chat failed", "error", err)
		return store.Chat{}, echo.NewHTTPError(http.StatusInternalServerError, "Could not load chat.")
	}
	if !ok {
		return store.Chat{}, echo.NewHTTPError(http.StatusNotFound, "Chat not found.")
	}
	return chat, nil
}

func (h *Handler) GetChat(c echo.Context) error {
	chat, err := h.loadChat(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, chat)
}

type ChatUpdateRequest struct {
	Title *string `json:"title,omitempty"`
}

func (h *Handler) UpdateChat(c echo.Context) error {
	chat, err := h.loadChat(c)
	if err != nil {
		return err
	}
	var req ChatUpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body.")
	}
	if req.Title != nil {
		if err := h.store.SetChatTitle(c.Request().Context(), chat.ID, *req.Title, agent.NowISO()); err != nil {
			h.log.Error("update chat failed", "error", err)
			return echo.NewHTTPError(http.StatusInternalServerError, "Could not update chat.")
		}
	}
	updated, ok, err := h.store.GetChat(c.Request().Context(), chat.ID)
	if err != nil || !ok {
		return echo.NewHTTPError(http.StatusNotFound, "Chat not found.")
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) DeleteChat(c echo.Context) error {
	chat, err := h.loadChat(c)
	if err != nil {
		return err
	}
	if err := h.store.DeleteChat(c.Request().Context(), chat.ID); err != nil {
		h.log.Error("delete chat failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Could not delete chat.")
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) ListMessages(c echo.Context) error {
	chat, err := h.loadChat(c)
	if err != nil {
		return err
	}
	limit := 0
	if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be between 1 and 500.")
		}
		limit = n
	}
	messages, err := h.store.ListMessages(c.Request().Context(), chat.ID, limit)
	if err != nil {
		h.log.Error("list messages failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Could not list messages.")
	}
	if messages == nil {
		messages = []store.Message{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"chat_id":  chat.ID,
		"messages": messages,
	})
}

func (h *Handler) bindMessageRequest(c echo.Context) (agent.MessageRequest, error) {
	// Field defaults match the request model: user turn that expects a
	// response, with tools and thoughts enabled.
	req := agent.MessageRequest{
		Role:            "user",
		Respond:         true,
		IncludeThoughts: true,
		UseTools:        true,
	}
	if err := c.Bind(&req); err != nil {
		return req, echo.NewHTTPError(http.StatusBadRequest, "Invalid request body.")
	}
	if strings.TrimSpace(req.Content) == "" {
		return req, echo.NewHTTPError(http.StatusBadRequest, "content is required.")
	}
	switch req.Role {
	case "user", "assistant", "system":
	default:
		return req, echo.NewHTTPError(http.StatusBadRequest, "role must be user, assistant or system.")
	}
	return req, nil
}

func (h *Handler) CreateMessage(c echo.Context) error {
	chat, err := h.loadChat(c)
	if err != nil {
		return err
	}
	req, err := h.bindMessageRequest(c)
	if err != nil {
		return err
	}

	userMsg, assistantMsg, err := h.svc.PostMessage(c.Request().Context(), chat, req)
	if err != nil {
		return h.generationError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"chat_id":           chat.ID,
		"message":           userMsg,
		"assistant_message": assistantMsg,
	})
}

func (h *Handler) StreamMessage(c echo.Context) error {
	chat, err := h.loadChat(c)
	if err != nil {
		return err
	}
	req, err := h.bindMessageRequest(c)
	if err != nil {
		return err
	}
	if !req.Respond || req.Role != "user" {
		return echo.NewHTTPError(http.StatusBadRequest, "Streaming only supports user messages with respond=true.")
	}
	if req.UseSearch {
		return echo.NewHTTPError(http.StatusBadRequest, "Streaming does not support Google Search mode.")
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sink := newSSESink(w)
	if err := h.svc.StreamMessage(c.Request().Context(), chat, req, sink); err != nil {
		// Headers are already out. Surface what we can as a terminal frame.
		h.log.Error("stream failed", "chat_id", chat.ID, "error", err)
		_ = sink.Send(agent.Event{Type: "error", Error: err.Error()})
	}
	return nil
}

func (h *Handler) generationError(err error) error {
	switch {
	case errors.Is(err, agent.ErrSearchWithTools):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, agent.ErrNoAPIKey):
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	default:
		h.log.Error("message generation failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Could not generate a response.")
	}
}
