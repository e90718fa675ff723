package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/autowealth/treasury-agent/internal/backend"
	"github.com/autowealth/treasury-agent/internal/policy"
	"github.com/autowealth/treasury-agent/internal/store"
)

// ErrSearchWithTools rejects a request combining function tools with
// Google Search grounding; the model accepts one or the other.
var ErrSearchWithTools = errors.New("Function tools and Google Search can't be used in the same call.")

const maxOutputTokens = 10000

// Service runs the conversational agent: it owns the tool loop, the
// policy confirmation short-circuit, streaming, and title autonaming.
// Chat persistence flows through the store; writes to one chat are
// serialized.
type Service struct {
	log      *slog.Logger
	provider Provider
	store    *store.Store
	registry *Registry
	pending  *policy.PendingDrafts

	defaultModel string
	maxToolSteps int

	mu        sync.Mutex
	chatLocks map[string]*sync.Mutex
}

type ServiceOptions struct {
	Logger   *slog.Logger
	Provider Provider
	Store    *store.Store
	Registry *Registry
	Pending  *policy.PendingDrafts

	DefaultModel string
	MaxToolSteps int
}

func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("missing Store")
	}
	if opts.Registry == nil {
		return nil, errors.New("missing Registry")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pending := opts.Pending
	if pending == nil {
		pending = policy.NewPendingDrafts(0)
	}
	steps := opts.MaxToolSteps
	if steps <= 0 {
		steps = 12
	}
	return &Service{
		log:          logger,
		provider:     opts.Provider,
		store:        opts.Store,
		registry:     opts.Registry,
		pending:      pending,
		defaultModel: strings.TrimSpace(opts.DefaultModel),
		maxToolSteps: steps,
		chatLocks:    make(map[string]*sync.Mutex),
	}, nil
}

// MessageRequest is a user turn posted to a chat.
type MessageRequest struct {
	Role            string `json:"role"`
	Content         string `json:"content"`
	Model           string `json:"model,omitempty"`
	Respond         bool   `json:"respond"`
	IncludeThoughts bool   `json:"include_thoughts"`
	UseTools        bool   `json:"use_tools"`
	UseSearch       bool   `json:"use_search"`
}

func (s *Service) lockChat(chatID string) func() {
	s.mu.Lock()
	lock, ok := s.chatLocks[chatID]
	if !ok {
		lock = &sync.Mutex{}
		s.chatLocks[chatID] = lock
	}
	s.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}

func nowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000000Z07:00")
}

// NowISO returns the canonical UTC timestamp used for chat and message rows.
// The fixed-width fraction keeps lexical order chronological.
func NowISO() string { return nowISO() }

func newID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewChatID mints a chat identifier.
func NewChatID() string { return newID("chat") }

func buildMessage(chatID, userID, role, content string, md *Metadata) store.Message {
	msg := store.Message{
		ID:        newID("msg"),
		ChatID:    chatID,
		UserID:    userID,
		Role:      role,
		Content:   content,
		CreatedAt: nowISO(),
	}
	if !md.empty() {
		if b, err := json.Marshal(md); err == nil {
			msg.Metadata = b
		}
	}
	return msg
}

func buildContents(messages []store.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			continue
		}
		var role genai.Role = genai.RoleModel
		if m.Role == "user" {
			role = genai.RoleUser
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	return contents
}

func recentContext(messages []store.Message, limit int) string {
	var recent []string
	for _, m := range messages {
		if m.Role == "user" || m.Role == "assistant" {
			if strings.TrimSpace(m.Content) != "" {
				recent = append(recent, m.Content)
			}
		}
	}
	if len(recent) > limit {
		recent = recent[len(recent)-limit:]
	}
	return strings.Join(recent, "\n")
}

func (s *Service) generationConfig(systemPrompt string, includeThoughts bool, tools []*genai.Tool) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: maxOutputTokens,
		ThinkingConfig:  &genai.ThinkingConfig{IncludeThoughts: includeThoughts},
		Tools:           tools,
	}
	if strings.TrimSpace(systemPrompt) != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}
	return cfg
}

func draftArgs(d policy.Draft) map[string]any {
	rules := make([]any, 0, len(d.Rules))
	for _, r := range d.Rules {
		rules = append(rules, map[string]any{"type": r.Type, "params": r.Params})
	}
	return map[string]any{
		"name":        d.Name,
		"description": d.Description,
		"rules":       rules,
	}
}

// MaybeHandlePolicyRequest intercepts policy creation conversations before
// the model sees them: a parsed draft plus confirmation creates
// immediately, a confirmation alone consumes the chat's pending draft, and
// a bare draft is parked pending confirmation.
func (s *Service) MaybeHandlePolicyRequest(ctx context.Context, chatID, userID, content string) (string, *Metadata, bool) {
	draft, hasDraft := policy.ExtractDraft(content)
	confirmed := policy.IsConfirmation(content)

	createNow := func(d policy.Draft) (string, *Metadata, bool) {
		args := draftArgs(d)
		result := s.registry.Dispatch(ctx, "create_policy", args, userID)
		executed := []ExecutedTool{{Name: "create_policy", Args: args, Result: result}}
		message := buildToolFallback(executed)
		if message == "" {
			message = "Policy creation completed."
		}
		return message, &Metadata{ExecutedTools: executed}, true
	}

	if confirmed && hasDraft {
		return createNow(draft)
	}
	if confirmed {
		if pending, ok := s.pending.Consume(chatID); ok {
			return createNow(pending)
		}
	}
	if hasDraft {
		s.pending.Put(chatID, draft)
		ruleDesc := "custom rules"
		if len(draft.Rules) > 0 {
			ruleDesc = policy.DescribeRule(draft.Rules[0])
		}
		return "I can create policy '" + draft.Name + "' with " + ruleDesc + ". Reply 'confirm' to proceed.", nil, true
	}
	return "", nil, false
}

// maybeCreatePolicyFastPath catches an explicit approval of a policy
// discussed earlier in the chat and creates it without a model round-trip.
func (s *Service) maybeCreatePolicyFastPath(ctx context.Context, messages []store.Message, userID string) (string, *Metadata, bool) {
	var userText string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			userText = messages[i].Content
			break
		}
	}
	combined := recentContext(messages, 5)
	if !strings.Contains(strings.ToLower(combined), "policy") || !policy.ExplicitlyApproves(userText) {
		return "", nil, false
	}
	draft, ok := policy.ExtractFromContext(combined)
	if !ok {
		return "", nil, false
	}

	args := draftArgs(draft)
	result := s.registry.Dispatch(ctx, "create_policy", args, userID)
	md := &Metadata{ExecutedTools: []ExecutedTool{{Name: "create_policy", Args: args, Result: result}}}
	if result.OK {
		return "✅ Policy created: " + draft.Name, md, true
	}
	return "⚠️ Failed to create policy: " + result.ErrorText(), md, true
}

// GenerateAssistantMessage produces one assistant reply over the message
// snapshot, running the tool loop when requested.
func (s *Service) GenerateAssistantMessage(
	ctx context.Context,
	messages []store.Message,
	systemPrompt, model string,
	includeThoughts, useTools, useSearch bool,
	userID string,
) (string, *Metadata, error) {
	if s.provider == nil {
		return "", nil, ErrNoAPIKey
	}
	if useTools && useSearch {
		return "", nil, ErrSearchWithTools
	}

	var tools []*genai.Tool
	if useSearch {
		tools = append(tools, groundingTool())
	}
	if useTools {
		tools = append(tools, functionTool())
	}
	cfg := s.generationConfig(systemPrompt, includeThoughts, tools)
	contents := buildContents(messages)

	if useTools {
		if content, md, handled := s.maybeCreatePolicyFastPath(ctx, messages, userID); handled {
			return content, md, nil
		}
	}

	var (
		resp     *genai.GenerateContentResponse
		executed []ExecutedTool
		err      error
	)
	if useTools {
		var res loopResult
		res, err = runToolLoop(ctx, s.provider, model, contents, cfg, s.registry, userID, s.maxToolSteps, loopHooks{})
		if err != nil {
			return "", nil, err
		}
		if res.last == nil {
			return "", nil, errors.New("Model did not return a response.")
		}
		resp, executed = res.last, res.executed
	} else {
		resp, err = s.provider.Generate(ctx, model, contents, cfg)
		if err != nil {
			return "", nil, err
		}
	}

	md := extractMetadata(resp, includeThoughts)
	md.ExecutedTools = executed

	content := extractText(resp)
	content, extraThoughts := sanitizeVisibleText(content)
	md.Thoughts = append(md.Thoughts, extraThoughts...)

	if content == "" && len(executed) > 0 {
		content = buildToolFallback(executed)
	}
	if content == "" {
		content = clarifyFallback
	}

	if md.empty() {
		return content, nil, nil
	}
	return content, &md, nil
}

// PostMessage persists the user turn and, when respond is set on a user
// turn, generates and persists the assistant reply.
func (s *Service) PostMessage(ctx context.Context, chat store.Chat, req MessageRequest) (store.Message, *store.Message, error) {
	unlock := s.lockChat(chat.ID)
	defer unlock()

	history, err := s.store.ListMessages(ctx, chat.ID, 0)
	if err != nil {
		return store.Message{}, nil, err
	}

	userMsg := buildMessage(chat.ID, chat.UserID, req.Role, req.Content, nil)
	if err := s.store.InsertMessage(ctx, userMsg); err != nil {
		return store.Message{}, nil, err
	}
	if err := s.store.TouchChat(ctx, chat.ID, userMsg.CreatedAt); err != nil {
		return store.Message{}, nil, err
	}

	if !req.Respond || req.Role != "user" {
		return userMsg, nil, nil
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = strings.TrimSpace(chat.Model)
	}
	if model == "" {
		model = s.defaultModel
	}
	snapshot := append(history, userMsg)

	var (
		content string
		md      *Metadata
	)
	if policyContent, policyMD, handled := s.MaybeHandlePolicyRequest(ctx, chat.ID, chat.UserID, req.Content); handled {
		content, md = policyContent, policyMD
	} else {
		content, md, err = s.GenerateAssistantMessage(ctx, snapshot, chat.SystemPrompt, model,
			req.IncludeThoughts, req.UseTools, req.UseSearch, chat.UserID)
		if err != nil {
			return userMsg, nil, err
		}
	}

	assistantMsg := buildMessage(chat.ID, chat.UserID, "assistant", content, md)
	if err := s.store.InsertMessage(ctx, assistantMsg); err != nil {
		return userMsg, nil, err
	}
	if err := s.store.TouchChat(ctx, chat.ID, assistantMsg.CreatedAt); err != nil {
		return userMsg, nil, err
	}
	s.MaybeSetChatTitle(ctx, chat.ID, assistantMsg.Content, model)

	return userMsg, &assistantMsg, nil
}

// StreamMessage runs the streaming variant: the user turn is persisted and
// acked, loop progress is emitted as events, the final reply streams as
// deltas, and exactly one done (or one error) terminates the stream.
func (s *Service) StreamMessage(ctx context.Context, chat store.Chat, req MessageRequest, sink EventSink) error {
	unlock := s.lockChat(chat.ID)
	defer unlock()

	history, err := s.store.ListMessages(ctx, chat.ID, 0)
	if err != nil {
		return err
	}

	userMsg := buildMessage(chat.ID, chat.UserID, req.Role, req.Content, nil)
	if err := s.store.InsertMessage(ctx, userMsg); err != nil {
		return err
	}
	if err := s.store.TouchChat(ctx, chat.ID, userMsg.CreatedAt); err != nil {
		return err
	}
	if err := sink.Send(Event{Type: "ack", Message: &userMsg}); err != nil {
		return err
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = strings.TrimSpace(chat.Model)
	}
	if model == "" {
		model = s.defaultModel
	}
	snapshot := append(history, userMsg)

	finish := func(content string, md *Metadata) error {
		assistantMsg := buildMessage(chat.ID, chat.UserID, "assistant", content, md)
		if err := s.store.InsertMessage(ctx, assistantMsg); err != nil {
			return err
		}
		if err := s.store.TouchChat(ctx, chat.ID, assistantMsg.CreatedAt); err != nil {
			return err
		}
		if err := sink.Send(Event{Type: "done", Message: &assistantMsg}); err != nil {
			return err
		}
		s.MaybeSetChatTitle(ctx, chat.ID, content, model)
		return nil
	}
	fail := func(err error) error {
		return sink.Send(Event{Type: "error", Error: err.Error()})
	}

	if content, md, handled := s.MaybeHandlePolicyRequest(ctx, chat.ID, chat.UserID, req.Content); handled {
		if err := sink.Send(Event{Type: "delta", Text: content}); err != nil {
			return err
		}
		return finish(content, md)
	}

	if s.provider == nil {
		return fail(ErrNoAPIKey)
	}

	contents := buildContents(snapshot)
	var executed []ExecutedTool

	if req.UseTools {
		if content, md, handled := s.maybeCreatePolicyFastPath(ctx, snapshot, chat.UserID); handled {
			tool := md.ExecutedTools[0]
			if err := sink.Send(Event{Type: "tool_call", Name: tool.Name, Args: tool.Args}); err != nil {
				return err
			}
			result := tool.Result
			if err := sink.Send(Event{Type: "tool_result", Name: tool.Name, Result: &result}); err != nil {
				return err
			}
			return finish(content, md)
		}

		toolCfg := s.generationConfig(chat.SystemPrompt, req.IncludeThoughts, []*genai.Tool{functionTool()})
		hooks := loopHooks{
			onToolCall: func(name string, args map[string]any) {
				_ = sink.Send(Event{Type: "tool_call", Name: name, Args: args})
			},
			onToolResult: func(name string, result backend.Outcome) {
				_ = sink.Send(Event{Type: "tool_result", Name: name, Result: &result})
			},
		}
		if req.IncludeThoughts {
			hooks.onThought = func(text string) {
				_ = sink.Send(Event{Type: "thought", Text: text})
			}
		}
		res, err := runToolLoop(ctx, s.provider, model, contents, toolCfg, s.registry, chat.UserID, s.maxToolSteps, hooks)
		if err != nil {
			return fail(err)
		}
		contents, executed = res.contents, res.executed
	}

	streamCfg := s.generationConfig(chat.SystemPrompt, req.IncludeThoughts, nil)

	var (
		fullText strings.Builder
		filter   planFilter
	)
	for resp, err := range s.provider.GenerateStream(ctx, model, contents, streamCfg) {
		if err != nil {
			return fail(err)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.Thought {
				if req.IncludeThoughts && part.Text != "" {
					if err := sink.Send(Event{Type: "thought", Text: part.Text}); err != nil {
						return err
					}
				}
				continue
			}
			if part.Text == "" {
				continue
			}
			if visible := filter.feed(part.Text); visible != "" {
				fullText.WriteString(visible)
				if err := sink.Send(Event{Type: "delta", Text: visible}); err != nil {
					return err
				}
			}
		}
	}

	var md *Metadata
	if len(executed) > 0 {
		md = &Metadata{ExecutedTools: executed}
	}

	visible, plan := filter.flush()
	if visible != "" {
		fullText.WriteString(visible)
		if err := sink.Send(Event{Type: "delta", Text: visible}); err != nil {
			return err
		}
	}

	var extraThoughts []string
	if plan != "" {
		extraThoughts = append(extraThoughts, plan)
	}
	content, sanitized := sanitizeVisibleText(fullText.String())
	extraThoughts = append(extraThoughts, sanitized...)
	if len(extraThoughts) > 0 {
		for _, thought := range extraThoughts {
			if err := sink.Send(Event{Type: "thought", Text: thought}); err != nil {
				return err
			}
		}
		if md == nil {
			md = &Metadata{}
		}
		md.Thoughts = append(md.Thoughts, extraThoughts...)
	}

	if strings.TrimSpace(content) == "" {
		fallback := buildToolFallback(executed)
		if fallback == "" {
			resp, err := s.provider.Generate(ctx, model, contents, streamCfg)
			if err == nil {
				fallback = extractText(resp)
			}
		}
		if fallback == "" {
			fallback = clarifyFallback
		}
		if err := sink.Send(Event{Type: "delta", Text: fallback}); err != nil {
			return err
		}
		content = fallback
	}

	return finish(content, md)
}
