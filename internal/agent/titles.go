package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

const fallbackTitle = "AutoWealth Session"

// uniqueTitle deduplicates against the user's existing chat titles,
// suffixing a counter and finally a random tag.
func uniqueTitle(candidate string, existingTitles []string) string {
	cleaned := strings.TrimSpace(candidate)
	if cleaned == "" {
		cleaned = fallbackTitle
	}
	existing := make(map[string]struct{}, len(existingTitles))
	for _, title := range existingTitles {
		if title != "" {
			existing[strings.ToLower(title)] = struct{}{}
		}
	}
	if _, taken := existing[strings.ToLower(cleaned)]; !taken {
		return cleaned
	}
	for idx := 2; idx < 10; idx++ {
		alt := fmt.Sprintf("%s %d", cleaned, idx)
		if _, taken := existing[strings.ToLower(alt)]; !taken {
			return alt
		}
	}
	return fmt.Sprintf("%s %s", cleaned, strings.ReplaceAll(uuid.NewString(), "-", "")[:4])
}

// generateChatTitle asks the model for a short title over the opening
// exchange. Without a provider it degrades to a context prefix.
func (s *Service) generateChatTitle(ctx context.Context, contextText string, existingTitles []string, model string) string {
	deterministic := func() string {
		base := strings.TrimSpace(truncate(contextText, 40))
		if base == "" {
			base = "New Chat"
		}
		return uniqueTitle(base, existingTitles)
	}
	if s.provider == nil {
		return deterministic()
	}

	existingText := "None"
	if joined := joinNonEmpty(existingTitles); joined != "" {
		existingText = joined
	}
	prompt := "Create a short 3-5 word title summarizing this conversation. " +
		"Use title case. Avoid generic titles like 'Auto', 'Chat', 'Session', or 'Conversation'. " +
		"Avoid duplicating or closely matching existing titles. " +
		"Do not copy the user's words verbatim. No quotes.\n\n" +
		"Existing titles: " + existingText + "\n" +
		"Conversation excerpt:\n" + contextText

	resp, err := s.provider.Generate(ctx, model,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
		&genai.GenerateContentConfig{MaxOutputTokens: 50})
	if err != nil {
		s.log.Warn("title generation failed", "error", err)
		return deterministic()
	}

	title := extractText(resp)
	if title == "" {
		return deterministic()
	}
	cleaned := strings.TrimSpace(strings.NewReplacer(`"`, "", "'", "").Replace(title))
	lower := strings.ToLower(cleaned)
	if strings.HasPrefix(lower, "user:") {
		cleaned = strings.TrimSpace(cleaned[len("user:"):])
	}
	if idx := strings.Index(strings.ToLower(cleaned), "assistant:"); idx >= 0 {
		cleaned = strings.TrimSpace(cleaned[:idx])
	}
	if strings.EqualFold(cleaned, strings.TrimSpace(contextText)) {
		cleaned = fallbackTitle
	}
	return uniqueTitle(truncate(cleaned, 60), existingTitles)
}

// buildTitleContext assembles the opening exchange plus sibling titles.
func (s *Service) buildTitleContext(ctx context.Context, chatID, assistantText string) (string, []string, error) {
	chat, found, err := s.store.GetChat(ctx, chatID)
	if err != nil || !found {
		return "", nil, err
	}
	chats, err := s.store.ListChats(ctx, chat.UserID)
	if err != nil {
		return "", nil, err
	}
	titles := make([]string, 0, len(chats))
	for _, c := range chats {
		if strings.TrimSpace(c.Title) != "" {
			titles = append(titles, c.Title)
		}
	}

	early, err := s.store.ListFirstMessages(ctx, chatID, 2)
	if err != nil {
		return "", nil, err
	}
	var lines []string
	for _, msg := range early {
		content := strings.TrimSpace(msg.Content)
		if content != "" {
			lines = append(lines, capitalize(msg.Role)+": "+content)
		}
	}
	assistantText = strings.TrimSpace(assistantText)
	if assistantText != "" &&
		(len(lines) == 0 || !strings.HasPrefix(strings.ToLower(lines[len(lines)-1]), "assistant:")) {
		lines = append(lines, "Assistant: "+assistantText)
	}
	context := strings.TrimSpace(strings.Join(lines, "\n"))
	return truncate(context, 800), titles, nil
}

// MaybeSetChatTitle replaces placeholder titles ("New Chat", echoed user
// text, role leakage) with a generated one. The placeholder check runs
// again after generation so a concurrent manual rename wins.
func (s *Service) MaybeSetChatTitle(ctx context.Context, chatID, assistantText, model string) {
	chat, found, err := s.store.GetChat(ctx, chatID)
	if err != nil || !found {
		return
	}
	firstUser, err := s.store.FirstUserMessage(ctx, chatID)
	if err != nil {
		return
	}
	if !titleIsPlaceholder(chat.Title, firstUser) {
		return
	}

	titleContext, titles, err := s.buildTitleContext(ctx, chatID, assistantText)
	if err != nil || titleContext == "" {
		return
	}
	title := s.generateChatTitle(ctx, titleContext, titles, model)

	chat, found, err = s.store.GetChat(ctx, chatID)
	if err != nil || !found {
		return
	}
	if !titleIsPlaceholder(chat.Title, firstUser) {
		return
	}
	if err := s.store.SetChatTitle(ctx, chatID, title, nowISO()); err != nil {
		s.log.Warn("chat title update failed", "chat_id", chatID, "error", err)
	}
}

func titleIsPlaceholder(title, firstUserMessage string) bool {
	existing := strings.TrimSpace(title)
	if existing == "" {
		return true
	}
	lower := strings.ToLower(existing)
	return lower == "new chat" ||
		lower == strings.ToLower(strings.TrimSpace(firstUserMessage)) ||
		strings.HasPrefix(lower, "user:") ||
		strings.Contains(lower, "assistant:")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func joinNonEmpty(items []string) string {
	var kept []string
	for _, item := range items {
		if strings.TrimSpace(item) != "" {
			kept = append(kept, item)
		}
	}
	return strings.Join(kept, ", ")
}
