package engine

import (
	"context"
	"strings"
	"unicode/utf8"

	"heartmend/internal/domain"
	"heartmend/internal/prompt"
	"heartmend/internal/provider"
)

const (
	defaultSessionTitle = "新对话"
	previewRunes        = 100
	titleRunes          = 30
)

// SessionDetail is a chat session plus its full message history.
type SessionDetail struct {
	Session  domain.ChatSession
	Messages []domain.ChatMessage
}

func (e *Engine) CreateChatSession(ctx context.Context, userID string) (domain.ChatSession, error) {
	if _, err := e.Repo.EnsureUser(ctx, userID); err != nil {
		return domain.ChatSession{}, err
	}
	now := e.nowRFC3339()
	s := domain.ChatSession{
		ID:        newID(),
		UserID:    userID,
		Title:     defaultSessionTitle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Repo.InsertChatSession(ctx, s); err != nil {
		return domain.ChatSession{}, err
	}
	e.event(ctx, "chat.session_created", userID, map[string]any{"session_id": s.ID})
	return s, nil
}

func (e *Engine) ListChatSessions(ctx context.Context, userID string) ([]domain.ChatSession, error) {
	return e.Repo.ListChatSessions(ctx, userID)
}

func (e *Engine) GetChatSession(ctx context.Context, userID, sessionID string) (SessionDetail, error) {
	s, err := e.Repo.GetChatSessionForUser(ctx, sessionID, userID)
	if err != nil {
		return SessionDetail{}, err
	}
	msgs, err := e.Repo.ListChatMessages(ctx, sessionID)
	if err != nil {
		return SessionDetail{}, err
	}
	return SessionDetail{Session: s, Messages: msgs}, nil
}

func (e *Engine) RenameChatSession(ctx context.Context, userID, sessionID, title string) (domain.ChatSession, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = defaultSessionTitle
	}
	if err := e.Repo.RenameChatSession(ctx, sessionID, userID, truncateRunes(title, 100), e.nowRFC3339()); err != nil {
		return domain.ChatSession{}, err
	}
	return e.Repo.GetChatSessionForUser(ctx, sessionID, userID)
}

func (e *Engine) DeleteChatSession(ctx context.Context, userID, sessionID string) error {
	return e.Repo.DeleteChatSession(ctx, sessionID, userID)
}

// ChatStream appends the user's message, streams the assistant's reply
// through onChunk, and persists the full reply when the stream ends. The
// session preview tracks the latest message; an untitled session takes its
// title from the first user message.
func (e *Engine) ChatStream(ctx context.Context, userID, sessionID, content string, onChunk func(string)) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrEmptyChatMessage
	}
	s, err := e.Repo.GetChatSessionForUser(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	prefs, err := e.Repo.GetPreferences(ctx, userID)
	if err != nil {
		return err
	}
	p, err := e.SelectProvider(prefs.PreferredProvider)
	if err != nil {
		return err
	}
	history, err := e.Repo.ListChatMessages(ctx, sessionID)
	if err != nil {
		return err
	}

	now := e.nowRFC3339()
	title := ""
	if s.Title == defaultSessionTitle && !hasUserMessage(history) {
		title = autoTitle(content)
	}
	userMsg := domain.ChatMessage{
		ID:        newID(),
		SessionID: sessionID,
		Role:      "user",
		Content:   content,
		CreatedAt: now,
	}
	if err := e.Repo.AppendChatMessage(ctx, userMsg, truncateRunes(content, previewRunes), title, now); err != nil {
		return err
	}

	messages := make([]provider.Message, 0, len(history)+2)
	messages = append(messages, provider.Message{Role: "system", Content: prompt.ChatSystemPrompt})
	for _, m := range history {
		messages = append(messages, provider.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, provider.Message{Role: "user", Content: content})

	var reply strings.Builder
	err = p.Stream(ctx, messages, e.Config.ChatTemperature(), func(chunk string) {
		reply.WriteString(chunk)
		onChunk(chunk)
	})
	if err != nil {
		return err
	}

	replyText := reply.String()
	if replyText == "" {
		return nil
	}
	now = e.nowRFC3339()
	assistantMsg := domain.ChatMessage{
		ID:        newID(),
		SessionID: sessionID,
		Role:      "assistant",
		Content:   replyText,
		CreatedAt: now,
	}
	if err := e.Repo.AppendChatMessage(ctx, assistantMsg, truncateRunes(replyText, previewRunes), "", now); err != nil {
		return err
	}
	e.event(ctx, "chat.message_exchanged", userID, map[string]any{"session_id": sessionID})
	return nil
}

func hasUserMessage(history []domain.ChatMessage) bool {
	for _, m := range history {
		if m.Role == "user" {
			return true
		}
	}
	return false
}

// autoTitle derives a session title from the first user message: the first
// 30 runes, with an ellipsis when truncated.
func autoTitle(content string) string {
	if utf8.RuneCountInString(content) <= titleRunes {
		return content
	}
	return truncateRunes(content, titleRunes) + "..."
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
