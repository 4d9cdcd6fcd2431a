package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mailbridge/mailbridge/internal/assistant"
	"github.com/mailbridge/mailbridge/internal/email"
	"github.com/mailbridge/mailbridge/internal/platform"
	"github.com/mailbridge/mailbridge/internal/store"
)

type postedMessage struct {
	Thread  platform.Thread
	Content platform.Content
}

// fakeAdapter implements every platform capability and records calls.
type fakeAdapter struct {
	platformType platform.Type
	posts        []postedMessage
	ephemerals   []string
	reactions    []string
	removals     []string
	deletions    []string
	subscribed   []string
	failReaction bool
	nextPostID   int
}

func newFakeAdapter(pt platform.Type) *fakeAdapter {
	return &fakeAdapter{platformType: pt}
}

func (a *fakeAdapter) Type() platform.Type { return a.platformType }

func (a *fakeAdapter) DecodeThreadID(threadID string) (platform.ThreadRef, error) {
	if a.platformType == platform.TypeSlack {
		parts := strings.SplitN(threadID, ":", 2)
		ref := platform.ThreadRef{Channel: parts[0]}
		if len(parts) == 2 {
			ref.ThreadTS = parts[1]
		}
		return ref, nil
	}
	return platform.ThreadRef{ChatID: threadID}, nil
}

func (a *fakeAdapter) Post(_ context.Context, thread platform.Thread, content platform.Content) (string, error) {
	a.posts = append(a.posts, postedMessage{Thread: thread, Content: content})
	a.nextPostID++
	return fmt.Sprintf("posted-%d", a.nextPostID), nil
}

// ephemeralAdapter adds the ephemeral capability for platforms that have it.
type ephemeralAdapter struct {
	*fakeAdapter
}

func (a ephemeralAdapter) PostEphemeral(_ context.Context, _ platform.Thread, userID, text string) error {
	a.ephemerals = append(a.ephemerals, userID+": "+text)
	return nil
}

func (a *fakeAdapter) AddReaction(_ context.Context, _ platform.Thread, messageID, emoji string) error {
	if a.failReaction {
		return fmt.Errorf("reactions unavailable")
	}
	a.reactions = append(a.reactions, messageID+":"+emoji)
	return nil
}

func (a *fakeAdapter) RemoveReaction(_ context.Context, _ platform.Thread, messageID, emoji string) error {
	a.removals = append(a.removals, messageID+":"+emoji)
	return nil
}

func (a *fakeAdapter) Subscribe(_ context.Context, thread platform.Thread) error {
	a.subscribed = append(a.subscribed, thread.ID)
	return nil
}

func (a *fakeAdapter) Delete(_ context.Context, _ platform.Thread, messageID string) error {
	a.deletions = append(a.deletions, messageID)
	return nil
}

func (a *fakeAdapter) postedTexts() []string {
	var texts []string
	for _, p := range a.posts {
		if p.Content.Card != nil {
			texts = append(texts, "card: "+p.Content.Card.Title)
			continue
		}
		texts = append(texts, p.Content.Text)
	}
	return texts
}

type fakeChatStore struct {
	chats map[string]store.Chat
}

func newFakeChatStore() *fakeChatStore {
	return &fakeChatStore{chats: map[string]store.Chat{}}
}

func (s *fakeChatStore) Upsert(_ context.Context, chatID, emailAccountID string) (store.Chat, error) {
	if chat, ok := s.chats[chatID]; ok {
		return chat, nil
	}
	chat := store.Chat{ID: chatID, EmailAccountID: emailAccountID, CreatedAt: time.Now()}
	s.chats[chatID] = chat
	return chat, nil
}

func (s *fakeChatStore) Get(_ context.Context, chatID string) (store.Chat, error) {
	chat, ok := s.chats[chatID]
	if !ok {
		return store.Chat{}, store.ErrChatNotFound
	}
	return chat, nil
}

type fakeMessageStore struct {
	messages map[string]store.ChatMessage
	order    []string
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{messages: map[string]store.ChatMessage{}}
}

func (s *fakeMessageStore) Upsert(_ context.Context, msg store.ChatMessage) error {
	if _, ok := s.messages[msg.ID]; ok {
		return nil
	}
	s.messages[msg.ID] = msg
	s.order = append(s.order, msg.ID)
	return nil
}

func (s *fakeMessageStore) CreateAssistant(_ context.Context, msg store.ChatMessage) error {
	if _, ok := s.messages[msg.ID]; ok {
		return store.ErrDuplicateMessage
	}
	msg.Role = store.RoleAssistant
	s.messages[msg.ID] = msg
	s.order = append(s.order, msg.ID)
	return nil
}

func (s *fakeMessageStore) Exists(_ context.Context, messageID string) (bool, error) {
	_, ok := s.messages[messageID]
	return ok, nil
}

func (s *fakeMessageStore) ListRecentAssistant(_ context.Context, chatID string, limit int) ([]store.ChatMessage, error) {
	var out []store.ChatMessage
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		msg := s.messages[s.order[i]]
		if msg.ChatID == chatID && msg.Role == store.RoleAssistant {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (s *fakeMessageStore) assistantCount() int {
	count := 0
	for _, msg := range s.messages {
		if msg.Role == store.RoleAssistant {
			count++
		}
	}
	return count
}

type fakeChannelStore struct {
	channels []store.LinkedChannel
	upserts  []store.LinkedChannel
}

func (s *fakeChannelStore) Upsert(_ context.Context, ch store.LinkedChannel) (store.LinkedChannel, error) {
	s.upserts = append(s.upserts, ch)
	s.channels = append(s.channels, ch)
	return ch, nil
}

func (s *fakeChannelStore) FindConnected(_ context.Context, provider platform.Type, teamID, providerUserID string) ([]store.LinkedChannel, error) {
	var out []store.LinkedChannel
	for _, ch := range s.channels {
		if ch.Provider != provider || ch.TeamID != teamID || ch.ProviderUserID != providerUserID || !ch.IsConnected {
			continue
		}
		if provider == platform.TypeSlack && ch.AccessToken == "" {
			continue
		}
		out = append(out, ch)
	}
	sortChannels(out)
	return out, nil
}

func (s *fakeChannelStore) FindConnectedByUser(_ context.Context, provider platform.Type, providerUserID string) ([]store.LinkedChannel, error) {
	var out []store.LinkedChannel
	for _, ch := range s.channels {
		if ch.Provider == provider && ch.ProviderUserID == providerUserID && ch.IsConnected {
			out = append(out, ch)
		}
	}
	sortChannels(out)
	return out, nil
}

func (s *fakeChannelStore) FindAuthorized(_ context.Context, provider platform.Type, emailAccountID, providerUserID, teamID string) (bool, error) {
	for _, ch := range s.channels {
		if ch.Provider != provider || ch.EmailAccountID != emailAccountID || ch.ProviderUserID != providerUserID || !ch.IsConnected {
			continue
		}
		if teamID != "" && ch.TeamID != teamID {
			continue
		}
		return true, nil
	}
	return false, nil
}

func sortChannels(channels []store.LinkedChannel) {
	sort.SliceStable(channels, func(i, j int) bool {
		return channels[i].UpdatedAt.After(channels[j].UpdatedAt)
	})
}

type fakeAssistant struct {
	chunks   []assistant.StreamChunk
	requests []assistant.Request
}

func (a *fakeAssistant) Invoke(_ context.Context, req assistant.Request) (<-chan assistant.StreamChunk, <-chan error) {
	a.requests = append(a.requests, req)
	chunkCh := make(chan assistant.StreamChunk)
	errCh := make(chan error, 1)
	go func() {
		defer close(chunkCh)
		defer close(errCh)
		for _, chunk := range a.chunks {
			chunkCh <- chunk
		}
	}()
	return chunkCh, errCh
}

type fakeAccounts struct {
	accounts map[string]email.Account
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{accounts: map[string]email.Account{}}
}

func accountFor(id, address, provider string) email.Account {
	return email.Account{ID: id, Email: address, Provider: provider}
}

func (a *fakeAccounts) GetAccount(_ context.Context, emailAccountID string) (email.Account, error) {
	account, ok := a.accounts[emailAccountID]
	if !ok {
		return email.Account{}, fmt.Errorf("account not found: %s", emailAccountID)
	}
	return account, nil
}

type executorCall struct {
	EmailAccountID string
	ToolCallID     string
	Action         store.PendingAction
}

type fakeExecutor struct {
	calls  []executorCall
	result email.Sent
	err    error
}

func (e *fakeExecutor) ConfirmPendingAction(_ context.Context, emailAccountID, toolCallID string, action store.PendingAction) (email.Sent, error) {
	e.calls = append(e.calls, executorCall{EmailAccountID: emailAccountID, ToolCallID: toolCallID, Action: action})
	if e.err != nil {
		return email.Sent{}, e.err
	}
	return e.result, nil
}

type fakeLinkCodes struct {
	codes map[string]string
}

func (l *fakeLinkCodes) Consume(_ context.Context, code string, _ platform.Type) (string, bool) {
	accountID, ok := l.codes[code]
	if ok {
		delete(l.codes, code)
	}
	return accountID, ok
}

func assistantMessageChunk(t *testing.T, parts []store.Part) assistant.StreamChunk {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"type": "message",
		"message": map[string]any{
			"role":  store.RoleAssistant,
			"parts": parts,
		},
	})
	require.NoError(t, err)
	return assistant.StreamChunk(raw)
}

func textParts(text string) []store.Part {
	return []store.Part{{Type: "text", Text: text}}
}
