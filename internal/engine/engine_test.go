package engine

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gembot/internal/admission"
	"gembot/internal/ai"
	"gembot/internal/lifecycle"
	"gembot/internal/mood"
	"gembot/internal/session"
	"gembot/internal/settings"
)

type memDurable struct {
	mu   sync.Mutex
	data map[string]json.RawMessage
}

func (m *memDurable) Put(key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.data[key] = raw
	return nil
}

func (m *memDurable) Get(key string, out any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, out)
}

func (m *memDurable) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
}

func (m *memDurable) Keys(prefix string) []string { return nil }
func (m *memDurable) Flush() error                { return nil }

type stubProvider struct {
	mu      sync.Mutex
	reply   string
	err     error
	lastReq ai.Request
	calls   int
}

func (p *stubProvider) Generate(_ context.Context, req ai.Request) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.lastReq = req
	if p.err != nil {
		return "", p.err
	}
	return p.reply, nil
}

func newTestEngine(p ai.Provider) *Engine {
	return newTestEngineCooldown(p, 0)
}

func newTestEngineCooldown(p ai.Provider, cooldown time.Duration) *Engine {
	store := session.NewStore(nil)
	resolver := settings.NewResolver(settings.Settings{
		Personality:       mood.DefaultPersonality,
		DefaultMood:       mood.Default,
		MaxMemoryMessages: 10,
		MemoryExpiryDays:  7,
		AutoTitle:         false,
	}, nil)
	gate := admission.NewController(admission.Config{
		DMResponses:      true,
		MentionResponses: true,
		AutoChannels:     []string{"auto1"},
		IgnoredPrefixes:  []string{"!"},
		Cooldown:         cooldown,
	}, nil)
	lc := lifecycle.NewManager(store, &memDurable{data: make(map[string]json.RawMessage)}, p,
		lifecycle.Config{AutoTitle: false})
	// Keep mood transitions effectively off in pipeline tests.
	moods := mood.NewEngine(1e-9, 1)
	return New(store, resolver, gate, p, moods, lc, Config{
		SystemPrompt: "You are a companion bot.",
		MaxTokens:    500,
		MaxTags:      10,
		MaxTagLength: 32,
	})
}

func dmEvent(content string) InboundEvent {
	return InboundEvent{
		UserID:     "u1",
		ChannelID:  "dm1",
		AuthorName: "alice",
		Content:    content,
		IsDM:       true,
	}
}

func TestHandleEventFullTurn(t *testing.T) {
	p := &stubProvider{reply: "hello alice"}
	e := newTestEngine(p)

	res, err := e.HandleEvent(context.Background(), dmEvent("hi there"))
	require.NoError(t, err)
	require.True(t, res.Handled)
	require.Equal(t, "hello alice", res.Reply)
	require.Equal(t, mood.Default, res.Mood)

	conv, ok := e.Current(session.Key{UserID: "u1", ChannelID: "dm1"})
	require.True(t, ok)
	require.Len(t, conv.History, 2)
	require.Equal(t, session.RoleUser, conv.History[0].Role)
	require.Equal(t, "hi there", conv.History[0].Content)
	require.Equal(t, session.RoleAssistant, conv.History[1].Role)

	require.Contains(t, p.lastReq.System, "You are a companion bot.")
	require.Contains(t, p.lastReq.System, "Current mood: thoughtful")
	require.Equal(t, mood.ParamsFor(mood.Balanced).Temperature, p.lastReq.Params.Temperature)

	require.Equal(t, int64(1), e.Stats().Handled)
}

func TestHandleEventRejection(t *testing.T) {
	p := &stubProvider{reply: "never"}
	e := newTestEngine(p)

	res, err := e.HandleEvent(context.Background(), InboundEvent{
		UserID: "u1", ChannelID: "random", Content: "unrelated chatter",
	})
	require.NoError(t, err)
	require.False(t, res.Handled)
	require.Equal(t, admission.ReasonNotAddressed, res.Reason)
	require.Equal(t, 0, p.calls, "rejected messages never reach the provider")

	_, ok := e.Current(session.Key{UserID: "u1", ChannelID: "random"})
	require.False(t, ok, "rejected messages never touch conversation state")
	require.Equal(t, int64(1), e.Stats().Rejected)
}

func TestHandleEventInferenceFailureKeepsUserTurn(t *testing.T) {
	p := &stubProvider{err: &ai.Error{Kind: ai.KindRateLimited, Status: 429, Msg: "busy"}}
	e := newTestEngine(p)

	res, err := e.HandleEvent(context.Background(), dmEvent("are you there"))
	require.Error(t, err)
	require.True(t, ai.IsKind(err, ai.KindRateLimited))
	require.False(t, res.Handled)

	conv, ok := e.Current(session.Key{UserID: "u1", ChannelID: "dm1"})
	require.True(t, ok)
	require.Len(t, conv.History, 1, "the user turn is kept, no assistant turn")
	require.Equal(t, session.RoleUser, conv.History[0].Role)
	require.Equal(t, int64(1), e.Stats().Failures)

	// The next successful turn carries the unanswered question as context.
	p.mu.Lock()
	p.err = nil
	p.reply = "yes, sorry"
	p.mu.Unlock()
	res, err = e.HandleEvent(context.Background(), dmEvent("hello?"))
	require.NoError(t, err)
	require.True(t, res.Handled)
	require.Len(t, p.lastReq.Messages, 3)
	require.Equal(t, "are you there", p.lastReq.Messages[0].Content)
}

func TestArchivedConversationSilentOnAutoChannel(t *testing.T) {
	p := &stubProvider{reply: "ok"}
	e := newTestEngine(p)
	key := session.Key{UserID: "u1", ChannelID: "auto1"}

	_, err := e.HandleEvent(context.Background(), InboundEvent{
		UserID: "u1", ChannelID: "auto1", Content: "first",
	})
	require.NoError(t, err)
	require.NoError(t, e.Archive(key))

	res, err := e.HandleEvent(context.Background(), InboundEvent{
		UserID: "u1", ChannelID: "auto1", IsMention: true, Content: "still there?",
	})
	require.NoError(t, err)
	require.True(t, res.Handled, "a direct mention still gets an answer while archived")

	res, err = e.HandleEvent(context.Background(), InboundEvent{
		UserID: "u1", ChannelID: "auto1", Content: "ambient chatter",
	})
	require.NoError(t, err)
	require.False(t, res.Handled)
	require.Equal(t, "archived", res.Reason)

	require.NoError(t, e.Unarchive(key))
}

func TestAdmitDecidesWithoutSideEffects(t *testing.T) {
	p := &stubProvider{reply: "later"}
	e := newTestEngine(p)

	res, ok := e.Admit(InboundEvent{UserID: "u1", ChannelID: "random", Content: "chatter"})
	require.False(t, ok)
	require.Equal(t, admission.ReasonNotAddressed, res.Reason)
	require.Equal(t, int64(1), e.Stats().Rejected)

	res, ok = e.Admit(dmEvent("hello"))
	require.True(t, ok)
	require.Equal(t, admission.ReasonDM, res.Reason)
	require.Equal(t, 0, p.calls, "admission alone never calls the provider")
	_, found := e.Current(session.Key{UserID: "u1", ChannelID: "dm1"})
	require.False(t, found, "admission alone never creates state")

	out, err := e.Respond(context.Background(), dmEvent("hello"), res.Reason)
	require.NoError(t, err)
	require.True(t, out.Handled)
	require.Equal(t, "later", out.Reply)
}

func TestArchivedAmbientLeavesCooldownUnarmed(t *testing.T) {
	p := &stubProvider{reply: "ok"}
	e := newTestEngineCooldown(p, 10*time.Second)
	key := session.Key{UserID: "u1", ChannelID: "auto1"}

	// Mentions never arm the cooldown, so the channel starts open.
	res, err := e.HandleEvent(context.Background(), InboundEvent{
		UserID: "u1", ChannelID: "auto1", IsMention: true, Content: "hello",
	})
	require.NoError(t, err)
	require.True(t, res.Handled)
	require.NoError(t, e.Archive(key))

	res, err = e.HandleEvent(context.Background(), InboundEvent{
		UserID: "u1", ChannelID: "auto1", Content: "ambient chatter",
	})
	require.NoError(t, err)
	require.False(t, res.Handled)
	require.Equal(t, "archived", res.Reason)

	res, err = e.HandleEvent(context.Background(), InboundEvent{
		UserID: "u2", ChannelID: "auto1", Content: "my turn",
	})
	require.NoError(t, err)
	require.True(t, res.Handled, "a silenced archived message must not mute the channel")

	res, err = e.HandleEvent(context.Background(), InboundEvent{
		UserID: "u2", ChannelID: "auto1", Content: "again",
	})
	require.NoError(t, err)
	require.False(t, res.Handled)
	require.Equal(t, admission.ReasonCooldown, res.Reason, "an answered turn arms the cooldown")
}

func TestUserSettingsShapeTheTurn(t *testing.T) {
	p := &stubProvider{reply: "done"}
	e := newTestEngine(p)

	require.NoError(t, e.ApplySetting(settings.ScopeUser, "u1", settings.FieldPersonality, "precise"))
	require.NoError(t, e.ApplySetting(settings.ScopeUser, "u1", settings.FieldDefaultMood, "calm"))

	res, err := e.HandleEvent(context.Background(), dmEvent("short answer please"))
	require.NoError(t, err)
	require.Equal(t, mood.Calm, res.Mood)
	require.Equal(t, mood.ParamsFor(mood.Precise).Temperature, p.lastReq.Params.Temperature)
	require.True(t, strings.Contains(p.lastReq.System, mood.StyleGuide(mood.Precise)))
}

func TestUserMessageMapping(t *testing.T) {
	require.Contains(t, UserMessage(&ai.Error{Kind: ai.KindRateLimited}), "a lot of requests")
	require.Contains(t, UserMessage(&ai.Error{Kind: ai.KindUnauthorized}), "language model")
	require.Contains(t, UserMessage(&ai.Error{Kind: ai.KindUnknown}), "try again")
}
