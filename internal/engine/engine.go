// Package engine ties the pipeline together: admission, session state,
// settings resolution, inference and mood transitions for one inbound
// message.
package engine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"gembot/internal/admission"
	"gembot/internal/ai"
	"gembot/internal/lifecycle"
	"gembot/internal/mood"
	"gembot/internal/session"
	"gembot/internal/settings"
)

// InboundEvent is a gateway message in engine terms.
type InboundEvent struct {
	UserID     string
	ChannelID  string
	GuildID    string
	AuthorName string
	Content    string
	IsDM       bool
	IsMention  bool
}

// Result of handling one event. Handled is false when admission rejected
// the message or the conversation is archived; Reply is then empty.
type Result struct {
	Handled bool
	Reason  string
	Reply   string
	Mood    mood.Mood
	Energy  float64
}

// Config holds the engine's static knobs.
type Config struct {
	SystemPrompt string
	MaxTokens    int
	MaxTags      int
	MaxTagLength int
}

// Stats are running counters for the status output.
type Stats struct {
	Handled  int64
	Rejected int64
	Failures int64
}

// Engine is the conversation pipeline.
type Engine struct {
	store    *session.Store
	resolver *settings.Resolver
	gate     *admission.Controller
	provider ai.Provider
	moods    *mood.Engine
	lc       *lifecycle.Manager
	cfg      Config

	handled  atomic.Int64
	rejected atomic.Int64
	failures atomic.Int64
}

func New(store *session.Store, resolver *settings.Resolver, gate *admission.Controller,
	provider ai.Provider, moods *mood.Engine, lc *lifecycle.Manager, cfg Config) *Engine {
	return &Engine{
		store:    store,
		resolver: resolver,
		gate:     gate,
		provider: provider,
		moods:    moods,
		lc:       lc,
		cfg:      cfg,
	}
}

// Admit decides whether ev gets an answer, without touching conversation
// state or the provider. Callers use it to skip per-message side effects
// (typing indicators) for the chatter the bot ignores. Returns the
// rejection Result and false, or the accept reason and true.
func (e *Engine) Admit(ev InboundEvent) (Result, bool) {
	verdict := e.gate.Evaluate(admission.Event{
		UserID:    ev.UserID,
		ChannelID: ev.ChannelID,
		GuildID:   ev.GuildID,
		Content:   ev.Content,
		IsDM:      ev.IsDM,
		IsMention: ev.IsMention,
	})
	if !verdict.Accept {
		e.rejected.Add(1)
		return Result{Reason: verdict.Reason}, false
	}

	// Ambient chatter does not wake an archived conversation; a direct
	// mention or DM does.
	if verdict.Reason == admission.ReasonAutoChannel {
		key := session.Key{UserID: ev.UserID, ChannelID: ev.ChannelID}
		if conv, ok := e.store.Get(key); ok && conv.Archived {
			e.rejected.Add(1)
			return Result{Reason: "archived"}, false
		}
	}

	return Result{Reason: verdict.Reason}, true
}

// HandleEvent runs admission and, when accepted, the full turn.
func (e *Engine) HandleEvent(ctx context.Context, ev InboundEvent) (Result, error) {
	res, ok := e.Admit(ev)
	if !ok {
		return res, nil
	}
	return e.Respond(ctx, ev, res.Reason)
}

// Respond runs one accepted turn. The per-key lock is held from the moment
// the user turn is recorded until the assistant turn lands, so concurrent
// messages on one conversation are serialized while other conversations
// proceed in parallel. reason is the accept reason Admit returned; an
// auto-channel turn arms the channel cooldown here, once the answer is
// committed to.
func (e *Engine) Respond(ctx context.Context, ev InboundEvent, reason string) (Result, error) {
	key := session.Key{UserID: ev.UserID, ChannelID: ev.ChannelID}
	release := e.store.Acquire(key)
	defer release()

	eff := e.resolver.Effective(ev.UserID, ev.GuildID)
	def := e.defaults(eff)

	if reason == admission.ReasonAutoChannel {
		e.gate.ArmCooldown(ev.ChannelID)
	}

	conv := e.store.AppendTurn(key, session.Turn{
		Role:       session.RoleUser,
		Content:    ev.Content,
		AuthorName: ev.AuthorName,
	}, def)

	reply, err := e.provider.Generate(ctx, ai.Request{
		System:    e.systemPrompt(conv),
		Messages:  historyMessages(conv.History),
		Params:    genParams(conv.Personality),
		MaxTokens: e.cfg.MaxTokens,
	})
	if err != nil {
		// The user turn stays recorded; only the answer is missing.
		e.failures.Add(1)
		log.Printf("[ERR] inference failed for %s: %v", key, err)
		return Result{Reason: "inference_failed"}, err
	}

	conv = e.store.AppendTurn(key, session.Turn{
		Role:    session.RoleAssistant,
		Content: reply,
	}, def)

	next := e.moods.Advance(conv.Mood)
	if next != conv.Mood {
		log.Printf("[MOOD] %s: %s -> %s", key, conv.Mood, next)
		if err := e.store.SetMood(key, next); err == nil {
			conv.Mood = next
		}
	}

	go func() {
		titleCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		e.lc.MaybeAutoTitle(titleCtx, key, eff)
	}()

	e.handled.Add(1)
	return Result{
		Handled: true,
		Reason:  reason,
		Reply:   reply,
		Mood:    conv.Mood,
		Energy:  conv.Energy,
	}, nil
}

func (e *Engine) defaults(eff settings.Settings) session.Defaults {
	return session.Defaults{
		Mood:        eff.DefaultMood,
		Personality: eff.Personality,
		Limits: session.Limits{
			MaxHistory:   eff.MaxMemoryMessages,
			Expiry:       time.Duration(eff.MemoryExpiryDays) * 24 * time.Hour,
			MaxTags:      e.cfg.MaxTags,
			MaxTagLength: e.cfg.MaxTagLength,
		},
	}
}

func (e *Engine) systemPrompt(conv session.Conversation) string {
	var b strings.Builder
	b.WriteString(e.cfg.SystemPrompt)
	b.WriteString("\n\n")
	b.WriteString(mood.StyleGuide(conv.Personality))
	fmt.Fprintf(&b, "\nCurrent mood: %s.", conv.Mood)
	return b.String()
}

func historyMessages(history []session.Turn) []ai.Message {
	out := make([]ai.Message, 0, len(history))
	for _, t := range history {
		out = append(out, ai.Message{Role: t.Role, Content: t.Content})
	}
	return out
}

func genParams(p mood.Personality) ai.GenParams {
	gp := mood.ParamsFor(p)
	return ai.GenParams{Temperature: gp.Temperature, TopP: gp.TopP, TopK: gp.TopK}
}

// limits resolves the tag/history bounds for one user, for the explicit
// management operations.
func (e *Engine) limits(userID, guildID string) session.Defaults {
	return e.defaults(e.resolver.Effective(userID, guildID))
}

// SetTitle names the conversation.
func (e *Engine) SetTitle(key session.Key, title string) error {
	return e.store.SetTitle(key, title)
}

// AddTags attaches tags within the configured bounds.
func (e *Engine) AddTags(key session.Key, tags []string, guildID string) error {
	return e.store.AddTags(key, tags, e.limits(key.UserID, guildID).Limits)
}

// RemoveTags detaches tags.
func (e *Engine) RemoveTags(key session.Key, tags []string) error {
	return e.store.RemoveTags(key, tags)
}

// Archive silences the conversation for ambient traffic.
func (e *Engine) Archive(key session.Key) error {
	return e.store.SetArchived(key, true)
}

// Unarchive restores ambient responses.
func (e *Engine) Unarchive(key session.Key) error {
	return e.store.SetArchived(key, false)
}

// ClearHistory wipes the transcript, keeping title and tags.
func (e *Engine) ClearHistory(key session.Key) error {
	return e.store.ClearHistory(key)
}

// Delete removes the conversation entirely, in memory and on disk.
func (e *Engine) Delete(key session.Key) {
	e.store.Delete(key)
	e.lc.Forget(key)
}

// List returns the caller's conversations.
func (e *Engine) List(ownerID string, includeArchived bool) []session.Summary {
	return e.store.List(ownerID, includeArchived)
}

// Current returns the live conversation for key, if any.
func (e *Engine) Current(key session.Key) (session.Conversation, bool) {
	return e.store.Get(key)
}

// ApplySetting validates and stores one settings field.
func (e *Engine) ApplySetting(scope settings.Scope, id, field, value string) error {
	return e.resolver.Set(scope, id, field, value)
}

// ResetSetting clears one or all fields of an override layer.
func (e *Engine) ResetSetting(scope settings.Scope, id, field string) error {
	return e.resolver.Reset(scope, id, field)
}

// EffectiveSettings resolves the layered settings for display.
func (e *Engine) EffectiveSettings(userID, guildID string) settings.Settings {
	return e.resolver.Effective(userID, guildID)
}

// UserOverrides returns the caller's own override layer for display.
func (e *Engine) UserOverrides(userID string) settings.Override {
	return e.resolver.Overrides(settings.ScopeUser, userID)
}

// JobStatus reports the state of the background jobs.
func (e *Engine) JobStatus() string {
	return e.lc.JobStatus()
}

// Decorate applies the mood's flavor text around a reply.
func (e *Engine) Decorate(m mood.Mood, text string) string {
	return e.moods.Decorate(m, text)
}

// Stats returns the running counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Handled:  e.handled.Load(),
		Rejected: e.rejected.Load(),
		Failures: e.failures.Load(),
	}
}

// UserMessage translates a pipeline error into a short reply for chat.
func UserMessage(err error) string {
	switch {
	case ai.IsKind(err, ai.KindRateLimited):
		return "I'm getting a lot of requests right now, give me a moment and try again."
	case ai.IsKind(err, ai.KindUnauthorized), ai.IsKind(err, ai.KindForbidden):
		return "I can't reach my language model right now. The operator has been notified."
	default:
		return "Something went wrong while thinking about that. Please try again."
	}
}
