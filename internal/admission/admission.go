package admission

import (
	"strings"
	"sync"
	"time"
)

// Verdict reasons, also used for logging.
const (
	ReasonDM              = "dm"
	ReasonMention         = "mention"
	ReasonAutoChannel     = "auto_channel"
	ReasonDMDisabled      = "dm_disabled"
	ReasonMentionDisabled = "mention_disabled"
	ReasonIgnoredPrefix   = "ignored_prefix"
	ReasonCooldown        = "cooldown"
	ReasonNotAddressed    = "not_addressed"
)

// Event is the admission view of an inbound message.
type Event struct {
	UserID    string
	ChannelID string
	GuildID   string
	Content   string
	IsDM      bool
	IsMention bool // direct mention or a reply to one of our messages
}

// Verdict is the admission decision for one event.
type Verdict struct {
	Accept bool
	Reason string
}

// Config holds the static admission rules.
type Config struct {
	DMResponses      bool
	MentionResponses bool
	AutoChannels     []string
	IgnoredPrefixes  []string
	Cooldown         time.Duration
}

// Controller decides whether an inbound message deserves a response. It is
// the only component that may reject a message before any state is touched.
type Controller struct {
	mu        sync.Mutex
	cfg       Config
	auto      map[string]bool
	lastReply map[string]time.Time // per auto-channel
	now       func() time.Time
}

// NewController builds a Controller. now may be nil (wall clock).
func NewController(cfg Config, now func() time.Time) *Controller {
	if now == nil {
		now = time.Now
	}
	auto := make(map[string]bool, len(cfg.AutoChannels))
	for _, ch := range cfg.AutoChannels {
		if ch = strings.TrimSpace(ch); ch != "" {
			auto[ch] = true
		}
	}
	return &Controller{
		cfg:       cfg,
		auto:      auto,
		lastReply: make(map[string]time.Time),
		now:       now,
	}
}

// Evaluate applies the admission rules in order:
//
//  1. DMs are accepted iff DM responses are enabled.
//  2. Mentions and replies are accepted iff mention responses are enabled;
//     they bypass the auto-channel cooldown and never arm it. A mention in
//     an auto-channel with mentions disabled falls through to rule 3.
//  3. Auto-channel messages are rejected on an ignored prefix or an active
//     cooldown; otherwise accepted.
//  4. Everything else is ignored.
//
// Evaluate never arms the cooldown itself; the caller arms it with
// ArmCooldown once it commits to answering, so a message that is accepted
// here but silenced later (an archived conversation) does not mute the
// channel for everyone else.
func (c *Controller) Evaluate(ev Event) Verdict {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ev.IsDM {
		if !c.cfg.DMResponses {
			return Verdict{Reason: ReasonDMDisabled}
		}
		return Verdict{Accept: true, Reason: ReasonDM}
	}

	if ev.IsMention {
		if c.cfg.MentionResponses {
			return Verdict{Accept: true, Reason: ReasonMention}
		}
		if !c.auto[ev.ChannelID] {
			return Verdict{Reason: ReasonMentionDisabled}
		}
	}

	if c.auto[ev.ChannelID] {
		for _, prefix := range c.cfg.IgnoredPrefixes {
			if prefix != "" && strings.HasPrefix(ev.Content, prefix) {
				return Verdict{Reason: ReasonIgnoredPrefix}
			}
		}
		if last, ok := c.lastReply[ev.ChannelID]; ok && c.now().Sub(last) < c.cfg.Cooldown {
			return Verdict{Reason: ReasonCooldown}
		}
		return Verdict{Accept: true, Reason: ReasonAutoChannel}
	}

	return Verdict{Reason: ReasonNotAddressed}
}

// ArmCooldown starts the channel's cooldown window. Called when an
// auto-channel response is actually going out.
func (c *Controller) ArmCooldown(channelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastReply[channelID] = c.now()
}
