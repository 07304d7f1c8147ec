package session

import (
	"time"

	"gembot/internal/mood"
)

// Key identifies one conversation: who is talking, and on which surface
// (a guild channel or a DM channel).
type Key struct {
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
}

// String returns the durable-store key form.
func (k Key) String() string {
	return k.UserID + ":" + k.ChannelID
}

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one entry in a conversation history.
type Turn struct {
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	AuthorName string    `json:"author_name,omitempty"`
	At         time.Time `json:"at"`
}

// Conversation is the full state of one (user, channel) conversation.
// Store methods hand out copies; mutations go through the Store.
type Conversation struct {
	ID           string           `json:"id"`
	Key          Key              `json:"key"`
	Title        string           `json:"title,omitempty"`
	Tags         []string         `json:"tags,omitempty"`
	Archived     bool             `json:"archived"`
	Mood         mood.Mood        `json:"mood"`
	Personality  mood.Personality `json:"personality"`
	Energy       float64          `json:"energy"`
	History      []Turn           `json:"history"`
	LastActivity time.Time        `json:"last_activity"`
	ExpiresAt    time.Time        `json:"expires_at"`
}

// Summary is the listing view of a conversation.
type Summary struct {
	ID           string
	Key          Key
	Title        string
	Tags         []string
	Archived     bool
	Turns        int
	Mood         mood.Mood
	LastActivity time.Time
}

// Limits bound a single conversation. Derived from effective settings plus
// server-wide tag configuration.
type Limits struct {
	MaxHistory   int
	Expiry       time.Duration
	MaxTags      int
	MaxTagLength int
}

// Defaults seed a freshly created conversation.
type Defaults struct {
	Mood        mood.Mood
	Personality mood.Personality
	Limits      Limits
}
