package settings

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"gembot/internal/mood"
)

var (
	// ErrUnknownSetting means the field name does not exist.
	ErrUnknownSetting = errors.New("unknown setting")
	// ErrInvalidValue means the value failed validation. Nothing was stored.
	ErrInvalidValue = errors.New("invalid setting value")
)

// Setting field names as users type them.
const (
	FieldPersonality       = "personality"
	FieldDefaultMood       = "default_mood"
	FieldMaxMemoryMessages = "max_memory_messages"
	FieldMemoryExpiryDays  = "memory_expiry_days"
	FieldAutoTitle         = "auto_title_conversations"
	FieldDMPreview         = "dm_conversation_preview"
)

// Value bounds.
const (
	MinMemoryMessages = 10
	MaxMemoryMessages = 100
	MinExpiryDays     = 1
	MaxExpiryDays     = 30
)

// Settings is a fully resolved view: every field has a value.
type Settings struct {
	Personality       mood.Personality `json:"personality"`
	DefaultMood       mood.Mood        `json:"default_mood"`
	MaxMemoryMessages int              `json:"max_memory_messages"`
	MemoryExpiryDays  int              `json:"memory_expiry_days"`
	AutoTitle         bool             `json:"auto_title_conversations"`
	DMPreview         bool             `json:"dm_conversation_preview"`
}

// Override is a sparse layer: nil fields defer to the layer below.
type Override struct {
	Personality       *mood.Personality `json:"personality,omitempty"`
	DefaultMood       *mood.Mood        `json:"default_mood,omitempty"`
	MaxMemoryMessages *int              `json:"max_memory_messages,omitempty"`
	MemoryExpiryDays  *int              `json:"memory_expiry_days,omitempty"`
	AutoTitle         *bool             `json:"auto_title_conversations,omitempty"`
	DMPreview         *bool             `json:"dm_conversation_preview,omitempty"`
}

// Empty reports whether every field defers to the layer below.
func (o Override) Empty() bool {
	return o.Personality == nil && o.DefaultMood == nil &&
		o.MaxMemoryMessages == nil && o.MemoryExpiryDays == nil &&
		o.AutoTitle == nil && o.DMPreview == nil
}

// clone returns an Override whose pointers do not alias o's.
func (o Override) clone() Override {
	var c Override
	if o.Personality != nil {
		p := *o.Personality
		c.Personality = &p
	}
	if o.DefaultMood != nil {
		m := *o.DefaultMood
		c.DefaultMood = &m
	}
	if o.MaxMemoryMessages != nil {
		n := *o.MaxMemoryMessages
		c.MaxMemoryMessages = &n
	}
	if o.MemoryExpiryDays != nil {
		n := *o.MemoryExpiryDays
		c.MemoryExpiryDays = &n
	}
	if o.AutoTitle != nil {
		b := *o.AutoTitle
		c.AutoTitle = &b
	}
	if o.DMPreview != nil {
		b := *o.DMPreview
		c.DMPreview = &b
	}
	return c
}

func (o Override) apply(s *Settings) {
	if o.Personality != nil {
		s.Personality = *o.Personality
	}
	if o.DefaultMood != nil {
		s.DefaultMood = *o.DefaultMood
	}
	if o.MaxMemoryMessages != nil {
		s.MaxMemoryMessages = *o.MaxMemoryMessages
	}
	if o.MemoryExpiryDays != nil {
		s.MemoryExpiryDays = *o.MemoryExpiryDays
	}
	if o.AutoTitle != nil {
		s.AutoTitle = *o.AutoTitle
	}
	if o.DMPreview != nil {
		s.DMPreview = *o.DMPreview
	}
}

// Scope names an override layer.
type Scope string

const (
	ScopeServer Scope = "server"
	ScopeUser   Scope = "user"
)

// PersistFunc receives every override change for write-through persistence.
// An empty Override means the scope's overrides were fully reset.
type PersistFunc func(scope Scope, id string, o Override) error

// Resolver holds the three settings layers and merges them:
// system defaults < server overrides < user overrides.
type Resolver struct {
	mu      sync.RWMutex
	system  Settings
	servers map[string]Override
	users   map[string]Override
	persist PersistFunc
}

// NewResolver creates a Resolver over the given system defaults. persist
// may be nil.
func NewResolver(system Settings, persist PersistFunc) *Resolver {
	return &Resolver{
		system:  system,
		servers: make(map[string]Override),
		users:   make(map[string]Override),
		persist: persist,
	}
}

// Effective resolves the settings for one user on one server. Either ID may
// be empty (DMs have no server).
func (r *Resolver) Effective(userID, serverID string) Settings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.system
	if serverID != "" {
		r.servers[serverID].apply(&s)
	}
	if userID != "" {
		r.users[userID].apply(&s)
	}
	return s
}

// Set validates one field value and stores it in the scope's override
// layer. On any validation failure nothing changes.
func (r *Resolver) Set(scope Scope, id, field, raw string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := r.overrides(scope)[id]
	if err := setField(&o, field, raw); err != nil {
		return err
	}
	r.overrides(scope)[id] = o
	return r.flush(scope, id, o)
}

// Reset clears one field of the scope's override layer, or all fields when
// field is empty.
func (r *Resolver) Reset(scope Scope, id, field string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	layer := r.overrides(scope)
	o, ok := layer[id]
	if !ok {
		return nil
	}
	if field == "" {
		delete(layer, id)
		return r.flush(scope, id, Override{})
	}
	switch strings.ToLower(field) {
	case FieldPersonality:
		o.Personality = nil
	case FieldDefaultMood:
		o.DefaultMood = nil
	case FieldMaxMemoryMessages:
		o.MaxMemoryMessages = nil
	case FieldMemoryExpiryDays:
		o.MemoryExpiryDays = nil
	case FieldAutoTitle:
		o.AutoTitle = nil
	case FieldDMPreview:
		o.DMPreview = nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSetting, field)
	}
	if o.Empty() {
		delete(layer, id)
	} else {
		layer[id] = o
	}
	return r.flush(scope, id, o)
}

// Restore seeds an override layer from the durable store without invoking
// the persist hook.
func (r *Resolver) Restore(scope Scope, id string, o Override) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o.Empty() {
		return
	}
	r.overrides(scope)[id] = o
}

// Overrides returns a detached copy of one scope entry for display.
// Mutating the result never touches the resolver's state.
func (r *Resolver) Overrides(scope Scope, id string) Override {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.overrides(scope)[id].clone()
}

func (r *Resolver) overrides(scope Scope) map[string]Override {
	if scope == ScopeServer {
		return r.servers
	}
	return r.users
}

func (r *Resolver) flush(scope Scope, id string, o Override) error {
	if r.persist == nil {
		return nil
	}
	return r.persist(scope, id, o)
}

func setField(o *Override, field, raw string) error {
	raw = strings.TrimSpace(raw)
	switch strings.ToLower(field) {
	case FieldPersonality:
		if !mood.ValidPersonality(raw) {
			return fmt.Errorf("%w: personality must be one of %s",
				ErrInvalidValue, joinPersonalities())
		}
		p := mood.Personality(raw)
		o.Personality = &p
	case FieldDefaultMood:
		if !mood.Valid(raw) {
			return fmt.Errorf("%w: unknown mood %q", ErrInvalidValue, raw)
		}
		m := mood.Mood(raw)
		o.DefaultMood = &m
	case FieldMaxMemoryMessages:
		n, err := parseRange(raw, MinMemoryMessages, MaxMemoryMessages)
		if err != nil {
			return fmt.Errorf("%w: max_memory_messages must be %d-%d",
				ErrInvalidValue, MinMemoryMessages, MaxMemoryMessages)
		}
		o.MaxMemoryMessages = &n
	case FieldMemoryExpiryDays:
		n, err := parseRange(raw, MinExpiryDays, MaxExpiryDays)
		if err != nil {
			return fmt.Errorf("%w: memory_expiry_days must be %d-%d",
				ErrInvalidValue, MinExpiryDays, MaxExpiryDays)
		}
		o.MemoryExpiryDays = &n
	case FieldAutoTitle:
		b, err := parseBool(raw)
		if err != nil {
			return err
		}
		o.AutoTitle = &b
	case FieldDMPreview:
		b, err := parseBool(raw)
		if err != nil {
			return err
		}
		o.DMPreview = &b
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSetting, field)
	}
	return nil
}

func parseRange(raw string, min, max int) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < min || n > max {
		return 0, fmt.Errorf("out of range")
	}
	return n, nil
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "true", "yes", "1", "on":
		return true, nil
	case "false", "no", "0", "off":
		return false, nil
	}
	return false, fmt.Errorf("%w: expected true/false, yes/no or 1/0", ErrInvalidValue)
}

// Fields returns every settable field name in display order.
func Fields() []string {
	return []string{
		FieldPersonality,
		FieldDefaultMood,
		FieldMaxMemoryMessages,
		FieldMemoryExpiryDays,
		FieldAutoTitle,
		FieldDMPreview,
	}
}

// Describe renders a resolved Settings as "field: value" lines.
func Describe(s Settings) []string {
	return []string{
		fmt.Sprintf("%s: %s", FieldPersonality, s.Personality),
		fmt.Sprintf("%s: %s", FieldDefaultMood, s.DefaultMood),
		fmt.Sprintf("%s: %d", FieldMaxMemoryMessages, s.MaxMemoryMessages),
		fmt.Sprintf("%s: %d", FieldMemoryExpiryDays, s.MemoryExpiryDays),
		fmt.Sprintf("%s: %t", FieldAutoTitle, s.AutoTitle),
		fmt.Sprintf("%s: %t", FieldDMPreview, s.DMPreview),
	}
}

// OverriddenFields lists the field names o sets, in display order.
func OverriddenFields(o Override) []string {
	var out []string
	if o.Personality != nil {
		out = append(out, FieldPersonality)
	}
	if o.DefaultMood != nil {
		out = append(out, FieldDefaultMood)
	}
	if o.MaxMemoryMessages != nil {
		out = append(out, FieldMaxMemoryMessages)
	}
	if o.MemoryExpiryDays != nil {
		out = append(out, FieldMemoryExpiryDays)
	}
	if o.AutoTitle != nil {
		out = append(out, FieldAutoTitle)
	}
	if o.DMPreview != nil {
		out = append(out, FieldDMPreview)
	}
	return out
}

func joinPersonalities() string {
	var names []string
	for _, p := range mood.Personalities() {
		names = append(names, string(p))
	}
	return strings.Join(names, ", ")
}
