package session

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"gembot/internal/mood"
)

var (
	// ErrNotFound — explicit mutation on a key with no live conversation.
	// Read/append paths never return it; they create a fresh conversation.
	ErrNotFound = errors.New("no conversation for this key")
	// ErrLimitExceeded — a tag bound would be violated. State is unchanged.
	ErrLimitExceeded = errors.New("conversation limit exceeded")
)

type entry struct {
	conv     *Conversation
	dirtySeq uint64 // bumped on every mutation
	cleanSeq uint64 // last seq persisted to the durable store
}

// Store is the conversation-state table. It owns the conversation
// lifecycle: create, mutate, expire, delete.
//
// Locking: s.mu guards the table and conversation data; every operation
// holds it only for brief in-memory work. Turn ordering within one
// conversation is a separate per-key lock (Acquire) that callers hold
// across a whole turn, including the inference call, so turns on one key
// never interleave while unrelated keys stay fully parallel.
type Store struct {
	mu        sync.RWMutex
	convs     map[Key]*entry
	turnLocks map[Key]*sync.Mutex
	now       func() time.Time
}

// NewStore creates an empty Store. now may be nil (wall clock); tests
// inject their own clock.
func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		convs:     make(map[Key]*entry),
		turnLocks: make(map[Key]*sync.Mutex),
		now:       now,
	}
}

// Acquire takes the per-key turn lock and returns its release func.
// Lock entries are tiny and reused when the key comes back, so they are
// never removed.
func (s *Store) Acquire(key Key) func() {
	s.mu.Lock()
	l, ok := s.turnLocks[key]
	if !ok {
		l = &sync.Mutex{}
		s.turnLocks[key] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// live returns the entry for key if present and not expired. Expired
// entries are deleted on the spot (expire-on-access). Caller holds s.mu
// for writing.
func (s *Store) live(key Key, now time.Time) *entry {
	e, ok := s.convs[key]
	if !ok {
		return nil
	}
	if now.After(e.conv.ExpiresAt) {
		delete(s.convs, key)
		return nil
	}
	return e
}

func (s *Store) create(key Key, def Defaults, now time.Time) *entry {
	m := def.Mood
	if m == "" {
		m = mood.Default
	}
	p := def.Personality
	if p == "" {
		p = mood.DefaultPersonality
	}
	e := &entry{
		conv: &Conversation{
			ID:           uuid.NewString(),
			Key:          key,
			Mood:         m,
			Personality:  p,
			Energy:       mood.BaseEnergy(m),
			LastActivity: now,
			ExpiresAt:    now.Add(def.Limits.Expiry),
		},
		dirtySeq: 1,
	}
	s.convs[key] = e
	return e
}

// GetOrCreate returns the live conversation for key, creating a fresh one
// with default mood/personality when none exists or the old one expired.
func (s *Store) GetOrCreate(key Key, def Defaults) Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	e := s.live(key, now)
	if e == nil {
		e = s.create(key, def, now)
	}
	return copyConv(e.conv)
}

// Get returns a snapshot without creating. Expired entries read as absent.
func (s *Store) Get(key Key) (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.live(key, s.now())
	if e == nil {
		return Conversation{}, false
	}
	return copyConv(e.conv), true
}

// AppendTurn appends one turn, evicts oldest entries past the history
// bound, bumps LastActivity and recomputes ExpiresAt. An absent or expired
// conversation is recreated first — appending never fails.
func (s *Store) AppendTurn(key Key, t Turn, def Defaults) Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	e := s.live(key, now)
	if e == nil {
		e = s.create(key, def, now)
	}
	if t.At.IsZero() {
		t.At = now
	}
	c := e.conv
	c.History = append(c.History, t)
	if max := def.Limits.MaxHistory; max > 0 && len(c.History) > max {
		c.History = append([]Turn(nil), c.History[len(c.History)-max:]...)
	}
	c.Energy = mood.NudgeEnergy(c.Energy, c.Mood, t.Role, t.Content)
	c.LastActivity = now
	c.ExpiresAt = now.Add(def.Limits.Expiry)
	e.dirtySeq++
	return copyConv(c)
}

// mutate runs fn on the live conversation for key, marking it dirty.
func (s *Store) mutate(key Key, fn func(*Conversation) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.live(key, s.now())
	if e == nil {
		return ErrNotFound
	}
	if err := fn(e.conv); err != nil {
		return err
	}
	e.dirtySeq++
	return nil
}

// SetTitle sets the conversation title.
func (s *Store) SetTitle(key Key, title string) error {
	return s.mutate(key, func(c *Conversation) error {
		c.Title = strings.TrimSpace(title)
		return nil
	})
}

// AddTags adds tags idempotently. If the resulting distinct count would
// exceed lim.MaxTags, or any tag is longer than lim.MaxTagLength, nothing
// changes and ErrLimitExceeded is returned.
func (s *Store) AddTags(key Key, tags []string, lim Limits) error {
	return s.mutate(key, func(c *Conversation) error {
		merged := append([]string(nil), c.Tags...)
		for _, raw := range tags {
			tag := strings.TrimSpace(raw)
			if tag == "" {
				continue
			}
			if lim.MaxTagLength > 0 && len(tag) > lim.MaxTagLength {
				return ErrLimitExceeded
			}
			if !contains(merged, tag) {
				merged = append(merged, tag)
			}
		}
		if lim.MaxTags > 0 && len(merged) > lim.MaxTags {
			return ErrLimitExceeded
		}
		c.Tags = merged
		return nil
	})
}

// RemoveTags removes tags; absent tags are a no-op, not an error.
func (s *Store) RemoveTags(key Key, tags []string) error {
	return s.mutate(key, func(c *Conversation) error {
		if len(c.Tags) == 0 {
			return nil
		}
		keep := c.Tags[:0]
		for _, have := range c.Tags {
			if !contains(tags, have) {
				keep = append(keep, have)
			}
		}
		c.Tags = keep
		return nil
	})
}

// SetArchived flips the archival flag. Archived conversations stay readable
// and mutable until they expire; the admission layer keeps them silent.
func (s *Store) SetArchived(key Key, archived bool) error {
	return s.mutate(key, func(c *Conversation) error {
		c.Archived = archived
		return nil
	})
}

// SetMood records the mood chosen by the mood engine.
func (s *Store) SetMood(key Key, m mood.Mood) error {
	return s.mutate(key, func(c *Conversation) error {
		c.Mood = m
		return nil
	})
}

// SetPersonality records an explicit personality selection.
func (s *Store) SetPersonality(key Key, p mood.Personality) error {
	return s.mutate(key, func(c *Conversation) error {
		c.Personality = p
		return nil
	})
}

// ClearHistory drops the message history but keeps title, tags and the
// rest of the metadata.
func (s *Store) ClearHistory(key Key) error {
	return s.mutate(key, func(c *Conversation) error {
		c.History = nil
		return nil
	})
}

// Delete removes the conversation entirely.
func (s *Store) Delete(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, key)
}

// List returns summaries of the owner's live conversations, newest first.
// Expired entries found during the scan are deleted (expire-on-read).
// Archived conversations appear only when includeArchived is set.
func (s *Store) List(ownerID string, includeArchived bool) []Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var out []Summary
	for key, e := range s.convs {
		if now.After(e.conv.ExpiresAt) {
			delete(s.convs, key)
			continue
		}
		if key.UserID != ownerID {
			continue
		}
		if e.conv.Archived && !includeArchived {
			continue
		}
		c := e.conv
		out = append(out, Summary{
			ID:           c.ID,
			Key:          key,
			Title:        c.Title,
			Tags:         append([]string(nil), c.Tags...),
			Archived:     c.Archived,
			Turns:        len(c.History),
			Mood:         c.Mood,
			LastActivity: c.LastActivity,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out
}

// SweepExpired deletes every expired conversation and returns their keys
// so the caller can issue durable-store deletes.
func (s *Store) SweepExpired() []Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var gone []Key
	for key, e := range s.convs {
		if now.After(e.conv.ExpiresAt) {
			delete(s.convs, key)
			gone = append(gone, key)
		}
	}
	return gone
}

// Len returns the number of live entries (expired included until touched).
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.convs)
}

// Restore seeds a conversation loaded from the durable store. Existing and
// already-expired entries are skipped. Restored entries start clean.
func (s *Store) Restore(c Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.now().After(c.ExpiresAt) {
		return
	}
	if _, ok := s.convs[c.Key]; ok {
		return
	}
	cc := copyConv(&c)
	s.convs[c.Key] = &entry{conv: &cc}
}

// DirtyConversation pairs a snapshot with its mutation sequence so the
// persister can confirm exactly what it wrote.
type DirtyConversation struct {
	Conversation
	Seq uint64
}

// DirtySnapshots returns copies of every conversation mutated since it was
// last persisted.
func (s *Store) DirtySnapshots() []DirtyConversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []DirtyConversation
	for _, e := range s.convs {
		if e.dirtySeq > e.cleanSeq {
			out = append(out, DirtyConversation{Conversation: copyConv(e.conv), Seq: e.dirtySeq})
		}
	}
	return out
}

// MarkClean records that the snapshot taken at seq reached the durable
// store. Later mutations keep the entry dirty.
func (s *Store) MarkClean(key Key, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.convs[key]; ok && seq > e.cleanSeq {
		e.cleanSeq = seq
	}
}

func copyConv(c *Conversation) Conversation {
	out := *c
	out.History = append([]Turn(nil), c.History...)
	out.Tags = append([]string(nil), c.Tags...)
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
