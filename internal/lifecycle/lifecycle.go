// Package lifecycle owns the background work around conversation state:
// hydrating it from the durable store at startup, writing dirty state back,
// sweeping out expired conversations and auto-titling ones that earned it.
package lifecycle

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"gembot/internal/ai"
	"gembot/internal/session"
	"gembot/internal/settings"
	"gembot/pkg/jobmgr"
	"gembot/pkg/util"
)

// Durable is the persistence surface the manager needs. Satisfied by
// datastore.DataStore.
type Durable interface {
	Put(key string, value any) error
	Get(key string, out any) (bool, error)
	Delete(key string)
	Keys(prefix string) []string
	Flush() error
}

const (
	convKeyPrefix     = "conv:"
	settingsKeyPrefix = "settings:"

	persistWorkers = 4
	maxTitleLength = 80
)

func convKey(k session.Key) string {
	return convKeyPrefix + k.String()
}

func settingsKey(scope settings.Scope, id string) string {
	return settingsKeyPrefix + string(scope) + ":" + id
}

// Config tunes the background jobs.
type Config struct {
	SweepInterval     time.Duration
	PersistInterval   time.Duration
	AutoTitle         bool // process-wide switch, per-user setting gates on top
	AutoTitleMinTurns int
}

// Manager runs the sweep and persist jobs and the auto-title task.
type Manager struct {
	store    *session.Store
	db       Durable
	provider ai.Provider
	jobs     *jobmgr.Manager
	cfg      Config
}

func NewManager(store *session.Store, db Durable, provider ai.Provider, cfg Config) *Manager {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 10 * time.Minute
	}
	if cfg.PersistInterval <= 0 {
		cfg.PersistInterval = 30 * time.Second
	}
	if cfg.AutoTitleMinTurns <= 0 {
		cfg.AutoTitleMinTurns = 4
	}
	return &Manager{
		store:    store,
		db:       db,
		provider: provider,
		jobs: jobmgr.NewManager(func(msg string) {
			log.Printf("[JOBS] %s", msg)
		}),
		cfg: cfg,
	}
}

// Restore hydrates the session store and the settings resolver from the
// durable store. Unreadable records are skipped, not fatal.
func (m *Manager) Restore(resolver *settings.Resolver) {
	var convs, skipped int
	for _, key := range m.db.Keys(convKeyPrefix) {
		var c session.Conversation
		ok, err := m.db.Get(key, &c)
		if err != nil {
			log.Printf("[MEMORY] skipping unreadable record %s: %v", key, err)
			skipped++
			continue
		}
		if !ok {
			continue
		}
		m.store.Restore(c)
		convs++
	}

	var overrides int
	for _, key := range m.db.Keys(settingsKeyPrefix) {
		scope, id, ok := strings.Cut(strings.TrimPrefix(key, settingsKeyPrefix), ":")
		if !ok {
			continue
		}
		var o settings.Override
		found, err := m.db.Get(key, &o)
		if err != nil || !found {
			skipped++
			continue
		}
		resolver.Restore(settings.Scope(scope), id, o)
		overrides++
	}
	log.Printf("[MEMORY] restored %d conversations, %d setting overrides (%d skipped)",
		convs, overrides, skipped)
}

// PersistSettings is the resolver's write-through hook.
func (m *Manager) PersistSettings(scope settings.Scope, id string, o settings.Override) error {
	key := settingsKey(scope, id)
	if o.Empty() {
		m.db.Delete(key)
		return nil
	}
	return m.db.Put(key, o)
}

// Start launches the persist and sweep jobs.
func (m *Manager) Start() {
	m.startLoop("memory-persist", m.cfg.PersistInterval, func() { m.PersistOnce() })
	m.startLoop("memory-sweep", m.cfg.SweepInterval, func() { m.SweepOnce() })
}

// Stop cancels the jobs and does a final synchronous persist.
func (m *Manager) Stop() {
	m.jobs.StopAll()
	m.PersistOnce()
	if err := m.db.Flush(); err != nil {
		log.Printf("[ERR] final flush failed: %v", err)
	}
}

func (m *Manager) startLoop(name string, interval time.Duration, tick func()) {
	err := m.jobs.StartAsync(name, func(ctx context.Context) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				tick()
			}
		}
	})
	if err != nil {
		log.Printf("[ERR] %v", err)
	}
}

// JobStatus reports the background jobs, for the status command.
func (m *Manager) JobStatus() string {
	return m.jobs.Status()
}

// PersistOnce writes every dirty conversation back to the durable store.
// Failures leave the entries dirty so the next tick retries them.
func (m *Manager) PersistOnce() int {
	snaps := m.store.DirtySnapshots()
	if len(snaps) == 0 {
		return 0
	}
	var written atomic.Int64
	err := util.Parallel(snaps, persistWorkers, func(_ context.Context, snap session.DirtyConversation) error {
		if err := m.db.Put(convKey(snap.Key), snap.Conversation); err != nil {
			return err
		}
		m.store.MarkClean(snap.Key, snap.Seq)
		written.Add(1)
		return nil
	})
	if err != nil {
		log.Printf("[MEMORY] persist incomplete, will retry: %v", err)
		return int(written.Load())
	}
	if err := m.db.Flush(); err != nil {
		log.Printf("[MEMORY] flush failed, will retry: %v", err)
	}
	return int(written.Load())
}

// Forget removes one conversation's durable record immediately. Used by
// explicit deletes, which must not wait for the sweep.
func (m *Manager) Forget(key session.Key) {
	m.db.Delete(convKey(key))
}

// SweepOnce removes expired conversations from memory and disk.
func (m *Manager) SweepOnce() int {
	gone := m.store.SweepExpired()
	for _, key := range gone {
		m.db.Delete(convKey(key))
	}
	if len(gone) > 0 {
		log.Printf("[MEMORY] swept %d expired conversations", len(gone))
	}
	return len(gone)
}

const titleSystem = "You generate very short titles for chat conversations. " +
	"Answer with the title only, 3 to 6 words, no quotes, no punctuation at the end."

// MaybeAutoTitle asks the provider for a title once a conversation has
// enough turns and none was set. Failures are logged and dropped: a missing
// title never breaks a conversation.
func (m *Manager) MaybeAutoTitle(ctx context.Context, key session.Key, eff settings.Settings) {
	if !m.cfg.AutoTitle || !eff.AutoTitle {
		return
	}
	conv, ok := m.store.Get(key)
	if !ok || conv.Title != "" || len(conv.History) < m.cfg.AutoTitleMinTurns {
		return
	}

	title, err := m.provider.Generate(ctx, ai.Request{
		System:    titleSystem,
		Messages:  []ai.Message{{Role: ai.RoleUser, Content: titlePrompt(conv)}},
		Params:    ai.GenParams{Temperature: 0.3, TopP: 0.8, TopK: 20},
		MaxTokens: 30,
	})
	if err != nil {
		log.Printf("[MEMORY] auto-title failed for %s: %v", key, err)
		return
	}
	title = sanitizeTitle(title)
	if title == "" {
		return
	}
	if err := m.store.SetTitle(key, title); err != nil {
		return // expired in the meantime
	}
	log.Printf("[MEMORY] auto-titled %s: %q", key, title)
}

func titlePrompt(conv session.Conversation) string {
	var b strings.Builder
	b.WriteString("Title this conversation:\n\n")
	limit := len(conv.History)
	if limit > 6 {
		limit = 6
	}
	for _, t := range conv.History[:limit] {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
	}
	return b.String()
}

func sanitizeTitle(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	if len(s) > maxTitleLength {
		s = strings.TrimSpace(s[:maxTitleLength])
	}
	return s
}
