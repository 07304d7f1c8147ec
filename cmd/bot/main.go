package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gembot/datastore"
	"gembot/internal/admission"
	"gembot/internal/ai"
	"gembot/internal/config"
	"gembot/internal/discord"
	"gembot/internal/engine"
	"gembot/internal/lifecycle"
	"gembot/internal/mood"
	"gembot/internal/session"
	"gembot/internal/settings"
)

func main() {
	log.Println("[INFO] Starting gembot...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.New()
	if err != nil {
		log.Fatal("[ERR] ", err)
	}

	db, err := datastore.New(cfg.StoragePath)
	if err != nil {
		log.Fatal("[ERR] ", err)
	}
	defer db.Close()

	store := session.NewStore(nil)

	provider := ai.NewRetryProvider(
		ai.NewGeminiProvider(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiBaseURL))

	lc := lifecycle.NewManager(store, db, provider, lifecycle.Config{
		SweepInterval:     time.Duration(cfg.SweepIntervalSec) * time.Second,
		PersistInterval:   time.Duration(cfg.PersistIntervalSec) * time.Second,
		AutoTitle:         cfg.AutoTitle,
		AutoTitleMinTurns: cfg.AutoTitleMinTurns,
	})

	system := settings.Settings{
		Personality:       mood.Personality(cfg.DefaultPersonality),
		DefaultMood:       mood.Default,
		MaxMemoryMessages: cfg.MaxConversationHistory,
		MemoryExpiryDays:  cfg.MemoryExpiryDays,
		AutoTitle:         cfg.AutoTitle,
		DMPreview:         cfg.DMPreview,
	}
	if !mood.ValidPersonality(cfg.DefaultPersonality) {
		log.Printf("[INFO] unknown DEFAULT_PERSONALITY %q, using %s",
			cfg.DefaultPersonality, mood.DefaultPersonality)
		system.Personality = mood.DefaultPersonality
	}
	resolver := settings.NewResolver(system, lc.PersistSettings)

	lc.Restore(resolver)
	lc.Start()
	defer lc.Stop()

	gate := admission.NewController(admission.Config{
		DMResponses:      cfg.DMResponses,
		MentionResponses: cfg.MentionResponses,
		AutoChannels:     cfg.AutoResponseChannels,
		IgnoredPrefixes:  cfg.IgnoredPrefixes,
		Cooldown:         time.Duration(cfg.ResponseCooldownSec) * time.Second,
	}, nil)

	moods := mood.NewEngine(cfg.MoodChangeProbability, time.Now().UnixNano())

	eng := engine.New(store, resolver, gate, provider, moods, lc, engine.Config{
		SystemPrompt: cfg.SystemPrompt,
		MaxTokens:    cfg.GeminiMaxTokens,
		MaxTags:      cfg.MaxTagsPerConversation,
		MaxTagLength: cfg.MaxTagLength,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := discord.StartBot(ctx, cfg, eng); err != nil {
			errCh <- err
		}
		close(errCh)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.Printf("[INFO] Received signal %s, shutting down...", s)
		cancel()
	case err := <-errCh:
		if err != nil {
			log.Println("[ERR] Discord bot error:", err)
		}
		cancel()
	case <-ctx.Done():
	}

	log.Println("[INFO] gembot exited cleanly")
}
