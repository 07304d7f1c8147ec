package config

import (
	"fmt"
	"log"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the full process configuration, loaded from the environment
// with an optional .env file on top.
type Config struct {
	DiscordToken string `env:"DISCORD_TOKEN,required"`
	BotPrefix    string `env:"BOT_PREFIX" envDefault:"!"`
	StoragePath  string `env:"STORAGE_PATH" envDefault:"datastore.json"`

	GeminiAPIKey    string `env:"GEMINI_API_KEY,required"`
	GeminiModel     string `env:"GEMINI_MODEL" envDefault:"gemini-2.0-flash"`
	GeminiBaseURL   string `env:"GEMINI_BASE_URL"`
	GeminiMaxTokens int    `env:"GEMINI_MAX_TOKENS" envDefault:"1000"`
	SystemPrompt    string `env:"SYSTEM_PROMPT" envDefault:"You are a helpful, personable Discord companion. Keep answers concise enough for chat."`

	AutoResponseChannels []string `env:"AUTO_RESPONSE_CHANNELS" envSeparator:","`
	IgnoredPrefixes      []string `env:"IGNORED_PREFIXES" envSeparator:"," envDefault:"!,."`
	ResponseCooldownSec  int      `env:"RESPONSE_COOLDOWN_SECONDS" envDefault:"10"`
	MentionResponses     bool     `env:"ENABLE_MENTION_RESPONSES" envDefault:"true"`
	DMResponses          bool     `env:"ENABLE_DIRECT_MESSAGE_RESPONSES" envDefault:"true"`

	MaxConversationHistory int     `env:"MAX_CONVERSATION_HISTORY" envDefault:"10"`
	MemoryExpiryDays       int     `env:"MEMORY_EXPIRY_DAYS" envDefault:"7"`
	MoodChangeProbability  float64 `env:"MOOD_CHANGE_PROBABILITY" envDefault:"0.2"`
	DefaultPersonality     string  `env:"DEFAULT_PERSONALITY" envDefault:"balanced"`
	MaxTagsPerConversation int     `env:"MAX_TAGS_PER_CONVERSATION" envDefault:"10"`
	MaxTagLength           int     `env:"MAX_TAG_LENGTH" envDefault:"32"`

	AutoTitle         bool `env:"ENABLE_AUTO_TITLE" envDefault:"true"`
	AutoTitleMinTurns int  `env:"AUTO_TITLE_MIN_TURNS" envDefault:"4"`
	DMPreview         bool `env:"ENABLE_DM_CONVERSATION_PREVIEW" envDefault:"true"`

	SweepIntervalSec   int `env:"SWEEP_INTERVAL_SECONDS" envDefault:"600"`
	PersistIntervalSec int `env:"PERSIST_INTERVAL_SECONDS" envDefault:"30"`
}

// New loads the configuration, reading .env first when present.
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("[INFO] no .env file found, using system environment")
	}
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.MaxConversationHistory < 1 {
		return nil, fmt.Errorf("config: MAX_CONVERSATION_HISTORY must be positive")
	}
	if cfg.MemoryExpiryDays < 1 {
		return nil, fmt.Errorf("config: MEMORY_EXPIRY_DAYS must be positive")
	}
	return cfg, nil
}
