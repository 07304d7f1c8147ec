package discord

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/bwmarrin/discordgo"

	"gembot/internal/config"
	"gembot/internal/engine"
	"gembot/internal/mood"
)

// Bot is the Discord gateway adapter. It translates gateway events into
// engine calls and renders engine results back into chat messages.
type Bot struct {
	dg     *discordgo.Session
	cfg    *config.Config
	engine *engine.Engine
}

// StartBot runs the bot until ctx is cancelled.
func StartBot(ctx context.Context, cfg *config.Config, eng *engine.Engine) error {
	b := &Bot{cfg: cfg, engine: eng}
	if err := b.run(ctx, cfg.DiscordToken); err != nil {
		return fmt.Errorf("bot run error: %w", err)
	}
	return nil
}

func (b *Bot) run(ctx context.Context, token string) error {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	b.dg = dg

	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent
	dg.AddHandler(b.onReady)
	dg.AddHandler(b.onMessageCreate)

	if err := dg.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}
	defer dg.Close()

	<-ctx.Done()
	log.Println("[INFO] ❎ Shutdown signal received. Cleaning up...")
	return nil
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	log.Printf("[INFO] ✅ Discord bot %v is running on %d guilds.",
		r.User.Username, len(r.Guilds))
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == s.State.User.ID || m.Author.Bot {
		return
	}

	if strings.HasPrefix(m.Content, b.cfg.BotPrefix) {
		b.dispatchCommand(s, m)
		return
	}

	content := stripBotMention(s, m.Content)
	// Replies carry the quoted message as context for the model.
	if ref := m.ReferencedMessage; ref != nil && ref.Author != nil &&
		ref.Author.ID != s.State.User.ID && ref.Content != "" {
		content = fmt.Sprintf("(replying to %s: %q) %s",
			ref.Author.Username, truncateLog(ref.Content, 200), content)
	}

	ev := engine.InboundEvent{
		UserID:     m.Author.ID,
		ChannelID:  m.ChannelID,
		GuildID:    m.GuildID,
		AuthorName: displayName(m),
		Content:    content,
		IsDM:       m.GuildID == "",
		IsMention:  isAddressed(s, m),
	}

	// No typing indicator until the message is actually admitted; most
	// guild traffic is chatter the bot stays silent on.
	admitted, ok := b.engine.Admit(ev)
	if !ok {
		return
	}

	done := make(chan struct{})
	defer close(done)
	go keepTyping(s, m.ChannelID, done)

	res, err := b.engine.Respond(context.Background(), ev, admitted.Reason)
	if err != nil {
		b.send(s, m.ChannelID, engine.UserMessage(err))
		return
	}
	if !res.Handled {
		return
	}

	reply := fmt.Sprintf("%s %s", mood.Emoji(res.Mood), b.engine.Decorate(res.Mood, res.Reply))
	log.Printf("[CHAT] reply to %s @ %s: %s", ev.AuthorName, m.ChannelID, truncateLog(reply, 120))
	b.send(s, m.ChannelID, reply)
}

// isAddressed reports whether the message mentions us or replies to one of
// our messages.
func isAddressed(s *discordgo.Session, m *discordgo.MessageCreate) bool {
	for _, user := range m.Mentions {
		if user.ID == s.State.User.ID {
			return true
		}
	}
	if m.ReferencedMessage != nil && m.ReferencedMessage.Author != nil {
		return m.ReferencedMessage.Author.ID == s.State.User.ID
	}
	return false
}

func stripBotMention(s *discordgo.Session, content string) string {
	id := s.State.User.ID
	content = strings.ReplaceAll(content, "<@"+id+">", "")
	content = strings.ReplaceAll(content, "<@!"+id+">", "")
	return strings.TrimSpace(content)
}

func displayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}

func (b *Bot) send(s *discordgo.Session, channelID, msg string) {
	for _, chunk := range splitMessage(msg, 2000) {
		if _, err := s.ChannelMessageSend(channelID, chunk); err != nil {
			log.Printf("[ERR] send to %s failed: %v", channelID, err)
			return
		}
	}
}
