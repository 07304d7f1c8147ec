package discord

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/bwmarrin/discordgo"

	"gembot/internal/mood"
	"gembot/internal/session"
	"gembot/internal/settings"
	"gembot/pkg/util"
)

// dispatchCommand handles the prefix commands for conversation management
// and settings. Unknown commands are ignored so other bots sharing the
// prefix are not shouted at.
func (b *Bot) dispatchCommand(s *discordgo.Session, m *discordgo.MessageCreate) {
	line := strings.TrimPrefix(m.Content, b.cfg.BotPrefix)
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]
	key := session.Key{UserID: m.Author.ID, ChannelID: m.ChannelID}

	var reply string
	var err error
	switch cmd {
	case "title":
		reply, err = b.cmdTitle(key, args)
	case "tag":
		reply, err = b.cmdTag(key, m.GuildID, args)
	case "archive":
		err = b.engine.Archive(key)
		reply = "Conversation archived. I'll stay quiet here unless you mention me. 📦"
	case "unarchive":
		err = b.engine.Unarchive(key)
		reply = "Conversation unarchived. Back to normal! 📂"
	case "clear":
		err = b.engine.ClearHistory(key)
		reply = "Memory cleared. Title and tags are kept. 🧹"
	case "forget":
		b.engine.Delete(key)
		reply = "Gone. This conversation never happened. 🫥"
	case "convos":
		reply = b.cmdConvos(m.Author.ID, len(args) > 0 && args[0] == "all")
	case "settings":
		reply, err = b.cmdSettings(s, m, args)
	case "memory":
		reply = b.cmdMemory(key)
	case "preview":
		reply, err = b.cmdPreview(s, m, key)
	case "status":
		reply = b.cmdStatus()
	case "help":
		reply = b.helpText()
	default:
		return
	}

	if err != nil {
		if msg := friendlyError(err); msg != "" {
			b.send(s, m.ChannelID, msg)
		} else {
			log.Printf("[ERR] command %s failed: %v", cmd, err)
			b.send(s, m.ChannelID, "That didn't work, sorry.")
		}
		return
	}
	if reply != "" {
		b.send(s, m.ChannelID, reply)
	}
}

func (b *Bot) cmdTitle(key session.Key, args []string) (string, error) {
	if len(args) == 0 {
		return "Usage: " + b.cfg.BotPrefix + "title <text>", nil
	}
	title := strings.Join(args, " ")
	if err := b.engine.SetTitle(key, title); err != nil {
		return "", err
	}
	return fmt.Sprintf("Titled this conversation %q. 🏷️", title), nil
}

func (b *Bot) cmdTag(key session.Key, guildID string, args []string) (string, error) {
	if len(args) == 0 {
		conv, ok := b.engine.Current(key)
		if !ok || len(conv.Tags) == 0 {
			return "No tags on this conversation.", nil
		}
		return "Tags: " + strings.Join(conv.Tags, ", "), nil
	}
	verb := strings.ToLower(args[0])
	tags := splitTags(args[1:])
	switch verb {
	case "add":
		if err := b.engine.AddTags(key, tags, guildID); err != nil {
			return "", err
		}
		return "Tagged. 🏷️", nil
	case "remove", "rm":
		if err := b.engine.RemoveTags(key, tags); err != nil {
			return "", err
		}
		return "Untagged.", nil
	}
	return "Usage: " + b.cfg.BotPrefix + "tag [add|remove] <tag,tag,...>", nil
}

func splitTags(args []string) []string {
	var tags []string
	for _, arg := range args {
		for _, t := range strings.Split(arg, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
	}
	return tags
}

func (b *Bot) cmdConvos(userID string, includeArchived bool) string {
	sums := b.engine.List(userID, includeArchived)
	if len(sums) == 0 {
		return "No conversations on record."
	}
	var sb strings.Builder
	sb.WriteString("Your conversations:\n")
	for _, sum := range sums {
		title := sum.Title
		if title == "" {
			title = "(untitled)"
		}
		flag := ""
		if sum.Archived {
			flag = " 📦"
		}
		fmt.Fprintf(&sb, "• %s %s — %d turns, last %s%s",
			mood.Emoji(sum.Mood), title, sum.Turns,
			util.FormatDateTpl(sum.LastActivity, "YYYY-MM-DD hh:mm"), flag)
		if len(sum.Tags) > 0 {
			fmt.Fprintf(&sb, " [%s]", strings.Join(sum.Tags, ", "))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func (b *Bot) cmdSettings(s *discordgo.Session, m *discordgo.MessageCreate, args []string) (string, error) {
	if len(args) == 0 {
		eff := b.engine.EffectiveSettings(m.Author.ID, m.GuildID)
		reply := "Your effective settings:\n" + strings.Join(settings.Describe(eff), "\n")
		if own := settings.OverriddenFields(b.engine.UserOverrides(m.Author.ID)); len(own) > 0 {
			reply += "\nOverridden by you: " + strings.Join(own, ", ")
		}
		return reply + "\nChange with " + b.cfg.BotPrefix + "settings set <field> <value>", nil
	}

	scope := settings.ScopeUser
	id := m.Author.ID
	if args[0] == "server" {
		if m.GuildID == "" {
			return "Server settings only make sense on a server.", nil
		}
		if !canManageServer(s, m) {
			return "You need the Manage Server permission for that.", nil
		}
		scope, id = settings.ScopeServer, m.GuildID
		args = args[1:]
		if len(args) == 0 {
			return "Usage: " + b.cfg.BotPrefix + "settings server set <field> <value>", nil
		}
	}

	switch args[0] {
	case "set":
		if len(args) < 3 {
			return "Usage: " + b.cfg.BotPrefix + "settings set <field> <value>", nil
		}
		if err := b.engine.ApplySetting(scope, id, args[1], strings.Join(args[2:], " ")); err != nil {
			return "", err
		}
		return fmt.Sprintf("Set %s. ⚙️", args[1]), nil
	case "reset":
		field := ""
		if len(args) > 1 {
			field = args[1]
		}
		if err := b.engine.ResetSetting(scope, id, field); err != nil {
			return "", err
		}
		return "Settings reset.", nil
	}
	return "Fields: " + strings.Join(settings.Fields(), ", "), nil
}

func canManageServer(s *discordgo.Session, m *discordgo.MessageCreate) bool {
	perms, err := s.UserChannelPermissions(m.Author.ID, m.ChannelID)
	return err == nil && perms&discordgo.PermissionManageServer != 0
}

func (b *Bot) cmdMemory(key session.Key) string {
	conv, ok := b.engine.Current(key)
	if !ok {
		return "I don't remember anything here yet."
	}
	title := conv.Title
	if title == "" {
		title = "(untitled)"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "**%s**\n", title)
	fmt.Fprintf(&sb, "Mood: %s %s | Personality: %s %s | Energy: %s\n",
		mood.Emoji(conv.Mood), conv.Mood,
		mood.PersonalityEmoji(conv.Personality), mood.PersonalityName(conv.Personality),
		mood.EnergyIndicator(conv.Energy))
	fmt.Fprintf(&sb, "Turns remembered: %d\n", len(conv.History))
	if len(conv.Tags) > 0 {
		fmt.Fprintf(&sb, "Tags: %s\n", strings.Join(conv.Tags, ", "))
	}
	if conv.Archived {
		sb.WriteString("Archived 📦\n")
	}
	fmt.Fprintf(&sb, "Forgets after: %s",
		util.FormatDateTpl(conv.ExpiresAt, "YYYY-MM-DD hh:mm"))
	return sb.String()
}

// cmdPreview DMs the caller a transcript excerpt of the current channel's
// conversation, when their settings allow it.
func (b *Bot) cmdPreview(s *discordgo.Session, m *discordgo.MessageCreate, key session.Key) (string, error) {
	eff := b.engine.EffectiveSettings(m.Author.ID, m.GuildID)
	if !eff.DMPreview {
		return "Conversation previews are disabled in your settings.", nil
	}
	conv, ok := b.engine.Current(key)
	if !ok || len(conv.History) == 0 {
		return "Nothing to preview here.", nil
	}

	start := len(conv.History) - 6
	if start < 0 {
		start = 0
	}
	var sb strings.Builder
	sb.WriteString("Recent conversation:\n")
	for _, t := range conv.History[start:] {
		who := t.AuthorName
		if who == "" {
			who = t.Role
		}
		fmt.Fprintf(&sb, "> **%s**: %s\n", who, truncateLog(t.Content, 150))
	}

	dm, err := s.UserChannelCreate(m.Author.ID)
	if err != nil {
		return "", err
	}
	b.send(s, dm.ID, sb.String())
	if m.GuildID != "" {
		return "Sent you a DM. 📨", nil
	}
	return "", nil
}

func (b *Bot) cmdStatus() string {
	stats := b.engine.Stats()
	return fmt.Sprintf("Handled %d, rejected %d, failures %d.\n%s",
		stats.Handled, stats.Rejected, stats.Failures, b.engine.JobStatus())
}

func (b *Bot) helpText() string {
	p := b.cfg.BotPrefix
	return strings.Join([]string{
		"**Conversation commands**",
		p + "title <text> — name this conversation",
		p + "tag [add|remove] <tags> — manage tags",
		p + "archive / " + p + "unarchive — mute or unmute ambient replies",
		p + "clear — forget the transcript, keep title and tags",
		p + "forget — delete this conversation entirely",
		p + "convos [all] — list your conversations",
		p + "memory — what I remember here",
		p + "preview — DM yourself a transcript excerpt",
		p + "settings — show and change settings",
		p + "status — response counters and background jobs",
	}, "\n")
}

// friendlyError maps state errors to chat messages; unknown errors return
// "" so the caller logs them instead.
func friendlyError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, session.ErrNotFound):
		return "There's no conversation here yet. Say something first!"
	case errors.Is(err, session.ErrLimitExceeded):
		return "That would exceed the tag limit for this conversation."
	case errors.Is(err, settings.ErrUnknownSetting):
		return "Unknown setting. Fields: " + strings.Join(settings.Fields(), ", ")
	case errors.Is(err, settings.ErrInvalidValue):
		return err.Error()
	}
	return ""
}
