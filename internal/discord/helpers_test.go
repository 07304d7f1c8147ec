package discord

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"gembot/internal/session"
	"gembot/internal/settings"
)

func TestSplitMessageRespectsLimit(t *testing.T) {
	var lines []string
	for i := 0; i < 120; i++ {
		lines = append(lines, fmt.Sprintf("line %d with some padding text", i))
	}
	msg := strings.Join(lines, "\n")

	chunks := splitMessage(msg, 2000)
	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		require.LessOrEqual(t, len(chunk), 2000)
		require.NotEmpty(t, chunk)
	}
	require.Equal(t, strings.ReplaceAll(msg, "\n", ""), strings.ReplaceAll(strings.Join(chunks, ""), "\n", ""))
}

func TestSplitMessageShortPassthrough(t *testing.T) {
	require.Equal(t, []string{"hi"}, splitMessage("hi", 2000))
	require.Empty(t, splitMessage("", 2000))
}

func TestSplitMessageHardCutWithoutNewlines(t *testing.T) {
	msg := strings.Repeat("x", 4500)
	chunks := splitMessage(msg, 2000)
	require.Len(t, chunks, 3)
	for _, chunk := range chunks {
		require.LessOrEqual(t, len(chunk), 2000)
	}
}

func TestSplitTags(t *testing.T) {
	require.Equal(t, []string{"go", "help", "urgent"}, splitTags([]string{"go,help", "urgent"}))
	require.Equal(t, []string{"one"}, splitTags([]string{" one ,  "}))
	require.Nil(t, splitTags(nil))
}

func TestFriendlyError(t *testing.T) {
	require.Contains(t, friendlyError(session.ErrNotFound), "no conversation")
	require.Contains(t, friendlyError(session.ErrLimitExceeded), "tag limit")
	require.Contains(t, friendlyError(settings.ErrUnknownSetting), "Unknown setting")
	require.Empty(t, friendlyError(fmt.Errorf("disk on fire")))
}
