package chat

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultTitle is used for sessions whose conversation cannot yield a title
const DefaultTitle = "New Chat"

const maxTitleLen = 50

// Title derives a session title from the first user message of a conversation.
// Newlines and whitespace runs collapse to single spaces, long titles are
// truncated at 50 characters with an ellipsis, and degenerate results fall
// back to DefaultTitle. Pure function of its input.
func Title(messages []Message) string {
	var first string
	for _, m := range messages {
		if m.Role == RoleUser && strings.TrimSpace(m.Content) != "" {
			first = m.Content
			break
		}
	}
	if first == "" {
		return DefaultTitle
	}

	title := strings.TrimSpace(first)
	title = strings.ReplaceAll(title, "\n", " ")
	title = strings.Join(strings.Fields(title), " ")

	if runes := []rune(title); len(runes) > maxTitleLen {
		title = strings.TrimSpace(string(runes[:maxTitleLen])) + "..."
	}

	if utf8.RuneCountInString(title) < 3 || !hasAlphanumeric(title) {
		return DefaultTitle
	}
	return title
}

func hasAlphanumeric(s string) bool {
	for _, r := range s {
		if r < 128 && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return true
		}
	}
	return false
}
