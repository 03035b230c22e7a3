package channels

import (
	"strings"
	"unicode/utf8"
)

// Platform message size limits, in characters.
const (
	TelegramMaxMessageLength = 4096
	DiscordMaxMessageLength  = 2000
)

// SplitMessage breaks text into parts of at most limit characters,
// preferring line breaks, then spaces, and cutting hard only inside very
// long words. A limit <= 0 disables splitting. Blank text yields no parts.
func SplitMessage(text string, limit int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var parts []string
	runes := []rune(text)
	for len(runes) > 0 {
		if len(runes) <= limit {
			parts = append(parts, string(runes))
			break
		}

		window := runes[:limit]
		cut := lastIndex(window, '\n')
		if cut < limit/2 {
			cut = lastIndex(window, ' ')
		}
		if cut < limit/2 {
			cut = limit
		}

		if part := strings.TrimRight(string(runes[:cut]), " \n"); part != "" {
			parts = append(parts, part)
		}
		runes = runes[cut:]
		for len(runes) > 0 && (runes[0] == '\n' || runes[0] == ' ') {
			runes = runes[1:]
		}
	}
	return parts
}

func lastIndex(rs []rune, r rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if rs[i] == r {
			return i
		}
	}
	return -1
}
