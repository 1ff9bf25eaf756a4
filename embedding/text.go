package embedding

import (
	"strings"
	"unicode/utf8"

	"github.com/poiesic/contentpulse/core"
)

const ellipsis = "..."

// Text returns the string embedded for item: the title and body separated by
// a blank line, cut to at most maxChars runes on a word boundary.
func Text(item *core.ContentItem, maxChars int) string {
	title := strings.TrimSpace(item.Title)
	body := strings.TrimSpace(item.Text)

	text := body
	if title != "" && body != "" {
		text = title + "\n\n" + body
	} else if title != "" {
		text = title
	}
	return truncate(text, maxChars)
}

// truncate cuts s to at most max runes including the ellipsis, backing up to
// the last space when one is available.
func truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	if max <= len(ellipsis) {
		return string([]rune(s)[:max])
	}

	cut := string([]rune(s)[:max-len(ellipsis)])
	if i := strings.LastIndexAny(cut, " \n\t"); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " \n\t") + ellipsis
}
