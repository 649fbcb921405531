package telegram

import "strings"

// markdownV2Special is every character Telegram requires escaped in MarkdownV2 text.
const markdownV2Special = "_*[]()~`>#+-=|{}.!"

// EscapeMarkdown prefixes each MarkdownV2 special character with a backslash.
func EscapeMarkdown(s string) string {
	if !strings.ContainsAny(s, markdownV2Special) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for _, r := range s {
		if strings.ContainsRune(markdownV2Special, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// EscapeLinkURL escapes the characters MarkdownV2 reserves inside the (...) part
// of an inline link.
func EscapeLinkURL(u string) string {
	if !strings.ContainsAny(u, `)\`) {
		return u
	}
	return strings.NewReplacer(`\`, `\\`, `)`, `\)`).Replace(u)
}
