// Package markup renders Telegram MarkdownV2 fragments and human-readable
// language summaries for bot replies and notification captions.
package markup

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// markdownV2Specials is the full set of characters Telegram requires to be
// backslash-escaped outside of code entities.
const markdownV2Specials = "_*[]()~`>#+-=|{}.!"

// EscapeMarkdownV2 escapes text for safe interpolation into a MarkdownV2
// message body.
func EscapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r < 128 && strings.ContainsRune(markdownV2Specials, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Bold wraps text in a MarkdownV2 bold entity, escaping the content.
func Bold(text string) string {
	return "*" + EscapeMarkdownV2(text) + "*"
}

// Code wraps text in an inline code entity. Backslashes and backticks are
// the only characters escaped inside code spans.
func Code(text string) string {
	r := strings.NewReplacer("\\", "\\\\", "`", "\\`")
	return "`" + r.Replace(text) + "`"
}

// LanguageNames turns ISO language codes (two or three letter) into English
// display names, keeping input order and dropping codes that cannot be
// parsed as well as duplicate names. Unknown but parseable codes fall back
// to the raw code.
func LanguageNames(codes []string) []string {
	namer := display.English.Languages()
	out := make([]string, 0, len(codes))
	seen := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		tag, err := language.Parse(code)
		if err != nil {
			continue
		}
		name := namer.Name(tag)
		if name == "" {
			name = code
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// LanguageSummary renders codes as a comma-separated display list, or ""
// when nothing could be resolved.
func LanguageSummary(codes []string) string {
	return strings.Join(LanguageNames(codes), ", ")
}
