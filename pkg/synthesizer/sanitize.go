package synthesizer

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	thoughtBlockRe = regexp.MustCompile(`(?s)<thought>.*?</thought>`)
	debugMarkerRe  = regexp.MustCompile(`(?i)\[(THOUGHT|DEBUG|TRACE|SKOR)[^\]]*\]`)
	multiNewlineRe = regexp.MustCompile(`\n{3,}`)
)

// Sanitize cleans a model response for delivery: internal thought blocks and
// debug markers go, CJK characters the upstream models sometimes leak are
// stripped, and whitespace is normalized.
func Sanitize(s string) string {
	s = thoughtBlockRe.ReplaceAllString(s, "")
	s = debugMarkerRe.ReplaceAllString(s, "")
	s = stripCJK(s)
	s = multiNewlineRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// stripCJK drops Han, Hiragana, Katakana and Hangul runes.
func stripCJK(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
			unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r) {
			return -1
		}
		return r
	}, s)
}
