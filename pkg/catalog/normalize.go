package catalog

import "strings"

// turkishFold maps Turkish letters (both cases) to their ASCII uppercase
// equivalents. Applied before the charset filter so "YAŞI" and "yaşı"
// normalize to the same key.
var turkishFold = map[rune]rune{
	'ç': 'C', 'Ç': 'C',
	'ğ': 'G', 'Ğ': 'G',
	'ı': 'I', 'I': 'I',
	'i': 'I', 'İ': 'I',
	'ö': 'O', 'Ö': 'O',
	'ş': 'S', 'Ş': 'S',
	'ü': 'U', 'Ü': 'U',
}

// Normalize canonicalizes a predicate string for catalog lookup: trim,
// uppercase, spaces to underscores, Turkish diacritics folded to ASCII,
// charset restricted to [A-Z0-9_], repeated underscores collapsed.
func Normalize(predicate string) string {
	s := strings.TrimSpace(predicate)
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if folded, ok := turkishFold[r]; ok {
			b.WriteRune(folded)
			continue
		}
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '\t' || r == '-' || r == '_':
			b.WriteRune('_')
		default:
			// Outside the allowed charset: dropped.
		}
	}

	out := b.String()
	for strings.Contains(out, "__") {
		out = strings.ReplaceAll(out, "__", "_")
	}
	return strings.Trim(out, "_")
}
