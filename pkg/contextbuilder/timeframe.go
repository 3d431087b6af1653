package contextbuilder

import (
	"strings"
	"time"
)

// DateRange is a half-open recall window extracted from the user's message.
type DateRange struct {
	From time.Time
	To   time.Time
}

// DetectDateRange recognizes relative Turkish date expressions and maps them
// to a concrete window. Returns false when the message carries no temporal
// phrase; retrieval then stays confidence-ranked.
func DetectDateRange(message string, now time.Time) (DateRange, bool) {
	lower := strings.ToLower(strings.TrimSpace(message))

	switch {
	case strings.Contains(lower, "dün"):
		start := startOfDay(now.AddDate(0, 0, -1))
		return DateRange{From: start, To: start.AddDate(0, 0, 1)}, true
	case strings.Contains(lower, "bugün"):
		start := startOfDay(now)
		return DateRange{From: start, To: start.AddDate(0, 0, 1)}, true
	case strings.Contains(lower, "geçen hafta"):
		return DateRange{From: startOfDay(now.AddDate(0, 0, -14)), To: startOfDay(now.AddDate(0, 0, -7)).AddDate(0, 0, 1)}, true
	case strings.Contains(lower, "bu hafta"):
		return DateRange{From: startOfDay(now.AddDate(0, 0, -7)), To: now}, true
	case strings.Contains(lower, "geçen ay"):
		return DateRange{From: startOfDay(now.AddDate(0, -2, 0)), To: startOfDay(now.AddDate(0, -1, 0)).AddDate(0, 0, 1)}, true
	}
	return DateRange{}, false
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
