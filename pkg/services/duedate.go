package services

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/atlas-agent/atlas/pkg/catalog"
)

var relativeDueRe = regexp.MustCompile(`(\d+)\s*(dakika|saat|gün)\s*sonra`)

// ParseDueDate extracts a due time from free Turkish text. Returns nil when
// no temporal phrase is recognized; the task then stays undated and the
// observer job nudges the user about it later.
func ParseDueDate(text string, now time.Time) (*time.Time, string) {
	lower := strings.ToLower(text)

	if m := relativeDueRe.FindStringSubmatch(lower); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil && n > 0 {
			var d time.Duration
			switch m[2] {
			case "dakika":
				d = time.Duration(n) * time.Minute
			case "saat":
				d = time.Duration(n) * time.Hour
			case "gün":
				d = time.Duration(n) * 24 * time.Hour
			}
			due := now.Add(d)
			return &due, m[0]
		}
	}

	switch {
	case strings.Contains(lower, "yarın sabah"):
		due := nextDayAt(now, 1, 9)
		return &due, "yarın sabah"
	case strings.Contains(lower, "yarın akşam"):
		due := nextDayAt(now, 1, 19)
		return &due, "yarın akşam"
	case strings.Contains(lower, "yarın"):
		due := nextDayAt(now, 1, 9)
		return &due, "yarın"
	case strings.Contains(lower, "haftaya"):
		due := nextDayAt(now, 7, 9)
		return &due, "haftaya"
	case strings.Contains(lower, "akşam"):
		due := nextDayAt(now, 0, 19)
		if due.Before(now) {
			due = nextDayAt(now, 1, 19)
		}
		return &due, "akşam"
	}
	return nil, ""
}

func nextDayAt(now time.Time, days, hour int) time.Time {
	d := now.AddDate(0, 0, days)
	return time.Date(d.Year(), d.Month(), d.Day(), hour, 0, 0, 0, now.Location())
}

// hasReminderIntent reports whether the raw message asks for a reminder.
// Checked even in memory-off mode: an explicit reminder request is not
// ambient profiling.
func hasReminderIntent(message string) bool {
	for _, token := range strings.Split(catalog.Normalize(message), "_") {
		if strings.HasPrefix(token, "HATIRLAT") {
			return true
		}
	}
	return false
}
