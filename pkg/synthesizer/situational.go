package synthesizer

import (
	"strings"
	"time"

	"github.com/atlas-agent/atlas/pkg/catalog"
	"github.com/atlas-agent/atlas/pkg/models"
)

// moodContinuityWindow bounds how old a stored mood may be to still color
// the opening of a new session.
const moodContinuityWindow = 3 * 24 * time.Hour

// MoodTired and MoodElated are the two states the mirroring heuristic tracks.
const (
	MoodTired  = "yorgun"
	MoodElated = "coskulu"
)

var tiredTokens = map[string]bool{
	"YORGUNUM": true, "YORGUN": true, "BITKINIM": true, "TUKENDIM": true,
	"YORULDUM": true, "BUNALDIM": true, "STRESLIYIM": true, "UYKUSUZUM": true,
}

var elatedTokens = map[string]bool{
	"HARIKA": true, "MUKEMMEL": true, "MUTLUYUM": true, "SEVINIYORUM": true,
	"MUHTESEM": true, "SUPERIM": true, "HEYECANLIYIM": true,
}

// DetectMood scans a user message for fatigue or elation signals. Returns
// the mood label or empty when neutral.
func DetectMood(message string) string {
	for _, token := range strings.Split(catalog.Normalize(message), "_") {
		if tiredTokens[token] {
			return MoodTired
		}
		if elatedTokens[token] {
			return MoodElated
		}
	}
	return ""
}

// situationalInstructions builds the per-request steering block: mirroring,
// conflict resolution, topic transition, and cross-session mood continuity.
func situationalInstructions(in Input, currentMood string, priorMood *models.Mood, now time.Time) string {
	var lines []string

	switch currentMood {
	case MoodTired:
		lines = append(lines, "Kullanıcı yorgun görünüyor; yumuşak ve kısa tut, enerji isteyen öneriler yapma.")
	case MoodElated:
		lines = append(lines, "Kullanıcı keyifli görünüyor; bu enerjiye eşlik et.")
	}

	if in.Req.HasConflicts {
		lines = append(lines, "Bağlamda çelişen bilgiler işaretli. Emin olmadığını belli et ve hangisinin güncel olduğunu nazikçe sor.")
	}

	if in.TopicChanged {
		lines = append(lines, "Konu değişti; yeni konuya doğal bir geçiş cümlesiyle başla.")
	}

	// A fresh session within the continuity window opens with a nod to how
	// the last conversation ended.
	if in.TurnCount == 0 && priorMood != nil && now.Sub(priorMood.DetectedAt) <= moodContinuityWindow {
		switch priorMood.Label {
		case MoodTired:
			lines = append(lines, "Geçen konuşmada kullanıcı yorgundu; söze hatırını sorarak başla.")
		case MoodElated:
			lines = append(lines, "Geçen konuşma neşeli bitmişti; o havayı sürdürerek başla.")
		}
	}

	if len(lines) == 0 {
		return ""
	}
	return "Duruma özel yönergeler:\n- " + strings.Join(lines, "\n- ")
}
