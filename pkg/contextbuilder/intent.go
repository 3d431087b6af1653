package contextbuilder

import (
	"strings"

	"github.com/atlas-agent/atlas/pkg/catalog"
	"github.com/atlas-agent/atlas/pkg/models"
)

// Keyword groups for the heuristic intent classifier. Matching runs over the
// diacritic-folded message so users typing without Turkish characters
// classify the same.
var (
	personalKeywords = []string{
		"BEN", "BENIM", "BANA", "ADIM", "ISMIM", "YASIM", "HAKKIMDA",
		"HATIRLIYOR", "BILIYOR", "KIMIM", "NEREDE_YASIYORUM", "NEYI_SEVERIM",
	}
	taskKeywords = []string{
		"YAP", "OLUSTUR", "YAZ", "HESAPLA", "LISTELE", "PLANLA", "HATIRLAT",
		"ARA", "BUL", "COZ", "OZETLE", "CEVIR",
	}
	followUpKeywords = []string{
		"PEKI", "DEVAM", "BASKA", "ONDAN", "SONRA", "BUNU", "SUNU", "O_ZAMAN",
	}
)

// followUpPronouns open a message that leans on the previous exchange.
var followUpPronouns = map[string]bool{
	"O": true, "BU": true, "SU": true, "ONU": true, "BUNU": true, "SUNU": true,
	"ORADA": true, "ORAYA": true, "ONDAN": true, "PEKI": true,
}

// ClassifyIntent buckets the message with keyword heuristics. A message that
// both references the user and asks for work is MIXED. Short pronoun-led
// messages with history are FOLLOWUP.
func ClassifyIntent(message string, hasHistory bool) string {
	folded := catalog.Normalize(message)
	words := strings.Split(folded, "_")

	if hasHistory && len(words) > 0 && followUpPronouns[words[0]] && len(words) <= 6 {
		return models.IntentFollowup
	}

	personal := containsAny(folded, personalKeywords)
	task := containsAny(folded, taskKeywords)
	followUp := hasHistory && containsAny(folded, followUpKeywords)

	switch {
	case personal && task:
		return models.IntentMixed
	case personal:
		return models.IntentPersonal
	case task:
		return models.IntentTask
	case followUp:
		return models.IntentFollowup
	default:
		return models.IntentGeneral
	}
}

// containsAny matches keywords against word boundaries, allowing suffixed
// forms (HATIRLAT matches HATIRLATIR).
func containsAny(folded string, keywords []string) bool {
	words := strings.Split(folded, "_")
	for _, kw := range keywords {
		kwWords := strings.Split(kw, "_")
		for i := 0; i+len(kwWords) <= len(words); i++ {
			match := true
			for j, kwWord := range kwWords {
				word := words[i+j]
				last := j == len(kwWords)-1
				// Suffix tolerance only for stems long enough to be
				// unambiguous.
				if word == kwWord || (last && len(kwWord) >= 4 && strings.HasPrefix(word, kwWord)) {
					continue
				}
				match = false
				break
			}
			if match {
				return true
			}
		}
	}
	return false
}
