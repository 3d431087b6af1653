package contextbuilder

import "github.com/atlas-agent/atlas/pkg/models"

// Profile splits the total character budget between the three memory layers.
// Weights sum to 1; the transcript takes what the profile gives it even when
// other layers come up short.
type Profile struct {
	Facts      float64
	Transcript float64
	Episodes   float64
}

// profiles keys budget allocation by intent. A general question barely needs
// the graph; a personal one lives off it.
var profiles = map[string]Profile{
	models.IntentGeneral:  {Facts: 0.00, Transcript: 0.80, Episodes: 0.20},
	models.IntentPersonal: {Facts: 0.50, Transcript: 0.30, Episodes: 0.20},
	models.IntentTask:     {Facts: 0.40, Transcript: 0.35, Episodes: 0.25},
	models.IntentFollowup: {Facts: 0.15, Transcript: 0.60, Episodes: 0.25},
	models.IntentMixed:    {Facts: 0.30, Transcript: 0.40, Episodes: 0.30},
}

// defaultProfile is used when adaptive budgeting is bypassed.
var defaultProfile = Profile{Facts: 0.34, Transcript: 0.33, Episodes: 0.33}

// ProfileFor returns the budget split for an intent.
func ProfileFor(intent string, adaptive bool) Profile {
	if !adaptive {
		return defaultProfile
	}
	if p, ok := profiles[intent]; ok {
		return p
	}
	return profiles[models.IntentGeneral]
}
