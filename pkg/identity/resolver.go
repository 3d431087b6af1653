// Package identity maps first-person references onto the per-user anchor
// entity and filters triples that talk about someone other than the user.
package identity

import (
	"github.com/atlas-agent/atlas/pkg/catalog"
	"github.com/atlas-agent/atlas/pkg/models"
)

// firstPerson tokens resolve to the user anchor. Possessive-suffixed
// self-references (ADIM "my name", YASIM "my age") count as first person
// because extractors occasionally emit them as subjects.
var firstPerson = map[string]bool{
	"BEN":       true,
	"BENIM":     true,
	"BANA":      true,
	"BENI":      true,
	"KENDIM":    true,
	"KENDIMI":   true,
	"ADIM":      true,
	"ISMIM":     true,
	"YASIM":     true,
	"HAYATIM":   true,
	"AILEM":     true,
	"USER":      true,
	"KULLANICI": true,
}

// otherPerson tokens refer to the assistant or third parties; a triple with
// one of these at either endpoint is not a durable fact about the user.
var otherPerson = map[string]bool{
	"SEN":     true,
	"SENI":    true,
	"SANA":    true,
	"SENIN":   true,
	"SIZ":     true,
	"SIZI":    true,
	"O":       true,
	"ONA":     true,
	"ONU":     true,
	"ONUN":    true,
	"ONLAR":   true,
	"BIZ":     true,
	"BIZIM":   true,
	"ASISTAN": true,
	"BOT":     true,
}

// Resolution is the outcome of resolving one endpoint.
type Resolution int

// Resolution outcomes.
const (
	// ResolveKeep leaves the endpoint unchanged.
	ResolveKeep Resolution = iota
	// ResolveAnchor rewrites the endpoint to the user anchor.
	ResolveAnchor
	// ResolveDrop discards the whole triple.
	ResolveDrop
)

// Resolver classifies endpoint tokens for one user.
type Resolver struct {
	userID string
}

// NewResolver creates a resolver bound to a user.
func NewResolver(userID string) *Resolver {
	return &Resolver{userID: userID}
}

// Anchor returns the canonical anchor entity name for the bound user.
func (r *Resolver) Anchor() string {
	return models.AnchorName(r.userID)
}

// ResolveSubject classifies a triple subject. First-person forms map to the
// anchor; second/third-person pronouns drop the triple.
func (r *Resolver) ResolveSubject(subject string) (string, Resolution) {
	norm := catalog.Normalize(subject)
	switch {
	case norm == "":
		return "", ResolveDrop
	case firstPerson[norm], models.IsAnchor(subject):
		return r.Anchor(), ResolveAnchor
	case otherPerson[norm]:
		return "", ResolveDrop
	default:
		return subject, ResolveKeep
	}
}

// ResolveObject classifies a triple object. Objects never remap to the
// anchor (a fact's object naming the user adds nothing); pronoun objects
// drop the triple.
func (r *Resolver) ResolveObject(object string) (string, Resolution) {
	norm := catalog.Normalize(object)
	if otherPerson[norm] {
		return "", ResolveDrop
	}
	return object, ResolveKeep
}

// IsFirstPerson reports whether the token is a first-person form.
func IsFirstPerson(token string) bool {
	return firstPerson[catalog.Normalize(token)]
}
