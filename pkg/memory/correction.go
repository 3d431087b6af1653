package memory

import (
	"context"
	"fmt"

	"github.com/atlas-agent/atlas/pkg/catalog"
	"github.com/atlas-agent/atlas/pkg/models"
)

// Correct applies an explicit user override: every stored fact for the
// (subject, predicate) pair is retracted, and when a replacement object is
// given it is written back at full confidence with user-correction
// attribution. User statements about their own data always win over
// extraction.
func (e *Engine) Correct(ctx context.Context, userID, turnID, subject, predicateRaw, newObject string, cat *catalog.Catalog) (int64, error) {
	predicate := catalog.Normalize(predicateRaw)
	if entry, ok := cat.Resolve(predicateRaw); ok {
		predicate = entry.Key
	} else if cat.Loaded() {
		return 0, fmt.Errorf("unknown predicate %q", predicateRaw)
	}

	retracted, err := e.store.RetractFacts(ctx, userID, subject, predicate)
	if err != nil {
		return 0, err
	}

	if newObject == "" {
		return retracted, nil
	}

	triple := models.Triple{
		Subject:      subject,
		Predicate:    predicate,
		Object:       newObject,
		Confidence:   1.0,
		Status:       models.FactStatusActive,
		SourceTurnID: turnID,
	}
	if entry, ok := cat.Get(predicate); ok {
		triple.Category = resolveCategory(triple, entry)
	}
	if err := e.store.MergeFact(ctx, userID, triple, models.AttributionUserCorrection, nil); err != nil {
		return retracted, err
	}
	return retracted, nil
}
