package engine

import (
	"fmt"
	"time"

	"lizi/internal/model"
)

const (
	CriterionCategorization = "frigate_categorization"
	CriterionZones          = "zones"
	CriterionMedia          = "media"
)

const noMediaDetail = "No snapshot or clip URL found"

// Missing media is the only rejection criterion.
func Evaluate(review model.Review) (bool, model.Reasoning) {
	reasoning := model.Reasoning{
		Details: map[string]any{},
	}

	reasoning.FrigateCategorization = model.CategorizationOf(review.IsAlert)
	reasoning.CriteriaChecked = append(reasoning.CriteriaChecked, CriterionCategorization)

	reasoning.CriteriaChecked = append(reasoning.CriteriaChecked, CriterionZones)
	if len(review.Zones) > 0 {
		reasoning.Details["zones"] = fmt.Sprintf("Found %d zones: %v", len(review.Zones), review.Zones)
	} else {
		reasoning.Details["zones"] = "No zones detected"
	}

	reasoning.CriteriaChecked = append(reasoning.CriteriaChecked, CriterionMedia)
	if !review.HasMedia() {
		reasoning.Decision = false
		reasoning.Details["media"] = noMediaDetail
		return false, reasoning
	}
	reasoning.Details["media"] = map[string]any{
		"snapshot_url": nullable(review.SnapshotURL),
		"clip_url":     nullable(review.ClipURL),
	}

	reasoning.Decision = true
	reasoning.Details["summary"] = fmt.Sprintf("Storing %s for evaluation", reasoning.FrigateCategorization)
	return true, reasoning
}

func stamp(reasoning *model.Reasoning, review model.Review, now time.Time) {
	reasoning.ProcessedAt = now
	reasoning.ReviewID = review.ReviewID
	reasoning.Camera = review.Camera
	reasoning.ReviewType = review.ReviewType
}

func FailureReasoning(review model.Review, err error, now time.Time) model.Reasoning {
	r := model.Reasoning{Decision: false, Error: err.Error()}
	stamp(&r, review, now)
	return r
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
