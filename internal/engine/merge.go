package engine

import (
	"slices"
	"strings"
	"time"

	"lizi/internal/model"
)

func NewAlert(id string, review model.Review, now time.Time) model.Alert {
	var label string
	if len(review.Objects) > 0 {
		label = review.Objects[0]
	}
	var confidence float64
	if len(review.Metadata.Detections) > 0 {
		confidence = review.Metadata.Detections[0].Score
	}
	category := model.CategorizationOf(review.IsAlert)
	reason := review.Reason
	if reason == "" {
		reason = titleCase(string(category)) + " detected"
	}
	return model.Alert{
		ID:                    id,
		EventID:               review.ReviewID,
		Camera:                review.Camera,
		Label:                 label,
		Zones:                 slices.Clone(review.Zones),
		Reason:                reason,
		Confidence:            confidence,
		FrigateCategorization: category,
		FullReviewPayload:     review,
		UpdateCount:           0,
		CreatedAt:             now,
		Triggered:             false,
	}
}

func MergeReview(alert model.Alert, review model.Review, now time.Time) model.Alert {
	out := alert
	out.UpdateCount = alert.UpdateCount + 1
	updated := now
	out.UpdatedAt = &updated
	out.FullReviewPayload = review
	out.LatestReviewType = review.ReviewType
	if !review.CreatedAt.IsZero() {
		ts := review.CreatedAt
		out.LatestReviewTimestamp = &ts
	}
	if review.ReviewType == model.ReviewEnd && alert.EndedAt == nil {
		ended := now
		out.EndedAt = &ended
	}
	if len(review.Objects) > 0 {
		out.AdditionalObjects = append(slices.Clone(alert.AdditionalObjects), review.Objects...)
	}
	if len(review.Zones) > 0 {
		out.AdditionalZones = append(slices.Clone(alert.AdditionalZones), review.Zones...)
	}
	return out
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
