package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"lizi/internal/model"
)

var ErrInvalidReview = errors.New("invalid review")

func Validate(r model.Review) error {
	if strings.TrimSpace(r.ReviewID) == "" {
		return fmt.Errorf("%w: missing review_id", ErrInvalidReview)
	}
	if !r.ReviewType.Valid() {
		return fmt.Errorf("%w: unknown review_type %q", ErrInvalidReview, r.ReviewType)
	}
	return nil
}

func validateMessage(r model.Review) error {
	if err := Validate(r); err != nil {
		return err
	}
	if strings.TrimSpace(r.Camera) == "" {
		return fmt.Errorf("%w: missing camera", ErrInvalidReview)
	}
	return nil
}

type ReviewMessage struct {
	Type   string         `json:"type"`
	Before *ReviewSegment `json:"before"`
	After  *ReviewSegment `json:"after"`
}

type ReviewSegment struct {
	ID          string      `json:"id"`
	Camera      string      `json:"camera"`
	StartTime   float64     `json:"start_time"`
	EndTime     *float64    `json:"end_time"`
	Severity    string      `json:"severity"`
	ThumbPath   string      `json:"thumb_path"`
	SnapshotURL string      `json:"snapshot_url"`
	ClipPath    string      `json:"clip_path"`
	ClipURL     string      `json:"clip_url"`
	Data        SegmentData `json:"data"`
}

type SegmentData struct {
	Detections []json.RawMessage `json:"detections"`
	Objects    []string          `json:"objects"`
	SubLabels  []string          `json:"sub_labels"`
	Zones      []string          `json:"zones"`
}

func ParseReviewMessage(data []byte, receivedAt time.Time) (model.Review, error) {
	var msg ReviewMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return model.Review{}, fmt.Errorf("%w: %v", ErrInvalidReview, err)
	}
	return FromMessage(msg, receivedAt)
}

func FromMessage(msg ReviewMessage, receivedAt time.Time) (model.Review, error) {
	after, before := msg.After, msg.Before
	if after == nil {
		after = &ReviewSegment{}
	}
	if before == nil {
		before = &ReviewSegment{}
	}
	r := model.Review{
		ReviewID:    firstNonEmpty(after.ID, before.ID),
		Camera:      firstNonEmpty(after.Camera, before.Camera),
		ReviewType:  ParseReviewType(msg.Type),
		Status:      model.StatusWaiting,
		Objects:     firstNonEmptySlice(after.Data.Objects, before.Data.Objects),
		Zones:       firstNonEmptySlice(after.Data.Zones, before.Data.Zones),
		SnapshotURL: firstNonEmpty(after.ThumbPath, before.ThumbPath, after.SnapshotURL, before.SnapshotURL),
		ClipURL:     firstNonEmpty(after.ClipPath, before.ClipPath, after.ClipURL, before.ClipURL),
		IsAlert:     after.Severity == "alert" || before.Severity == "alert",
		Metadata: model.ReviewMetadata{
			Severity:   firstNonEmpty(after.Severity, before.Severity),
			SubLabels:  firstNonEmptySlice(after.Data.SubLabels, before.Data.SubLabels),
			Detections: parseDetections(after.Data.Detections, before.Data.Detections),
		},
		CreatedAt: receivedAt,
	}
	if err := validateMessage(r); err != nil {
		return model.Review{}, err
	}
	return r, nil
}

func ParseReviewType(s string) model.ReviewType {
	return model.ReviewType(strings.ToLower(strings.TrimSpace(s)))
}

func parseDetections(lists ...[]json.RawMessage) []model.Detection {
	for _, list := range lists {
		if len(list) == 0 {
			continue
		}
		out := make([]model.Detection, 0, len(list))
		for _, raw := range list {
			var obj struct {
				Score json.RawMessage `json:"score"`
			}
			if err := json.Unmarshal(raw, &obj); err != nil {
				out = append(out, model.Detection{})
				continue
			}
			out = append(out, model.Detection{Score: parseScore(obj.Score)})
		}
		return out
	}
	return nil
}

func parseScore(raw json.RawMessage) float64 {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func firstNonEmptySlice(values ...[]string) []string {
	for _, v := range values {
		if len(v) > 0 {
			return v
		}
	}
	return []string{}
}
