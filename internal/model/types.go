package model

import "time"

type ReviewType string

const (
	ReviewNew    ReviewType = "new"
	ReviewUpdate ReviewType = "update"
	ReviewEnd    ReviewType = "end"
)

func (t ReviewType) Valid() bool {
	switch t {
	case ReviewNew, ReviewUpdate, ReviewEnd:
		return true
	}
	return false
}

type ReviewStatus string

const (
	StatusWaiting ReviewStatus = "waiting"
	StatusYes     ReviewStatus = "yes"
	StatusNo      ReviewStatus = "no"
)

type Categorization string

const (
	CategoryAlert     Categorization = "alert"
	CategoryDetection Categorization = "detection"
)

func CategorizationOf(isAlert bool) Categorization {
	if isAlert {
		return CategoryAlert
	}
	return CategoryDetection
}

type Detection struct {
	Score float64 `json:"score"`
}

type ReviewMetadata struct {
	Detections []Detection `json:"detections"`
	Severity   string      `json:"severity,omitempty"`
	SubLabels  []string    `json:"sub_labels,omitempty"`
}

type Review struct {
	// ID is the source row key; one review_id spans several rows.
	ID          int64          `json:"id,omitempty"`
	ReviewID    string         `json:"review_id"`
	Camera      string         `json:"camera"`
	ReviewType  ReviewType     `json:"review_type"`
	Status      ReviewStatus   `json:"status"`
	Objects     []string       `json:"objects"`
	Zones       []string       `json:"zones"`
	IsAlert     bool           `json:"is_alert"`
	SnapshotURL string         `json:"snapshot_url,omitempty"`
	ClipURL     string         `json:"clip_url,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	Metadata    ReviewMetadata `json:"metadata"`
	CreatedAt   time.Time      `json:"created_at"`
}

func (r Review) HasMedia() bool {
	return r.SnapshotURL != "" || r.ClipURL != ""
}

type Alert struct {
	ID                    string         `json:"id"`
	EventID               string         `json:"event_id"`
	Camera                string         `json:"camera"`
	Label                 string         `json:"label,omitempty"`
	Zones                 []string       `json:"zones"`
	Reason                string         `json:"reason"`
	Confidence            float64        `json:"confidence"`
	FrigateCategorization Categorization `json:"frigate_categorization"`
	FullReviewPayload     Review         `json:"full_review_payload"`
	UpdateCount           int            `json:"update_count"`
	AdditionalObjects     []string       `json:"additional_objects,omitempty"`
	AdditionalZones       []string       `json:"additional_zones,omitempty"`
	LatestReviewType      ReviewType     `json:"latest_review_type,omitempty"`
	LatestReviewTimestamp *time.Time     `json:"latest_review_timestamp,omitempty"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             *time.Time     `json:"updated_at,omitempty"`
	EndedAt               *time.Time     `json:"ended_at,omitempty"`
	Triggered             bool           `json:"triggered"`
}

type Reasoning struct {
	Decision              bool           `json:"decision"`
	FrigateCategorization Categorization `json:"frigate_categorization,omitempty"`
	CriteriaChecked       []string       `json:"criteria_checked,omitempty"`
	Details               map[string]any `json:"details,omitempty"`
	Message               string         `json:"message,omitempty"`
	Error                 string         `json:"error,omitempty"`
	AlertCreated          *bool          `json:"alert_created,omitempty"`
	AlertID               string         `json:"alert_id,omitempty"`
	ProcessedAt           time.Time      `json:"processed_at"`
	ReviewID              string         `json:"review_id,omitempty"`
	Camera                string         `json:"camera,omitempty"`
	ReviewType            ReviewType     `json:"review_type,omitempty"`
}

type Action string

const (
	ActionCreated  Action = "created"
	ActionMerged   Action = "merged"
	ActionRejected Action = "rejected"
	ActionFailed   Action = "failed"
)

type Outcome struct {
	ReviewID  string       `json:"review_id"`
	Action    Action       `json:"action"`
	Status    ReviewStatus `json:"status"`
	Alert     *Alert       `json:"alert,omitempty"`
	Reasoning Reasoning    `json:"reasoning"`
	Err       error        `json:"-"`
}

func (o Outcome) Failed() bool {
	return o.Err != nil
}
