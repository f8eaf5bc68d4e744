package annotation

import (
	"errors"
	"time"
)

// Type classifies what an annotated range was.
type Type string

const (
	TypeIncident    Type = "incident"
	TypeMaintenance Type = "maintenance"
	TypeDeployment  Type = "deployment"
	TypeEvent       Type = "event"
	TypeOther       Type = "other"
)

// Indicator is the severity marker of an annotation.
type Indicator string

const (
	IndicatorNone     Indicator = ""
	IndicatorCritical Indicator = "critical"
	IndicatorWarning  Indicator = "warning"
	IndicatorInfo     Indicator = "info"
	IndicatorSuccess  Indicator = "success"
)

// Recommendation is the suggested follow-up.
type Recommendation string

const (
	RecommendationNone        Recommendation = ""
	RecommendationInvestigate Recommendation = "investigate"
	RecommendationMonitor     Recommendation = "monitor"
	RecommendationIgnore      Recommendation = "ignore"
	RecommendationEscalate    Recommendation = "escalate"
)

// Status is the review workflow state.
type Status string

const (
	StatusCreated  Status = "created"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusDeleted  Status = "deleted"
)

var (
	ErrNotFound      = errors.New("annotation not found")
	ErrInvalidRange  = errors.New("startDate must not be after endDate")
	ErrInvalid       = errors.New("invalid annotation")
	ErrDeleted       = errors.New("annotation is deleted")
	ErrInvalidAction = errors.New("invalid actionType: must be 'update' or 'delete'")
	ErrEmptyPayload  = errors.New("payload is required for update")
)

// User identifies who created or changed an annotation.
type User struct {
	Email  string `json:"email" validate:"omitempty,email"`
	UserID string `json:"userId"`
}

// FieldChange is one field of a history entry.
type FieldChange struct {
	Field    string `json:"field"`
	OldValue string `json:"oldValue"`
	NewValue string `json:"newValue"`
}

// HistoryEntry records one mutation.
type HistoryEntry struct {
	ChangedAt time.Time     `json:"changedAt"`
	ChangedBy User          `json:"changedBy"`
	Changes   []FieldChange `json:"changes"`
}

// Annotation marks a time range of one index/filter scope.
//
// Deleted is the authoritative soft-delete flag; Status mirrors it with
// StatusDeleted but otherwise tracks review. Color is derived from
// AnnotationType by the client and never stored.
type Annotation struct {
	ID             string         `json:"id"`
	SourceIndex    string         `json:"sourceIndex"`
	FilterField    string         `json:"filterField"`
	FilterValue    string         `json:"filterValue"`
	StartDate      time.Time      `json:"startDate" validate:"required"`
	EndDate        time.Time      `json:"endDate" validate:"required,gtefield=StartDate"`
	Description    string         `json:"description" validate:"max=4096"`
	AnnotationType Type           `json:"annotationType" validate:"oneof=incident maintenance deployment event other"`
	Indicator      Indicator      `json:"indicator" validate:"omitempty,oneof=critical warning info success"`
	Recommendation Recommendation `json:"recommendation" validate:"omitempty,oneof=investigate monitor ignore escalate"`
	Status         Status         `json:"status" validate:"oneof=created approved rejected deleted"`
	Deleted        bool           `json:"deleted"`
	Color          string         `json:"color,omitempty"`
	CreatedBy      User           `json:"createdBy"`
	CreatedAt      time.Time      `json:"createdAt"`
	History        []HistoryEntry `json:"history"`
	MutationID     string         `json:"mutationId,omitempty"`
}

// Duration is the length of the annotated range.
func (a Annotation) Duration() time.Duration {
	return a.EndDate.Sub(a.StartDate)
}

// Clone returns a deep copy so callers can mutate freely.
func (a Annotation) Clone() Annotation {
	out := a
	if a.History != nil {
		out.History = make([]HistoryEntry, len(a.History))
		for i, h := range a.History {
			out.History[i] = h
			out.History[i].Changes = append([]FieldChange(nil), h.Changes...)
		}
	}
	return out
}

// Patch carries the fields an update may change. Nil fields are untouched.
// History, when set, is the entry to append; otherwise the store derives
// one from the diff.
type Patch struct {
	StartDate      *time.Time      `json:"startDate,omitempty"`
	EndDate        *time.Time      `json:"endDate,omitempty"`
	Description    *string         `json:"description,omitempty"`
	AnnotationType *Type           `json:"annotationType,omitempty"`
	Indicator      *Indicator      `json:"indicator,omitempty"`
	Recommendation *Recommendation `json:"recommendation,omitempty"`
	Status         *Status         `json:"status,omitempty"`
	History        *HistoryEntry   `json:"history,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.StartDate == nil && p.EndDate == nil && p.Description == nil &&
		p.AnnotationType == nil && p.Indicator == nil && p.Recommendation == nil &&
		p.Status == nil
}

// Apply returns a copy of a with the patch merged in. History is not touched.
func (p Patch) Apply(a Annotation) Annotation {
	out := a.Clone()
	if p.StartDate != nil {
		out.StartDate = *p.StartDate
	}
	if p.EndDate != nil {
		out.EndDate = *p.EndDate
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.AnnotationType != nil {
		out.AnnotationType = *p.AnnotationType
	}
	if p.Indicator != nil {
		out.Indicator = *p.Indicator
	}
	if p.Recommendation != nil {
		out.Recommendation = *p.Recommendation
	}
	if p.Status != nil {
		out.Status = *p.Status
		out.Deleted = out.Status == StatusDeleted
	}
	return out
}
