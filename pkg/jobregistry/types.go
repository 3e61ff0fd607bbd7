package jobregistry

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a bulk creation job.
//
// NOTE: These values are persisted and returned by the API; they are part of
// the stable external contract.
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// Terminal reports whether no further transition may leave s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Stage identifies the creation phase an error was recorded in.
type Stage string

const (
	StageCampaign   Stage = "campaign"
	StageAdSet      Stage = "ad_set"
	StageItem       Stage = "item"
	StageUnexpected Stage = "unexpected"
)

// JobError is one failure recorded against a job.
//
// ItemRef and ItemIndex are only set for item-stage errors.
type JobError struct {
	Stage     Stage  `json:"stage"`
	ItemRef   string `json:"item_ref,omitempty"`
	ItemIndex *int   `json:"item_index,omitempty"`
	Message   string `json:"message"`
}

// String renders the error the way it is shown to users.
func (e JobError) String() string {
	switch e.Stage {
	case StageCampaign:
		return "campaign creation failed: " + e.Message
	case StageAdSet:
		return "ad set creation failed: " + e.Message
	case StageItem:
		if e.ItemIndex != nil {
			return fmt.Sprintf("media %s (item %d) failed: %s", e.ItemRef, *e.ItemIndex+1, e.Message)
		}
		return fmt.Sprintf("media %s failed: %s", e.ItemRef, e.Message)
	case StageUnexpected:
		return "unexpected error: " + e.Message
	default:
		return e.Message
	}
}

// Results holds what a job produced.
type Results struct {
	CampaignID string     `json:"campaign_id,omitempty"`
	AdSetID    string     `json:"ad_set_id,omitempty"`
	AdIDs      []string   `json:"ad_ids"`
	Failures   []JobError `json:"-"`
}

// Errors renders the structured failures to their display strings.
func (r Results) Errors() []string {
	out := make([]string, 0, len(r.Failures))
	for _, f := range r.Failures {
		out = append(out, f.String())
	}
	return out
}

type resultsJSON struct {
	CampaignID string     `json:"campaign_id,omitempty"`
	AdSetID    string     `json:"ad_set_id,omitempty"`
	AdIDs      []string   `json:"ad_ids"`
	Errors     []string   `json:"errors"`
	Failures   []JobError `json:"failures,omitempty"`
}

// MarshalJSON emits both the rendered error strings and the structured
// failure records.
func (r Results) MarshalJSON() ([]byte, error) {
	adIDs := r.AdIDs
	if adIDs == nil {
		adIDs = []string{}
	}
	return json.Marshal(resultsJSON{
		CampaignID: r.CampaignID,
		AdSetID:    r.AdSetID,
		AdIDs:      adIDs,
		Errors:     r.Errors(),
		Failures:   r.Failures,
	})
}

// UnmarshalJSON restores structured failures. Records written without
// structured failures keep their rendered strings as unexpected-stage entries.
func (r *Results) UnmarshalJSON(data []byte) error {
	var raw resultsJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.CampaignID = raw.CampaignID
	r.AdSetID = raw.AdSetID
	r.AdIDs = raw.AdIDs
	r.Failures = raw.Failures
	if len(r.Failures) == 0 && len(raw.Errors) > 0 {
		r.Failures = make([]JobError, 0, len(raw.Errors))
		for _, msg := range raw.Errors {
			r.Failures = append(r.Failures, JobError{Message: msg})
		}
	}
	return nil
}

// JobRecord is the state of one bulk creation request.
//
// The schema is designed for backward-compatible extension (additive fields).
type JobRecord struct {
	JobID        string    `json:"job_id"`
	Status       JobStatus `json:"status"`
	Progress     int       `json:"progress"`
	TemplateID   string    `json:"template_id,omitempty"`
	CampaignName string    `json:"campaign_name,omitempty"`
	AdSetName    string    `json:"ad_set_name,omitempty"`
	TotalItems   int       `json:"total_items"`
	CreatedCount int       `json:"created_count"`
	FailedCount  int       `json:"failed_count"`
	Results      Results   `json:"results"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Clone returns a deep copy of the record.
func (r *JobRecord) Clone() *JobRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.Results.AdIDs != nil {
		c.Results.AdIDs = append([]string(nil), r.Results.AdIDs...)
	}
	if r.Results.Failures != nil {
		c.Results.Failures = make([]JobError, len(r.Results.Failures))
		for i, f := range r.Results.Failures {
			if f.ItemIndex != nil {
				idx := *f.ItemIndex
				f.ItemIndex = &idx
			}
			c.Results.Failures[i] = f
		}
	}
	if r.StartedAt != nil {
		t := *r.StartedAt
		c.StartedAt = &t
	}
	if r.EndedAt != nil {
		t := *r.EndedAt
		c.EndedAt = &t
	}
	return &c
}

// Attempted is the number of items processed so far.
func (r *JobRecord) Attempted() int {
	return r.CreatedCount + r.FailedCount
}
