// Package output provides JSONL output for bulk runs.
//
// Output is structured as typed record envelopes containing progress
// updates, errors, media registrations and final summaries. Each line is a
// self-contained JSON object that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/3leaps/adfanout/pkg/jobregistry"
	"github.com/3leaps/adfanout/pkg/progress"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: adfanout.<type>.v<version>
const (
	// TypeProgress identifies progress update records.
	TypeProgress = "adfanout.progress.v1"

	// TypeError identifies error records.
	TypeError = "adfanout.error.v1"

	// TypeSummary identifies final job summary records.
	TypeSummary = "adfanout.summary.v1"

	// TypeMedia identifies media registration records.
	TypeMedia = "adfanout.media.v1"
)

// Record is the envelope for all JSONL output.
//
// Each line of JSONL output contains a Record with a type-specific
// payload in the Data field.
type Record struct {
	// Type identifies the record type (e.g., "adfanout.progress.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// JobID is the job the record belongs to. Empty for media records.
	JobID string `json:"job_id,omitempty"`

	// Platform identifies the ads platform backend (e.g., "graph", "sandbox").
	Platform string `json:"platform"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// ProgressRecord is the data payload for progress updates.
type ProgressRecord struct {
	Seq      uint64 `json:"seq"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Created  int    `json:"created"`
	Failed   int    `json:"failed"`
	Total    int    `json:"total"`
	Message  string `json:"message,omitempty"`
	Terminal bool   `json:"terminal,omitempty"`
}

// ProgressFromUpdate converts a progress update into its record payload.
func ProgressFromUpdate(u progress.Update) *ProgressRecord {
	return &ProgressRecord{
		Seq:      u.Seq,
		Status:   u.Status,
		Progress: u.Progress,
		Created:  u.Created,
		Failed:   u.Failed,
		Total:    u.Total,
		Message:  u.Message,
		Terminal: u.Terminal,
	}
}

// ErrorRecord is the data payload for errors.
//
// Item failures are emitted as records rather than failing the entire run,
// mirroring how jobs record partial results.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is the rendered error.
	Message string `json:"message"`

	// Stage is the creation stage the error was recorded in.
	Stage string `json:"stage,omitempty"`

	// ItemRef is the media id of the failed item, if applicable.
	ItemRef string `json:"item_ref,omitempty"`

	// ItemIndex is the zero-based position of the failed item.
	ItemIndex *int `json:"item_index,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	ErrCodeCampaign   = "CAMPAIGN_FAILED"
	ErrCodeAdSet      = "AD_SET_FAILED"
	ErrCodeItem       = "ITEM_FAILED"
	ErrCodeUnexpected = "UNEXPECTED"
	ErrCodeUpload     = "UPLOAD_FAILED"
)

// ErrorFromJobError converts a recorded job failure into its record payload.
func ErrorFromJobError(e jobregistry.JobError) *ErrorRecord {
	code := ErrCodeUnexpected
	switch e.Stage {
	case jobregistry.StageCampaign:
		code = ErrCodeCampaign
	case jobregistry.StageAdSet:
		code = ErrCodeAdSet
	case jobregistry.StageItem:
		code = ErrCodeItem
	}
	return &ErrorRecord{
		Code:      code,
		Message:   e.String(),
		Stage:     string(e.Stage),
		ItemRef:   e.ItemRef,
		ItemIndex: e.ItemIndex,
	}
}

// SummaryRecord is the data payload for final summaries.
//
// A summary record is emitted once a job reaches a terminal state.
type SummaryRecord struct {
	Status     string   `json:"status"`
	CampaignID string   `json:"campaign_id,omitempty"`
	AdSetID    string   `json:"ad_set_id,omitempty"`
	AdIDs      []string `json:"ad_ids"`
	Created    int      `json:"created"`
	Failed     int      `json:"failed"`
	Total      int      `json:"total"`
	Errors     []string `json:"errors"`

	// Duration is the wall time between start and end of processing.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`
}

// SummaryFromJob builds the summary payload for a job record.
func SummaryFromJob(rec *jobregistry.JobRecord) *SummaryRecord {
	adIDs := rec.Results.AdIDs
	if adIDs == nil {
		adIDs = []string{}
	}
	sum := &SummaryRecord{
		Status:     string(rec.Status),
		CampaignID: rec.Results.CampaignID,
		AdSetID:    rec.Results.AdSetID,
		AdIDs:      adIDs,
		Created:    rec.CreatedCount,
		Failed:     rec.FailedCount,
		Total:      rec.TotalItems,
		Errors:     rec.Results.Errors(),
	}
	if rec.StartedAt != nil && rec.EndedAt != nil {
		sum.Duration = rec.EndedAt.Sub(*rec.StartedAt)
		sum.DurationHuman = sum.Duration.Round(time.Millisecond).String()
	}
	return sum
}

// MediaRecord is the data payload for a registered media asset.
type MediaRecord struct {
	ID     string `json:"id"`
	Path   string `json:"path,omitempty"`
	Kind   string `json:"kind"`
	Size   int64  `json:"size"`
	URL    string `json:"url,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
