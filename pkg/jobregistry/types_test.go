package jobregistry

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestJobError_String(t *testing.T) {
	tests := []struct {
		name string
		err  JobError
		want string
	}{
		{"campaign", JobError{Stage: StageCampaign, Message: "quota"}, "campaign creation failed: quota"},
		{"ad set", JobError{Stage: StageAdSet, Message: "bad targeting"}, "ad set creation failed: bad targeting"},
		{"item with index", JobError{Stage: StageItem, ItemRef: "m2", ItemIndex: intPtr(1), Message: "rejected"}, "media m2 (item 2) failed: rejected"},
		{"item without index", JobError{Stage: StageItem, ItemRef: "m2", Message: "rejected"}, "media m2 failed: rejected"},
		{"unexpected", JobError{Stage: StageUnexpected, Message: "nil map"}, "unexpected error: nil map"},
		{"legacy", JobError{Message: "raw"}, "raw"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.String())
		})
	}
}

func TestJobStatus_Terminal(t *testing.T) {
	assert.False(t, JobStatusPending.Terminal())
	assert.False(t, JobStatusProcessing.Terminal())
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
}

func TestResults_JSONRendersErrorStrings(t *testing.T) {
	rec := JobRecord{
		JobID:  "job-1",
		Status: JobStatusCompleted,
		Results: Results{
			CampaignID: "camp1",
			AdSetID:    "as1",
			AdIDs:      []string{"ad1"},
			Failures:   []JobError{{Stage: StageItem, ItemRef: "m2", ItemIndex: intPtr(1), Message: "rejected"}},
		},
	}

	b, err := json.Marshal(rec)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	results := raw["results"].(map[string]any)
	assert.Equal(t, "camp1", results["campaign_id"])
	assert.Equal(t, []any{"media m2 (item 2) failed: rejected"}, results["errors"])
	assert.Len(t, results["failures"], 1)
}

func TestResults_JSONEmptyListsAreArrays(t *testing.T) {
	b, err := json.Marshal(Results{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ad_ids":[],"errors":[]}`, string(b))
}

func TestResults_UnmarshalLegacyErrors(t *testing.T) {
	var r Results
	require.NoError(t, json.Unmarshal([]byte(`{"ad_ids":["a"],"errors":["something broke"]}`), &r))
	require.Len(t, r.Failures, 1)
	assert.Equal(t, []string{"something broke"}, r.Errors())
}

func TestJobRecord_CloneIsDeep(t *testing.T) {
	orig := &JobRecord{
		JobID: "job-1",
		Results: Results{
			AdIDs:    []string{"ad1"},
			Failures: []JobError{{Stage: StageItem, ItemIndex: intPtr(0)}},
		},
	}
	c := orig.Clone()
	c.Results.AdIDs[0] = "changed"
	*c.Results.Failures[0].ItemIndex = 5

	assert.Equal(t, "ad1", orig.Results.AdIDs[0])
	assert.Equal(t, 0, *orig.Results.Failures[0].ItemIndex)
	assert.Nil(t, (*JobRecord)(nil).Clone())
}
