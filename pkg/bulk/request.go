package bulk

import (
	"strings"

	"github.com/3leaps/adfanout/pkg/manifest"
	"github.com/3leaps/adfanout/pkg/platform"
	"github.com/3leaps/adfanout/pkg/validation"
)

// MaxMediaPerRequest caps the number of items in one bulk request.
const MaxMediaPerRequest = 500

// Request is one bulk creation request: a template applied to an ordered
// list of media items.
type Request struct {
	TemplateID   string   `json:"template_id" validate:"required"`
	MediaIDs     []string `json:"media_ids" validate:"max=500,dive,required"`
	CampaignName string   `json:"campaign_name,omitempty" validate:"max=400"`
	AdSetName    string   `json:"ad_set_name,omitempty" validate:"max=400"`
	Options      Options  `json:"options"`
}

// Options control which remote entities a job creates.
type Options struct {
	CreateCampaign bool `json:"create_campaign"`
	CreateAdSet    bool `json:"create_ad_set"`

	// Status applied to created entities. Empty means PAUSED.
	Status string `json:"status,omitempty" validate:"omitempty,oneof=ACTIVE PAUSED"`

	// Budget overrides the template's delivery hint for the ad set.
	Budget *platform.Budget `json:"budget,omitempty"`

	// AdSetID is used for ads when no ad set is created or creation fails.
	AdSetID string `json:"ad_set_id,omitempty"`
}

// Validate checks the request shape. It does not resolve ids.
func (r *Request) Validate() error {
	r.normalize()
	return validation.Struct(r)
}

func (r *Request) normalize() {
	r.TemplateID = strings.TrimSpace(r.TemplateID)
	for i, id := range r.MediaIDs {
		r.MediaIDs[i] = strings.TrimSpace(id)
	}
	r.CampaignName = strings.TrimSpace(r.CampaignName)
	r.AdSetName = strings.TrimSpace(r.AdSetName)
	r.Options.Status = strings.ToUpper(strings.TrimSpace(r.Options.Status))
	r.Options.AdSetID = strings.TrimSpace(r.Options.AdSetID)
}

func (r *Request) status() string {
	if r.Options.Status == "" {
		return platform.StatusPaused
	}
	return r.Options.Status
}

// LoadRequest reads a request from a YAML or JSON file and validates it.
func LoadRequest(path string) (*Request, error) {
	var req Request
	if err := manifest.Load(path, &req); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}
