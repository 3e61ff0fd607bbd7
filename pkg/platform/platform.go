// Package platform talks to the remote advertising platform.
//
// Every method on Client is one remote call that may fail, be throttled or
// time out. Callers bound each call with a context deadline; the client
// does not retry.
package platform

import (
	"context"
	"io"

	"github.com/3leaps/adfanout/pkg/media"
	"github.com/3leaps/adfanout/pkg/template"
)

// Entity statuses accepted on creation.
const (
	StatusActive = "ACTIVE"
	StatusPaused = "PAUSED"
)

// DefaultObjective is used for campaigns when none is given.
const DefaultObjective = "OUTCOME_TRAFFIC"

// Client is the remote ads platform.
type Client interface {
	// Ready reports whether the client holds usable credentials.
	Ready() bool

	CreateCampaign(ctx context.Context, spec CampaignSpec) (string, error)
	CreateAdSet(ctx context.Context, spec AdSetSpec) (string, error)
	CreateCreative(ctx context.Context, spec CreativeSpec) (string, error)

	// CreateAd creates one ad along with the creative it references.
	CreateAd(ctx context.Context, spec AdSpec) (string, error)

	// ResolveMediaToken returns the platform's reference for a stored
	// asset, uploading it first when the descriptor carries none.
	ResolveMediaToken(ctx context.Context, d media.Descriptor) (string, error)

	UploadMedia(ctx context.Context, spec UploadSpec) (string, error)
	GeneratePreview(ctx context.Context, spec PreviewSpec) (string, error)
}

// CampaignSpec describes a campaign to create.
type CampaignSpec struct {
	Name      string
	Status    string
	Objective string
}

// Budget is an amount in minor currency units.
type Budget struct {
	Amount   int64  `json:"amount" validate:"gt=0"`
	Currency string `json:"currency" validate:"required,len=3"`

	// Type is DAILY or LIFETIME.
	Type string `json:"type,omitempty" validate:"omitempty,oneof=DAILY LIFETIME"`
}

// AdSetSpec describes an ad set to create under a campaign.
type AdSetSpec struct {
	CampaignID       string
	Name             string
	Targeting        template.Targeting
	Placements       []string
	Budget           Budget
	OptimizationGoal string
	BillingEvent     string
	Status           string
}

// CreativeSpec describes an ad creative.
type CreativeSpec struct {
	Name       string
	AdCopy     template.AdCopy
	MediaToken string
	MediaKind  media.Kind
}

// AdSpec describes one ad.
type AdSpec struct {
	AdSetID    string
	Name       string
	AdCopy     template.AdCopy
	MediaToken string
	MediaKind  media.Kind
	Status     string
}

// UploadSpec is a raw asset upload.
type UploadSpec struct {
	Filename string
	Kind     media.Kind
	Body     io.Reader
}

// PreviewSpec requests a rendered preview of an ad.
type PreviewSpec struct {
	AdCopy     template.AdCopy
	MediaToken string
	MediaKind  media.Kind

	// Format is the placement format, e.g. DESKTOP_FEED_STANDARD.
	Format string
}

// DefaultPreviewFormat is used when PreviewSpec.Format is empty.
const DefaultPreviewFormat = "DESKTOP_FEED_STANDARD"

// MediaOpener streams the bytes of a stored asset.
type MediaOpener func(ctx context.Context, mediaID string) (io.ReadCloser, error)
