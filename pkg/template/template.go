// Package template defines reusable ad templates and the stores that hold
// them.
//
// A template bundles the ad copy, targeting, placements and optional
// delivery hints that a bulk job applies to every media item. Jobs take a
// snapshot of the template at submission time; later edits do not affect
// jobs already in flight.
package template

import (
	"errors"
	"strings"
	"time"

	"github.com/3leaps/adfanout/pkg/validation"
)

// ErrTemplateNotFound is returned when no template exists for an id.
var ErrTemplateNotFound = errors.New("template not found")

// CallToAction values accepted by the ads platform.
const (
	CTALearnMore = "LEARN_MORE"
	CTAShopNow   = "SHOP_NOW"
	CTASignUp    = "SIGN_UP"
	CTADownload  = "DOWNLOAD"
	CTAContactUs = "CONTACT_US"
	CTASubscribe = "SUBSCRIBE"
	CTAApplyNow  = "APPLY_NOW"
	CTAGetOffer  = "GET_OFFER"
	CTAWatchMore = "WATCH_MORE"
	CTABookNow   = "BOOK_TRAVEL"
)

// Template is a named ad configuration.
type Template struct {
	ID         string         `json:"id"`
	Name       string         `json:"name" validate:"required,max=200"`
	AdCopy     AdCopy         `json:"ad_copy"`
	Targeting  Targeting      `json:"targeting"`
	Placements Placements     `json:"placements"`
	Delivery   *DeliveryHints `json:"delivery,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// AdCopy is the text shown with every ad.
type AdCopy struct {
	Headline     string `json:"headline" validate:"required,max=255"`
	PrimaryText  string `json:"primary_text" validate:"required,max=2200"`
	CallToAction string `json:"call_to_action,omitempty" validate:"omitempty,oneof=LEARN_MORE SHOP_NOW SIGN_UP DOWNLOAD CONTACT_US SUBSCRIBE APPLY_NOW GET_OFFER WATCH_MORE BOOK_TRAVEL"`
	Description  string `json:"description,omitempty" validate:"max=255"`
	LinkURL      string `json:"link_url,omitempty" validate:"omitempty,url"`
}

// Targeting is the audience definition passed to ad set creation.
type Targeting struct {
	Countries []string `json:"countries,omitempty" validate:"dive,len=2"`
	AgeMin    int      `json:"age_min,omitempty" validate:"omitempty,gte=13,lte=65"`
	AgeMax    int      `json:"age_max,omitempty" validate:"omitempty,gte=13,lte=65"`
	Genders   []string `json:"genders,omitempty" validate:"dive,oneof=male female"`
	Interests []string `json:"interests,omitempty"`
}

// Placements selects where ads are shown. All false means automatic.
type Placements struct {
	Facebook        bool `json:"facebook"`
	Instagram       bool `json:"instagram"`
	AudienceNetwork bool `json:"audience_network"`
	Messenger       bool `json:"messenger"`
}

// DeliveryHints carry optional budget and optimization defaults.
//
// DailyBudget is in minor currency units (cents).
type DeliveryHints struct {
	DailyBudget      int64  `json:"daily_budget,omitempty" validate:"gte=0"`
	Currency         string `json:"currency,omitempty" validate:"omitempty,len=3"`
	BudgetType       string `json:"budget_type,omitempty" validate:"omitempty,oneof=DAILY LIFETIME"`
	OptimizationGoal string `json:"optimization_goal,omitempty"`
	BillingEvent     string `json:"billing_event,omitempty"`
}

// Validate checks required fields and value ranges.
func (t *Template) Validate() error {
	if err := validation.Struct(t); err != nil {
		return err
	}
	if t.Targeting.AgeMin > 0 && t.Targeting.AgeMax > 0 && t.Targeting.AgeMax < t.Targeting.AgeMin {
		return validation.Field("targeting.age_max", "must be >= age_min")
	}
	return nil
}

// Clone returns a deep copy.
func (t *Template) Clone() *Template {
	if t == nil {
		return nil
	}
	c := *t
	c.Targeting.Countries = cloneStrings(t.Targeting.Countries)
	c.Targeting.Genders = cloneStrings(t.Targeting.Genders)
	c.Targeting.Interests = cloneStrings(t.Targeting.Interests)
	if t.Delivery != nil {
		d := *t.Delivery
		c.Delivery = &d
	}
	return &c
}

// PlacementList returns the enabled publisher platforms, or nil for
// automatic placement.
func (p Placements) PlacementList() []string {
	var out []string
	if p.Facebook {
		out = append(out, "facebook")
	}
	if p.Instagram {
		out = append(out, "instagram")
	}
	if p.AudienceNetwork {
		out = append(out, "audience_network")
	}
	if p.Messenger {
		out = append(out, "messenger")
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

func normalizeID(id string) string {
	return strings.TrimSpace(id)
}
