package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/adfanout/pkg/media"
	"github.com/3leaps/adfanout/pkg/template"
)

// Graph API defaults.
const (
	DefaultGraphBaseURL    = "https://graph.facebook.com"
	DefaultGraphAPIVersion = "v21.0"
	DefaultCallTimeout     = 10 * time.Second

	defaultOptimizationGoal = "LINK_CLICKS"
	defaultBillingEvent     = "IMPRESSIONS"
)

// GraphConfig configures a GraphClient.
type GraphConfig struct {
	BaseURL     string
	APIVersion  string
	AccessToken string

	// AdAccountID is the numeric account id, with or without the act_ prefix.
	AdAccountID string

	// PageID is the page ads are published as.
	PageID string

	// CallTimeout bounds each HTTP round trip. Zero uses DefaultCallTimeout.
	CallTimeout time.Duration

	// RateLimit is the client-side request rate in requests per second.
	// Zero disables limiting.
	RateLimit float64
	Burst     int

	HTTPClient *http.Client

	// OpenMedia streams stored assets for ResolveMediaToken uploads.
	OpenMedia MediaOpener

	Logger *zap.Logger
}

// GraphClient is a Client for a Graph-style marketing API.
type GraphClient struct {
	base      *url.URL
	version   string
	token     string
	account   string
	pageID    string
	timeout   time.Duration
	http      *http.Client
	limiter   *rate.Limiter
	openMedia MediaOpener
	logger    *zap.Logger
}

var _ Client = (*GraphClient)(nil)

// NewGraphClient creates a GraphClient. A client without an access token or
// ad account is valid but not Ready.
func NewGraphClient(cfg GraphConfig) (*GraphClient, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultGraphBaseURL
	}
	base, err := url.Parse(baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid platform base url %q", baseURL)
	}

	version := strings.TrimSpace(cfg.APIVersion)
	if version == "" {
		version = DefaultGraphAPIVersion
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &GraphClient{
		base:      base,
		version:   version,
		token:     strings.TrimSpace(cfg.AccessToken),
		account:   strings.TrimPrefix(strings.TrimSpace(cfg.AdAccountID), "act_"),
		pageID:    strings.TrimSpace(cfg.PageID),
		timeout:   timeout,
		http:      httpClient,
		openMedia: cfg.OpenMedia,
		logger:    logger,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return c, nil
}

// Ready reports whether an access token and ad account are configured.
func (c *GraphClient) Ready() bool {
	return c.token != "" && c.account != ""
}

func (c *GraphClient) accountPath(edge string) string {
	return "act_" + c.account + "/" + edge
}

func (c *GraphClient) CreateCampaign(ctx context.Context, spec CampaignSpec) (string, error) {
	objective := spec.Objective
	if objective == "" {
		objective = DefaultObjective
	}
	form := url.Values{
		"name":                  {spec.Name},
		"objective":             {objective},
		"status":                {statusOrPaused(spec.Status)},
		"special_ad_categories": {"[]"},
	}
	var out idResponse
	if err := c.do(ctx, "CreateCampaign", http.MethodPost, c.accountPath("campaigns"), form, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *GraphClient) CreateAdSet(ctx context.Context, spec AdSetSpec) (string, error) {
	targeting, err := json.Marshal(graphTargeting(spec.Targeting, spec.Placements))
	if err != nil {
		return "", &PlatformError{Op: "CreateAdSet", Message: err.Error(), Err: ErrInvalidRequest}
	}

	form := url.Values{
		"name":              {spec.Name},
		"campaign_id":       {spec.CampaignID},
		"targeting":         {string(targeting)},
		"optimization_goal": {orDefault(spec.OptimizationGoal, defaultOptimizationGoal)},
		"billing_event":     {orDefault(spec.BillingEvent, defaultBillingEvent)},
		"status":            {statusOrPaused(spec.Status)},
	}
	// Currency is a property of the ad account; amounts are sent as-is.
	amount := strconv.FormatInt(spec.Budget.Amount, 10)
	if strings.EqualFold(spec.Budget.Type, "LIFETIME") {
		form.Set("lifetime_budget", amount)
	} else {
		form.Set("daily_budget", amount)
	}

	var out idResponse
	if err := c.do(ctx, "CreateAdSet", http.MethodPost, c.accountPath("adsets"), form, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *GraphClient) CreateCreative(ctx context.Context, spec CreativeSpec) (string, error) {
	story, err := json.Marshal(c.storySpec(spec.AdCopy, spec.MediaToken, spec.MediaKind))
	if err != nil {
		return "", &PlatformError{Op: "CreateCreative", Message: err.Error(), Err: ErrInvalidRequest}
	}
	form := url.Values{
		"name":              {spec.Name},
		"object_story_spec": {string(story)},
	}
	var out idResponse
	if err := c.do(ctx, "CreateCreative", http.MethodPost, c.accountPath("adcreatives"), form, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *GraphClient) CreateAd(ctx context.Context, spec AdSpec) (string, error) {
	creativeID, err := c.CreateCreative(ctx, CreativeSpec{
		Name:       spec.Name + " Creative",
		AdCopy:     spec.AdCopy,
		MediaToken: spec.MediaToken,
		MediaKind:  spec.MediaKind,
	})
	if err != nil {
		return "", err
	}

	creative, _ := json.Marshal(map[string]string{"creative_id": creativeID})
	form := url.Values{
		"name":     {spec.Name},
		"adset_id": {spec.AdSetID},
		"creative": {string(creative)},
		"status":   {statusOrPaused(spec.Status)},
	}
	var out idResponse
	if err := c.do(ctx, "CreateAd", http.MethodPost, c.accountPath("ads"), form, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *GraphClient) ResolveMediaToken(ctx context.Context, d media.Descriptor) (string, error) {
	if d.PlatformToken != "" {
		return d.PlatformToken, nil
	}
	if c.openMedia == nil {
		return "", &PlatformError{Op: "ResolveMediaToken", Message: "no media source configured", Err: ErrInvalidRequest}
	}
	rc, err := c.openMedia(ctx, d.ID)
	if err != nil {
		return "", fmt.Errorf("open media %s: %w", d.ID, err)
	}
	defer func() { _ = rc.Close() }()

	return c.UploadMedia(ctx, UploadSpec{Filename: d.Filename, Kind: d.Kind, Body: rc})
}

// UploadMedia uploads an asset. Images return their hash, videos their id.
func (c *GraphClient) UploadMedia(ctx context.Context, spec UploadSpec) (string, error) {
	if spec.Body == nil {
		return "", &PlatformError{Op: "UploadMedia", Message: "empty body", Err: ErrInvalidRequest}
	}
	filename := path.Base(spec.Filename)
	if filename == "." || filename == "/" {
		filename = "upload"
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	field, edge := "filename", "adimages"
	if spec.Kind == media.KindVideo {
		field, edge = "source", "advideos"
	}
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		return "", &PlatformError{Op: "UploadMedia", Message: err.Error(), Err: ErrInvalidRequest}
	}
	if _, err := io.Copy(part, spec.Body); err != nil {
		return "", &PlatformError{Op: "UploadMedia", Message: err.Error(), Err: ErrInvalidRequest}
	}
	if err := mw.Close(); err != nil {
		return "", &PlatformError{Op: "UploadMedia", Message: err.Error(), Err: ErrInvalidRequest}
	}

	if spec.Kind == media.KindVideo {
		var out idResponse
		if err := c.send(ctx, "UploadMedia", http.MethodPost, c.accountPath(edge), mw.FormDataContentType(), &buf, &out); err != nil {
			return "", err
		}
		return out.ID, nil
	}

	var out struct {
		Images map[string]struct {
			Hash string `json:"hash"`
		} `json:"images"`
	}
	if err := c.send(ctx, "UploadMedia", http.MethodPost, c.accountPath(edge), mw.FormDataContentType(), &buf, &out); err != nil {
		return "", err
	}
	for _, img := range out.Images {
		if img.Hash != "" {
			return img.Hash, nil
		}
	}
	return "", &PlatformError{Op: "UploadMedia", Message: "response carried no image hash", Err: ErrUnavailable}
}

// GeneratePreview returns the preview markup (an iframe) for an ad.
func (c *GraphClient) GeneratePreview(ctx context.Context, spec PreviewSpec) (string, error) {
	creative, err := json.Marshal(map[string]any{
		"object_story_spec": c.storySpec(spec.AdCopy, spec.MediaToken, spec.MediaKind),
	})
	if err != nil {
		return "", &PlatformError{Op: "GeneratePreview", Message: err.Error(), Err: ErrInvalidRequest}
	}
	q := url.Values{
		"creative":  {string(creative)},
		"ad_format": {orDefault(spec.Format, DefaultPreviewFormat)},
	}
	var out struct {
		Data []struct {
			Body string `json:"body"`
		} `json:"data"`
	}
	if err := c.do(ctx, "GeneratePreview", http.MethodGet, c.accountPath("generatepreviews"), q, &out); err != nil {
		return "", err
	}
	if len(out.Data) == 0 {
		return "", &PlatformError{Op: "GeneratePreview", Message: "empty preview response", Err: ErrUnavailable}
	}
	return out.Data[0].Body, nil
}

func (c *GraphClient) storySpec(adCopy template.AdCopy, token string, kind media.Kind) map[string]any {
	cta := map[string]any{"type": orDefault(adCopy.CallToAction, template.CTALearnMore)}
	if adCopy.LinkURL != "" {
		cta["value"] = map[string]string{"link": adCopy.LinkURL}
	}

	spec := map[string]any{"page_id": c.pageID}
	if kind == media.KindVideo {
		spec["video_data"] = map[string]any{
			"video_id":         token,
			"title":            adCopy.Headline,
			"message":          adCopy.PrimaryText,
			"link_description": adCopy.Description,
			"call_to_action":   cta,
		}
		return spec
	}
	spec["link_data"] = map[string]any{
		"image_hash":     token,
		"name":           adCopy.Headline,
		"message":        adCopy.PrimaryText,
		"description":    adCopy.Description,
		"link":           adCopy.LinkURL,
		"call_to_action": cta,
	}
	return spec
}

func graphTargeting(t template.Targeting, placements []string) map[string]any {
	out := map[string]any{}
	if len(t.Countries) > 0 {
		out["geo_locations"] = map[string]any{"countries": t.Countries}
	}
	if t.AgeMin > 0 {
		out["age_min"] = t.AgeMin
	}
	if t.AgeMax > 0 {
		out["age_max"] = t.AgeMax
	}
	var genders []int
	for _, g := range t.Genders {
		switch g {
		case "male":
			genders = append(genders, 1)
		case "female":
			genders = append(genders, 2)
		}
	}
	if len(genders) > 0 {
		out["genders"] = genders
	}
	if len(t.Interests) > 0 {
		interests := make([]map[string]string, 0, len(t.Interests))
		for _, in := range t.Interests {
			interests = append(interests, map[string]string{"name": in})
		}
		out["flexible_spec"] = []map[string]any{{"interests": interests}}
	}
	if len(placements) > 0 {
		out["publisher_platforms"] = placements
	}
	return out
}

type idResponse struct {
	ID string `json:"id"`
}

type graphErrorBody struct {
	Error struct {
		Message   string `json:"message"`
		Type      string `json:"type"`
		Code      int    `json:"code"`
		Subcode   int    `json:"error_subcode"`
		FBTraceID string `json:"fbtrace_id"`
	} `json:"error"`
}

// do sends a form-encoded request (query string for GET).
func (c *GraphClient) do(ctx context.Context, op, method, rel string, form url.Values, out any) error {
	if method == http.MethodGet {
		return c.send(ctx, op, method, rel+"?"+form.Encode(), "", nil, out)
	}
	return c.send(ctx, op, method, rel, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()), out)
}

func (c *GraphClient) send(ctx context.Context, op, method, rel, contentType string, body io.Reader, out any) error {
	if !c.Ready() {
		return &PlatformError{Op: op, Err: ErrNotReady}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return c.transportError(op, err)
		}
	}

	target := c.base.JoinPath(c.version, strings.SplitN(rel, "?", 2)[0])
	if i := strings.IndexByte(rel, '?'); i >= 0 {
		target.RawQuery = rel[i+1:]
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return &PlatformError{Op: op, Message: err.Error(), Err: ErrInvalidRequest}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return c.transportError(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return c.transportError(op, err)
	}

	c.logger.Debug("Platform call",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode >= 300 {
		return decodeGraphError(op, resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &PlatformError{Op: op, StatusCode: resp.StatusCode, Message: "decode response: " + err.Error(), Err: ErrUnavailable}
	}
	if r, ok := out.(*idResponse); ok && r.ID == "" {
		return &PlatformError{Op: op, StatusCode: resp.StatusCode, Message: "response carried no id", Err: ErrUnavailable}
	}
	return nil
}

func (c *GraphClient) transportError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &PlatformError{Op: op, Message: "timed out after " + c.timeout.String(), Err: ErrTimeout}
	}
	if errors.Is(err, context.Canceled) {
		return &PlatformError{Op: op, Message: err.Error(), Err: context.Canceled}
	}
	return &PlatformError{Op: op, Message: err.Error(), Err: ErrUnavailable}
}

func decodeGraphError(op string, status int, data []byte) error {
	pe := &PlatformError{Op: op, StatusCode: status}
	var body graphErrorBody
	if err := json.Unmarshal(data, &body); err == nil && body.Error.Message != "" {
		pe.Code = body.Error.Code
		pe.Subcode = body.Error.Subcode
		pe.Message = body.Error.Message
		pe.TraceID = body.Error.FBTraceID
	} else {
		pe.Message = http.StatusText(status)
	}
	pe.Err = classify(status, pe.Code)
	return pe
}

func statusOrPaused(s string) string {
	if strings.EqualFold(s, StatusActive) {
		return StatusActive
	}
	return StatusPaused
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
