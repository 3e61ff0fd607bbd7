package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/3leaps/adfanout/pkg/media"
)

// Call records one request made to a Sandbox.
type Call struct {
	Op   string
	Name string

	// Ref is the parent id (campaign for ad sets, ad set for ads) or the
	// media id for token resolution.
	Ref string
}

// Sandbox is an in-process platform that never leaves the machine.
//
// Ids are deterministic per operation ("camp1", "as1", "cr1", "ad1", ...).
// Failure hooks let tests inject errors per call.
type Sandbox struct {
	mu      sync.Mutex
	ready   bool
	counter map[string]int
	calls   []Call

	// Hooks return a non-nil error to fail the call. They run without the
	// sandbox lock held, so they may block.
	FailCampaign func(spec CampaignSpec) error
	FailAdSet    func(spec AdSetSpec) error
	FailAd       func(spec AdSpec) error
	FailResolve  func(d media.Descriptor) error

	// BeforeCall, when set, runs before every call. It can block to
	// simulate latency; it should honour ctx.
	BeforeCall func(ctx context.Context, op string) error
}

var _ Client = (*Sandbox)(nil)

// NewSandbox returns a ready Sandbox.
func NewSandbox() *Sandbox {
	return &Sandbox{ready: true, counter: make(map[string]int)}
}

// SetReady toggles readiness.
func (s *Sandbox) SetReady(ready bool) {
	s.mu.Lock()
	s.ready = ready
	s.mu.Unlock()
}

func (s *Sandbox) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Calls returns the calls made so far, in order.
func (s *Sandbox) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallCount returns how many calls of op were made.
func (s *Sandbox) CallCount(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

func (s *Sandbox) begin(ctx context.Context, op, name, ref string) error {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Op: op, Name: name, Ref: ref})
	ready := s.ready
	s.mu.Unlock()

	if !ready {
		return &PlatformError{Op: op, Err: ErrNotReady}
	}
	if s.BeforeCall != nil {
		if err := s.BeforeCall(ctx, op); err != nil {
			return wrapSandbox(op, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return wrapSandbox(op, err)
	}
	return nil
}

func (s *Sandbox) nextID(prefix string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter[prefix]++
	return fmt.Sprintf("%s%d", prefix, s.counter[prefix])
}

func (s *Sandbox) CreateCampaign(ctx context.Context, spec CampaignSpec) (string, error) {
	if err := s.begin(ctx, "CreateCampaign", spec.Name, ""); err != nil {
		return "", err
	}
	if s.FailCampaign != nil {
		if err := s.FailCampaign(spec); err != nil {
			return "", wrapSandbox("CreateCampaign", err)
		}
	}
	return s.nextID("camp"), nil
}

func (s *Sandbox) CreateAdSet(ctx context.Context, spec AdSetSpec) (string, error) {
	if err := s.begin(ctx, "CreateAdSet", spec.Name, spec.CampaignID); err != nil {
		return "", err
	}
	if s.FailAdSet != nil {
		if err := s.FailAdSet(spec); err != nil {
			return "", wrapSandbox("CreateAdSet", err)
		}
	}
	return s.nextID("as"), nil
}

func (s *Sandbox) CreateCreative(ctx context.Context, spec CreativeSpec) (string, error) {
	if err := s.begin(ctx, "CreateCreative", spec.Name, spec.MediaToken); err != nil {
		return "", err
	}
	return s.nextID("cr"), nil
}

func (s *Sandbox) CreateAd(ctx context.Context, spec AdSpec) (string, error) {
	if err := s.begin(ctx, "CreateAd", spec.Name, spec.AdSetID); err != nil {
		return "", err
	}
	if s.FailAd != nil {
		if err := s.FailAd(spec); err != nil {
			return "", wrapSandbox("CreateAd", err)
		}
	}
	return s.nextID("ad"), nil
}

func (s *Sandbox) ResolveMediaToken(ctx context.Context, d media.Descriptor) (string, error) {
	if err := s.begin(ctx, "ResolveMediaToken", d.Filename, d.ID); err != nil {
		return "", err
	}
	if s.FailResolve != nil {
		if err := s.FailResolve(d); err != nil {
			return "", wrapSandbox("ResolveMediaToken", err)
		}
	}
	if d.PlatformToken != "" {
		return d.PlatformToken, nil
	}
	return "tok-" + d.ID, nil
}

func (s *Sandbox) UploadMedia(ctx context.Context, spec UploadSpec) (string, error) {
	if err := s.begin(ctx, "UploadMedia", spec.Filename, ""); err != nil {
		return "", err
	}
	if spec.Body != nil {
		if _, err := io.Copy(io.Discard, spec.Body); err != nil {
			return "", wrapSandbox("UploadMedia", err)
		}
	}
	return s.nextID("upl"), nil
}

func (s *Sandbox) GeneratePreview(ctx context.Context, spec PreviewSpec) (string, error) {
	if err := s.begin(ctx, "GeneratePreview", spec.AdCopy.Headline, spec.MediaToken); err != nil {
		return "", err
	}
	format := orDefault(spec.Format, DefaultPreviewFormat)
	return fmt.Sprintf(`<iframe src="https://sandbox.invalid/preview?format=%s&token=%s" width="540" height="690"></iframe>`,
		format, spec.MediaToken), nil
}

func wrapSandbox(op string, err error) error {
	var pe *PlatformError
	if errors.As(err, &pe) {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &PlatformError{Op: op, Message: err.Error(), Err: ErrTimeout}
	case errors.Is(err, context.Canceled):
		return &PlatformError{Op: op, Message: err.Error(), Err: context.Canceled}
	}
	return &PlatformError{Op: op, Message: err.Error(), Err: err}
}
