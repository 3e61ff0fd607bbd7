package platform

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/adfanout/pkg/media"
)

func TestSandbox_DeterministicIDs(t *testing.T) {
	s := NewSandbox()
	ctx := context.Background()

	camp, err := s.CreateCampaign(ctx, CampaignSpec{Name: "c"})
	require.NoError(t, err)
	as, err := s.CreateAdSet(ctx, AdSetSpec{CampaignID: camp, Name: "s"})
	require.NoError(t, err)
	ad1, err := s.CreateAd(ctx, AdSpec{AdSetID: as, Name: "a1"})
	require.NoError(t, err)
	ad2, err := s.CreateAd(ctx, AdSpec{AdSetID: as, Name: "a2"})
	require.NoError(t, err)

	assert.Equal(t, "camp1", camp)
	assert.Equal(t, "as1", as)
	assert.Equal(t, []string{"ad1", "ad2"}, []string{ad1, ad2})
	assert.Equal(t, 2, s.CallCount("CreateAd"))

	calls := s.Calls()
	require.Len(t, calls, 4)
	assert.Equal(t, Call{Op: "CreateAdSet", Name: "s", Ref: "camp1"}, calls[1])
}

func TestSandbox_FailureHooks(t *testing.T) {
	s := NewSandbox()
	boom := errors.New("boom")
	s.FailAd = func(spec AdSpec) error {
		if spec.Name == "bad" {
			return boom
		}
		return nil
	}

	_, err := s.CreateAd(context.Background(), AdSpec{Name: "bad"})
	assert.ErrorIs(t, err, boom)
	var pe *PlatformError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "CreateAd", pe.Op)

	id, err := s.CreateAd(context.Background(), AdSpec{Name: "good"})
	require.NoError(t, err)
	assert.Equal(t, "ad1", id)
}

func TestSandbox_NotReady(t *testing.T) {
	s := NewSandbox()
	s.SetReady(false)
	assert.False(t, s.Ready())
	_, err := s.CreateCampaign(context.Background(), CampaignSpec{})
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestSandbox_BeforeCallTimeout(t *testing.T) {
	s := NewSandbox()
	s.BeforeCall = func(ctx context.Context, op string) error {
		<-ctx.Done()
		return ctx.Err()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := s.CreateCampaign(ctx, CampaignSpec{})
	assert.True(t, IsTimeout(err))
}

func TestSandbox_ResolveMediaToken(t *testing.T) {
	s := NewSandbox()
	tok, err := s.ResolveMediaToken(context.Background(), media.Descriptor{ID: "m1"})
	require.NoError(t, err)
	assert.Equal(t, "tok-m1", tok)

	tok, err = s.ResolveMediaToken(context.Background(), media.Descriptor{ID: "m1", PlatformToken: "p"})
	require.NoError(t, err)
	assert.Equal(t, "p", tok)

	html, err := s.GeneratePreview(context.Background(), PreviewSpec{MediaToken: "p"})
	require.NoError(t, err)
	assert.Contains(t, html, "token=p")
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrUnauthorized, classify(400, codeAuthException))
	assert.Equal(t, ErrThrottled, classify(400, codeAdsAPIThrottled))
	assert.Equal(t, ErrUnauthorized, classify(403, 0))
	assert.Equal(t, ErrUnavailable, classify(503, 0))
	assert.Equal(t, ErrInvalidRequest, classify(422, 100))
}
