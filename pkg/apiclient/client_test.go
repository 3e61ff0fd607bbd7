package apiclient

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/adfanout/internal/server"
	"github.com/3leaps/adfanout/internal/server/handlers"
	"github.com/3leaps/adfanout/pkg/bulk"
	"github.com/3leaps/adfanout/pkg/jobregistry"
	"github.com/3leaps/adfanout/pkg/media"
	"github.com/3leaps/adfanout/pkg/platform"
	"github.com/3leaps/adfanout/pkg/progress"
	"github.com/3leaps/adfanout/pkg/template"
)

type fixture struct {
	client  *Client
	sandbox *platform.Sandbox
	jobs    *jobregistry.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	templates := template.NewMemoryStore()
	storage, err := media.NewLocalStorage(t.TempDir(), "")
	require.NoError(t, err)
	library := media.NewLibrary(storage, media.DefaultLimits(), nil)

	exec := bulk.NewExecutor(2, 16, nil)
	exec.Start(context.Background())
	t.Cleanup(exec.Stop)

	sandbox := platform.NewSandbox()
	jobs := jobregistry.NewMemoryStore()
	hub := progress.NewHub(0)
	orch, err := bulk.New(bulk.Deps{
		Platform:  sandbox,
		Templates: templates,
		Jobs:      jobs,
		Runner:    exec,
		Media:     library,
		Publisher: hub,
	}, bulk.Config{CallTimeout: time.Second})
	require.NoError(t, err)

	srv := server.New("127.0.0.1", 0, server.WithServices(server.Services{
		Templates: handlers.NewTemplateHandler(templates, nil),
		Media:     handlers.NewMediaHandler(library, 0, nil),
		Jobs:      handlers.NewJobHandler(orch, hub, nil, handlers.WithPollInterval(20*time.Millisecond)),
	}))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	client, err := New(ts.URL + "/")
	require.NoError(t, err)
	return &fixture{client: client, sandbox: sandbox, jobs: jobs}
}

func pngData(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 3, 3))))
	return buf.Bytes()
}

func TestNew_RejectsBadURL(t *testing.T) {
	_, err := New("ftp://example.com")
	assert.Error(t, err)
	_, err = New("localhost:8080")
	assert.Error(t, err)
}

func TestClient_TemplateLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tmpl := template.Template{
		ID:     "promo",
		Name:   "Promo",
		AdCopy: template.AdCopy{Headline: "Hi", PrimaryText: "There"},
	}
	got, created, err := f.client.ApplyTemplate(ctx, tmpl)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "promo", got.ID)

	tmpl.Name = "Promo v2"
	got, created, err = f.client.ApplyTemplate(ctx, tmpl)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "Promo v2", got.Name)

	list, err := f.client.ListTemplates(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, f.client.DeleteTemplate(ctx, "promo"))
	_, err = f.client.GetTemplate(ctx, "promo")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "TEMPLATE_NOT_FOUND", apiErr.Code)
	assert.NotEmpty(t, apiErr.RequestID)
}

func TestClient_SubmitAndWatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.client.ApplyTemplate(ctx, template.Template{
		ID:     "t1",
		Name:   "Launch",
		AdCopy: template.AdCopy{Headline: "New", PrimaryText: "Now available"},
	})
	require.NoError(t, err)

	var ids []string
	for i := 0; i < 3; i++ {
		d, err := f.client.UploadMedia(ctx, "pic.png", bytes.NewReader(pngData(t)))
		require.NoError(t, err)
		assert.Equal(t, media.KindImage, d.Kind)
		ids = append(ids, d.ID)
	}
	items, err := f.client.ListMedia(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 3)

	resp, err := f.client.Submit(ctx, bulk.Request{
		TemplateID: "t1",
		MediaIDs:   ids,
		Options:    bulk.Options{CreateCampaign: true, CreateAdSet: true},
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.JobID)

	var events []Event
	last, err := f.client.WatchJob(ctx, resp.JobID, func(ev Event) { events = append(events, ev) })
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.Terminal)
	assert.Equal(t, "COMPLETED", last.Status)
	assert.Equal(t, "snapshot", events[0].Type)

	rec, err := f.client.GetJob(ctx, resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.CreatedCount)
	assert.Equal(t, []string{"Launch - Ad 1", "Launch - Ad 2", "Launch - Ad 3"}, adNames(f.sandbox))

	jobs, err := f.client.ListJobs(ctx, "completed", 0)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	require.NoError(t, f.client.DeleteJob(ctx, resp.JobID))
	_, err = f.client.GetJob(ctx, resp.JobID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func adNames(s *platform.Sandbox) []string {
	var out []string
	for _, c := range s.Calls() {
		if c.Op == "CreateAd" {
			out = append(out, c.Name)
		}
	}
	return out
}

func TestClient_SubmitPreflightError(t *testing.T) {
	f := newFixture(t)
	f.sandbox.SetReady(false)

	_, err := f.client.Submit(context.Background(), bulk.Request{TemplateID: "t1"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.Equal(t, "AUTH_NOT_INITIALIZED", apiErr.Code)

	jobs, err := f.jobs.List()
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestDecodeError_NonEnvelope(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer ts.Close()

	client, err := New(ts.URL)
	require.NoError(t, err)
	_, err = client.GetJob(context.Background(), "x")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "HTTP_502", apiErr.Code)
	assert.Equal(t, "upstream exploded", apiErr.Message)
}

func TestClient_AdminSignal(t *testing.T) {
	var gotAuth, gotBody string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r.Body)
		gotBody = buf.String()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	client, err := New(ts.URL)
	require.NoError(t, err)
	require.NoError(t, client.AdminSignal(context.Background(), "tok", "gc"))
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.JSONEq(t, `{"signal":"gc"}`, gotBody)
}
