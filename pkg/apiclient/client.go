// Package apiclient is a small client for the adfanout HTTP API.
package apiclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/3leaps/adfanout/pkg/bulk"
	"github.com/3leaps/adfanout/pkg/jobregistry"
	"github.com/3leaps/adfanout/pkg/media"
	"github.com/3leaps/adfanout/pkg/progress"
	"github.com/3leaps/adfanout/pkg/template"
)

// DefaultTimeout bounds non-streaming requests.
const DefaultTimeout = 30 * time.Second

// ErrNotFound matches any 404 APIError.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response decoded from the error envelope.
type APIError struct {
	Status    int
	Code      string
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s (HTTP %d): %s", e.Code, e.Status, e.Message)
	if e.RequestID != "" {
		msg += " [request_id=" + e.RequestID + "]"
	}
	return msg
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// SubmitResponse is returned by POST /api/v1/bulk.
type SubmitResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Event is one message from a job's progress stream.
type Event struct {
	Type   string
	Update progress.Update
}

type list[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

// Client talks to one adfanout server.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	stream  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the client used for non-streaming calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// New creates a client for baseURL, e.g. "http://localhost:8080".
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url must be http or https: %q", baseURL)
	}
	c := &Client{
		baseURL: u,
		http:    &http.Client{Timeout: DefaultTimeout},
		stream:  &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = query.Encode()
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.do(ctx, method, path, nil, body, contentType, out)
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{Status: resp.StatusCode, Code: "HTTP_" + strconv.Itoa(resp.StatusCode)}

	var env struct {
		Error struct {
			Code      string `json:"code"`
			Message   string `json:"message"`
			RequestID string `json:"request_id"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err == nil && env.Error.Code != "" {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.RequestID = env.Error.RequestID
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(string(data))
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

// Submit posts a bulk request.
func (c *Client) Submit(ctx context.Context, req bulk.Request) (*SubmitResponse, error) {
	var out SubmitResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/bulk", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListJobs lists jobs, optionally filtered by status. limit <= 0 means all.
func (c *Client) ListJobs(ctx context.Context, status string, limit int) ([]jobregistry.JobRecord, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out list[jobregistry.JobRecord]
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs", q, nil, "", &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *Client) GetJob(ctx context.Context, jobID string) (*jobregistry.JobRecord, error) {
	var out jobregistry.JobRecord
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(jobID), nil, nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteJob(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/jobs/"+url.PathEscape(jobID), nil, nil, "", nil)
}

// WatchJob follows a job's SSE stream, calling fn for each event until the
// stream ends or ctx is cancelled. It returns the last update seen.
func (c *Client) WatchJob(ctx context.Context, jobID string, fn func(Event)) (*progress.Update, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.endpoint("/api/v1/jobs/"+url.PathEscape(jobID)+"/events", nil), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("watch job %s: %w", jobID, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return nil, decodeError(resp)
	}

	var last *progress.Update
	var name, data string
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64<<10), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if name == "" {
				continue
			}
			ev := Event{Type: name}
			if err := json.Unmarshal([]byte(data), &ev.Update); err != nil {
				return last, fmt.Errorf("decode %s event: %w", name, err)
			}
			u := ev.Update
			last = &u
			if fn != nil {
				fn(ev)
			}
			name, data = "", ""
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data += strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		return last, fmt.Errorf("read event stream: %w", err)
	}
	return last, nil
}

func (c *Client) ListTemplates(ctx context.Context) ([]template.Template, error) {
	var out list[template.Template]
	if err := c.do(ctx, http.MethodGet, "/api/v1/templates", nil, nil, "", &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *Client) GetTemplate(ctx context.Context, id string) (*template.Template, error) {
	var out template.Template
	if err := c.do(ctx, http.MethodGet, "/api/v1/templates/"+url.PathEscape(id), nil, nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ApplyTemplate creates t, or replaces it when t.ID already exists. The
// bool reports whether it was created.
func (c *Client) ApplyTemplate(ctx context.Context, t template.Template) (*template.Template, bool, error) {
	t.CreatedAt, t.UpdatedAt = time.Time{}, time.Time{}
	body := &t

	var out template.Template
	if t.ID != "" {
		err := c.doJSON(ctx, http.MethodPut, "/api/v1/templates/"+url.PathEscape(t.ID), body, &out)
		if err == nil {
			return &out, false, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, false, err
		}
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/templates", body, &out); err != nil {
		return nil, false, err
	}
	return &out, true, nil
}

func (c *Client) DeleteTemplate(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/templates/"+url.PathEscape(id), nil, nil, "", nil)
}

// UploadMedia streams body to POST /api/v1/media as a multipart upload.
func (c *Client) UploadMedia(ctx context.Context, filename string, body io.Reader) (*media.Descriptor, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filename)
		if err == nil {
			_, err = io.Copy(part, body)
		}
		if err == nil {
			err = mw.Close()
		}
		_ = pw.CloseWithError(err)
	}()

	var out media.Descriptor
	if err := c.do(ctx, http.MethodPost, "/api/v1/media", nil, pr, mw.FormDataContentType(), &out); err != nil {
		_ = pr.CloseWithError(err)
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListMedia(ctx context.Context) ([]media.Descriptor, error) {
	var out list[media.Descriptor]
	if err := c.do(ctx, http.MethodGet, "/api/v1/media", nil, nil, "", &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// AdminSignal sends a named signal to POST /admin/signal.
func (c *Client) AdminSignal(ctx context.Context, token, signal string) error {
	data, err := json.Marshal(map[string]string{"signal": signal})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/admin/signal", nil), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("admin signal %s: %w", signal, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	return nil
}
