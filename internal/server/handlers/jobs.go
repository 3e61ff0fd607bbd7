package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/adfanout/internal/errors"
	"github.com/3leaps/adfanout/pkg/bulk"
	"github.com/3leaps/adfanout/pkg/jobregistry"
	"github.com/3leaps/adfanout/pkg/progress"
)

// DefaultPollInterval is how often event streams re-read the job record
// and send a keepalive.
const DefaultPollInterval = 2 * time.Second

// Event names used on SSE and WebSocket streams.
const (
	EventSnapshot = "snapshot"
	EventProgress = "progress"
	EventDeleted  = "deleted"
)

// Subscriber hands out per-job progress subscriptions.
type Subscriber interface {
	Subscribe(jobID string) (<-chan progress.Update, func())
}

// Forgetter drops per-job bookkeeping once a job is gone.
type Forgetter interface {
	Forget(jobID string)
}

// JobHandler serves bulk submission, job queries and progress streams.
type JobHandler struct {
	orch         *bulk.Orchestrator
	jobs         jobregistry.Store
	events       Subscriber
	pollInterval time.Duration
	upgrader     websocket.Upgrader
	logger       *zap.Logger
}

// JobHandlerOption configures a JobHandler.
type JobHandlerOption func(*JobHandler)

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) JobHandlerOption {
	return func(h *JobHandler) {
		if d > 0 {
			h.pollInterval = d
		}
	}
}

// WithCheckOrigin sets the WebSocket origin policy.
func WithCheckOrigin(fn func(r *http.Request) bool) JobHandlerOption {
	return func(h *JobHandler) { h.upgrader.CheckOrigin = fn }
}

// NewJobHandler creates the handler. events may be nil, in which case
// streams fall back to polling the store.
func NewJobHandler(orch *bulk.Orchestrator, events Subscriber, logger *zap.Logger, opts ...JobHandlerOption) *JobHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &JobHandler{
		orch:         orch,
		jobs:         orch.Jobs(),
		events:       events,
		pollInterval: DefaultPollInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SubmitResponse acknowledges an accepted bulk request.
type SubmitResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Submit handles POST /api/v1/bulk.
func (h *JobHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req bulk.Request
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}

	task, err := h.orch.Submit(r.Context(), req)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	resp := SubmitResponse{
		JobID:   task.JobID(),
		Status:  string(jobregistry.JobStatusPending),
		Message: "Bulk creation job accepted",
	}
	// Scheduling failures finish the task before Submit returns.
	if rec, err := task.Result(); err == nil && rec != nil && rec.Status.Terminal() {
		resp.Status = string(rec.Status)
		resp.Message = "Bulk creation job could not be scheduled"
	}
	w.Header().Set("Location", "/api/v1/jobs/"+task.JobID())
	writeJSON(w, http.StatusAccepted, resp)
}

// List handles GET /api/v1/jobs?status=&limit=.
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobs.List()
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	q := r.URL.Query()
	if s := strings.ToUpper(strings.TrimSpace(q.Get("status"))); s != "" {
		filtered := jobs[:0]
		for _, j := range jobs {
			if string(j.Status) == s {
				filtered = append(filtered, j)
			}
		}
		jobs = filtered
	}
	if l := strings.TrimSpace(q.Get("limit")); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			respondWithError(w, r, fmt.Errorf("%w: limit must be a non-negative integer", apperrors.ErrBadRequest))
			return
		}
		if n > 0 && n < len(jobs) {
			jobs = jobs[:n]
		}
	}
	writeJSON(w, http.StatusOK, newList(jobs))
}

// Get handles GET /api/v1/jobs/{id}.
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.jobs.Get(pathID(r))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Delete handles DELETE /api/v1/jobs/{id}.
//
// Deleting a job that is still processing is allowed; its run stops at
// the next state write and reports the job as deleted.
func (h *JobHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	if err := h.jobs.Delete(id); err != nil {
		respondWithError(w, r, err)
		return
	}
	if f, ok := h.events.(Forgetter); ok {
		f.Forget(id)
	}
	h.logger.Info("Job deleted", zap.String("job_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// Event is one message on a progress stream.
type Event struct {
	Type   string           `json:"type"`
	Update *progress.Update `json:"data,omitempty"`
}

type emitFunc func(ev Event) error

// stream drives a progress stream for jobID until the job is terminal or
// gone, ctx ends, or emit fails. keepalive runs on every poll tick.
//
// The subscription is taken before the snapshot is read so no update
// between the two is lost. The periodic re-read covers updates a slow
// subscriber missed, including the terminal one.
func (h *JobHandler) stream(ctx context.Context, jobID string, emit emitFunc, keepalive func() error) error {
	var updates <-chan progress.Update
	if h.events != nil {
		ch, unsub := h.events.Subscribe(jobID)
		defer unsub()
		updates = ch
	}

	rec, err := h.jobs.Get(jobID)
	if err != nil {
		return err
	}
	snap := updateFromRecord(rec)
	if err := emit(Event{Type: EventSnapshot, Update: &snap}); err != nil {
		return err
	}
	if snap.Terminal {
		return nil
	}

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()
	lastProgress := snap.Progress

	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			if u.Progress < lastProgress {
				continue
			}
			lastProgress = u.Progress
			if err := emit(Event{Type: EventProgress, Update: &u}); err != nil {
				return err
			}
			if u.Terminal {
				return nil
			}
		case <-ticker.C:
			rec, err := h.jobs.Get(jobID)
			if errors.Is(err, jobregistry.ErrJobNotFound) {
				return emit(Event{Type: EventDeleted})
			}
			if err != nil {
				h.logger.Warn("Job stream poll failed", zap.String("job_id", jobID), zap.Error(err))
			} else if rec.Status.Terminal() {
				u := updateFromRecord(rec)
				return emit(Event{Type: EventProgress, Update: &u})
			}
			if keepalive != nil {
				if err := keepalive(); err != nil {
					return err
				}
			}
		}
	}
}

func updateFromRecord(rec *jobregistry.JobRecord) progress.Update {
	return progress.Update{
		JobID:    rec.JobID,
		Progress: rec.Progress,
		Status:   string(rec.Status),
		Created:  rec.CreatedCount,
		Failed:   rec.FailedCount,
		Total:    rec.TotalItems,
		Terminal: rec.Status.Terminal(),
		At:       rec.UpdatedAt,
	}
}

// Events handles GET /api/v1/jobs/{id}/events as a Server-Sent Events
// stream.
func (h *JobHandler) Events(w http.ResponseWriter, r *http.Request) {
	jobID := pathID(r)
	if _, err := h.jobs.Get(jobID); err != nil {
		respondWithError(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondWithError(w, r, apperrors.NewErrorEnvelope(apperrors.CodeInternal, "streaming unsupported"))
		return
	}

	// Streams outlive the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	emit := func(ev Event) error {
		data, err := json.Marshal(ev.Update)
		if err != nil {
			return err
		}
		if ev.Update != nil && ev.Update.Seq > 0 {
			if _, err := fmt.Fprintf(w, "id: %d\n", ev.Update.Seq); err != nil {
				return err
			}
		}
		if ev.Update == nil {
			data = []byte(fmt.Sprintf(`{"job_id":%q}`, jobID))
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}
	keepalive := func() error {
		if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := h.stream(r.Context(), jobID, emit, keepalive); err != nil {
		h.logger.Debug("SSE stream ended", zap.String("job_id", jobID), zap.Error(err))
	}
}

const wsWriteWait = 10 * time.Second

// WebSocket handles GET /api/v1/jobs/{id}/ws.
func (h *JobHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	jobID := pathID(r)
	if _, err := h.jobs.Get(jobID); err != nil {
		respondWithError(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The read loop only exists to notice the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debug("WebSocket read error", zap.String("job_id", jobID), zap.Error(err))
				}
				return
			}
		}
	}()

	emit := func(ev Event) error {
		if ev.Update == nil {
			ev.Update = &progress.Update{JobID: jobID}
		}
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(ev)
	}
	keepalive := func() error {
		return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
	}

	err = h.stream(ctx, jobID, emit, keepalive)
	if err != nil {
		h.logger.Debug("WebSocket stream ended", zap.String("job_id", jobID), zap.Error(err))
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream complete"),
		time.Now().Add(wsWriteWait))
}
