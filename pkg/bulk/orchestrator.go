// Package bulk fans one ad template out across many media items.
//
// Submit checks pre-flight conditions synchronously, records a PENDING job
// and hands the run to a Runner. The run creates the campaign, the ad set
// and then one ad per media item in input order. Item failures are recorded
// and never stop the batch; the job ends FAILED only when every item
// failed or the run itself broke.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/adfanout/pkg/jobregistry"
	"github.com/3leaps/adfanout/pkg/media"
	"github.com/3leaps/adfanout/pkg/platform"
	"github.com/3leaps/adfanout/pkg/progress"
	"github.com/3leaps/adfanout/pkg/template"
)

// Defaults applied by New.
const (
	DefaultCallTimeout     = 10 * time.Second
	DefaultFallbackAdSetID = "placeholder_ad_set_id"
	DefaultBudgetAmount    = 1000
	DefaultBudgetCurrency  = "USD"
)

// MediaResolver looks up stored media for a job.
type MediaResolver interface {
	Get(id string) (*media.Descriptor, error)
	SetPlatformToken(id, token string) error
}

// Deps are the collaborators an Orchestrator drives.
type Deps struct {
	Platform  platform.Client
	Templates template.Provider
	Jobs      jobregistry.Store
	Runner    Runner

	// Media is optional. Without it, media ids are passed to the platform
	// as bare references.
	Media MediaResolver

	// Publisher is optional; updates are dropped when nil.
	Publisher progress.Publisher

	Logger *zap.Logger
}

// Config tunes the orchestrator.
type Config struct {
	// CallTimeout bounds each remote call. Zero uses DefaultCallTimeout.
	CallTimeout time.Duration

	// FallbackAdSetID is used for ads when no ad set was created and the
	// request names none.
	FallbackAdSetID string

	// DefaultBudget applies when neither the request nor the template
	// carries one.
	DefaultBudget platform.Budget

	// Objective is the campaign objective. Empty uses the platform default.
	Objective string
}

// Orchestrator runs bulk creation jobs.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

// New creates an Orchestrator.
func New(deps Deps, cfg Config) (*Orchestrator, error) {
	switch {
	case deps.Platform == nil:
		return nil, errors.New("bulk: platform client is required")
	case deps.Templates == nil:
		return nil, errors.New("bulk: template provider is required")
	case deps.Jobs == nil:
		return nil, errors.New("bulk: job store is required")
	case deps.Runner == nil:
		return nil, errors.New("bulk: runner is required")
	}
	if deps.Publisher == nil {
		deps.Publisher = progress.Nop
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if strings.TrimSpace(cfg.FallbackAdSetID) == "" {
		cfg.FallbackAdSetID = DefaultFallbackAdSetID
	}
	if cfg.DefaultBudget.Amount <= 0 {
		cfg.DefaultBudget.Amount = DefaultBudgetAmount
	}
	if cfg.DefaultBudget.Currency == "" {
		cfg.DefaultBudget.Currency = DefaultBudgetCurrency
	}
	if cfg.DefaultBudget.Type == "" {
		cfg.DefaultBudget.Type = "DAILY"
	}

	return &Orchestrator{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return uuid.New().String() },
	}, nil
}

// Jobs returns the store the orchestrator writes to.
func (o *Orchestrator) Jobs() jobregistry.Store {
	return o.deps.Jobs
}

// Submit validates pre-flight conditions, records a PENDING job and
// queues its run. The returned Task completes when the run is terminal.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (*Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !o.deps.Platform.Ready() {
		return nil, ErrAuthNotInitialized
	}
	req.MediaIDs = append([]string(nil), req.MediaIDs...)
	if req.Options.Budget != nil {
		b := *req.Options.Budget
		req.Options.Budget = &b
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	tmpl, err := o.deps.Templates.Get(req.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrTemplateNotFound, req.TemplateID, err)
	}
	tmpl = tmpl.Clone()

	now := o.now()
	record := &jobregistry.JobRecord{
		JobID:        o.newID(),
		Status:       jobregistry.JobStatusPending,
		TemplateID:   tmpl.ID,
		CampaignName: campaignName(req, tmpl),
		AdSetName:    adSetName(req, tmpl),
		TotalItems:   len(req.MediaIDs),
		Results:      jobregistry.Results{AdIDs: []string{}},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := o.deps.Jobs.Create(record); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	task := newTask(record.JobID)
	r := &run{
		o:      o,
		jobID:  record.JobID,
		req:    req,
		tmpl:   tmpl,
		task:   task,
		logger: o.logger.With(zap.String("job_id", record.JobID), zap.String("template_id", tmpl.ID)),
	}

	if err := o.deps.Runner.Go(r.execute); err != nil {
		// The job exists but will never run; close it out so it is not
		// left PENDING.
		r.logger.Error("Failed to schedule job", zap.Error(err))
		r.fail(fmt.Errorf("schedule job: %w", err))
		return task, nil
	}

	r.logger.Info("Job submitted", zap.Int("items", record.TotalItems))
	return task, nil
}

func campaignName(req Request, tmpl *template.Template) string {
	if req.CampaignName != "" {
		return req.CampaignName
	}
	return tmpl.Name + " Campaign"
}

func adSetName(req Request, tmpl *template.Template) string {
	if req.AdSetName != "" {
		return req.AdSetName
	}
	return tmpl.Name + " Ad Set"
}

// AdName is the name given to the ad for the item at index i.
func AdName(templateName string, i int) string {
	return fmt.Sprintf("%s - Ad %d", templateName, i+1)
}

// Progress is round(100 * attempted / total), 100 for an empty job.
func Progress(attempted, total int) int {
	if total <= 0 {
		return 100
	}
	if attempted >= total {
		return 100
	}
	return int(math.Round(100 * float64(attempted) / float64(total)))
}

// budgetFor picks the ad set budget: request override, then the template's
// delivery hint, then the configured default.
func (o *Orchestrator) budgetFor(req Request, tmpl *template.Template) platform.Budget {
	if req.Options.Budget != nil && req.Options.Budget.Amount > 0 {
		b := *req.Options.Budget
		if b.Currency == "" {
			b.Currency = o.cfg.DefaultBudget.Currency
		}
		if b.Type == "" {
			b.Type = o.cfg.DefaultBudget.Type
		}
		return b
	}
	if d := tmpl.Delivery; d != nil && d.DailyBudget > 0 {
		b := platform.Budget{Amount: d.DailyBudget, Currency: d.Currency, Type: d.BudgetType}
		if b.Currency == "" {
			b.Currency = o.cfg.DefaultBudget.Currency
		}
		if b.Type == "" {
			b.Type = "DAILY"
		}
		return b
	}
	return o.cfg.DefaultBudget
}

// run is the state of one job execution.
type run struct {
	o      *Orchestrator
	jobID  string
	req    Request
	tmpl   *template.Template
	task   *Task
	logger *zap.Logger

	seq  atomic.Uint64
	last *jobregistry.JobRecord
}

// errDeleted aborts a run whose record disappeared.
var errDeleted = errors.New("job record deleted")

func (r *run) execute(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Job run panicked",
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()))
			r.fail(fmt.Errorf("panic: %v", p))
		}
	}()

	if err := r.body(ctx); err != nil {
		if errors.Is(err, errDeleted) {
			r.abandon()
			return
		}
		r.logger.Error("Job run failed", zap.Error(err))
		r.fail(err)
	}
}

func (r *run) body(ctx context.Context) error {
	start := r.o.now()
	if err := r.update("Job started", func(j *jobregistry.JobRecord) {
		j.Status = jobregistry.JobStatusProcessing
		j.Progress = 0
		j.StartedAt = &start
	}); err != nil {
		return err
	}

	campaignID, err := r.campaignStage(ctx)
	if err != nil {
		return err
	}
	adSetID, err := r.adSetStage(ctx, campaignID)
	if err != nil {
		return err
	}

	for i, mediaID := range r.req.MediaIDs {
		if err := r.itemStage(ctx, i, mediaID, adSetID); err != nil {
			return err
		}
	}

	return r.finalize()
}

func (r *run) campaignStage(ctx context.Context) (string, error) {
	if !r.req.Options.CreateCampaign {
		return "", nil
	}

	callCtx, cancel := context.WithTimeout(ctx, r.o.cfg.CallTimeout)
	id, err := r.o.deps.Platform.CreateCampaign(callCtx, platform.CampaignSpec{
		Name:      r.last.CampaignName,
		Status:    r.req.status(),
		Objective: r.o.cfg.Objective,
	})
	cancel()

	if err != nil {
		r.logger.Warn("Campaign creation failed", zap.String("stage", string(jobregistry.StageCampaign)), zap.Error(err))
		return "", r.update("Campaign creation failed", func(j *jobregistry.JobRecord) {
			j.Results.Failures = append(j.Results.Failures, jobregistry.JobError{
				Stage:   jobregistry.StageCampaign,
				Message: err.Error(),
			})
		})
	}

	return id, r.update("Campaign created", func(j *jobregistry.JobRecord) {
		j.Results.CampaignID = id
	})
}

func (r *run) adSetStage(ctx context.Context, campaignID string) (string, error) {
	fallback := r.req.Options.AdSetID
	if fallback == "" {
		fallback = r.o.cfg.FallbackAdSetID
	}
	if !r.req.Options.CreateAdSet || campaignID == "" {
		if r.req.Options.AdSetID == "" {
			r.logger.Warn("No ad set created; using placeholder ad set id", zap.String("ad_set_id", fallback))
		}
		return fallback, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, r.o.cfg.CallTimeout)
	id, err := r.o.deps.Platform.CreateAdSet(callCtx, platform.AdSetSpec{
		CampaignID:       campaignID,
		Name:             r.last.AdSetName,
		Targeting:        r.tmpl.Targeting,
		Placements:       r.tmpl.Placements.PlacementList(),
		Budget:           r.o.budgetFor(r.req, r.tmpl),
		OptimizationGoal: deliveryField(r.tmpl, func(d *template.DeliveryHints) string { return d.OptimizationGoal }),
		BillingEvent:     deliveryField(r.tmpl, func(d *template.DeliveryHints) string { return d.BillingEvent }),
		Status:           r.req.status(),
	})
	cancel()

	if err != nil {
		r.logger.Warn("Ad set creation failed; using fallback ad set id",
			zap.String("stage", string(jobregistry.StageAdSet)),
			zap.String("ad_set_id", fallback),
			zap.Error(err))
		return fallback, r.update("Ad set creation failed", func(j *jobregistry.JobRecord) {
			j.Results.Failures = append(j.Results.Failures, jobregistry.JobError{
				Stage:   jobregistry.StageAdSet,
				Message: err.Error(),
			})
		})
	}

	return id, r.update("Ad set created", func(j *jobregistry.JobRecord) {
		j.Results.AdSetID = id
	})
}

func deliveryField(t *template.Template, get func(*template.DeliveryHints) string) string {
	if t.Delivery == nil {
		return ""
	}
	return get(t.Delivery)
}

func (r *run) itemStage(ctx context.Context, i int, mediaID, adSetID string) error {
	adID, err := r.createItem(ctx, i, mediaID, adSetID)
	total := len(r.req.MediaIDs)

	if err != nil {
		r.logger.Warn("Item creation failed",
			zap.String("stage", string(jobregistry.StageItem)),
			zap.Int("item_index", i),
			zap.String("media_id", mediaID),
			zap.Error(err))
		idx := i
		return r.update(fmt.Sprintf("Item %d of %d failed", i+1, total), func(j *jobregistry.JobRecord) {
			j.FailedCount++
			j.Results.Failures = append(j.Results.Failures, jobregistry.JobError{
				Stage:     jobregistry.StageItem,
				ItemRef:   mediaID,
				ItemIndex: &idx,
				Message:   err.Error(),
			})
			j.Progress = Progress(j.Attempted(), j.TotalItems)
		})
	}

	return r.update(fmt.Sprintf("Created ad %d of %d", i+1, total), func(j *jobregistry.JobRecord) {
		j.CreatedCount++
		j.Results.AdIDs = append(j.Results.AdIDs, adID)
		j.Progress = Progress(j.Attempted(), j.TotalItems)
	})
}

func (r *run) createItem(ctx context.Context, i int, mediaID, adSetID string) (string, error) {
	desc := media.Descriptor{ID: mediaID}
	if r.o.deps.Media != nil {
		d, err := r.o.deps.Media.Get(mediaID)
		if err != nil {
			return "", err
		}
		desc = *d
	}

	callCtx, cancel := context.WithTimeout(ctx, r.o.cfg.CallTimeout)
	token, err := r.o.deps.Platform.ResolveMediaToken(callCtx, desc)
	cancel()
	if err != nil {
		return "", fmt.Errorf("resolve media token: %w", err)
	}
	if r.o.deps.Media != nil && token != desc.PlatformToken {
		if err := r.o.deps.Media.SetPlatformToken(mediaID, token); err != nil {
			r.logger.Debug("Could not cache media token", zap.String("media_id", mediaID), zap.Error(err))
		}
	}

	callCtx, cancel = context.WithTimeout(ctx, r.o.cfg.CallTimeout)
	defer cancel()
	return r.o.deps.Platform.CreateAd(callCtx, platform.AdSpec{
		AdSetID:    adSetID,
		Name:       AdName(r.tmpl.Name, i),
		AdCopy:     r.tmpl.AdCopy,
		MediaToken: token,
		MediaKind:  desc.Kind,
		Status:     r.req.status(),
	})
}

func (r *run) finalize() error {
	end := r.o.now()
	err := r.update("", func(j *jobregistry.JobRecord) {
		if j.TotalItems > 0 && j.FailedCount == j.TotalItems {
			j.Status = jobregistry.JobStatusFailed
		} else {
			j.Status = jobregistry.JobStatusCompleted
		}
		j.Progress = 100
		j.EndedAt = &end
	})
	if err != nil {
		return err
	}

	r.logger.Info("Job finished",
		zap.String("status", string(r.last.Status)),
		zap.Int("created", r.last.CreatedCount),
		zap.Int("failed", r.last.FailedCount))
	r.task.finish(r.last, nil)
	return nil
}

// fail forces the job to FAILED with an unexpected-stage error.
func (r *run) fail(cause error) {
	end := r.o.now()
	rec, err := r.o.deps.Jobs.Update(r.jobID, func(j *jobregistry.JobRecord) error {
		j.Status = jobregistry.JobStatusFailed
		j.Progress = 100
		j.EndedAt = &end
		j.Results.Failures = append(j.Results.Failures, jobregistry.JobError{
			Stage:   jobregistry.StageUnexpected,
			Message: cause.Error(),
		})
		return nil
	})
	if err != nil {
		if errors.Is(err, jobregistry.ErrJobNotFound) {
			r.abandon()
			return
		}
		r.logger.Error("Failed to mark job failed", zap.Error(err))
		r.task.finish(r.last, fmt.Errorf("mark job failed: %w", err))
		return
	}
	r.last = rec
	r.publish(rec, "Job failed: "+cause.Error(), true)
	r.task.finish(rec, nil)
}

func (r *run) abandon() {
	r.logger.Info("Job deleted while running; stopping")
	u := progress.Update{
		JobID:    r.jobID,
		Seq:      r.seq.Add(1),
		Message:  "Job deleted",
		Terminal: true,
		At:       r.o.now(),
	}
	if r.last != nil {
		u.Progress = r.last.Progress
		u.Status = string(r.last.Status)
	}
	r.send(u)
	r.task.finish(r.last, ErrJobDeleted)
}

// update applies fn to the stored record and publishes the result.
// Terminal-status records are published as terminal updates.
func (r *run) update(message string, fn func(*jobregistry.JobRecord)) error {
	rec, err := r.o.deps.Jobs.Update(r.jobID, func(j *jobregistry.JobRecord) error {
		fn(j)
		return nil
	})
	if err != nil {
		if errors.Is(err, jobregistry.ErrJobNotFound) {
			return errDeleted
		}
		return fmt.Errorf("update job: %w", err)
	}
	r.last = rec
	if message == "" && rec.Status.Terminal() {
		message = fmt.Sprintf("Job %s: %d created, %d failed", strings.ToLower(string(rec.Status)), rec.CreatedCount, rec.FailedCount)
	}
	r.publish(rec, message, rec.Status.Terminal())
	return nil
}

func (r *run) publish(rec *jobregistry.JobRecord, message string, terminal bool) {
	r.send(progress.Update{
		JobID:    rec.JobID,
		Seq:      r.seq.Add(1),
		Progress: rec.Progress,
		Status:   string(rec.Status),
		Message:  message,
		Created:  rec.CreatedCount,
		Failed:   rec.FailedCount,
		Total:    rec.TotalItems,
		Terminal: terminal,
		At:       r.o.now(),
	})
}

// send hands u to the publisher. Publishing is best effort; a panicking
// publisher must not fail the job.
func (r *run) send(u progress.Update) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn("Progress publisher panicked", zap.Any("panic", p))
		}
	}()
	r.o.deps.Publisher.Publish(u)
}
