// Package orchestrator turns generation requests into jobs: it checks and
// debits the ledger, records the job, runs the provider chain and applies the
// outcome. Poll reconciles processing jobs with their provider or the local
// artifact store.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/bobarin/slnpart/internal/ledger"
	"github.com/bobarin/slnpart/internal/metrics"
	"github.com/bobarin/slnpart/internal/models"
	"github.com/bobarin/slnpart/internal/providers"
)

const (
	DefaultRecentLimit = 10
	MaxRecentLimit     = 50
)

// JobStore is the persistence the orchestrator needs. Transitions are
// conditional and fail with models.ErrInvalidTransition when the job is no
// longer in the expected status.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListRecentJobs(ctx context.Context, kind models.JobKind, owner *uuid.UUID, limit int) ([]models.Job, error)
	StartJob(ctx context.Context, id uuid.UUID, params models.JSONB) error
	SetJobHandle(ctx context.Context, id uuid.UUID, provider, handle string) error
	CompleteJob(ctx context.Context, id uuid.UUID, provider, ref string) error
	FailJob(ctx context.Context, id uuid.UUID, provider, reason string) error
}

type Ledger interface {
	Balance(ctx context.Context, actor models.Actor) (int, error)
	Debit(ctx context.Context, actor models.Actor, amount int) (int, error)
}

// Generator is the provider adapter.
type Generator interface {
	Generate(ctx context.Context, req providers.Request) providers.Outcome
	Poll(ctx context.Context, providerName, handle string) (providers.Outcome, error)
}

// Artifacts is the local artifact store.
type Artifacts interface {
	OutputPath(kind models.JobKind, jobID uuid.UUID) string
	UploadPath(kind models.JobKind, jobID uuid.UUID, ext string) string
	SaveUpload(p string, r io.Reader, maxBytes int64) error
	IsLocal(ref string) bool
	Exists(ref string) bool
	Download(ctx context.Context, url, dest string) error
	Remove(p string) error
}

// Limits bounds client uploads and the copy of remote artifacts.
type Limits struct {
	MaxUploadBytes  int64
	DownloadTimeout time.Duration
}

const defaultDownloadTimeout = 2 * time.Minute

// Upload is client media attached to a request.
type Upload struct {
	Body io.Reader
	Ext  string
}

// Submission is an accepted request and the actor's balance after the debit.
type Submission struct {
	Job             *models.Job
	TokensRemaining int
}

type Orchestrator struct {
	jobs      JobStore
	ledger    Ledger
	generator Generator
	artifacts Artifacts
	costs     ledger.Costs
	limits    Limits
	polls     singleflight.Group
	log       zerolog.Logger
}

func New(jobs JobStore, l Ledger, generator Generator, artifacts Artifacts, costs ledger.Costs, limits Limits, log zerolog.Logger) *Orchestrator {
	if limits.DownloadTimeout <= 0 {
		limits.DownloadTimeout = defaultDownloadTimeout
	}
	return &Orchestrator{
		jobs:      jobs,
		ledger:    l,
		generator: generator,
		artifacts: artifacts,
		costs:     costs,
		limits:    limits,
		log:       log,
	}
}

// Submit validates, debits and runs one job to an outcome. A failed job is a
// successful submission; the debit is never refunded.
func (o *Orchestrator) Submit(ctx context.Context, actor models.Actor, kind models.JobKind, params models.JSONB, upload *Upload) (*Submission, error) {
	if err := validate(kind, params, upload != nil); err != nil {
		return nil, err
	}

	job, remaining, err := o.accept(ctx, actor, kind, params, upload, models.JobStatusProcessing)
	if err != nil {
		return nil, err
	}

	if err := o.run(ctx, job, "submit"); err != nil {
		return nil, err
	}
	return &Submission{Job: job, TokensRemaining: remaining}, nil
}

// Stage stores a vocal take and debits for mastering without starting it.
// The job waits in uploaded until Begin.
func (o *Orchestrator) Stage(ctx context.Context, actor models.Actor, params models.JSONB, upload Upload) (*Submission, error) {
	kind := models.JobKindAudioMaster
	if err := validate(kind, params, upload.Body != nil); err != nil {
		return nil, err
	}

	job, remaining, err := o.accept(ctx, actor, kind, params, &upload, models.JobStatusUploaded)
	if err != nil {
		return nil, err
	}
	return &Submission{Job: job, TokensRemaining: remaining}, nil
}

// Begin moves a staged mastering job to processing with the chosen settings
// and runs it. Jobs owned by an account can only be started by that account.
func (o *Orchestrator) Begin(ctx context.Context, actor models.Actor, id uuid.UUID, params models.JSONB) (*models.Job, error) {
	job, err := o.jobs.GetJob(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	if err := authorize(actor, job); err != nil {
		return nil, err
	}
	if job.Kind != models.JobKindAudioMaster {
		return nil, fmt.Errorf("%w: only mastering jobs are staged", models.ErrValidation)
	}
	if job.Status != models.JobStatusUploaded {
		return nil, fmt.Errorf("job is %s: %w", job.Status, models.ErrInvalidTransition)
	}
	if err := validateMastering(params); err != nil {
		return nil, err
	}

	merged := cloneParams(job.Params)
	for k, v := range params {
		if k == models.ParamSourcePath {
			continue
		}
		merged[k] = v
	}

	if err := o.jobs.StartJob(ctx, id, merged); err != nil {
		return nil, storeErr(err)
	}
	job.Params = merged
	job.Status = models.JobStatusProcessing

	if err := o.run(ctx, job, "submit"); err != nil {
		return nil, err
	}
	return job, nil
}

// Poll returns the job, first promoting a processing job whose artifact has
// appeared or whose provider reports a result. Terminal and uploaded jobs are
// returned without contacting anyone. Concurrent polls of one job share a
// single reconciliation.
func (o *Orchestrator) Poll(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	v, err, _ := o.polls.Do(id.String(), func() (interface{}, error) {
		return o.reconcile(context.WithoutCancel(ctx), id)
	})
	if err != nil {
		return nil, err
	}
	job := *v.(*models.Job)
	return &job, nil
}

// Original returns the stored vocal take of a mastering job.
func (o *Orchestrator) Original(ctx context.Context, actor models.Actor, id uuid.UUID) (string, error) {
	job, err := o.jobs.GetJob(ctx, id)
	if err != nil {
		return "", storeErr(err)
	}
	if err := authorize(actor, job); err != nil {
		return "", err
	}
	if job.Kind != models.JobKindAudioMaster {
		return "", fmt.Errorf("%w: only mastering jobs keep an original", models.ErrValidation)
	}
	src := job.Params.String(models.ParamSourcePath)
	if src == "" || !o.artifacts.Exists(src) {
		return "", fmt.Errorf("original audio for job %s: %w", id, models.ErrNotFound)
	}
	return src, nil
}

// Recent lists the newest jobs of kind, optionally for one account.
func (o *Orchestrator) Recent(ctx context.Context, kind models.JobKind, owner *uuid.UUID, limit int) ([]models.Job, error) {
	if kind != "" && !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown job kind %q", models.ErrValidation, kind)
	}
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}
	jobs, err := o.jobs.ListRecentJobs(ctx, kind, owner, limit)
	if err != nil {
		return nil, storeErr(err)
	}
	return jobs, nil
}

// accept checks the balance, stores any upload, debits and records the job.
// Nothing is kept when the balance is short or the debit fails.
func (o *Orchestrator) accept(ctx context.Context, actor models.Actor, kind models.JobKind, params models.JSONB, upload *Upload, status models.JobStatus) (*models.Job, int, error) {
	cost, err := o.costs.For(kind)
	if err != nil {
		return nil, 0, err
	}

	balance, err := o.ledger.Balance(ctx, actor)
	if err != nil {
		return nil, 0, storeErr(err)
	}
	if balance < cost {
		return nil, 0, fmt.Errorf("%w: %s costs %d, balance is %d", models.ErrInsufficientFunds, kind, cost, balance)
	}

	job := &models.Job{
		ID:     uuid.New(),
		Kind:   kind,
		Params: cloneParams(params),
		Status: status,
	}
	delete(job.Params, models.ParamSourcePath)
	if id, ok := actor.AccountID(); ok {
		job.OwnerAccountID = &id
	}
	job.ResultRef = o.artifacts.OutputPath(kind, job.ID)

	if upload != nil {
		src := o.artifacts.UploadPath(kind, job.ID, upload.Ext)
		if err := o.artifacts.SaveUpload(src, upload.Body, o.limits.MaxUploadBytes); err != nil {
			return nil, 0, storeErr(err)
		}
		job.Params[models.ParamSourcePath] = src
	}

	remaining, err := o.ledger.Debit(ctx, actor, cost)
	if err != nil {
		o.discardUpload(job)
		return nil, 0, storeErr(err)
	}

	if err := o.jobs.CreateJob(ctx, job); err != nil {
		o.log.Error().Err(err).
			Str("actor", actor.String()).
			Str("kind", string(kind)).
			Int("debited", cost).
			Msg("job not recorded after debit")
		o.discardUpload(job)
		return nil, 0, storeErr(err)
	}

	metrics.JobsSubmittedTotal.WithLabelValues(string(kind)).Inc()
	o.log.Info().
		Str("job_id", job.ID.String()).
		Str("kind", string(kind)).
		Str("actor", actor.String()).
		Str("status", string(status)).
		Int("tokens_remaining", remaining).
		Msg("job accepted")
	return job, remaining, nil
}

func (o *Orchestrator) discardUpload(job *models.Job) {
	src := job.Params.String(models.ParamSourcePath)
	if src == "" {
		return
	}
	if err := o.artifacts.Remove(src); err != nil {
		o.log.Warn().Err(err).Str("job_id", job.ID.String()).Msg("failed to remove upload")
	}
}

// run drives a processing job through the provider chain and refreshes job
// with the stored result. Generation outlives the client request; each
// provider call carries its own timeout.
func (o *Orchestrator) run(ctx context.Context, job *models.Job, path string) error {
	ctx = context.WithoutCancel(ctx)

	out := o.generator.Generate(ctx, providers.Request{
		JobID:      job.ID,
		Kind:       job.Kind,
		Params:     job.Params,
		OutputPath: o.artifacts.OutputPath(job.Kind, job.ID),
		SourcePath: job.Params.String(models.ParamSourcePath),
	})
	if err := o.apply(ctx, job, out, path); err != nil {
		return err
	}

	stored, err := o.jobs.GetJob(ctx, job.ID)
	if err != nil {
		return storeErr(err)
	}
	*job = *stored
	return nil
}

// apply records an outcome on a processing job. Losing a race to another
// transition is not an error; the stored state wins.
func (o *Orchestrator) apply(ctx context.Context, job *models.Job, out providers.Outcome, path string) error {
	logger := o.log.With().Str("job_id", job.ID.String()).Str("provider", out.Provider).Str("path", path).Logger()

	var err error
	switch out.Kind {
	case providers.OutcomeImmediate:
		ref := o.localize(ctx, job, out.Ref)
		if err = o.jobs.CompleteJob(ctx, job.ID, out.Provider, ref); err == nil {
			metrics.JobsFinishedTotal.WithLabelValues(string(job.Kind), string(models.JobStatusCompleted), path).Inc()
			logger.Info().Msg("job completed")
		}
	case providers.OutcomeDeferred:
		if err = o.jobs.SetJobHandle(ctx, job.ID, out.Provider, out.Ref); err == nil {
			logger.Info().Str("handle", out.Ref).Msg("job deferred to provider")
		}
	case providers.OutcomeFailed:
		if err = o.jobs.FailJob(ctx, job.ID, out.Provider, out.Reason); err == nil {
			metrics.JobsFinishedTotal.WithLabelValues(string(job.Kind), string(models.JobStatusFailed), path).Inc()
			logger.Error().Str("reason", out.Reason).Msg("job failed")
		}
	default:
		return fmt.Errorf("unknown outcome kind %q", out.Kind)
	}

	if errors.Is(err, models.ErrInvalidTransition) {
		logger.Warn().Err(err).Msg("job already moved on, outcome dropped")
		return nil
	}
	if err != nil {
		return storeErr(err)
	}
	return nil
}

// localize copies a remote artifact into the store so the job does not depend
// on a provider URL that expires. The URL is kept when the copy fails or runs
// past the download timeout.
func (o *Orchestrator) localize(ctx context.Context, job *models.Job, ref string) string {
	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		return ref
	}
	ctx, cancel := context.WithTimeout(ctx, o.limits.DownloadTimeout)
	defer cancel()

	dest := o.artifacts.OutputPath(job.Kind, job.ID)
	if err := o.artifacts.Download(ctx, ref, dest); err != nil {
		o.log.Warn().Err(err).Str("job_id", job.ID.String()).Msg("keeping remote artifact url")
		return ref
	}
	return dest
}

func (o *Orchestrator) reconcile(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	job, err := o.jobs.GetJob(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	if job.Status != models.JobStatusProcessing {
		return job, nil
	}

	var out providers.Outcome
	switch {
	case o.artifacts.IsLocal(job.ResultRef):
		if !o.artifacts.Exists(job.ResultRef) {
			return job, nil
		}
		out = providers.Immediate(job.ResultRef)
		out.Provider = job.Provider
	case job.Provider != "" && job.ResultRef != "":
		out, err = o.generator.Poll(ctx, job.Provider, job.ResultRef)
		if err != nil {
			o.log.Warn().Err(err).Str("job_id", id.String()).Str("provider", job.Provider).Msg("provider poll failed, job unchanged")
			return job, nil
		}
		if out.Kind == providers.OutcomeDeferred {
			return job, nil
		}
	default:
		return job, nil
	}

	if err := o.apply(ctx, job, out, "poll"); err != nil {
		return nil, err
	}
	stored, err := o.jobs.GetJob(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	return stored, nil
}

// authorize allows anyone holding the id of an anonymous job, and only the
// owner for account jobs.
func authorize(actor models.Actor, job *models.Job) error {
	if job.OwnerAccountID == nil {
		return nil
	}
	if id, ok := actor.AccountID(); ok && id == *job.OwnerAccountID {
		return nil
	}
	return fmt.Errorf("job belongs to another account: %w", models.ErrForbidden)
}

// storeErr passes domain errors through and reports anything else as the
// store being unavailable.
func storeErr(err error) error {
	for _, known := range []error{
		models.ErrValidation, models.ErrInsufficientFunds, models.ErrNotFound,
		models.ErrInvalidTransition, models.ErrForbidden, models.ErrUnauthorized,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", models.ErrStorage, err)
}

func cloneParams(p models.JSONB) models.JSONB {
	out := make(models.JSONB, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
