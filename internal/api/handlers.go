package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bobarin/slnpart/internal/ledger"
	"github.com/bobarin/slnpart/internal/models"
	"github.com/bobarin/slnpart/internal/orchestrator"
	"github.com/bobarin/slnpart/internal/payments"
	"github.com/bobarin/slnpart/internal/services"
)

// Jobs is the orchestrator as seen by the handlers.
type Jobs interface {
	Submit(ctx context.Context, actor models.Actor, kind models.JobKind, params models.JSONB, upload *orchestrator.Upload) (*orchestrator.Submission, error)
	Stage(ctx context.Context, actor models.Actor, params models.JSONB, upload orchestrator.Upload) (*orchestrator.Submission, error)
	Begin(ctx context.Context, actor models.Actor, id uuid.UUID, params models.JSONB) (*models.Job, error)
	Poll(ctx context.Context, id uuid.UUID) (*models.Job, error)
	Original(ctx context.Context, actor models.Actor, id uuid.UUID) (string, error)
	Recent(ctx context.Context, kind models.JobKind, owner *uuid.UUID, limit int) ([]models.Job, error)
}

type Balances interface {
	Balance(ctx context.Context, actor models.Actor) (int, error)
}

type Accounts interface {
	Register(ctx context.Context, req models.RegisterRequest) (string, *models.Account, error)
	Login(ctx context.Context, email, password string) (string, *models.Account, error)
	Account(ctx context.Context, id uuid.UUID) (*models.Account, error)
	TokenTTL() time.Duration
}

type Checkouts interface {
	Checkout(ctx context.Context, actor models.Actor, packageName string) (*services.CheckoutSession, error)
	Complete(ctx context.Context, actor models.Actor, sessionID string) (int, bool, error)
}

// Artifacts maps stored artifact references to client URLs.
type Artifacts interface {
	PublicURL(ref string) string
}

type HandlerConfig struct {
	MaxUploadBytes int64
	Cookies        CookieOptions
	Costs          ledger.Costs
}

type Handler struct {
	jobs      Jobs
	balances  Balances
	accounts  Accounts
	checkouts Checkouts // nil when payments are not configured
	artifacts Artifacts
	validator *Validator
	cfg       HandlerConfig
	log       zerolog.Logger
}

func NewHandler(jobs Jobs, balances Balances, accounts Accounts, checkouts Checkouts, artifacts Artifacts, cfg HandlerConfig, log zerolog.Logger) *Handler {
	return &Handler{
		jobs:      jobs,
		balances:  balances,
		accounts:  accounts,
		checkouts: checkouts,
		artifacts: artifacts,
		validator: NewValidator(),
		cfg:       cfg,
		log:       log,
	}
}

var audioExts = map[string]bool{
	".wav": true, ".mp3": true, ".flac": true, ".m4a": true, ".aac": true, ".ogg": true,
}

const maxJSONBody = 1 << 20

// CreateCoverArt handles POST /v1/cover-art
func (h *Handler) CreateCoverArt(w http.ResponseWriter, r *http.Request) {
	var req models.CoverArtRequest
	if err := h.decode(w, r, &req); err != nil {
		respondErr(w, r, h.log, err)
		return
	}

	params := models.JSONB{
		models.ParamArtistName: strings.TrimSpace(req.ArtistName),
		models.ParamAlbumTitle: strings.TrimSpace(req.AlbumTitle),
		models.ParamGenre:      strings.TrimSpace(req.Genre),
		models.ParamExplicit:   req.ExplicitContent,
	}
	if p := strings.TrimSpace(req.Prompt); p != "" {
		params[models.ParamPrompt] = p
	}

	h.submit(w, r, models.JobKindCoverArt, params, nil)
}

// SuggestCoverPrompt handles POST /v1/cover-art/prompt. It is free and only
// returns text the client may send back as ai_prompt.
func (h *Handler) SuggestCoverPrompt(w http.ResponseWriter, r *http.Request) {
	var req models.CoverPromptRequest
	if err := h.decode(w, r, &req); err != nil {
		respondErr(w, r, h.log, err)
		return
	}

	ideas := services.CoverPrompts(strings.TrimSpace(req.Genre), strings.TrimSpace(req.ArtistName), strings.TrimSpace(req.AlbumTitle))
	i := rand.Intn(len(ideas))
	alternatives := make([]string, 0, len(ideas)-1)
	alternatives = append(alternatives, ideas[:i]...)
	alternatives = append(alternatives, ideas[i+1:]...)
	respondJSON(w, http.StatusOK, models.PromptResponse{Prompt: ideas[i], Alternatives: alternatives})
}

// SuggestScenePrompt handles POST /v1/video/prompt
func (h *Handler) SuggestScenePrompt(w http.ResponseWriter, r *http.Request) {
	var req models.ScenePromptRequest
	if err := h.decode(w, r, &req); err != nil {
		respondErr(w, r, h.log, err)
		return
	}

	prompt, alternatives := services.ScenePrompts(req.VisualStyle, strings.TrimSpace(req.TrackTitle), strings.TrimSpace(req.UserInput))
	respondJSON(w, http.StatusOK, models.PromptResponse{Prompt: prompt, Alternatives: alternatives})
}

// CreateMastering handles POST /v1/mastering (multipart: audio file plus
// template and eq_low/eq_mid/eq_high). It uploads and masters in one call.
func (h *Handler) CreateMastering(w http.ResponseWriter, r *http.Request) {
	upload, cleanup, err := h.readUpload(w, r, "audio", true)
	if err != nil {
		respondErr(w, r, h.log, err)
		return
	}
	defer cleanup()

	req, err := h.masteringForm(r)
	if err != nil {
		respondErr(w, r, h.log, err)
		return
	}

	params := models.JSONB{
		models.ParamTemplate: req.Template,
		models.ParamEQSettings: map[string]float64{
			"low":  req.EQLow,
			"mid":  req.EQMid,
			"high": req.EQHigh,
		},
	}
	if req.TrackTitle != "" {
		params[models.ParamTrackTitle] = req.TrackTitle
	}

	h.submit(w, r, models.JobKindAudioMaster, params, upload)
}

// UploadMastering handles POST /v1/mastering/uploads. The vocal is stored and
// paid for; mastering starts with StartMastering.
func (h *Handler) UploadMastering(w http.ResponseWriter, r *http.Request) {
	upload, cleanup, err := h.readUpload(w, r, "audio", true)
	if err != nil {
		respondErr(w, r, h.log, err)
		return
	}
	defer cleanup()

	req, err := h.masteringForm(r)
	if err != nil {
		respondErr(w, r, h.log, err)
		return
	}
	params := models.JSONB{}
	if req.TrackTitle != "" {
		params[models.ParamTrackTitle] = req.TrackTitle
	}

	actor, _ := ActorFrom(r.Context())
	sub, err := h.jobs.Stage(r.Context(), actor, params, *upload)
	if err != nil {
		respondErr(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, h.submitResponse(sub))
}

// StartMastering handles POST /v1/mastering/{id}/start
func (h *Handler) StartMastering(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid job ID")
		return
	}

	var req models.StartMasteringRequest
	if err := h.decode(w, r, &req); err != nil {
		respondErr(w, r, h.log, err)
		return
	}

	params := models.JSONB{models.ParamTemplate: req.Template}
	if len(req.EQSettings) > 0 {
		params[models.ParamEQSettings] = req.EQSettings
	}

	actor, _ := ActorFrom(r.Context())
	job, err := h.jobs.Begin(r.Context(), actor, jobID, params)
	if err != nil {
		respondErr(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, h.jobView(job))
}

// CreateVideo handles POST /v1/video (form fields, optional audio file)
func (h *Handler) CreateVideo(w http.ResponseWriter, r *http.Request) {
	upload, cleanup, err := h.readUpload(w, r, "audio", false)
	if err != nil {
		respondErr(w, r, h.log, err)
		return
	}
	defer cleanup()

	req := models.VideoRequest{
		VisualStyle: strings.TrimSpace(r.FormValue("visual_style")),
		ScenePrompt: strings.TrimSpace(r.FormValue("scene_prompt")),
		TrackTitle:  strings.TrimSpace(r.FormValue("track_title")),
		Duration:    r.FormValue("duration"),
		Resolution:  r.FormValue("resolution"),
	}
	if err := h.validator.Validate(req); err != nil {
		respondErr(w, r, h.log, err)
		return
	}

	params := models.JSONB{models.ParamVisualStyle: req.VisualStyle}
	for key, v := range map[string]string{
		models.ParamScenePrompt: req.ScenePrompt,
		models.ParamTrackTitle:  req.TrackTitle,
		models.ParamDuration:    req.Duration,
		models.ParamResolution:  req.Resolution,
	} {
		if v != "" {
			params[key] = v
		}
	}

	h.submit(w, r, models.JobKindVideo, params, upload)
}

// GetJob handles GET /v1/jobs/{id}. Processing jobs are reconciled with
// their provider before the response.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid job ID")
		return
	}

	job, err := h.jobs.Poll(r.Context(), jobID)
	if err != nil {
		respondErr(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, h.jobView(job))
}

// GetOriginal handles GET /v1/jobs/{id}/original: the vocal take of a
// mastering job, for comparing against the master.
func (h *Handler) GetOriginal(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid job ID")
		return
	}

	actor, _ := ActorFrom(r.Context())
	src, err := h.jobs.Original(r.Context(), actor, jobID)
	if err != nil {
		respondErr(w, r, h.log, err)
		return
	}
	http.ServeFile(w, r, src)
}

// ListJobs handles GET /v1/jobs
// Query params:
//   - kind:  cover_art, audio_master or video (default all)
//   - limit: max results (default 10, max 50)
//   - mine:  "true" to list only the signed-in account's jobs
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kind := models.JobKind(q.Get("kind"))

	limit := 0
	if l := q.Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	var owner *uuid.UUID
	if q.Get("mine") == "true" {
		actor, _ := ActorFrom(r.Context())
		id, ok := actor.AccountID()
		if !ok {
			respondErr(w, r, h.log, models.ErrUnauthorized)
			return
		}
		owner = &id
	}

	jobs, err := h.jobs.Recent(r.Context(), kind, owner, limit)
	if err != nil {
		respondErr(w, r, h.log, err)
		return
	}

	views := make([]models.JobView, 0, len(jobs))
	for i := range jobs {
		views = append(views, h.jobView(&jobs[i]))
	}
	respondJSON(w, http.StatusOK, models.JobListResponse{Jobs: views})
}

// Tokens handles GET /v1/tokens
func (h *Handler) Tokens(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	balance, err := h.balances.Balance(r.Context(), actor)
	if err != nil {
		respondErr(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, models.TokensResponse{Tokens: balance})
}

// Options handles GET /v1/options: accepted values and prices for the forms.
func (h *Handler) Options(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, models.OptionsResponse{
		Templates:    services.MasteringTemplates(),
		VisualStyles: models.VisualStyles,
		Durations:    models.VideoDurations,
		Resolutions:  models.VideoResolutions,
		Costs:        h.cfg.Costs,
	})
}

// Register handles POST /v1/auth/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := h.decode(w, r, &req); err != nil {
		respondErr(w, r, h.log, err)
		return
	}

	token, account, err := h.accounts.Register(r.Context(), req)
	if err != nil {
		respondErr(w, r, h.log, err)
		return
	}

	setCookie(w, tokenCookie, token, h.accounts.TokenTTL(), h.cfg.Cookies.Secure)
	respondJSON(w, http.StatusCreated, models.AuthResponse{Token: token, Account: *account})
}

// Login handles POST /v1/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := h.decode(w, r, &req); err != nil {
		respondErr(w, r, h.log, err)
		return
	}

	token, account, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		respondErr(w, r, h.log, err)
		return
	}

	setCookie(w, tokenCookie, token, h.accounts.TokenTTL(), h.cfg.Cookies.Secure)
	respondJSON(w, http.StatusOK, models.AuthResponse{Token: token, Account: *account})
}

// Logout handles POST /v1/auth/logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	clearCookie(w, tokenCookie, h.cfg.Cookies.Secure)
	respondJSON(w, http.StatusOK, map[string]string{"status": "signed out"})
}

// Me handles GET /v1/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	id, ok := actor.AccountID()
	if !ok {
		respondErr(w, r, h.log, models.ErrUnauthorized)
		return
	}

	account, err := h.accounts.Account(r.Context(), id)
	if err != nil {
		respondErr(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, account)
}

// ListPackages handles GET /v1/packages
func (h *Handler) ListPackages(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{"packages": payments.Packages()})
}

// CreateCheckout handles POST /v1/checkout
func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	if h.checkouts == nil {
		respondError(w, http.StatusServiceUnavailable, "payments are not configured")
		return
	}

	var req models.CheckoutRequest
	if err := h.decode(w, r, &req); err != nil {
		respondErr(w, r, h.log, err)
		return
	}

	actor, _ := ActorFrom(r.Context())
	session, err := h.checkouts.Checkout(r.Context(), actor, req.Package)
	if err != nil {
		respondErr(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, models.CheckoutResponse{SessionID: session.ID, URL: session.URL})
}

// CompleteCheckout handles GET /v1/checkout/complete?session_id=...
func (h *Handler) CompleteCheckout(w http.ResponseWriter, r *http.Request) {
	if h.checkouts == nil {
		respondError(w, http.StatusServiceUnavailable, "payments are not configured")
		return
	}

	actor, _ := ActorFrom(r.Context())
	balance, credited, err := h.checkouts.Complete(r.Context(), actor, r.URL.Query().Get("session_id"))
	if err != nil {
		respondErr(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, models.CheckoutCompleteResponse{Credited: credited, Tokens: balance})
}

// Health check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Helper methods

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, kind models.JobKind, params models.JSONB, upload *orchestrator.Upload) {
	actor, _ := ActorFrom(r.Context())
	sub, err := h.jobs.Submit(r.Context(), actor, kind, params, upload)
	if err != nil {
		respondErr(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, h.submitResponse(sub))
}

func (h *Handler) submitResponse(sub *orchestrator.Submission) models.SubmitResponse {
	return models.SubmitResponse{
		JobID:           sub.Job.ID,
		Status:          sub.Job.Status,
		TokensRemaining: sub.TokensRemaining,
		ArtifactURL:     h.artifactURL(sub.Job),
	}
}

// jobView is the client shape of a job. Internal params never leave the server.
func (h *Handler) jobView(job *models.Job) models.JobView {
	params := make(models.JSONB, len(job.Params))
	for k, v := range job.Params {
		if k == models.ParamSourcePath {
			continue
		}
		params[k] = v
	}
	return models.JobView{
		JobID:        job.ID,
		Kind:         job.Kind,
		Status:       job.Status,
		ArtifactURL:  h.artifactURL(job),
		ErrorMessage: job.ErrorMessage,
		Params:       params,
		CreatedAt:    job.CreatedAt,
		FinishedAt:   job.FinishedAt,
	}
}

func (h *Handler) artifactURL(job *models.Job) *string {
	if job.Status != models.JobStatusCompleted {
		return nil
	}
	url := h.artifacts.PublicURL(job.ResultRef)
	if url == "" {
		return nil
	}
	return &url
}

// decode reads a JSON body and validates it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body", models.ErrValidation)
	}
	return h.validator.Validate(dst)
}

// readUpload parses a multipart (or urlencoded) form and opens the named file.
// The returned cleanup closes the file and removes spooled parts.
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request, field string, required bool) (*orchestrator.Upload, func(), error) {
	noop := func() {}
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes+maxJSONBody)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		switch {
		case errors.As(err, &tooBig):
			return nil, noop, fmt.Errorf("%w: upload exceeds %d bytes", models.ErrValidation, h.cfg.MaxUploadBytes)
		case errors.Is(err, http.ErrNotMultipart) && !required:
			return nil, noop, nil
		default:
			return nil, noop, fmt.Errorf("%w: expected a multipart form with an %s file", models.ErrValidation, field)
		}
	}
	cleanupForm := func() {
		if r.MultipartForm != nil {
			r.MultipartForm.RemoveAll()
		}
	}

	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) && !required {
		return nil, cleanupForm, nil
	}
	if err != nil {
		cleanupForm()
		return nil, noop, fmt.Errorf("%w: %s file is required", models.ErrValidation, field)
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !audioExts[ext] {
		file.Close()
		cleanupForm()
		return nil, noop, fmt.Errorf("%w: unsupported audio format %q", models.ErrValidation, ext)
	}

	cleanup := func() {
		file.Close()
		cleanupForm()
	}
	return &orchestrator.Upload{Body: file, Ext: ext}, cleanup, nil
}

func (h *Handler) masteringForm(r *http.Request) (models.MasteringRequest, error) {
	req := models.MasteringRequest{
		TrackTitle: strings.TrimSpace(r.FormValue("track_title")),
		Template:   strings.TrimSpace(r.FormValue("template")),
	}
	for field, dst := range map[string]*float64{"eq_low": &req.EQLow, "eq_mid": &req.EQMid, "eq_high": &req.EQHigh} {
		v := strings.TrimSpace(r.FormValue(field))
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return req, fmt.Errorf("%w: %s must be a number", models.ErrValidation, field)
		}
		*dst = f
	}
	return req, h.validator.Validate(req)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
