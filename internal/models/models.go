package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Enums
type JobKind string

const (
	JobKindCoverArt    JobKind = "cover_art"
	JobKindAudioMaster JobKind = "audio_master"
	JobKindVideo       JobKind = "video"
)

// AllJobKinds lists every kind the orchestrator accepts, in display order.
var AllJobKinds = []JobKind{JobKindCoverArt, JobKindAudioMaster, JobKindVideo}

func (k JobKind) Valid() bool {
	switch k {
	case JobKindCoverArt, JobKindAudioMaster, JobKindVideo:
		return true
	}
	return false
}

type JobStatus string

const (
	JobStatusUploaded   JobStatus = "uploaded" // mastering pre-state, before processing begins
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

type ActorKind string

const (
	ActorAccount ActorKind = "account"
	ActorSession ActorKind = "session"
)

// Actor identifies who holds the token balance for a request.
// Exactly one kind is resolved per request.
type Actor struct {
	Kind ActorKind
	ID   string
}

func AccountActor(id uuid.UUID) Actor {
	return Actor{Kind: ActorAccount, ID: id.String()}
}

func SessionActor(sessionID string) Actor {
	return Actor{Kind: ActorSession, ID: sessionID}
}

// AccountID returns the account uuid for account actors.
func (a Actor) AccountID() (uuid.UUID, bool) {
	if a.Kind != ActorAccount {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(a.ID)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func (a Actor) String() string {
	return fmt.Sprintf("%s:%s", a.Kind, a.ID)
}

// JSONB is a custom type for JSON columns (JSONB on Postgres, TEXT on SQLite)
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return "{}", nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (j *JSONB) Scan(value interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*j = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported JSONB source type %T", value)
	}
	return json.Unmarshal(data, j)
}

// String returns the string value for key, or "" when missing or not a string.
func (j JSONB) String(key string) string {
	if v, ok := j[key].(string); ok {
		return v
	}
	return ""
}

// Bool returns the bool value for key.
func (j JSONB) Bool(key string) bool {
	v, _ := j[key].(bool)
	return v
}

// Float returns the numeric value for key, or def when missing.
func (j JSONB) Float(key string, def float64) float64 {
	switch v := j[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		f, err := v.Float64()
		if err == nil {
			return f
		}
	}
	return def
}

// Job parameter keys shared by the API layer, the orchestrator and the providers.
const (
	ParamArtistName  = "artist_name"
	ParamAlbumTitle  = "album_title"
	ParamGenre       = "genre"
	ParamExplicit    = "explicit_content"
	ParamPrompt      = "ai_prompt"
	ParamTrackTitle  = "track_title"
	ParamTemplate    = "template"
	ParamEQSettings  = "eq_settings"
	ParamVisualStyle = "visual_style"
	ParamScenePrompt = "scene_prompt"
	ParamDuration    = "duration"
	ParamResolution  = "resolution"

	// ParamSourcePath is the uploaded media for a job. It is never shown to clients.
	ParamSourcePath = "source_path"
)

// Accepted values for the video options. Empty duration and resolution use
// the first entry.
var (
	VisualStyles     = []string{"cyberpunk", "cinematic", "abstract", "anime", "fantasy", "urban"}
	VideoDurations   = []string{"30s", "15s", "1min"}
	VideoResolutions = []string{"720p", "1080p", "4K"}
)

// Models

type Account struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Tokens       int       `json:"tokens"`
	CreatedAt    time.Time `json:"created_at"`
}

// Job is one generation request and its lifecycle. Cover art, mastering and
// video jobs share this shape and differ by Kind and Params.
type Job struct {
	ID             uuid.UUID  `json:"id"`
	Kind           JobKind    `json:"kind"`
	OwnerAccountID *uuid.UUID `json:"owner_account_id,omitempty"` // nil for anonymous sessions
	Params         JSONB      `json:"params"`
	Status         JobStatus  `json:"status"`
	// ResultRef holds the planned local output path or a provider handle while
	// processing, and the artifact path or URL once completed.
	ResultRef    string     `json:"-"`
	Provider     string     `json:"provider,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// Settlement records a confirmed credit so duplicate confirmations are ignored.
type Settlement struct {
	ID        string    `json:"id"`
	AccountID uuid.UUID `json:"account_id"`
	Tokens    int       `json:"tokens"`
	CreatedAt time.Time `json:"created_at"`
}

// DTOs for API requests/responses

type CoverArtRequest struct {
	ArtistName      string `json:"artist_name" validate:"required,max=200"`
	AlbumTitle      string `json:"album_title" validate:"required,max=200"`
	Genre           string `json:"genre" validate:"required,max=50"`
	ExplicitContent bool   `json:"explicit_content"`
	Prompt          string `json:"ai_prompt" validate:"max=2000"`
}

// MasteringRequest is the form sent with a vocal upload.
type MasteringRequest struct {
	TrackTitle string  `json:"track_title" validate:"max=200"`
	Template   string  `json:"template" validate:"max=50"`
	EQLow      float64 `json:"eq_low" validate:"gte=-12,lte=12"`
	EQMid      float64 `json:"eq_mid" validate:"gte=-12,lte=12"`
	EQHigh     float64 `json:"eq_high" validate:"gte=-12,lte=12"`
}

// VideoRequest is the form for a music video. An audio file is optional.
type VideoRequest struct {
	VisualStyle string `json:"visual_style" validate:"required,oneof=cyberpunk cinematic abstract anime fantasy urban"`
	ScenePrompt string `json:"scene_prompt" validate:"max=2000"`
	TrackTitle  string `json:"track_title" validate:"max=200"`
	Duration    string `json:"duration" validate:"omitempty,oneof=15s 30s 1min"`
	Resolution  string `json:"resolution" validate:"omitempty,oneof=720p 1080p 4K"`
}

// CoverPromptRequest asks for a cover art prompt idea. Nothing is generated.
type CoverPromptRequest struct {
	Genre      string `json:"genre" validate:"max=50"`
	ArtistName string `json:"artist_name" validate:"max=200"`
	AlbumTitle string `json:"album_title" validate:"max=200"`
}

// ScenePromptRequest asks for a video scene prompt and alternatives.
type ScenePromptRequest struct {
	VisualStyle string `json:"visual_style" validate:"omitempty,oneof=cyberpunk cinematic abstract anime fantasy urban"`
	TrackTitle  string `json:"track_title" validate:"max=200"`
	UserInput   string `json:"user_input" validate:"max=500"`
}

type PromptResponse struct {
	Prompt       string   `json:"prompt"`
	Alternatives []string `json:"alternatives,omitempty"`
}

type StartMasteringRequest struct {
	Template   string             `json:"template" validate:"omitempty,max=50"`
	EQSettings map[string]float64 `json:"eq_settings" validate:"omitempty,dive,gte=-12,lte=12"`
}

type RegisterRequest struct {
	Username        string `json:"username" validate:"required,min=3,max=20"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=6"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type CheckoutRequest struct {
	Package string `json:"package" validate:"required"`
}

type SubmitResponse struct {
	JobID           uuid.UUID `json:"job_id"`
	Status          JobStatus `json:"status"`
	TokensRemaining int       `json:"tokens_remaining"`
	ArtifactURL     *string   `json:"artifact_url,omitempty"`
}

type JobView struct {
	JobID        uuid.UUID  `json:"job_id"`
	Kind         JobKind    `json:"kind"`
	Status       JobStatus  `json:"status"`
	ArtifactURL  *string    `json:"artifact_url,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	Params       JSONB      `json:"params,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

type JobListResponse struct {
	Jobs []JobView `json:"jobs"`
}

type OptionsResponse struct {
	Templates    []string        `json:"templates"`
	VisualStyles []string        `json:"visual_styles"`
	Durations    []string        `json:"durations"`
	Resolutions  []string        `json:"resolutions"`
	Costs        map[JobKind]int `json:"costs"`
}

type TokensResponse struct {
	Tokens int `json:"tokens"`
}

type AuthResponse struct {
	Token   string  `json:"token"`
	Account Account `json:"account"`
}

type CheckoutResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

type CheckoutCompleteResponse struct {
	Credited bool `json:"credited"`
	Tokens   int  `json:"tokens"`
}
