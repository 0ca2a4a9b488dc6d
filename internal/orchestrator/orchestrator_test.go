package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bobarin/slnpart/internal/db"
	"github.com/bobarin/slnpart/internal/ledger"
	"github.com/bobarin/slnpart/internal/models"
	"github.com/bobarin/slnpart/internal/providers"
	"github.com/bobarin/slnpart/internal/storage"
)

// fakeProvider is a scripted chain candidate. Every fake can be polled.
type fakeProvider struct {
	name  string
	local bool
	gen   func(req providers.Request) (providers.Outcome, error)
	poll  func(handle string) (providers.Outcome, error)

	mu    sync.Mutex
	calls int
	polls int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Local() bool { return f.local }

func (f *fakeProvider) Generate(_ context.Context, req providers.Request) (providers.Outcome, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.gen(req)
}

func (f *fakeProvider) Poll(_ context.Context, handle string) (providers.Outcome, error) {
	f.mu.Lock()
	f.polls++
	f.mu.Unlock()
	if f.poll == nil {
		return providers.Outcome{}, errors.New("not pollable")
	}
	return f.poll(handle)
}

func (f *fakeProvider) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

func writeArtifact(req providers.Request) (providers.Outcome, error) {
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return providers.Outcome{}, err
	}
	if err := os.WriteFile(req.OutputPath, []byte("artifact"), 0o644); err != nil {
		return providers.Outcome{}, err
	}
	return providers.Immediate(req.OutputPath), nil
}

func failing(name string) *fakeProvider {
	return &fakeProvider{name: name, gen: func(providers.Request) (providers.Outcome, error) {
		return providers.Outcome{}, errors.New("upstream 503")
	}}
}

func localWriter(name string) *fakeProvider {
	return &fakeProvider{name: name, local: true, gen: writeArtifact}
}

// stubSessions seeds anonymous balances the way the Redis store does.
type stubSessions struct {
	mu       sync.Mutex
	balances map[string]int
}

func (s *stubSessions) seed(id string) int {
	if _, ok := s.balances[id]; !ok {
		s.balances[id] = 64
	}
	return s.balances[id]
}

func (s *stubSessions) Tokens(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seed(id), nil
}

func (s *stubSessions) Debit(_ context.Context, id string, amount int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	balance := s.seed(id)
	if amount > balance {
		return balance, models.ErrInsufficientFunds
	}
	s.balances[id] = balance - amount
	return s.balances[id], nil
}

func (s *stubSessions) Credit(_ context.Context, id string, amount int, _ string) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[id] = s.seed(id) + amount
	return s.balances[id], true, nil
}

type harness struct {
	orch    *Orchestrator
	db      *db.DB
	ledger  *ledger.Ledger
	adapter *providers.Adapter
	storage *storage.Storage
}

var testLimits = Limits{MaxUploadBytes: 1 << 20, DownloadTimeout: 5 * time.Second}

// newHarness wires the orchestrator to a SQLite store, the real ledger and a
// temp-dir artifact store. Kinds without a chain get a local writer.
func newHarness(t *testing.T, chains map[models.JobKind][]*fakeProvider) *harness {
	t.Helper()
	dir := t.TempDir()

	database, err := db.New("sqlite", filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	store, err := storage.New(filepath.Join(dir, "media"), filepath.Join(dir, "uploads"), "/media", zerolog.Nop())
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}

	policy := providers.Policy{Costs: map[models.JobKind]int{}, Chains: map[models.JobKind][]string{}}
	var registered []providers.Provider
	for _, kind := range models.AllJobKinds {
		chain, ok := chains[kind]
		if !ok {
			chain = []*fakeProvider{localWriter("local-" + string(kind))}
		}
		for _, p := range chain {
			policy.Chains[kind] = append(policy.Chains[kind], p.name)
			registered = append(registered, p)
		}
	}

	adapter, err := providers.NewAdapter(policy, registered, providers.Options{
		CallTimeout: 5 * time.Second,
		PollTimeout: 5 * time.Second,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}

	l := ledger.New(database, &stubSessions{balances: map[string]int{}}, zerolog.Nop())
	return &harness{
		orch:    New(database, l, adapter, store, ledger.DefaultCosts(), testLimits, zerolog.Nop()),
		db:      database,
		ledger:  l,
		adapter: adapter,
		storage: store,
	}
}

func (h *harness) account(t *testing.T, tokens int) models.Actor {
	t.Helper()
	account := &models.Account{
		ID:           uuid.New(),
		Username:     "user" + uuid.NewString()[:8],
		Email:        uuid.NewString()[:8] + "@example.com",
		PasswordHash: "hash",
		Tokens:       tokens,
	}
	if err := h.db.CreateAccount(context.Background(), account); err != nil {
		t.Fatalf("failed to create account: %v", err)
	}
	return models.AccountActor(account.ID)
}

func (h *harness) balance(t *testing.T, actor models.Actor) int {
	t.Helper()
	b, err := h.ledger.Balance(context.Background(), actor)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	return b
}

func coverParams() models.JSONB {
	return models.JSONB{
		models.ParamArtistName: "Nova",
		models.ParamAlbumTitle: "Night Drive",
		models.ParamGenre:      "Electronic",
	}
}

func videoParams() models.JSONB {
	return models.JSONB{models.ParamVisualStyle: "cyberpunk", models.ParamDuration: "15s"}
}

func vocal() *Upload {
	return &Upload{Body: strings.NewReader("RIFF....WAVE"), Ext: ".WAV"}
}

func TestSubmitInsufficientFundsCreatesNothing(t *testing.T) {
	remote := failing("xai")
	h := newHarness(t, map[models.JobKind][]*fakeProvider{
		models.JobKindVideo: {remote, localWriter("local-video")},
	})
	actor := h.account(t, 1)

	_, err := h.orch.Submit(context.Background(), actor, models.JobKindVideo, videoParams(), nil)
	if !errors.Is(err, models.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if b := h.balance(t, actor); b != 1 {
		t.Errorf("balance changed to %d", b)
	}
	jobs, err := h.orch.Recent(context.Background(), "", nil, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("expected no jobs, got %d", len(jobs))
	}
	if remote.calls != 0 {
		t.Errorf("provider contacted %d times", remote.calls)
	}
}

func TestSubmitAllProvidersFailKeepsDebit(t *testing.T) {
	localFail := &fakeProvider{name: "local-video", local: true, gen: func(providers.Request) (providers.Outcome, error) {
		return providers.Outcome{}, errors.New("ffmpeg failed: exit status 1")
	}}
	h := newHarness(t, map[models.JobKind][]*fakeProvider{
		models.JobKindVideo: {failing("xai"), failing("veo"), localFail},
	})
	actor := h.account(t, 5)

	sub, err := h.orch.Submit(context.Background(), actor, models.JobKindVideo, videoParams(), nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sub.Job.Status != models.JobStatusFailed {
		t.Errorf("expected failed job, got %s", sub.Job.Status)
	}
	if sub.Job.ErrorMessage == nil || !strings.Contains(*sub.Job.ErrorMessage, "ffmpeg failed") {
		t.Errorf("expected failure reason, got %v", sub.Job.ErrorMessage)
	}
	if sub.TokensRemaining != 0 || h.balance(t, actor) != 0 {
		t.Errorf("expected debit retained, remaining %d", sub.TokensRemaining)
	}
}

func TestSubmitDebitsKindCost(t *testing.T) {
	tests := []struct {
		kind   models.JobKind
		params models.JSONB
		upload *Upload
		cost   int
	}{
		{models.JobKindCoverArt, coverParams(), nil, 1},
		{models.JobKindAudioMaster, models.JSONB{models.ParamTemplate: "Radio Ready"}, vocal(), 1},
		{models.JobKindVideo, videoParams(), nil, 5},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			h := newHarness(t, nil)
			actor := h.account(t, 10)

			sub, err := h.orch.Submit(context.Background(), actor, tt.kind, tt.params, tt.upload)
			if err != nil {
				t.Fatalf("Submit: %v", err)
			}
			if got := 10 - h.balance(t, actor); got != tt.cost {
				t.Errorf("expected debit %d, got %d", tt.cost, got)
			}
			if sub.TokensRemaining != 10-tt.cost {
				t.Errorf("unexpected tokens remaining %d", sub.TokensRemaining)
			}
			if sub.Job.Status != models.JobStatusCompleted {
				t.Errorf("expected completed, got %s", sub.Job.Status)
			}
			if !h.storage.Exists(sub.Job.ResultRef) {
				t.Errorf("artifact %q missing", sub.Job.ResultRef)
			}
			if sub.Job.OwnerAccountID == nil {
				t.Error("account job should record its owner")
			}
		})
	}
}

func TestSubmitRejectsInvalidRequests(t *testing.T) {
	h := newHarness(t, nil)
	actor := h.account(t, 10)

	tests := []struct {
		name   string
		kind   models.JobKind
		params models.JSONB
		upload *Upload
	}{
		{"unknown kind", "lyrics", coverParams(), nil},
		{"cover without genre", models.JobKindCoverArt, models.JSONB{models.ParamArtistName: "a", models.ParamAlbumTitle: "b"}, nil},
		{"master without upload", models.JobKindAudioMaster, models.JSONB{}, nil},
		{"video without style", models.JobKindVideo, models.JSONB{}, nil},
		{"video with bad style", models.JobKindVideo, models.JSONB{models.ParamVisualStyle: "sepia"}, nil},
		{"video with bad duration", models.JobKindVideo, models.JSONB{models.ParamVisualStyle: "anime", models.ParamDuration: "2min"}, nil},
		{"video with bad resolution", models.JobKindVideo, models.JSONB{models.ParamVisualStyle: "anime", models.ParamResolution: "8K"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.orch.Submit(context.Background(), actor, tt.kind, tt.params, tt.upload); !errors.Is(err, models.ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
	if b := h.balance(t, actor); b != 10 {
		t.Errorf("rejected requests must not debit, balance %d", b)
	}
}

func TestSubmitIgnoresClientSourcePath(t *testing.T) {
	h := newHarness(t, nil)
	actor := h.account(t, 10)

	params := coverParams()
	params[models.ParamSourcePath] = "/etc/passwd"
	sub, err := h.orch.Submit(context.Background(), actor, models.JobKindCoverArt, params, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, ok := sub.Job.Params[models.ParamSourcePath]; ok {
		t.Errorf("client supplied source path was kept: %v", sub.Job.Params)
	}
}

func TestPollTerminalJobIsIdempotent(t *testing.T) {
	remote := &fakeProvider{
		name: "xai",
		gen: func(providers.Request) (providers.Outcome, error) {
			return providers.Deferred("req-1"), nil
		},
	}
	h := newHarness(t, map[models.JobKind][]*fakeProvider{
		models.JobKindVideo: {remote, localWriter("local-video")},
	})
	remote.poll = func(string) (providers.Outcome, error) {
		return providers.Failed("moderation rejected the prompt"), nil
	}
	actor := h.account(t, 5)

	sub, err := h.orch.Submit(context.Background(), actor, models.JobKindVideo, videoParams(), nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sub.Job.Status != models.JobStatusProcessing || sub.Job.ResultRef != "req-1" || sub.Job.Provider != "xai" {
		t.Fatalf("expected deferred job, got %+v", sub.Job)
	}

	first, err := h.orch.Poll(context.Background(), sub.Job.ID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if first.Status != models.JobStatusFailed {
		t.Fatalf("expected failed, got %s", first.Status)
	}
	polls := remote.pollCount()

	second, err := h.orch.Poll(context.Background(), sub.Job.ID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("terminal poll changed the job:\n%+v\n%+v", first, second)
	}
	if remote.pollCount() != polls {
		t.Error("terminal poll contacted the provider")
	}
}

func TestPollDeferredLifecycle(t *testing.T) {
	var mu sync.Mutex
	state := "pending"
	remote := &fakeProvider{
		name: "replicate",
		gen: func(providers.Request) (providers.Outcome, error) {
			return providers.Deferred("pred-9"), nil
		},
	}
	h := newHarness(t, map[models.JobKind][]*fakeProvider{
		models.JobKindVideo: {remote, localWriter("local-video")},
	})
	remote.poll = func(handle string) (providers.Outcome, error) {
		mu.Lock()
		defer mu.Unlock()
		switch state {
		case "pending":
			return providers.Deferred(handle), nil
		case "flaky":
			return providers.Outcome{}, errors.New("connection reset")
		}
		p := h.storage.Path("video", handle+".mp4")
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return providers.Outcome{}, err
		}
		if err := os.WriteFile(p, []byte("video"), 0o644); err != nil {
			return providers.Outcome{}, err
		}
		return providers.Immediate(p), nil
	}
	setState := func(s string) {
		mu.Lock()
		state = s
		mu.Unlock()
	}

	actor := models.SessionActor(uuid.NewString())
	sub, err := h.orch.Submit(context.Background(), actor, models.JobKindVideo, videoParams(), nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sub.TokensRemaining != 59 {
		t.Errorf("expected session balance 59, got %d", sub.TokensRemaining)
	}
	if sub.Job.OwnerAccountID != nil {
		t.Error("anonymous job should have no owner")
	}

	for _, s := range []string{"pending", "flaky"} {
		setState(s)
		job, err := h.orch.Poll(context.Background(), sub.Job.ID)
		if err != nil {
			t.Fatalf("Poll (%s): %v", s, err)
		}
		if job.Status != models.JobStatusProcessing || job.ResultRef != "pred-9" {
			t.Errorf("%s poll changed the job: %+v", s, job)
		}
	}

	setState("done")
	job, err := h.orch.Poll(context.Background(), sub.Job.ID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if job.Status != models.JobStatusCompleted || !h.storage.Exists(job.ResultRef) {
		t.Errorf("expected completed local artifact, got %+v", job)
	}
	if job.FinishedAt == nil {
		t.Error("expected finished_at")
	}
}

func TestPollPromotesLocalArtifact(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	job := &models.Job{
		ID:     uuid.New(),
		Kind:   models.JobKindVideo,
		Params: videoParams(),
		Status: models.JobStatusProcessing,
	}
	job.ResultRef = h.storage.OutputPath(job.Kind, job.ID)
	if err := h.db.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	got, err := h.orch.Poll(ctx, job.ID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if got.Status != models.JobStatusProcessing {
		t.Fatalf("expected processing while the file is missing, got %s", got.Status)
	}

	if err := h.storage.Write(job.ResultRef, []byte("late output")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err = h.orch.Poll(ctx, job.ID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if got.Status != models.JobStatusCompleted || got.ResultRef != job.ResultRef {
		t.Errorf("expected promotion to completed, got %+v", got)
	}
}

func TestPollLocalizesRemoteArtifact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("mp4 bytes"))
	}))
	defer srv.Close()

	remote := &fakeProvider{
		name: "xai",
		gen: func(providers.Request) (providers.Outcome, error) {
			return providers.Deferred("vid-1"), nil
		},
		poll: func(string) (providers.Outcome, error) {
			return providers.Immediate(srv.URL + "/vid-1.mp4"), nil
		},
	}
	h := newHarness(t, map[models.JobKind][]*fakeProvider{
		models.JobKindVideo: {remote, localWriter("local-video")},
	})
	actor := h.account(t, 5)

	sub, err := h.orch.Submit(context.Background(), actor, models.JobKindVideo, videoParams(), nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	job, err := h.orch.Poll(context.Background(), sub.Job.ID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if job.ResultRef != h.storage.OutputPath(models.JobKindVideo, job.ID) {
		t.Errorf("expected local copy, got %s", job.ResultRef)
	}
	data, err := os.ReadFile(job.ResultRef)
	if err != nil || string(data) != "mp4 bytes" {
		t.Errorf("unexpected artifact %q (%v)", data, err)
	}
}

func TestPollUnknownJob(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.orch.Poll(context.Background(), uuid.New()); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStageAndBegin(t *testing.T) {
	var seen providers.Request
	master := &fakeProvider{name: "ffmpeg-master", gen: func(req providers.Request) (providers.Outcome, error) {
		seen = req
		return writeArtifact(req)
	}}
	h := newHarness(t, map[models.JobKind][]*fakeProvider{
		models.JobKindAudioMaster: {master, localWriter("passthrough")},
	})
	ctx := context.Background()
	actor := models.SessionActor(uuid.NewString())

	sub, err := h.orch.Stage(ctx, actor, models.JSONB{models.ParamTrackTitle: "Take 3"}, *vocal())
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if sub.Job.Status != models.JobStatusUploaded || sub.TokensRemaining != 63 {
		t.Fatalf("unexpected staged job %+v (tokens %d)", sub.Job, sub.TokensRemaining)
	}
	source := sub.Job.Params.String(models.ParamSourcePath)
	if !strings.HasSuffix(source, ".wav") {
		t.Errorf("expected lowercased upload extension, got %s", source)
	}

	staged, err := h.orch.Poll(ctx, sub.Job.ID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if staged.Status != models.JobStatusUploaded {
		t.Errorf("poll must not start a staged job, got %s", staged.Status)
	}

	job, err := h.orch.Begin(ctx, actor, sub.Job.ID, models.JSONB{
		models.ParamTemplate:   "Club Banger",
		models.ParamSourcePath: "/tmp/elsewhere.wav",
	})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if job.Status != models.JobStatusCompleted {
		t.Errorf("expected completed, got %s", job.Status)
	}
	if seen.SourcePath != source || seen.Params.String(models.ParamTemplate) != "Club Banger" || seen.Params.String(models.ParamTrackTitle) != "Take 3" {
		t.Errorf("unexpected provider request %+v", seen)
	}
	if b := h.balance(t, actor); b != 63 {
		t.Errorf("begin must not debit again, balance %d", b)
	}

	if _, err := h.orch.Begin(ctx, actor, sub.Job.ID, nil); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on second begin, got %v", err)
	}
}

func TestBeginChecksOwner(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	owner := h.account(t, 3)
	other := h.account(t, 3)

	sub, err := h.orch.Stage(ctx, owner, nil, *vocal())
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if _, err := h.orch.Begin(ctx, other, sub.Job.ID, nil); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
	if _, err := h.orch.Begin(ctx, models.SessionActor("anon"), sub.Job.ID, nil); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("expected ErrForbidden for anonymous actor, got %v", err)
	}
}

func TestStageRejectsOversizedUpload(t *testing.T) {
	h := newHarness(t, nil)
	actor := h.account(t, 3)

	big := Upload{Body: strings.NewReader(strings.Repeat("x", 2<<20)), Ext: ".wav"}
	if _, err := h.orch.Stage(context.Background(), actor, nil, big); !errors.Is(err, models.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
	if b := h.balance(t, actor); b != 3 {
		t.Errorf("rejected upload must not debit, balance %d", b)
	}
}

func TestRecent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	actor := h.account(t, 10)

	for i := 0; i < 3; i++ {
		if _, err := h.orch.Submit(ctx, actor, models.JobKindCoverArt, coverParams(), nil); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	if _, err := h.orch.Submit(ctx, models.SessionActor("anon"), models.JobKindCoverArt, coverParams(), nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	all, err := h.orch.Recent(ctx, models.JobKindCoverArt, nil, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("expected 4 jobs, got %d", len(all))
	}

	id, _ := actor.AccountID()
	mine, err := h.orch.Recent(ctx, models.JobKindCoverArt, &id, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(mine) != 2 {
		t.Errorf("expected limit of 2, got %d", len(mine))
	}

	if _, err := h.orch.Recent(ctx, "lyrics", nil, 0); !errors.Is(err, models.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

// racingLedger reports a healthy balance but loses every debit, as when a
// concurrent request spends the tokens between the check and the debit.
type racingLedger struct {
	*ledger.Ledger
}

func (racingLedger) Debit(context.Context, models.Actor, int) (int, error) {
	return 0, models.ErrInsufficientFunds
}

func TestStageRemovesUploadWhenDebitFails(t *testing.T) {
	h := newHarness(t, nil)
	orch := New(h.db, racingLedger{h.ledger}, h.adapter, h.storage, ledger.DefaultCosts(), testLimits, zerolog.Nop())
	actor := h.account(t, 3)

	_, err := orch.Stage(context.Background(), actor, nil, *vocal())
	if !errors.Is(err, models.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	uploads := filepath.Dir(h.storage.UploadPath(models.JobKindAudioMaster, uuid.New(), ".wav"))
	entries, _ := os.ReadDir(uploads)
	if len(entries) != 0 {
		t.Errorf("expected no uploads left behind, found %d", len(entries))
	}
	jobs, err := orch.Recent(context.Background(), "", nil, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("expected no jobs, got %d", len(jobs))
	}
}

func TestPollKeepsRemoteURLWhenDownloadStalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	remote := &fakeProvider{
		name: "xai",
		gen: func(providers.Request) (providers.Outcome, error) {
			return providers.Deferred("vid-1"), nil
		},
		poll: func(string) (providers.Outcome, error) {
			return providers.Immediate(srv.URL + "/vid-1.mp4"), nil
		},
	}
	h := newHarness(t, map[models.JobKind][]*fakeProvider{
		models.JobKindVideo: {remote, localWriter("local-video")},
	})
	orch := New(h.db, h.ledger, h.adapter, h.storage, ledger.DefaultCosts(),
		Limits{MaxUploadBytes: 1 << 20, DownloadTimeout: 50 * time.Millisecond}, zerolog.Nop())
	actor := h.account(t, 5)

	sub, err := orch.Submit(context.Background(), actor, models.JobKindVideo, videoParams(), nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	start := time.Now()
	job, err := orch.Poll(context.Background(), sub.Job.ID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("poll blocked for %v on a stalled download", elapsed)
	}
	if job.Status != models.JobStatusCompleted {
		t.Errorf("expected completed, got %s", job.Status)
	}
	if job.ResultRef != srv.URL+"/vid-1.mp4" {
		t.Errorf("expected remote url to be kept, got %s", job.ResultRef)
	}
}

func TestOriginal(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	owner := h.account(t, 5)
	other := h.account(t, 5)

	sub, err := h.orch.Stage(ctx, owner, nil, *vocal())
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}

	src, err := h.orch.Original(ctx, owner, sub.Job.ID)
	if err != nil {
		t.Fatalf("Original: %v", err)
	}
	data, err := os.ReadFile(src)
	if err != nil || string(data) != "RIFF....WAVE" {
		t.Errorf("unexpected original %q (%v)", data, err)
	}

	if _, err := h.orch.Original(ctx, other, sub.Job.ID); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}

	cover, err := h.orch.Submit(ctx, owner, models.JobKindCoverArt, coverParams(), nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := h.orch.Original(ctx, owner, cover.Job.ID); !errors.Is(err, models.ErrValidation) {
		t.Errorf("expected ErrValidation for a cover job, got %v", err)
	}

	if err := os.Remove(src); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := h.orch.Original(ctx, owner, sub.Job.ID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound once the file is gone, got %v", err)
	}
}
