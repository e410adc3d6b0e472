package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-summary-backend/internal/domain"
	"github.com/tbourn/go-summary-backend/internal/llm"
	"github.com/tbourn/go-summary-backend/internal/repo"
	"github.com/tbourn/go-summary-backend/internal/transcript"
)

// --- fakes ---

type fakeSummaryRepo struct {
	mu         sync.Mutex
	byVideo    map[string]*domain.Summary
	increments map[string]int
	createErr  error
}

func newFakeSummaryRepo() *fakeSummaryRepo {
	return &fakeSummaryRepo{
		byVideo:    make(map[string]*domain.Summary),
		increments: make(map[string]int),
	}
}

func (r *fakeSummaryRepo) GetByVideoID(_ context.Context, _ *gorm.DB, videoID string) (*domain.Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byVideo[videoID]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, repo.ErrNotFound
}

func (r *fakeSummaryRepo) Create(_ context.Context, _ *gorm.DB, s *domain.Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	cp := *s
	r.byVideo[s.VideoID] = &cp
	return nil
}

func (r *fakeSummaryRepo) IncrementRequestCount(_ context.Context, _ *gorm.DB, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.increments[id]++
	return nil
}

type fakeTranscripts struct {
	calls atomic.Int64
	res   *transcript.Result
	err   error
}

func (f *fakeTranscripts) Fetch(_ context.Context, _ string) (*transcript.Result, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	cp := *f.res
	return &cp, nil
}

type fakeGenerator struct {
	calls   atomic.Int64
	payload *llm.SummaryPayload
	usage   llm.Usage
	err     error
	// block, when non-nil, is received from before returning; used to hold a
	// generation open while other callers join.
	block <-chan struct{}
}

func (f *fakeGenerator) Summarize(ctx context.Context, _ llm.SummarizeRequest) (*llm.SummaryPayload, llm.Usage, error) {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, llm.Usage{}, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.usage, f.err
	}
	cp := *f.payload
	return &cp, f.usage, nil
}

type captureRecorder struct {
	mu      sync.Mutex
	pricing Pricing
	recs    []*domain.UsageRecord
}

func (r *captureRecorder) Record(_ context.Context, rec *domain.UsageRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
}

func (r *captureRecorder) UsageFromTokens(rec *domain.UsageRecord, u llm.Usage) {
	rec.InputTokens = u.InputTokens
	rec.CacheCreationTokens = u.CacheCreationTokens
	rec.CacheReadTokens = u.CacheReadTokens
	rec.OutputTokens = u.OutputTokens
	rec.CostCents = r.pricing.CostCents(u)
}

func (r *captureRecorder) records() []*domain.UsageRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.UsageRecord, len(r.recs))
	copy(out, r.recs)
	return out
}

const testVideoID = "dQw4w9WgXcQ"

func testPayload() *llm.SummaryPayload {
	return &llm.SummaryPayload{
		QuickSummary: "A short walk through the material.",
		Sections: []llm.Section{
			{Title: "Intro", Content: "Opening remarks and context."},
		},
		Flashcards:  []llm.Flashcard{{Question: "What is covered?", Answer: "The basics."}},
		ActionItems: []llm.ActionItem{{Text: "Review the notes."}},
		References:  []llm.Reference{{Title: "Course page", URL: "https://example.com"}},
		Category:    "education",
	}
}

func newTestService(repo *fakeSummaryRepo, tr *fakeTranscripts, gen *fakeGenerator, rec *captureRecorder) *SummaryService {
	return &SummaryService{
		Repo:        repo,
		Transcripts: tr,
		Generator:   gen,
		Analytics:   rec,
		Scaler:      TimeoutScaler{Floor: 5 * time.Second, Ceiling: 10 * time.Second},
	}
}

// --- tests ---

func TestSummarizeFirstRequestGenerates(t *testing.T) {
	store := newFakeSummaryRepo()
	gen := &fakeGenerator{payload: testPayload(), usage: llm.Usage{InputTokens: 12_000, OutputTokens: 900}}
	rec := &captureRecorder{}
	svc := newTestService(store, &fakeTranscripts{res: &transcript.Result{Text: "transcript text", Language: "en", DurationSeconds: 630}}, gen, rec)

	out, err := svc.Summarize(context.Background(), "user-1", testVideoID)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if out.CacheHit {
		t.Error("first request reported as cache hit")
	}
	if out.Summary.VideoID != testVideoID || out.Summary.QuickSummary == "" {
		t.Errorf("unexpected summary: %+v", out.Summary)
	}
	if out.Summary.Category != "education" {
		t.Errorf("Category = %q; want education", out.Summary.Category)
	}
	if gen.calls.Load() != 1 {
		t.Errorf("generator calls = %d; want 1", gen.calls.Load())
	}
	if _, ok := store.byVideo[testVideoID]; !ok {
		t.Error("summary not persisted")
	}

	recs := rec.records()
	if len(recs) != 1 {
		t.Fatalf("usage records = %d; want 1", len(recs))
	}
	if recs[0].Status != domain.StatusSuccess || recs[0].CacheHit {
		t.Errorf("record = {status %q, cache_hit %v}; want {success, false}", recs[0].Status, recs[0].CacheHit)
	}
	if recs[0].InputTokens != 12_000 {
		t.Errorf("InputTokens = %d; want 12000", recs[0].InputTokens)
	}
	if recs[0].OutputWords == 0 {
		t.Error("OutputWords = 0; want > 0")
	}
}

func TestSummarizeCachedHit(t *testing.T) {
	store := newFakeSummaryRepo()
	gen := &fakeGenerator{payload: testPayload()}
	rec := &captureRecorder{}
	tr := &fakeTranscripts{res: &transcript.Result{Text: "t", Language: "en"}}
	svc := newTestService(store, tr, gen, rec)

	if _, err := svc.Summarize(context.Background(), "user-1", testVideoID); err != nil {
		t.Fatalf("seed: %v", err)
	}

	out, err := svc.Summarize(context.Background(), "user-2", testVideoID)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if !out.CacheHit {
		t.Error("second request not reported as cache hit")
	}
	if gen.calls.Load() != 1 {
		t.Errorf("generator calls = %d; want 1 (hit must not regenerate)", gen.calls.Load())
	}
	if tr.calls.Load() != 1 {
		t.Errorf("transcript fetches = %d; want 1 (hit must not refetch)", tr.calls.Load())
	}
	id := store.byVideo[testVideoID].ID
	if store.increments[id] != 1 {
		t.Errorf("request count increments = %d; want 1", store.increments[id])
	}
}

// N concurrent first-time requests for one video: exactly one provider call,
// every caller observes the same summary, and exactly one of them is
// accounted as the miss.
func TestSummarizeCoalescesConcurrentRequests(t *testing.T) {
	const callers = 3

	store := newFakeSummaryRepo()
	tr := &fakeTranscripts{res: &transcript.Result{Text: "shared transcript", Language: "en", DurationSeconds: 120}}
	release := make(chan struct{})
	gen := &fakeGenerator{payload: testPayload(), block: release}
	rec := &captureRecorder{}
	svc := newTestService(store, tr, gen, rec)

	var wg sync.WaitGroup
	outs := make([]*SummaryOutcome, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outs[i], errs[i] = svc.Summarize(context.Background(), fmt.Sprintf("user-%d", i), testVideoID)
		}(i)
	}

	// Every caller fetches its transcript before joining the flight; once all
	// fetches happened the joiners are at most one function call away.
	for tr.calls.Load() < callers {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := gen.calls.Load(); n != 1 {
		t.Fatalf("generator calls = %d; want exactly 1", n)
	}

	misses := 0
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if outs[i].Summary.ID != outs[0].Summary.ID {
			t.Errorf("caller %d observed a different summary", i)
		}
		if !outs[i].CacheHit {
			misses++
		}
	}
	if misses != 1 {
		t.Errorf("cache misses = %d; want exactly 1 (the leader)", misses)
	}

	recs := rec.records()
	if len(recs) != callers {
		t.Fatalf("usage records = %d; want %d (one per caller)", len(recs), callers)
	}
	recMisses := 0
	for _, r := range recs {
		if r.Status != domain.StatusSuccess {
			t.Errorf("record status = %q; want success", r.Status)
		}
		if !r.CacheHit {
			recMisses++
		}
	}
	if recMisses != 1 {
		t.Errorf("records with cache_hit=false = %d; want exactly 1", recMisses)
	}
	if svc.flights.inflight() != 0 {
		t.Errorf("inflight after completion = %d; want 0", svc.flights.inflight())
	}
}

// A failed generation reverts the video to absent: the failure reaches every
// waiting caller, nothing is cached, and a later request starts fresh.
func TestSummarizeFailureDoesNotPoison(t *testing.T) {
	store := newFakeSummaryRepo()
	tr := &fakeTranscripts{res: &transcript.Result{Text: "t", Language: "en"}}
	gen := &fakeGenerator{err: errors.New("provider: rate limit exceeded")}
	rec := &captureRecorder{}
	svc := newTestService(store, tr, gen, rec)

	if _, err := svc.Summarize(context.Background(), "user-1", testVideoID); err == nil {
		t.Fatal("expected failure")
	}
	if len(store.byVideo) != 0 {
		t.Error("failed generation must not be cached")
	}
	recs := rec.records()
	if len(recs) != 1 || recs[0].Status != domain.StatusFailed {
		t.Fatalf("records = %+v; want one failed record", recs)
	}
	if recs[0].ErrorType != string(ErrorRateLimited) {
		t.Errorf("ErrorType = %q; want %q", recs[0].ErrorType, ErrorRateLimited)
	}

	// Recovery: the next caller leads a fresh generation.
	gen.err = nil
	gen.payload = testPayload()
	out, err := svc.Summarize(context.Background(), "user-1", testVideoID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if out.CacheHit {
		t.Error("retry after failure reported as cache hit")
	}
	if gen.calls.Load() != 2 {
		t.Errorf("generator calls = %d; want 2", gen.calls.Load())
	}
}

func TestSummarizeInvalidVideoID(t *testing.T) {
	store := newFakeSummaryRepo()
	tr := &fakeTranscripts{res: &transcript.Result{Text: "t"}}
	rec := &captureRecorder{}
	svc := newTestService(store, tr, &fakeGenerator{payload: testPayload()}, rec)

	for _, id := range []string{"", "short", "../etc/passwd", "dQw4w9WgXcQextra"} {
		if _, err := svc.Summarize(context.Background(), "user-1", id); !errors.Is(err, transcript.ErrInvalidVideoID) {
			t.Errorf("Summarize(%q) err = %v; want ErrInvalidVideoID", id, err)
		}
	}
	if tr.calls.Load() != 0 {
		t.Errorf("transcript fetches = %d; want 0 for malformed ids", tr.calls.Load())
	}
	if len(rec.records()) != 0 {
		t.Errorf("usage records = %d; want 0 (validation failures are not attempts)", len(rec.records()))
	}
}

func TestSummarizeTranscriptFailure(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantType ErrorType
	}{
		{"unavailable", transcript.ErrVideoUnavailable, ErrorVideoUnavailable},
		{"fallback also failed", errors.Join(transcript.ErrNoCaptions, errors.New("stt down")), ErrorNoCaptions},
		{"rate limited", transcript.ErrRateLimited, ErrorRateLimited},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gen := &fakeGenerator{payload: testPayload()}
			rec := &captureRecorder{}
			svc := newTestService(newFakeSummaryRepo(), &fakeTranscripts{err: tc.err}, gen, rec)

			if _, err := svc.Summarize(context.Background(), "user-1", testVideoID); !errors.Is(err, tc.err) {
				t.Fatalf("err = %v; want %v", err, tc.err)
			}
			if gen.calls.Load() != 0 {
				t.Error("generator called despite transcript failure")
			}
			recs := rec.records()
			if len(recs) != 1 || recs[0].ErrorType != string(tc.wantType) {
				t.Fatalf("records = %+v; want one failed record of type %q", recs, tc.wantType)
			}
		})
	}
}

// The shared generation survives its initiator walking away: a joiner with a
// live context still receives the result.
func TestSummarizeLeaderDisconnectDoesNotCancel(t *testing.T) {
	store := newFakeSummaryRepo()
	tr := &fakeTranscripts{res: &transcript.Result{Text: "t", Language: "en"}}
	release := make(chan struct{})
	gen := &fakeGenerator{payload: testPayload(), block: release}
	svc := newTestService(store, tr, gen, &captureRecorder{})

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := svc.Summarize(leaderCtx, "leader", testVideoID)
		done <- err
	}()

	for gen.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancelLeader()
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("leader err = %v; generation must not inherit caller cancellation", err)
	}
	if _, ok := store.byVideo[testVideoID]; !ok {
		t.Error("summary not persisted after initiator disconnect")
	}
}

// gormSummaryRepo adapts the persistence functions to the service interface
// the way the router wires them in production.
type gormSummaryRepo struct{}

func (gormSummaryRepo) GetByVideoID(ctx context.Context, db *gorm.DB, videoID string) (*domain.Summary, error) {
	return repo.GetSummaryByVideoID(ctx, db, videoID)
}

func (gormSummaryRepo) Create(ctx context.Context, db *gorm.DB, s *domain.Summary) error {
	return repo.CreateSummary(ctx, db, s)
}

func (gormSummaryRepo) IncrementRequestCount(ctx context.Context, db *gorm.DB, id string) error {
	return repo.IncrementRequestCount(ctx, db, id)
}

// An expired cache entry regenerates in place: same row identity, fresh
// payload, request count preserved.
func TestSummarizeTTLRegeneratesInPlace(t *testing.T) {
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	stale := &domain.Summary{
		ID: "stale-id", VideoID: testVideoID, UserID: "user-1",
		QuickSummary: "old summary", SectionsJSON: "[]", FlashcardsJSON: "[]",
		ActionItemsJSON: "[]", ReferencesJSON: "[]",
		Category: "education", Language: "en",
		RequestCount: 7,
		CreatedAt:    time.Now().UTC().Add(-2 * time.Hour),
	}
	if err := repo.CreateSummary(context.Background(), db, stale); err != nil {
		t.Fatalf("seed: %v", err)
	}

	gen := &fakeGenerator{payload: testPayload()}
	svc := &SummaryService{
		DB:          db,
		Repo:        gormSummaryRepo{},
		Transcripts: &fakeTranscripts{res: &transcript.Result{Text: "t", Language: "en"}},
		Generator:   gen,
		Analytics:   &captureRecorder{},
		CacheTTL:    time.Hour,
	}

	out, err := svc.Summarize(context.Background(), "user-2", testVideoID)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if out.CacheHit {
		t.Error("expired entry served as cache hit")
	}
	if gen.calls.Load() != 1 {
		t.Errorf("generator calls = %d; want 1", gen.calls.Load())
	}

	got, err := repo.GetSummaryByVideoID(context.Background(), db, testVideoID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.ID != "stale-id" {
		t.Errorf("row ID = %q; want stale-id (regeneration keeps identity)", got.ID)
	}
	if got.QuickSummary == "old summary" {
		t.Error("payload not refreshed")
	}
	if got.RequestCount != 7 {
		t.Errorf("RequestCount = %d; want 7 preserved across regeneration", got.RequestCount)
	}

	// Within the TTL the refreshed row serves as a plain hit.
	out, err = svc.Summarize(context.Background(), "user-3", testVideoID)
	if err != nil {
		t.Fatalf("second Summarize: %v", err)
	}
	if !out.CacheHit || gen.calls.Load() != 1 {
		t.Errorf("hit = %v, calls = %d; refreshed entry must serve from cache", out.CacheHit, gen.calls.Load())
	}
}

// gatedTranscripts blocks the first Fetch until gate is closed; later calls
// pass straight through. Models one caller with a slow transcript source.
type gatedTranscripts struct {
	calls atomic.Int64
	res   *transcript.Result
	gate  <-chan struct{}
}

func (g *gatedTranscripts) Fetch(ctx context.Context, _ string) (*transcript.Result, error) {
	if g.calls.Add(1) == 1 {
		select {
		case <-g.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	cp := *g.res
	return &cp, nil
}

// A caller whose cache read missed but whose transcript fetch outlasted a
// complete generation by someone else must be served that generation, not
// run the provider a second time.
func TestSummarizeSlowFetcherServesCompletedGeneration(t *testing.T) {
	store := newFakeSummaryRepo()
	gate := make(chan struct{})
	tr := &gatedTranscripts{
		res:  &transcript.Result{Text: "some transcript text", Language: "en", DurationSeconds: 90},
		gate: gate,
	}
	gen := &fakeGenerator{payload: testPayload(), usage: llm.Usage{InputTokens: 2_000, OutputTokens: 300}}
	rec := &captureRecorder{}
	svc := &SummaryService{
		Repo:        store,
		Transcripts: tr,
		Generator:   gen,
		Analytics:   rec,
		Scaler:      TimeoutScaler{Floor: 5 * time.Second, Ceiling: 10 * time.Second},
	}

	type result struct {
		out *SummaryOutcome
		err error
	}
	slow := make(chan result, 1)
	go func() {
		out, err := svc.Summarize(context.Background(), "user-a", testVideoID)
		slow <- result{out, err}
	}()

	// Wait for the slow caller to be stuck inside its fetch.
	deadline := time.Now().Add(2 * time.Second)
	for tr.calls.Load() < 1 {
		if time.Now().After(deadline) {
			t.Fatalf("slow caller never reached the transcript fetch")
		}
		time.Sleep(time.Millisecond)
	}

	// A second caller runs the whole pipeline to completion meanwhile.
	fast, err := svc.Summarize(context.Background(), "user-b", testVideoID)
	if err != nil {
		t.Fatalf("fast caller: %v", err)
	}
	if fast.CacheHit {
		t.Fatalf("fast caller generated; must not be a cache hit")
	}

	close(gate)
	got := <-slow
	if got.err != nil {
		t.Fatalf("slow caller: %v", got.err)
	}
	if !got.out.CacheHit {
		t.Errorf("slow caller must be served the completed generation as a hit")
	}
	if got.out.Summary.ID != fast.Summary.ID {
		t.Errorf("slow caller got row %q; want the winner's row %q", got.out.Summary.ID, fast.Summary.ID)
	}
	if n := gen.calls.Load(); n != 1 {
		t.Errorf("provider calls = %d; want exactly 1", n)
	}
	if n := svc.flights.inflight(); n != 0 {
		t.Errorf("inflight after completion = %d; want 0", n)
	}
}

// A joiner that disconnects while waiting consumed nothing and failed
// nothing: no usage row may be recorded for it.
func TestSummarizeJoinerDisconnectRecordsNothing(t *testing.T) {
	store := newFakeSummaryRepo()
	release := make(chan struct{})
	tr := &fakeTranscripts{res: &transcript.Result{Text: "transcript", Language: "en", DurationSeconds: 60}}
	gen := &fakeGenerator{payload: testPayload(), block: release}
	rec := &captureRecorder{}
	svc := newTestService(store, tr, gen, rec)

	leaderDone := make(chan error, 1)
	go func() {
		_, err := svc.Summarize(context.Background(), "leader", testVideoID)
		leaderDone <- err
	}()

	// Leader is inside the provider call.
	deadline := time.Now().Add(2 * time.Second)
	for gen.calls.Load() < 1 {
		if time.Now().After(deadline) {
			t.Fatalf("leader never reached the provider")
		}
		time.Sleep(time.Millisecond)
	}

	jctx, cancel := context.WithCancel(context.Background())
	joinDone := make(chan error, 1)
	go func() {
		_, err := svc.Summarize(jctx, "joiner", testVideoID)
		joinDone <- err
	}()

	// Joiner has fetched its transcript and is waiting on the flight.
	for tr.calls.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("joiner never reached the flight")
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)

	cancel()
	if err := <-joinDone; !errors.Is(err, context.Canceled) {
		t.Fatalf("joiner err = %v; want context.Canceled", err)
	}

	close(release)
	if err := <-leaderDone; err != nil {
		t.Fatalf("leader: %v", err)
	}

	recs := rec.records()
	if len(recs) != 1 {
		t.Fatalf("usage rows = %d; want only the leader's success row", len(recs))
	}
	if recs[0].Status != domain.StatusSuccess || recs[0].UserID != "leader" {
		t.Fatalf("unexpected record: %+v", recs[0])
	}
}
