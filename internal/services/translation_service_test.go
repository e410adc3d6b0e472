package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-summary-backend/internal/domain"
	"github.com/tbourn/go-summary-backend/internal/llm"
	"github.com/tbourn/go-summary-backend/internal/repo"
	"github.com/tbourn/go-summary-backend/internal/transcript"
)

type fakeTranslationRepo struct {
	mu        sync.Mutex
	summaries map[string]*domain.Summary
	byKey     map[string]*domain.Translation
}

func newFakeTranslationRepo() *fakeTranslationRepo {
	return &fakeTranslationRepo{
		summaries: make(map[string]*domain.Summary),
		byKey:     make(map[string]*domain.Translation),
	}
}

func (r *fakeTranslationRepo) Get(_ context.Context, _ *gorm.DB, summaryID, lang string) (*domain.Translation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tr, ok := r.byKey[summaryID+"|"+lang]; ok {
		cp := *tr
		return &cp, nil
	}
	return nil, repo.ErrNotFound
}

func (r *fakeTranslationRepo) Create(_ context.Context, _ *gorm.DB, tr *domain.Translation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *tr
	r.byKey[tr.SummaryID+"|"+tr.Language] = &cp
	return nil
}

func (r *fakeTranslationRepo) GetSummary(_ context.Context, _ *gorm.DB, id string) (*domain.Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.summaries[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, repo.ErrNotFound
}

type fakeTranslator struct {
	calls atomic.Int64
	err   error
	block <-chan struct{}
}

// Translate produces a deterministic pseudo-translation so tests can assert
// the output reached the store unchanged.
func (f *fakeTranslator) Translate(ctx context.Context, payload *llm.SummaryPayload, lang string) (*llm.SummaryPayload, llm.Usage, error) {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, llm.Usage{}, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, llm.Usage{}, f.err
	}
	out := *payload
	out.QuickSummary = "[" + lang + "] " + payload.QuickSummary
	out.Category = "mistranslated" // the service must overwrite this
	return &out, llm.Usage{InputTokens: 500, OutputTokens: 400}, nil
}

func seedSummary(t *testing.T, store *fakeTranslationRepo) *domain.Summary {
	t.Helper()
	sum, err := buildSummary(testVideoID, "user-1", &transcript.Result{Language: "en", DurationSeconds: 300}, testPayload())
	if err != nil {
		t.Fatalf("buildSummary: %v", err)
	}
	store.summaries[sum.ID] = sum
	return sum
}

func newTranslationService(store *fakeTranslationRepo, tr *fakeTranslator, rec *captureRecorder) *TranslationService {
	return &TranslationService{
		Repo:       store,
		Translator: tr,
		Analytics:  rec,
		Scaler:     TimeoutScaler{Floor: 5 * time.Second, Ceiling: 10 * time.Second},
	}
}

func TestTranslateFirstRequest(t *testing.T) {
	store := newFakeTranslationRepo()
	sum := seedSummary(t, store)
	fake := &fakeTranslator{}
	rec := &captureRecorder{}
	svc := newTranslationService(store, fake, rec)

	out, hit, err := svc.Translate(context.Background(), "user-1", sum.ID, "de")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if hit {
		t.Error("first translation reported as cache hit")
	}
	if !strings.HasPrefix(out.QuickSummary, "[de] ") {
		t.Errorf("QuickSummary = %q; want translated text", out.QuickSummary)
	}
	if out.Language != "de" {
		t.Errorf("Language = %q; want de", out.Language)
	}
	// The category is a filter key; it must survive translation verbatim.
	if out.Category != sum.Category {
		t.Errorf("Category = %q; want %q copied from source", out.Category, sum.Category)
	}

	recs := rec.records()
	if len(recs) != 1 {
		t.Fatalf("usage records = %d; want 1", len(recs))
	}
	if recs[0].Kind != domain.KindTranslation || recs[0].CacheHit {
		t.Errorf("record = {kind %q, cache_hit %v}; want {translation, false}", recs[0].Kind, recs[0].CacheHit)
	}
	if recs[0].InputTokens != 500 {
		t.Errorf("InputTokens = %d; want 500", recs[0].InputTokens)
	}
}

func TestTranslateCachedHit(t *testing.T) {
	store := newFakeTranslationRepo()
	sum := seedSummary(t, store)
	fake := &fakeTranslator{}
	rec := &captureRecorder{}
	svc := newTranslationService(store, fake, rec)

	if _, _, err := svc.Translate(context.Background(), "user-1", sum.ID, "de"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	out, hit, err := svc.Translate(context.Background(), "user-2", sum.ID, "de")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if !hit {
		t.Error("repeat translation not reported as cache hit")
	}
	if fake.calls.Load() != 1 {
		t.Errorf("translator calls = %d; want 1", fake.calls.Load())
	}
	if out.QuickSummary == "" {
		t.Error("cached translation payload is empty")
	}
}

// Language tags canonicalize before cache lookup: spelling variants of one
// language must share a single entry.
func TestTranslateCanonicalizesLanguage(t *testing.T) {
	store := newFakeTranslationRepo()
	sum := seedSummary(t, store)
	fake := &fakeTranslator{}
	svc := newTranslationService(store, fake, &captureRecorder{})

	if _, _, err := svc.Translate(context.Background(), "u", sum.ID, "PT-br"); err != nil {
		t.Fatalf("first: %v", err)
	}
	_, hit, err := svc.Translate(context.Background(), "u", sum.ID, "pt-BR")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !hit || fake.calls.Load() != 1 {
		t.Errorf("hit = %v, calls = %d; variants must share one cache entry", hit, fake.calls.Load())
	}
}

func TestTranslateConcurrentCoalesce(t *testing.T) {
	const callers = 3

	store := newFakeTranslationRepo()
	sum := seedSummary(t, store)
	release := make(chan struct{})
	fake := &fakeTranslator{block: release}
	rec := &captureRecorder{}
	svc := newTranslationService(store, fake, rec)

	var wg sync.WaitGroup
	hits := make([]bool, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, hits[i], errs[i] = svc.Translate(context.Background(), fmt.Sprintf("user-%d", i), sum.ID, "fr")
		}(i)
	}

	for fake.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := fake.calls.Load(); n != 1 {
		t.Fatalf("translator calls = %d; want exactly 1", n)
	}
	misses := 0
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if !hits[i] {
			misses++
		}
	}
	if misses != 1 {
		t.Errorf("misses = %d; want exactly 1", misses)
	}
}

func TestTranslateErrors(t *testing.T) {
	store := newFakeTranslationRepo()
	sum := seedSummary(t, store)
	svc := newTranslationService(store, &fakeTranslator{}, &captureRecorder{})

	t.Run("unknown summary", func(t *testing.T) {
		if _, _, err := svc.Translate(context.Background(), "u", "nope", "de"); !errors.Is(err, ErrSummaryNotFound) {
			t.Errorf("err = %v; want ErrSummaryNotFound", err)
		}
	})
	t.Run("invalid language tag", func(t *testing.T) {
		if _, _, err := svc.Translate(context.Background(), "u", sum.ID, "not a tag!"); !errors.Is(err, ErrUnsupportedLanguage) {
			t.Errorf("err = %v; want ErrUnsupportedLanguage", err)
		}
	})
	t.Run("source language", func(t *testing.T) {
		if _, _, err := svc.Translate(context.Background(), "u", sum.ID, "en"); !errors.Is(err, ErrUnsupportedLanguage) {
			t.Errorf("err = %v; want ErrUnsupportedLanguage", err)
		}
	})
}

func TestTranslateFailureDoesNotPoison(t *testing.T) {
	store := newFakeTranslationRepo()
	sum := seedSummary(t, store)
	fake := &fakeTranslator{err: errors.New("provider: content policy violation")}
	rec := &captureRecorder{}
	svc := newTranslationService(store, fake, rec)

	if _, _, err := svc.Translate(context.Background(), "u", sum.ID, "de"); err == nil {
		t.Fatal("expected failure")
	}
	recs := rec.records()
	if len(recs) != 1 || recs[0].ErrorType != string(ErrorContentPolicy) {
		t.Fatalf("records = %+v; want one failed content_policy record", recs)
	}

	fake.err = nil
	out, hit, err := svc.Translate(context.Background(), "u", sum.ID, "de")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if hit || out == nil {
		t.Errorf("retry after failure: hit = %v; want a fresh translation", hit)
	}
	if fake.calls.Load() != 2 {
		t.Errorf("translator calls = %d; want 2", fake.calls.Load())
	}
}

func TestTranslateJoinerDisconnectRecordsNothing(t *testing.T) {
	store := newFakeTranslationRepo()
	sum := seedSummary(t, store)
	release := make(chan struct{})
	fake := &fakeTranslator{block: release}
	rec := &captureRecorder{}
	svc := newTranslationService(store, fake, rec)

	leaderDone := make(chan error, 1)
	go func() {
		_, _, err := svc.Translate(context.Background(), "leader", sum.ID, "de")
		leaderDone <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for fake.calls.Load() < 1 {
		if time.Now().After(deadline) {
			t.Fatalf("leader never reached the provider")
		}
		time.Sleep(time.Millisecond)
	}

	jctx, cancel := context.WithCancel(context.Background())
	joinDone := make(chan error, 1)
	go func() {
		_, _, err := svc.Translate(jctx, "joiner", sum.ID, "de")
		joinDone <- err
	}()
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
