package coordinator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/registry-harvester/internal/crawl"
	"github.com/JakeFAU/registry-harvester/internal/harvest"
	"github.com/JakeFAU/registry-harvester/internal/storage/memory"
)

type fakeDoc struct {
	name   string
	stored bool
}

type fakeCrawler struct {
	mu    sync.Mutex
	blobs harvest.BlobStore
	docs  []fakeDoc
	err   error
	calls int
}

func (f *fakeCrawler) Crawl(ctx context.Context, _ string, cp *harvest.Checkpoint) (crawl.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return crawl.Result{}, f.err
	}
	for _, doc := range f.docs {
		if doc.stored {
			if _, err := f.blobs.PutObject(ctx, doc.name, "application/pdf", bytes.NewReader([]byte("pdf:"+doc.name))); err != nil {
				return crawl.Result{}, err
			}
		}
		if err := cp.Append(ctx, doc.name); err != nil {
			return crawl.Result{}, err
		}
	}
	return crawl.Result{Documents: len(f.docs)}, nil
}

func (f *fakeCrawler) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeConverter struct {
	mu     sync.Mutex
	calls  int
	failOn map[int]error // 1-based call numbers
}

func (f *fakeConverter) Convert(_ context.Context, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err, ok := f.failOn[f.calls]; ok {
		return "", err
	}
	return "text of " + string(data), nil
}

func (f *fakeConverter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingPublisher struct {
	topic   string
	payload any
	err     error
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.topic = topic
	p.payload = payload
	return "msg-1", nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func pdfDocs(n int) []fakeDoc {
	docs := make([]fakeDoc, 0, n)
	for i := 1; i <= n; i++ {
		docs = append(docs, fakeDoc{name: fmt.Sprintf("acme-1-%d-listina-%d.pdf", i, i), stored: true})
	}
	return docs
}

type fixture struct {
	store     *memory.Store
	crawler   *fakeCrawler
	converter *fakeConverter
	publisher *recordingPublisher
	coord     *Coordinator
}

func newFixture(t *testing.T, docs []fakeDoc, topic string) *fixture {
	t.Helper()
	store := memory.NewStore()
	f := &fixture{
		store:     store,
		crawler:   &fakeCrawler{blobs: store, docs: docs},
		converter: &fakeConverter{failOn: map[int]error{}},
		publisher: &recordingPublisher{},
	}
	coord, err := New(store, store, f.crawler, f.converter, f.publisher,
		fixedClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		Config{Topic: topic}, zap.NewNop())
	require.NoError(t, err)
	f.coord = coord
	return f
}

func TestNewRequiresDependencies(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	_, err := New(nil, store, &fakeCrawler{}, nil, nil, fixedClock{}, Config{}, nil)
	require.Error(t, err)
	_, err = New(store, store, nil, nil, nil, fixedClock{}, Config{}, nil)
	require.Error(t, err)
}

func TestDownloadIsIdempotent(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, pdfDocs(3), "")
	ctx := context.Background()

	first, err := fx.coord.Download(ctx, "Acme")
	require.NoError(t, err)
	require.Len(t, first, 3)

	second, err := fx.coord.Download(ctx, "ACME")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, fx.crawler.callCount(), "finished phase must not crawl again")

	state, found, err := fx.store.GetState(ctx, "download-state-acme")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, state.Finished)
	assert.ElementsMatch(t, first, state.Files)
}

// countingFetcher serves a fixed registry and counts every request.
type countingFetcher struct {
	responses map[string]harvest.FetchResponse
	calls     atomic.Int64
}

func (f *countingFetcher) Fetch(_ context.Context, req harvest.FetchRequest) (harvest.FetchResponse, error) {
	f.calls.Add(1)
	resp, ok := f.responses[req.URL]
	if !ok {
		return harvest.FetchResponse{}, &harvest.StatusError{URL: req.URL, StatusCode: http.StatusNotFound}
	}
	return resp, nil
}

func newCountingRegistry(cfg crawl.Config) *countingFetcher {
	html := func(url, body string) harvest.FetchResponse {
		return harvest.FetchResponse{
			URL:        url,
			StatusCode: http.StatusOK,
			Headers:    harvest.Headers{"content-type": {"text/html"}},
			Body:       []byte(body),
		}
	}
	base := "https://registry.test/ias/ui"
	f := &countingFetcher{responses: map[string]harvest.FetchResponse{}}
	f.responses[cfg.StartURL("Acme")] = html(cfg.StartURL("Acme"),
		`<a href="./vypis-sl-firma?subjektId=7">Sbírka listin</a>`)
	f.responses[base+"/vypis-sl-firma?subjektId=7"] = html(base+"/vypis-sl-firma?subjektId=7",
		`<a href="./vypis-sl-detail?dokument=1">1</a><a href="./vypis-sl-detail?dokument=2">2</a>`)
	for i := 1; i <= 2; i++ {
		detail := fmt.Sprintf("%s/vypis-sl-detail?dokument=%d", base, i)
		f.responses[detail] = html(detail, fmt.Sprintf(`<a href="/ias/content/download?id=%d">PDF</a>`, i))
		download := fmt.Sprintf("https://registry.test/ias/content/download?id=%d", i)
		f.responses[download] = harvest.FetchResponse{
			URL:        download,
			StatusCode: http.StatusOK,
			Headers: harvest.Headers{
				"content-type":        {"application/pdf"},
				"content-disposition": {fmt.Sprintf(`attachment; filename="listina-%d.pdf"`, i)},
			},
			Body: []byte("%PDF-1.4"),
		}
	}
	return f
}

func TestDownloadWithOrchestratorSkipsFetchWhenFinished(t *testing.T) {
	t.Parallel()

	cfg := crawl.DefaultConfig()
	cfg.BaseURL = "https://registry.test/ias/ui"
	cfg.DownloadBaseURL = "https://registry.test"
	fetcher := newCountingRegistry(cfg)
	store := memory.NewStore()
	clock := fixedClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	orchestrator, err := crawl.New(cfg, fetcher, store, nil, clock, zap.NewNop())
	require.NoError(t, err)
	coord, err := New(store, store, orchestrator, nil, nil, clock, Config{}, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	first, err := coord.Download(ctx, "Acme")
	require.NoError(t, err)
	require.Len(t, first, 2)
	for _, name := range first {
		assert.True(t, harvest.IsPDF(name), name)
	}
	assert.Equal(t, int64(6), fetcher.calls.Load()) // start, listing, two details, two documents

	second, err := coord.Download(ctx, "Acme")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int64(6), fetcher.calls.Load(), "finished phase must not fetch")
}

func TestEntityLocksAreReleased(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, pdfDocs(2), "")
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, name := range []string{"Acme", "ACME", "Beta", "Gama"} {
		wg.Add(1)
		go func(entity string) {
			defer wg.Done()
			_, err := fx.coord.Download(ctx, entity)
			assert.NoError(t, err)
		}(name)
	}
	wg.Wait()

	fx.coord.locksMu.Lock()
	defer fx.coord.locksMu.Unlock()
	assert.Empty(t, fx.coord.locks)
}

func TestDownloadFailureLeavesPhaseUnfinished(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil, "")
	fx.crawler.err = fmt.Errorf("search: %w", harvest.ErrEntityNotFound)
	ctx := context.Background()

	_, err := fx.coord.Download(ctx, "Nobody")
	require.ErrorIs(t, err, harvest.ErrEntityNotFound)

	states, err := fx.coord.State(ctx, "Nobody")
	require.NoError(t, err)
	assert.False(t, states[harvest.PhaseDownload].Finished)

	_, err = fx.coord.Download(ctx, "Nobody")
	require.Error(t, err)
	assert.Equal(t, 2, fx.crawler.callCount())
}

func TestOCRResumesAfterConversionFailure(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, pdfDocs(3), "")
	fx.converter.failOn[2] = errors.New("ocr service unavailable")
	ctx := context.Background()

	_, err := fx.coord.OCR(ctx, "Acme")
	require.Error(t, err)

	states, err := fx.coord.State(ctx, "Acme")
	require.NoError(t, err)
	assert.True(t, states[harvest.PhaseDownload].Finished)
	assert.False(t, states[harvest.PhaseOCR].Finished)
	assert.Empty(t, states[harvest.PhaseOCR].Files)

	texts, err := fx.coord.OCR(ctx, "Acme")
	require.NoError(t, err)
	want := make([]string, 0, 3)
	for _, doc := range pdfDocs(3) {
		want = append(want, "text of pdf:"+doc.name)
	}
	assert.ElementsMatch(t, want, texts)
	assert.Equal(t, 1, fx.crawler.callCount())

	states, err = fx.coord.State(ctx, "Acme")
	require.NoError(t, err)
	assert.True(t, states[harvest.PhaseOCR].Finished)
	assert.Len(t, states[harvest.PhaseOCR].Files, 3)
}

func TestOCRFinishedPhaseReturnsCachedTexts(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, pdfDocs(2), "")
	ctx := context.Background()

	first, err := fx.coord.OCR(ctx, "Acme")
	require.NoError(t, err)
	require.Len(t, first, 2)
	calls := fx.converter.callCount()

	second, err := fx.coord.OCR(ctx, "Acme")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, calls, fx.converter.callCount())
}

func TestOCRFiltersAndSkipsMissingDocuments(t *testing.T) {
	t.Parallel()

	docs := []fakeDoc{
		{name: "acme-1-0-a.pdf", stored: true},
		{name: "acme-1-1-B.PDF", stored: true},
		{name: "acme-1-2-notes.html", stored: true},
		{name: "acme-1-3-gone.pdf", stored: false},
	}
	fx := newFixture(t, docs, "")
	ctx := context.Background()

	texts, err := fx.coord.OCR(ctx, "Acme")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"text of pdf:acme-1-0-a.pdf", "text of pdf:acme-1-1-B.PDF"}, texts)
	assert.Equal(t, 2, fx.converter.callCount())

	rec, err := fx.store.GetObject(ctx, "acme-1-0-a.pdf.txt")
	require.NoError(t, err)
	assert.Equal(t, "text/plain; charset=utf-8", rec.ContentType)
	assert.Equal(t, "text of pdf:acme-1-0-a.pdf", string(rec.Data))

	_, err = fx.store.GetObject(ctx, "acme-1-2-notes.html.txt")
	assert.ErrorIs(t, err, harvest.ErrNotFound)
}

func TestOCRConcurrentConversions(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	crawler := &fakeCrawler{blobs: store, docs: pdfDocs(8)}
	converter := &fakeConverter{failOn: map[int]error{}}
	coord, err := New(store, store, crawler, converter, nil, fixedClock{}, Config{OCRConcurrency: 4}, zap.NewNop())
	require.NoError(t, err)

	texts, err := coord.OCR(context.Background(), "Acme")
	require.NoError(t, err)
	assert.Len(t, texts, 8)
}

func TestOCRWithoutConverter(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	coord, err := New(store, store, &fakeCrawler{blobs: store}, nil, nil, fixedClock{}, Config{}, zap.NewNop())
	require.NoError(t, err)

	_, err = coord.OCR(context.Background(), "Acme")
	require.Error(t, err)
}

func TestHarvestPublishesCompletion(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, pdfDocs(2), "harvests")
	result, err := fx.coord.Harvest(context.Background(), "Acme")
	require.NoError(t, err)

	assert.Equal(t, "acme", result.EntityKey)
	assert.Len(t, result.Documents, 2)
	assert.Len(t, result.Texts, 2)

	assert.Equal(t, "harvests", fx.publisher.topic)
	event, ok := fx.publisher.payload.(harvest.CompletionEvent)
	require.True(t, ok)
	assert.Equal(t, harvest.CompletionEvent{
		EntityKey:  "acme",
		EntityName: "Acme",
		Documents:  2,
		Texts:      2,
		FinishedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}, event)
}

func TestHarvestPublishFailureIsReturned(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, pdfDocs(1), "harvests")
	fx.publisher.err = errors.New("topic missing")

	result, err := fx.coord.Harvest(context.Background(), "Acme")
	require.ErrorIs(t, err, fx.publisher.err)
	assert.Len(t, result.Texts, 1)
}

func TestRunPhaseRejectsBadInput(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil, "")
	_, err := fx.coord.RunPhase(context.Background(), harvest.Phase("render"), "Acme")
	require.Error(t, err)
	_, err = fx.coord.RunPhase(context.Background(), harvest.PhaseDownload, "  ")
	require.Error(t, err)
}

func TestStateDefaultsWhenEmpty(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil, "")
	states, err := fx.coord.State(context.Background(), "Acme")
	require.NoError(t, err)
	for _, phase := range harvest.Phases() {
		assert.Equal(t, harvest.CrawlState{Files: []string{}}, states[phase])
	}
}
