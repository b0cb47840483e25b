package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/reverse-image-archiver/internal/capture"
	"github.com/JakeFAU/reverse-image-archiver/internal/manifest"
	"github.com/JakeFAU/reverse-image-archiver/internal/storage/memory"
)

func TestProcess_CapturesAndWritesManifest(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	runner := &fakeRunner{}
	p := New(
		fakeAnalyzer{analysis: capture.Analysis{Text: "caption", URLs: []string{"https://a.test", "https://b.test"}}},
		runner,
		manifest.New(store, manifest.Config{}, nil),
		staticIDs{},
		nil,
	)

	resp, err := p.Process(context.Background(), []byte("img"))
	require.NoError(t, err)
	require.Equal(t, MessageComplete, resp.Message)
	require.Equal(t, "run-1", resp.RunID)
	require.Equal(t, "caption", resp.ExtractedText)
	require.True(t, resp.ManifestCreated)
	require.Equal(t, "memory://results.csv", resp.ManifestURI)
	require.Len(t, resp.Results, 2)
	require.Equal(t, capture.StatusArchived, resp.Results[0].Status)
	require.Equal(t, "run-1/a.pdf", resp.Results[0].PDFFilename)
	require.Equal(t, capture.StatusFailed, resp.Results[1].Status)
	require.Equal(t, "Error: export failed", resp.Results[1].PDFFilename)

	raw, ok := store.Object("results.csv")
	require.True(t, ok)
	require.Equal(t,
		"timestamp,url,artifact_name_or_error\n"+
			"2024-01-02 03:04:05,https://a.test,run-1/a.pdf\n"+
			"2024-01-02 03:04:05,https://b.test,Error: export failed\n",
		string(raw))
}

func TestProcess_NoMatchesShortCircuits(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	runner := &fakeRunner{}
	p := New(fakeAnalyzer{analysis: capture.Analysis{Text: "only text"}}, runner,
		manifest.New(store, manifest.Config{}, nil), staticIDs{}, nil)

	resp, err := p.Process(context.Background(), []byte("img"))
	require.NoError(t, err)
	require.Equal(t, MessageNoMatches, resp.Message)
	require.Equal(t, "only text", resp.ExtractedText)
	require.NotNil(t, resp.Results)
	require.Empty(t, resp.Results)
	require.False(t, resp.ManifestCreated)
	require.Zero(t, runner.calls)
	require.Zero(t, store.Len())
}

func TestProcess_AnalyzerFailure(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	p := New(fakeAnalyzer{err: errors.New("quota exceeded")}, runner,
		manifest.New(memory.NewBlobStore(), manifest.Config{}, nil), staticIDs{}, nil)

	resp, err := p.Process(context.Background(), []byte("img"))
	var analysisErr *capture.AnalysisError
	require.ErrorAs(t, err, &analysisErr)
	require.ErrorContains(t, err, "quota exceeded")
	require.Empty(t, resp.Results)
	require.Zero(t, runner.calls)
}

func TestProcess_SessionFailureReturnsPartialResponse(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{err: &capture.SessionError{Err: errors.New("chrome crashed")}}
	p := New(fakeAnalyzer{analysis: capture.Analysis{URLs: []string{"https://a.test"}}}, runner,
		manifest.New(memory.NewBlobStore(), manifest.Config{}, nil), staticIDs{}, nil)

	resp, err := p.Process(context.Background(), []byte("img"))
	var sessErr *capture.SessionError
	require.ErrorAs(t, err, &sessErr)
	require.True(t, resp.ManifestCreated)
	require.Len(t, resp.Results, 1)
}

func TestProcess_ManifestOpenFailure(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	p := New(fakeAnalyzer{analysis: capture.Analysis{URLs: []string{"https://a.test"}}}, runner,
		manifest.New(brokenStore{}, manifest.Config{}, nil), staticIDs{}, nil)

	_, err := p.Process(context.Background(), []byte("img"))
	var manErr *capture.ManifestError
	require.ErrorAs(t, err, &manErr)
	require.Zero(t, runner.calls)
}

func TestProcess_RecordsRunLifecycle(t *testing.T) {
	t.Parallel()

	rec := &fakeRecorder{}
	p := New(fakeAnalyzer{analysis: capture.Analysis{URLs: []string{"https://a.test"}}}, &fakeRunner{},
		manifest.New(memory.NewBlobStore(), manifest.Config{PerRun: true}, nil), staticIDs{}, nil,
		WithRunRecorder(rec))

	resp, err := p.Process(context.Background(), []byte("img"))
	require.NoError(t, err)
	require.Equal(t, []string{"start run-1 1", "complete run-1 completed memory://run-1/results.csv"}, rec.events)
	require.Equal(t, "memory://run-1/results.csv", resp.ManifestURI)
}

func TestProcess_RecorderSeesFailure(t *testing.T) {
	t.Parallel()

	rec := &fakeRecorder{err: errors.New("db down")}
	runner := &fakeRunner{err: &capture.SessionError{Err: errors.New("crash")}}
	p := New(fakeAnalyzer{analysis: capture.Analysis{URLs: []string{"https://a.test"}}}, runner,
		manifest.New(memory.NewBlobStore(), manifest.Config{}, nil), staticIDs{}, nil,
		WithRunRecorder(rec))

	_, err := p.Process(context.Background(), []byte("img"))
	require.Error(t, err)
	require.Len(t, rec.events, 2)
	require.Contains(t, rec.events[1], RunStatusFailed)
}

func TestProcess_OverlappingRunsKeepSharedManifestWhole(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	runner := &gatedRunner{entered: make(chan string, 2), release: make(chan struct{})}
	p := New(
		fakeAnalyzer{analysis: capture.Analysis{URLs: []string{"https://a.test", "https://b.test"}}},
		runner,
		manifest.New(store, manifest.Config{}, nil),
		&seqIDs{},
		nil,
	)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	process := func() {
		defer wg.Done()
		_, err := p.Process(context.Background(), []byte("img"))
		errs <- err
	}
	wg.Add(1)
	go process()
	require.Equal(t, "run-1", <-runner.entered)

	wg.Add(1)
	go process()
	select {
	case id := <-runner.entered:
		t.Fatalf("%s started capturing while run-1 held the manifest", id)
	case <-time.After(50 * time.Millisecond):
	}

	close(runner.release)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, "run-2", <-runner.entered)

	raw, ok := store.Object("results.csv")
	require.True(t, ok)
	require.Equal(t,
		"timestamp,url,artifact_name_or_error\n"+
			"2024-01-02 03:04:05,https://a.test,run-2/a.pdf\n"+
			"2024-01-02 03:04:05,https://b.test,run-2/b.pdf\n",
		string(raw))
}

func TestProcess_IDFailure(t *testing.T) {
	t.Parallel()

	p := New(fakeAnalyzer{}, &fakeRunner{}, nil, failingIDs{}, nil)
	_, err := p.Process(context.Background(), nil)
	require.ErrorContains(t, err, "generate run id")
}

type fakeAnalyzer struct {
	analysis capture.Analysis
	err      error
}

func (f fakeAnalyzer) Analyze(context.Context, []byte) (capture.Analysis, error) {
	return f.analysis, f.err
}

// fakeRunner succeeds on the first URL and fails every later one.
type fakeRunner struct {
	calls int
	err   error
}

func (f *fakeRunner) Run(ctx context.Context, req capture.RunRequest, sink capture.ResultSink) (capture.Run, error) {
	f.calls++
	m := &capture.Manifest{}
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	for i, url := range req.URLs {
		r := capture.CaptureResult{RunID: req.RunID, Index: i + 1, Timestamp: ts, URL: url}
		if i == 0 {
			r.Artifact = req.RunID + "/a.pdf"
		} else {
			r.Error = "export failed"
		}
		m.Append(r)
		if err := sink.Record(ctx, r); err != nil {
			return capture.Run{}, err
		}
	}
	m.Finalize()
	return capture.Run{RunID: req.RunID, ExtractedText: req.Text, Manifest: m}, f.err
}

type fakeRecorder struct {
	events []string
	err    error
}

func (f *fakeRecorder) StartRun(_ context.Context, runID string, _ time.Time, urls int) error {
	f.events = append(f.events, fmt.Sprintf("start %s %d", runID, urls))
	return f.err
}

func (f *fakeRecorder) CompleteRun(_ context.Context, runID string, _ time.Time, status, _, uri string) error {
	f.events = append(f.events, fmt.Sprintf("complete %s %s %s", runID, status, uri))
	return f.err
}

// gatedRunner records one row, then holds until release is closed.
type gatedRunner struct {
	entered chan string
	release chan struct{}
}

func (g *gatedRunner) Run(ctx context.Context, req capture.RunRequest, sink capture.ResultSink) (capture.Run, error) {
	g.entered <- req.RunID
	m := &capture.Manifest{}
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	for i, url := range req.URLs {
		if i == 1 {
			<-g.release
		}
		r := capture.CaptureResult{
			RunID: req.RunID, Index: i + 1, Timestamp: ts, URL: url,
			Artifact: fmt.Sprintf("%s/%c.pdf", req.RunID, 'a'+i),
		}
		m.Append(r)
		if err := sink.Record(ctx, r); err != nil {
			return capture.Run{}, err
		}
	}
	m.Finalize()
	return capture.Run{RunID: req.RunID, Manifest: m}, nil
}

type seqIDs struct{ n atomic.Int64 }

func (s *seqIDs) NewID() (string, error) { return fmt.Sprintf("run-%d", s.n.Add(1)), nil }

type staticIDs struct{}

func (staticIDs) NewID() (string, error) { return "run-1", nil }

type failingIDs struct{}

func (failingIDs) NewID() (string, error) { return "", errors.New("entropy") }

type brokenStore struct{}

func (brokenStore) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("read-only")
}

func (brokenStore) Create(context.Context, string, string) (capture.ObjectWriter, error) {
	return nil, errors.New("read-only")
}
