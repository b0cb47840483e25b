package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	visionapi "google.golang.org/api/vision/v1"

	"github.com/JakeFAU/reverse-image-archiver/internal/capture"
)

type fakeVision struct {
	mu       sync.Mutex
	features []string
	contents []string
	text     func(w http.ResponseWriter)
	web      func(w http.ResponseWriter)
}

func (f *fakeVision) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "images:annotate") {
		http.NotFound(w, r)
		return
	}
	var req visionapi.BatchAnnotateImagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	feature := req.Requests[0].Features[0].Type
	f.mu.Lock()
	f.features = append(f.features, feature)
	f.contents = append(f.contents, req.Requests[0].Image.Content)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch feature {
	case FeatureText:
		f.text(w)
	case FeatureWeb:
		f.web(w)
	default:
		http.Error(w, "unexpected feature", http.StatusBadRequest)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	_ = json.NewEncoder(w).Encode(v)
}

func textResponse(desc string) func(http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		writeJSON(w, visionapi.BatchAnnotateImagesResponse{
			Responses: []*visionapi.AnnotateImageResponse{{
				TextAnnotations: []*visionapi.EntityAnnotation{{Description: desc}, {Description: "word"}},
			}},
		})
	}
}

func webResponse(urls ...string) func(http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		pages := make([]*visionapi.WebPage, 0, len(urls))
		for _, u := range urls {
			pages = append(pages, &visionapi.WebPage{Url: u})
		}
		writeJSON(w, visionapi.BatchAnnotateImagesResponse{
			Responses: []*visionapi.AnnotateImageResponse{{
				WebDetection: &visionapi.WebDetection{PagesWithMatchingImages: pages},
			}},
		})
	}
}

func newTestAnalyzer(t *testing.T, fake *fakeVision) *Analyzer {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	a, err := New(context.Background(), Config{Endpoint: srv.URL + "/"}, nil, option.WithoutAuthentication())
	require.NoError(t, err)
	return a
}

func TestAnalyze_TextAndPages(t *testing.T) {
	t.Parallel()

	fake := &fakeVision{
		text: textResponse("STOP\nsign"),
		web:  webResponse("https://a.test/1", "", "https://b.test/2"),
	}
	a := newTestAnalyzer(t, fake)

	got, err := a.Analyze(context.Background(), []byte("png-bytes"))
	require.NoError(t, err)
	require.Equal(t, "STOP\nsign", got.Text)
	require.Equal(t, []string{"https://a.test/1", "https://b.test/2"}, got.URLs)
	require.Equal(t, []string{FeatureText, FeatureWeb}, fake.features)
	require.Equal(t, base64.StdEncoding.EncodeToString([]byte("png-bytes")), fake.contents[0])
}

func TestAnalyze_NoTextNoPages(t *testing.T) {
	t.Parallel()

	fake := &fakeVision{
		text: func(w http.ResponseWriter) {
			writeJSON(w, visionapi.BatchAnnotateImagesResponse{Responses: []*visionapi.AnnotateImageResponse{{}}})
		},
		web: func(w http.ResponseWriter) {
			writeJSON(w, visionapi.BatchAnnotateImagesResponse{Responses: []*visionapi.AnnotateImageResponse{{}}})
		},
	}
	got, err := newTestAnalyzer(t, fake).Analyze(context.Background(), []byte("img"))
	require.NoError(t, err)
	require.Empty(t, got.Text)
	require.Empty(t, got.URLs)
}

func TestAnalyze_TextFailureIsBestEffort(t *testing.T) {
	t.Parallel()

	fake := &fakeVision{
		text: func(w http.ResponseWriter) {
			w.WriteHeader(http.StatusInternalServerError)
			writeJSON(w, map[string]any{"error": map[string]any{"code": 500, "message": "backend"}})
		},
		web: webResponse("https://a.test"),
	}
	got, err := newTestAnalyzer(t, fake).Analyze(context.Background(), []byte("img"))
	require.NoError(t, err)
	require.Empty(t, got.Text)
	require.Equal(t, []string{"https://a.test"}, got.URLs)
}

func TestAnalyze_WebDetectionErrorStatus(t *testing.T) {
	t.Parallel()

	fake := &fakeVision{
		text: textResponse("hi"),
		web: func(w http.ResponseWriter) {
			writeJSON(w, visionapi.BatchAnnotateImagesResponse{
				Responses: []*visionapi.AnnotateImageResponse{{
					Error: &visionapi.Status{Code: 3, Message: "Bad image data."},
				}},
			})
		},
	}
	got, err := newTestAnalyzer(t, fake).Analyze(context.Background(), []byte("img"))
	var analysisErr *capture.AnalysisError
	require.ErrorAs(t, err, &analysisErr)
	require.ErrorContains(t, err, "Bad image data.")
	require.Equal(t, "hi", got.Text)
	require.Empty(t, got.URLs)
}

func TestAnalyze_EmptyImage(t *testing.T) {
	t.Parallel()

	fake := &fakeVision{text: textResponse("x"), web: webResponse()}
	_, err := newTestAnalyzer(t, fake).Analyze(context.Background(), nil)
	require.ErrorIs(t, err, errEmptyImage)
	require.Empty(t, fake.features)
}
