// Package vision implements the image analyzer on the Cloud Vision API.
package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	visionapi "google.golang.org/api/vision/v1"

	"github.com/JakeFAU/reverse-image-archiver/internal/capture"
	"github.com/JakeFAU/reverse-image-archiver/internal/metrics"
)

// Vision feature types.
const (
	FeatureText = "TEXT_DETECTION"
	FeatureWeb  = "WEB_DETECTION"
)

var (
	errEmptyImage    = errors.New("image is empty")
	errEmptyResponse = errors.New("vision returned no responses")
)

// Config configures the Vision client.
type Config struct {
	// CredentialsFile is a service-account JSON file. Empty uses ADC.
	CredentialsFile string
	// Endpoint overrides the API endpoint.
	Endpoint string
	// MaxResults caps web-detection matches. Zero leaves the API default.
	MaxResults int64
}

// Analyzer calls Cloud Vision for text and web-detection features.
type Analyzer struct {
	svc    *visionapi.Service
	cfg    Config
	logger *zap.Logger
}

// New builds an Analyzer. Extra client options are appended after the ones
// derived from cfg.
func New(ctx context.Context, cfg Config, logger *zap.Logger, opts ...option.ClientOption) (*Analyzer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	clientOpts := make([]option.ClientOption, 0, len(opts)+2)
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(cfg.Endpoint))
	}
	clientOpts = append(clientOpts, opts...)
	svc, err := visionapi.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create vision service: %w", err)
	}
	return &Analyzer{svc: svc, cfg: cfg, logger: logger}, nil
}

// Analyze extracts the image's text and the pages carrying matching images.
// Text extraction is best effort: a failure yields empty text. A
// web-detection failure is returned as *capture.AnalysisError.
func (a *Analyzer) Analyze(ctx context.Context, image []byte) (capture.Analysis, error) {
	if len(image) == 0 {
		return capture.Analysis{}, &capture.AnalysisError{Err: errEmptyImage}
	}
	content := base64.StdEncoding.EncodeToString(image)

	text, err := a.ExtractText(ctx, content)
	if err != nil {
		a.logger.Error("text extraction failed; continuing without text", zap.Error(err))
		text = ""
	}

	urls, err := a.MatchingPages(ctx, content)
	if err != nil {
		return capture.Analysis{Text: text}, &capture.AnalysisError{Err: err}
	}
	return capture.Analysis{Text: text, URLs: urls}, nil
}

// ExtractText returns the full-text annotation of a base64-encoded image, or
// "" when the image has no text.
func (a *Analyzer) ExtractText(ctx context.Context, content string) (string, error) {
	resp, err := a.annotate(ctx, content, &visionapi.Feature{Type: FeatureText})
	if err != nil {
		return "", err
	}
	if len(resp.TextAnnotations) == 0 {
		a.logger.Info("no text found in image")
		return "", nil
	}
	return resp.TextAnnotations[0].Description, nil
}

// MatchingPages returns the URLs of pages with matching images, in the order
// the API reports them.
func (a *Analyzer) MatchingPages(ctx context.Context, content string) ([]string, error) {
	resp, err := a.annotate(ctx, content, &visionapi.Feature{Type: FeatureWeb, MaxResults: a.cfg.MaxResults})
	if err != nil {
		return nil, err
	}
	if resp.WebDetection == nil {
		a.logger.Warn("no matching pages found")
		return []string{}, nil
	}
	urls := make([]string, 0, len(resp.WebDetection.PagesWithMatchingImages))
	for _, page := range resp.WebDetection.PagesWithMatchingImages {
		if page == nil || strings.TrimSpace(page.Url) == "" {
			continue
		}
		urls = append(urls, page.Url)
	}
	a.logger.Info("web detection complete", zap.Int("pages", len(urls)))
	return urls, nil
}

func (a *Analyzer) annotate(
	ctx context.Context,
	content string,
	feature *visionapi.Feature,
) (*visionapi.AnnotateImageResponse, error) {
	req := &visionapi.BatchAnnotateImagesRequest{
		Requests: []*visionapi.AnnotateImageRequest{{
			Image:    &visionapi.Image{Content: content},
			Features: []*visionapi.Feature{feature},
		}},
	}
	batch, err := a.svc.Images.Annotate(req).Context(ctx).Do()
	if err != nil {
		metrics.ObserveAnalyzerRequest(feature.Type, "error")
		return nil, fmt.Errorf("vision %s: %w", strings.ToLower(feature.Type), err)
	}
	if len(batch.Responses) == 0 || batch.Responses[0] == nil {
		metrics.ObserveAnalyzerRequest(feature.Type, "error")
		return nil, errEmptyResponse
	}
	resp := batch.Responses[0]
	if resp.Error != nil && resp.Error.Message != "" {
		metrics.ObserveAnalyzerRequest(feature.Type, "error")
		return nil, fmt.Errorf("error from vision api: %s", resp.Error.Message)
	}
	metrics.ObserveAnalyzerRequest(feature.Type, "ok")
	return resp, nil
}
