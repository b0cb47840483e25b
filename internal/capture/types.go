package capture

import (
	"time"
)

// Timestamp layouts used for the two textual renderings of a capture instant.
const (
	DisplayLayout = "2006-01-02 15:04:05"
	NameLayout    = "20060102_150405"
)

// ErrorPrefix is prepended to error details in the manifest's artifact column.
const ErrorPrefix = "Error: "

// Analysis is the structured output of the image analyzer.
type Analysis struct {
	Text string   `json:"text"`
	URLs []string `json:"urls"`
}

// CaptureStatus classifies a CaptureResult.
type CaptureStatus string

// Capture status values.
const (
	StatusArchived CaptureStatus = "archived"
	StatusFailed   CaptureStatus = "failed"
)

// CaptureResult is the outcome of one URL's capture attempt. Exactly one of
// Artifact or Error is populated.
type CaptureResult struct {
	RunID       string    `json:"run_id"`
	Index       int       `json:"index"`
	Timestamp   time.Time `json:"-"`
	URL         string    `json:"url"`
	Artifact    string    `json:"artifact,omitempty"`
	ArtifactURI string    `json:"artifact_uri,omitempty"`
	Error       string    `json:"error,omitempty"`
	ContentHash string    `json:"content_hash,omitempty"`
	PageCount   int       `json:"page_count,omitempty"`
}

// Succeeded reports whether the result carries an artifact reference.
func (r CaptureResult) Succeeded() bool {
	return r.Error == "" && r.Artifact != ""
}

// Status returns the structured status of the result.
func (r CaptureResult) Status() CaptureStatus {
	if r.Succeeded() {
		return StatusArchived
	}
	return StatusFailed
}

// DisplayTime renders the capture instant for the manifest.
func (r CaptureResult) DisplayTime() string {
	return r.Timestamp.Format(DisplayLayout)
}

// NameTime renders the capture instant for artifact naming.
func (r CaptureResult) NameTime() string {
	return r.Timestamp.Format(NameLayout)
}

// ArtifactOrError returns the value written to the manifest's third column.
func (r CaptureResult) ArtifactOrError() string {
	if r.Succeeded() {
		return r.Artifact
	}
	return ErrorPrefix + r.Error
}

// Manifest is the ordered, append-only record of one run's capture outcomes.
type Manifest struct {
	results []CaptureResult
	closed  bool
}

// Append adds a result to the end of the manifest. It returns false once the
// manifest has been finalized.
func (m *Manifest) Append(result CaptureResult) bool {
	if m.closed {
		return false
	}
	m.results = append(m.results, result)
	return true
}

// Finalize closes the manifest for writing.
func (m *Manifest) Finalize() {
	m.closed = true
}

// Finalized reports whether Finalize has been called.
func (m *Manifest) Finalized() bool {
	return m.closed
}

// Len returns the number of results recorded.
func (m *Manifest) Len() int {
	return len(m.results)
}

// Results returns a copy of the recorded results in append order.
func (m *Manifest) Results() []CaptureResult {
	out := make([]CaptureResult, len(m.results))
	copy(out, m.results)
	return out
}

// RunRequest describes one orchestrated capture run.
type RunRequest struct {
	RunID string
	URLs  []string
	Text  string
}

// Run is the orchestrator's output: the finalized manifest plus the
// analyzer text passed through unchanged.
type Run struct {
	RunID         string
	ExtractedText string
	Manifest      *Manifest
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Results is shorthand for the manifest's results.
func (r Run) Results() []CaptureResult {
	if r.Manifest == nil {
		return []CaptureResult{}
	}
	return r.Manifest.Results()
}
