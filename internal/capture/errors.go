package capture

import (
	"errors"
	"fmt"
)

var (
	// ErrNoCandidates is returned when a run is requested without URLs.
	ErrNoCandidates = errors.New("no candidate urls")
	// ErrNavigationTimeout marks a navigation that exceeded its budget. It is
	// handled inside the archiver and never fails a URL.
	ErrNavigationTimeout = errors.New("navigation timeout")
	// ErrSessionClosed is returned by sessions used after Close.
	ErrSessionClosed = errors.New("session closed")
)

// AnalysisError reports that the image analyzer could not process the image.
type AnalysisError struct {
	Err error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("image analysis failed: %v", e.Err)
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

// ArchiveError reports that a single URL could not be exported to PDF.
type ArchiveError struct {
	URL string
	Err error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("archive %s: %v", e.URL, e.Err)
}

func (e *ArchiveError) Unwrap() error {
	return e.Err
}

// SessionError reports that the rendering engine could not be started or
// became unusable mid-run.
type SessionError struct {
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("rendering session failed: %v", e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// ManifestError reports that the durable manifest could not be written.
type ManifestError struct {
	Err error
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("manifest write failed: %v", e.Err)
}

func (e *ManifestError) Unwrap() error {
	return e.Err
}
