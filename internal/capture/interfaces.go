package capture

import (
	"context"
	"io"
	"time"
)

// Analyzer extracts text and candidate page URLs from raw image bytes.
type Analyzer interface {
	Analyze(ctx context.Context, image []byte) (Analysis, error)
}

// Session is a stateful handle to one rendering-engine instance. It is not
// safe for concurrent navigation and must be closed exactly once.
type Session interface {
	// Navigate loads url, returning when the document has loaded or ctx ends.
	Navigate(ctx context.Context, url string) error
	// StopLoading aborts any in-flight navigation, keeping the partial document.
	StopLoading(ctx context.Context) error
	// PrintToPDF exports the current document, background graphics included.
	PrintToPDF(ctx context.Context) ([]byte, error)
	// Healthy returns a non-nil error once the engine is no longer usable.
	Healthy() error
	Close() error
}

// SessionFactory starts rendering sessions.
type SessionFactory interface {
	Open(ctx context.Context) (Session, error)
}

// ObjectWriter streams a single object into a BlobStore.
type ObjectWriter interface {
	io.WriteCloser
	// URI identifies the object once Close has succeeded.
	URI() string
}

// BlobStore writes artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	Create(ctx context.Context, path string, contentType string) (ObjectWriter, error)
}

// ResultSink receives each capture result as soon as it is produced.
type ResultSink interface {
	Record(ctx context.Context, result CaptureResult) error
}

// Observer is notified of every capture result. Observer failures never
// affect the run.
type Observer interface {
	Observe(ctx context.Context, result CaptureResult) error
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, result CaptureResult) error

// Observe calls f.
func (f ObserverFunc) Observe(ctx context.Context, result CaptureResult) error {
	return f(ctx, result)
}

// Publisher pushes capture notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// ResultStore persists capture results for later querying.
type ResultStore interface {
	RecordCapture(ctx context.Context, result CaptureResult) error
}

// PageCounter inspects an exported PDF.
type PageCounter interface {
	PageCount(pdf []byte) (int, error)
}

// Hasher computes digests for artifact integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run and job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
