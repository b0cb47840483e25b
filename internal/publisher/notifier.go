// Package publisher announces capture results on a message topic.
package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/reverse-image-archiver/internal/capture"
)

// Message is the JSON payload published for every capture result.
type Message struct {
	RunID       string `json:"run_id"`
	URL         string `json:"url"`
	Artifact    string `json:"artifact,omitempty"`
	ArtifactURI string `json:"artifact_uri,omitempty"`
	Error       string `json:"error,omitempty"`
	Hash        string `json:"hash,omitempty"`
	PageCount   int    `json:"page_count,omitempty"`
	Timestamp   string `json:"timestamp"`
}

// NewMessage renders result as a Message.
func NewMessage(result capture.CaptureResult) Message {
	return Message{
		RunID:       result.RunID,
		URL:         result.URL,
		Artifact:    result.Artifact,
		ArtifactURI: result.ArtifactURI,
		Error:       result.Error,
		Hash:        result.ContentHash,
		PageCount:   result.PageCount,
		Timestamp:   result.Timestamp.UTC().Format(time.RFC3339),
	}
}

// Notifier publishes each capture result to a fixed topic. It implements
// capture.Observer.
type Notifier struct {
	pub   capture.Publisher
	topic string
}

// NewNotifier constructs a Notifier.
func NewNotifier(pub capture.Publisher, topic string) *Notifier {
	return &Notifier{pub: pub, topic: topic}
}

// Observe publishes result.
func (n *Notifier) Observe(ctx context.Context, result capture.CaptureResult) error {
	if _, err := n.pub.Publish(ctx, n.topic, NewMessage(result)); err != nil {
		return fmt.Errorf("publish capture %s#%d: %w", result.RunID, result.Index, err)
	}
	return nil
}
