// Package system provides clock implementations.
package system

import (
	"time"

	"github.com/JakeFAU/reverse-image-archiver/internal/capture"
)

var (
	_ capture.Clock = Clock{}
	_ capture.Clock = Fixed{}
)

// Clock implements capture.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Fixed always reports the same instant.
type Fixed struct {
	T time.Time
}

// Now returns f.T in UTC.
func (f Fixed) Now() time.Time {
	return f.T.UTC()
}
