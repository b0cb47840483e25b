// Package pdfinfo inspects exported PDF artifacts.
package pdfinfo

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var errEmpty = errors.New("empty pdf")

// Counter reads page counts with pdfcpu. Validation is relaxed because
// browser exports occasionally carry minor structural quirks.
type Counter struct {
	conf *model.Configuration
}

// New returns a Counter.
func New() *Counter {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Counter{conf: conf}
}

// PageCount returns the number of pages in pdf.
func (c *Counter) PageCount(pdf []byte) (int, error) {
	if len(pdf) == 0 {
		return 0, errEmpty
	}
	n, err := api.PageCount(bytes.NewReader(pdf), c.conf)
	if err != nil {
		return 0, fmt.Errorf("pdfcpu page count: %w", err)
	}
	return n, nil
}
