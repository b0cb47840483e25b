package capture

// ReportRow is the client-facing rendering of one capture result.
type ReportRow struct {
	Timestamp string `json:"timestamp"`
	URL       string `json:"url"`
	// PDFFilename mirrors the manifest's third column.
	PDFFilename string        `json:"pdf_filename"`
	Status      CaptureStatus `json:"status"`
	ArtifactURI string        `json:"artifact_uri,omitempty"`
	Error       string        `json:"error,omitempty"`
	ContentHash string        `json:"content_hash,omitempty"`
	PageCount   int           `json:"page_count,omitempty"`
}

// NewReportRow renders r for clients.
func NewReportRow(r CaptureResult) ReportRow {
	return ReportRow{
		Timestamp:   r.DisplayTime(),
		URL:         r.URL,
		PDFFilename: r.ArtifactOrError(),
		Status:      r.Status(),
		ArtifactURI: r.ArtifactURI,
		Error:       r.Error,
		ContentHash: r.ContentHash,
		PageCount:   r.PageCount,
	}
}

// Report is the outcome of processing one uploaded image.
type Report struct {
	Message         string      `json:"message"`
	RunID           string      `json:"run_id,omitempty"`
	ExtractedText   string      `json:"extracted_text"`
	Results         []ReportRow `json:"results"`
	ManifestURI     string      `json:"csv_file,omitempty"`
	ManifestCreated bool        `json:"-"`
}
