package models

// These structs define the JSON bodies returned by the HTTP surface.

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	Status  string    `json:"status"`
	Kind    ErrorKind `json:"error"`
	Message string    `json:"message"`
}

// ConversionResponse is returned by remote conversions when the artifact is
// not streamed back, mirroring the service's historical {success, url} body.
type ConversionResponse struct {
	Success bool   `json:"success"`
	URL     string `json:"url"`
	JobID   string `json:"jobId"`
}

// OfficeConversionResult is the outcome of an event-driven office conversion.
type OfficeConversionResult struct {
	Status       string `json:"status"`
	OutputGCSUri string `json:"outputGcsUri"`
	Skipped      bool   `json:"skipped,omitempty"`
}

// SweepResponse reports the artifact sweep.
type SweepResponse struct {
	Status  string `json:"status"`
	Deleted int    `json:"deleted"`
}

// TextExtraction is the body of an extract-text result.
type TextExtraction struct {
	PageCount int      `json:"pageCount"`
	Pages     []string `json:"pages"`
}
