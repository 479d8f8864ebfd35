package artifact

import "fmt"

// DownloadError reports that an artifact could not be fetched within the
// retry budget.
type DownloadError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// IntegrityError reports a compressed artifact that failed verification.
type IntegrityError struct {
	Path string
	Err  error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("artifact %s failed integrity check: %v", e.Path, e.Err)
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}

// ExtractionError reports a failed decompression. The partial output has
// already been removed when it is returned.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}
