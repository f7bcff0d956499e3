package imaging

import "fmt"

// Kind names the pipeline stage that failed.
type Kind string

const (
	KindDownload Kind = "download"
	KindUpload   Kind = "upload"
)

// AcquisitionError reports a failed download of the source image or a failed
// upload of the hosted copy.
type AcquisitionError struct {
	Kind   Kind
	Source string
	Err    error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("image %s failed for %s: %v", e.Kind, e.Source, e.Err)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}
