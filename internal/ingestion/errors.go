package ingestion

import "errors"

// Step names a store operation of the pipeline.
type Step string

const (
	StepUpload Step = "upload"
	StepRecord Step = "record"
)

// ErrOutOfSequence is the cause of a ProcessingError returned when an
// operation is invoked from the wrong state.
var ErrOutOfSequence = errors.New("operation out of sequence")

// ErrBlobNameMismatch is the cause of a ProcessingError returned when a
// record is requested for a blob other than the one uploaded.
var ErrBlobNameMismatch = errors.New("blob name does not match uploaded blob")

// ProcessingError is the only error a Request returns. Its message does not
// reveal which store failed or why; the cause is kept for logging and
// errors.As.
type ProcessingError struct {
	Step Step
	Err  error
}

func (e *ProcessingError) Error() string {
	switch e.Step {
	case StepUpload:
		return "failed to upload image to blob storage"
	case StepRecord:
		return "failed to insert record to table storage"
	default:
		return "failed to process image"
	}
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}
