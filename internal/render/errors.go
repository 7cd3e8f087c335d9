package render

import "errors"

var (
	// ErrUnsupportedType means no strategy exists for the source MIME
	// type. Fatal, never retried.
	ErrUnsupportedType = errors.New("unsupported document type")

	// ErrRenderTimeout means an external process exceeded its wall-clock
	// bound and was killed. Retryable under the job retry policy.
	ErrRenderTimeout = errors.New("render timed out")

	// ErrRenderFailure means an external process exited with an error or
	// produced unusable output.
	ErrRenderFailure = errors.New("render failed")
)
