package encoder

import (
	"fmt"
)

// MetadataError means the input could not be probed. It is never retryable
// and no output exists when it is returned.
type MetadataError struct {
	Path   string
	Reason string
	Err    error
}

func (e *MetadataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("probe %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("probe %s: %s", e.Path, e.Reason)
}

func (e *MetadataError) Unwrap() error { return e.Err }

// EncodeError means ffmpeg failed, timed out or produced no usable output.
// Any partial output has been removed before it is returned.
type EncodeError struct {
	Path   string
	Stderr string
	Err    error
}

func (e *EncodeError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("encode %s: %v: %s", e.Path, e.Err, lastLine(e.Stderr))
	}
	return fmt.Sprintf("encode %s: %v", e.Path, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }
