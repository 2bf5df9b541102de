package services

import (
	"errors"
	"fmt"
)

// FrameError is yielded when a streamed frame from the upstream provider can't be decoded. The
// offending frame is kept so it can be logged.
type FrameError struct {
	Provider string
	Frame    string
	Err      error
}

// StatusError is returned when the upstream provider answers with a non-2xx status before
// streaming starts.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

// UpstreamError is a provider-side error reported inside an already open stream.
type UpstreamError struct {
	Provider string
	Type     string
	Message  string
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("%s: undecodable stream frame %q: %v", e.Provider, e.Frame, e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status code %d: %s", e.Provider, e.StatusCode, e.Body)
}

func (e *UpstreamError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("%s error: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s error %s: %s", e.Provider, e.Type, e.Message)
}

// IsFrameError reports whether err carries a FrameError.
func IsFrameError(err error) bool {
	var fe *FrameError
	return errors.As(err, &fe)
}
