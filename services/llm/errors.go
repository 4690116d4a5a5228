package llm

import (
	"context"
	"errors"
	"net"
)

// Sentinel errors shared by every backend. Callers branch on these with
// errors.Is instead of matching message strings.
var (
	// ErrUnavailable means the backend could not be reached or refused the
	// request before producing any output.
	ErrUnavailable = errors.New("llm backend unavailable")

	// ErrTimeout means the request deadline elapsed while waiting on the
	// backend.
	ErrTimeout = errors.New("llm request timed out")

	// ErrEmptyResponse means the backend answered successfully but returned
	// no usable text.
	ErrEmptyResponse = errors.New("llm returned an empty response")
)

// classifyTransportErr maps low level transport failures onto the package
// sentinels so the pipeline can distinguish "backend down" from "backend
// slow" without string matching.
func classifyTransportErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	return ErrUnavailable
}
