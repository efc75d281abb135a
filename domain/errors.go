package domain

import (
	"errors"
	"strconv"
)

var (
	ErrAuthentication    = errors.New("authentication failed")
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrUpstream          = errors.New("upstream error")
	ErrUpstreamTimeout   = errors.New("upstream timed out")
	ErrInvalidRequest    = errors.New("invalid chat request")
	ErrSpeechCapture     = errors.New("speech capture failed")
	ErrSynthesis         = errors.New("speech synthesis failed")
	ErrInvalidTransition = errors.New("invalid speech state transition")
)

// UpstreamStatusError carries the HTTP status returned by the upstream.
type UpstreamStatusError struct {
	StatusCode int
}

func (e *UpstreamStatusError) Error() string {
	return "upstream returned status " + strconv.Itoa(e.StatusCode)
}

func (e *UpstreamStatusError) Unwrap() error { return ErrUpstream }
