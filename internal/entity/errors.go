package entity

import (
	"context"
	"errors"
)

var (
	ErrConfigInvalid   = errors.New("extraction configuration is invalid")
	ErrAuthFailure     = errors.New("authentication failed")
	ErrFetchFailure    = errors.New("page fetch failed")
	ErrParseFailure    = errors.New("page structure did not match")
	ErrPersistence     = errors.New("persistence failed")
	ErrNotFound        = errors.New("not found")
	ErrSessionFinished = errors.New("traffic session already finished")
)

// FailureCause is the classification reported in a run outcome.
type FailureCause string

const (
	CauseNone        FailureCause = ""
	CauseConfig      FailureCause = "config_invalid"
	CauseAuth        FailureCause = "auth_failure"
	CauseFetch       FailureCause = "fetch_failure"
	CauseParse       FailureCause = "parse_failure"
	CausePersistence FailureCause = "persistence_failure"
	CauseCanceled    FailureCause = "canceled"
	CauseUnknown     FailureCause = "unknown"
)

// Classify maps an error chain onto a failure cause.
func Classify(err error) FailureCause {
	switch {
	case err == nil:
		return CauseNone
	case errors.Is(err, ErrConfigInvalid):
		return CauseConfig
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CauseCanceled
	case errors.Is(err, ErrAuthFailure):
		return CauseAuth
	case errors.Is(err, ErrPersistence):
		return CausePersistence
	case errors.Is(err, ErrParseFailure):
		return CauseParse
	case errors.Is(err, ErrFetchFailure), errors.Is(err, ErrSessionFinished):
		return CauseFetch
	}
	return CauseUnknown
}
