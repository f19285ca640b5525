package domain

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrValidation            = errors.New("invalid job submission")
	ErrQuotaExceeded         = errors.New("quota exceeded")
	ErrProviderFailure       = errors.New("provider failure")
	ErrAllProvidersExhausted = errors.New("all providers exhausted")
)
