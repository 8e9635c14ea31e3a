package apperr

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidPayload   = errors.New("invalid payload")
	ErrDuplicateKey     = errors.New("duplicate key")
	ErrStoreUnavailable = errors.New("store unavailable")
)
