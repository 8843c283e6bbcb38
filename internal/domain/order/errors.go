package order

import "errors"

var (
	ErrNotFound   = errors.New("order not found")
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("order state conflict")
)
