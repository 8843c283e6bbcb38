package message

import "errors"

var (
	ErrNotFound   = errors.New("message not found")
	ErrValidation = errors.New("validation failed")
	ErrForbidden  = errors.New("not the sender of this message")
)
