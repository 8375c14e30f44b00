package access

import "errors"

var (
	ErrInvalidStatusTransition = errors.New("invalid access status transition")
	ErrUnknownStatus           = errors.New("unknown access status")
)
