package messaging

import "errors"

var (
	// ErrPermissionDenied indicates the caller may not act on this
	// conversation or message.
	ErrPermissionDenied = errors.New("messaging: permission denied")
	// ErrMessageNotFound indicates the referenced message does not exist.
	ErrMessageNotFound = errors.New("messaging: message not found")
	// ErrValidation indicates a malformed request such as an empty body.
	ErrValidation = errors.New("messaging: validation failed")
)
