package subscription

import "errors"

var (
	ErrUserNotFound     = errors.New("subscription user not found")
	ErrNotActive        = errors.New("subscription is not active")
	ErrStoreUnavailable = errors.New("subscription store unavailable")

	ErrInvalidSignature = errors.New("webhook signature verification failed")
	ErrInvalidPayload   = errors.New("invalid webhook payload")
	ErrMissingSecret    = errors.New("webhook signing secret is required")
)
