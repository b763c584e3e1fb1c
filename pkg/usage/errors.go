package usage

import "errors"

var (
	ErrStoreUnavailable = errors.New("usage store unavailable")
)
