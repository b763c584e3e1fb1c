package plan

import "errors"

var (
	ErrInvalidCatalog = errors.New("invalid plan catalog configuration")
	ErrFailedToLoad   = errors.New("failed to load plan catalog")
)
