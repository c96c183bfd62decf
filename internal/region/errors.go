package region

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyName       = errors.New("region: name is required")
	ErrDuplicateRegion = errors.New("region: already registered")
	ErrRegionNotFound  = errors.New("region: not found")
	ErrLastRegion      = errors.New("region: cannot remove the last region")
	ErrNoRegions       = errors.New("region: at least one region is required")
)

// ValidationError describes caller input that was rejected without touching state.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("region: invalid %s: %s", e.Field, e.Reason)
}
