// internal/api/errors.go
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/FairForge/regioncoord/internal/capacity"
	"github.com/FairForge/regioncoord/internal/disparity"
	"github.com/FairForge/regioncoord/internal/failover"
	"github.com/FairForge/regioncoord/internal/orchestrator"
	"github.com/FairForge/regioncoord/internal/region"
	"github.com/FairForge/regioncoord/internal/syncsched"
)

// errBadRequest marks malformed request bodies and parameters.
var errBadRequest = errors.New("bad request")

var (
	notFound = []error{
		region.ErrRegionNotFound,
		failover.ErrUnknownRecord,
		syncsched.ErrUnknownCategory,
	}
	conflict = []error{
		region.ErrDuplicateRegion,
		region.ErrLastRegion,
		failover.ErrEndpointBusy,
		failover.ErrInvalidTransition,
		failover.ErrNotRunning,
		failover.ErrRecordFinished,
		syncsched.ErrPolicyDisabled,
		syncsched.ErrDuplicateCategory,
		syncsched.ErrResultFinished,
		orchestrator.ErrNoHealthyTarget,
	}
	unprocessable = []error{
		orchestrator.ErrNoSample,
		disparity.ErrTooFewRegions,
	}
	invalid = []error{
		errBadRequest,
		region.ErrEmptyName,
		failover.ErrEmptyRegion,
		failover.ErrSameRegion,
		failover.ErrInvalidWindow,
		failover.ErrInvalidRequired,
		failover.ErrInvalidLimit,
		capacity.ErrNegativeLoad,
		capacity.ErrInvalidMultiplier,
		capacity.ErrInvalidProtection,
		syncsched.ErrEmptyRegion,
		syncsched.ErrSameRegion,
		syncsched.ErrEmptyCategory,
		syncsched.ErrInvalidInterval,
		syncsched.ErrInvalidPriority,
		syncsched.ErrInvalidType,
		syncsched.ErrEmptyID,
		syncsched.ErrEmptyEventType,
	}
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var verr *region.ValidationError
	switch {
	case errors.As(err, &verr), isAny(err, invalid):
		return http.StatusBadRequest
	case isAny(err, notFound):
		return http.StatusNotFound
	case isAny(err, conflict):
		return http.StatusConflict
	case isAny(err, unprocessable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, failover.ErrExecutorClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func isAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}
