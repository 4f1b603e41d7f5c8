package service

import "errors"

// Sentinel errors returned by the observer and stats services. Handlers map
// them to HTTP status codes.
var (
	ErrObserverNotFound = errors.New("observer not found")
	ErrStatsNotFound    = errors.New("stats request not found")
	ErrPlotNotFound     = errors.New("plot not found")
	ErrStatsNotReady    = errors.New("stats request has not completed")
	ErrPersistence      = errors.New("persistence failure")
	ErrShuttingDown     = errors.New("service is shutting down")
)
