// Package repository persists observers, stats requests, summaries, plots
// and the DNS query log. Every backend (memory, Postgres, Redis, Badger)
// implements the same method set and returns the sentinel errors below.
package repository

import "errors"

var (
	// ErrObserverNotFound is returned when no observer has the requested id.
	ErrObserverNotFound = errors.New("observer not found")
	// ErrObserverFinal is returned by Update when the stored observer has
	// already reached a terminal status.
	ErrObserverFinal = errors.New("observer already finalized")
	// ErrStatsNotFound is returned when no stats request has the requested id.
	ErrStatsNotFound = errors.New("stats request not found")
	// ErrPlotNotFound is returned when a stats request has no plot of the
	// requested type.
	ErrPlotNotFound = errors.New("plot not found")
)
