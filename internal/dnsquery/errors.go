package dnsquery

import "errors"

// Sentinel errors for the DNS query client.
var (
	// ErrQueryTimeout is returned when a query exceeds its per-query deadline.
	// Callers treat it as transient.
	ErrQueryTimeout = errors.New("dnsquery: query timed out")

	// ErrQuery is returned for transport failures, malformed responses and
	// refusing or failing nameservers.
	ErrQuery = errors.New("dnsquery: query failed")
)
