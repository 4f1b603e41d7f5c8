package dnsquery

import (
	"github.com/miekg/dns"
	"go.uber.org/zap"
)

// Option configures a Client.
type Option func(*Client)

// WithDNSClient replaces the underlying miekg/dns client.
func WithDNSClient(c *dns.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.dns = c
		}
	}
}

// WithEDNS0Size advertises an EDNS0 UDP buffer size on every query.
// Zero disables EDNS0.
func WithEDNS0Size(size uint16) Option {
	return func(cl *Client) {
		cl.ednsSize = size
	}
}

// WithReporter sets the receiver of per-query outcomes.
func WithReporter(r Reporter) Option {
	return func(cl *Client) {
		if r != nil {
			cl.reporter = r
		}
	}
}

// WithLogger sets the logger used for unexpected answer shapes.
func WithLogger(l *zap.Logger) Option {
	return func(cl *Client) {
		if l != nil {
			cl.logger = l
		}
	}
}
