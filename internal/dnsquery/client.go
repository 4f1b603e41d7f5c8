// Package dnsquery issues single UDP queries against one nameserver and
// answers the questions the observers poll for: current SOA serial, zone
// presence, record presence and record data.
package dnsquery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"
)

// Reporter receives the outcome of every query attempt. Implementations
// must not block.
type Reporter interface {
	QuerySucceeded(nameserver string, rtt time.Duration)
	QueryTimedOut(nameserver string, waited time.Duration)
}

type nopReporter struct{}

func (nopReporter) QuerySucceeded(string, time.Duration) {}
func (nopReporter) QueryTimedOut(string, time.Duration)  {}

// Client queries nameservers directly over UDP. It performs no retries:
// retrying is the poll loop's job.
type Client struct {
	dns      *dns.Client
	ednsSize uint16
	reporter Reporter
	logger   *zap.Logger
}

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{
		dns:      &dns.Client{Net: "udp"},
		reporter: nopReporter{},
		logger:   zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// QuerySerial returns the SOA serial of zone as served by nameserver.
// ok is false when the answer section holds no SOA record.
func (c *Client) QuerySerial(ctx context.Context, zone, nameserver string, timeout time.Duration) (serial uint32, ok bool, err error) {
	resp, err := c.exchange(ctx, zone, nameserver, dns.TypeSOA, timeout)
	if err != nil {
		return 0, false, err
	}
	for _, rr := range resp.Answer {
		if soa, isSOA := rr.(*dns.SOA); isSOA {
			return soa.Serial, true, nil
		}
	}
	return 0, false, nil
}

// ZoneExists reports whether nameserver answers an SOA query for zone.
func (c *Client) ZoneExists(ctx context.Context, zone, nameserver string, timeout time.Duration) (bool, error) {
	resp, err := c.exchange(ctx, zone, nameserver, dns.TypeSOA, timeout)
	if err != nil {
		return false, err
	}
	return len(resp.Answer) > 0, nil
}

// RecordExists reports whether the answer section for name/rrtype is
// non-empty.
func (c *Client) RecordExists(ctx context.Context, name, nameserver, rrtype string, timeout time.Duration) (bool, error) {
	qtype, err := parseRecordType(rrtype)
	if err != nil {
		return false, err
	}
	resp, err := c.exchange(ctx, name, nameserver, qtype, timeout)
	if err != nil {
		return false, err
	}
	return len(resp.Answer) > 0, nil
}

// RecordData returns the data of the first answer for name/rrtype: the
// address for A/AAAA, the target name for NS, CNAME and PTR, the exchange
// for MX and the joined strings for TXT. ok is false when the answer is
// empty or its shape is not one of those.
func (c *Client) RecordData(ctx context.Context, name, nameserver, rrtype string, timeout time.Duration) (data string, ok bool, err error) {
	qtype, err := parseRecordType(rrtype)
	if err != nil {
		return "", false, err
	}
	resp, err := c.exchange(ctx, name, nameserver, qtype, timeout)
	if err != nil {
		return "", false, err
	}
	rr := firstAnswer(resp.Answer, qtype)
	if rr == nil {
		return "", false, nil
	}
	data, ok = rdataString(rr)
	if !ok {
		c.logger.Warn("no data field for record type in non-empty answer",
			zap.String("name", name),
			zap.String("nameserver", nameserver),
			zap.String("record_type", rrtype),
			zap.String("answer", rr.String()),
		)
	}
	return data, ok, nil
}

// exchange sends one query and classifies the outcome. NXDOMAIN is a valid
// (empty) answer; any other non-NOERROR rcode is ErrQuery.
func (c *Client) exchange(ctx context.Context, name, nameserver string, qtype uint16, timeout time.Duration) (*dns.Msg, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.RecursionDesired = true
	if c.ednsSize > 0 {
		msg.SetEdns0(c.ednsSize, false)
	}

	server := withPort(nameserver)

	type result struct {
		msg *dns.Msg
		rtt time.Duration
		err error
	}
	ch := make(chan result, 1)

	start := time.Now()
	go func() {
		resp, rtt, err := c.dns.ExchangeContext(ctx, msg, server)
		ch <- result{msg: resp, rtt: rtt, err: err}
	}()

	select {
	case <-ctx.Done():
		c.reporter.QueryTimedOut(nameserver, time.Since(start))
		return nil, fmt.Errorf("%w: %s %s @%s: %v", ErrQueryTimeout, name, dns.TypeToString[qtype], nameserver, ctx.Err())
	case res := <-ch:
		if res.err != nil {
			if isTimeout(res.err) {
				c.reporter.QueryTimedOut(nameserver, time.Since(start))
				return nil, fmt.Errorf("%w: %s %s @%s: %v", ErrQueryTimeout, name, dns.TypeToString[qtype], nameserver, res.err)
			}
			return nil, fmt.Errorf("%w: %s %s @%s: %v", ErrQuery, name, dns.TypeToString[qtype], nameserver, res.err)
		}
		if res.msg == nil {
			return nil, fmt.Errorf("%w: empty response from %s", ErrQuery, nameserver)
		}
		rtt := res.rtt
		if rtt <= 0 {
			rtt = time.Since(start)
		}
		c.reporter.QuerySucceeded(nameserver, rtt)

		switch res.msg.Rcode {
		case dns.RcodeSuccess, dns.RcodeNameError:
			return res.msg, nil
		default:
			return nil, fmt.Errorf("%w: %s answered %s", ErrQuery, nameserver, dns.RcodeToString[res.msg.Rcode])
		}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// withPort appends the default DNS port when nameserver has none.
func withPort(nameserver string) string {
	if _, _, err := net.SplitHostPort(nameserver); err == nil {
		return nameserver
	}
	return net.JoinHostPort(strings.Trim(nameserver, "[]"), "53")
}

// parseRecordType converts a mnemonic such as "AAAA" into its wire value.
func parseRecordType(rrtype string) (uint16, error) {
	t, ok := dns.StringToType[strings.ToUpper(strings.TrimSpace(rrtype))]
	if !ok {
		return 0, fmt.Errorf("%w: unknown record type %q", ErrQuery, rrtype)
	}
	return t, nil
}

func firstAnswer(answer []dns.RR, qtype uint16) dns.RR {
	for _, rr := range answer {
		if rr.Header().Rrtype == qtype {
			return rr
		}
	}
	if len(answer) > 0 {
		return answer[0]
	}
	return nil
}

func rdataString(rr dns.RR) (string, bool) {
	switch v := rr.(type) {
	case *dns.A:
		return v.A.String(), true
	case *dns.AAAA:
		return v.AAAA.String(), true
	case *dns.NS:
		return v.Ns, true
	case *dns.CNAME:
		return v.Target, true
	case *dns.PTR:
		return v.Ptr, true
	case *dns.MX:
		return v.Mx, true
	case *dns.TXT:
		return strings.Join(v.Txt, ""), true
	default:
		return "", false
	}
}
