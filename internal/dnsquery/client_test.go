package dnsquery

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startTestDNSServer starts a UDP DNS server on a random local port and
// returns its address and a shutdown func.
func startTestDNSServer(t *testing.T, handler dns.HandlerFunc) (string, func()) {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err, "failed to listen")

	server := &dns.Server{
		PacketConn: pc,
		Handler:    handler,
	}

	started := make(chan struct{})
	server.NotifyStartedFunc = func() { close(started) }
	go func() {
		if err := server.ActivateAndServe(); err != nil {
			select {
			case <-started:
			default:
				t.Logf("DNS server error: %v", err)
			}
		}
	}()

	<-started
	return pc.LocalAddr().String(), func() { _ = server.Shutdown() }
}

func soaRR(name string, serial uint32) dns.RR {
	return &dns.SOA{
		Hdr:     dns.RR_Header{Name: name, Rrtype: dns.TypeSOA, Class: dns.ClassINET, Ttl: 60},
		Ns:      "ns1." + name,
		Mbox:    "hostmaster." + name,
		Serial:  serial,
		Refresh: 3600, Retry: 600, Expire: 86400, Minttl: 60,
	}
}

// zoneHandler serves a tiny fixed zone for example.com.
func zoneHandler(serial uint32) dns.HandlerFunc {
	return func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		q := r.Question[0]
		if q.Name != "example.com." && q.Name != "www.example.com." {
			m.Rcode = dns.RcodeNameError
			_ = w.WriteMsg(m)
			return
		}
		switch q.Qtype {
		case dns.TypeSOA:
			if q.Name == "example.com." {
				m.Answer = append(m.Answer, soaRR(q.Name, serial))
			}
		case dns.TypeA:
			m.Answer = append(m.Answer, &dns.A{
				Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
				A:   net.ParseIP("192.0.2.1"),
			})
		case dns.TypeNS:
			m.Answer = append(m.Answer, &dns.NS{
				Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeNS, Class: dns.ClassINET, Ttl: 60},
				Ns:  "ns1.example.com.",
			})
		case dns.TypeHINFO:
			m.Answer = append(m.Answer, &dns.HINFO{
				Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeHINFO, Class: dns.ClassINET, Ttl: 60},
				Cpu: "x86", Os: "linux",
			})
		}
		_ = w.WriteMsg(m)
	}
}

type recordingReporter struct {
	mu        sync.Mutex
	successes int
	timeouts  int
}

func (r *recordingReporter) QuerySucceeded(string, time.Duration) {
	r.mu.Lock()
	r.successes++
	r.mu.Unlock()
}

func (r *recordingReporter) QueryTimedOut(string, time.Duration) {
	r.mu.Lock()
	r.timeouts++
	r.mu.Unlock()
}

func (r *recordingReporter) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.successes, r.timeouts
}

func TestQuerySerial(t *testing.T) {
	addr, cleanup := startTestDNSServer(t, zoneHandler(2026010101))
	defer cleanup()

	rep := &recordingReporter{}
	c := New(WithReporter(rep))
	ctx := context.Background()

	serial, ok, err := c.QuerySerial(ctx, "example.com", addr, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint32(2026010101), serial)

	_, ok, err = c.QuerySerial(ctx, "www.example.com", addr, time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "no SOA in answer means no serial")

	successes, timeouts := rep.counts()
	assert.Equal(t, 2, successes)
	assert.Zero(t, timeouts)
}

func TestZoneExists(t *testing.T) {
	addr, cleanup := startTestDNSServer(t, zoneHandler(1))
	defer cleanup()

	c := New()
	ctx := context.Background()

	exists, err := c.ZoneExists(ctx, "example.com", addr, time.Second)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = c.ZoneExists(ctx, "gone.test", addr, time.Second)
	require.NoError(t, err, "NXDOMAIN is an empty answer, not an error")
	assert.False(t, exists)
}

func TestRecordExists(t *testing.T) {
	addr, cleanup := startTestDNSServer(t, zoneHandler(1))
	defer cleanup()

	c := New()
	exists, err := c.RecordExists(context.Background(), "www.example.com", addr, "A", time.Second)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = c.RecordExists(context.Background(), "www.example.com", addr, "TXT", time.Second)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRecordData(t *testing.T) {
	addr, cleanup := startTestDNSServer(t, zoneHandler(1))
	defer cleanup()

	c := New()
	ctx := context.Background()

	t.Run("A returns address", func(t *testing.T) {
		data, ok, err := c.RecordData(ctx, "www.example.com", addr, "A", time.Second)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "192.0.2.1", data)
	})

	t.Run("NS returns target", func(t *testing.T) {
		data, ok, err := c.RecordData(ctx, "example.com", addr, "ns", time.Second)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "ns1.example.com.", data)
	})

	t.Run("empty answer", func(t *testing.T) {
		_, ok, err := c.RecordData(ctx, "www.example.com", addr, "MX", time.Second)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("unsupported shape", func(t *testing.T) {
		_, ok, err := c.RecordData(ctx, "www.example.com", addr, "HINFO", time.Second)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, _, err := c.RecordData(ctx, "www.example.com", addr, "NOPE", time.Second)
		assert.ErrorIs(t, err, ErrQuery)
	})
}

func TestRefusedIsQueryError(t *testing.T) {
	addr, cleanup := startTestDNSServer(t, func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetRcode(r, dns.RcodeRefused)
		_ = w.WriteMsg(m)
	})
	defer cleanup()

	_, err := New().ZoneExists(context.Background(), "example.com", addr, time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQuery)
	assert.NotErrorIs(t, err, ErrQueryTimeout)
}

func TestSilentServerTimesOut(t *testing.T) {
	addr, cleanup := startTestDNSServer(t, func(w dns.ResponseWriter, r *dns.Msg) {
		time.Sleep(500 * time.Millisecond)
	})
	defer cleanup()

	rep := &recordingReporter{}
	c := New(WithReporter(rep))

	start := time.Now()
	_, err := c.ZoneExists(context.Background(), "example.com", addr, 100*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueryTimeout)
	assert.Less(t, time.Since(start), 400*time.Millisecond, "per-query timeout must bound the wait")

	_, timeouts := rep.counts()
	assert.Equal(t, 1, timeouts)
}

func TestWithPort(t *testing.T) {
	cases := map[string]string{
		"192.0.2.53":      "192.0.2.53:53",
		"192.0.2.53:5353": "192.0.2.53:5353",
		"ns1.example.com": "ns1.example.com:53",
		"2001:db8::1":     "[2001:db8::1]:53",
		"[2001:db8::1]":   "[2001:db8::1]:53",
	}
	for in, want := range cases {
		assert.Equal(t, want, withPort(in), "withPort(%q)", in)
	}
}
