package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/jmerrifield20/digaas/pkg/client"
)

func TestParseTime(t *testing.T) {
	want := time.Date(2026, 3, 1, 12, 0, 0, 500_000_000, time.UTC)
	for _, in := range []string{"1772366400.5", "2026-03-01T12:00:00.5Z"} {
		got, err := parseTime(in)
		if err != nil {
			t.Fatalf("parseTime(%q): %v", in, err)
		}
		if !got.Equal(want) {
			t.Errorf("parseTime(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := parseTime("yesterday"); err == nil {
		t.Error("expected error for free-form time")
	}
}

func TestStatsRange(t *testing.T) {
	now := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	t.Cleanup(func() { statsFrom, statsTo, statsSince = "", "", 0 })

	statsSince = 24 * time.Hour
	from, to, err := statsRange(now)
	if err != nil {
		t.Fatal(err)
	}
	if !to.Equal(now) || !from.Equal(now.Add(-24*time.Hour)) {
		t.Errorf("since: got %v .. %v", from, to)
	}

	statsSince = 0
	if _, _, err := statsRange(now); err == nil {
		t.Error("expected error without --from or --since")
	}
}

func TestPrintSummaries(t *testing.T) {
	avg := 2.5
	sums := client.Summaries{
		"observers_by_type": {"ZONE_CREATE": {Average: &avg, Median: &avg, SuccessCount: 2, ErrorCount: 1}},
		"queries":           {},
	}

	for _, tc := range []struct {
		format string
		want   string
	}{
		{"text", "ZONE_CREATE"},
		{"json", `"success_count": 2`},
		{"yaml", "success_count: 2"},
	} {
		outputFormat = tc.format
		var buf bytes.Buffer
		if err := printSummaries(&buf, sums); err != nil {
			t.Fatalf("%s: %v", tc.format, err)
		}
		if !strings.Contains(buf.String(), tc.want) {
			t.Errorf("%s output missing %q:\n%s", tc.format, tc.want, buf.String())
		}
	}
	outputFormat = "text"
}
