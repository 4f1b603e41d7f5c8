package poller_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jmerrifield20/digaas/internal/dnsquery"
	"github.com/jmerrifield20/digaas/internal/observer/model"
	"github.com/jmerrifield20/digaas/internal/poller"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedQuerier returns canned answers.
type fixedQuerier struct {
	serial    uint32
	hasSerial bool
	zone      bool
	record    bool
	data      string
	hasData   bool
	err       error
}

func (f fixedQuerier) QuerySerial(context.Context, string, string, time.Duration) (uint32, bool, error) {
	return f.serial, f.hasSerial, f.err
}

func (f fixedQuerier) ZoneExists(context.Context, string, string, time.Duration) (bool, error) {
	return f.zone, f.err
}

func (f fixedQuerier) RecordExists(context.Context, string, string, string, time.Duration) (bool, error) {
	return f.record, f.err
}

func (f fixedQuerier) RecordData(context.Context, string, string, string, time.Duration) (string, bool, error) {
	return f.data, f.hasData, f.err
}

func TestEvaluators(t *testing.T) {
	cases := []struct {
		name string
		kind model.ConditionKind
		q    fixedQuerier
		want bool
	}{
		{"serial higher", model.ConditionSerialNotLower, fixedQuerier{serial: 51, hasSerial: true}, true},
		{"serial equal", model.ConditionSerialNotLower, fixedQuerier{serial: 50, hasSerial: true}, true},
		{"serial lower", model.ConditionSerialNotLower, fixedQuerier{serial: 49, hasSerial: true}, false},
		{"serial absent", model.ConditionSerialNotLower, fixedQuerier{}, false},
		{"zone exists", model.ConditionZoneExists, fixedQuerier{zone: true}, true},
		{"zone missing", model.ConditionZoneExists, fixedQuerier{}, false},
		{"zone removed", model.ConditionZoneRemoved, fixedQuerier{}, true},
		{"zone still there", model.ConditionZoneRemoved, fixedQuerier{zone: true}, false},
		{"data equal", model.ConditionDataEquals, fixedQuerier{data: "192.0.2.1", hasData: true}, true},
		{"data differs", model.ConditionDataEquals, fixedQuerier{data: "192.0.2.2", hasData: true}, false},
		{"data absent", model.ConditionDataEquals, fixedQuerier{}, false},
		{"record exists", model.ConditionRecordExists, fixedQuerier{record: true}, true},
		{"record removed", model.ConditionRecordRemoved, fixedQuerier{}, true},
		{"record still there", model.ConditionRecordRemoved, fixedQuerier{record: true}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eval, err := poller.EvaluatorFor(tc.kind)
			require.NoError(t, err)
			o := newObserver(tc.kind, time.Second, time.Second)
			got, err := eval(context.Background(), o, tc.q, time.Second)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEvaluators_PropagateTimeout(t *testing.T) {
	timeout := fmt.Errorf("%w: slow", dnsquery.ErrQueryTimeout)
	for _, kind := range []model.ConditionKind{
		model.ConditionSerialNotLower, model.ConditionZoneExists, model.ConditionZoneRemoved,
		model.ConditionDataEquals, model.ConditionRecordExists, model.ConditionRecordRemoved,
	} {
		eval, err := poller.EvaluatorFor(kind)
		require.NoError(t, err)
		// An answer that would satisfy the condition must not leak through
		// alongside the error, whichever way the condition points.
		for _, q := range []fixedQuerier{
			{err: timeout, serial: 99, hasSerial: true, zone: true, record: true, data: "192.0.2.1", hasData: true},
			{err: timeout},
		} {
			ok, err := eval(context.Background(), newObserver(kind, time.Second, time.Second), q, time.Second)
			assert.False(t, ok, "%s", kind)
			assert.ErrorIs(t, err, dnsquery.ErrQueryTimeout, "%s", kind)
		}
	}
}

func TestEvaluatorFor_Unknown(t *testing.T) {
	_, err := poller.EvaluatorFor("EVENTUALLY")
	assert.Error(t, err)
}
