package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/jmerrifield20/digaas/internal/observer/model"
)

// Querier is the DNS surface the evaluators need.
// *dnsquery.Client satisfies this interface.
type Querier interface {
	QuerySerial(ctx context.Context, zone, nameserver string, timeout time.Duration) (uint32, bool, error)
	ZoneExists(ctx context.Context, zone, nameserver string, timeout time.Duration) (bool, error)
	RecordExists(ctx context.Context, name, nameserver, rrtype string, timeout time.Duration) (bool, error)
	RecordData(ctx context.Context, name, nameserver, rrtype string, timeout time.Duration) (string, bool, error)
}

// Evaluator decides whether an observer's condition currently holds.
// Query errors are returned unchanged so the loop can tell a transient
// timeout from a hard failure.
type Evaluator func(ctx context.Context, o *model.Observer, q Querier, timeout time.Duration) (bool, error)

// EvaluatorFor returns the evaluator for kind.
func EvaluatorFor(kind model.ConditionKind) (Evaluator, error) {
	switch kind {
	case model.ConditionSerialNotLower:
		return serialNotLower, nil
	case model.ConditionZoneExists:
		return zoneExists, nil
	case model.ConditionZoneRemoved:
		return zoneRemoved, nil
	case model.ConditionDataEquals:
		return dataEquals, nil
	case model.ConditionRecordExists:
		return recordExists, nil
	case model.ConditionRecordRemoved:
		return recordRemoved, nil
	default:
		return nil, fmt.Errorf("no evaluator for condition %q", kind)
	}
}

func serialNotLower(ctx context.Context, o *model.Observer, q Querier, timeout time.Duration) (bool, error) {
	if o.ExpectedSerial == nil {
		return false, fmt.Errorf("observer %s has no expected serial", o.ID)
	}
	serial, ok, err := q.QuerySerial(ctx, o.TargetName, o.Nameserver, timeout)
	if err != nil || !ok {
		return false, err
	}
	return serial >= *o.ExpectedSerial, nil
}

func zoneExists(ctx context.Context, o *model.Observer, q Querier, timeout time.Duration) (bool, error) {
	exists, err := q.ZoneExists(ctx, o.TargetName, o.Nameserver, timeout)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func zoneRemoved(ctx context.Context, o *model.Observer, q Querier, timeout time.Duration) (bool, error) {
	exists, err := q.ZoneExists(ctx, o.TargetName, o.Nameserver, timeout)
	if err != nil {
		return false, err
	}
	return !exists, nil
}

func dataEquals(ctx context.Context, o *model.Observer, q Querier, timeout time.Duration) (bool, error) {
	if o.ExpectedData == nil {
		return false, fmt.Errorf("observer %s has no expected data", o.ID)
	}
	data, ok, err := q.RecordData(ctx, o.TargetName, o.Nameserver, o.RecordType, timeout)
	if err != nil || !ok {
		return false, err
	}
	return data == *o.ExpectedData, nil
}

func recordExists(ctx context.Context, o *model.Observer, q Querier, timeout time.Duration) (bool, error) {
	exists, err := q.RecordExists(ctx, o.TargetName, o.Nameserver, o.RecordType, timeout)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func recordRemoved(ctx context.Context, o *model.Observer, q Querier, timeout time.Duration) (bool, error) {
	exists, err := q.RecordExists(ctx, o.TargetName, o.Nameserver, o.RecordType, timeout)
	if err != nil {
		return false, err
	}
	return !exists, nil
}
