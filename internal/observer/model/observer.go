package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an observer or a stats request.
type Status string

const (
	StatusAccepted      Status = "ACCEPTED"
	StatusComplete      Status = "COMPLETE"
	StatusError         Status = "ERROR"
	StatusInternalError Status = "INTERNAL_ERROR"
)

// ParseStatus converts a wire value into a Status. The historical
// spelling COMPLETED is folded into COMPLETE.
func ParseStatus(s string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ACCEPTED":
		return StatusAccepted, nil
	case "COMPLETE", "COMPLETED":
		return StatusComplete, nil
	case "ERROR":
		return StatusError, nil
	case "INTERNAL_ERROR":
		return StatusInternalError, nil
	default:
		return "", fmt.Errorf("unknown status %q", s)
	}
}

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError || s == StatusInternalError
}

// ConditionKind selects the predicate an observer polls for.
type ConditionKind string

const (
	ConditionSerialNotLower ConditionKind = "SERIAL_NOT_LOWER"
	ConditionZoneExists     ConditionKind = "ZONE_EXISTS"
	ConditionZoneRemoved    ConditionKind = "ZONE_REMOVED"
	ConditionDataEquals     ConditionKind = "DATA_EQUALS"
	ConditionRecordExists   ConditionKind = "RECORD_EXISTS"
	ConditionRecordRemoved  ConditionKind = "RECORD_REMOVED"
)

// legacyDataPrefix is the parameterized form "data=<payload>" accepted by
// older clients in place of DATA_EQUALS + expected_data.
const legacyDataPrefix = "data="

// ParseCondition converts a wire value into a ConditionKind. For the legacy
// "data=<payload>" form the payload is returned as the second value.
func ParseCondition(s string) (ConditionKind, *string, error) {
	raw := strings.TrimSpace(s)
	if strings.HasPrefix(strings.ToLower(raw), legacyDataPrefix) {
		payload := raw[len(legacyDataPrefix):]
		return ConditionDataEquals, &payload, nil
	}
	switch ConditionKind(strings.ToUpper(raw)) {
	case ConditionSerialNotLower:
		return ConditionSerialNotLower, nil, nil
	case ConditionZoneExists:
		return ConditionZoneExists, nil, nil
	case ConditionZoneRemoved:
		return ConditionZoneRemoved, nil, nil
	case ConditionDataEquals:
		return ConditionDataEquals, nil, nil
	case ConditionRecordExists:
		return ConditionRecordExists, nil, nil
	case ConditionRecordRemoved:
		return ConditionRecordRemoved, nil, nil
	default:
		return "", nil, fmt.Errorf("unknown condition %q", s)
	}
}

// ObserverType labels the kind of change a client is waiting on.
type ObserverType string

const (
	TypeZoneCreate   ObserverType = "ZONE_CREATE"
	TypeZoneUpdate   ObserverType = "ZONE_UPDATE"
	TypeZoneDelete   ObserverType = "ZONE_DELETE"
	TypeRecordCreate ObserverType = "RECORD_CREATE"
	TypeRecordUpdate ObserverType = "RECORD_UPDATE"
	TypeRecordDelete ObserverType = "RECORD_DELETE"
)

// ObserverTypes lists every known type in a stable order.
var ObserverTypes = []ObserverType{
	TypeZoneCreate, TypeZoneUpdate, TypeZoneDelete,
	TypeRecordCreate, TypeRecordUpdate, TypeRecordDelete,
}

// Condition returns the predicate that decides when a change of type t has
// propagated. ok is false for an unknown type.
func (t ObserverType) Condition() (kind ConditionKind, ok bool) {
	switch t {
	case TypeZoneCreate:
		return ConditionZoneExists, true
	case TypeZoneUpdate:
		return ConditionSerialNotLower, true
	case TypeZoneDelete:
		return ConditionZoneRemoved, true
	case TypeRecordCreate, TypeRecordUpdate:
		return ConditionDataEquals, true
	case TypeRecordDelete:
		return ConditionRecordRemoved, true
	default:
		return "", false
	}
}

// Observer is a single observation request and its outcome.
type Observer struct {
	ID             uuid.UUID      `json:"id"`
	TargetName     string         `json:"target_name"`
	Nameserver     string         `json:"nameserver"`
	RecordType     string         `json:"record_type,omitempty"`
	Type           ObserverType   `json:"type,omitempty"`
	Condition      ConditionKind  `json:"condition"`
	ExpectedSerial *uint32        `json:"expected_serial"`
	ExpectedData   *string        `json:"expected_data"`
	StartTime      time.Time      `json:"start_time"`
	Timeout        time.Duration  `json:"timeout"`
	Interval       time.Duration  `json:"interval"`
	Status         Status         `json:"status"`
	Duration       *time.Duration `json:"duration"`
	AcceptedAt     time.Time      `json:"accepted_at"`
	FinishedAt     *time.Time     `json:"finished_at"`
	ErrorMessage   *string        `json:"error_message"`
}

// Label is the grouping key used by statistics: the observer type when the
// client supplied one, otherwise the condition.
func (o *Observer) Label() string {
	if o.Type != "" {
		return string(o.Type)
	}
	return string(o.Condition)
}

// Complete marks the observer COMPLETE. Duration is measured from the
// caller's StartTime; a start time in the future yields zero.
func (o *Observer) Complete(end time.Time) {
	d := end.Sub(o.StartTime)
	if d < 0 {
		d = 0
	}
	o.Status = StatusComplete
	o.Duration = &d
	o.FinishedAt = &end
	o.ErrorMessage = nil
}

// Fail marks the observer with a terminal failure status.
func (o *Observer) Fail(status Status, reason string, at time.Time) {
	o.Status = status
	o.Duration = nil
	o.FinishedAt = &at
	if reason != "" {
		o.ErrorMessage = &reason
	} else {
		o.ErrorMessage = nil
	}
}

// Clone returns a deep copy of o.
func (o *Observer) Clone() *Observer {
	cp := *o
	if o.ExpectedSerial != nil {
		v := *o.ExpectedSerial
		cp.ExpectedSerial = &v
	}
	if o.ExpectedData != nil {
		v := *o.ExpectedData
		cp.ExpectedData = &v
	}
	if o.Duration != nil {
		v := *o.Duration
		cp.Duration = &v
	}
	if o.FinishedAt != nil {
		v := *o.FinishedAt
		cp.FinishedAt = &v
	}
	if o.ErrorMessage != nil {
		v := *o.ErrorMessage
		cp.ErrorMessage = &v
	}
	return &cp
}
