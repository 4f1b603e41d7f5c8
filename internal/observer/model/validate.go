package model

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/miekg/dns"
)

// ValidationError reports the first field of a request that is missing or
// inconsistent.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Normalize fills derived fields: a fully-qualified target name, an
// upper-case record type and the condition implied by Type when none was
// given. It does not validate.
func (o *Observer) Normalize() {
	o.TargetName = strings.TrimSpace(o.TargetName)
	if o.TargetName != "" {
		o.TargetName = dns.Fqdn(o.TargetName)
	}
	o.Nameserver = strings.TrimSpace(o.Nameserver)
	o.RecordType = strings.ToUpper(strings.TrimSpace(o.RecordType))
	if o.Condition == "" {
		if kind, ok := o.Type.Condition(); ok {
			o.Condition = kind
		}
	}
}

// Validate checks every field an observation needs before it is accepted.
// It returns a *ValidationError naming the offending field.
func (o *Observer) Validate() error {
	if o.TargetName == "" {
		return invalid("target_name", "must not be empty")
	}
	if _, ok := dns.IsDomainName(o.TargetName); !ok {
		return invalid("target_name", "%q is not a valid domain name", o.TargetName)
	}
	if err := validateNameserver(o.Nameserver); err != nil {
		return err
	}
	if o.RecordType != "" {
		if _, ok := dns.StringToType[o.RecordType]; !ok {
			return invalid("record_type", "unknown record type %q", o.RecordType)
		}
	}
	if o.Type != "" {
		implied, ok := o.Type.Condition()
		if !ok {
			return invalid("type", "unknown observer type %q", o.Type)
		}
		if o.Condition != implied {
			return invalid("condition", "%s does not match type %s", o.Condition, o.Type)
		}
	}

	switch o.Condition {
	case ConditionSerialNotLower:
		if o.ExpectedSerial == nil {
			return invalid("expected_serial", "required for %s", o.Condition)
		}
	case ConditionDataEquals:
		if o.RecordType == "" {
			return invalid("record_type", "required for %s", o.Condition)
		}
		if o.ExpectedData == nil {
			return invalid("expected_data", "required for %s", o.Condition)
		}
	case ConditionRecordExists, ConditionRecordRemoved:
		if o.RecordType == "" {
			return invalid("record_type", "required for %s", o.Condition)
		}
	case ConditionZoneExists, ConditionZoneRemoved:
	case "":
		return invalid("condition", "one of condition or type is required")
	default:
		return invalid("condition", "unknown condition %q", o.Condition)
	}

	if o.StartTime.IsZero() {
		return invalid("start_time", "must be set")
	}
	if o.Timeout <= 0 {
		return invalid("timeout", "must be positive")
	}
	if o.Interval <= 0 {
		return invalid("interval", "must be positive")
	}
	return nil
}

func validateNameserver(ns string) error {
	if ns == "" {
		return invalid("nameserver", "must not be empty")
	}
	host, port, err := net.SplitHostPort(ns)
	if err != nil {
		// No port: the whole value is the host.
		host, port = ns, ""
	}
	if host == "" {
		return invalid("nameserver", "missing host in %q", ns)
	}
	if port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n < 1 || n > 65535 {
			return invalid("nameserver", "bad port in %q", ns)
		}
	}
	return nil
}
