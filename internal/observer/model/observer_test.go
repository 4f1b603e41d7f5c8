package model_test

import (
	"errors"
	"testing"
	"time"

	"github.com/jmerrifield20/digaas/internal/observer/model"
)

func u32(v uint32) *uint32 { return &v }
func str(v string) *string { return &v }

func validObserver() *model.Observer {
	return &model.Observer{
		TargetName:     "example.com",
		Nameserver:     "192.0.2.53",
		Condition:      model.ConditionSerialNotLower,
		ExpectedSerial: u32(10),
		StartTime:      time.Now(),
		Timeout:        30 * time.Second,
		Interval:       time.Second,
	}
}

func TestParseStatus_FoldsCompleted(t *testing.T) {
	for _, in := range []string{"COMPLETE", "COMPLETED", "completed"} {
		got, err := model.ParseStatus(in)
		if err != nil {
			t.Fatalf("ParseStatus(%q): %v", in, err)
		}
		if got != model.StatusComplete {
			t.Errorf("ParseStatus(%q) = %q, want COMPLETE", in, got)
		}
	}
	if _, err := model.ParseStatus("DONE"); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestStatus_Terminal(t *testing.T) {
	if model.StatusAccepted.Terminal() {
		t.Error("ACCEPTED must not be terminal")
	}
	for _, s := range []model.Status{model.StatusComplete, model.StatusError, model.StatusInternalError} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}

func TestParseCondition(t *testing.T) {
	kind, payload, err := model.ParseCondition("serial_not_lower")
	if err != nil || kind != model.ConditionSerialNotLower || payload != nil {
		t.Fatalf("got (%q, %v, %v)", kind, payload, err)
	}

	kind, payload, err = model.ParseCondition("data=192.0.2.1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != model.ConditionDataEquals {
		t.Errorf("kind = %q, want DATA_EQUALS", kind)
	}
	if payload == nil || *payload != "192.0.2.1" {
		t.Errorf("payload = %v, want 192.0.2.1", payload)
	}

	if _, _, err := model.ParseCondition("eventually"); err == nil {
		t.Error("expected error for unknown condition")
	}
}

func TestObserverType_Condition(t *testing.T) {
	cases := map[model.ObserverType]model.ConditionKind{
		model.TypeZoneCreate:   model.ConditionZoneExists,
		model.TypeZoneUpdate:   model.ConditionSerialNotLower,
		model.TypeZoneDelete:   model.ConditionZoneRemoved,
		model.TypeRecordCreate: model.ConditionDataEquals,
		model.TypeRecordUpdate: model.ConditionDataEquals,
		model.TypeRecordDelete: model.ConditionRecordRemoved,
	}
	for typ, want := range cases {
		got, ok := typ.Condition()
		if !ok || got != want {
			t.Errorf("%s.Condition() = (%q, %v), want %q", typ, got, ok, want)
		}
	}
	if _, ok := model.ObserverType("ZONE_MOVE").Condition(); ok {
		t.Error("unknown type must not map to a condition")
	}
}

func TestNormalize_DerivesConditionAndFqdn(t *testing.T) {
	o := &model.Observer{TargetName: " example.com ", Type: model.TypeZoneDelete, RecordType: "a"}
	o.Normalize()
	if o.TargetName != "example.com." {
		t.Errorf("TargetName = %q", o.TargetName)
	}
	if o.Condition != model.ConditionZoneRemoved {
		t.Errorf("Condition = %q", o.Condition)
	}
	if o.RecordType != "A" {
		t.Errorf("RecordType = %q", o.RecordType)
	}
}

func TestValidate_OK(t *testing.T) {
	o := validObserver()
	o.Normalize()
	if err := o.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_NamesField(t *testing.T) {
	cases := []struct {
		name  string
		mut   func(o *model.Observer)
		field string
	}{
		{"empty target", func(o *model.Observer) { o.TargetName = "" }, "target_name"},
		{"empty nameserver", func(o *model.Observer) { o.Nameserver = "" }, "nameserver"},
		{"bad port", func(o *model.Observer) { o.Nameserver = "192.0.2.53:99999" }, "nameserver"},
		{"missing serial", func(o *model.Observer) { o.ExpectedSerial = nil }, "expected_serial"},
		{"zero timeout", func(o *model.Observer) { o.Timeout = 0 }, "timeout"},
		{"zero interval", func(o *model.Observer) { o.Interval = 0 }, "interval"},
		{"zero start", func(o *model.Observer) { o.StartTime = time.Time{} }, "start_time"},
		{"unknown record type", func(o *model.Observer) { o.RecordType = "BOGUS" }, "record_type"},
		{"no condition", func(o *model.Observer) { o.Condition = "" }, "condition"},
		{"type mismatch", func(o *model.Observer) { o.Type = model.TypeZoneCreate }, "condition"},
		{"data without rrtype", func(o *model.Observer) {
			o.Condition = model.ConditionDataEquals
			o.ExpectedData = str("192.0.2.1")
		}, "record_type"},
		{"data without payload", func(o *model.Observer) {
			o.Condition = model.ConditionDataEquals
			o.RecordType = "A"
		}, "expected_data"},
		{"record removed without rrtype", func(o *model.Observer) {
			o.Condition = model.ConditionRecordRemoved
		}, "record_type"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := validObserver()
			tc.mut(o)
			err := o.Validate()
			var verr *model.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if verr.Field != tc.field {
				t.Errorf("Field = %q, want %q", verr.Field, tc.field)
			}
		})
	}
}

func TestComplete_DurationFromCallerStart(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	o := &model.Observer{StartTime: start, Status: model.StatusAccepted}
	o.Complete(start.Add(7 * time.Second))

	if o.Status != model.StatusComplete {
		t.Errorf("Status = %q", o.Status)
	}
	if o.Duration == nil || *o.Duration != 7*time.Second {
		t.Errorf("Duration = %v, want 7s", o.Duration)
	}
}

func TestComplete_FutureStartClampsToZero(t *testing.T) {
	now := time.Now()
	o := &model.Observer{StartTime: now.Add(time.Minute)}
	o.Complete(now)
	if o.Duration == nil || *o.Duration != 0 {
		t.Errorf("Duration = %v, want 0", o.Duration)
	}
}

func TestFail_ClearsDuration(t *testing.T) {
	d := time.Second
	o := &model.Observer{Duration: &d}
	o.Fail(model.StatusError, "timed out", time.Now())
	if o.Duration != nil {
		t.Error("Duration must be nil after Fail")
	}
	if o.ErrorMessage == nil || *o.ErrorMessage != "timed out" {
		t.Errorf("ErrorMessage = %v", o.ErrorMessage)
	}
}

func TestClone_IsDeep(t *testing.T) {
	o := validObserver()
	o.ExpectedData = str("x")
	cp := o.Clone()
	*cp.ExpectedSerial = 99
	*cp.ExpectedData = "y"
	if *o.ExpectedSerial != 10 || *o.ExpectedData != "x" {
		t.Error("Clone shares pointers with the original")
	}
}

func TestObserverStats_Validate(t *testing.T) {
	now := time.Now()
	ok := &model.ObserverStats{Start: now.Add(-time.Hour), End: now}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bad := &model.ObserverStats{Start: now, End: now.Add(-time.Hour)}
	if err := bad.Validate(); err == nil {
		t.Error("expected error when start > end")
	}
	missing := &model.ObserverStats{End: now}
	if err := missing.Validate(); err == nil {
		t.Error("expected error when start is unset")
	}
}
