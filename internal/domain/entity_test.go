package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestPriorityRank(t *testing.T) {
	tests := []struct {
		p    Priority
		want int
	}{
		{PriorityHigh, 0},
		{PriorityMedium, 1},
		{PriorityLow, 2},
		{Priority("urgent"), 3},
	}
	for _, tt := range tests {
		if got := tt.p.Rank(); got != tt.want {
			t.Errorf("Rank(%q) = %d, want %d", tt.p, got, tt.want)
		}
	}
}

func TestResultTypeFor(t *testing.T) {
	if got := ResultTypeFor(TypeSearchRequest); got != TypeSearchResult {
		t.Errorf("ResultTypeFor(search_request) = %q, want %q", got, TypeSearchResult)
	}
	if got := ResultTypeFor(TypeDiscovery); got != "" {
		t.Errorf("ResultTypeFor(discovery) = %q, want empty", got)
	}
}

func TestMessagePreservesUnknownFields(t *testing.T) {
	in := []byte(`{"id":"m1","from":"director","to":"librarian","type":"question",` +
		`"subject":"s","body":"b","priority":"medium","timestamp":"2026-01-02T10:00:00",` +
		`"read":false,"thread_id":"m1","trace_span":"abc123"}`)

	var m Message
	if err := json.Unmarshal(in, &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if m.ID != "m1" || m.Priority != PriorityMedium {
		t.Errorf("known fields not decoded: %+v", m)
	}
	if _, ok := m.Extra["trace_span"]; !ok {
		t.Fatalf("unknown field not preserved: %v", m.Extra)
	}

	out, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(out, &raw); err != nil {
		t.Fatalf("re-unmarshal: %v", err)
	}
	if raw["trace_span"] != "abc123" {
		t.Errorf("trace_span = %v, want abc123", raw["trace_span"])
	}
	if raw["id"] != "m1" {
		t.Errorf("id = %v, want m1", raw["id"])
	}
}

func TestErrorKinds(t *testing.T) {
	err := Errorf(KindTimeout, "bus.wait", "no reply within %ds", 5)
	if KindOf(err) != KindTimeout {
		t.Errorf("KindOf = %q, want timeout", KindOf(err))
	}
	wrapped := errors.Join(errors.New("outer"), err)
	if KindOf(wrapped) != KindTimeout {
		t.Errorf("KindOf(wrapped) = %q, want timeout", KindOf(wrapped))
	}
	if IsFatal(err) {
		t.Error("timeout should not be fatal")
	}
	if !IsFatal(E(KindCorruptState, "bus.load", nil)) {
		t.Error("corrupt_state should be fatal")
	}
	if KindOf(errors.New("plain")) != "" {
		t.Error("plain error should have no kind")
	}
}

func TestDecayPerDay(t *testing.T) {
	if DecayFast.PerDay() != 0.1 || DecayMedium.PerDay() != 0.05 || DecaySlow.PerDay() != 0.01 {
		t.Error("decay constants wrong")
	}
	if DecayRate("").PerDay() != 0.05 {
		t.Error("unknown decay should fall back to medium")
	}
}
