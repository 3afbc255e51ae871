package webhook

import "testing"

func TestClassify_RoutesKnownTypes(t *testing.T) {
	cases := []struct {
		wireType string
		want     EventType
	}{
		{"create_pulse", EventTaskCreate},
		{"change_status_column_value", EventTaskStatusChange},
		{"update_created", EventItemUpdate},
		{"change_column_value", EventColumnValueChange},
		{"something_unknown", EventIgnored},
	}
	for _, c := range cases {
		got := classify(RawEvent{Type: c.wireType, PulseID: "1"}, "", nil)
		if got != c.want {
			t.Errorf("classify(%q) = %q, want %q", c.wireType, got, c.want)
		}
	}
}

func TestClassify_IgnoresOtherBoards(t *testing.T) {
	got := classify(RawEvent{Type: "create_pulse", BoardID: "999", PulseID: "1"}, "123", nil)
	if got != EventIgnored {
		t.Fatalf("expected ignored for mismatched board id, got %q", got)
	}
}

func TestClassify_IgnoresTestIDPrefixes(t *testing.T) {
	got := classify(RawEvent{Type: "create_pulse", PulseID: "test-42"}, "", []string{"test-"})
	if got != EventIgnored {
		t.Fatalf("expected ignored for test id prefix, got %q", got)
	}
}
