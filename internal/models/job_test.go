package models

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDeriveJobID(t *testing.T) {
	cases := []struct {
		name    string
		url     string
		want    string
		wantErr error
	}{
		{name: "plain watch url", url: "https://www.youtube.com/watch?v=dQw4w9WgXcQ", want: "dQw4w9WgXcQ"},
		{name: "extra parameters", url: "https://www.youtube.com/watch?t=42&v=abc123", want: "abc123"},
		{name: "surrounding whitespace", url: "  https://example.com/watch?v=xyz  ", want: "xyz"},
		{name: "missing parameter", url: "https://example.com/watch?t=42", wantErr: ErrMissingVideoID},
		{name: "empty parameter", url: "https://example.com/watch?v=", wantErr: ErrMissingVideoID},
		{name: "empty url", url: "", wantErr: ErrMissingVideoID},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DeriveJobID(tc.url)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("DeriveJobID(%q) error = %v, want %v", tc.url, err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DeriveJobID(%q) returned error: %v", tc.url, err)
			}
			if got != tc.want {
				t.Fatalf("DeriveJobID(%q) = %q, want %q", tc.url, got, tc.want)
			}
		})
	}
}

func TestDeriveJobIDStable(t *testing.T) {
	first, err := DeriveJobID("https://example.com/watch?v=stable123")
	if err != nil {
		t.Fatalf("DeriveJobID returned error: %v", err)
	}
	second, err := DeriveJobID("https://example.com/watch?v=stable123&list=PL1")
	if err != nil {
		t.Fatalf("DeriveJobID returned error: %v", err)
	}
	if first != second {
		t.Fatalf("same video produced different ids: %q vs %q", first, second)
	}
}

func TestParseStatus(t *testing.T) {
	known := []JobStatus{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}
	for _, status := range known {
		if got := ParseStatus(string(status)); got != status {
			t.Fatalf("ParseStatus(%q) = %q", status, got)
		}
	}
	for _, raw := range []string{"", "bogus", "PENDING", "unknown"} {
		if got := ParseStatus(raw); got != StatusUnknown {
			t.Fatalf("ParseStatus(%q) = %q, want %q", raw, got, StatusUnknown)
		}
	}
}

func TestTerminal(t *testing.T) {
	if !StatusCompleted.Terminal() || !StatusFailed.Terminal() {
		t.Fatal("completed and failed must be terminal")
	}
	for _, status := range []JobStatus{StatusPending, StatusProcessing, StatusUnknown} {
		if status.Terminal() {
			t.Fatalf("%q must not be terminal", status)
		}
	}
}

func TestJobWireFormat(t *testing.T) {
	payload, err := json.Marshal(Job{ID: "abc", SourceURL: "https://example.com/watch?v=abc", AudioOnly: true})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"jobId":"abc","videoUrl":"https://example.com/watch?v=abc","isAudio":true}`
	if string(payload) != want {
		t.Fatalf("wire payload = %s, want %s", payload, want)
	}

	var job Job
	if err := json.Unmarshal([]byte(`{"jobId":"x","videoUrl":"u"}`), &job); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if job.AudioOnly {
		t.Fatal("isAudio must default to false when omitted")
	}
}
