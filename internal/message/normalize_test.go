package message

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestFlexIDAcceptsStringAndNumber(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"string", `"abc"`, "abc"},
		{"number", `42`, "42"},
		{"float id", `42.0`, "42.0"},
		{"null", `null`, ""},
		{"empty string", `""`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f FlexID
			if err := json.Unmarshal([]byte(tt.in), &f); err != nil {
				t.Fatal(err)
			}
			if string(f) != tt.want {
				t.Errorf("FlexID = %q, want %q", f, tt.want)
			}
		})
	}
}

func TestSenderRefAcceptsObjectAndScalar(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain string", `"user-1"`, "user-1"},
		{"number", `7`, "7"},
		{"mongo object", `{"_id":"u-mongo"}`, "u-mongo"},
		{"id object", `{"id":"u-plain"}`, "u-plain"},
		{"empty object", `{}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s SenderRef
			if err := json.Unmarshal([]byte(tt.in), &s); err != nil {
				t.Fatal(err)
			}
			if string(s) != tt.want {
				t.Errorf("SenderRef = %q, want %q", s, tt.want)
			}
		})
	}
}

func TestRestPayloadNormalize(t *testing.T) {
	raw := `{"_id":"m1","conversationId":"c1","message":"ciao","timestamp":"2025-03-01T10:00:00Z","senderId":{"_id":"u1"},"status":"read"}`
	var p RestMessagePayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatal(err)
	}

	m := p.Normalize("c1")
	if m.ID != "m1" {
		t.Errorf("ID = %q, want m1", m.ID)
	}
	if m.SenderID != "u1" {
		t.Errorf("SenderID = %q, want u1", m.SenderID)
	}
	if m.Content != "ciao" {
		t.Errorf("Content = %q, want ciao", m.Content)
	}
	if !m.Read {
		t.Error("Read = false, want true (status=read)")
	}
	want := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	if !m.CreatedAt.Equal(want) {
		t.Errorf("CreatedAt = %v, want %v", m.CreatedAt, want)
	}
}

func TestRestPayloadFieldFallbacks(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		wantID      string
		wantContent string
	}{
		{"id over messageId", `{"id":7,"messageId":"x","body":"b"}`, "7", "b"},
		{"messageId only", `{"messageId":"mx","content":"c"}`, "mx", "c"},
		{"content wins over message", `{"_id":"a","content":"c","message":"m"}`, "a", "c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p RestMessagePayload
			if err := json.Unmarshal([]byte(tt.raw), &p); err != nil {
				t.Fatal(err)
			}
			m := p.Normalize("c1")
			if m.ID != tt.wantID {
				t.Errorf("ID = %q, want %q", m.ID, tt.wantID)
			}
			if m.Content != tt.wantContent {
				t.Errorf("Content = %q, want %q", m.Content, tt.wantContent)
			}
		})
	}
}

func TestNormalizeMissingFieldsNeverThrows(t *testing.T) {
	m := DecodeStreamEvent([]byte(`{}`), "c1")
	if !strings.HasPrefix(m.ID, "local-") {
		t.Errorf("ID = %q, want placeholder with local- prefix", m.ID)
	}
	if m.ConversationID != "c1" {
		t.Errorf("ConversationID = %q, want c1", m.ConversationID)
	}
	if !m.CreatedAt.IsZero() {
		t.Errorf("CreatedAt = %v, want zero (missing timestamp)", m.CreatedAt)
	}

	// Garbage input yields a placeholder too.
	m = DecodeStreamEvent([]byte(`not-json`), "c1")
	if m.ID == "" {
		t.Error("ID empty for malformed payload, want placeholder")
	}
}

func TestStreamEventNormalize(t *testing.T) {
	raw := `{"id":2,"roomId":9,"content":"yo","timestamp":"2025-03-01T11:00:00Z","senderId":"B"}`
	m := DecodeStreamEvent([]byte(raw), "")
	if m.ID != "2" {
		t.Errorf("ID = %q, want 2", m.ID)
	}
	if m.ConversationID != "9" {
		t.Errorf("ConversationID = %q, want 9 (roomId fallback)", m.ConversationID)
	}
	if m.SenderID != "B" {
		t.Errorf("SenderID = %q, want B", m.SenderID)
	}
}

func TestLegacyShapeNormalize(t *testing.T) {
	raw := `{"id":"L1","text":"old shape","createdAt":"2025-02-01T08:00:00Z","user":{"id":"u9"}}`
	var l LegacyUIShape
	if err := json.Unmarshal([]byte(raw), &l); err != nil {
		t.Fatal(err)
	}
	m := l.Normalize("c3")
	if m.SenderID != "u9" {
		t.Errorf("SenderID = %q, want u9 (from embedded user)", m.SenderID)
	}
	if m.Content != "old shape" {
		t.Errorf("Content = %q, want 'old shape'", m.Content)
	}
	if m.ConversationID != "c3" {
		t.Errorf("ConversationID = %q, want c3", m.ConversationID)
	}
}

func TestParseTimestampUnixMillis(t *testing.T) {
	got := parseTimestamp("1740000000000")
	if got.IsZero() {
		t.Fatal("unix millis string not parsed")
	}
	if got.UnixMilli() != 1740000000000 {
		t.Errorf("UnixMilli = %d, want 1740000000000", got.UnixMilli())
	}
}
