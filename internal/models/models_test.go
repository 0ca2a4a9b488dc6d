package models

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
)

func TestJSONBMarshal(t *testing.T) {
	j := JSONB{
		"genre":       "Hip Hop",
		"album_title": "Night Drive",
	}

	data, err := j.Value()
	if err != nil {
		t.Fatalf("failed to marshal JSONB: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal([]byte(data.(string)), &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["genre"] != "Hip Hop" {
		t.Errorf("expected genre=Hip Hop, got %v", result["genre"])
	}
}

func TestJSONBNilValue(t *testing.T) {
	var j JSONB
	data, err := j.Value()
	if err != nil {
		t.Fatalf("failed to marshal nil JSONB: %v", err)
	}
	if data != "{}" {
		t.Errorf("expected {}, got %v", data)
	}
}

func TestJSONBScan(t *testing.T) {
	for _, src := range []interface{}{
		[]byte(`{"template": "Club Banger", "low": 2}`),
		`{"template": "Club Banger", "low": 2}`,
	} {
		var j JSONB
		if err := j.Scan(src); err != nil {
			t.Fatalf("failed to scan %T: %v", src, err)
		}
		if j.String("template") != "Club Banger" {
			t.Errorf("expected template=Club Banger, got %v", j["template"])
		}
		if j.Float("low", 0) != 2 {
			t.Errorf("expected low=2, got %v", j["low"])
		}
		if j.Float("missing", 7) != 7 {
			t.Errorf("expected default for missing key")
		}
	}
}

func TestJSONBScanRejectsUnknownType(t *testing.T) {
	var j JSONB
	if err := j.Scan(42); err == nil {
		t.Fatal("expected error scanning int")
	}
}

func TestJobStatusTerminal(t *testing.T) {
	cases := map[JobStatus]bool{
		JobStatusUploaded:   false,
		JobStatusProcessing: false,
		JobStatusCompleted:  true,
		JobStatusFailed:     true,
	}
	for status, want := range cases {
		if got := status.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", status, got, want)
		}
	}
}

func TestJobKindValid(t *testing.T) {
	for _, k := range AllJobKinds {
		if !k.Valid() {
			t.Errorf("expected %s to be valid", k)
		}
	}
	if JobKind("podcast").Valid() {
		t.Error("expected unknown kind to be invalid")
	}
}

func TestActorAccountID(t *testing.T) {
	id := uuid.New()
	a := AccountActor(id)
	got, ok := a.AccountID()
	if !ok || got != id {
		t.Fatalf("expected account id %s, got %s (ok=%v)", id, got, ok)
	}

	if _, ok := SessionActor("abc").AccountID(); ok {
		t.Error("session actor must not resolve an account id")
	}
}
