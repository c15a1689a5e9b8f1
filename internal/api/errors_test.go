package api

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
)

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, 404, ReasonNotFound, "share not found")

	if rec.Code != 404 {
		t.Errorf("expected status 404, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON content type, got %q", ct)
	}

	var envelope ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("failed to decode error envelope: %v", err)
	}
	if envelope.Error.Code != "Not Found" {
		t.Errorf("expected code 'Not Found', got %q", envelope.Error.Code)
	}
	if envelope.Error.ReasonCode != ReasonNotFound {
		t.Errorf("expected reason %q, got %q", ReasonNotFound, envelope.Error.ReasonCode)
	}
	if envelope.Error.Message != "share not found" {
		t.Errorf("unexpected message %q", envelope.Error.Message)
	}
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, 201, map[string]string{"status": "created"})

	if rec.Code != 201 {
		t.Errorf("expected status 201, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["status"] != "created" {
		t.Errorf("unexpected body %v", body)
	}
}
