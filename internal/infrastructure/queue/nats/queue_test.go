package nats

import (
	"testing"
	"time"
)

func TestSubmitMessageRoundTrip(t *testing.T) {
	enqueued := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	payload, err := encodeSubmitMessage("b-1", enqueued)
	if err != nil {
		t.Fatalf("encodeSubmitMessage() error = %v", err)
	}

	msg := decodeSubmitMessage(payload)
	if msg.BatchID != "b-1" {
		t.Fatalf("expected batch id b-1, got %q", msg.BatchID)
	}
	if !msg.EnqueuedAt.Equal(enqueued) {
		t.Fatalf("expected enqueued at %v, got %v", enqueued, msg.EnqueuedAt)
	}
}

func TestDecodeSubmitMessageAcceptsBareBatchID(t *testing.T) {
	msg := decodeSubmitMessage([]byte("b-legacy"))
	if msg.BatchID != "b-legacy" {
		t.Fatalf("expected legacy payload decoded as batch id, got %q", msg.BatchID)
	}
	if !msg.EnqueuedAt.IsZero() {
		t.Fatalf("legacy payloads carry no enqueue time, got %v", msg.EnqueuedAt)
	}
}
