package eventstore

import (
	"bytes"
	"testing"
	"time"
)

const testBuildID = "build-123"

func TestEventStoreAppendAndRetrieve(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := t.Context()
	payload := []byte(`{"target": "x86_64-unknown-linux-gnu"}`)
	metadata := map[string]string{"version": "1.0.0"}

	err = store.Append(ctx, testBuildID, "serde", TypeBuildStarted, payload, metadata)
	if err != nil {
		t.Fatalf("failed to append event: %v", err)
	}

	events, err := store.GetByBuildID(ctx, testBuildID)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	event := events[0]
	if event.BuildID() != testBuildID {
		t.Errorf("expected build_id %s, got %s", testBuildID, event.BuildID())
	}
	if event.Crate() != "serde" {
		t.Errorf("expected crate serde, got %s", event.Crate())
	}
	if event.Type() != TypeBuildStarted {
		t.Errorf("expected event_type %s, got %s", TypeBuildStarted, event.Type())
	}
	if !bytes.Equal(event.Payload(), payload) {
		t.Errorf("expected payload %s, got %s", payload, event.Payload())
	}
	if event.Metadata()["version"] != "1.0.0" {
		t.Errorf("expected metadata version=1.0.0, got %v", event.Metadata())
	}
}

func TestEventStoreGetByCrate(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := t.Context()
	if err := store.Append(ctx, "build-1", "serde", TypeBuildQueued, []byte("a"), nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Append(ctx, "build-2", "serde", TypeBuildCompleted, []byte("b"), nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Append(ctx, "build-3", "tokio", TypeBuildQueued, []byte("c"), nil); err != nil {
		t.Fatalf("append: %v", err)
	}

	events, err := store.GetByCrate(ctx, "serde")
	if err != nil {
		t.Fatalf("get by crate: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 serde events, got %d", len(events))
	}
	for _, e := range events {
		if e.Crate() != "serde" {
			t.Errorf("unexpected crate %s", e.Crate())
		}
	}
}

func TestEventStoreGetRange(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := t.Context()
	now := time.Now()

	for range 3 {
		if err := store.Append(ctx, "build-1", "serde", TypeBuildStarted, []byte("data"), nil); err != nil {
			t.Fatalf("failed to append event: %v", err)
		}
	}

	events, err := store.GetRange(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("failed to get range: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events in range, got %d", len(events))
	}

	// A window in the past must exclude them all.
	events, err = store.GetRange(ctx, now.Add(-2*time.Hour), now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("failed to get empty range: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected 0 events, got %d", len(events))
	}
}

func TestEventStoreOrdering(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := t.Context()
	types := []string{TypeBuildQueued, TypeBuildStarted, TypeMetadataExtracted, TypeBuildCompleted}
	for _, typ := range types {
		if err := store.Append(ctx, "build-ord", "serde", typ, []byte("{}"), nil); err != nil {
			t.Fatalf("append %s: %v", typ, err)
		}
	}

	events, err := store.GetByBuildID(ctx, "build-ord")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(events) != len(types) {
		t.Fatalf("expected %d events, got %d", len(types), len(events))
	}
	for i, typ := range types {
		if events[i].Type() != typ {
			t.Errorf("position %d: expected %s got %s", i, typ, events[i].Type())
		}
	}
}
