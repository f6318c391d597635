package eventstore

import "time"

// Well-known event types recorded during a documentation build.
const (
	TypeBuildQueued       = "build.queued"
	TypeBuildStarted      = "build.started"
	TypeBuildCompleted    = "build.completed"
	TypeBuildFailed       = "build.failed"
	TypeMetadataExtracted = "metadata.extracted"
	TypeIndexSynced       = "index.synced"
)

// Event represents a domain event in the documentation build pipeline.
type Event interface {
	// ID returns the unique identifier for this event.
	ID() int64
	// BuildID returns the build identifier this event belongs to.
	BuildID() string
	// Crate returns the canonical crate name the event concerns (may be empty
	// for service-level events such as index syncs).
	Crate() string
	// Type returns the event type name.
	Type() string
	// Timestamp returns when the event occurred.
	Timestamp() time.Time
	// Payload returns the event data as bytes.
	Payload() []byte
	// Metadata returns optional event metadata.
	Metadata() map[string]string
}

// BaseEvent provides a default implementation of Event.
type BaseEvent struct {
	EventID        int64
	EventBuildID   string
	EventCrate     string
	EventType      string
	EventTimestamp time.Time
	EventPayload   []byte
	EventMetadata  map[string]string
}

func (e *BaseEvent) ID() int64                   { return e.EventID }
func (e *BaseEvent) BuildID() string             { return e.EventBuildID }
func (e *BaseEvent) Crate() string               { return e.EventCrate }
func (e *BaseEvent) Type() string                { return e.EventType }
func (e *BaseEvent) Timestamp() time.Time        { return e.EventTimestamp }
func (e *BaseEvent) Payload() []byte             { return e.EventPayload }
func (e *BaseEvent) Metadata() map[string]string { return e.EventMetadata }
