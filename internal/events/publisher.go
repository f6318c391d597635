package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/cratedocs/internal/build/queue"
	"git.home.luguber.info/inful/cratedocs/internal/config"
	"git.home.luguber.info/inful/cratedocs/internal/logfields"
)

// BuildEvent is the wire format for build lifecycle notifications.
type BuildEvent struct {
	BuildID   string    `json:"build_id"`
	Crate     string    `json:"crate"`
	Version   string    `json:"version"`
	Phase     string    `json:"phase"`
	WorkerID  string    `json:"worker_id,omitempty"`
	Duration  string    `json:"duration,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher publishes build lifecycle events to a JetStream stream.
type Publisher struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	prefix string
	stream string
}

// NewPublisher connects to NATS and ensures the build-event stream exists.
func NewPublisher(cfg config.EventsConfig) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("event publishing is disabled")
	}

	conn, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	p := &Publisher{
		conn:   conn,
		js:     js,
		prefix: cfg.SubjectPrefix,
		stream: cfg.Stream,
	}

	if err := p.ensureStream(); err != nil {
		conn.Close()
		return nil, err
	}

	slog.Info("NATS publisher initialized for build events",
		"url", cfg.NATSURL,
		"subject_prefix", cfg.SubjectPrefix,
		"stream", cfg.Stream)

	return p, nil
}

// ensureStream creates or reuses the JetStream stream backing build events.
func (p *Publisher) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := p.js.Stream(ctx, p.stream)
	if err == nil {
		return nil
	}

	_, err = p.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        p.stream,
		Description: "Build lifecycle events for cratedocs",
		Subjects:    []string{p.prefix + ".>"},
		MaxBytes:    100 * 1024 * 1024,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	slog.Info("Created JetStream stream for build events", "stream", p.stream)
	return nil
}

func (p *Publisher) publish(ctx context.Context, phase string, event BuildEvent) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	event.Phase = phase
	event.Timestamp = time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	subject := Subject(p.prefix, phase)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	slog.Debug("Published build event",
		logfields.JobID(event.BuildID),
		logfields.Crate(event.Crate),
		logfields.Subject(subject))

	return nil
}

// Subject returns the NATS subject for a build phase under the given prefix.
func Subject(prefix, phase string) string {
	return prefix + "." + phase
}

// EmitBuildStarted implements queue.BuildEventEmitter.
func (p *Publisher) EmitBuildStarted(ctx context.Context, job *queue.BuildJob, workerID string) error {
	return p.publish(ctx, "started", BuildEvent{
		BuildID:  job.ID,
		Crate:    job.Crate.Name,
		Version:  job.Crate.Version,
		WorkerID: workerID,
	})
}

// EmitBuildCompleted implements queue.BuildEventEmitter.
func (p *Publisher) EmitBuildCompleted(ctx context.Context, job *queue.BuildJob, duration time.Duration) error {
	return p.publish(ctx, "completed", BuildEvent{
		BuildID:  job.ID,
		Crate:    job.Crate.Name,
		Version:  job.Crate.Version,
		Duration: duration.String(),
	})
}

// EmitBuildFailed implements queue.BuildEventEmitter.
func (p *Publisher) EmitBuildFailed(ctx context.Context, job *queue.BuildJob, errorMsg string) error {
	return p.publish(ctx, "failed", BuildEvent{
		BuildID: job.ID,
		Crate:   job.Crate.Name,
		Version: job.Crate.Version,
		Error:   errorMsg,
	})
}

// Close closes the NATS connection.
func (p *Publisher) Close() error {
	if p.conn != nil {
		p.conn.Close()
	}
	return nil
}
