package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/airdash/airdash/internal/events"
)

// ErrMalformedEvent is returned for messages that can never be processed.
// They are acknowledged so Pub/Sub stops redelivering them.
var ErrMalformedEvent = errors.New("malformed event")

// Outcome is how an export ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
)

// AuditRecord is one finished export.
type AuditRecord struct {
	EventID    string
	SessionID  string
	JobID      string
	Outcome    Outcome
	Filename   string
	Format     string
	Bytes      int
	Kind       string
	Message    string
	Retryable  bool
	OccurredAt time.Time
}

// AuditStore persists audit records. Record must be idempotent on EventID:
// Pub/Sub delivers at least once.
type AuditStore interface {
	Record(ctx context.Context, rec AuditRecord) error
}

// LogAuditStore writes audit records to a logger.
type LogAuditStore struct {
	Logger zerolog.Logger
}

// Record implements AuditStore.
func (s LogAuditStore) Record(_ context.Context, rec AuditRecord) error {
	var ev *zerolog.Event
	if rec.Outcome == OutcomeFailed {
		ev = s.Logger.Warn().
			Str("kind", rec.Kind).
			Str("message", rec.Message).
			Bool("retryable", rec.Retryable)
	} else {
		ev = s.Logger.Info().
			Str("filename", rec.Filename).
			Str("format", rec.Format).
			Int("bytes", rec.Bytes)
	}
	ev.Str("event_id", rec.EventID).
		Str("session_id", rec.SessionID).
		Str("job_id", rec.JobID).
		Str("outcome", string(rec.Outcome)).
		Time("occurred_at", rec.OccurredAt).
		Msg("export audited")
	return nil
}

// envelope mirrors events.Event with the payload left undecoded.
type envelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Time      time.Time       `json:"time"`
	Data      json.RawMessage `json:"data"`
}

type completedPayload struct {
	JobID    string `json:"job_id"`
	Filename string `json:"filename"`
	Format   string `json:"format"`
	Bytes    int    `json:"bytes"`
}

type failedPayload struct {
	JobID     string `json:"job_id"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Recorder turns export events into audit records. Selection events are
// ignored.
type Recorder struct {
	store  AuditStore
	logger zerolog.Logger
}

// NewRecorder creates a recorder writing to store.
func NewRecorder(store AuditStore, logger zerolog.Logger) *Recorder {
	return &Recorder{
		store:  store,
		logger: logger.With().Str("component", "audit").Logger(),
	}
}

// Handle decodes one message body and records it when it is an export
// outcome. Decoding failures wrap ErrMalformedEvent.
func (r *Recorder) Handle(ctx context.Context, data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if env.ID == "" || env.Type == "" {
		return fmt.Errorf("%w: missing id or type", ErrMalformedEvent)
	}

	rec := AuditRecord{
		EventID:    env.ID,
		SessionID:  env.SessionID,
		OccurredAt: env.Time.UTC(),
	}

	switch env.Type {
	case events.TypeExportCompleted:
		var p completedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformedEvent, env.Type, err)
		}
		rec.Outcome = OutcomeCompleted
		rec.JobID = p.JobID
		rec.Filename = p.Filename
		rec.Format = p.Format
		rec.Bytes = p.Bytes
	case events.TypeExportFailed:
		var p failedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformedEvent, env.Type, err)
		}
		rec.Outcome = OutcomeFailed
		rec.JobID = p.JobID
		rec.Kind = p.Kind
		rec.Message = p.Message
		rec.Retryable = p.Retryable
	default:
		r.logger.Debug().Str("event_type", env.Type).Msg("ignoring event")
		return nil
	}

	if err := r.store.Record(ctx, rec); err != nil {
		return fmt.Errorf("record %s: %w", env.ID, err)
	}
	return nil
}
