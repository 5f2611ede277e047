package memberauth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventLoginSuccess     ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure     ActivityEventType = "auth.login.failure"
	ActivityEventLoginFallback    ActivityEventType = "auth.login.fallback"
	ActivityEventRegisterSuccess  ActivityEventType = "auth.register.success"
	ActivityEventRegisterDegraded ActivityEventType = "auth.register.degraded"
	ActivityEventOTPSent          ActivityEventType = "auth.otp.sent"
	ActivityEventOTPVerified      ActivityEventType = "auth.otp.verified"
	ActivityEventPasswordSet      ActivityEventType = "auth.password.set"
	ActivityEventPasswordReset    ActivityEventType = "auth.password.reset"
	ActivityEventLogout           ActivityEventType = "auth.logout"
	ActivityEventUserStatusChange ActivityEventType = "admin.user.status"
)

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	UserID     string
	Identifier string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error { return nil }

func normalizeActivitySink(sink ActivitySink) ActivitySink {
	if sink == nil {
		return noopActivitySink{}
	}
	return sink
}

// ActivityRecord is the persisted form of an ActivityEvent.
type ActivityRecord struct {
	bun.BaseModel `bun:"table:activity_log,alias:act"`
	ID            uuid.UUID      `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	EventType     string         `bun:"event_type,notnull" json:"event_type"`
	UserID        string         `bun:"user_id,nullzero" json:"user_id,omitempty"`
	Identifier    string         `bun:"identifier,nullzero" json:"identifier,omitempty"`
	Metadata      map[string]any `bun:"metadata,type:jsonb,nullzero" json:"metadata,omitempty"`
	OccurredAt    time.Time      `bun:"occurred_at,notnull" json:"occurred_at"`
}

// BunActivitySink appends events to the activity_log table.
type BunActivitySink struct {
	db *bun.DB
}

var _ ActivitySink = (*BunActivitySink)(nil)

func NewBunActivitySink(db *bun.DB) *BunActivitySink {
	return &BunActivitySink{db: db}
}

func (s *BunActivitySink) Record(ctx context.Context, event ActivityEvent) error {
	record := &ActivityRecord{
		ID:         uuid.New(),
		EventType:  string(event.EventType),
		UserID:     event.UserID,
		Identifier: event.Identifier,
		Metadata:   event.Metadata,
		OccurredAt: event.OccurredAt,
	}
	_, err := s.db.NewInsert().Model(record).Exec(ctx)
	return err
}

// Recent returns the newest entries, capped at limit.
func (s *BunActivitySink) Recent(ctx context.Context, limit int) ([]*ActivityRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []*ActivityRecord
	err := s.db.NewSelect().
		Model(&records).
		Order("occurred_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return records, nil
}
