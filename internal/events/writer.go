package events

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"repairsync/internal/db"
	"repairsync/internal/domain"
)

// Writer appends webhook delivery records to webhook_logs.
type Writer struct {
	DB      *sql.DB
	Dialect db.Dialect
	Now     func() time.Time
}

var errUnknownStatus = errors.New("unknown audit status")

func (w Writer) Append(ctx context.Context, rec domain.WebhookAuditRecord) error {
	switch rec.Status {
	case domain.AuditReceived, domain.AuditSuccess, domain.AuditFailed, domain.AuditError:
	default:
		return errUnknownStatus
	}
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := rec.CreatedAt
	if ts == "" {
		ts = w.Now().UTC().Format(time.RFC3339Nano)
	}
	var took any
	if rec.ProcessingTimeMs != nil {
		took = *rec.ProcessingTimeMs
	}
	_, err := w.DB.ExecContext(ctx, w.Dialect.Rebind(`INSERT INTO webhook_logs(event_type,status,message,processing_time_ms,webhook_data,request_id,created_at) VALUES (?,?,?,?,?,?,?)`),
		rec.EventType, rec.Status, nullable(rec.Message), took, nullable(rec.WebhookData), nullable(rec.RequestID), ts)
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
