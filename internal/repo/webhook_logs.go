package repo

import (
	"context"
	"database/sql"
	"strings"

	"repairsync/internal/domain"
)

type WebhookLogFilters struct {
	Status    string
	EventType string
	RequestID string
	Limit     int
	// CursorID pages backwards from the given log id.
	CursorID int64
}

// ListWebhookLogs returns audit rows newest first.
func (r Repo) ListWebhookLogs(ctx context.Context, f WebhookLogFilters) ([]domain.WebhookAuditRecord, error) {
	var (
		clauses []string
		args    []any
	)
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.EventType != "" {
		clauses = append(clauses, "event_type=?")
		args = append(args, f.EventType)
	}
	if f.RequestID != "" {
		clauses = append(clauses, "request_id=?")
		args = append(args, f.RequestID)
	}
	if f.CursorID > 0 {
		clauses = append(clauses, "id < ?")
		args = append(args, f.CursorID)
	}
	query := `SELECT id,event_type,status,COALESCE(message,''),processing_time_ms,COALESCE(webhook_data,''),COALESCE(request_id,''),created_at FROM webhook_logs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.WebhookAuditRecord{}
	for rows.Next() {
		var rec domain.WebhookAuditRecord
		var took sql.NullInt64
		if err := rows.Scan(&rec.ID, &rec.EventType, &rec.Status, &rec.Message, &took, &rec.WebhookData, &rec.RequestID, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.ProcessingTimeMs = int64Ptr(took)
		res = append(res, rec)
	}
	return res, rows.Err()
}

// CountWebhookLogsByStatus groups audit rows of one request by status.
func (r Repo) CountWebhookLogsByStatus(ctx context.Context, requestID string) (map[string]int, error) {
	rows, err := r.query(ctx, `SELECT status, COUNT(*) FROM webhook_logs WHERE request_id=? GROUP BY status`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		res[status] = n
	}
	return res, rows.Err()
}
