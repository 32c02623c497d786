package repo

import (
	"context"
	"database/sql"

	"repairsync/internal/domain"
)

func (r Repo) GetStatus(ctx context.Context, statusID int64, locale string) (domain.StatusDefinition, error) {
	var s domain.StatusDefinition
	err := r.queryRow(ctx, `SELECT status_id,locale,name,color,updated_at FROM order_statuses WHERE status_id=? AND locale=?`, statusID, locale).
		Scan(&s.StatusID, &s.Locale, &s.Name, &s.Color, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) UpsertStatus(ctx context.Context, s domain.StatusDefinition) error {
	_, err := r.exec(ctx, `INSERT INTO order_statuses(status_id,locale,name,color,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(status_id,locale) DO UPDATE SET name=excluded.name, color=excluded.color, updated_at=excluded.updated_at`,
		s.StatusID, s.Locale, s.Name, s.Color, s.UpdatedAt)
	return err
}

// ListStatuses returns the status catalog, optionally restricted to one locale.
func (r Repo) ListStatuses(ctx context.Context, locale string) ([]domain.StatusDefinition, error) {
	query := `SELECT status_id,locale,name,color,updated_at FROM order_statuses`
	var args []any
	if locale != "" {
		query += ` WHERE locale=?`
		args = append(args, locale)
	}
	query += ` ORDER BY status_id, locale`
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.StatusDefinition{}
	for rows.Next() {
		var s domain.StatusDefinition
		if err := rows.Scan(&s.StatusID, &s.Locale, &s.Name, &s.Color, &s.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
