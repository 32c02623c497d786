package repo

import (
	"context"
	"database/sql"

	"repairsync/internal/domain"
)

// UpsertClient inserts or refreshes a client keyed by its RemOnline id
// and returns the internal id.
func (r Repo) UpsertClient(ctx context.Context, c domain.Client) (int64, error) {
	var id int64
	err := r.queryRow(ctx, `INSERT INTO clients(external_id,full_name,updated_at) VALUES (?,?,?)
ON CONFLICT(external_id) DO UPDATE SET full_name=excluded.full_name, updated_at=excluded.updated_at
RETURNING id`, c.ExternalID, c.FullName, c.UpdatedAt).Scan(&id)
	return id, err
}

func (r Repo) FindClientByExternalID(ctx context.Context, externalID int64) (domain.Client, error) {
	var c domain.Client
	err := r.queryRow(ctx, `SELECT id,external_id,full_name,updated_at FROM clients WHERE external_id=?`, externalID).
		Scan(&c.ID, &c.ExternalID, &c.FullName, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

// DeleteClient removes a client. Orders keep their row with user_id unset.
func (r Repo) DeleteClient(ctx context.Context, externalID int64) (bool, error) {
	res, err := r.exec(ctx, `DELETE FROM clients WHERE external_id=?`, externalID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
