package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"repairsync/internal/domain"
)

const orderColumns = `id,external_id,user_id,document_id,COALESCE(source_created_at,''),device_brand,device_model,COALESCE(device_serial,''),device_name,total_amount,status_code,status_name,status_color,COALESCE(last_event_at,''),created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.RepairOrder, error) {
	var o domain.RepairOrder
	var userID sql.NullInt64
	err := row.Scan(&o.ID, &o.ExternalID, &userID, &o.DocumentID, &o.SourceCreatedAt, &o.DeviceBrand, &o.DeviceModel,
		&o.DeviceSerial, &o.DeviceName, &o.TotalAmount, &o.StatusCode, &o.StatusName, &o.StatusColor, &o.LastEventAt,
		&o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	if err != nil {
		return o, err
	}
	o.UserID = int64Ptr(userID)
	return o, nil
}

// FindByExternalID returns the order mirrored from the given RemOnline id.
func (r Repo) FindByExternalID(ctx context.Context, externalID int64) (domain.RepairOrder, error) {
	return scanOrder(r.queryRow(ctx, `SELECT `+orderColumns+` FROM repair_orders WHERE external_id=?`, externalID))
}

// InsertOrder stores a new order and returns its internal id. A second
// insert for the same external id fails with ErrDuplicate.
func (r Repo) InsertOrder(ctx context.Context, o domain.RepairOrder) (int64, error) {
	var id int64
	err := r.queryRow(ctx, `INSERT INTO repair_orders(external_id,user_id,document_id,source_created_at,device_brand,device_model,device_serial,device_name,total_amount,status_code,status_name,status_color,last_event_at,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?) RETURNING id`,
		o.ExternalID, nullableInt64Ptr(o.UserID), o.DocumentID, nullable(o.SourceCreatedAt), o.DeviceBrand, o.DeviceModel,
		nullable(o.DeviceSerial), o.DeviceName, o.TotalAmount.StringFixed(2), o.StatusCode, o.StatusName, o.StatusColor,
		nullable(o.LastEventAt), o.CreatedAt, o.UpdatedAt).Scan(&id)
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("order %d: %w", o.ExternalID, ErrDuplicate)
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

// UpdateOrder overwrites the mutable fields of the order with the given
// external id. CreatedAt and the internal id are left untouched.
func (r Repo) UpdateOrder(ctx context.Context, o domain.RepairOrder) error {
	res, err := r.exec(ctx, `UPDATE repair_orders SET user_id=?, document_id=?, source_created_at=?, device_brand=?, device_model=?, device_serial=?, device_name=?, total_amount=?, status_code=?, status_name=?, status_color=?, last_event_at=?, updated_at=? WHERE external_id=?`,
		nullableInt64Ptr(o.UserID), o.DocumentID, nullable(o.SourceCreatedAt), o.DeviceBrand, o.DeviceModel, nullable(o.DeviceSerial),
		o.DeviceName, o.TotalAmount.StringFixed(2), o.StatusCode, o.StatusName, o.StatusColor, nullable(o.LastEventAt), o.UpdatedAt,
		o.ExternalID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

// UpdateOrderStatus writes only the status fields and updated_at.
func (r Repo) UpdateOrderStatus(ctx context.Context, externalID int64, code string, info domain.StatusInfo, updatedAt string) error {
	res, err := r.exec(ctx, `UPDATE repair_orders SET status_code=?, status_name=?, status_color=?, updated_at=? WHERE external_id=?`,
		code, info.Name, info.Color, updatedAt, externalID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

// DeleteOrder removes the order row. It reports whether a row existed.
func (r Repo) DeleteOrder(ctx context.Context, externalID int64) (bool, error) {
	res, err := r.exec(ctx, `DELETE FROM repair_orders WHERE external_id=?`, externalID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type OrderFilters struct {
	StatusCode      string
	UserID          *int64
	Limit           int
	CursorUpdatedAt string
	CursorID        int64
}

func (r Repo) ListOrders(ctx context.Context, f OrderFilters) ([]domain.RepairOrder, error) {
	var (
		clauses []string
		args    []any
	)
	if f.StatusCode != "" {
		clauses = append(clauses, "status_code=?")
		args = append(args, f.StatusCode)
	}
	if f.UserID != nil {
		clauses = append(clauses, "user_id=?")
		args = append(args, *f.UserID)
	}
	if clause, cargs := cursorClause("updated_at", f.CursorUpdatedAt, f.CursorID); clause != "" {
		clauses = append(clauses, clause)
		args = append(args, cargs...)
	}
	query := `SELECT ` + orderColumns + ` FROM repair_orders`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY updated_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RepairOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func (r Repo) CountOrders(ctx context.Context) (int64, error) {
	var n int64
	err := r.queryRow(ctx, `SELECT COUNT(*) FROM repair_orders`).Scan(&n)
	return n, err
}
