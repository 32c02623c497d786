package repo

import (
	"context"
	"fmt"

	"repairsync/internal/domain"
)

// ReplaceLineItems swaps the whole line set of an order for items. The
// delete and the inserts share one transaction; when r is not already
// bound to one, a transaction is opened for the call.
func (r Repo) ReplaceLineItems(ctx context.Context, orderID int64, items []domain.OrderServiceLine) error {
	return r.InTx(ctx, func(tx Repo) error {
		if _, err := tx.DeleteLineItems(ctx, orderID); err != nil {
			return err
		}
		for i, it := range items {
			if _, err := tx.exec(ctx, `INSERT INTO order_service_lines(order_id,external_order_id,external_line_id,name,unit_price,quantity,warranty_period,warranty_unit) VALUES (?,?,?,?,?,?,?,?)`,
				orderID, it.ExternalOrderID, it.ExternalLineID, it.Name, it.UnitPrice.StringFixed(2), it.Quantity.String(),
				it.WarrantyPeriod, nullable(it.WarrantyUnit)); err != nil {
				return fmt.Errorf("insert line %d: %w", i, err)
			}
		}
		return nil
	})
}

// DeleteLineItems removes every line of an order and returns how many
// rows were deleted.
func (r Repo) DeleteLineItems(ctx context.Context, orderID int64) (int64, error) {
	res, err := r.exec(ctx, `DELETE FROM order_service_lines WHERE order_id=?`, orderID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) ListLineItems(ctx context.Context, orderID int64) ([]domain.OrderServiceLine, error) {
	rows, err := r.query(ctx, `SELECT id,order_id,external_order_id,external_line_id,name,unit_price,quantity,warranty_period,COALESCE(warranty_unit,'') FROM order_service_lines WHERE order_id=? ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.OrderServiceLine{}
	for rows.Next() {
		var l domain.OrderServiceLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ExternalOrderID, &l.ExternalLineID, &l.Name, &l.UnitPrice, &l.Quantity,
			&l.WarrantyPeriod, &l.WarrantyUnit); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}
