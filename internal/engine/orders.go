package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"repairsync/internal/domain"
	"repairsync/internal/repo"
)

var errStaleEvent = errors.New("stale event")

// OrderSynchronizer applies Order.* events to the local mirror. Every
// event runs in one transaction; the order row and its line set never
// diverge.
type OrderSynchronizer struct {
	Repo          repo.Repo
	Status        StatusResolver
	Fetcher       OrderFetcher
	Logger        *zap.Logger
	Now           func() time.Time
	DefaultLocale string
	RejectStale   bool
}

func (s *OrderSynchronizer) logger() *zap.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return zap.NewNop()
}

func (s *OrderSynchronizer) HandleOrderEvent(ctx context.Context, ev OrderEvent) (Result, error) {
	switch ev.Name {
	case OrderCreated:
		return s.upsert(ctx, ev, true)
	case OrderUpdated, OrderCompleted:
		return s.upsert(ctx, ev, false)
	case OrderCancelled, OrderDeleted:
		return s.remove(ctx, ev)
	case OrderStatusChanged:
		if ev.StatusID == nil {
			return Result{}, fmt.Errorf("failed to update order status: order %d: missing status id", ev.ExternalID)
		}
		err := s.UpdateOrderStatus(ctx, StatusUpdate{
			ExternalID: ev.ExternalID,
			StatusID:   *ev.StatusID,
			Locale:     ev.Locale,
		})
		if err != nil {
			return Result{}, err
		}
		return Result{Processed: true, Message: fmt.Sprintf("Order %d status updated", ev.ExternalID)}, nil
	default:
		return NotProcessed(ev.Name), nil
	}
}

// StatusUpdate is a status-only change of a known order.
type StatusUpdate struct {
	ExternalID  int64
	StatusID    int64
	Locale      string
	BypassCache bool
}

// UpdateOrderStatus rewrites the status fields and updated_at of an
// existing order. It fails with ErrOrderNotFound for unknown orders.
func (s *OrderSynchronizer) UpdateOrderStatus(ctx context.Context, u StatusUpdate) error {
	info := s.Status.Resolve(ctx, u.StatusID, s.locale(u.Locale), u.BypassCache)
	err := s.Repo.UpdateOrderStatus(ctx, u.ExternalID, strconv.FormatInt(u.StatusID, 10), info, nowString(s.Now))
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("failed to update order status: order %d: %w", u.ExternalID, ErrOrderNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	s.logger().Info("order_status_updated",
		zap.Int64("external_id", u.ExternalID),
		zap.Int64("status_id", u.StatusID),
		zap.String("status_name", info.Name),
	)
	return nil
}

func (s *OrderSynchronizer) locale(l string) string {
	if l != "" {
		return l
	}
	if s.DefaultLocale != "" {
		return s.DefaultLocale
	}
	return "uk"
}

// upsert implements Created (insert, or update if present) and
// Updated/Completed (update, or insert if absent).
func (s *OrderSynchronizer) upsert(ctx context.Context, ev OrderEvent, fromCreate bool) (Result, error) {
	op := "update"
	if fromCreate {
		op = "create"
	}
	detail, err := s.loadDetail(ctx, ev)
	if err != nil {
		return Result{}, fmt.Errorf("failed to %s order: %w", op, err)
	}
	var status *domain.StatusInfo
	if detail.StatusID != nil {
		info := s.Status.Resolve(ctx, *detail.StatusID, s.locale(ev.Locale), false)
		status = &info
	}

	created, err := s.apply(ctx, ev, detail, status)
	if errors.Is(err, repo.ErrDuplicate) {
		// a concurrent delivery inserted the row first
		created, err = s.apply(ctx, ev, detail, status)
	}
	if errors.Is(err, errStaleEvent) {
		s.logger().Info("order_event_stale", zap.String("event", ev.Name), zap.Int64("external_id", ev.ExternalID))
		return Result{Message: fmt.Sprintf("Order %d: stale event ignored", ev.ExternalID)}, nil
	}
	if err != nil {
		if created {
			op = "create"
		}
		return Result{}, fmt.Errorf("failed to %s order: %w", op, err)
	}
	verb := "updated"
	if created {
		verb = "created"
	}
	s.logger().Info("order_"+verb,
		zap.String("event", ev.Name),
		zap.Int64("external_id", ev.ExternalID),
		zap.Int("lines", len(detail.Lines)),
	)
	return Result{Processed: true, Message: fmt.Sprintf("Order %d %s", ev.ExternalID, verb)}, nil
}

// apply writes detail inside one transaction. It reports whether a new
// row was inserted.
func (s *OrderSynchronizer) apply(ctx context.Context, ev OrderEvent, detail OrderDetail, status *domain.StatusInfo) (bool, error) {
	var created bool
	err := s.Repo.InTx(ctx, func(tx repo.Repo) error {
		created = false
		now := nowString(s.Now)
		existing, err := tx.FindByExternalID(ctx, ev.ExternalID)
		switch {
		case err == nil:
			if s.isStale(ev, existing) {
				return errStaleEvent
			}
		case errors.Is(err, repo.ErrNotFound):
			created = true
			existing = domain.RepairOrder{ExternalID: ev.ExternalID, CreatedAt: now}
		default:
			return err
		}

		userID, err := s.resolveClient(ctx, tx, detail, now)
		if err != nil {
			return err
		}
		record := mergeDetail(existing, detail, status)
		if userID != nil {
			record.UserID = userID
		}
		record.UpdatedAt = now
		if !ev.OccurredAt.IsZero() {
			record.LastEventAt = ev.OccurredAt.UTC().Format(time.RFC3339Nano)
		}

		orderID := existing.ID
		if created {
			if orderID, err = tx.InsertOrder(ctx, record); err != nil {
				return err
			}
		} else if err := tx.UpdateOrder(ctx, record); err != nil {
			return err
		}
		if detail.Lines == nil {
			return nil
		}
		return tx.ReplaceLineItems(ctx, orderID, toServiceLines(ev.ExternalID, detail.Lines))
	})
	return created, err
}

func (s *OrderSynchronizer) isStale(ev OrderEvent, existing domain.RepairOrder) bool {
	if !s.RejectStale || ev.OccurredAt.IsZero() || existing.LastEventAt == "" {
		return false
	}
	last, err := time.Parse(time.RFC3339Nano, existing.LastEventAt)
	if err != nil {
		return false
	}
	return ev.OccurredAt.Before(last)
}

// resolveClient maps the upstream client id to the local clients row,
// creating a placeholder when the Client.* event has not arrived yet.
func (s *OrderSynchronizer) resolveClient(ctx context.Context, tx repo.Repo, d OrderDetail, now string) (*int64, error) {
	if d.ClientExternalID == nil {
		return nil, nil
	}
	c, err := tx.FindClientByExternalID(ctx, *d.ClientExternalID)
	if err == nil {
		return &c.ID, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	id, err := tx.UpsertClient(ctx, domain.Client{ExternalID: *d.ClientExternalID, FullName: d.ClientName, UpdatedAt: now})
	if err != nil {
		return nil, fmt.Errorf("link client %d: %w", *d.ClientExternalID, err)
	}
	return &id, nil
}

// mergeDetail overlays the known parts of d on base and recomputes the
// derived fields. Empty upstream values keep what is stored.
func mergeDetail(base domain.RepairOrder, d OrderDetail, status *domain.StatusInfo) domain.RepairOrder {
	o := base
	if d.Brand != "" {
		o.DeviceBrand = d.Brand
	}
	if d.Model != "" {
		o.DeviceModel = d.Model
	}
	if d.Serial != "" {
		o.DeviceSerial = d.Serial
	}
	if d.CreatedAt != "" {
		o.SourceCreatedAt = d.CreatedAt
	}
	o.DeviceName = DeviceName(o.DeviceBrand, o.DeviceModel)
	if d.IDLabel != "" || d.Name != "" || o.DocumentID == "" {
		o.DocumentID = DocumentID(d.IDLabel, d.Name, o.ExternalID)
	}
	if d.Lines != nil {
		o.TotalAmount = ComputeTotal(d.Lines)
	}
	if status != nil && d.StatusID != nil {
		o.StatusCode = strconv.FormatInt(*d.StatusID, 10)
		o.StatusName = status.Name
		o.StatusColor = status.Color
	}
	return o
}

// loadDetail prefers the upstream API and falls back to the webhook
// metadata when the API is not configured or does not know the order.
func (s *OrderSynchronizer) loadDetail(ctx context.Context, ev OrderEvent) (OrderDetail, error) {
	fallback := detailFromEvent(ev)
	if s.Fetcher == nil || !s.Fetcher.Enabled() {
		return fallback, nil
	}
	d, err := s.Fetcher.FetchOrder(ctx, ev.ExternalID)
	if errors.Is(err, ErrOrderNotFound) {
		s.logger().Warn("order_detail_missing", zap.Int64("external_id", ev.ExternalID))
		return fallback, nil
	}
	if err != nil {
		return OrderDetail{}, fmt.Errorf("fetch order %d: %w", ev.ExternalID, err)
	}
	d.ExternalID = ev.ExternalID
	if d.StatusID == nil {
		d.StatusID = fallback.StatusID
	}
	if d.ClientExternalID == nil {
		d.ClientExternalID = fallback.ClientExternalID
		d.ClientName = fallback.ClientName
	}
	return d, nil
}

// remove deletes the order and its lines. Unknown orders are not an error.
func (s *OrderSynchronizer) remove(ctx context.Context, ev OrderEvent) (Result, error) {
	var existed bool
	var lines int64
	err := s.Repo.InTx(ctx, func(tx repo.Repo) error {
		existing, err := tx.FindByExternalID(ctx, ev.ExternalID)
		if errors.Is(err, repo.ErrNotFound) {
			existed = false
			return nil
		}
		if err != nil {
			return err
		}
		if s.isStale(ev, existing) {
			return errStaleEvent
		}
		if lines, err = tx.DeleteLineItems(ctx, existing.ID); err != nil {
			return err
		}
		existed, err = tx.DeleteOrder(ctx, ev.ExternalID)
		return err
	})
	if errors.Is(err, errStaleEvent) {
		return Result{Message: fmt.Sprintf("Order %d: stale event ignored", ev.ExternalID)}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to delete order: %w", err)
	}
	if !existed {
		return Result{Processed: true, Message: fmt.Sprintf("Order %d not found, nothing to delete", ev.ExternalID)}, nil
	}
	s.logger().Info("order_deleted",
		zap.String("event", ev.Name),
		zap.Int64("external_id", ev.ExternalID),
		zap.Int64("lines", lines),
	)
	return Result{Processed: true, Message: fmt.Sprintf("Order %d deleted", ev.ExternalID)}, nil
}
