package engine

import (
	"fmt"
	"time"
)

const (
	OrderCreated       = "Order.Created"
	OrderUpdated       = "Order.Updated"
	OrderCompleted     = "Order.Completed"
	OrderCancelled     = "Order.Cancelled"
	OrderDeleted       = "Order.Deleted"
	OrderStatusChanged = "Order.StatusChanged"

	ClientCreated = "Client.Created"
	ClientUpdated = "Client.Updated"
	ClientDeleted = "Client.Deleted"
)

// OrderEvent is a validated Order.* webhook.
type OrderEvent struct {
	EventID    string
	Name       string
	OccurredAt time.Time
	ExternalID int64
	Locale     string

	OrderName        string
	StatusID         *int64
	ClientExternalID *int64
	ClientName       string
	AssetName        string
}

// ClientEvent is a validated Client.* webhook.
type ClientEvent struct {
	EventID    string
	Name       string
	OccurredAt time.Time
	ExternalID int64
	FullName   string
}

// Result is the outcome of a handled event.
type Result struct {
	Processed bool
	Message   string
}

func NotProcessed(eventName string) Result {
	return Result{Message: fmt.Sprintf("Event %s received but not processed", eventName)}
}

// OrderDetail is the upstream view of an order. Lines is nil when the
// line set is unknown, which keeps the stored lines and total.
type OrderDetail struct {
	ExternalID       int64
	IDLabel          string
	Name             string
	CreatedAt        string
	StatusID         *int64
	ClientExternalID *int64
	ClientName       string
	Brand            string
	Model            string
	Serial           string
	Lines            []LineDetail
}

// LineDetail carries raw upstream numbers; Price and Quantity may be
// JSON numbers or strings.
type LineDetail struct {
	ExternalID     int64
	Name           string
	Price          any
	Quantity       any
	WarrantyPeriod int
	WarrantyUnit   string
}
