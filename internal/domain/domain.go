package domain

import "github.com/shopspring/decimal"

// Webhook audit statuses.
const (
	AuditReceived = "received"
	AuditSuccess  = "success"
	AuditFailed   = "failed"
	AuditError    = "error"
)

// RepairOrder is a repair ticket mirrored from RemOnline.
type RepairOrder struct {
	ID              int64           `json:"id"`
	ExternalID      int64           `json:"external_id"`
	UserID          *int64          `json:"user_id,omitempty"`
	DocumentID      string          `json:"document_id"`
	SourceCreatedAt string          `json:"source_created_at,omitempty" format:"date-time"`
	DeviceBrand     string          `json:"device_brand"`
	DeviceModel     string          `json:"device_model"`
	DeviceSerial    string          `json:"device_serial,omitempty"`
	DeviceName      string          `json:"device_name"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	StatusCode      string          `json:"status_code"`
	StatusName      string          `json:"status_name"`
	StatusColor     string          `json:"status_color"`
	LastEventAt     string          `json:"last_event_at,omitempty" format:"date-time"`
	CreatedAt       string          `json:"created_at" format:"date-time"`
	UpdatedAt       string          `json:"updated_at" format:"date-time"`
}

// OrderServiceLine is one billable line of a repair order.
type OrderServiceLine struct {
	ID              int64           `json:"id"`
	OrderID         int64           `json:"order_id"`
	ExternalOrderID int64           `json:"external_order_id"`
	ExternalLineID  int64           `json:"external_line_id"`
	Name            string          `json:"name"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	Quantity        decimal.Decimal `json:"quantity"`
	WarrantyPeriod  int             `json:"warranty_period"`
	WarrantyUnit    string          `json:"warranty_unit,omitempty"`
}

// StatusInfo is display metadata for an external status id.
type StatusInfo struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// StatusDefinition is a stored (status id, locale) entry.
type StatusDefinition struct {
	StatusID  int64  `json:"status_id" yaml:"id"`
	Locale    string `json:"locale" yaml:"locale"`
	Name      string `json:"name" yaml:"name"`
	Color     string `json:"color" yaml:"color"`
	UpdatedAt string `json:"updated_at,omitempty" yaml:"-" format:"date-time"`
}

// WebhookAuditRecord is one append-only row of the delivery log.
type WebhookAuditRecord struct {
	ID               int64  `json:"id"`
	EventType        string `json:"event_type"`
	Status           string `json:"status" enum:"received,success,failed,error"`
	Message          string `json:"message,omitempty"`
	ProcessingTimeMs *int64 `json:"processing_time_ms,omitempty"`
	WebhookData      string `json:"webhook_data,omitempty"`
	RequestID        string `json:"request_id,omitempty"`
	CreatedAt        string `json:"created_at" format:"date-time"`
}

// Client is a RemOnline customer referenced by orders.
type Client struct {
	ID         int64  `json:"id"`
	ExternalID int64  `json:"external_id"`
	FullName   string `json:"full_name"`
	UpdatedAt  string `json:"updated_at" format:"date-time"`
}
