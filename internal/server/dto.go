package server

import (
	"repairsync/internal/domain"
)

type UpdateOrderStatusRequest struct {
	StatusID    int64  `json:"status_id" minimum:"1"`
	Locale      string `json:"locale,omitempty"`
	BypassCache bool   `json:"bypass_cache,omitempty"`
}

type PutStatusRequest struct {
	Name  string `json:"name" minLength:"1"`
	Color string `json:"color,omitempty"`
}

type OrderResponse struct {
	ExternalID      int64          `json:"external_id"`
	DocumentID      string         `json:"document_id"`
	UserID          *int64         `json:"user_id,omitempty"`
	SourceCreatedAt string         `json:"source_created_at,omitempty"`
	DeviceBrand     string         `json:"device_brand"`
	DeviceModel     string         `json:"device_model"`
	DeviceSerial    string         `json:"device_serial,omitempty"`
	DeviceName      string         `json:"device_name"`
	TotalAmount     string         `json:"total_amount" example:"26.00"`
	StatusCode      string         `json:"status_code"`
	StatusName      string         `json:"status_name"`
	StatusColor     string         `json:"status_color"`
	LastEventAt     string         `json:"last_event_at,omitempty"`
	CreatedAt       string         `json:"created_at"`
	UpdatedAt       string         `json:"updated_at"`
	Lines           []LineResponse `json:"lines,omitempty"`
}

type LineResponse struct {
	ExternalLineID int64  `json:"external_line_id"`
	Name           string `json:"name"`
	UnitPrice      string `json:"unit_price"`
	Quantity       string `json:"quantity"`
	WarrantyPeriod int    `json:"warranty_period"`
	WarrantyUnit   string `json:"warranty_unit,omitempty" enum:"days,months,years"`
}

type WebhookLogResponse struct {
	ID               int64  `json:"id"`
	EventType        string `json:"event_type"`
	Status           string `json:"status" enum:"received,success,failed,error"`
	Message          string `json:"message,omitempty"`
	ProcessingTimeMs *int64 `json:"processing_time_ms,omitempty"`
	RequestID        string `json:"request_id,omitempty"`
	WebhookData      string `json:"webhook_data,omitempty"`
	CreatedAt        string `json:"created_at"`
}

type StatusResponse struct {
	StatusID  int64  `json:"status_id"`
	Locale    string `json:"locale"`
	Name      string `json:"name"`
	Color     string `json:"color"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type CacheClearResponse struct {
	Cleared int `json:"cleared"`
}

type paginatedOrders struct {
	Items      []OrderResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type paginatedWebhookLogs struct {
	Items      []WebhookLogResponse `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

// Conversion helpers

func orderResponse(o domain.RepairOrder, lines []domain.OrderServiceLine) OrderResponse {
	resp := OrderResponse{
		ExternalID:      o.ExternalID,
		DocumentID:      o.DocumentID,
		UserID:          o.UserID,
		SourceCreatedAt: o.SourceCreatedAt,
		DeviceBrand:     o.DeviceBrand,
		DeviceModel:     o.DeviceModel,
		DeviceSerial:    o.DeviceSerial,
		DeviceName:      o.DeviceName,
		TotalAmount:     o.TotalAmount.StringFixed(2),
		StatusCode:      o.StatusCode,
		StatusName:      o.StatusName,
		StatusColor:     o.StatusColor,
		LastEventAt:     o.LastEventAt,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
	for _, l := range lines {
		resp.Lines = append(resp.Lines, LineResponse{
			ExternalLineID: l.ExternalLineID,
			Name:           l.Name,
			UnitPrice:      l.UnitPrice.StringFixed(2),
			Quantity:       l.Quantity.String(),
			WarrantyPeriod: l.WarrantyPeriod,
			WarrantyUnit:   l.WarrantyUnit,
		})
	}
	return resp
}

func mapOrders(items []domain.RepairOrder) []OrderResponse {
	out := make([]OrderResponse, 0, len(items))
	for _, o := range items {
		out = append(out, orderResponse(o, nil))
	}
	return out
}

func webhookLogResponse(rec domain.WebhookAuditRecord, withPayload bool) WebhookLogResponse {
	resp := WebhookLogResponse{
		ID:               rec.ID,
		EventType:        rec.EventType,
		Status:           rec.Status,
		Message:          rec.Message,
		ProcessingTimeMs: rec.ProcessingTimeMs,
		RequestID:        rec.RequestID,
		CreatedAt:        rec.CreatedAt,
	}
	if withPayload {
		resp.WebhookData = rec.WebhookData
	}
	return resp
}

func statusResponse(s domain.StatusDefinition) StatusResponse {
	return StatusResponse(s)
}

func mapStatuses(items []domain.StatusDefinition) []StatusResponse {
	out := make([]StatusResponse, 0, len(items))
	for _, s := range items {
		out = append(out, statusResponse(s))
	}
	return out
}
