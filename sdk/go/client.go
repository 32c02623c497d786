package repairsyncsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal repairsync admin API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BasePath:    "/v0",
		BearerToken: token,
		Timeout:     10 * time.Second,
	}
}

// Order is a synchronized repair order.
type Order struct {
	ExternalID      int64  `json:"external_id"`
	DocumentID      string `json:"document_id"`
	UserID          *int64 `json:"user_id,omitempty"`
	SourceCreatedAt string `json:"source_created_at,omitempty"`
	DeviceBrand     string `json:"device_brand"`
	DeviceModel     string `json:"device_model"`
	DeviceSerial    string `json:"device_serial,omitempty"`
	DeviceName      string `json:"device_name"`
	TotalAmount     string `json:"total_amount"`
	StatusCode      string `json:"status_code"`
	StatusName      string `json:"status_name"`
	StatusColor     string `json:"status_color"`
	LastEventAt     string `json:"last_event_at,omitempty"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
	Lines           []Line `json:"lines,omitempty"`
}

// Line is one service line of an order.
type Line struct {
	ExternalLineID int64  `json:"external_line_id"`
	Name           string `json:"name"`
	UnitPrice      string `json:"unit_price"`
	Quantity       string `json:"quantity"`
	WarrantyPeriod int    `json:"warranty_period"`
	WarrantyUnit   string `json:"warranty_unit,omitempty"`
}

// WebhookLog is one webhook audit record.
type WebhookLog struct {
	ID               int64  `json:"id"`
	EventType        string `json:"event_type"`
	Status           string `json:"status"`
	Message          string `json:"message,omitempty"`
	ProcessingTimeMs *int64 `json:"processing_time_ms,omitempty"`
	RequestID        string `json:"request_id,omitempty"`
	WebhookData      string `json:"webhook_data,omitempty"`
	CreatedAt        string `json:"created_at"`
}

// PaginatedOrders wraps order listings with cursors.
type PaginatedOrders struct {
	Items      []Order `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// PaginatedWebhookLogs wraps audit listings with cursors.
type PaginatedWebhookLogs struct {
	Items      []WebhookLog `json:"items"`
	NextCursor string       `json:"next_cursor"`
}

// WebhookLogQuery filters ListWebhookLogs. Zero values are ignored.
type WebhookLogQuery struct {
	Status    string
	EventType string
	RequestID string
	Limit     int
	Cursor    string
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// ListOrders returns one page of orders, newest update first.
func (c *Client) ListOrders(ctx context.Context, limit int, cursor string) (PaginatedOrders, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp PaginatedOrders
	err := c.do(ctx, http.MethodGet, withQuery("orders", q), nil, &resp)
	return resp, err
}

// GetOrder returns an order and its service lines.
func (c *Client) GetOrder(ctx context.Context, externalID int64) (Order, error) {
	var resp Order
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("orders/%d", externalID), nil, &resp)
	return resp, err
}

// UpdateOrderStatus overrides the status of an order. An empty locale
// uses the server default.
func (c *Client) UpdateOrderStatus(ctx context.Context, externalID, statusID int64, locale string) (Order, error) {
	body := map[string]any{"status_id": statusID}
	if locale != "" {
		body["locale"] = locale
	}
	var resp Order
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("orders/%d/status", externalID), body, &resp)
	return resp, err
}

// ListWebhookLogs returns one page of audit records, newest first.
func (c *Client) ListWebhookLogs(ctx context.Context, query WebhookLogQuery) (PaginatedWebhookLogs, error) {
	q := url.Values{}
	if query.Status != "" {
		q.Set("status", query.Status)
	}
	if query.EventType != "" {
		q.Set("event_type", query.EventType)
	}
	if query.RequestID != "" {
		q.Set("request_id", query.RequestID)
	}
	if query.Limit > 0 {
		q.Set("limit", strconv.Itoa(query.Limit))
	}
	if query.Cursor != "" {
		q.Set("cursor", query.Cursor)
	}
	var resp PaginatedWebhookLogs
	err := c.do(ctx, http.MethodGet, withQuery("webhook-logs", q), nil, &resp)
	return resp, err
}

// ClearStatusCache drops every cached status and returns how many were held.
func (c *Client) ClearStatusCache(ctx context.Context) (int, error) {
	var resp struct {
		Cleared int `json:"cleared"`
	}
	err := c.do(ctx, http.MethodDelete, "statuses/cache", nil, &resp)
	return resp.Cleared, err
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
