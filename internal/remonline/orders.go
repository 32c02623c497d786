package remonline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"repairsync/internal/engine"
)

type orderListResponse struct {
	Data  []apiOrder `json:"data"`
	Count int        `json:"count"`
}

type apiRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type apiOrder struct {
	ID         int64          `json:"id"`
	IDLabel    string         `json:"id_label"`
	Name       string         `json:"name"`
	CreatedAt  json.Number    `json:"created_at"`
	Status     *apiRef        `json:"status"`
	Client     *apiRef        `json:"client"`
	Asset      *apiAsset      `json:"asset"`
	Brand      string         `json:"brand"`
	Model      string         `json:"model"`
	Serial     string         `json:"serial"`
	Operations []apiOrderLine `json:"operations"`
	Parts      []apiOrderLine `json:"parts"`
}

type apiAsset struct {
	Brand  string `json:"brand"`
	Model  string `json:"model"`
	Serial string `json:"serial"`
}

type apiOrderLine struct {
	ID             int64  `json:"id"`
	Title          string `json:"title"`
	Price          any    `json:"price"`
	Amount         any    `json:"amount"`
	Warranty       int    `json:"warranty"`
	WarrantyPeriod int    `json:"warranty_period"`
}

// FetchOrder loads one order by id. It returns engine.ErrOrderNotFound
// when RemOnline answers with an empty result or 404.
func (c *Client) FetchOrder(ctx context.Context, externalID int64) (engine.OrderDetail, error) {
	if !c.Enabled() {
		return engine.OrderDetail{}, ErrNotConfigured
	}
	var out orderListResponse
	err := c.authorized(ctx, func(token string) error {
		q := url.Values{"token": {token}, "ids[]": {strconv.FormatInt(externalID, 10)}}
		return c.call(ctx, "order", true, func() error {
			out = orderListResponse{}
			return c.doRequest(ctx, http.MethodGet, "/order/", q, nil, &out)
		})
	})
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return engine.OrderDetail{}, fmt.Errorf("order %d: %w", externalID, engine.ErrOrderNotFound)
	}
	if err != nil {
		return engine.OrderDetail{}, err
	}
	for _, o := range out.Data {
		if o.ID == externalID {
			return o.detail(), nil
		}
	}
	return engine.OrderDetail{}, fmt.Errorf("order %d: %w", externalID, engine.ErrOrderNotFound)
}

func (o apiOrder) detail() engine.OrderDetail {
	d := engine.OrderDetail{
		ExternalID: o.ID,
		IDLabel:    strings.TrimSpace(o.IDLabel),
		Name:       strings.TrimSpace(o.Name),
		CreatedAt:  epochMillis(o.CreatedAt),
		Brand:      strings.TrimSpace(o.Brand),
		Model:      strings.TrimSpace(o.Model),
		Serial:     strings.TrimSpace(o.Serial),
		Lines:      make([]engine.LineDetail, 0, len(o.Operations)+len(o.Parts)),
	}
	if o.Asset != nil {
		d.Brand = firstNonEmpty(o.Asset.Brand, d.Brand)
		d.Model = firstNonEmpty(o.Asset.Model, d.Model)
		d.Serial = firstNonEmpty(o.Asset.Serial, d.Serial)
	}
	if o.Status != nil {
		id := o.Status.ID
		d.StatusID = &id
	}
	if o.Client != nil {
		id := o.Client.ID
		d.ClientExternalID = &id
		d.ClientName = strings.TrimSpace(o.Client.Name)
	}
	for _, l := range append(append([]apiOrderLine{}, o.Operations...), o.Parts...) {
		d.Lines = append(d.Lines, engine.LineDetail{
			ExternalID:     l.ID,
			Name:           l.Title,
			Price:          l.Price,
			Quantity:       l.Amount,
			WarrantyPeriod: l.Warranty,
			WarrantyUnit:   warrantyUnit(l.WarrantyPeriod),
		})
	}
	return d
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// epochMillis converts RemOnline millisecond timestamps to RFC3339.
func epochMillis(n json.Number) string {
	ms, err := n.Int64()
	if err != nil || ms <= 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

func warrantyUnit(period int) string {
	switch period {
	case 0:
		return "days"
	case 1:
		return "months"
	case 2:
		return "years"
	default:
		return ""
	}
}
