package engine

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"repairsync/internal/domain"
)

const unknownDevice = "Unknown"

// ParseNumber coerces a JSON number or numeric string. ok is false for
// missing or non-numeric input.
func ParseNumber(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case nil:
		return decimal.Zero, false
	case decimal.Decimal:
		return n, true
	case float64:
		return decimal.NewFromFloat(n), true
	case float32:
		return decimal.NewFromFloat32(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(n))
		return d, err == nil
	default:
		return decimal.Zero, false
	}
}

func linePrice(l LineDetail) decimal.Decimal {
	p, _ := ParseNumber(l.Price)
	return p
}

func lineQuantity(l LineDetail) decimal.Decimal {
	if l.Quantity == nil {
		return decimal.NewFromInt(1)
	}
	q, _ := ParseNumber(l.Quantity)
	return q
}

// ComputeTotal sums price x quantity. Missing quantity counts as 1,
// anything non-numeric as 0.
func ComputeTotal(lines []LineDetail) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(linePrice(l).Mul(lineQuantity(l)))
	}
	return total.Round(2)
}

func DeviceName(brand, model string) string {
	brand = strings.TrimSpace(brand)
	if brand == "" {
		brand = unknownDevice
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = unknownDevice
	}
	return strings.TrimSpace(brand + " " + model)
}

// DocumentID picks the first non-empty of label, name and the external id.
func DocumentID(idLabel, name string, externalID int64) string {
	if s := strings.TrimSpace(idLabel); s != "" {
		return s
	}
	if s := strings.TrimSpace(name); s != "" {
		return s
	}
	return strconv.FormatInt(externalID, 10)
}

func toServiceLines(externalOrderID int64, lines []LineDetail) []domain.OrderServiceLine {
	res := make([]domain.OrderServiceLine, 0, len(lines))
	for _, l := range lines {
		res = append(res, domain.OrderServiceLine{
			ExternalOrderID: externalOrderID,
			ExternalLineID:  l.ExternalID,
			Name:            strings.TrimSpace(l.Name),
			UnitPrice:       linePrice(l).Round(2),
			Quantity:        lineQuantity(l),
			WarrantyPeriod:  l.WarrantyPeriod,
			WarrantyUnit:    l.WarrantyUnit,
		})
	}
	return res
}

// splitAsset turns a free-text asset name such as "Apple iPhone 12" into
// brand and model.
func splitAsset(name string) (string, string) {
	fields := strings.Fields(name)
	switch len(fields) {
	case 0:
		return "", ""
	case 1:
		return fields[0], ""
	default:
		return fields[0], strings.Join(fields[1:], " ")
	}
}

// detailFromEvent derives what the webhook metadata alone says about an order.
func detailFromEvent(ev OrderEvent) OrderDetail {
	brand, model := splitAsset(ev.AssetName)
	return OrderDetail{
		ExternalID:       ev.ExternalID,
		Name:             ev.OrderName,
		StatusID:         ev.StatusID,
		ClientExternalID: ev.ClientExternalID,
		ClientName:       ev.ClientName,
		Brand:            brand,
		Model:            model,
	}
}
