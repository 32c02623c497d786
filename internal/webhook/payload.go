package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"repairsync/internal/engine"
)

// Envelope is the RemOnline webhook body.
type Envelope struct {
	ID        string    `json:"id"`
	CreatedAt string    `json:"created_at"`
	EventName string    `json:"event_name"`
	Context   *Context  `json:"context"`
	Metadata  *Metadata `json:"metadata,omitempty"`
	Employee  *Employee `json:"employee"`
}

type Context struct {
	ObjectID   int64  `json:"object_id"`
	ObjectType string `json:"object_type"`
}

type Metadata struct {
	Order  *OrderRef  `json:"order,omitempty"`
	Client *ClientRef `json:"client,omitempty"`
	Status *StatusRef `json:"status,omitempty"`
	Asset  *AssetRef  `json:"asset,omitempty"`
}

type OrderRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Type *int64 `json:"type,omitempty"`
}

type ClientRef struct {
	ID       int64  `json:"id"`
	FullName string `json:"fullname"`
}

type StatusRef struct {
	ID int64 `json:"id"`
}

type AssetRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Employee struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

// ErrFieldType marks a well-formed body with a field of the wrong JSON
// type. The envelope returned alongside it is decoded as far as possible.
var ErrFieldType = errors.New("invalid payload")

// Parse decodes a webhook body. Syntax errors and ErrFieldType are
// reported here; required fields are checked by Validate.
func Parse(body []byte) (Envelope, error) {
	var env Envelope
	if len(bytes.TrimSpace(body)) == 0 {
		return env, errors.New("empty body")
	}
	err := json.Unmarshal(body, &env)
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &typeErr):
		err = fmt.Errorf("%w: %s must be %s, got %s", ErrFieldType, typeErr.Field, typeErr.Type, typeErr.Value)
	case err != nil:
		return env, err
	}
	env.EventName = strings.TrimSpace(env.EventName)
	return env, err
}

// EventType is the audit label for the envelope.
func (e Envelope) EventType() string {
	if e.EventName == "" {
		return "unknown"
	}
	return e.EventName
}

// Validate checks the fields every event must carry. event_name is
// checked separately by the handler.
func (e Envelope) Validate() error {
	var problems []string
	if strings.TrimSpace(e.ID) == "" {
		problems = append(problems, "id is required")
	}
	if strings.TrimSpace(e.CreatedAt) == "" {
		problems = append(problems, "created_at is required")
	}
	if e.Context == nil {
		problems = append(problems, "context is required")
	} else {
		if e.Context.ObjectID <= 0 {
			problems = append(problems, "context.object_id must be positive")
		}
		if strings.TrimSpace(e.Context.ObjectType) == "" {
			problems = append(problems, "context.object_type is required")
		}
	}
	if e.Employee == nil {
		problems = append(problems, "employee is required")
	} else if e.Employee.ID <= 0 {
		problems = append(problems, "employee.id must be positive")
	}
	if e.Group() == groupOrder && e.EventName == engine.OrderStatusChanged {
		if e.Metadata == nil || e.Metadata.Status == nil {
			problems = append(problems, "metadata.status is required for "+engine.OrderStatusChanged)
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid payload: %s", strings.Join(problems, "; "))
	}
	return nil
}

const (
	groupOrder   = "order"
	groupClient  = "client"
	groupUnknown = "other"
)

// Group is the event family derived from the event_name prefix.
func (e Envelope) Group() string {
	switch {
	case strings.HasPrefix(e.EventName, "Order."):
		return groupOrder
	case strings.HasPrefix(e.EventName, "Client."):
		return groupClient
	default:
		return groupUnknown
	}
}

// Event is the validated, typed form of an envelope. Exactly one of
// Order and Client is set for routed events; both are nil otherwise.
type Event struct {
	Name   string
	Order  *engine.OrderEvent
	Client *engine.ClientEvent
}

// Classify turns a validated envelope into its typed event.
func Classify(e Envelope, locale string) Event {
	ev := Event{Name: e.EventName}
	occurred := parseTime(e.CreatedAt)
	switch e.Group() {
	case groupOrder:
		o := &engine.OrderEvent{
			EventID:    e.ID,
			Name:       e.EventName,
			OccurredAt: occurred,
			ExternalID: e.Context.ObjectID,
			Locale:     locale,
		}
		if m := e.Metadata; m != nil {
			if m.Order != nil {
				if m.Order.ID > 0 {
					o.ExternalID = m.Order.ID
				}
				o.OrderName = m.Order.Name
			}
			if m.Status != nil {
				id := m.Status.ID
				o.StatusID = &id
			}
			if m.Client != nil && m.Client.ID > 0 {
				id := m.Client.ID
				o.ClientExternalID = &id
				o.ClientName = m.Client.FullName
			}
			if m.Asset != nil {
				o.AssetName = m.Asset.Name
			}
		}
		ev.Order = o
	case groupClient:
		c := &engine.ClientEvent{
			EventID:    e.ID,
			Name:       e.EventName,
			OccurredAt: occurred,
			ExternalID: e.Context.ObjectID,
		}
		if m := e.Metadata; m != nil && m.Client != nil {
			if m.Client.ID > 0 {
				c.ExternalID = m.Client.ID
			}
			c.FullName = m.Client.FullName
		}
		ev.Client = c
	}
	return ev
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"}

func parseTime(v string) time.Time {
	v = strings.TrimSpace(v)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
