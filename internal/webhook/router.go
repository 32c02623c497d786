package webhook

import (
	"context"

	"repairsync/internal/engine"
)

type OrderHandler interface {
	HandleOrderEvent(ctx context.Context, ev engine.OrderEvent) (engine.Result, error)
}

type ClientHandler interface {
	HandleClientEvent(ctx context.Context, ev engine.ClientEvent) (engine.Result, error)
}

// Router sends each event to exactly one synchronizer.
type Router struct {
	Orders  OrderHandler
	Clients ClientHandler
}

func NewRouter(e engine.Engine) Router {
	return Router{Orders: e.Orders, Clients: e.Clients}
}

// Dispatch runs the handler for ev. Events outside the Order and Client
// families are acknowledged without processing.
func (r Router) Dispatch(ctx context.Context, ev Event) (engine.Result, error) {
	switch {
	case ev.Order != nil && r.Orders != nil:
		return r.Orders.HandleOrderEvent(ctx, *ev.Order)
	case ev.Client != nil && r.Clients != nil:
		return r.Clients.HandleClientEvent(ctx, *ev.Client)
	default:
		return engine.NotProcessed(ev.Name), nil
	}
}
