package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"repairsync/internal/domain"
	"repairsync/internal/repo"
)

// ClientSynchronizer mirrors Client.* events into the clients table.
type ClientSynchronizer struct {
	Repo   repo.Repo
	Logger *zap.Logger
	Now    func() time.Time
}

func (s *ClientSynchronizer) logger() *zap.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return zap.NewNop()
}

func (s *ClientSynchronizer) HandleClientEvent(ctx context.Context, ev ClientEvent) (Result, error) {
	switch ev.Name {
	case ClientCreated, ClientUpdated:
		c := domain.Client{
			ExternalID: ev.ExternalID,
			FullName:   strings.TrimSpace(ev.FullName),
			UpdatedAt:  nowString(s.Now),
		}
		if _, err := s.Repo.UpsertClient(ctx, c); err != nil {
			return Result{}, fmt.Errorf("failed to save client: %w", err)
		}
		s.logger().Info("client_saved", zap.String("event", ev.Name), zap.Int64("external_id", ev.ExternalID))
		return Result{Processed: true, Message: fmt.Sprintf("Client %d saved", ev.ExternalID)}, nil
	case ClientDeleted:
		existed, err := s.Repo.DeleteClient(ctx, ev.ExternalID)
		if err != nil {
			return Result{}, fmt.Errorf("failed to delete client: %w", err)
		}
		if !existed {
			return Result{Processed: true, Message: fmt.Sprintf("Client %d not found, nothing to delete", ev.ExternalID)}, nil
		}
		s.logger().Info("client_deleted", zap.Int64("external_id", ev.ExternalID))
		return Result{Processed: true, Message: fmt.Sprintf("Client %d deleted", ev.ExternalID)}, nil
	default:
		return NotProcessed(ev.Name), nil
	}
}
