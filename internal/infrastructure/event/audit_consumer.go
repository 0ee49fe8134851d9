package event

import (
	"context"

	"go.uber.org/zap"

	"github.com/projectlink/backend/internal/domain/shared"
)

// AuditConsumer logs every sync event it receives. It subscribes as a
// wildcard handler and is typically wrapped with an IdempotentHandler so
// redelivered events produce a single audit line.
type AuditConsumer struct {
	logger *zap.Logger
}

// NewAuditConsumer creates a new audit consumer
func NewAuditConsumer(logger *zap.Logger) *AuditConsumer {
	return &AuditConsumer{
		logger: logger.Named("audit"),
	}
}

// EventTypes returns an empty slice so the consumer receives all events
func (c *AuditConsumer) EventTypes() []string {
	return nil
}

// Handle writes one structured audit line for the event
func (c *AuditConsumer) Handle(ctx context.Context, event shared.DomainEvent) error {
	c.logger.Info("sync event",
		zap.String("event_id", event.EventID().String()),
		zap.String("event_type", event.EventType()),
		zap.String("aggregate_type", event.AggregateType()),
		zap.String("aggregate_id", event.AggregateID().String()),
		zap.String("org_id", event.OrgID().String()),
		zap.Time("occurred_at", event.OccurredAt()),
	)
	return nil
}

// Ensure AuditConsumer implements EventHandler
var _ shared.EventHandler = (*AuditConsumer)(nil)
