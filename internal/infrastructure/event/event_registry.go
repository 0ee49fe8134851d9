package event

import (
	"github.com/projectlink/backend/internal/domain/integration"
)

// RegisterSyncEvents registers all sync domain event types with the serializer.
// This is required for the OutboxProcessor to deserialize events from the outbox table.
func RegisterSyncEvents(serializer *EventSerializer) {
	serializer.Register(integration.EventTypeRecordLinked, &integration.RecordLinkedEvent{})
	serializer.Register(integration.EventTypeRecordUnlinked, &integration.RecordUnlinkedEvent{})
	serializer.Register(integration.EventTypeRecordMerged, &integration.RecordMergedEvent{})
	serializer.Register(integration.EventTypeRunCompleted, &integration.RunCompletedEvent{})
	serializer.Register(integration.EventTypeRunFailed, &integration.RunFailedEvent{})
}
