package event

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/projectlink/backend/internal/domain/shared"
)

// busEvent is a minimal DomainEvent for bus tests.
type busEvent struct {
	shared.BaseDomainEvent
	NaturalKey string `json:"natural_key"`
}

func newBusEvent(eventType string) *busEvent {
	return &busEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(eventType, "InternalRecord", uuid.New(), uuid.New()),
		NaturalKey:      "alice@example.com",
	}
}

// recordingHandler captures delivered events and can be told to fail.
type recordingHandler struct {
	eventTypes []string
	mu         sync.Mutex
	handled    []shared.DomainEvent
	err        error
}

func newRecordingHandler(eventTypes ...string) *recordingHandler {
	return &recordingHandler{eventTypes: eventTypes}
}

func (h *recordingHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handled = append(h.handled, event)
	return h.err
}

func (h *recordingHandler) EventTypes() []string {
	return h.eventTypes
}

func (h *recordingHandler) failWith(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.err = err
}

func (h *recordingHandler) delivered() []shared.DomainEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]shared.DomainEvent(nil), h.handled...)
}

func TestInMemoryEventBusPublish(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())

	handler := newRecordingHandler("sync.record.linked")
	bus.Subscribe(handler, "sync.record.linked")

	event := newBusEvent("sync.record.linked")
	require.NoError(t, bus.Publish(context.Background(), event))

	require.Len(t, handler.delivered(), 1)
	assert.Equal(t, event, handler.delivered()[0])
}

func TestInMemoryEventBusPublishBatch(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())

	handler := newRecordingHandler("sync.record.linked")
	bus.Subscribe(handler, "sync.record.linked")

	err := bus.Publish(context.Background(),
		newBusEvent("sync.record.linked"),
		newBusEvent("sync.record.linked"),
	)

	require.NoError(t, err)
	assert.Len(t, handler.delivered(), 2)
}

func TestInMemoryEventBusFansOutToAllHandlers(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())

	audit := newRecordingHandler("sync.record.linked")
	cache := newRecordingHandler("sync.record.linked")
	bus.Subscribe(audit, "sync.record.linked")
	bus.Subscribe(cache, "sync.record.linked")

	require.NoError(t, bus.Publish(context.Background(), newBusEvent("sync.record.linked")))

	assert.Len(t, audit.delivered(), 1)
	assert.Len(t, cache.delivered(), 1)
}

func TestInMemoryEventBusWildcardSubscription(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())

	wildcard := newRecordingHandler()
	bus.Subscribe(wildcard)

	require.NoError(t, bus.Publish(context.Background(), newBusEvent("sync.run.completed")))
	require.NoError(t, bus.Publish(context.Background(), newBusEvent("sync.run.failed")))

	assert.Len(t, wildcard.delivered(), 2)
}

func TestInMemoryEventBusFailingHandlerDoesNotStarveOthers(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())

	failing := newRecordingHandler("sync.record.linked")
	failing.failWith(errors.New("cache write rejected"))
	healthy := newRecordingHandler("sync.record.linked")
	bus.Subscribe(failing, "sync.record.linked")
	bus.Subscribe(healthy, "sync.record.linked")

	err := bus.Publish(context.Background(), newBusEvent("sync.record.linked"))

	require.NoError(t, err)
	assert.Len(t, failing.delivered(), 1)
	assert.Len(t, healthy.delivered(), 1)
}

func TestInMemoryEventBusPanickingHandlerIsContained(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())

	bus.Subscribe(panicHandler{}, "sync.record.linked")
	healthy := newRecordingHandler("sync.record.linked")
	bus.Subscribe(healthy, "sync.record.linked")

	require.NoError(t, bus.Publish(context.Background(), newBusEvent("sync.record.linked")))
	assert.Len(t, healthy.delivered(), 1)
}

type panicHandler struct{}

func (panicHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	panic("handler bug")
}

func (panicHandler) EventTypes() []string {
	return []string{"sync.record.linked"}
}

func TestInMemoryEventBusNoMatchingHandlers(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())

	handler := newRecordingHandler("sync.run.completed")
	bus.Subscribe(handler, "sync.run.completed")

	require.NoError(t, bus.Publish(context.Background(), newBusEvent("sync.record.linked")))
	assert.Empty(t, handler.delivered())
}

func TestInMemoryEventBusUnsubscribe(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())

	handler := newRecordingHandler("sync.record.linked")
	bus.Subscribe(handler, "sync.record.linked")

	_ = bus.Publish(context.Background(), newBusEvent("sync.record.linked"))
	assert.Len(t, handler.delivered(), 1)

	bus.Unsubscribe(handler)

	_ = bus.Publish(context.Background(), newBusEvent("sync.record.linked"))
	assert.Len(t, handler.delivered(), 1)
}

func TestInMemoryEventBusStartStop(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())

	require.NoError(t, bus.Start(context.Background()))

	handler := newRecordingHandler("sync.record.linked")
	bus.Subscribe(handler, "sync.record.linked")
	require.NoError(t, bus.Publish(context.Background(), newBusEvent("sync.record.linked")))
	assert.Len(t, handler.delivered(), 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, bus.Stop(ctx))
}
