package routing_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/illmade-knight/go-agentflow/pkg/agentmessage"
	"github.com/illmade-knight/go-agentflow/pkg/routing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRoutingService(
	t *testing.T,
	policy routing.FilterPolicy,
	enricher routing.Enricher,
	emitter *MockEmitter,
) (*routing.RoutingService, *MockEventConsumer) {
	t.Helper()
	consumer := NewMockEventConsumer(10)
	t.Cleanup(consumer.Close)

	service, err := routing.NewRoutingService(
		routing.RoutingServiceConfig{}, consumer, policy, enricher, emitter, zerolog.Nop(),
	)
	require.NoError(t, err)
	return service, consumer
}

func TestNewRoutingService_Validation(t *testing.T) {
	_, err := routing.NewRoutingService(routing.RoutingServiceConfig{}, nil, routing.FilterPolicy{}, nil, NewMockEmitter(), zerolog.Nop())
	require.Error(t, err)

	_, err = routing.NewRoutingService(routing.RoutingServiceConfig{}, NewMockEventConsumer(1), routing.FilterPolicy{}, nil, nil, zerolog.Nop())
	require.Error(t, err)
}

func TestRoutingService_AdmittedMessageIsEmitted(t *testing.T) {
	// Arrange
	emitter := NewMockEmitter()
	policy := routing.FilterPolicy{
		EventTypes:      []agentmessage.EventType{agentmessage.EventUserMessage},
		ContentContains: "hello",
	}
	service, consumer := newTestRoutingService(t, policy, nil, emitter)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, service.Start(ctx))

	// Act
	consumer.Push(routing.RawEvent{
		Payload:   []byte(`{"type":"user_message","conversation_id":"c1","content":"hello world"}`),
		Topic:     "agent_chat:agent_1",
		Transport: agentmessage.TransportChannel,
	})

	// Assert
	require.Eventually(t, func() bool {
		return emitter.Count() == 1
	}, time.Second, 10*time.Millisecond, "admitted message was not emitted")

	emitted := emitter.Emitted()[0]
	assert.Equal(t, "hello world", emitted.Content)
	assert.Equal(t, "c1", emitted.ConversationID)
}

func TestRoutingService_FilteredMessageIsDropped(t *testing.T) {
	// Arrange
	emitter := NewMockEmitter()
	policy := routing.FilterPolicy{EventTypes: []agentmessage.EventType{agentmessage.EventAgentResponse}}
	service, consumer := newTestRoutingService(t, policy, nil, emitter)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, service.Start(ctx))

	// Act
	consumer.Push(routing.RawEvent{
		Payload:   []byte(`{"type":"user_message","content":"hello"}`),
		Transport: agentmessage.TransportChannel,
	})
	consumer.Push(routing.RawEvent{
		Payload:   []byte(`{"type":"agent_response","content":"admitted"}`),
		Transport: agentmessage.TransportChannel,
	})

	// Assert: only the second message makes it through.
	require.Eventually(t, func() bool {
		return emitter.Count() == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "admitted", emitter.Emitted()[0].Content)
}

func TestRoutingService_OrderPreserved(t *testing.T) {
	// Arrange: default single worker must preserve arrival order.
	emitter := NewMockEmitter()
	service, consumer := newTestRoutingService(t, routing.FilterPolicy{}, nil, emitter)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, service.Start(ctx))

	// Act
	for _, content := range []string{"one", "two", "three"} {
		consumer.Push(routing.RawEvent{
			Payload:   []byte(`{"content":"` + content + `"}`),
			Transport: agentmessage.TransportChannel,
		})
	}

	// Assert
	require.Eventually(t, func() bool {
		return emitter.Count() == 3
	}, time.Second, 10*time.Millisecond)

	emitted := emitter.Emitted()
	assert.Equal(t, "one", emitted[0].Content)
	assert.Equal(t, "two", emitted[1].Content)
	assert.Equal(t, "three", emitted[2].Content)
}

func TestRoutingService_EnricherFailureDoesNotBlockDelivery(t *testing.T) {
	// Arrange
	emitter := NewMockEmitter()
	enricher := func(_ context.Context, _ *agentmessage.CanonicalMessage) (*agentmessage.Attachment, error) {
		return nil, errors.New("fetch failed")
	}
	service, consumer := newTestRoutingService(t, routing.FilterPolicy{}, enricher, emitter)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, service.Start(ctx))

	// Act
	consumer.Push(routing.RawEvent{
		Payload:   []byte(`{"type":"file_attachment","content":"see file","file_url":"https://x/f.png"}`),
		Transport: agentmessage.TransportChannel,
	})

	// Assert: message delivered without the attachment payload.
	require.Eventually(t, func() bool {
		return emitter.Count() == 1
	}, time.Second, 10*time.Millisecond)
	assert.Nil(t, emitter.Attachments()[0])
	assert.Equal(t, "see file", emitter.Emitted()[0].Content)
}

func TestRoutingService_EmitterFailureDoesNotAbortStream(t *testing.T) {
	// Arrange
	emitter := NewMockEmitter()
	emitter.FailNext(errors.New("emission failed"))
	service, consumer := newTestRoutingService(t, routing.FilterPolicy{}, nil, emitter)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, service.Start(ctx))

	// Act: the first emission fails; the second message must still be handled.
	consumer.Push(routing.RawEvent{Payload: []byte(`{"content":"first"}`), Transport: agentmessage.TransportChannel})
	consumer.Push(routing.RawEvent{Payload: []byte(`{"content":"second"}`), Transport: agentmessage.TransportChannel})

	// Assert
	require.Eventually(t, func() bool {
		return emitter.Count() == 2
	}, time.Second, 10*time.Millisecond, "emitter failure aborted subsequent messages")
}

func TestRoutingService_StopDrainsWorkers(t *testing.T) {
	emitter := NewMockEmitter()
	service, consumer := newTestRoutingService(t, routing.FilterPolicy{}, nil, emitter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, service.Start(ctx))

	consumer.Push(routing.RawEvent{Payload: []byte(`{"content":"x"}`), Transport: agentmessage.TransportChannel})
	require.Eventually(t, func() bool { return emitter.Count() == 1 }, time.Second, 10*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	require.NoError(t, service.Stop(stopCtx))
	assert.Equal(t, 1, consumer.GetStopCount())
}

// --- Mocks ---

// MockEventConsumer is a mock implementation of the EventConsumer interface.
type MockEventConsumer struct {
	eventChan  chan routing.RawEvent
	startCount int
	stopCount  int
	mu         sync.Mutex
	closeOnce  sync.Once
}

func NewMockEventConsumer(bufferSize int) *MockEventConsumer {
	return &MockEventConsumer{eventChan: make(chan routing.RawEvent, bufferSize)}
}

func (m *MockEventConsumer) Push(event routing.RawEvent) {
	m.eventChan <- event
}

func (m *MockEventConsumer) Close() {
	m.closeOnce.Do(func() { close(m.eventChan) })
}

func (m *MockEventConsumer) Events() <-chan routing.RawEvent { return m.eventChan }

func (m *MockEventConsumer) Start(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startCount++
	return nil
}

func (m *MockEventConsumer) Stop(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopCount++
	m.Close()
	return nil
}

func (m *MockEventConsumer) Done() <-chan struct{} {
	done := make(chan struct{})
	close(done)
	return done
}

func (m *MockEventConsumer) GetStopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopCount
}

// MockEmitter records emitted messages and their attachments.
type MockEmitter struct {
	mu          sync.Mutex
	emitted     []agentmessage.CanonicalMessage
	attachments []*agentmessage.Attachment
	nextErr     error
}

func NewMockEmitter() *MockEmitter { return &MockEmitter{} }

func (m *MockEmitter) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextErr = err
}

func (m *MockEmitter) Emit(_ context.Context, msg agentmessage.CanonicalMessage, att *agentmessage.Attachment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emitted = append(m.emitted, msg)
	m.attachments = append(m.attachments, att)
	if m.nextErr != nil {
		err := m.nextErr
		m.nextErr = nil
		return err
	}
	return nil
}

func (m *MockEmitter) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.emitted)
}

func (m *MockEmitter) Emitted() []agentmessage.CanonicalMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]agentmessage.CanonicalMessage, len(m.emitted))
	copy(out, m.emitted)
	return out
}

func (m *MockEmitter) Attachments() []*agentmessage.Attachment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*agentmessage.Attachment, len(m.attachments))
	copy(out, m.attachments)
	return out
}
