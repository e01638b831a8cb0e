package iu

import (
	"context"
	"sync"
	"testing"
	"time"
)

const (
	kindPing Kind = "ping"
	kindPong Kind = "pong"
)

type pingModule struct {
	creator *Creator
}

func (m *pingModule) Name() string         { return "ping" }
func (m *pingModule) Kinds() []Kind        { return nil }
func (m *pingModule) OutputKind() (Kind, bool) { return kindPing, true }
func (m *pingModule) ProcessUnit(Unit) (*Unit, error) { return nil, nil }

type pongModule struct {
	mu       sync.Mutex
	received []Unit
}

func (m *pongModule) Name() string          { return "pong" }
func (m *pongModule) Kinds() []Kind         { return []Kind{kindPing} }
func (m *pongModule) OutputKind() (Kind, bool) { return "", false }
func (m *pongModule) ProcessUnit(u Unit) (*Unit, error) {
	m.mu.Lock()
	m.received = append(m.received, u)
	m.mu.Unlock()
	return nil, nil
}

func (m *pongModule) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.received)
}

func TestSubscribeRejectsUnknownKind(t *testing.T) {
	rt := NewRuntime(nil)
	producer := &pingModule{creator: NewCreator("ping")}
	rt.Register(producer)

	strictConsumer := &strictKindModule{accepts: kindPong}
	rt.Register(strictConsumer)

	if err := rt.Subscribe(producer, strictConsumer, 4, DropOldest); err == nil {
		t.Fatalf("expected ErrConfiguration for mismatched kind")
	}
}

type strictKindModule struct {
	accepts Kind
}

func (m *strictKindModule) Name() string          { return "strict" }
func (m *strictKindModule) Kinds() []Kind         { return []Kind{m.accepts} }
func (m *strictKindModule) OutputKind() (Kind, bool) { return "", false }
func (m *strictKindModule) ProcessUnit(Unit) (*Unit, error) { return nil, nil }

func TestPublishDeliversInOrder(t *testing.T) {
	rt := NewRuntime(nil)
	producer := &pingModule{creator: NewCreator("ping")}
	consumer := &pongModule{}
	rt.Register(producer)
	rt.Register(consumer)

	if err := rt.Subscribe(producer, consumer, 8, BlockProducer); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt.Run(ctx)

	for i := 0; i < 5; i++ {
		rt.Publish(producer, producer.creator.New(kindPing, i, nil))
	}

	deadline := time.After(time.Second)
	for consumer.count() < 5 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for delivery, got %d of 5", consumer.count())
		case <-time.After(time.Millisecond):
		}
	}

	consumer.mu.Lock()
	defer consumer.mu.Unlock()
	for i, u := range consumer.received {
		if u.Payload.(int) != i {
			t.Errorf("unit %d: expected payload %d, got %v", i, i, u.Payload)
		}
	}
}

func TestDropOldestCountsOverflow(t *testing.T) {
	rt := NewRuntime(nil)
	producer := &pingModule{creator: NewCreator("ping")}
	consumer := &blockingModule{release: make(chan struct{})}
	rt.Register(producer)
	rt.Register(consumer)

	if err := rt.Subscribe(producer, consumer, 1, DropOldest); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt.Run(ctx)

	for i := 0; i < 200; i++ {
		rt.Publish(producer, producer.creator.New(kindPing, i, nil))
	}
	time.Sleep(20 * time.Millisecond)

	if got := rt.OverflowCount("ping", "blocking"); got == 0 {
		t.Errorf("expected some overflow to be recorded, got 0")
	}
	close(consumer.release)
}

// blockingModule never drains its inbox fast enough on its own; its worker
// blocks on release so Units pile up on the bounded subscription channel
// and exercise the DropOldest path.
type blockingModule struct {
	release chan struct{}
}

func (m *blockingModule) Name() string          { return "blocking" }
func (m *blockingModule) Kinds() []Kind         { return []Kind{kindPing} }
func (m *blockingModule) OutputKind() (Kind, bool) { return "", false }
func (m *blockingModule) ProcessUnit(Unit) (*Unit, error) {
	<-m.release
	return nil, nil
}

func TestSetupPropagatesConfigurationError(t *testing.T) {
	rt := NewRuntime(nil)
	bad := &failingSetupModule{}
	rt.Register(bad)

	err := rt.Setup()
	if err == nil {
		t.Fatalf("expected Setup error")
	}
}

type failingSetupModule struct{}

func (m *failingSetupModule) Name() string          { return "bad" }
func (m *failingSetupModule) Kinds() []Kind         { return nil }
func (m *failingSetupModule) OutputKind() (Kind, bool) { return "", false }
func (m *failingSetupModule) ProcessUnit(Unit) (*Unit, error) { return nil, nil }
func (m *failingSetupModule) Setup() error            { return ErrConfiguration }
func (m *failingSetupModule) Stop() error             { return nil }
