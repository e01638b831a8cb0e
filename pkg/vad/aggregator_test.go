package vad

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lokutor-ai/turncore/pkg/iu"
)

func TestAggregatorEmitsAlternatingEdges(t *testing.T) {
	rt := iu.NewRuntime(nil)
	cfg := AggregatorConfig{
		FrameMillis:    20,
		ProbThresh:     0.9,
		OnsetTime:      100 * time.Millisecond, // 5 frames at 20ms
		TurnOffsetTime: 100 * time.Millisecond,
		IPUOffsetTime:  100 * time.Millisecond,
		FastOffsetTime: 100 * time.Millisecond,
	}
	agg, err := NewAggregator(rt, cfg)
	if err != nil {
		t.Fatalf("NewAggregator: %v", err)
	}
	producer := fakeProducer{}
	rt.Register(producer)
	rt.Register(agg)
	if err := rt.Subscribe(producer, agg, 64, iu.BlockProducer); err != nil {
		t.Fatalf("Subscribe producer->agg: %v", err)
	}

	var mu sync.Mutex
	var turnEvents []VadStateIU
	if err := rt.OnEvent(agg.Name(), EventTurnChange, func(u iu.Unit) {
		mu.Lock()
		turnEvents = append(turnEvents, u.Payload.(VadStateIU))
		mu.Unlock()
	}); err != nil {
		t.Fatalf("OnEvent: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt.Run(ctx)

	creator := iu.NewCreator("test_frames")
	feed := func(speaking bool, frames int) {
		for i := 0; i < frames; i++ {
			u := creator.New(KindVadFrame, VadFrameIU{IsSpeaking: speaking}, nil)
			rt.Publish(producer, u)
		}
	}

	// 8 speech frames should cross the 5-frame onset window.
	feed(true, 8)
	// 8 silence frames should cross the 5-frame offset window.
	feed(false, 8)

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := len(turnEvents)
		mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for edges, got %d", n)
		case <-time.After(time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if !turnEvents[0].Active {
		t.Errorf("first edge should be an onset (active=true), got %+v", turnEvents[0])
	}
	for i := 1; i < len(turnEvents); i++ {
		if turnEvents[i].Active == turnEvents[i-1].Active {
			t.Errorf("edges must alternate, got consecutive Active=%v at index %d", turnEvents[i].Active, i)
		}
	}
}

// fakeProducer stands in for whatever upstream module emits VadFrameIU
// (normally the FrameClassifier), so the test can drive the Aggregator
// through the runtime rather than calling ProcessUnit directly.
type fakeProducer struct{}

func (fakeProducer) Name() string                          { return "frame_producer" }
func (fakeProducer) Kinds() []iu.Kind                       { return nil }
func (fakeProducer) OutputKind() (iu.Kind, bool)            { return KindVadFrame, true }
func (fakeProducer) ProcessUnit(iu.Unit) (*iu.Unit, error) { return nil, nil }
