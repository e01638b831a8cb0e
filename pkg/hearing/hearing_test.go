package hearing

import (
	"context"
	"testing"
	"time"

	"github.com/lokutor-ai/turncore/pkg/cns"
	"github.com/lokutor-ai/turncore/pkg/iu"
	"github.com/lokutor-ai/turncore/pkg/providers"
	"github.com/lokutor-ai/turncore/pkg/vad"
)

type fakeBatchSTT struct {
	transcript string
}

func (f *fakeBatchSTT) Transcribe(ctx context.Context, audio []byte, lang providers.Language) (string, error) {
	return f.transcript, nil
}

func (f *fakeBatchSTT) Name() string { return "fake-batch-stt" }

// fakeAggregator stands in for vad.Aggregator: the Listener only cares that
// it can register OnEvent callbacks against this module's name.
type fakeAggregator struct{}

func (fakeAggregator) Name() string                { return "vad_aggregator" }
func (fakeAggregator) Kinds() []iu.Kind             { return []iu.Kind{vad.KindVadFrame} }
func (fakeAggregator) OutputKind() (iu.Kind, bool)  { return vad.KindVadState, true }
func (fakeAggregator) ProcessUnit(u iu.Unit) (*iu.Unit, error) { return nil, nil }

func ipuEvent(active bool) iu.Unit {
	return iu.Unit{Kind: vad.KindVadState, Payload: vad.VadStateIU{Kind: vad.IPU, Active: active}}
}

func audioFrameUnit(b []byte) iu.Unit {
	return iu.Unit{Kind: vad.KindAudioFrame, Payload: vad.AudioFrame{Bytes: b}}
}

func TestBatchListenerFlushesOnIPUOffset(t *testing.T) {
	rt := iu.NewRuntime(nil)
	agg := fakeAggregator{}
	rt.Register(agg)

	stt := &fakeBatchSTT{transcript: "hello world"}
	l, err := New(rt, nil, stt, providers.LanguageEn, agg.Name())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	rt.Register(l)

	sink := make(chan iu.Unit, 4)

	// Listener publishes asynchronously (from onIPUChange's spawned
	// goroutine), so subscribe a trivial sink module to observe it.
	sinkMod := &recordingModule{out: sink}
	rt.Register(sinkMod)
	if err := rt.Subscribe(l, sinkMod, 4, iu.BlockProducer); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	rt.Run(context.Background())
	defer rt.Stop()

	rt.FireEvent(agg.Name(), vad.EventIPUChange, ipuEvent(true))
	if _, err := l.ProcessUnit(audioFrameUnit([]byte{1, 2, 3, 4})); err != nil {
		t.Fatalf("ProcessUnit failed: %v", err)
	}
	rt.FireEvent(agg.Name(), vad.EventIPUChange, ipuEvent(false))

	select {
	case u := <-sink:
		asr := u.Payload.(cns.AsrIU)
		if asr.Text != "hello world" || !asr.Final {
			t.Errorf("expected final transcript 'hello world', got %+v", asr)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for asr unit")
	}
}

func TestListenerIgnoresFramesWhileNotListening(t *testing.T) {
	rt := iu.NewRuntime(nil)
	agg := fakeAggregator{}
	rt.Register(agg)

	stt := &fakeBatchSTT{transcript: "should not appear"}
	l, err := New(rt, nil, stt, providers.LanguageEn, agg.Name())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if _, err := l.ProcessUnit(audioFrameUnit([]byte{9, 9})); err != nil {
		t.Fatalf("ProcessUnit failed: %v", err)
	}
	if len(l.buffer) != 0 {
		t.Errorf("expected no buffering while not listening, got %d bytes", len(l.buffer))
	}
}

type recordingModule struct {
	out chan<- iu.Unit
}

func (r *recordingModule) Name() string                { return "recorder" }
func (r *recordingModule) Kinds() []iu.Kind             { return []iu.Kind{cns.KindAsr} }
func (r *recordingModule) OutputKind() (iu.Kind, bool)  { return "", false }
func (r *recordingModule) ProcessUnit(u iu.Unit) (*iu.Unit, error) {
	r.out <- u
	return nil, nil
}
