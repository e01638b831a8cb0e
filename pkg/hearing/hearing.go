// Package hearing adapts a kept speech-to-text provider into the engine's
// incremental-unit graph: it accumulates microphone audio while the VAD
// aggregator's IPU detector is active and emits cns.AsrIU deltas, batched for
// a plain STTProvider or streamed live for a StreamingSTTProvider.
package hearing

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/lokutor-ai/turncore/pkg/cns"
	"github.com/lokutor-ai/turncore/pkg/iu"
	"github.com/lokutor-ai/turncore/pkg/providers"
	"github.com/lokutor-ai/turncore/pkg/vad"
)

// Listener is the hearing module. It never blocks ProcessUnit on a network
// call: batched transcription and streaming both run on their own
// goroutines, publishing results back onto the runtime asynchronously.
type Listener struct {
	creator *iu.Creator
	rt      *iu.Runtime
	log     providers.Logger
	stt     providers.STTProvider
	lang    providers.Language

	mu        sync.Mutex
	listening bool
	buffer    []byte
	lastText  string
	streamIn  chan<- []byte
	cancel    context.CancelFunc
}

// New builds a Listener around stt. rt must have this Listener Registered,
// and the VAD aggregator's name/EventIPUChange must match aggregatorName so
// the Listener can subscribe to onset/offset edges.
func New(rt *iu.Runtime, log providers.Logger, stt providers.STTProvider, lang providers.Language, aggregatorName string) (*Listener, error) {
	if log == nil {
		log = &providers.NoOpLogger{}
	}
	l := &Listener{
		creator: iu.NewCreator("hearing"),
		rt:      rt,
		log:     log,
		stt:     stt,
		lang:    lang,
	}
	if err := rt.OnEvent(aggregatorName, vad.EventIPUChange, l.onIPUChange); err != nil {
		return nil, fmt.Errorf("hearing: %w", err)
	}
	return l, nil
}

func (l *Listener) Name() string { return "hearing" }

func (l *Listener) Kinds() []iu.Kind { return []iu.Kind{vad.KindAudioFrame} }

func (l *Listener) OutputKind() (iu.Kind, bool) { return cns.KindAsr, true }

// ProcessUnit accumulates raw audio while listening. A streaming provider's
// channel receives the same bytes directly; a batch provider's bytes are
// held until the IPU detector drops.
func (l *Listener) ProcessUnit(u iu.Unit) (*iu.Unit, error) {
	frame, ok := u.Payload.(vad.AudioFrame)
	if !ok {
		return nil, fmt.Errorf("hearing: unexpected payload type %T", u.Payload)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.listening {
		return nil, nil
	}
	if l.streamIn != nil {
		select {
		case l.streamIn <- frame.Bytes:
		default:
		}
		return nil, nil
	}
	l.buffer = append(l.buffer, frame.Bytes...)
	return nil, nil
}

// onIPUChange starts listening on an IPU onset and flushes on offset. It
// runs synchronously on the VAD aggregator's worker per the runtime's named
// event contract, so it must not block; the batch transcription it triggers
// is handed off to a goroutine, while a streaming provider's StreamTranscribe
// is called inline on this worker.
func (l *Listener) onIPUChange(u iu.Unit) {
	state, ok := u.Payload.(vad.VadStateIU)
	if !ok {
		return
	}

	if state.Active {
		l.startListening()
		return
	}
	l.stopListening()
}

func (l *Listener) startListening() {
	l.mu.Lock()
	l.listening = true
	l.buffer = l.buffer[:0]
	l.lastText = ""
	l.mu.Unlock()

	streaming, ok := l.stt.(providers.StreamingSTTProvider)
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	in, err := streaming.StreamTranscribe(ctx, l.lang, func(transcript string, isFinal bool) error {
		l.emitDelta(transcript, isFinal)
		return nil
	})
	if err != nil {
		l.log.Error("hearing: stream transcribe failed", "err", err)
		cancel()
		return
	}

	l.mu.Lock()
	l.streamIn = in
	l.cancel = cancel
	l.mu.Unlock()
}

func (l *Listener) stopListening() {
	l.mu.Lock()
	l.listening = false
	streamIn := l.streamIn
	cancel := l.cancel
	buffer := append([]byte(nil), l.buffer...)
	l.streamIn = nil
	l.cancel = nil
	l.mu.Unlock()

	if streamIn != nil {
		close(streamIn)
		if cancel != nil {
			cancel()
		}
		return
	}
	if len(buffer) == 0 {
		return
	}

	go func() {
		text, err := l.stt.Transcribe(context.Background(), buffer, l.lang)
		if err != nil {
			l.log.Error("hearing: transcribe failed", "err", err)
			return
		}
		l.emitDelta(text, true)
	}()
}

// emitDelta computes the incremental suffix relative to the last hypothesis
// seen for this utterance and publishes it as an AsrIU, matching the
// append-only update cns.CNS expects.
func (l *Listener) emitDelta(transcript string, final bool) {
	l.mu.Lock()
	delta := transcript
	if strings.HasPrefix(transcript, l.lastText) {
		delta = transcript[len(l.lastText):]
	}
	l.lastText = transcript
	l.mu.Unlock()

	if delta == "" && !final {
		return
	}
	unit := l.creator.New(cns.KindAsr, cns.AsrIU{Text: delta, Final: final}, nil)
	l.rt.Publish(l, unit)
}
