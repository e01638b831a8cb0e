// Package speech adapts a kept text-to-speech provider into the engine's
// incremental-unit graph: it dispatches cns.TextRequestIU by synthesizing
// audio, reports word-aligned playback progress as cns.DispatchProgressIU,
// and supports mid-utterance abort when the policy loop calls StopSpeech.
package speech

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/lokutor-ai/turncore/pkg/cns"
	"github.com/lokutor-ai/turncore/pkg/iu"
	"github.com/lokutor-ai/turncore/pkg/providers"
)

// AudioSink receives synthesized PCM for playback, e.g. a malgo output
// device's ring buffer. It must not block.
type AudioSink func(chunk []byte)

// Dispatcher is the speech module: one cns.TextRequestIU in, a sequence of
// cns.DispatchProgressIU out as the planned utterance is played back.
type Dispatcher struct {
	creator *iu.Creator
	rt      *iu.Runtime
	log     providers.Logger
	tts     providers.TTSProvider
	voice   providers.Voice
	lang    providers.Language

	sampleRate     int
	bytesPerSample int

	echo *EchoSuppressor
	sink AudioSink

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New builds a Dispatcher. sink is called with every chunk of synthesized
// audio as it is "played"; pass nil to discard audio (useful in tests).
func New(rt *iu.Runtime, log providers.Logger, tts providers.TTSProvider, voice providers.Voice, lang providers.Language, sampleRate, bytesPerSample int, sink AudioSink) *Dispatcher {
	if log == nil {
		log = &providers.NoOpLogger{}
	}
	return &Dispatcher{
		creator:        iu.NewCreator("speech"),
		rt:             rt,
		log:            log,
		tts:            tts,
		voice:          voice,
		lang:           lang,
		sampleRate:     sampleRate,
		bytesPerSample: bytesPerSample,
		echo:           NewEchoSuppressor(),
		sink:           sink,
	}
}

// EchoSuppressor exposes the played-audio correlation detector so a hearing
// module (or the main audio callback) can filter microphone input that is
// actually speaker bleed.
func (d *Dispatcher) EchoSuppressor() *EchoSuppressor { return d.echo }

func (d *Dispatcher) Name() string { return "speech" }

func (d *Dispatcher) Kinds() []iu.Kind { return []iu.Kind{cns.KindTextRequest} }

func (d *Dispatcher) OutputKind() (iu.Kind, bool) { return cns.KindDispatchProgress, true }

// ProcessUnit starts synthesis on Dispatch=true, or cancels the in-flight
// dispatch on Dispatch=false (the abort path used by StopSpeech).
func (d *Dispatcher) ProcessUnit(u iu.Unit) (*iu.Unit, error) {
	req, ok := u.Payload.(cns.TextRequestIU)
	if !ok {
		return nil, nil
	}

	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.mu.Unlock()

	if !req.Dispatch {
		if aborter, ok := d.tts.(providers.Aborter); ok {
			if err := aborter.Abort(); err != nil {
				d.log.Warn("speech: abort failed", "err", err)
			}
		}
		d.echo.ClearBuffer()
		return nil, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	go d.dispatch(ctx, req.Payload)
	return nil, nil
}

// dispatch synthesizes the full utterance, then replays it in fixed-size
// chunks paced to its own audio duration so DispatchProgressIU reflects real
// playback time rather than synthesis time.
func (d *Dispatcher) dispatch(ctx context.Context, text string) {
	audio, err := d.tts.Synthesize(ctx, text, d.voice, d.lang)
	if err != nil {
		d.log.Error("speech: synthesize failed", "err", err)
		d.emitProgress(1, "")
		return
	}
	if len(audio) == 0 {
		d.emitProgress(1, "")
		return
	}

	words := strings.Fields(text)
	frameBytes := d.sampleRate * d.bytesPerSample * 20 / 1000 // 20ms frames
	if frameBytes <= 0 {
		frameBytes = 1024
	}
	frameDuration := time.Second * time.Duration(frameBytes) / time.Duration(d.sampleRate*d.bytesPerSample)

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	played := 0
	d.echo.RecordPlayedAudio(audio)
	for played < len(audio) {
		select {
		case <-ctx.Done():
			d.emitProgress(float64(played)/float64(len(audio)), wordsUpTo(words, played, len(audio)))
			return
		case <-ticker.C:
		}
		end := played + frameBytes
		if end > len(audio) {
			end = len(audio)
		}
		if d.sink != nil {
			d.sink(audio[played:end])
		}
		played = end
		fraction := float64(played) / float64(len(audio))
		d.emitProgress(fraction, wordsUpTo(words, played, len(audio)))
	}
}

func wordsUpTo(words []string, played, total int) string {
	if total == 0 || len(words) == 0 {
		return ""
	}
	n := len(words) * played / total
	if n > len(words) {
		n = len(words)
	}
	return strings.Join(words[:n], " ")
}

func (d *Dispatcher) emitProgress(completion float64, completionWords string) {
	u := d.creator.New(cns.KindDispatchProgress, cns.DispatchProgressIU{
		Completion:      completion,
		IsDispatching:   completion < 1,
		CompletionWords: completionWords,
	}, nil)
	d.rt.Publish(d, u)
}
