// Package vad turns raw audio frames into smoothed turn-taking activity
// edges: a stateless per-frame classifier followed by an aggregator that
// applies onset/offset hysteresis over three independent time horizons.
package vad

import "github.com/lokutor-ai/turncore/pkg/iu"

// Unit kinds produced and consumed by this package.
const (
	KindAudioFrame iu.Kind = "audio_frame"
	KindVadFrame   iu.Kind = "vad_frame"
	KindVadState   iu.Kind = "vad_state"
)

// DetectorKind names one of the three independent hysteresis detectors the
// Aggregator runs over the same frame stream.
type DetectorKind string

const (
	// Turn catches turn-level silences: the long window used to decide the
	// user has yielded the floor.
	Turn DetectorKind = "turn"
	// IPU (inter-pausal unit) catches short mid-utterance pauses, coarser
	// than Fast but finer than Turn.
	IPU DetectorKind = "ipu"
	// Fast catches brief pauses; recorded for observability only, no
	// shipped policy variant reads it.
	Fast DetectorKind = "fast"
)

// AudioFrame is one acoustic chunk: 16-bit PCM, 10/20/30 ms at a fixed
// sample rate.
type AudioFrame struct {
	Bytes      []byte
	SampleRate int
	SampleWidth int
	NumFrames  int
}

// VadFrameIU is the per-frame speech/non-speech decision produced by the
// FrameClassifier.
type VadFrameIU struct {
	IsSpeaking bool
}

// VadStateIU is a smoothed activity edge produced by the Aggregator when a
// detector's ring-buffer mean crosses its probability threshold.
type VadStateIU struct {
	Kind        DetectorKind
	Active      bool
	Probability float64
}
