package vad

import (
	"fmt"
	"math"

	"github.com/lokutor-ai/turncore/pkg/iu"
)

// validFrameMillis are the only frame durations the classifier accepts,
// matching the granularities real audio devices deliver callbacks at.
var validFrameMillis = map[int]bool{10: true, 20: true, 30: true}

// aggressivenessThresholds maps the 0..3 aggressiveness knob onto an RMS
// threshold, grounded on the teacher's RMSVAD default of 0.02 at its
// lowest, most permissive setting.
var aggressivenessThresholds = [4]float64{0.02, 0.03, 0.045, 0.06}

// FrameClassifier is a stateless per-frame energy classifier: it consumes
// AudioFrame and produces VadFrameIU with no buffering or history, so it is
// safe to run at any rate the audio device delivers.
type FrameClassifier struct {
	creator        *iu.Creator
	frameMillis    int
	aggressiveness int
	threshold      float64
}

// NewFrameClassifier validates frameMillis against {10,20,30} and clamps
// aggressiveness into [0,3]. An invalid frameMillis is a configuration
// error, fatal at setup per the frame-duration contract.
func NewFrameClassifier(frameMillis, aggressiveness int) (*FrameClassifier, error) {
	if !validFrameMillis[frameMillis] {
		return nil, fmt.Errorf("%w: frame duration %dms must be 10, 20, or 30", iu.ErrConfiguration, frameMillis)
	}
	if aggressiveness < 0 {
		aggressiveness = 0
	}
	if aggressiveness > 3 {
		aggressiveness = 3
	}
	return &FrameClassifier{
		creator:        iu.NewCreator("vad_frame_classifier"),
		frameMillis:    frameMillis,
		aggressiveness: aggressiveness,
		threshold:      aggressivenessThresholds[aggressiveness],
	}, nil
}

func (c *FrameClassifier) Name() string { return "vad_frame_classifier" }

func (c *FrameClassifier) Kinds() []iu.Kind { return []iu.Kind{KindAudioFrame} }

func (c *FrameClassifier) OutputKind() (iu.Kind, bool) { return KindVadFrame, true }

// ProcessUnit classifies one AudioFrame by RMS energy against the
// aggressiveness-scaled threshold. No state carries across calls.
func (c *FrameClassifier) ProcessUnit(u iu.Unit) (*iu.Unit, error) {
	frame, ok := u.Payload.(AudioFrame)
	if !ok {
		return nil, fmt.Errorf("vad: unexpected payload type %T", u.Payload)
	}
	isSpeaking := rms(frame.Bytes) > c.threshold
	out := c.creator.New(KindVadFrame, VadFrameIU{IsSpeaking: isSpeaking}, &iu.Handle{CreatorID: u.CreatorID, UnitID: u.UnitID})
	return &out, nil
}

// rms computes root-mean-square energy of 16-bit little-endian PCM,
// normalized to [0,1].
func rms(chunk []byte) float64 {
	if len(chunk) < 2 {
		return 0
	}
	var sum float64
	n := 0
	for i := 0; i+1 < len(chunk); i += 2 {
		sample := int16(chunk[i]) | int16(chunk[i+1])<<8
		f := float64(sample) / 32768.0
		sum += f * f
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(n))
}
