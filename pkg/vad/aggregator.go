package vad

import (
	"container/ring"
	"fmt"
	"math"
	"time"

	"github.com/lokutor-ai/turncore/pkg/iu"
)

// Named events fired on the producing Aggregator's own worker, mirroring
// the runtime's synchronous event-callback contract.
const (
	EventTurnChange = "vad_turn_change"
	EventIPUChange  = "vad_ipu_change"
	EventFastChange = "vad_fast_change"
)

// AggregatorConfig carries the onset/offset windows and detection
// threshold. Defaults match the recommended values: 200ms onset for all
// three detectors, 750/200/100ms offset for turn/ipu/fast respectively.
type AggregatorConfig struct {
	FrameMillis    int
	ProbThresh     float64
	OnsetTime      time.Duration
	TurnOffsetTime time.Duration
	IPUOffsetTime  time.Duration
	FastOffsetTime time.Duration
}

// DefaultAggregatorConfig returns the spec's recommended defaults for the
// given frame duration.
func DefaultAggregatorConfig(frameMillis int) AggregatorConfig {
	return AggregatorConfig{
		FrameMillis:    frameMillis,
		ProbThresh:     0.9,
		OnsetTime:      200 * time.Millisecond,
		TurnOffsetTime: 750 * time.Millisecond,
		IPUOffsetTime:  200 * time.Millisecond,
		FastOffsetTime: 100 * time.Millisecond,
	}
}

// detector holds one kind's independent onset/offset hysteresis state.
// Ring buffers are the teacher's consecutive-frame confirmation idiom
// (RMSVAD.consecutiveFrames/minConfirmed) generalized to an actual
// windowed mean instead of a single counter.
type detector struct {
	kind      DetectorKind
	onset     *ring.Ring
	onsetLen  int
	offset    *ring.Ring
	offsetLen int
	active    bool
}

func newDetector(kind DetectorKind, onsetLen, offsetLen int) *detector {
	if onsetLen < 1 {
		onsetLen = 1
	}
	if offsetLen < 1 {
		offsetLen = 1
	}
	onset := ring.New(onsetLen)
	for i := 0; i < onsetLen; i++ {
		onset.Value = 0.0
		onset = onset.Next()
	}
	offset := ring.New(offsetLen)
	for i := 0; i < offsetLen; i++ {
		offset.Value = 0.0
		offset = offset.Next()
	}
	return &detector{kind: kind, onset: onset, onsetLen: onsetLen, offset: offset, offsetLen: offsetLen}
}

func pushMean(r *ring.Ring, length int, val float64) (*ring.Ring, float64) {
	r.Value = val
	r = r.Next()
	sum := 0.0
	r.Do(func(v interface{}) {
		sum += v.(float64)
	})
	return r, sum / float64(length)
}

// edge is non-nil only when the detector's active state flips this frame.
func (d *detector) process(isSpeaking bool, probThresh float64) *VadStateIU {
	onsetVal := 0.0
	if isSpeaking {
		onsetVal = 1.0
	}
	offsetVal := 1.0 - onsetVal

	if !d.active {
		var p float64
		d.onset, p = pushMean(d.onset, d.onsetLen, onsetVal)
		// keep the offset ring warm so the transition out of active starts
		// from a clean window once we do go active.
		d.offset, _ = pushMean(d.offset, d.offsetLen, offsetVal)
		if p >= probThresh {
			d.active = true
			return &VadStateIU{Kind: d.kind, Active: true, Probability: p}
		}
		return nil
	}

	var p float64
	d.offset, p = pushMean(d.offset, d.offsetLen, offsetVal)
	d.onset, _ = pushMean(d.onset, d.onsetLen, onsetVal)
	if p >= probThresh {
		d.active = false
		return &VadStateIU{Kind: d.kind, Active: false, Probability: p}
	}
	return nil
}

// Aggregator smooths per-frame VAD decisions into three independent
// overlapping activity detectors. Unlike FrameClassifier it is stateful and
// fires named events directly on the runtime so subscribers (CNS) can
// consume vad_turn_change/vad_ipu_change without a generic Unit
// subscription.
type Aggregator struct {
	creator    *iu.Creator
	rt         *iu.Runtime
	probThresh float64

	turn *detector
	ipu  *detector
	fast *detector
}

// NewAggregator builds an Aggregator wired to fire events on rt. rt must
// have this Aggregator Registered before Run is called.
func NewAggregator(rt *iu.Runtime, cfg AggregatorConfig) (*Aggregator, error) {
	if !validFrameMillis[cfg.FrameMillis] {
		return nil, fmt.Errorf("%w: frame duration %dms must be 10, 20, or 30", iu.ErrConfiguration, cfg.FrameMillis)
	}
	frameTime := time.Duration(cfg.FrameMillis) * time.Millisecond
	ringLen := func(d time.Duration) int {
		return int(math.Ceil(float64(d) / float64(frameTime)))
	}
	return &Aggregator{
		creator:    iu.NewCreator("vad_aggregator"),
		rt:         rt,
		probThresh: cfg.ProbThresh,
		turn:       newDetector(Turn, ringLen(cfg.OnsetTime), ringLen(cfg.TurnOffsetTime)),
		ipu:        newDetector(IPU, ringLen(cfg.OnsetTime), ringLen(cfg.IPUOffsetTime)),
		fast:       newDetector(Fast, ringLen(cfg.OnsetTime), ringLen(cfg.FastOffsetTime)),
	}, nil
}

func (a *Aggregator) Name() string { return "vad_aggregator" }

func (a *Aggregator) Kinds() []iu.Kind { return []iu.Kind{KindVadFrame} }

func (a *Aggregator) OutputKind() (iu.Kind, bool) { return KindVadState, true }

// ProcessUnit feeds one VadFrameIU into all three detectors. Any detectors
// that flip state this frame are published on the runtime and their
// corresponding named event is fired, on this module's own worker
// goroutine, synchronously.
func (a *Aggregator) ProcessUnit(u iu.Unit) (*iu.Unit, error) {
	frame, ok := u.Payload.(VadFrameIU)
	if !ok {
		return nil, fmt.Errorf("vad: unexpected payload type %T", u.Payload)
	}

	grounded := &iu.Handle{CreatorID: u.CreatorID, UnitID: u.UnitID}

	if edge := a.turn.process(frame.IsSpeaking, a.probThresh); edge != nil {
		unit := a.creator.New(KindVadState, *edge, grounded)
		a.rt.Publish(a, unit)
		a.rt.FireEvent(a.Name(), EventTurnChange, unit)
	}
	if edge := a.ipu.process(frame.IsSpeaking, a.probThresh); edge != nil {
		unit := a.creator.New(KindVadState, *edge, grounded)
		a.rt.Publish(a, unit)
		a.rt.FireEvent(a.Name(), EventIPUChange, unit)
	}
	if edge := a.fast.process(frame.IsSpeaking, a.probThresh); edge != nil {
		unit := a.creator.New(KindVadState, *edge, grounded)
		a.rt.Publish(a, unit)
		a.rt.FireEvent(a.Name(), EventFastChange, unit)
	}

	return nil, nil
}
