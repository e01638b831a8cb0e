package speech

import (
	"bytes"
	"math"
	"sync"
	"time"
)

// EchoSuppressor detects microphone input that is actually speaker bleed: a
// correlation match against audio the Dispatcher recently played. A hearing
// module should call IsEcho before feeding a captured frame into the VAD
// pipeline, to avoid the agent interrupting its own speech.
type EchoSuppressor struct {
	mu             sync.Mutex
	playedAudioBuf *bytes.Buffer
	maxBufSize     int
	echoThreshold  float64
	echoSilenceMS  int
	lastPlayedAt   time.Time
	enabled        bool
}

// NewEchoSuppressor returns an EchoSuppressor tuned for 16kHz mono PCM, the
// engine's working sample rate.
func NewEchoSuppressor() *EchoSuppressor {
	return &EchoSuppressor{
		playedAudioBuf: new(bytes.Buffer),
		maxBufSize:     64000, // 2s at 16kHz, 16-bit mono
		echoThreshold:  0.55,
		echoSilenceMS:  1200,
		enabled:        true,
	}
}

// RecordPlayedAudio records audio the Dispatcher just sent to the speaker.
func (es *EchoSuppressor) RecordPlayedAudio(chunk []byte) {
	if !es.enabled || len(chunk) == 0 {
		return
	}
	es.mu.Lock()
	defer es.mu.Unlock()

	es.playedAudioBuf.Write(chunk)
	es.lastPlayedAt = time.Now()

	if es.playedAudioBuf.Len() > es.maxBufSize {
		data := es.playedAudioBuf.Bytes()
		trim := data[len(data)-es.maxBufSize:]
		es.playedAudioBuf.Reset()
		es.playedAudioBuf.Write(trim)
	}
}

// IsEcho reports whether inputChunk correlates highly enough with recently
// played audio to be speaker bleed rather than genuine user speech.
func (es *EchoSuppressor) IsEcho(inputChunk []byte) bool {
	if !es.enabled || len(inputChunk) == 0 {
		return false
	}
	es.mu.Lock()
	defer es.mu.Unlock()

	if time.Since(es.lastPlayedAt) > time.Duration(es.echoSilenceMS)*time.Millisecond {
		return false
	}
	played := es.playedAudioBuf.Bytes()
	if len(played) == 0 {
		return false
	}

	if es.correlation(inputChunk, played) > es.echoThreshold {
		return true
	}

	// Sibilant ('s'-like) sounds decorrelate under direct sample-by-sample
	// comparison once room phase shift is involved; their energy envelope
	// still matches recently played audio, so fall back to that before
	// giving up. Envelope correlation runs a little high inherently, hence
	// the stricter +0.05 margin.
	envCorr := maxEnvelopeCorrelation(bytesToSamples(inputChunk), bytesToSamples(played), 8)
	return envCorr > es.echoThreshold+0.05
}

// correlation computes the normalized cross-correlation between input and
// the tail of reference long enough to cover input. Input is aligned with
// the most recent reference samples only; no lag search is done for
// playback-to-mic latency.
func (es *EchoSuppressor) correlation(input, reference []byte) float64 {
	inSamples := bytesToSamples(input)
	refSamples := bytesToSamples(reference)
	if len(inSamples) == 0 || len(refSamples) == 0 {
		return 0
	}

	compareLen := len(inSamples)
	if compareLen > len(refSamples) {
		compareLen = len(refSamples)
	}
	refCompare := refSamples[len(refSamples)-compareLen:]

	inEnergy := energy(inSamples)
	refEnergy := energy(refCompare)
	if inEnergy == 0 || refEnergy == 0 {
		return 0
	}

	dot := 0.0
	for i := 0; i < compareLen; i++ {
		dot += inSamples[i] * refCompare[i]
	}
	norm := dot / math.Sqrt(inEnergy*refEnergy)
	if norm < 0 {
		return 0
	}
	if norm > 1 {
		return 1
	}
	return norm
}

// ClearBuffer drops every recorded played-audio sample, used when the
// Dispatcher is aborted so stale playback no longer masks the next turn.
func (es *EchoSuppressor) ClearBuffer() {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.playedAudioBuf.Reset()
}

// SetThreshold adjusts detection sensitivity; values outside [0,1] are
// ignored.
func (es *EchoSuppressor) SetThreshold(threshold float64) {
	es.mu.Lock()
	defer es.mu.Unlock()
	if threshold >= 0 && threshold <= 1 {
		es.echoThreshold = threshold
	}
}

// SetEnabled toggles detection without discarding the playback buffer.
func (es *EchoSuppressor) SetEnabled(enabled bool) {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.enabled = enabled
}

func bytesToSamples(data []byte) []float64 {
	samples := make([]float64, 0, len(data)/2)
	for i := 0; i < len(data)-1; i += 2 {
		sample := int16(data[i]) | (int16(data[i+1]) << 8)
		samples = append(samples, float64(sample)/32768.0)
	}
	return samples
}

func energy(samples []float64) float64 {
	sum := 0.0
	for _, s := range samples {
		sum += s * s
	}
	return sum
}

// maxEnvelopeCorrelation compares the absolute-value energy envelope
// (downsampled by decimation) of in against a sliding search over ref,
// returning the best Pearson correlation found. This catches echo in
// high-frequency, low-amplitude sounds that direct sample correlation
// misses once room phase shift decorrelates them.
func maxEnvelopeCorrelation(in, ref []float64, decimation int) float64 {
	if len(in) == 0 || len(ref) == 0 {
		return 0
	}

	envelope := func(samples []float64) []float64 {
		env := make([]float64, len(samples)/decimation)
		for i := range env {
			sum := 0.0
			for j := 0; j < decimation; j++ {
				sum += math.Abs(samples[i*decimation+j])
			}
			env[i] = sum
		}
		return env
	}
	inEnv := envelope(in)
	refEnv := envelope(ref)

	compareLen := len(inEnv)
	if compareLen > len(refEnv) {
		compareLen = len(refEnv)
	}
	if compareLen == 0 {
		return 0
	}

	inMean := 0.0
	for i := 0; i < compareLen; i++ {
		inMean += inEnv[i]
	}
	inMean /= float64(compareLen)

	inVar := 0.0
	for i := 0; i < compareLen; i++ {
		inEnv[i] -= inMean
		inVar += inEnv[i] * inEnv[i]
	}
	if inVar <= 0 {
		return 0
	}

	stride := compareLen / 4
	if stride < 2 {
		stride = 2
	}

	maxCorr := 0.0
	searchRange := len(refEnv) - compareLen + 1
	for pos := 0; pos < searchRange; pos += stride {
		refMean := 0.0
		for i := 0; i < compareLen; i++ {
			refMean += refEnv[pos+i]
		}
		refMean /= float64(compareLen)

		dot, refVar := 0.0, 0.0
		for i := 0; i < compareLen; i++ {
			r := refEnv[pos+i] - refMean
			dot += inEnv[i] * r
			refVar += r * r
		}
		if refVar > 0 {
			if corr := dot / math.Sqrt(inVar*refVar); corr > maxCorr {
				maxCorr = corr
			}
		}
	}

	return maxCorr
}
