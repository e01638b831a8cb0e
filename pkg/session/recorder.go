// Package session serializes a finished dialog to disk: the turn transcript
// and every onset/offset timeline CNS recorded, plus an optional joined
// stereo WAV of what each side said, mirroring the teacher's NewWavBuffer
// helper generalized to a two-channel session recording.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lokutor-ai/turncore/pkg/audio"
	"github.com/lokutor-ai/turncore/pkg/cns"
)

// Hyperparameters captures the policy/VAD tuning in effect for this session,
// written alongside the transcript so a later analysis can group sessions by
// configuration.
type Hyperparameters struct {
	Policy            string        `json:"policy"`
	VADProbThresh     float64       `json:"vad_prob_thresh"`
	TrpThreshold      float64       `json:"trp_threshold"`
	FallbackDuration  time.Duration `json:"fallback_duration"`
	NoInputDuration   time.Duration `json:"no_input_duration"`
	InterruptionRatio float64       `json:"interruption_ratio"`
}

// Record is the full JSON-serializable shape of one recorded session.
type Record struct {
	StartTime       time.Time          `json:"start_time"`
	Hyperparameters Hyperparameters    `json:"hyperparameters"`
	Turns           []cns.Turn         `json:"turns"`
	Timelines       cns.Timelines      `json:"timelines"`
}

// Recorder accumulates raw PCM for each side of the conversation so a joined
// WAV can be written out alongside the JSON transcript on shutdown.
type Recorder struct {
	outDir string
	hp     Hyperparameters

	mu        sync.Mutex
	userAudio []byte
	botAudio  []byte
}

// New returns a Recorder writing under outDir, creating it if necessary.
func New(outDir string, hp Hyperparameters) (*Recorder, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	return &Recorder{outDir: outDir, hp: hp}, nil
}

// AppendUserAudio records a chunk of microphone audio for the joined WAV.
func (r *Recorder) AppendUserAudio(chunk []byte) {
	r.mu.Lock()
	r.userAudio = append(r.userAudio, chunk...)
	r.mu.Unlock()
}

// AppendAgentAudio records a chunk of synthesized audio for the joined WAV.
func (r *Recorder) AppendAgentAudio(chunk []byte) {
	r.mu.Lock()
	r.botAudio = append(r.botAudio, chunk...)
	r.mu.Unlock()
}

// Save writes transcript.json and, if any audio was recorded, session.wav
// under a directory named sessionID inside outDir.
func (r *Recorder) Save(sessionID string, c *cns.CNS, sampleRate int) error {
	dir := filepath.Join(r.outDir, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("session: %w", err)
	}

	rec := Record{
		StartTime:       c.Memory().StartTime,
		Hyperparameters: r.hp,
		Turns:           c.Memory().Turns(),
		Timelines:       c.Timelines(),
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "transcript.json"), data, 0o644); err != nil {
		return fmt.Errorf("session: %w", err)
	}

	r.mu.Lock()
	userAudio, botAudio := r.userAudio, r.botAudio
	r.mu.Unlock()
	if len(userAudio) == 0 && len(botAudio) == 0 {
		return nil
	}
	wav := audio.NewStereoWavBuffer(userAudio, botAudio, sampleRate)
	if err := os.WriteFile(filepath.Join(dir, "session.wav"), wav, 0o644); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	return nil
}
