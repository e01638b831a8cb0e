// Package config loads every tunable the engine needs from the environment,
// the same env-tag idiom the teacher used for provider API keys, extended to
// cover the turn-taking policy's own surface.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the full environment-driven configuration surface: provider
// selection/credentials (kept from the teacher) plus audio, VAD, and policy
// tuning (added for the turn-taking engine).
type Config struct {
	// Provider selection, kept from the teacher's orchestrator config.
	STTProvider string `env:"STT_PROVIDER" envDefault:"deepgram"`
	LLMProvider string `env:"LLM_PROVIDER" envDefault:"anthropic"`
	TTSProvider string `env:"TTS_PROVIDER" envDefault:"lokutor"`

	DeepgramAPIKey  string `env:"DEEPGRAM_API_KEY"`
	AssemblyAIKey   string `env:"ASSEMBLYAI_API_KEY"`
	GroqAPIKey      string `env:"GROQ_API_KEY"`
	OpenAIAPIKey    string `env:"OPENAI_API_KEY"`
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`
	GoogleAPIKey    string `env:"GOOGLE_API_KEY"`
	LokutorAPIKey   string `env:"LOKUTOR_API_KEY"`

	// Dialog manager selection: "llm" selects the LLM-backed Source; any
	// other value loads QuestionBankPath, falling back to the LLM-backed
	// Source if that file cannot be opened or parsed.
	DMBackend         string `env:"DM_BACKEND" envDefault:"questionbank"`
	QuestionBankPath  string `env:"QUESTION_BANK_PATH" envDefault:"questions.yaml"`

	// Policy variant selects the TurnOffTrigger: baseline-asr, baseline-vad,
	// eot, or prediction.
	Policy string `env:"POLICY" envDefault:"baseline-vad"`

	// Spoken language tag passed to the STT/LLM/TTS backends, and the
	// system prompt seeding the LLM-backed DM.
	AgentLanguage string `env:"AGENT_LANGUAGE" envDefault:"en"`
	AgentVoice    string `env:"AGENT_VOICE" envDefault:"F1"`
	SystemPrompt  string `env:"SYSTEM_PROMPT" envDefault:"You are a helpful and concise voice assistant. Use short sentences suitable for speech."`

	// Audio framing, shared by the frame classifier and the microphone/
	// speaker I/O loop.
	ChunkTimeMs    int `env:"CHUNK_TIME_MS" envDefault:"20"`
	SampleRate     int `env:"SAMPLE_RATE" envDefault:"16000"`
	BytesPerSample int `env:"BYTES_PER_SAMPLE" envDefault:"2"`

	// VAD frame classifier and aggregator tuning.
	VADAggressiveness int           `env:"VAD_AGGRESSIVENESS" envDefault:"2"`
	VADProbThresh     float64       `env:"VAD_PROB_THRESH" envDefault:"0.9"`
	VADOnsetTime      time.Duration `env:"VAD_ONSET_TIME" envDefault:"200ms"`
	VADTurnOffsetTime time.Duration `env:"VAD_TURN_OFFSET_TIME" envDefault:"750ms"`
	VADIPUOffsetTime  time.Duration `env:"VAD_IPU_OFFSET_TIME" envDefault:"200ms"`
	VADFastOffsetTime time.Duration `env:"VAD_FAST_OFFSET_TIME" envDefault:"100ms"`

	// End-of-turn predictor, read by the eot/prediction policy variants.
	PredictorURL     string        `env:"PREDICTOR_URL" envDefault:"http://localhost:8008/trp"`
	PredictorTimeout time.Duration `env:"PREDICTOR_TIMEOUT" envDefault:"150ms"`
	TrpThreshold     float64       `env:"TRP_THRESHOLD" envDefault:"0.5"`

	// Policy loop cadence and inactivity recovery.
	LoopTime          time.Duration `env:"LOOP_TIME" envDefault:"50ms"`
	FallbackDuration  time.Duration `env:"FALLBACK_DURATION" envDefault:"8s"`
	NoInputDuration   time.Duration `env:"NO_INPUT_DURATION" envDefault:"15s"`
	InterruptionRatio float64       `env:"INTERRUPTION_RATIO" envDefault:"0.8"`

	// Session recording.
	SessionOutputDir string `env:"SESSION_OUTPUT_DIR" envDefault:"./sessions"`
	RecordAudio      bool   `env:"RECORD_AUDIO" envDefault:"true"`
}

// Load reads a .env file if present (ignored if absent, matching the
// teacher's startup idiom) and parses the environment into a Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
