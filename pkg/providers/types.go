// Package providers declares the narrow external-collaborator contracts the
// turn-taking engine consumes: speech-to-text, language-model completion,
// and text-to-speech. Concrete backends live in the stt, llm, and tts
// subpackages.
package providers

import "context"

// Logger is the capability every engine component logs through. Passed in,
// never looked up globally, per the teacher's existing idiom.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// NoOpLogger discards everything. Useful as a safe zero value.
type NoOpLogger struct{}

func (n *NoOpLogger) Debug(msg string, args ...interface{}) {}
func (n *NoOpLogger) Info(msg string, args ...interface{})  {}
func (n *NoOpLogger) Warn(msg string, args ...interface{})  {}
func (n *NoOpLogger) Error(msg string, args ...interface{}) {}

// STTProvider transcribes a complete audio segment.
type STTProvider interface {
	Transcribe(ctx context.Context, audio []byte, lang Language) (string, error)
	Name() string
}

// StreamingSTTProvider additionally supports incremental transcription: the
// returned channel accepts audio chunks and onTranscript is called with
// growing hypotheses, the last call marked final.
type StreamingSTTProvider interface {
	STTProvider
	StreamTranscribe(ctx context.Context, lang Language, onTranscript func(transcript string, isFinal bool) error) (chan<- []byte, error)
}

// LLMProvider completes a chat-style message history. It is the rank/
// generate backend a dm.Source may delegate to; the core never inspects the
// prompt it builds.
type LLMProvider interface {
	Complete(ctx context.Context, messages []Message) (string, error)
	Name() string
}

// TTSProvider synthesizes speech, in one shot or streamed chunk by chunk.
type TTSProvider interface {
	Synthesize(ctx context.Context, text string, voice Voice, lang Language) ([]byte, error)
	StreamSynthesize(ctx context.Context, text string, voice Voice, lang Language, onChunk func([]byte) error) error
	Name() string
}

// Aborter is implemented by TTS providers that can cancel in-flight
// synthesis faster than context cancellation alone (e.g. a held websocket
// connection that needs an explicit reset).
type Aborter interface {
	Abort() error
}

// Voice selects a TTS voice preset.
type Voice string

const (
	VoiceF1 Voice = "F1"
	VoiceF2 Voice = "F2"
	VoiceF3 Voice = "F3"
	VoiceF4 Voice = "F4"
	VoiceF5 Voice = "F5"
	VoiceM1 Voice = "M1"
	VoiceM2 Voice = "M2"
	VoiceM3 Voice = "M3"
	VoiceM4 Voice = "M4"
	VoiceM5 Voice = "M5"
)

// Language is an ISO-639-1 language tag understood by the STT/LLM/TTS
// backends.
type Language string

const (
	LanguageEn Language = "en"
	LanguageEs Language = "es"
	LanguageFr Language = "fr"
	LanguageDe Language = "de"
	LanguageIt Language = "it"
	LanguagePt Language = "pt"
	LanguageJa Language = "ja"
	LanguageZh Language = "zh"
)

// Message is one turn of LLM chat history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
