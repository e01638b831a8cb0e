// Command agent wires real microphone/speaker I/O and the kept STT/LLM/TTS
// provider backends into the turn-taking engine: the IU runtime, the VAD
// frame classifier and aggregator, CNS, the frontal-cortex policy loop, and
// the dialog manager adapter. Everything this binary does beyond flag/env
// parsing and device callbacks is delegated to the engine packages.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/google/uuid"

	"github.com/lokutor-ai/turncore/pkg/cns"
	"github.com/lokutor-ai/turncore/pkg/config"
	"github.com/lokutor-ai/turncore/pkg/dm"
	"github.com/lokutor-ai/turncore/pkg/hearing"
	"github.com/lokutor-ai/turncore/pkg/iu"
	"github.com/lokutor-ai/turncore/pkg/logging"
	"github.com/lokutor-ai/turncore/pkg/policy"
	"github.com/lokutor-ai/turncore/pkg/predictor"
	"github.com/lokutor-ai/turncore/pkg/providers"
	llmProvider "github.com/lokutor-ai/turncore/pkg/providers/llm"
	sttProvider "github.com/lokutor-ai/turncore/pkg/providers/stt"
	ttsProvider "github.com/lokutor-ai/turncore/pkg/providers/tts"
	"github.com/lokutor-ai/turncore/pkg/session"
	"github.com/lokutor-ai/turncore/pkg/speech"
	"github.com/lokutor-ai/turncore/pkg/vad"
)

// micSource is the runtime's only module with no ProcessUnit work of its
// own: the malgo device callback publishes AudioFrame units onto it
// directly, matching spec.md §5's "audio-producing modules run on their
// own threads driven by device callbacks".
type micSource struct{}

func (micSource) Name() string                          { return "mic" }
func (micSource) Kinds() []iu.Kind                      { return nil }
func (micSource) OutputKind() (iu.Kind, bool)           { return vad.KindAudioFrame, true }
func (micSource) ProcessUnit(iu.Unit) (*iu.Unit, error) { return nil, nil }

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(logging.Options{})
	lang := providers.Language(cfg.AgentLanguage)
	voice := providers.Voice(cfg.AgentVoice)

	stt, err := selectSTT(cfg)
	if err != nil {
		log.Fatalf("stt: %v", err)
	}
	if s, ok := stt.(interface{ SetSampleRate(int) }); ok {
		s.SetSampleRate(cfg.SampleRate)
	}
	llm, err := selectLLM(cfg)
	if err != nil {
		log.Fatalf("llm: %v", err)
	}
	tts, err := selectTTS(cfg)
	if err != nil {
		log.Fatalf("tts: %v", err)
	}
	source := selectDM(cfg, llm, logger)

	recorder, err := session.New(cfg.SessionOutputDir, session.Hyperparameters{
		Policy:            cfg.Policy,
		VADProbThresh:     cfg.VADProbThresh,
		TrpThreshold:      cfg.TrpThreshold,
		FallbackDuration:  cfg.FallbackDuration,
		NoInputDuration:   cfg.NoInputDuration,
		InterruptionRatio: cfg.InterruptionRatio,
	})
	if err != nil {
		log.Fatalf("session recorder: %v", err)
	}

	rt := iu.NewRuntime(logger)

	mic := micSource{}
	rt.Register(mic)

	classifier, err := vad.NewFrameClassifier(cfg.ChunkTimeMs, cfg.VADAggressiveness)
	if err != nil {
		log.Fatalf("vad frame classifier: %v", err)
	}
	rt.Register(classifier)
	if err := rt.Subscribe(mic, classifier, 32, iu.DropOldest); err != nil {
		log.Fatalf("subscribe mic->classifier: %v", err)
	}

	aggregator, err := vad.NewAggregator(rt, vad.AggregatorConfig{
		FrameMillis:    cfg.ChunkTimeMs,
		ProbThresh:     cfg.VADProbThresh,
		OnsetTime:      cfg.VADOnsetTime,
		TurnOffsetTime: cfg.VADTurnOffsetTime,
		IPUOffsetTime:  cfg.VADIPUOffsetTime,
		FastOffsetTime: cfg.VADFastOffsetTime,
	})
	if err != nil {
		log.Fatalf("vad aggregator: %v", err)
	}
	rt.Register(aggregator)
	if err := rt.Subscribe(classifier, aggregator, 32, iu.DropOldest); err != nil {
		log.Fatalf("subscribe classifier->aggregator: %v", err)
	}

	brain := cns.New(rt, logger)
	rt.Register(brain)
	if err := rt.OnEvent(aggregator.Name(), vad.EventTurnChange, func(u iu.Unit) {
		st := u.Payload.(vad.VadStateIU)
		brain.VadCallback(vad.Turn, st.Active, u.CreatedAt)
	}); err != nil {
		log.Fatalf("subscribe vad_turn_change: %v", err)
	}
	if err := rt.OnEvent(aggregator.Name(), vad.EventIPUChange, func(u iu.Unit) {
		st := u.Payload.(vad.VadStateIU)
		brain.VadCallback(vad.IPU, st.Active, u.CreatedAt)
	}); err != nil {
		log.Fatalf("subscribe vad_ipu_change: %v", err)
	}

	listener, err := hearing.New(rt, logger, stt, lang, aggregator.Name())
	if err != nil {
		log.Fatalf("hearing: %v", err)
	}
	rt.Register(listener)
	if err := rt.Subscribe(mic, listener, 32, iu.DropOldest); err != nil {
		log.Fatalf("subscribe mic->hearing: %v", err)
	}
	if err := rt.Subscribe(listener, brain, 16, iu.BlockProducer); err != nil {
		log.Fatalf("subscribe hearing->cns: %v", err)
	}

	var playbackMu sync.Mutex
	var playbackBytes []byte
	var dispatcher *speech.Dispatcher
	sink := func(chunk []byte) {
		playbackMu.Lock()
		playbackBytes = append(playbackBytes, chunk...)
		playbackMu.Unlock()
		dispatcher.EchoSuppressor().RecordPlayedAudio(chunk)
		if cfg.RecordAudio {
			recorder.AppendAgentAudio(chunk)
		}
	}
	dispatcher = speech.New(rt, logger, tts, voice, lang, cfg.SampleRate, cfg.BytesPerSample, sink)
	rt.Register(dispatcher)
	if err := rt.Subscribe(brain, dispatcher, 8, iu.BlockProducer); err != nil {
		log.Fatalf("subscribe cns->speech: %v", err)
	}
	if err := rt.Subscribe(dispatcher, brain, 16, iu.BlockProducer); err != nil {
		log.Fatalf("subscribe speech->cns: %v", err)
	}

	if err := rt.Setup(); err != nil {
		log.Fatalf("runtime setup: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt.Run(ctx)

	policyCfg := policy.Config{
		LoopTime:          cfg.LoopTime,
		FallbackDuration:  cfg.FallbackDuration,
		NoInputDuration:   cfg.NoInputDuration,
		TrpThreshold:      cfg.TrpThreshold,
		InterruptionRatio: cfg.InterruptionRatio,
	}
	loop := policy.New(policyCfg, brain, source, selectPolicy(cfg))

	loopCtx, loopCancel := context.WithCancel(ctx)
	defer loopCancel()
	go loop.Run(loopCtx)

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer mctx.Uninit()

	micCreator := iu.NewCreator("mic")
	chunkBytes := cfg.SampleRate * cfg.BytesPerSample * cfg.ChunkTimeMs / 1000
	if chunkBytes <= 0 {
		chunkBytes = 1024
	}
	var captureMu sync.Mutex
	var captureBuf []byte

	onSamples := func(pOutput, pInput []byte, frameCount uint32) {
		if pInput != nil {
			captureMu.Lock()
			captureBuf = append(captureBuf, pInput...)
			for len(captureBuf) >= chunkBytes {
				chunk := append([]byte(nil), captureBuf[:chunkBytes]...)
				captureBuf = captureBuf[chunkBytes:]
				if !dispatcher.EchoSuppressor().IsEcho(chunk) {
					unit := micCreator.New(vad.KindAudioFrame, vad.AudioFrame{
						Bytes:       chunk,
						SampleRate:  cfg.SampleRate,
						SampleWidth: cfg.BytesPerSample,
						NumFrames:   chunkBytes / cfg.BytesPerSample,
					}, nil)
					rt.Publish(mic, unit)
					if cfg.RecordAudio {
						recorder.AppendUserAudio(chunk)
					}
				}
			}
			captureMu.Unlock()
		}
		if pOutput != nil {
			playbackMu.Lock()
			n := copy(pOutput, playbackBytes)
			playbackBytes = playbackBytes[n:]
			playbackMu.Unlock()
			for i := n; i < len(pOutput); i++ {
				pOutput[i] = 0
			}
		}
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Duplex)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onSamples})
	if err != nil {
		log.Fatal(err)
	}
	defer device.Uninit()
	if err := device.Start(); err != nil {
		log.Fatal(err)
	}

	sessionID := uuid.NewString()
	fmt.Printf("turncore agent started | policy=%s stt=%s llm=%s tts=%s lang=%s session=%s\n",
		cfg.Policy, cfg.STTProvider, cfg.LLMProvider, cfg.TTSProvider, lang, sessionID)
	fmt.Println("Press Ctrl+C to exit.")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	fmt.Println("\nShutting down...")

	loopCancel()
	if err := rt.Stop(); err != nil {
		logger.Warn("runtime stop", "err", err)
	}
	if err := recorder.Save(sessionID, brain, cfg.SampleRate); err != nil {
		logger.Error("session save failed", "err", err)
	}
}

func selectSTT(cfg *config.Config) (providers.STTProvider, error) {
	switch cfg.STTProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY must be set for openai STT")
		}
		return sttProvider.NewOpenAISTT(cfg.OpenAIAPIKey, "whisper-1"), nil
	case "assemblyai":
		if cfg.AssemblyAIKey == "" {
			return nil, fmt.Errorf("ASSEMBLYAI_API_KEY must be set for assemblyai STT")
		}
		return sttProvider.NewAssemblyAISTT(cfg.AssemblyAIKey), nil
	case "groq":
		if cfg.GroqAPIKey == "" {
			return nil, fmt.Errorf("GROQ_API_KEY must be set for groq STT")
		}
		return sttProvider.NewGroqSTT(cfg.GroqAPIKey, ""), nil
	case "deepgram":
		fallthrough
	default:
		if cfg.DeepgramAPIKey == "" {
			return nil, fmt.Errorf("DEEPGRAM_API_KEY must be set for deepgram STT")
		}
		return sttProvider.NewDeepgramSTT(cfg.DeepgramAPIKey), nil
	}
}

func selectLLM(cfg *config.Config) (providers.LLMProvider, error) {
	switch cfg.LLMProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY must be set for openai LLM")
		}
		return llmProvider.NewOpenAILLM(cfg.OpenAIAPIKey, ""), nil
	case "google":
		if cfg.GoogleAPIKey == "" {
			return nil, fmt.Errorf("GOOGLE_API_KEY must be set for google LLM")
		}
		return llmProvider.NewGoogleLLM(cfg.GoogleAPIKey, ""), nil
	case "groq":
		if cfg.GroqAPIKey == "" {
			return nil, fmt.Errorf("GROQ_API_KEY must be set for groq LLM")
		}
		return llmProvider.NewGroqLLM(cfg.GroqAPIKey, ""), nil
	case "anthropic":
		fallthrough
	default:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY must be set for anthropic LLM")
		}
		return llmProvider.NewAnthropicLLM(cfg.AnthropicAPIKey, ""), nil
	}
}

func selectTTS(cfg *config.Config) (providers.TTSProvider, error) {
	switch cfg.TTSProvider {
	case "lokutor":
		fallthrough
	default:
		if cfg.LokutorAPIKey == "" {
			return nil, fmt.Errorf("LOKUTOR_API_KEY must be set")
		}
		return ttsProvider.NewLokutorTTS(cfg.LokutorAPIKey), nil
	}
}

// selectDM builds the dialog manager adapter: a scripted question bank if
// one is readable at cfg.QuestionBankPath, an LLM-backed generator
// otherwise (or when DM_BACKEND explicitly requests it).
func selectDM(cfg *config.Config, llm providers.LLMProvider, logger *logging.Logger) dm.Source {
	if cfg.DMBackend == "llm" {
		return dm.NewLLMBackedDM(llm, cfg.SystemPrompt)
	}
	f, err := os.Open(cfg.QuestionBankPath)
	if err != nil {
		logger.Warn("dm: question bank unavailable, falling back to LLM-backed DM", "path", cfg.QuestionBankPath, "err", err)
		return dm.NewLLMBackedDM(llm, cfg.SystemPrompt)
	}
	defer f.Close()
	bank, err := dm.LoadBank(f)
	if err != nil {
		logger.Warn("dm: question bank unreadable, falling back to LLM-backed DM", "path", cfg.QuestionBankPath, "err", err)
		return dm.NewLLMBackedDM(llm, cfg.SystemPrompt)
	}
	return dm.NewQuestionBankDM(*bank, 2, nil, time.Now().UnixNano())
}

func selectPolicy(cfg *config.Config) policy.TurnOffTrigger {
	switch cfg.Policy {
	case "eot":
		return policy.EOT(predictor.NewHTTPPredictor(cfg.PredictorURL, cfg.PredictorTimeout), cfg.TrpThreshold)
	case "prediction":
		return policy.Prediction(predictor.NewHTTPPredictor(cfg.PredictorURL, cfg.PredictorTimeout), cfg.TrpThreshold)
	case "baseline-asr":
		return policy.BaselineASR()
	case "baseline-vad":
		fallthrough
	default:
		return policy.BaselineVAD()
	}
}
