// Command robotd is the entrypoint that builds and runs a
// RuntimeSupervisor from a JSON config file, grounded on
// original_source/Server/app/application.py's main()/signal-driven
// shutdown. -demo swaps every hardware collaborator for
// internal/fakehw so the full supervisor runs without a robot attached.
package main

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"flag"
	"io"
	"math"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/rs/zerolog"

	"github.com/edmoltom/FNK0050-sub000/internal/config"
	"github.com/edmoltom/FNK0050-sub000/internal/fakehw"
	"github.com/edmoltom/FNK0050-sub000/internal/llmclient"
	"github.com/edmoltom/FNK0050-sub000/internal/observability"
	"github.com/edmoltom/FNK0050-sub000/internal/sttwhisper"
	"github.com/edmoltom/FNK0050-sub000/internal/supervisor"
)

// defaultLLMModel is sent as the OpenAI chat-completions "model" field;
// llama-server's OpenAI-compatible endpoint accepts and ignores it when
// serving a single loaded gguf.
const defaultLLMModel = "local"

func main() {
	configPath := flag.String("config", "", "path to a JSON config file (see internal/config.Config)")
	demo := flag.Bool("demo", false, "run against internal/fakehw stand-ins instead of real hardware")
	logLevel := flag.String("log-level", "info", "zerolog level: debug|info|warn|error")
	whisperModel := flag.String("whisper-model", "", "path to a whisper.cpp ggml model; enables internal/sttwhisper reading 16kHz mono float32 PCM from stdin")
	flag.Parse()

	observability.Init(*logLevel, os.Stdout)
	log := observability.For("robotd")

	cfg, err := loadConfig(*configPath)
	if err != nil {
		pterm.Error.Printfln("failed to load config: %v", err)
		log.Fatal().Err(err).Msg("config load failed")
	}

	deps := buildDependencies(*demo, cfg, *whisperModel, log)

	pterm.DefaultHeader.WithFullWidth().Println("robotd starting")
	sup := supervisor.Build(cfg, deps, log)
	sup.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	pterm.Info.Println("shutdown signal received")
	sup.Stop()
	pterm.Success.Println("robotd stopped cleanly")
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Config{}.WithDefaults(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return config.Config{}, err
	}
	defer f.Close()

	var cfg config.Config
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return config.Config{}, err
	}
	return cfg.WithDefaults(), nil
}

// buildDependencies assembles the runtime's collaborators. No real
// movement/camera driver ships in this module (spec.md §1 Non-goals: no
// gait/kinematics derivation, no vision algorithm derivation); a
// production deployment supplies those via a build tag or vendored
// driver package. The LLM client and speech-to-text engine, however, are
// real (internal/llmclient, internal/sttwhisper) and are wired in
// whenever their config/flag is present, independent of -demo, so a
// deployment can mix real conversational components with fakehw's
// movement/vision stand-ins.
func buildDependencies(demo bool, cfg config.Config, whisperModelPath string, log *zerolog.Logger) supervisor.Dependencies {
	var deps supervisor.Dependencies
	if demo {
		movement := fakehw.NewMovement()
		voice := fakehw.NewVoice()
		deps = supervisor.Dependencies{
			Movement: movement,
			Camera:   fakehw.NewCamera(),
			Pipeline: fakehw.NewPipeline(),
			Audio:    fakehw.NewAudioCue(),
			STT:      voice,
			TTS:      voice,
			LED:      fakehw.NewLED(),
			LLM:      fakehw.NewLLM(),
		}
	}

	if cfg.Conversation.LLMBaseURL != "" {
		deps.LLM = llmclient.New(cfg.Conversation.LLMBaseURL, "", defaultLLMModel)
		log.Info().Str("base_url", cfg.Conversation.LLMBaseURL).Msg("using llmclient against configured LLM endpoint")
	}

	if whisperModelPath != "" {
		stt, err := sttwhisper.New(whisperModelPath, newStdinAudioSource())
		if err != nil {
			pterm.Warning.Printfln("whisper STT disabled: %v", err)
			log.Warn().Err(err).Msg("sttwhisper disabled: model load failed")
		} else {
			stt.Start()
			deps.STT = stt
			log.Info().Str("model", whisperModelPath).Msg("using sttwhisper reading PCM from stdin")
		}
	}

	return deps
}

// audioChunkSamples is one second of 16kHz mono audio, whisper.cpp's
// expected sample rate.
const audioChunkSamples = 16000

// stdinAudioSource is a sttwhisper.AudioSource reading raw
// little-endian float32 PCM samples from stdin in fixed-size chunks,
// e.g. piped from `arecord -f FLOAT_LE -r 16000 -c 1`. It is the minimal
// bridge to a real whisper.cpp backend in the absence of a vendored
// microphone driver.
type stdinAudioSource struct {
	r *bufio.Reader
}

func newStdinAudioSource() *stdinAudioSource {
	return &stdinAudioSource{r: bufio.NewReaderSize(os.Stdin, 64*1024)}
}

func (s *stdinAudioSource) ReadChunk() ([]float32, bool) {
	buf := make([]byte, audioChunkSamples*4)
	n, err := io.ReadFull(s.r, buf)
	if n == 0 {
		return nil, false
	}
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, false
	}

	samples := make([]float32, n/4)
	for i := range samples {
		bits := binary.LittleEndian.Uint32(buf[i*4:])
		samples[i] = math.Float32frombits(bits)
	}
	return samples, true
}
