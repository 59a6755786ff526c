// Package sttwhisper implements conversation.STT over
// github.com/ggerganov/whisper.cpp/bindings/go, grounded on
// intelligencedev-manifold/internal/agentd/run.go's whisperModel
// whisper.Model field and its whisper.New(modelPath) construction.
//
// The native whisper.Model/whisper.Context API is isolated behind the
// unexported engine interface so package tests never link the native
// library — they drive a fake engine instead.
package sttwhisper

import (
	"sync"
	"time"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/rs/zerolog"

	"github.com/edmoltom/FNK0050-sub000/internal/observability"
)

// AudioSource supplies raw 16kHz mono float32 PCM. It is the external
// microphone collaborator, out of this module's scope (spec.md §1) —
// sttwhisper only consumes it.
type AudioSource interface {
	// ReadChunk blocks until at least one sample window is available or
	// the source is closed, returning ok=false on close.
	ReadChunk() (samples []float32, ok bool)
}

type engine interface {
	process(samples []float32, onSegment func(text string)) error
}

type whisperEngine struct {
	model whisper.Model
}

func (e *whisperEngine) process(samples []float32, onSegment func(text string)) error {
	ctx, err := e.model.NewContext()
	if err != nil {
		return err
	}
	if err := ctx.Process(samples, nil, func(seg whisper.Segment) {
		onSegment(seg.Text)
	}, nil); err != nil {
		return err
	}
	return nil
}

// STT is a conversation.STT implementation backed by a whisper.cpp model.
type STT struct {
	source AudioSource
	eng    engine
	log    *zerolog.Logger

	mu       sync.Mutex
	paused   bool
	stopped  bool
	utterCh  chan string
	doneCh   chan struct{}
	started  bool
}

// New loads the whisper model at modelPath and returns an STT ready to
// Listen once the caller starts its background transcription loop via
// Start.
func New(modelPath string, source AudioSource) (*STT, error) {
	model, err := whisper.New(modelPath)
	if err != nil {
		return nil, err
	}
	return &STT{source: source, eng: &whisperEngine{model: model}, utterCh: make(chan string, 8), log: observability.For("sttwhisper")}, nil
}

func newWithEngine(eng engine, source AudioSource) *STT {
	return &STT{source: source, eng: eng, utterCh: make(chan string, 8), log: observability.For("sttwhisper")}
}

// Start launches the background goroutine that reads audio chunks and
// feeds them through the whisper engine, publishing recognized segments.
func (s *STT) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.run()
}

func (s *STT) run() {
	defer close(s.doneCh)
	for {
		s.mu.Lock()
		stopped := s.stopped
		s.mu.Unlock()
		if stopped {
			return
		}

		samples, ok := s.source.ReadChunk()
		if !ok {
			return
		}

		s.mu.Lock()
		paused := s.paused
		s.mu.Unlock()
		if paused {
			continue
		}

		if err := s.eng.process(samples, func(text string) {
			if text == "" {
				return
			}
			select {
			case s.utterCh <- text:
			default:
			}
		}); err != nil {
			s.log.Warn().Err(err).Msg("whisper process failed, chunk skipped")
			continue
		}
	}
}

// Listen blocks up to timeout for the next recognized utterance,
// mirroring conversation.STT.Listen's (string, bool) contract.
func (s *STT) Listen(timeout time.Duration) (string, bool) {
	select {
	case text := <-s.utterCh:
		return text, true
	case <-time.After(timeout):
		return "", false
	}
}

// Pause suppresses transcription without stopping the read loop.
func (s *STT) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume re-enables transcription.
func (s *STT) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
}

// Stop halts the background goroutine. Idempotent.
func (s *STT) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	done := s.doneCh
	s.mu.Unlock()
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(1 * time.Second):
		s.log.Warn().Msg("sttwhisper: run loop did not join within 1s, likely blocked in AudioSource.ReadChunk")
	}
}
