package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edmoltom/FNK0050-sub000/internal/config"
	"github.com/edmoltom/FNK0050-sub000/internal/fakehw"
)

func demoConfig() config.Config {
	cfg := config.Config{
		EnableVision:       true,
		EnableMovement:     true,
		EnableWS:           false,
		EnableConversation: false,
	}
	cfg.Vision.IntervalSec = 0.02
	return cfg.WithDefaults()
}

func demoDeps() Dependencies {
	movement := fakehw.NewMovement()
	voice := fakehw.NewVoice()
	return Dependencies{
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

func TestBuild_ConversationAutoDisabledWithoutLlamaPaths(t *testing.T) {
	t.Parallel()

	cfg := demoConfig()
	cfg.EnableConversation = true // paths left empty: must auto-disable, not panic

	sup := Build(cfg, demoDeps(), nil)
	require.NotNil(t, sup)
	assert.Nil(t, sup.convSvc, "conversation must be auto-disabled when llama_binary/model_path are missing")
}

func TestBuild_ConversationAutoDisabledWithUnreadableModelPath(t *testing.T) {
	t.Parallel()

	cfg := demoConfig()
	cfg.EnableConversation = true
	cfg.Conversation.LlamaBinary = "/nonexistent/llama-server"
	cfg.Conversation.ModelPath = "/nonexistent/model.gguf"

	sup := Build(cfg, demoDeps(), nil)
	assert.Nil(t, sup.convSvc)
}

func TestBuild_ConversationAutoDisabledWithIncompleteDependencies(t *testing.T) {
	t.Parallel()

	cfg := demoConfig()
	cfg.EnableConversation = true
	cfg.Conversation.LlamaBinary = "/bin/sh" // readable, so only the dependency check should trip
	cfg.Conversation.ModelPath = "/bin/sh"

	deps := demoDeps()
	deps.TTS = nil // STT without TTS would panic FSM.Run's SPEAK state

	sup := Build(cfg, deps, nil)
	assert.Nil(t, sup.convSvc, "conversation must be auto-disabled when any of STT/TTS/LED/LLM is nil")
}

func TestRuntimeSupervisor_StartStopIsIdempotentInDemoMode(t *testing.T) {
	t.Parallel()

	sup := Build(demoConfig(), demoDeps(), nil)
	sup.Start()
	sup.Start() // idempotent

	time.Sleep(50 * time.Millisecond)
	assert.True(t, sup.visionLoop.IsRunning())

	sup.Stop()
	sup.Stop() // idempotent
	assert.False(t, sup.visionLoop.IsRunning())
}

func TestRuntimeSupervisor_SetTrackingEnabledGatesSocialFSM(t *testing.T) {
	t.Parallel()

	sup := Build(demoConfig(), demoDeps(), nil)
	require.NotNil(t, sup.socialFSM)

	sup.SetTrackingEnabled(false)
	sup.Start()
	defer sup.Stop()

	time.Sleep(80 * time.Millisecond)
	snap := sup.socialFSM.Snapshot()
	assert.Equal(t, 0, snap.LockCount+snap.MissCount, "tracking disabled must keep the FSM untouched")
}

func TestRuntimeSupervisor_ConversationStateSourceDefaultsToWake(t *testing.T) {
	t.Parallel()

	sup := Build(demoConfig(), demoDeps(), nil)
	src := sup.conversationStateSource()
	assert.Equal(t, "WAKE", src().String())
}
