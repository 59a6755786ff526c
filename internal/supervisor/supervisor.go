// Package supervisor implements the RuntimeSupervisor from spec.md
// §4.J: it materializes the subset of {VisionLoop, Movement,
// ConversationService, SocialFSM, BehaviorCoordinator, WS facade} that
// config flags enable, wires the frame handler, and runs the ordered
// start()/stop() lifecycle. Grounded on
// original_source/Server/app/runtime.py's AppRuntime.start/stop and
// intelligencedev-manifold's initialize.go for the pterm console
// banners.
package supervisor

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
	"github.com/rs/zerolog"

	"github.com/edmoltom/FNK0050-sub000/internal/behavior"
	"github.com/edmoltom/FNK0050-sub000/internal/bus"
	"github.com/edmoltom/FNK0050-sub000/internal/config"
	"github.com/edmoltom/FNK0050-sub000/internal/conversation"
	"github.com/edmoltom/FNK0050-sub000/internal/convsvc"
	"github.com/edmoltom/FNK0050-sub000/internal/detect"
	"github.com/edmoltom/FNK0050-sub000/internal/llmserver"
	"github.com/edmoltom/FNK0050-sub000/internal/observability"
	"github.com/edmoltom/FNK0050-sub000/internal/social"
	"github.com/edmoltom/FNK0050-sub000/internal/tracker"
	"github.com/edmoltom/FNK0050-sub000/internal/vision"
	"github.com/edmoltom/FNK0050-sub000/internal/wsapi"
)

// MovementController is the union of every movement capability the
// runtime wires: VisualTracker's turn/head primitives, SocialFSM's
// stop/relax, and the WS surface's velocity-based walk command.
type MovementController interface {
	tracker.Movement
	social.RelaxMover
	Walk(vx, vy, omega float64)
}

// Dependencies are the external collaborators supplied by the caller
// (cmd/robotd), real hardware adapters or internal/fakehw stand-ins.
type Dependencies struct {
	Movement MovementController
	Camera   vision.CameraWorker
	Pipeline vision.Pipeline
	Audio    social.AudioCue

	STT conversation.STT
	TTS conversation.TTS
	LED conversation.LED
	LLM conversation.LLMClient

	Proc     wsapi.ProcessingConfigurer // optional
	Profiles wsapi.ProfileLoader        // optional
}

// RuntimeSupervisor owns the ordered lifecycle of every subsystem spec.md
// §4.J names.
type RuntimeSupervisor struct {
	cfg  config.Config
	deps Dependencies
	log  *zerolog.Logger

	visionLoop *vision.Loop
	vt         *tracker.VisualTracker
	socialFSM  *social.FSM
	convProc   *llmserver.Supervisor
	convSvc    *convsvc.Service
	coord      *behavior.Coordinator
	ws         *wsapi.Server

	trackingEnabled atomic.Bool
	detections      atomic.Value // detect.Detection
	currentFSM      atomic.Value // *conversation.FSM

	mu      sync.Mutex
	started bool
	stopped bool
}

// Build materializes the subset of subsystems config enables, mirroring
// AppRuntime/AppServices' builder split collapsed into one step.
func Build(cfg config.Config, deps Dependencies, log *zerolog.Logger) *RuntimeSupervisor {
	cfg = cfg.WithDefaults()
	if log == nil {
		log = observability.For("supervisor")
	}

	r := &RuntimeSupervisor{cfg: cfg, deps: deps, log: log}
	r.trackingEnabled.Store(true)

	if cfg.EnableVision && deps.Camera != nil && deps.Pipeline != nil {
		r.visionLoop = vision.New(visionConfig(cfg), deps.Camera, deps.Pipeline, bus.New[detect.Detection](), log)
	}

	if cfg.EnableMovement && deps.Movement != nil {
		var roiSetter tracker.ROISetter
		if r.visionLoop != nil {
			roiSetter = r.visionLoop
		}
		r.vt = tracker.New(tracker.DefaultConfig(), deps.Movement, roiSetter, log)
		r.socialFSM = social.New(cfg.Behavior.SocialFSM, r.vt, deps.Movement, deps.Audio, log)
	}

	if cfg.EnableConversation {
		if missing := cfg.Conversation.ConversationPathsMissing(); len(missing) > 0 {
			pterm.Warning.Printf("conversation disabled: missing %v\n", missing)
			log.Warn().Strs("missing", missing).Msg("conversation auto-disabled")
		} else if !fileReadable(cfg.Conversation.LlamaBinary) || !fileReadable(cfg.Conversation.ModelPath) {
			pterm.Warning.Println("conversation disabled: llama_binary or model_path unreadable")
			log.Warn().Msg("conversation auto-disabled: path unreadable")
		} else if deps.STT == nil || deps.TTS == nil || deps.LED == nil || deps.LLM == nil {
			pterm.Warning.Println("conversation disabled: STT, TTS, LED, and LLM dependencies must all be supplied")
			log.Warn().Msg("conversation auto-disabled: incomplete dependency set")
		} else {
			r.convProc = llmserver.New(llmArgs(cfg.Conversation), log)
			r.convSvc = convsvc.New(convsvcConfig(cfg.Conversation), r.convProc, r.conversationFactory(), log)
		}
	}

	if r.socialFSM != nil {
		r.coord = behavior.New(behavior.DefaultConfig(), r.conversationStateSource(), r, r.socialFSM, deps.Movement, log)
	}

	if cfg.EnableWS && r.visionLoop != nil {
		r.ws = wsapi.New(wsapi.Config{Host: cfg.WS.Host, Port: cfg.WS.Port}, &visionAdapter{loop: r.visionLoop}, deps.Movement, deps.Proc, deps.Profiles)
	}

	return r
}

// SetTrackingEnabled implements behavior.Tracking: gates whether the
// frame handler forwards detections into the SocialFSM.
func (r *RuntimeSupervisor) SetTrackingEnabled(enabled bool) { r.trackingEnabled.Store(enabled) }

func (r *RuntimeSupervisor) conversationStateSource() behavior.ConversationStateSource {
	return func() conversation.State {
		if fsm, ok := r.currentFSM.Load().(*conversation.FSM); ok && fsm != nil {
			return fsm.State()
		}
		return conversation.Wake
	}
}

func (r *RuntimeSupervisor) conversationFactory() convsvc.ManagerFactory {
	return func(stop <-chan struct{}) *conversation.FSM {
		fsm := conversation.New(conversation.DefaultConfig(), r.deps.STT, r.deps.TTS, r.deps.LED, r.deps.LLM, stop, r.log)
		r.currentFSM.Store(fsm)
		return fsm
	}
}

// Start runs the ordered lifecycle from spec.md §4.J. It does not block;
// callers follow it with their own signal handling, or use Run instead.
func (r *RuntimeSupervisor) Start() {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	if r.deps.Movement != nil {
		r.deps.Movement.Stop()
		r.deps.Movement.Relax()
		pterm.Success.Println("movement ready")
	}

	var frameHandler vision.FrameHandler
	if r.socialFSM != nil {
		frameHandler = func(d detect.Detection, dt float64) {
			r.detections.Store(d)
			if r.trackingEnabled.Load() {
				r.socialFSM.OnFrame(d, dt)
			}
		}
	}

	if r.visionLoop != nil {
		if err := r.visionLoop.Start(frameHandler); err != nil {
			r.log.Error().Err(err).Msg("vision loop failed to start")
		} else {
			pterm.Success.Println("vision loop running")
		}
	}

	if r.convSvc != nil {
		if !r.convSvc.Start() {
			r.log.Error().Msg("conversation service failed to start, continuing without it")
			pterm.Warning.Println("conversation service failed to start")
		} else {
			pterm.Success.Println("conversation service running")
		}
	}

	if r.coord != nil {
		r.coord.Start()
		pterm.Success.Println("behavior coordinator running")
	}

	if r.ws != nil {
		if err := r.ws.Start(); err != nil {
			r.log.Error().Err(err).Msg("ws server failed to start")
		} else {
			pterm.Success.Printfln("ws server listening on %s:%d", r.cfg.WS.Host, r.cfg.WS.Port)
		}
	}
}

// Run blocks until ctx is cancelled, then stops every subsystem in
// reverse-dependency order, matching spec.md §4.J's stop() ordering.
func (r *RuntimeSupervisor) Run(ctx context.Context) {
	r.Start()
	<-ctx.Done()
	r.Stop()
}

// Stop tears subsystems down in order: coordinator → conversation → WS
// → vision → movement. Idempotent.
func (r *RuntimeSupervisor) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	if r.coord != nil {
		r.coord.Stop()
	}
	if r.convSvc != nil {
		r.convSvc.Stop(true)
	}
	if r.ws != nil {
		r.ws.Stop(5 * time.Second)
	}
	if r.visionLoop != nil {
		r.visionLoop.Stop()
	}
	if r.deps.Movement != nil {
		r.deps.Movement.Stop()
	}
	pterm.Info.Println("runtime supervisor stopped")
}

func fileReadable(path string) bool {
	if path == "" {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

func visionConfig(cfg config.Config) vision.Config {
	vc := vision.DefaultConfig()
	vc.IntervalSec = cfg.Vision.IntervalSec
	return vc
}

func llmArgs(cc config.ConversationConfig) llmserver.Args {
	return llmserver.Args{
		LlamaBinary: cc.LlamaBinary,
		ModelPath:   cc.ModelPath,
		Port:        cc.Port,
		Threads:     cc.Threads,
		Parallel:    cc.MaxParallelInference,
	}
}

func convsvcConfig(cc config.ConversationConfig) convsvc.Config {
	return convsvc.Config{
		LLMBaseURL:            cc.LLMBaseURL,
		HealthTimeout:         seconds(cc.HealthTimeout),
		HealthCheckInterval:   seconds(cc.HealthCheckInterval),
		HealthCheckMaxRetries: cc.HealthCheckMaxRetries,
		HealthCheckBackoff:    cc.HealthCheckBackoff,
		ReadinessTimeout:      seconds(cc.HealthTimeout),
		ShutdownTimeout:       5 * time.Second,
		AutoRestart:           cc.AutoRestart,
		RestartDelay:          seconds(cc.RestartDelay),
	}
}

func seconds(f float64) time.Duration { return time.Duration(f * float64(time.Second)) }

// visionAdapter narrows *vision.Loop to wsapi.Vision.
type visionAdapter struct{ loop *vision.Loop }

func (a *visionAdapter) Start() error { return a.loop.Start(nil) }
func (a *visionAdapter) Stop()        { a.loop.Stop() }
func (a *visionAdapter) IsRunning() bool {
	return a.loop.IsRunning()
}

func (a *visionAdapter) WaitSnapshot(ctx context.Context, timeout time.Duration) (string, bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if snap := a.loop.Snapshot(); snap != "" {
			return snap, true
		}
		select {
		case <-ctx.Done():
			return "", false
		case <-time.After(20 * time.Millisecond):
		}
	}
	return "", false
}
