// Package fakehw provides in-memory hardware stand-ins for -demo mode,
// grounded on original_source/Server/sandbox/mocks (mock_movement.py,
// mock_vision.py, mock_voice.py): a movement controller that logs
// instead of driving servos, a camera/pipeline pair that synthesizes
// wandering face detections, and a console-driven voice interface.
package fakehw

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"image/color"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/edmoltom/FNK0050-sub000/internal/conversation"
	"github.com/edmoltom/FNK0050-sub000/internal/detect"
	"github.com/edmoltom/FNK0050-sub000/internal/observability"
	"github.com/edmoltom/FNK0050-sub000/internal/vision"
)

// Movement is a no-hardware tracker.Movement/behavior.BodyMover/
// social.RelaxMover implementation that logs every command, mirroring
// MockMovementController's debug-log-only behavior.
type Movement struct {
	log *zerolog.Logger

	mu      sync.Mutex
	headDeg float64
}

// NewMovement constructs a Movement with head limits matching
// mock_movement.py's (-30, 30, center 0).
func NewMovement() *Movement {
	return &Movement{log: observability.For("fakehw.movement")}
}

func (m *Movement) TurnLeft(durationMS int, speed float64) {
	m.log.Debug().Int("duration_ms", durationMS).Float64("speed", speed).Msg("[MOCK] turn left")
}

func (m *Movement) TurnRight(durationMS int, speed float64) {
	m.log.Debug().Int("duration_ms", durationMS).Float64("speed", speed).Msg("[MOCK] turn right")
}

func (m *Movement) HeadDeg(angleDeg float64, durationMS int) {
	m.mu.Lock()
	m.headDeg = clampHead(angleDeg)
	m.mu.Unlock()
	m.log.Debug().Float64("angle_deg", angleDeg).Int("duration_ms", durationMS).Msg("[MOCK] move head")
}

func (m *Movement) HeadLimits() (min, max, center float64) { return -30.0, 30.0, 0.0 }

func (m *Movement) Stop() { m.log.Debug().Msg("[MOCK] stop") }

// Relax mirrors MockMovementController.relax.
func (m *Movement) Relax() { m.log.Debug().Msg("[MOCK] relax") }

// Walk implements wsapi.Movement, mirroring MovementControl.walk
// (original_source/Server/core/MovementControl.py) with a log instead
// of a gait driver.
func (m *Movement) Walk(vx, vy, omega float64) {
	m.log.Debug().Float64("vx", vx).Float64("vy", vy).Float64("omega", omega).Msg("[MOCK] walk")
}

func clampHead(deg float64) float64 {
	if deg < -30.0 {
		return -30.0
	}
	if deg > 30.0 {
		return 30.0
	}
	return deg
}

// AudioCue logs clip playback instead of driving a speaker.
type AudioCue struct {
	log *zerolog.Logger
}

// NewAudioCue constructs an AudioCue.
func NewAudioCue() *AudioCue { return &AudioCue{log: observability.For("fakehw.audio")} }

// Play implements social.AudioCue.
func (a *AudioCue) Play(clip string) error {
	a.log.Debug().Str("clip", clip).Msg("[MOCK] play")
	return nil
}

// Camera is a vision.CameraWorker that synthesizes a solid-color frame
// on every GetLatest call, standing in for a real camera driver.
type Camera struct {
	mu      sync.Mutex
	running bool
}

// NewCamera constructs a Camera.
func NewCamera() *Camera { return &Camera{} }

func (c *Camera) Start() error {
	c.mu.Lock()
	c.running = true
	c.mu.Unlock()
	return nil
}

func (c *Camera) Stop() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}

func (c *Camera) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Camera) GetLatest() (vision.Frame, bool) {
	c.mu.Lock()
	running := c.running
	c.mu.Unlock()
	if !running {
		return vision.Frame{}, false
	}
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	for y := 0; y < img.Bounds().Dy(); y += 16 {
		for x := 0; x < img.Bounds().Dx(); x += 16 {
			img.Set(x, y, color.Gray{Y: 128})
		}
	}
	return vision.Frame{Image: img, At: time.Now()}, true
}

// Pipeline is a vision.Pipeline that synthesizes a wandering face
// detection 80% of the time, mirroring mock_vision.py's
// get_latest_frame random detection generator.
type Pipeline struct {
	mu   sync.Mutex
	last detect.Detection
}

// NewPipeline constructs a Pipeline.
func NewPipeline() *Pipeline { return &Pipeline{} }

func (p *Pipeline) Process(frame vision.Frame, cfg vision.PipelineConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	faceDetected := rand.Float64() > 0.2
	d := detect.Detection{OK: faceDetected, FrameSpace: detect.Size{W: 640, H: 480}}
	if faceDetected {
		cx := 320.0 + (rand.Float64()*50.0 - 25.0)
		cy := 240.0 + (rand.Float64()*50.0 - 25.0)
		box := detect.Box{X: cx - 40, Y: cy - 40, W: 80, H: 80, Score: 0.9}
		d.BBox = &box
		d.Targets = []detect.Box{box}
	}
	p.last = d
	return nil
}

func (p *Pipeline) GetLastResult() (detect.Detection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, true
}

// Voice is a console-driven conversation.STT/TTS stand-in,
// mirroring mock_voice.py's input()/print() terminal loop.
type Voice struct {
	log *zerolog.Logger

	mu      sync.Mutex
	paused  bool
	stopped bool

	scanner *bufio.Scanner
	lines   chan string
}

// NewVoice constructs a Voice reading lines from stdin in the
// background, matching mock_voice.py's blocking input() call pattern
// adapted to the non-blocking Listen(timeout) contract.
func NewVoice() *Voice {
	v := &Voice{log: observability.For("fakehw.voice"), lines: make(chan string, 8)}
	v.scanner = bufio.NewScanner(os.Stdin)
	go v.readLoop()
	return v
}

func (v *Voice) readLoop() {
	for v.scanner.Scan() {
		v.mu.Lock()
		stopped := v.stopped
		v.mu.Unlock()
		if stopped {
			return
		}
		line := v.scanner.Text()
		select {
		case v.lines <- line:
		default:
		}
	}
}

// Listen implements conversation.STT.
func (v *Voice) Listen(timeout time.Duration) (string, bool) {
	v.mu.Lock()
	paused := v.paused
	v.mu.Unlock()
	if paused {
		time.Sleep(timeout)
		return "", false
	}
	select {
	case text := <-v.lines:
		v.log.Debug().Str("text", text).Msg("[MOCK] heard")
		return text, true
	case <-time.After(timeout):
		return "", false
	}
}

// Pause implements conversation.STT.
func (v *Voice) Pause() {
	v.mu.Lock()
	v.paused = true
	v.mu.Unlock()
}

// Resume implements conversation.STT.
func (v *Voice) Resume() {
	v.mu.Lock()
	v.paused = false
	v.mu.Unlock()
}

// Stop implements conversation.STT.
func (v *Voice) Stop() {
	v.mu.Lock()
	v.stopped = true
	v.mu.Unlock()
}

// Speak implements conversation.TTS by printing to stdout, mirroring
// mock_voice.py's speak().
func (v *Voice) Speak(text string) error {
	fmt.Println("[LUMO]:", text)
	v.log.Debug().Str("text", text).Msg("[MOCK] speaking")
	return nil
}

// LED is a conversation.LED stand-in that only logs state transitions.
type LED struct {
	log *zerolog.Logger
}

// NewLED constructs an LED.
func NewLED() *LED { return &LED{log: observability.For("fakehw.led")} }

// SetState implements conversation.LED.
func (l *LED) SetState(state string) { l.log.Debug().Str("state", state).Msg("[MOCK] led") }

// Close implements conversation.LED.
func (l *LED) Close() error { return nil }

// LLM is a canned-response conversation.LLMClient, grounded on
// original_source/tests/mock_llm.py's echo-style fake server.
type LLM struct {
	log *zerolog.Logger
}

// NewLLM constructs an LLM.
func NewLLM() *LLM { return &LLM{log: observability.For("fakehw.llm")} }

// Query implements conversation.LLMClient by echoing the latest user
// message back with a canned prefix, truncated to maxReplyChars.
func (l *LLM) Query(ctx context.Context, messages []conversation.Message, maxReplyChars int) (string, error) {
	text := lastUserContent(messages)
	reply := fmt.Sprintf("[MOCK] you said: %s", text)
	if maxReplyChars > 0 && len(reply) > maxReplyChars {
		reply = reply[:maxReplyChars]
	}
	l.log.Debug().Str("reply", reply).Msg("[MOCK] llm query")
	return reply, nil
}

// lastUserContent returns the final user-role message's content, the new
// turn BuildMessages always appends last.
func lastUserContent(messages []conversation.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}
