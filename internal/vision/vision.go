// Package vision implements VisionLoop from spec.md §4.C: a fixed-rate
// capture→pipeline→publish loop with ROI feedback, JPEG snapshotting,
// and rolling metrics. There is no single original_source file this
// maps onto 1:1 (the Python source drives vision via an async task
// inside app/controllers); the loop shape is grounded on rclock's
// self-correcting ticker and bus's lossy broadcast, both already
// ported from VoiceInterface.py/llama_server_process.py's polling idioms.
package vision

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/edmoltom/FNK0050-sub000/internal/bus"
	"github.com/edmoltom/FNK0050-sub000/internal/detect"
	"github.com/edmoltom/FNK0050-sub000/internal/observability"
	"github.com/edmoltom/FNK0050-sub000/internal/rclock"
)

// Frame is a captured camera frame with its capture timestamp.
type Frame struct {
	Image image.Image
	At    time.Time
}

// PipelineConfig is passed to Pipeline.Process each tick.
type PipelineConfig struct {
	ROI            *detect.Box
	ReturnOverlay bool
}

// Pipeline is the detection backend consumed by VisionLoop (spec.md §6).
type Pipeline interface {
	Process(frame Frame, cfg PipelineConfig) error
	GetLastResult() (detect.Detection, bool)
}

// CameraWorker is the frame source consumed by VisionLoop (spec.md §6).
type CameraWorker interface {
	Start() error
	Stop()
	GetLatest() (Frame, bool)
	IsRunning() bool
}

// FrameHandler is invoked synchronously, in-order, after each successful
// detection, before the Bus publish (spec.md §5 ordering guarantees).
type FrameHandler func(d detect.Detection, dt float64)

// Metrics is the rolling 5s-window snapshot described in spec.md §4.C.
type Metrics struct {
	AvgDetectTime time.Duration
	AvgEncodeTime time.Duration
	FPS           float64
	ROICoverage   float64
}

// Config configures a Loop.
type Config struct {
	IntervalSec          float64
	StalenessThreshold   time.Duration
	DetectionThrottle    time.Duration
	MaxCaptureFailures   int
	MetricsWindow        time.Duration
}

// DefaultConfig mirrors spec.md §4.C's named constants.
func DefaultConfig() Config {
	return Config{
		IntervalSec:        1.0,
		StalenessThreshold: 200 * time.Millisecond,
		DetectionThrottle:  200 * time.Millisecond,
		MaxCaptureFailures: 10,
		MetricsWindow:      5 * time.Second,
	}
}

type sample struct {
	at         time.Time
	detectTime time.Duration
	encodeTime time.Duration
	roiSet     bool
}

// Loop is the VisionLoop. start()/stop() are idempotent.
type Loop struct {
	cfg     Config
	camera  CameraWorker
	pipeline Pipeline
	log     *zerolog.Logger

	mu      sync.Mutex
	roi     *detect.Box
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	lastErr error

	lastDetectionAt time.Time

	snapMu   sync.Mutex
	snapshot string // base64 JPEG

	metricsMu sync.Mutex
	samples   []sample

	detections *bus.Bus[detect.Detection]
}

// New constructs a Loop. detections may be shared across Loop instances
// that publish to the same Bus.
func New(cfg Config, camera CameraWorker, pipeline Pipeline, detections *bus.Bus[detect.Detection], log *zerolog.Logger) *Loop {
	if log == nil {
		log = observability.For("vision_loop")
	}
	if detections == nil {
		detections = bus.New[detect.Detection]()
	}
	return &Loop{cfg: cfg, camera: camera, pipeline: pipeline, detections: detections, log: log}
}

// Detections returns the Bus detections are published to.
func (l *Loop) Detections() *bus.Bus[detect.Detection] { return l.detections }

// SetROI is thread-safe, used by the tracker to crop inference.
func (l *Loop) SetROI(b *detect.Box) {
	l.mu.Lock()
	l.roi = b
	l.mu.Unlock()
}

// LastError returns the error that caused the loop to exit, if any.
func (l *Loop) LastError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

// Snapshot returns the latest JPEG-encoded frame as base64, or "" if
// none has been encoded yet.
func (l *Loop) Snapshot() string {
	l.snapMu.Lock()
	defer l.snapMu.Unlock()
	return l.snapshot
}

// IsRunning reports whether the loop's goroutine is active.
func (l *Loop) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Start is idempotent: opens the camera worker if needed and spawns the
// loop goroutine at the configured fixed period.
func (l *Loop) Start(frameHandler FrameHandler) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return nil
	}
	l.lastErr = nil
	l.mu.Unlock()

	if !l.camera.IsRunning() {
		if err := l.camera.Start(); err != nil {
			return err
		}
	}

	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	l.mu.Lock()
	l.running = true
	l.stopCh = stopCh
	l.doneCh = doneCh
	l.mu.Unlock()

	go l.run(frameHandler, stopCh, doneCh)
	return nil
}

// Stop is idempotent: cancels the loop, joins within 1s, releases the
// camera.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	stopCh, doneCh := l.stopCh, l.doneCh
	l.mu.Unlock()

	close(stopCh)
	select {
	case <-doneCh:
	case <-time.After(1 * time.Second):
		l.log.Error().Msg("vision loop did not join within 1s")
	}

	l.mu.Lock()
	l.running = false
	l.stopCh = nil
	l.doneCh = nil
	l.mu.Unlock()

	l.camera.Stop()
}

func (l *Loop) run(frameHandler FrameHandler, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	period := time.Duration(l.cfg.IntervalSec * float64(time.Second))
	ticker := rclock.NewTicker(period)
	defer ticker.Stop()

	consecutiveFailures := 0
	var lastTick time.Time

	for {
		select {
		case <-stopCh:
			return
		case now, ok := <-ticker.C:
			if !ok {
				return
			}

			frame, ok := l.camera.GetLatest()
			if !ok || now.Sub(frame.At) > l.cfg.StalenessThreshold {
				consecutiveFailures++
				if consecutiveFailures >= l.cfg.MaxCaptureFailures {
					l.mu.Lock()
					l.lastErr = errCaptureFailures
					l.running = false
					l.mu.Unlock()
					l.log.Error().Msg("vision loop: too many consecutive capture failures, exiting")
					return
				}
				continue
			}
			consecutiveFailures = 0

			if !lastTick.IsZero() && now.Sub(lastTick) < l.cfg.DetectionThrottle {
				continue
			}

			l.processFrame(frame, now, frameHandler)
			lastTick = now
		}
	}
}

var errCaptureFailures = captureError("too many consecutive capture failures")

type captureError string

func (e captureError) Error() string { return string(e) }

var jpegBufferPool = sync.Pool{New: func() any { return new(bytes.Buffer) }}

func (l *Loop) processFrame(frame Frame, now time.Time, frameHandler FrameHandler) {
	l.mu.Lock()
	roi := l.roi
	l.mu.Unlock()

	detectStart := rclock.Now()
	if err := l.pipeline.Process(frame, PipelineConfig{ROI: roi}); err != nil {
		l.log.Warn().Err(err).Msg("pipeline process failed, frame skipped")
		return
	}
	detectTime := rclock.Now().Sub(detectStart)

	d, ok := l.pipeline.GetLastResult()
	if !ok {
		return
	}

	dt := 0.0
	if !l.lastDetectionAt.IsZero() {
		dt = now.Sub(l.lastDetectionAt).Seconds()
	}
	l.lastDetectionAt = now

	if frameHandler != nil {
		frameHandler(d, dt)
	}
	l.detections.Publish(d)

	encodeStart := rclock.Now()
	l.encodeSnapshot(frame)
	encodeTime := rclock.Now().Sub(encodeStart)

	l.recordSample(sample{at: now, detectTime: detectTime, encodeTime: encodeTime, roiSet: roi != nil})
}

func (l *Loop) encodeSnapshot(frame Frame) {
	if frame.Image == nil {
		return
	}
	buf := jpegBufferPool.Get().(*bytes.Buffer)
	defer jpegBufferPool.Put(buf)
	buf.Reset()

	if err := jpeg.Encode(buf, frame.Image, &jpeg.Options{Quality: 80}); err != nil {
		l.log.Warn().Err(err).Msg("jpeg encode failed")
		return
	}
	encoded := base64.StdEncoding.EncodeToString(buf.Bytes())

	l.snapMu.Lock()
	l.snapshot = encoded
	l.snapMu.Unlock()
}

func (l *Loop) recordSample(s sample) {
	l.metricsMu.Lock()
	defer l.metricsMu.Unlock()
	l.samples = append(l.samples, s)
	cutoff := s.at.Add(-l.cfg.MetricsWindow)
	i := 0
	for i < len(l.samples) && l.samples[i].at.Before(cutoff) {
		i++
	}
	l.samples = l.samples[i:]
}

// Metrics computes the rolling 5s-window averages described in
// spec.md §4.C.
func (l *Loop) Metrics() Metrics {
	l.metricsMu.Lock()
	defer l.metricsMu.Unlock()
	if len(l.samples) == 0 {
		return Metrics{}
	}

	var totalDetect, totalEncode time.Duration
	var roiCount int
	for _, s := range l.samples {
		totalDetect += s.detectTime
		totalEncode += s.encodeTime
		if s.roiSet {
			roiCount++
		}
	}
	n := len(l.samples)
	span := l.samples[n-1].at.Sub(l.samples[0].at).Seconds()
	fps := 0.0
	if span > 0 {
		fps = float64(n-1) / span
	}
	return Metrics{
		AvgDetectTime: totalDetect / time.Duration(n),
		AvgEncodeTime: totalEncode / time.Duration(n),
		FPS:           fps,
		ROICoverage:   float64(roiCount) / float64(n),
	}
}
