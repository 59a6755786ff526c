// Package tracker implements the two-axis visual tracker from spec.md
// §4.D: an in-place-turn controller on the X axis and a head-pitch PID
// controller on the Y axis, composed by VisualTracker. Grounded on
// original_source/Server/app/controllers/tracker.py (AxisXTurnController,
// AxisYHeadController, ObjectTracker).
package tracker

import (
	"math"

	"github.com/rs/zerolog"

	"github.com/edmoltom/FNK0050-sub000/internal/detect"
	"github.com/edmoltom/FNK0050-sub000/internal/observability"
)

// Movement is the minimal motion interface consumed by VisualTracker
// (spec.md §6). The concrete servo/gait driver lives outside this module.
type Movement interface {
	TurnLeft(durationMS int, speed float64)
	TurnRight(durationMS int, speed float64)
	HeadDeg(angleDeg float64, durationMS int)
	HeadLimits() (min, max, center float64)
	Stop()
}

// ROISetter is implemented by a vision loop that accepts ROI feedback
// from the tracker's lock state (spec.md §4.C set_roi).
type ROISetter interface {
	SetROI(box *detect.Box)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// PID is a minimal incremental PID, grounded on
// original_source/Server/core/PID.py's Incremental_PID: PID_compute simply
// evaluates kp*error + ki*integral + kd*derivative against a fixed
// set-point of zero (the tracker always feeds it a normalized error).
type PID struct {
	Kp, Ki, Kd float64

	integral float64
	prevErr  float64
	hasPrev  bool
}

// Compute returns the PID output for the given error, accumulating
// integral/derivative state across calls.
func (p *PID) Compute(errVal float64) float64 {
	p.integral += errVal
	derivative := 0.0
	if p.hasPrev {
		derivative = errVal - p.prevErr
	}
	p.prevErr = errVal
	p.hasPrev = true
	return p.Kp*errVal + p.Ki*p.integral + p.Kd*derivative
}

// AxisXConfig configures AxisXTurnController.
type AxisXConfig struct {
	DeadbandX  float64
	KTurn      float64
	BasePulse  float64 // ms
	MinPulse   float64 // ms
	MaxPulse   float64 // ms
	TurnSpeed  float64
}

// DefaultAxisXConfig mirrors tracker.py's AxisXTurnController field
// defaults.
func DefaultAxisXConfig() AxisXConfig {
	return AxisXConfig{
		DeadbandX: 0.12,
		KTurn:     0.8,
		BasePulse: 120,
		MinPulse:  60,
		MaxPulse:  180,
		TurnSpeed: 0.3,
	}
}

// AxisXTurnController pulses in-place turns to reduce horizontal error.
type AxisXTurnController struct {
	cfg      AxisXConfig
	movement Movement
	enabled  bool
	cooldown float64 // seconds remaining
}

// NewAxisXTurnController constructs an enabled controller.
func NewAxisXTurnController(cfg AxisXConfig, movement Movement) *AxisXTurnController {
	return &AxisXTurnController{cfg: cfg, movement: movement, enabled: true}
}

// SetEnabled toggles whether Update issues turn pulses.
func (a *AxisXTurnController) SetEnabled(enabled bool) { a.enabled = enabled }

// Tick decrements the cooldown timer by dt seconds, floored at zero.
func (a *AxisXTurnController) Tick(dt float64) {
	if a.cooldown > 0 {
		a.cooldown = math.Max(0, a.cooldown-math.Max(0, dt))
	}
}

// Reset clears the cooldown timer.
func (a *AxisXTurnController) Reset() { a.cooldown = 0 }

// Cooldown reports the remaining cooldown in seconds.
func (a *AxisXTurnController) Cooldown() float64 { return a.cooldown }

// Update advances the cooldown and, if eligible, issues a single turn
// pulse sized by clamp(base*min(1, |ex|*k), min, max).
func (a *AxisXTurnController) Update(ex, dt float64) {
	a.Tick(dt)
	if !a.enabled || a.cooldown > 0 {
		return
	}
	if math.Abs(ex) <= a.cfg.DeadbandX {
		return
	}

	scale := math.Min(1.0, math.Abs(ex)*a.cfg.KTurn)
	pulse := clamp(a.cfg.BasePulse*scale, a.cfg.MinPulse, a.cfg.MaxPulse)
	if pulse <= 0 {
		return
	}

	durationMS := int(pulse)
	if ex > 0 {
		a.movement.TurnRight(durationMS, a.cfg.TurnSpeed)
	} else {
		a.movement.TurnLeft(durationMS, a.cfg.TurnSpeed)
	}
	a.cooldown = pulse / 1000.0
}

// AxisYConfig configures AxisYHeadController.
type AxisYConfig struct {
	PID                PID
	PIDScale           float64
	EMAAlpha           float64
	ErrorThreshold     float64
	DeltaLimitDeg      float64
	HeadDurationMS      int
	RecenterSpeedDeg   float64
	RecenterDurationMS int
}

// DefaultAxisYConfig mirrors tracker.py's AxisYHeadController defaults
// (Incremental_PID(20.0, 0.0, 5.0), pid_scale 0.1, ema_alpha 0.2, ...).
func DefaultAxisYConfig() AxisYConfig {
	return AxisYConfig{
		PID:                PID{Kp: 20.0, Ki: 0.0, Kd: 5.0},
		PIDScale:           0.1,
		EMAAlpha:           0.2,
		ErrorThreshold:     0.05,
		DeltaLimitDeg:      3.0,
		HeadDurationMS:      100,
		RecenterSpeedDeg:   5.0,
		RecenterDurationMS: 150,
	}
}

// AxisYHeadController smooths the target's vertical center with an EMA
// and drives head pitch via PID, recentering after prolonged target loss.
type AxisYHeadController struct {
	cfg      AxisYConfig
	movement Movement
	enabled  bool

	emaCenter    *float64
	currentHead  float64
}

// NewAxisYHeadController constructs an enabled controller, initializing
// the head target to the movement interface's center position.
func NewAxisYHeadController(cfg AxisYConfig, movement Movement) *AxisYHeadController {
	_, _, center := movement.HeadLimits()
	return &AxisYHeadController{cfg: cfg, movement: movement, enabled: true, currentHead: center}
}

// SetEnabled toggles whether Update/Recenter drive the head servo.
func (a *AxisYHeadController) SetEnabled(enabled bool) { a.enabled = enabled }

// CurrentHeadDeg returns the controller's last commanded head angle.
func (a *AxisYHeadController) CurrentHeadDeg() float64 { return a.currentHead }

// Reset clears the EMA state after target loss.
func (a *AxisYHeadController) Reset() { a.emaCenter = nil }

func (a *AxisYHeadController) applyDelta(delta float64) {
	minDeg, maxDeg, _ := a.movement.HeadLimits()
	target := clamp(a.currentHead+delta, minDeg, maxDeg)
	if target == a.currentHead {
		return
	}
	a.currentHead = target
	a.movement.HeadDeg(a.currentHead, a.cfg.HeadDurationMS)
}

// Update feeds one target observation and returns the normalized
// vertical error, or nil if the frame space has zero height.
func (a *AxisYHeadController) Update(target detect.Box, space detect.Size) *float64 {
	if space.H <= 0 {
		return nil
	}

	centerY := target.Y + target.H/2.0
	if a.emaCenter == nil {
		v := centerY
		a.emaCenter = &v
	} else {
		v := a.cfg.EMAAlpha*centerY + (1-a.cfg.EMAAlpha)*(*a.emaCenter)
		a.emaCenter = &v
	}

	mid := space.H / 2.0
	if mid <= 0 {
		return nil
	}

	errVal := (*a.emaCenter - mid) / mid
	if math.Abs(errVal) < a.cfg.ErrorThreshold {
		return &errVal
	}

	delta := clamp(a.cfg.PID.Compute(errVal)*a.cfg.PIDScale, -a.cfg.DeltaLimitDeg, a.cfg.DeltaLimitDeg)
	if a.enabled {
		a.applyDelta(delta)
	}
	return &errVal
}

// Recenter slews the head back toward center at up to RecenterSpeedDeg
// degrees per second, used after miss_release + recenter_after misses.
func (a *AxisYHeadController) Recenter(dt float64) {
	if !a.enabled {
		return
	}
	minDeg, maxDeg, center := a.movement.HeadLimits()
	diff := center - a.currentHead
	if diff == 0 {
		return
	}
	maxStep := math.Max(0, a.cfg.RecenterSpeedDeg*dt)
	if maxStep <= 0 {
		return
	}
	step := clamp(diff, -maxStep, maxStep)
	newDeg := clamp(a.currentHead+step, minDeg, maxDeg)
	if newDeg == a.currentHead {
		return
	}
	a.currentHead = newDeg
	a.movement.HeadDeg(a.currentHead, a.cfg.RecenterDurationMS)
}

// Config bundles the two axis configs plus the lock-state thresholds for
// VisualTracker.
type Config struct {
	AxisX AxisXConfig
	AxisY AxisYConfig

	LockFramesNeeded int
	MissRelease      int
	RecenterAfter    int // extra misses beyond MissRelease before recentering
}

// DefaultConfig mirrors the ObjectTracker defaults in tracker.py.
func DefaultConfig() Config {
	return Config{
		AxisX:            DefaultAxisXConfig(),
		AxisY:             DefaultAxisYConfig(),
		LockFramesNeeded: 3,
		MissRelease:      5,
		RecenterAfter:    40,
	}
}

// LockState mirrors spec.md §3's TrackerControllerState lock fields.
type LockState struct {
	HadTarget bool
	Locked    bool
	FaceCount int
	MissCount int
}

// VisualTracker composes the X and Y axis controllers and owns the lock
// state machine plus ROI feedback (spec.md §4.D).
type VisualTracker struct {
	cfg      Config
	movement Movement
	roi      ROISetter
	log      *zerolog.Logger

	X *AxisXTurnController
	Y *AxisYHeadController

	lock LockState
}

// New constructs a VisualTracker. roi may be nil if the vision loop does
// not support ROI feedback.
func New(cfg Config, movement Movement, roi ROISetter, log *zerolog.Logger) *VisualTracker {
	if log == nil {
		log = observability.For("tracker")
	}
	return &VisualTracker{
		cfg:      cfg,
		movement: movement,
		roi:      roi,
		log:      log,
		X:        NewAxisXTurnController(cfg.AxisX, movement),
		Y:        NewAxisYHeadController(cfg.AxisY, movement),
	}
}

// Lock returns a copy of the current lock state.
func (t *VisualTracker) Lock() LockState { return t.lock }

// Update processes one Detection and advances both axis controllers,
// the lock state machine, and ROI feedback, mirroring ObjectTracker.update.
func (t *VisualTracker) Update(d detect.Detection, dt float64) {
	if !d.OK || len(d.Targets) == 0 {
		if t.lock.HadTarget {
			t.log.Info().Msg("target lost")
			t.lock.HadTarget = false
		}
		t.lock.FaceCount = 0
		t.lock.MissCount++
		t.Y.Reset()
		if t.lock.Locked && t.lock.MissCount >= t.cfg.MissRelease {
			t.lock.Locked = false
			if t.roi != nil {
				t.roi.SetROI(nil)
			}
			t.log.Info().Msg("target lock released")
		}
		t.movement.Stop()
		t.X.Tick(dt)
		if t.lock.MissCount >= t.cfg.MissRelease+t.cfg.RecenterAfter {
			t.Y.Recenter(dt)
		}
		return
	}

	target, ok := d.LargestTarget()
	if !ok {
		t.X.Tick(dt)
		return
	}
	space := d.FrameSpace
	if space.W <= 0 || space.H <= 0 {
		t.X.Tick(dt)
		return
	}

	t.lock.MissCount = 0
	t.lock.FaceCount++
	if !t.lock.Locked && t.lock.FaceCount >= t.cfg.LockFramesNeeded {
		t.lock.Locked = true
		t.log.Info().Msg("target lock acquired")
	}
	if !t.lock.HadTarget {
		t.log.Info().Msg("target detected")
		t.lock.HadTarget = true
	}

	centerX := target.X + target.W/2.0
	ex := 0.0
	if space.W > 0 {
		ex = (centerX - space.W/2.0) / (space.W / 2.0)
	}
	t.X.Update(ex, dt)
	t.Y.Update(target, space)

	if t.roi != nil {
		if t.lock.Locked {
			marginX := target.W * 0.2
			marginY := target.H * 0.2
			roiX := math.Max(0, target.X-marginX)
			roiY := math.Max(0, target.Y-marginY)
			roiW := math.Min(space.W-roiX, target.W+2*marginX)
			roiH := math.Min(space.H-roiY, target.H+2*marginY)
			t.roi.SetROI(&detect.Box{X: roiX, Y: roiY, W: roiW, H: roiH})
		} else {
			t.roi.SetROI(nil)
		}
	}
}

// LastEx returns the horizontal error computed for the given detection
// without mutating controller state — used by SocialFSM to evaluate its
// own transition guards against the same geometry the tracker used.
func LastEx(d detect.Detection) float64 {
	target, ok := d.LargestTarget()
	if !ok || d.FrameSpace.W <= 0 {
		return 0
	}
	centerX := target.X + target.W/2.0
	return (centerX - d.FrameSpace.W/2.0) / (d.FrameSpace.W / 2.0)
}
