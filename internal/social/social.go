// Package social implements the Social FSM from spec.md §4.E:
// IDLE/ALIGNING/INTERACT transitions driven by face/target alignment,
// composed on top of a tracker.VisualTracker. Grounded on
// original_source/Server/app/controllers/social_fsm.py.
package social

import (
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/edmoltom/FNK0050-sub000/internal/config"
	"github.com/edmoltom/FNK0050-sub000/internal/detect"
	"github.com/edmoltom/FNK0050-sub000/internal/observability"
	"github.com/edmoltom/FNK0050-sub000/internal/rclock"
	"github.com/edmoltom/FNK0050-sub000/internal/tracker"
)

// State is one of the three SocialFSM states.
type State int

const (
	IDLE State = iota
	ALIGNING
	INTERACT
)

func (s State) String() string {
	switch s {
	case IDLE:
		return "IDLE"
	case ALIGNING:
		return "ALIGNING"
	case INTERACT:
		return "INTERACT"
	default:
		return "UNKNOWN"
	}
}

// RelaxMover is the subset of the movement interface SocialFSM uses
// directly, distinct from tracker.Movement (spec.md §6).
type RelaxMover interface {
	Stop()
	Relax()
}

// AudioCue plays the INTERACT entry cue. A nil AudioCue degrades to a
// log line, mirroring social_fsm.py's `_on_interact` fallback.
type AudioCue interface {
	Play(clip string) error
}

// Snapshot is an immutable view of SocialState (spec.md §3), safe to
// publish on a bus.Bus.
type Snapshot struct {
	State     State
	MissCount int
	LockCount int
}

// FSM is the Social FSM. All mutable fields are owned exclusively by the
// goroutine calling OnFrame; external readers use Snapshot.
type FSM struct {
	cfg      config.SocialFSMConfig
	tracker  *tracker.VisualTracker
	mover    RelaxMover
	audio    AudioCue
	log      *zerolog.Logger

	mu       sync.Mutex
	snapshot Snapshot

	state        State
	missFrames   int
	lockFrames   int
	interactUntil time.Time
	lastActive   time.Time
	driftUntil   time.Time
	driftSet     bool
	idleStopped  bool

	paused bool
	muted  bool

	nextMeowAllowed time.Time

	onEnter func(State)
	onExit  func(State)
}

// Option configures optional callbacks on New.
type Option func(*FSM)

// WithOnEnter registers a callback invoked whenever the FSM enters a
// new state (after the state field has been updated).
func WithOnEnter(f func(State)) Option { return func(fsm *FSM) { fsm.onEnter = f } }

// WithOnExit registers a callback invoked whenever the FSM leaves a
// state (before the state field changes).
func WithOnExit(f func(State)) Option { return func(fsm *FSM) { fsm.onExit = f } }

// New constructs a Social FSM in the IDLE state.
func New(cfg config.SocialFSMConfig, vt *tracker.VisualTracker, mover RelaxMover, audio AudioCue, log *zerolog.Logger, opts ...Option) *FSM {
	if log == nil {
		log = observability.For("social_fsm")
	}
	now := rclock.Now()
	fsm := &FSM{
		cfg:        cfg,
		tracker:    vt,
		mover:      mover,
		audio:      audio,
		log:        log,
		state:      IDLE,
		lastActive: now,
		snapshot:   Snapshot{State: IDLE},
	}
	for _, o := range opts {
		o(fsm)
	}
	return fsm
}

// Snapshot returns a copy of the current SocialState.
func (f *FSM) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot
}

// Pause freezes the FSM: OnFrame still delegates to the tracker (so
// head tracking + lock bookkeeping keep running) but transitions are
// suppressed.
func (f *FSM) Pause() { f.paused = true }

// Resume un-freezes the FSM.
func (f *FSM) Resume() { f.paused = false }

// MuteSocial suppresses (or restores) the INTERACT audio cue without
// affecting state transitions.
func (f *FSM) MuteSocial(muted bool) { f.muted = muted }

func (f *FSM) publish() {
	f.mu.Lock()
	f.snapshot = Snapshot{State: f.state, MissCount: f.missFrames, LockCount: f.lockFrames}
	f.mu.Unlock()
}

func (f *FSM) setState(newState State) {
	if newState == f.state {
		return
	}
	if f.onExit != nil {
		f.onExit(f.state)
	}
	f.log.Info().Str("from", f.state.String()).Str("to", newState.String()).Msg("social_fsm transition")
	f.state = newState
	if newState == INTERACT {
		f.interactUntil = rclock.Now().Add(time.Duration(float64(f.cfg.InteractMS) * float64(time.Millisecond)))
		f.onInteract()
	}
	if newState != INTERACT {
		f.lockFrames = 0
	}
	if f.onEnter != nil {
		f.onEnter(newState)
	}
}

func (f *FSM) onInteract() {
	f.lastActive = rclock.Now()
	if f.muted {
		return
	}
	now := rclock.Now()
	if now.Before(f.nextMeowAllowed) {
		return
	}
	spread := f.cfg.MeowCooldownMaxS - f.cfg.MeowCooldownMinS
	cooldown := f.cfg.MeowCooldownMinS
	if spread > 0 {
		cooldown += rand.Float64() * spread
	}
	f.nextMeowAllowed = now.Add(time.Duration(cooldown * float64(time.Second)))
	if f.audio != nil {
		if err := f.audio.Play("meow1.wav"); err != nil {
			f.log.Info().Err(err).Msg("meow cue failed")
		}
		return
	}
	f.log.Info().Msg("meow")
}

// OnFrame processes one Detection with elapsed wall-clock dt seconds,
// mirroring social_fsm.py's on_frame exactly (transition guards,
// relax-on-idle-timeout, movement.stop() bookkeeping).
func (f *FSM) OnFrame(d detect.Detection, dt float64) {
	if f.tracker != nil {
		f.tracker.Update(d, dt)
	}

	hasTarget := d.OK && len(d.Targets) > 0
	ex := 0.0
	if hasTarget {
		ex = tracker.LastEx(d)
	}

	now := rclock.Now()
	if hasTarget {
		f.missFrames = 0
		f.lastActive = now
	} else {
		f.missFrames++
		f.lockFrames = 0
		if now.Sub(f.lastActive).Seconds() > f.cfg.RelaxTimeoutS {
			if f.mover != nil {
				f.mover.Relax()
			}
			f.lastActive = now
		}
	}

	defer f.publish()

	if f.paused {
		return
	}

	if f.state == INTERACT {
		if f.missFrames >= f.cfg.MissRelease || !now.Before(f.interactUntil) {
			f.setState(IDLE)
			return
		}
		if absF(ex) > f.cfg.DeadbandX {
			f.lockFrames = 0
			if !f.driftSet {
				f.driftUntil = now.Add(400 * time.Millisecond)
				f.driftSet = true
			}
			if !now.Before(f.driftUntil) {
				f.setState(ALIGNING)
			}
		} else {
			f.driftSet = false
		}
		return
	}

	if !hasTarget {
		if f.missFrames >= f.cfg.MissRelease {
			f.setState(IDLE)
		}
	} else {
		if f.state == IDLE {
			f.setState(ALIGNING)
		}
		if absF(ex) <= f.cfg.DeadbandX {
			f.lockFrames++
			if f.lockFrames >= f.cfg.LockFramesNeeded {
				f.setState(INTERACT)
			}
		} else {
			f.lockFrames = 0
		}
	}

	// Mirrors social_fsm.py's on_frame tail exactly: idleStopped toggles
	// off on every other tick while IDLE, so Stop() is re-issued
	// periodically rather than exactly once on entry.
	if f.state == IDLE && !f.idleStopped {
		if f.mover != nil {
			f.mover.Stop()
		}
		f.idleStopped = true
	} else {
		f.idleStopped = false
	}
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
