// Package behavior implements BehaviorCoordinator from spec.md §4.I: a
// periodic poll that arbitrates between the conversation FSM and the
// social FSM so they never fight for the body. There is no single
// original_source file this is grounded on directly — spec.md §4.I's
// mode table is implemented literally, composed from the already-ported
// conversation.FSM and social.FSM primitives.
package behavior

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/edmoltom/FNK0050-sub000/internal/conversation"
	"github.com/edmoltom/FNK0050-sub000/internal/observability"
	"github.com/edmoltom/FNK0050-sub000/internal/rclock"
)

// Mode is the arbitrated high-level behavior mode.
type Mode int

const (
	ModeIdle Mode = iota
	ModeSocial
	ModeConverse
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "IDLE"
	case ModeSocial:
		return "SOCIAL"
	case ModeConverse:
		return "CONVERSE"
	default:
		return "UNKNOWN"
	}
}

// Tracking is implemented by whatever enables/disables face/target
// tracking (typically the vision loop or the VisualTracker's enable
// flags).
type Tracking interface {
	SetTrackingEnabled(enabled bool)
}

// SocialController is the subset of social.FSM the coordinator drives.
type SocialController interface {
	Pause()
	Resume()
	MuteSocial(muted bool)
}

// BodyMover is the subset of motion control the coordinator drives
// directly, bypassing SocialFSM/VisualTracker while in CONVERSE mode.
type BodyMover interface {
	Stop()
	Relax()
}

// ConversationStateSource reports the current conversation.State,
// typically conversation.FSM.State or a bus-fed accessor.
type ConversationStateSource func() conversation.State

// Config configures a Coordinator.
type Config struct {
	PollInterval time.Duration
}

// DefaultConfig mirrors spec.md §4.I's 0.5s default poll.
func DefaultConfig() Config {
	return Config{PollInterval: 500 * time.Millisecond}
}

// Coordinator runs the periodic poll described in spec.md §4.I.
type Coordinator struct {
	cfg      Config
	convState ConversationStateSource
	tracking Tracking
	social   SocialController
	mover    BodyMover
	log      *zerolog.Logger

	mode        Mode
	hasEngaged  bool
	relaxedOnce bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Coordinator; Start must be called to begin polling.
func New(cfg Config, convState ConversationStateSource, tracking Tracking, social SocialController, mover BodyMover, log *zerolog.Logger) *Coordinator {
	if log == nil {
		log = observability.For("behavior_coordinator")
	}
	return &Coordinator{
		cfg:       cfg,
		convState: convState,
		tracking:  tracking,
		social:    social,
		mover:     mover,
		log:       log,
		mode:      ModeIdle,
	}
}

// Mode returns the coordinator's last-decided mode.
func (c *Coordinator) Mode() Mode { return c.mode }

// Start launches the poll loop goroutine.
func (c *Coordinator) Start() {
	if c.stopCh != nil {
		return
	}
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	go c.run()
}

// Stop idempotently halts the poll loop and blocks until it exits.
func (c *Coordinator) Stop() {
	if c.stopCh == nil {
		return
	}
	close(c.stopCh)
	<-c.doneCh
	c.stopCh = nil
	c.doneCh = nil
}

func (c *Coordinator) run() {
	defer close(c.doneCh)
	for {
		c.tick()
		if rclock.WaitWithCancel(c.cfg.PollInterval, c.stopCh).Canceled {
			return
		}
	}
}

// tick evaluates the mode table once. It recovers from any panicking
// subsystem call so a single bad collaborator cannot abort the
// coordinator, per spec.md §4.I.
func (c *Coordinator) tick() {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Msg("behavior coordinator tick failed")
		}
	}()

	state := c.convState()
	newMode := c.decideMode(state)
	if newMode == c.mode {
		return
	}

	c.log.Info().Str("from", c.mode.String()).Str("to", newMode.String()).Msg("behavior mode change")
	c.mode = newMode
	c.apply(newMode)
}

func (c *Coordinator) decideMode(state conversation.State) Mode {
	switch state {
	case conversation.Think, conversation.Speak:
		c.hasEngaged = true
		return ModeConverse
	case conversation.AttentiveListen:
		c.hasEngaged = true
		return ModeSocial
	case conversation.Wake:
		if c.hasEngaged {
			return ModeSocial
		}
		return ModeIdle
	default:
		return ModeIdle
	}
}

func (c *Coordinator) apply(mode Mode) {
	switch mode {
	case ModeConverse:
		if c.tracking != nil {
			c.tracking.SetTrackingEnabled(false)
		}
		if c.social != nil {
			c.social.Pause()
		}
		if c.mover != nil {
			c.mover.Stop()
		}
		c.relaxedOnce = false
	case ModeSocial:
		if c.tracking != nil {
			c.tracking.SetTrackingEnabled(true)
		}
		if c.social != nil {
			c.social.Resume()
			c.social.MuteSocial(true)
		}
		c.relaxedOnce = false
	case ModeIdle:
		if c.tracking != nil {
			c.tracking.SetTrackingEnabled(true)
		}
		if c.social != nil {
			c.social.Resume()
			c.social.MuteSocial(false)
		}
		if c.mover != nil && !c.relaxedOnce {
			c.mover.Relax()
			c.relaxedOnce = true
		}
	}
}
