package behavior

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edmoltom/FNK0050-sub000/internal/conversation"
)

type fakeTracking struct {
	enabled []bool
}

func (f *fakeTracking) SetTrackingEnabled(enabled bool) { f.enabled = append(f.enabled, enabled) }

type fakeSocial struct {
	paused  int
	resumed int
	muted   []bool
}

func (f *fakeSocial) Pause()              { f.paused++ }
func (f *fakeSocial) Resume()             { f.resumed++ }
func (f *fakeSocial) MuteSocial(m bool)   { f.muted = append(f.muted, m) }

type fakeMover struct {
	stopCalls  int
	relaxCalls int
}

func (f *fakeMover) Stop()  { f.stopCalls++ }
func (f *fakeMover) Relax() { f.relaxCalls++ }

func TestCoordinator_ThinkEntersConverseMode(t *testing.T) {
	t.Parallel()

	tracking := &fakeTracking{}
	social := &fakeSocial{}
	mover := &fakeMover{}
	state := conversation.Think
	c := New(DefaultConfig(), func() conversation.State { return state }, tracking, social, mover, nil)

	c.tick()
	assert.Equal(t, ModeConverse, c.Mode())
	require.NotEmpty(t, tracking.enabled)
	assert.False(t, tracking.enabled[len(tracking.enabled)-1])
	assert.Equal(t, 1, social.paused)
	assert.Equal(t, 1, mover.stopCalls)
}

func TestCoordinator_AttentiveListenEntersSocialMode(t *testing.T) {
	t.Parallel()

	tracking := &fakeTracking{}
	social := &fakeSocial{}
	state := conversation.AttentiveListen
	c := New(DefaultConfig(), func() conversation.State { return state }, tracking, social, &fakeMover{}, nil)

	c.tick()
	assert.Equal(t, ModeSocial, c.Mode())
	assert.Equal(t, 1, social.resumed)
	require.NotEmpty(t, social.muted)
	assert.True(t, social.muted[len(social.muted)-1])
}

func TestCoordinator_WakeAfterEngagementStaysSocial(t *testing.T) {
	t.Parallel()

	social := &fakeSocial{}
	state := conversation.AttentiveListen
	c := New(DefaultConfig(), func() conversation.State { return state }, &fakeTracking{}, social, &fakeMover{}, nil)
	c.tick()
	require.Equal(t, ModeSocial, c.Mode())

	state = conversation.Wake
	c.tick()
	assert.Equal(t, ModeSocial, c.Mode(), "WAKE just after engagement should stay SOCIAL")
}

func TestCoordinator_WakeAtBootIsIdle(t *testing.T) {
	t.Parallel()

	mover := &fakeMover{}
	state := conversation.Wake
	c := New(DefaultConfig(), func() conversation.State { return state }, &fakeTracking{}, &fakeSocial{}, mover, nil)

	c.tick()
	assert.Equal(t, ModeIdle, c.Mode())
	assert.Equal(t, 1, mover.relaxCalls)

	c.tick() // same mode again: relax must not fire a second time
	assert.Equal(t, 1, mover.relaxCalls)
}

func TestCoordinator_TickRecoversFromPanickingCollaborator(t *testing.T) {
	t.Parallel()

	c := New(DefaultConfig(), func() conversation.State { panic("boom") }, nil, nil, nil, nil)
	assert.NotPanics(t, func() { c.tick() })
}

func TestCoordinator_StartStopIsIdempotent(t *testing.T) {
	t.Parallel()

	cfg := Config{PollInterval: 5 * time.Millisecond}
	c := New(cfg, func() conversation.State { return conversation.Wake }, &fakeTracking{}, &fakeSocial{}, &fakeMover{}, nil)
	c.Start()
	time.Sleep(20 * time.Millisecond)
	c.Stop()
	c.Stop() // no-op
}
