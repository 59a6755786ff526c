package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edmoltom/FNK0050-sub000/internal/detect"
)

type fakeMovement struct {
	turnRightCalls int
	turnLeftCalls  int
	lastPulseMS    int
	headCalls      int
	lastHeadDeg    float64
	stopCalls      int
}

func (f *fakeMovement) TurnLeft(durationMS int, speed float64) {
	f.turnLeftCalls++
	f.lastPulseMS = durationMS
}

func (f *fakeMovement) TurnRight(durationMS int, speed float64) {
	f.turnRightCalls++
	f.lastPulseMS = durationMS
}

func (f *fakeMovement) HeadDeg(angleDeg float64, durationMS int) {
	f.headCalls++
	f.lastHeadDeg = angleDeg
}

func (f *fakeMovement) HeadLimits() (float64, float64, float64) { return -20, 20, 0 }

func (f *fakeMovement) Stop() { f.stopCalls++ }

func TestAxisXTurnController_RespectsDeadbandAndCooldown(t *testing.T) {
	t.Parallel()

	m := &fakeMovement{}
	x := NewAxisXTurnController(DefaultAxisXConfig(), m)

	x.Update(0.05, 0.1) // inside deadband: no pulse
	assert.Equal(t, 0, m.turnRightCalls)

	x.Update(0.5, 0.1) // outside deadband: pulse right
	require.Equal(t, 1, m.turnRightCalls)
	assert.Greater(t, m.lastPulseMS, 0)

	// Immediately updating again should be suppressed by cooldown.
	x.Update(0.5, 0.01)
	assert.Equal(t, 1, m.turnRightCalls, "cooldown should suppress a second pulse")

	// Advancing past the cooldown window allows another pulse.
	x.Tick(float64(m.lastPulseMS)/1000.0 + 0.01)
	x.Update(-0.5, 0.01)
	assert.Equal(t, 1, m.turnLeftCalls)
}

func TestAxisYHeadController_SmoothsAndClampsToLimits(t *testing.T) {
	t.Parallel()

	m := &fakeMovement{}
	y := NewAxisYHeadController(DefaultAxisYConfig(), m)

	space := detect.Size{W: 640, H: 480}
	target := detect.Box{X: 0, Y: 400, W: 50, H: 50} // near the bottom edge

	for i := 0; i < 5; i++ {
		y.Update(target, space)
	}

	assert.LessOrEqual(t, y.CurrentHeadDeg(), 20.0)
	assert.GreaterOrEqual(t, y.CurrentHeadDeg(), -20.0)
	assert.Positive(t, m.headCalls)
}

func TestAxisYHeadController_RecenterReturnsTowardCenter(t *testing.T) {
	t.Parallel()

	m := &fakeMovement{}
	y := NewAxisYHeadController(DefaultAxisYConfig(), m)

	space := detect.Size{W: 640, H: 480}
	target := detect.Box{X: 0, Y: 400, W: 50, H: 50}
	for i := 0; i < 10; i++ {
		y.Update(target, space)
	}
	moved := y.CurrentHeadDeg()
	require.NotZero(t, moved)

	for i := 0; i < 20; i++ {
		y.Recenter(0.5)
	}
	assert.InDelta(t, 0, y.CurrentHeadDeg(), 0.01)
}

func TestVisualTracker_LockAcquiredAfterSustainedFrames(t *testing.T) {
	t.Parallel()

	m := &fakeMovement{}
	vt := New(DefaultConfig(), m, nil, nil)

	d := detect.Detection{
		OK:         true,
		FrameSpace: detect.Size{W: 640, H: 480},
		Targets:    []detect.Box{{X: 280, Y: 200, W: 80, H: 80}},
	}

	assert.False(t, vt.Lock().Locked)
	vt.Update(d, 0.1)
	vt.Update(d, 0.1)
	assert.False(t, vt.Lock().Locked, "needs lock_frames_needed consecutive frames")
	vt.Update(d, 0.1)
	assert.True(t, vt.Lock().Locked)
}

func TestVisualTracker_ReleasesLockAfterSustainedMisses(t *testing.T) {
	t.Parallel()

	m := &fakeMovement{}
	roi := &fakeROI{}
	vt := New(DefaultConfig(), m, roi, nil)

	d := detect.Detection{
		OK:         true,
		FrameSpace: detect.Size{W: 640, H: 480},
		Targets:    []detect.Box{{X: 280, Y: 200, W: 80, H: 80}},
	}
	for i := 0; i < 3; i++ {
		vt.Update(d, 0.1)
	}
	require.True(t, vt.Lock().Locked)
	require.NotNil(t, roi.last)

	miss := detect.Detection{OK: false, FrameSpace: detect.Size{W: 640, H: 480}}
	for i := 0; i < 5; i++ {
		vt.Update(miss, 0.1)
	}
	assert.False(t, vt.Lock().Locked)
	assert.Nil(t, roi.last, "ROI must be cleared on lock release")
}

type fakeROI struct {
	last *detect.Box
}

func (f *fakeROI) SetROI(b *detect.Box) { f.last = b }
