package vision

import (
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edmoltom/FNK0050-sub000/internal/detect"
)

type fakeCamera struct {
	mu      sync.Mutex
	running bool
	frame   Frame
	has     bool
}

func (f *fakeCamera) Start() error { f.mu.Lock(); f.running = true; f.mu.Unlock(); return nil }
func (f *fakeCamera) Stop()        { f.mu.Lock(); f.running = false; f.mu.Unlock() }
func (f *fakeCamera) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeCamera) GetLatest() (Frame, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frame, f.has
}

func (f *fakeCamera) push(img image.Image, at time.Time) {
	f.mu.Lock()
	f.frame = Frame{Image: img, At: at}
	f.has = true
	f.mu.Unlock()
}

type fakePipeline struct {
	mu      sync.Mutex
	result  detect.Detection
	failErr error
	calls   int
}

func (f *fakePipeline) Process(frame Frame, cfg PipelineConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.failErr
}

func (f *fakePipeline) GetLastResult() (detect.Detection, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, true
}

func solidImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: 10, G: 20, B: 30, A: 255})
		}
	}
	return img
}

func TestLoop_StartStopIsIdempotent(t *testing.T) {
	t.Parallel()

	cam := &fakeCamera{}
	pipe := &fakePipeline{result: detect.Detection{OK: false, FrameSpace: detect.Size{W: 4, H: 4}}}
	cfg := DefaultConfig()
	cfg.IntervalSec = 0.01
	l := New(cfg, cam, pipe, nil, nil)

	require.NoError(t, l.Start(nil))
	require.NoError(t, l.Start(nil)) // idempotent
	assert.True(t, l.IsRunning())

	l.Stop()
	l.Stop() // idempotent
	assert.False(t, l.IsRunning())
}

func TestLoop_PublishesDetectionsAndInvokesHandler(t *testing.T) {
	t.Parallel()

	cam := &fakeCamera{}
	cam.push(solidImage(), time.Now())
	pipe := &fakePipeline{result: detect.Detection{OK: true, FrameSpace: detect.Size{W: 4, H: 4}, Targets: []detect.Box{{W: 1, H: 1}}}}
	cfg := DefaultConfig()
	cfg.IntervalSec = 0.01
	cfg.DetectionThrottle = 0
	l := New(cfg, cam, pipe, nil, nil)

	handlerCalls := make(chan detect.Detection, 16)
	require.NoError(t, l.Start(func(d detect.Detection, dt float64) { handlerCalls <- d }))

	sub := l.Detections().Subscribe()
	defer l.Detections().Unsubscribe(sub)

	select {
	case d := <-handlerCalls:
		assert.True(t, d.OK)
	case <-time.After(2 * time.Second):
		t.Fatal("frame handler never invoked")
	}

	select {
	case d := <-sub.Recv():
		assert.True(t, d.OK)
	case <-time.After(2 * time.Second):
		t.Fatal("detection never published to bus")
	}

	l.Stop()
	assert.NotEmpty(t, l.Snapshot(), "JPEG snapshot should have been encoded")
}

func TestLoop_StalenessSkipsFrameWithoutError(t *testing.T) {
	t.Parallel()

	cam := &fakeCamera{}
	cam.push(solidImage(), time.Now().Add(-time.Second)) // stale
	pipe := &fakePipeline{result: detect.Detection{OK: false, FrameSpace: detect.Size{W: 4, H: 4}}}
	cfg := DefaultConfig()
	cfg.IntervalSec = 0.01
	cfg.MaxCaptureFailures = 1000
	l := New(cfg, cam, pipe, nil, nil)

	require.NoError(t, l.Start(nil))
	time.Sleep(50 * time.Millisecond)
	l.Stop()

	assert.Equal(t, 0, pipe.calls, "stale frames must never reach the pipeline")
	assert.NoError(t, l.LastError())
}

func TestLoop_ExitsAfterRepeatedCaptureFailures(t *testing.T) {
	t.Parallel()

	cam := &fakeCamera{} // never has a frame
	pipe := &fakePipeline{}
	cfg := DefaultConfig()
	cfg.IntervalSec = 0.005
	cfg.MaxCaptureFailures = 3
	l := New(cfg, cam, pipe, nil, nil)

	require.NoError(t, l.Start(nil))

	deadline := time.Now().Add(2 * time.Second)
	for l.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.False(t, l.IsRunning())
	assert.Error(t, l.LastError())
}

func TestLoop_PipelineErrorSkipsFrameAndContinues(t *testing.T) {
	t.Parallel()

	cam := &fakeCamera{}
	cam.push(solidImage(), time.Now())
	pipe := &fakePipeline{failErr: errors.New("decode failed"), result: detect.Detection{OK: false, FrameSpace: detect.Size{W: 4, H: 4}}}
	cfg := DefaultConfig()
	cfg.IntervalSec = 0.01
	cfg.DetectionThrottle = 0
	l := New(cfg, cam, pipe, nil, nil)

	require.NoError(t, l.Start(nil))
	time.Sleep(50 * time.Millisecond)
	l.Stop()

	assert.Empty(t, l.Snapshot(), "a failed pipeline call must never produce a snapshot")
}
