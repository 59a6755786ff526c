package wsapi

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVision struct {
	mu       sync.Mutex
	running  bool
	snapshot string
}

func (f *fakeVision) Start() error { f.mu.Lock(); f.running = true; f.mu.Unlock(); return nil }
func (f *fakeVision) Stop()        { f.mu.Lock(); f.running = false; f.mu.Unlock() }
func (f *fakeVision) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeVision) setSnapshot(b64 string) {
	f.mu.Lock()
	f.snapshot = b64
	f.mu.Unlock()
}

func (f *fakeVision) WaitSnapshot(ctx context.Context, timeout time.Duration) (string, bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		snap := f.snapshot
		f.mu.Unlock()
		if snap != "" {
			return snap, true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return "", false
}

type fakeMovement struct {
	mu          sync.Mutex
	walkCalls   int
	lastVX      float64
	stopCalls   int
}

func (f *fakeMovement) Walk(vx, vy, omega float64) {
	f.mu.Lock()
	f.walkCalls++
	f.lastVX = vx
	f.mu.Unlock()
}

func (f *fakeMovement) Stop() {
	f.mu.Lock()
	f.stopCalls++
	f.mu.Unlock()
}

type fakeProcessing struct {
	mu  sync.Mutex
	cfg map[string]any
}

func (f *fakeProcessing) SetProcessingConfig(cfg map[string]any) {
	f.mu.Lock()
	f.cfg = cfg
	f.mu.Unlock()
}

type fakeProfiles struct {
	loaded  string
	dynamic string
}

func (f *fakeProfiles) LoadProfile(which, path string) error {
	f.loaded = which
	return nil
}

func (f *fakeProfiles) UpdateDynamic(which string, params map[string]any) error {
	f.dynamic = which
	return nil
}

func newTestServer(t *testing.T, vision Vision, movement Movement, proc ProcessingConfigurer, profiles ProfileLoader) (*httptest.Server, *websocket.Conn) {
	t.Helper()
	s := New(Config{}, vision, movement, proc, profiles)
	ts := httptest.NewServer(s.Handler())
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
		ts.Close()
	})
	return ts, conn
}

func TestServer_PingReturnsPong(t *testing.T) {
	t.Parallel()

	_, conn := newTestServer(t, &fakeVision{}, &fakeMovement{}, nil, nil)
	require.NoError(t, conn.WriteJSON(Request{Cmd: "ping"}))

	var resp Response
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, ok("pong"), resp)
}

func TestServer_CaptureWaitsThenReturnsWaitOnTimeout(t *testing.T) {
	t.Parallel()

	_, conn := newTestServer(t, &fakeVision{}, &fakeMovement{}, nil, nil)
	require.NoError(t, conn.WriteJSON(Request{Cmd: "capture", Timeout: 0.05}))

	var resp Response
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "wait", resp.Status)
}

func TestServer_CaptureReturnsImageWhenSnapshotReady(t *testing.T) {
	t.Parallel()

	v := &fakeVision{}
	v.setSnapshot("ZmFrZWpwZWc=")
	_, conn := newTestServer(t, v, &fakeMovement{}, nil, nil)
	require.NoError(t, conn.WriteJSON(Request{Cmd: "capture", Timeout: 1.0}))

	var resp Response
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "image", resp.Type)
	assert.Equal(t, "ZmFrZWpwZWc=", resp.Data)
}

func TestServer_WalkDispatchesToMovement(t *testing.T) {
	t.Parallel()

	mv := &fakeMovement{}
	_, conn := newTestServer(t, &fakeVision{}, mv, nil, nil)
	require.NoError(t, conn.WriteJSON(Request{Cmd: "walk", VX: 1.5, VY: 0, Omega: 0.2}))

	var resp Response
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, mv.walkCalls)
	assert.Equal(t, 1.5, mv.lastVX)
}

func TestServer_MovementStopDispatches(t *testing.T) {
	t.Parallel()

	mv := &fakeMovement{}
	_, conn := newTestServer(t, &fakeVision{}, mv, nil, nil)
	require.NoError(t, conn.WriteJSON(Request{Cmd: "movement_stop"}))

	var resp Response
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, mv.stopCalls)
}

func TestServer_ProcessUpdatesConfigWhenSupported(t *testing.T) {
	t.Parallel()

	proc := &fakeProcessing{}
	blur := true
	_, conn := newTestServer(t, &fakeVision{}, &fakeMovement{}, proc, nil)
	require.NoError(t, conn.WriteJSON(Request{Cmd: "process", Blur: &blur}))

	var resp Response
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, true, proc.cfg["blur"])
}

func TestServer_UnknownCommandReturnsError(t *testing.T) {
	t.Parallel()

	_, conn := newTestServer(t, &fakeVision{}, &fakeMovement{}, nil, nil)
	require.NoError(t, conn.WriteJSON(Request{Cmd: "nonsense"}))

	var resp Response
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "error", resp.Status)
}

func TestServer_LoadProfileFailsWithoutProfileLoader(t *testing.T) {
	t.Parallel()

	_, conn := newTestServer(t, &fakeVision{}, &fakeMovement{}, nil, nil)
	require.NoError(t, conn.WriteJSON(Request{Cmd: "load_profile", Which: "big"}))

	var resp Response
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "error", resp.Status)
}

func TestServer_LoadProfileSucceedsWithProfileLoader(t *testing.T) {
	t.Parallel()

	pl := &fakeProfiles{}
	_, conn := newTestServer(t, &fakeVision{}, &fakeMovement{}, nil, pl)
	require.NoError(t, conn.WriteJSON(Request{Cmd: "load_profile", Which: "small", Path: "/tmp/p.json"}))

	var resp Response
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "small", pl.loaded)
}
