package fakehw

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edmoltom/FNK0050-sub000/internal/conversation"
	"github.com/edmoltom/FNK0050-sub000/internal/observability"
	"github.com/edmoltom/FNK0050-sub000/internal/vision"
)

func TestMovement_HeadDegClampsToLimits(t *testing.T) {
	t.Parallel()

	m := NewMovement()
	min, max, center := m.HeadLimits()
	assert.Equal(t, -30.0, min)
	assert.Equal(t, 30.0, max)
	assert.Equal(t, 0.0, center)

	m.HeadDeg(90, 100)
	m.mu.Lock()
	got := m.headDeg
	m.mu.Unlock()
	assert.Equal(t, 30.0, got)
}

func TestAudioCue_PlayNeverErrors(t *testing.T) {
	t.Parallel()
	a := NewAudioCue()
	assert.NoError(t, a.Play("meow1.wav"))
}

func TestCamera_GetLatestReturnsFalseUntilStarted(t *testing.T) {
	t.Parallel()

	c := NewCamera()
	_, ok := c.GetLatest()
	assert.False(t, ok)

	require.NoError(t, c.Start())
	frame, ok := c.GetLatest()
	require.True(t, ok)
	assert.NotNil(t, frame.Image)

	c.Stop()
	_, ok = c.GetLatest()
	assert.False(t, ok)
}

func TestPipeline_ProcessProducesPlausibleDetections(t *testing.T) {
	t.Parallel()

	cam := NewCamera()
	require.NoError(t, cam.Start())
	frame, _ := cam.GetLatest()

	p := NewPipeline()
	for i := 0; i < 50; i++ {
		require.NoError(t, p.Process(frame, vision.PipelineConfig{}))
		d, ok := p.GetLastResult()
		require.True(t, ok)
		assert.True(t, d.Valid())
	}
}

func TestLLM_QueryEchoesAndTruncates(t *testing.T) {
	t.Parallel()

	l := NewLLM()
	messages := []conversation.Message{{Role: "user", Content: "hello"}}
	reply, err := l.Query(context.Background(), messages, 10)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(reply), 10)
}

func TestVoice_ListenTimesOutWhenPaused(t *testing.T) {
	t.Parallel()

	v := &Voice{log: observability.For("test.voice"), lines: make(chan string, 1)}
	v.Pause()

	start := time.Now()
	_, ok := v.Listen(20 * time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestVoice_ListenReturnsQueuedLine(t *testing.T) {
	t.Parallel()

	v := &Voice{log: observability.For("test.voice"), lines: make(chan string, 1)}
	v.lines <- "hola"

	text, ok := v.Listen(time.Second)
	require.True(t, ok)
	assert.Equal(t, "hola", text)
}
