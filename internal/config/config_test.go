package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithDefaults_FillsZeroValuesOnly(t *testing.T) {
	t.Parallel()

	var c Config
	c.Conversation.HealthTimeout = 9.0 // explicitly set, must survive

	defaulted := c.WithDefaults()

	require.Equal(t, 1.0, defaulted.Vision.IntervalSec)
	require.Equal(t, 15.0, defaulted.Vision.CameraFPS)
	require.Equal(t, "object", defaulted.Vision.Mode)
	require.Equal(t, "0.0.0.0", defaulted.WS.Host)
	require.Equal(t, 8765, defaulted.WS.Port)
	require.Equal(t, 9090, defaulted.Conversation.Port)
	assert.Equal(t, 9.0, defaulted.Conversation.HealthTimeout, "explicit value must not be overwritten")
	assert.Equal(t, 0.12, defaulted.Behavior.SocialFSM.DeadbandX)
}

func TestWithDefaults_Idempotent(t *testing.T) {
	t.Parallel()

	once := Config{}.WithDefaults()
	twice := once.WithDefaults()
	assert.Equal(t, once, twice)
}

func TestConversationPathsMissing(t *testing.T) {
	t.Parallel()

	var c ConversationConfig
	assert.ElementsMatch(t, []string{"llama_binary", "model_path"}, c.ConversationPathsMissing())

	c.LlamaBinary = "/bin/llama-server"
	assert.Equal(t, []string{"model_path"}, c.ConversationPathsMissing())
}
