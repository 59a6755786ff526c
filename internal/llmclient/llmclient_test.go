package llmclient

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncateReply_LeavesShortReplyUntouched(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "hola", truncateReply("hola", 220))
}

func TestTruncateReply_TruncatesAndTrims(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("a", 300)
	got := truncateReply(long, 220)
	assert.Len(t, got, 220)
}

func TestTruncateReply_ZeroLimitMeansNoTruncation(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("b", 300)
	assert.Equal(t, long, truncateReply(long, 0))
}
