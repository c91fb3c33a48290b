package notifications

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"ratio-trade-bot-go/internal/config"
)

func TestDisabledNotifier(t *testing.T) {
	n, err := NewNotifier(&config.Notifications{}, zap.NewNop())
	assert.NoError(t, err)
	assert.False(t, n.Enabled())

	// Send and Close are harmless no-ops without a sink.
	n.Send("hello")
	n.Close()
	n.Close()
	assert.Empty(t, n.queue)
}
