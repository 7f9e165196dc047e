package registration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("registration", LogConfig{Level: "DEBUG", Format: "json"})
	require.NoError(t, err)
	assert.True(t, logger.Desugar().Core().Enabled(zapcore.DebugLevel))

	logger, err = NewLogger("registration", LogConfig{})
	require.NoError(t, err)
	assert.False(t, logger.Desugar().Core().Enabled(zapcore.DebugLevel))
	assert.True(t, logger.Desugar().Core().Enabled(zapcore.InfoLevel))

	_, err = NewLogger("registration", LogConfig{Level: "loud"})
	assert.Error(t, err)
	_, err = NewLogger("registration", LogConfig{Format: "xml"})
	assert.Error(t, err)

	assert.NotNil(t, nopIfNil(nil))
}
