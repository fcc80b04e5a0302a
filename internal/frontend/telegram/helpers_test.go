package telegram

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/teleclaude/teleclaude/internal/common/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}
