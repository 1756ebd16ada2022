package plugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dshills/plughost/api"
)

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	n := NewLogNotifier(zap.New(core))

	n.Notify(Notice{
		Title:    DefaultErrorTitle,
		Header:   `"Sample" Plugin failed to install!`,
		Text:     "disk full",
		Severity: SeverityError,
		Plugin:   "Sample",
	})
	n.Notify(Notice{Header: "heads up", Severity: SeverityWarning})

	entries := logs.All()
	require.Len(t, entries, 2)

	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, "notifier", fields["component"])
	assert.Equal(t, "Sample", fields["plugin"])
	assert.Equal(t, "disk full", fields["text"])

	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.NotContains(t, entries[1].ContextMap(), "plugin")
}

func TestManagerDefaultNotifierLogs(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	env := newTestEnv(t, WithLogger(zap.New(core)), WithNotifier(nil))
	env.register(t, staged("Early", api.Declare(api.PreLoad)))

	// A nil notifier falls back to logging.
	env.manager.Install(context.Background(), "Early")

	found := logs.FilterMessage("plugin notice").All()
	require.Len(t, found, 1)
	assert.Equal(t, `Plugin "Early" cannot be installed in Normal load stage!`, found[0].ContextMap()["header"])
}

func TestFailureHeader(t *testing.T) {
	assert.Equal(t, `"A" Plugin failed to unload!`, failureHeader("A", verbUnload, false))
	assert.Equal(t, `"A" Plugin failed to install! Uncaught Exception!`, failureHeader("A", verbInstall, true))
}
