package plugin

import (
	"fmt"

	"go.uber.org/zap"
)

// DefaultErrorTitle is the title of notices raised by the plugin manager.
const DefaultErrorTitle = "Plugin Manager - Error"

// noMessage is shown when a failing plugin provides no error message.
const noMessage = "Could not retrieve error message!"

// Severity ranks a notice.
type Severity int

// Notice severities.
const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

// String returns a string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// Notice is human-readable failure text handed to the notification
// collaborator.
type Notice struct {
	Title    string
	Header   string
	Text     string
	Severity Severity

	// Plugin is the plugin the notice is about. May be empty.
	Plugin string
}

// Notifier displays notices to the user.
type Notifier interface {
	Notify(n Notice)
}

// LogNotifier writes notices to a zap logger.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier that logs through l.
func NewLogNotifier(l *zap.Logger) *LogNotifier {
	if l == nil {
		l = zap.NewNop()
	}
	return &LogNotifier{logger: l.With(zap.String("component", "notifier"))}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(notice Notice) {
	fields := []zap.Field{
		zap.String("title", notice.Title),
		zap.String("header", notice.Header),
		zap.String("text", notice.Text),
	}
	if notice.Plugin != "" {
		fields = append(fields, zap.String("plugin", notice.Plugin))
	}

	switch notice.Severity {
	case SeverityError:
		n.logger.Error("plugin notice", fields...)
	case SeverityWarning:
		n.logger.Warn("plugin notice", fields...)
	default:
		n.logger.Info("plugin notice", fields...)
	}
}

// failureHeader formats the header of a plugin-authored failure.
func failureHeader(name, verb string, uncaught bool) string {
	h := fmt.Sprintf("%q Plugin failed to %s!", name, verb)
	if uncaught {
		h += " Uncaught Exception!"
	}
	return h
}
