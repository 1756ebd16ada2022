package event

import (
	"time"

	"github.com/google/uuid"
)

// Topic names an event kind using dot notation.
type Topic string

// Plugin lifecycle topics.
const (
	// TopicInstallRequested asks the rendering collaborator to build the
	// plugin's pane. It answers with TopicPaneReady.
	TopicInstallRequested Topic = "plugin.install.requested"

	// TopicInstallCompleted is published after a plugin's normal stage loaded.
	TopicInstallCompleted Topic = "plugin.install.completed"

	// TopicUninstallCompleted is published after a successful uninstall.
	TopicUninstallCompleted Topic = "plugin.uninstall.completed"

	// TopicPaneReady reports that a plugin's pane has been rendered.
	TopicPaneReady Topic = "plugin.pane.ready"

	// TopicAll matches every topic when used as a subscription pattern.
	TopicAll Topic = "*"
)

// Matches reports whether pattern t matches topic other.
// A pattern ending in ".*" matches any topic sharing its prefix.
func (t Topic) Matches(other Topic) bool {
	if t == TopicAll || t == other {
		return true
	}
	n := len(t)
	if n > 2 && t[n-2:] == ".*" {
		prefix := t[:n-1]
		return len(other) > len(prefix) && other[:len(prefix)] == prefix
	}
	return false
}

// Event is a plugin lifecycle notification. Events are immutable once created.
type Event struct {
	// ID is a unique identifier for this event instance.
	ID string

	Topic Topic

	// Plugin is the name of the plugin the event is about.
	Plugin string

	// Source identifies the component that published the event.
	Source string

	Timestamp time.Time
}

// New creates an event for plugin.
func New(topic Topic, plugin, source string) Event {
	return Event{
		ID:        uuid.NewString(),
		Topic:     topic,
		Plugin:    plugin,
		Source:    source,
		Timestamp: time.Now(),
	}
}

// PaneReady is the event a rendering collaborator publishes once the pane for
// plugin exists.
func PaneReady(plugin string) Event {
	return New(TopicPaneReady, plugin, "renderer")
}
