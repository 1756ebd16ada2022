// Package event provides the lifecycle event bus shared by the plugin
// manager and the rendering collaborator.
//
// Events use dot-notation topics:
//
//	plugin.install.requested   manager asks for a plugin pane
//	plugin.pane.ready          renderer reports the pane exists
//	plugin.install.completed   normal stage loaded
//	plugin.uninstall.completed unload hook succeeded
//
// Subscriptions may use "*" or a "prefix.*" pattern.
//
// Publish is synchronous: every matching handler has run, in subscription
// order, by the time it returns. A failing or panicking handler does not
// prevent delivery to the handlers after it.
package event
