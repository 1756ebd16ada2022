// Package plugin provides the plugin lifecycle core of plughost.
//
// # Overview
//
// Plugins come from two places:
//
//   - a Provider of plugins compiled into the host (StaticProvider)
//   - bundle files in a plugins directory, opened by a BundleOpener per
//     file extension (Lua .zip bundles, Go .so plugins)
//
// The Discoverer wraps every plugin in a Handle, resolves its load stages
// and adds it to the Registry. The first plugin registered under a name wins.
//
// # Lifecycle
//
//	Discovered --pane ready--> Loaded --Install--> Installed
//	                             ^                    |
//	                             +----Uninstall-------+
//
// A plugin whose normal stage hook fails during Install is unloaded
// immediately, and removed from the registry if its unload hook succeeds.
//
// # Stages
//
// Plugins declare stages by implementing api.StageDeclarer:
//
//	func (p *MyPlugin) LoadStages() []api.StageDeclaration {
//	    return []api.StageDeclaration{
//	        api.Declare(api.PreLoad),
//	        api.Declare(api.NormalLoad),
//	    }
//	}
//
// Only plugins with the NormalLoad stage can be installed. Manager.RunStage
// runs the PreLoad and PostLoad hooks.
//
// # Concurrency
//
// Manager transitions are serialized by a single lock. Registry reads and
// discovery never take that lock. Install waits for the pane-ready event
// while holding it.
package plugin
