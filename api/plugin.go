// Package api defines the public contracts plugin authors build against.
//
// A plugin is any value implementing Contract. Go plugins compiled with
// -buildmode=plugin export a NewPlugin symbol of type func() Contract; Lua
// bundles expose a global new_plugin function instead (see the plugin/lua
// package of the host).
package api

// FactorySymbol is the symbol a Go plugin bundle must export.
// Its type must be func() Contract.
const FactorySymbol = "NewPlugin"

// Contract is the capability interface every plugin implements.
type Contract interface {
	// Info returns the plugin's descriptor. A nil descriptor means the
	// plugin did not define one and it will be rejected at registration.
	Info() *Descriptor

	// LoadPreStage runs before the host's normal start-up.
	LoadPreStage() bool

	// LoadNormalStage runs when the plugin is installed.
	LoadNormalStage() bool

	// LoadPostStage runs after the host has finished starting.
	LoadPostStage() bool

	// Unload releases whatever the plugin set up. Only called when
	// UseUnload reports true.
	Unload() bool
	UseUnload() bool

	// ErrorMessage describes the last failure. Empty means no message.
	ErrorMessage() string

	UpdateNeeded() bool
	DownloadURL() string
}

// StageDeclarer is implemented by plugins that participate in stages other
// than NormalLoad. Plugins that don't implement it load in NormalLoad only.
type StageDeclarer interface {
	LoadStages() []StageDeclaration
}

// StageDeclaration declares participation in a single load stage.
type StageDeclaration struct {
	Stage  LoadStage
	Active bool
}

// Declare returns an active declaration for stage.
func Declare(stage LoadStage) StageDeclaration {
	return StageDeclaration{Stage: stage, Active: true}
}
