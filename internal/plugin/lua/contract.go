package lua

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/plughost/api"
)

// FactoryName is the global function a Lua entry defines to be a plugin.
const FactoryName = "new_plugin"

// Fields of the table returned by new_plugin.
const (
	fieldInfo         = "info"
	fieldStages       = "stages"
	fieldLoadPre      = "load_pre"
	fieldLoadNormal   = "load_normal"
	fieldLoadPost     = "load_post"
	fieldUnload       = "unload"
	fieldUseUnload    = "use_unload"
	fieldErrorMessage = "error_message"
	fieldUpdateNeeded = "update_needed"
	fieldDownloadURL  = "download_url"
)

// Plugin adapts a Lua plugin table to api.Contract.
//
// Hooks are called as methods (self is the plugin table). A missing hook
// succeeds. A hook that raises a Lua error panics with that error.
type Plugin struct {
	state *State
	self  *lua.LTable
	entry string

	info  *api.Descriptor
	decls []api.StageDeclaration
}

var (
	_ api.Contract      = (*Plugin)(nil)
	_ api.StageDeclarer = (*Plugin)(nil)
)

// newPlugin reads the descriptor and stage declarations from self.
func newPlugin(state *State, self *lua.LTable, entry string) (*Plugin, error) {
	p := &Plugin{state: state, self: self, entry: entry}

	if info, ok := tableTable(self, fieldInfo); ok {
		p.info = &api.Descriptor{}
		p.info.Name, _ = tableString(info, "name")
		p.info.Version, _ = tableString(info, "version")
		p.info.Kind, _ = tableString(info, "kind")
		p.info.Author, _ = tableString(info, "author")
		p.info.Company, _ = tableString(info, "company")
		p.info.License, _ = tableString(info, "license")
	}

	if stages, ok := tableTable(self, fieldStages); ok {
		decls, err := parseStages(stages)
		if err != nil {
			return nil, err
		}
		p.decls = decls
	}
	return p, nil
}

// parseStages accepts "PRE_LOAD" strings and {stage = "...", active = bool}
// tables. Active defaults to true.
func parseStages(t *lua.LTable) ([]api.StageDeclaration, error) {
	var decls []api.StageDeclaration
	for i, v := range tableList(t) {
		var (
			name   string
			active = true
		)
		switch v := v.(type) {
		case lua.LString:
			name = string(v)
		case *lua.LTable:
			var ok bool
			if name, ok = tableString(v, "stage"); !ok {
				return nil, fmt.Errorf("%w: stages[%d] has no stage", ErrInvalidPlugin, i+1)
			}
			if a, ok := tableBool(v, "active"); ok {
				active = a
			}
		default:
			return nil, fmt.Errorf("%w: stages[%d] is a %s", ErrInvalidPlugin, i+1, v.Type())
		}

		stage, err := api.ParseLoadStage(name)
		if err != nil {
			return nil, fmt.Errorf("%w: stages[%d]: %v", ErrInvalidPlugin, i+1, err)
		}
		decls = append(decls, api.StageDeclaration{Stage: stage, Active: active})
	}
	return decls, nil
}

// Entry returns the bundle entry the plugin was created from.
func (p *Plugin) Entry() string {
	return p.entry
}

// Info implements api.Contract.
func (p *Plugin) Info() *api.Descriptor {
	return p.info
}

// LoadStages implements api.StageDeclarer.
func (p *Plugin) LoadStages() []api.StageDeclaration {
	return p.decls
}

// LoadPreStage implements api.Contract.
func (p *Plugin) LoadPreStage() bool {
	return p.hook(fieldLoadPre)
}

// LoadNormalStage implements api.Contract.
func (p *Plugin) LoadNormalStage() bool {
	return p.hook(fieldLoadNormal)
}

// LoadPostStage implements api.Contract.
func (p *Plugin) LoadPostStage() bool {
	return p.hook(fieldLoadPost)
}

// Unload implements api.Contract.
func (p *Plugin) Unload() bool {
	return p.hook(fieldUnload)
}

// UseUnload implements api.Contract. When use_unload is not set it reports
// whether an unload function exists.
func (p *Plugin) UseUnload() bool {
	v := p.value(fieldUseUnload)
	if v == lua.LNil {
		_, ok := p.state.RawField(p.self, fieldUnload).(*lua.LFunction)
		return ok
	}
	return lua.LVAsBool(v)
}

// ErrorMessage implements api.Contract.
func (p *Plugin) ErrorMessage() string {
	v := p.value(fieldErrorMessage)
	if v == lua.LNil {
		return ""
	}
	return lua.LVAsString(v)
}

// UpdateNeeded implements api.Contract.
func (p *Plugin) UpdateNeeded() bool {
	return lua.LVAsBool(p.value(fieldUpdateNeeded))
}

// DownloadURL implements api.Contract.
func (p *Plugin) DownloadURL() string {
	return lua.LVAsString(p.value(fieldDownloadURL))
}

// Close releases the plugin's Lua state.
func (p *Plugin) Close() error {
	return p.state.Close()
}

// hook calls a hook method and reports its truthiness.
func (p *Plugin) hook(name string) bool {
	fn, ok := p.state.RawField(p.self, name).(*lua.LFunction)
	if !ok {
		return true
	}
	ret, err := p.state.Call(fn, p.self)
	if err != nil {
		panic(err)
	}
	return len(ret) > 0 && lua.LVAsBool(ret[0])
}

// value reads a field; a function field is called as a method.
func (p *Plugin) value(name string) lua.LValue {
	v := p.state.RawField(p.self, name)
	fn, ok := v.(*lua.LFunction)
	if !ok {
		return v
	}
	ret, err := p.state.Call(fn, p.self)
	if err != nil {
		panic(err)
	}
	if len(ret) == 0 {
		return lua.LNil
	}
	return ret[0]
}
