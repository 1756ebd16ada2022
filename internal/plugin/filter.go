package plugin

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/dshills/plughost/api"
)

// Filter is a compiled registry query.
//
// Expressions see a single map variable, plugin, with the keys name,
// version, kind, author, company, license, state, stages, installed,
// pane_ready and update_needed. For example:
//
//	plugin.installed && "POST_LOAD" in plugin.stages
type Filter struct {
	expr string
	prg  cel.Program
}

// CompileFilter compiles a CEL expression evaluating to bool.
func CompileFilter(expr string) (*Filter, error) {
	env, err := cel.NewEnv(
		cel.Variable("plugin", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("filter environment: %w", err)
	}

	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile filter %q: %w", expr, iss.Err())
	}
	out := ast.OutputType()
	if !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("filter %q has type %s, want bool", expr, out)
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("filter program %q: %w", expr, err)
	}
	return &Filter{expr: expr, prg: prg}, nil
}

// String returns the source expression.
func (f *Filter) String() string {
	return f.expr
}

// Match evaluates the filter against h.
func (f *Filter) Match(h *Handle) (bool, error) {
	out, _, err := f.prg.Eval(map[string]any{"plugin": filterVars(h)})
	if err != nil {
		return false, fmt.Errorf("evaluate filter %q on %s: %w", f.expr, h.Name(), err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("filter %q returned %T, want bool", f.expr, out.Value())
	}
	return b, nil
}

// Apply returns the handles matching the filter. Handles that fail to
// evaluate are skipped and reported in the error.
func (f *Filter) Apply(handles []*Handle) ([]*Handle, error) {
	var (
		matched  []*Handle
		firstErr error
	)
	for _, h := range handles {
		ok, err := f.Match(h)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			matched = append(matched, h)
		}
	}
	return matched, firstErr
}

func filterVars(h *Handle) map[string]any {
	stages := h.Stages().Stages()
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = s.String()
	}

	return map[string]any{
		"name":          h.Field(api.FieldName),
		"version":       h.Field(api.FieldVersion),
		"kind":          h.Field(api.FieldKind),
		"author":        h.Field(api.FieldAuthor),
		"company":       h.Field(api.FieldCompany),
		"license":       h.Field(api.FieldLicense),
		"state":         h.State().String(),
		"stages":        names,
		"installed":     h.IsInstalled(),
		"pane_ready":    h.IsPaneReady(),
		"update_needed": h.UpdateNeeded(),
	}
}
