package plugin

import (
	"strings"

	"github.com/dshills/plughost/api"
)

// StageSet is an immutable set of load stages.
type StageSet uint8

// NewStageSet returns a set holding stages. Invalid stages are ignored.
func NewStageSet(stages ...api.LoadStage) StageSet {
	var s StageSet
	for _, st := range stages {
		s = s.with(st)
	}
	return s
}

func (s StageSet) with(st api.LoadStage) StageSet {
	if !st.Valid() {
		return s
	}
	return s | 1<<uint(st)
}

// Contains reports whether st is in the set.
func (s StageSet) Contains(st api.LoadStage) bool {
	return st.Valid() && s&(1<<uint(st)) != 0
}

// Len returns the number of stages in the set.
func (s StageSet) Len() int {
	n := 0
	for _, st := range api.Stages {
		if s.Contains(st) {
			n++
		}
	}
	return n
}

// IsEmpty reports whether the set has no stages.
func (s StageSet) IsEmpty() bool {
	return s == 0
}

// Stages returns the stages in execution order.
func (s StageSet) Stages() []api.LoadStage {
	out := make([]api.LoadStage, 0, len(api.Stages))
	for _, st := range api.Stages {
		if s.Contains(st) {
			out = append(out, st)
		}
	}
	return out
}

// String returns the set as "{PRE_LOAD, NORMAL_LOAD}".
func (s StageSet) String() string {
	names := make([]string, 0, len(api.Stages))
	for _, st := range s.Stages() {
		names = append(names, st.String())
	}
	return "{" + strings.Join(names, ", ") + "}"
}

// ResolveStages resolves a plugin's declarations into its stage set.
//
// A single declaration is taken unconditionally, whatever its Active flag.
// Several declarations contribute only their active stages. No declarations
// means NormalLoad only.
func ResolveStages(decls []api.StageDeclaration) StageSet {
	switch len(decls) {
	case 0:
		return NewStageSet(api.NormalLoad)
	case 1:
		return NewStageSet(decls[0].Stage)
	}

	var s StageSet
	for _, d := range decls {
		if d.Active {
			s = s.with(d.Stage)
		}
	}
	return s
}

// StagesOf resolves the stage set of c.
func StagesOf(c api.Contract) StageSet {
	if d, ok := c.(api.StageDeclarer); ok {
		return ResolveStages(d.LoadStages())
	}
	return ResolveStages(nil)
}
