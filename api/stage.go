package api

import (
	"fmt"
	"strings"
)

// LoadStage is a point in the host lifecycle at which a plugin runs.
type LoadStage int

// Load stages.
const (
	// PreLoad runs before the host finishes its own start-up.
	PreLoad LoadStage = iota

	// NormalLoad runs when the plugin is installed.
	NormalLoad

	// PostLoad runs once the host is fully started.
	PostLoad
)

// Stages lists every load stage in execution order.
var Stages = []LoadStage{PreLoad, NormalLoad, PostLoad}

// String returns the canonical stage name.
func (s LoadStage) String() string {
	switch s {
	case PreLoad:
		return "PRE_LOAD"
	case NormalLoad:
		return "NORMAL_LOAD"
	case PostLoad:
		return "POST_LOAD"
	default:
		return fmt.Sprintf("LoadStage(%d)", int(s))
	}
}

// Valid reports whether s is a known stage.
func (s LoadStage) Valid() bool {
	return s >= PreLoad && s <= PostLoad
}

// ParseLoadStage parses a stage name. Matching is case-insensitive and
// accepts both "NORMAL_LOAD" and "normal".
func ParseLoadStage(name string) (LoadStage, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "PRE_LOAD", "PRE":
		return PreLoad, nil
	case "NORMAL_LOAD", "NORMAL":
		return NormalLoad, nil
	case "POST_LOAD", "POST":
		return PostLoad, nil
	default:
		return 0, fmt.Errorf("unknown load stage %q", name)
	}
}
