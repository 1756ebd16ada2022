package plugin

// State represents the lifecycle state of a registered plugin.
// It is derived from the handle's pane and installed flags.
type State int

// Plugin states.
const (
	// StateDiscovered - Plugin is registered but its pane is not ready.
	StateDiscovered State = iota

	// StateLoaded - Pane is ready, plugin is not installed.
	StateLoaded

	// StateInstalled - Normal stage hook succeeded.
	StateInstalled
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateLoaded:
		return "loaded"
	case StateInstalled:
		return "installed"
	default:
		return "unknown"
	}
}

// IsUsable returns true if the plugin's pane is ready.
func (s State) IsUsable() bool {
	return s == StateLoaded || s == StateInstalled
}

// Status is the outcome of a lifecycle transition.
type Status int

// Transition statuses.
const (
	StatusNoError Status = iota
	StatusNotLoaded
	StatusNotInstalled
	StatusAlreadyInstalled
	StatusAlreadyLoaded
	StatusInvalidStage
	StatusLoadingError
	StatusUnloadingError

	// StatusInstallTimeout - the pane was not ready within the pane timeout.
	StatusInstallTimeout

	// StatusCancelled - the caller's context ended while waiting for the pane.
	StatusCancelled
)

var statusNames = [...]string{
	StatusNoError:          "no error",
	StatusNotLoaded:        "not loaded",
	StatusNotInstalled:     "not installed",
	StatusAlreadyInstalled: "already installed",
	StatusAlreadyLoaded:    "already loaded",
	StatusInvalidStage:     "invalid stage",
	StatusLoadingError:     "loading error",
	StatusUnloadingError:   "unloading error",
	StatusInstallTimeout:   "install timeout",
	StatusCancelled:        "cancelled",
}

// String returns a string representation of the status.
func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

// OK returns true for StatusNoError.
func (s Status) OK() bool {
	return s == StatusNoError
}

// Err maps the status to its sentinel error. StatusNoError maps to nil.
func (s Status) Err() error {
	switch s {
	case StatusNoError:
		return nil
	case StatusNotLoaded:
		return ErrNotLoaded
	case StatusNotInstalled:
		return ErrNotInstalled
	case StatusAlreadyInstalled:
		return ErrAlreadyInstalled
	case StatusAlreadyLoaded:
		return ErrAlreadyLoaded
	case StatusInvalidStage:
		return ErrInvalidStage
	case StatusLoadingError:
		return ErrLoading
	case StatusUnloadingError:
		return ErrUnloading
	case StatusInstallTimeout:
		return ErrInstallTimeout
	case StatusCancelled:
		return ErrCancelled
	default:
		return ErrLoading
	}
}
