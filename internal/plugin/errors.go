package plugin

import (
	"errors"
	"fmt"
)

// Plugin system errors.
var (
	// ErrPluginNotFound is returned when no plugin with the given name is registered.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrMissingPluginIdentity is returned when a plugin has no descriptor or a blank name.
	ErrMissingPluginIdentity = errors.New("plugin identity missing")

	// ErrNotADirectory is returned when the bundle path names a file.
	ErrNotADirectory = errors.New("bundle path is not a directory")

	// ErrBundleRead is matched by BundleError.
	ErrBundleRead = errors.New("bundle could not be read")

	// ErrPluginInstantiation is matched by InstantiationError.
	ErrPluginInstantiation = errors.New("plugin could not be instantiated")

	// ErrPluginPanic is matched by QueryPanicError.
	ErrPluginPanic = errors.New("plugin panicked")

	// ErrNotLoaded is the error form of StatusNotLoaded.
	ErrNotLoaded = errors.New("plugin is not loaded")

	// ErrNotInstalled is returned when an operation requires an installed plugin.
	ErrNotInstalled = errors.New("plugin is not installed")

	// ErrAlreadyInstalled is the error form of StatusAlreadyInstalled.
	ErrAlreadyInstalled = errors.New("plugin is already installed")

	// ErrAlreadyLoaded is the error form of StatusAlreadyLoaded.
	ErrAlreadyLoaded = errors.New("plugin is already loaded")

	// ErrInvalidStage is the error form of StatusInvalidStage.
	ErrInvalidStage = errors.New("plugin cannot be installed in the normal load stage")

	// ErrLoading is the error form of StatusLoadingError.
	ErrLoading = errors.New("plugin failed to load")

	// ErrUnloading is the error form of StatusUnloadingError.
	ErrUnloading = errors.New("plugin failed to unload")

	// ErrInstallTimeout is the error form of StatusInstallTimeout.
	ErrInstallTimeout = errors.New("plugin pane was not ready in time")

	// ErrCancelled is the error form of StatusCancelled.
	ErrCancelled = errors.New("plugin transition cancelled")

	// ErrDownloadUnsupported is returned by the default Downloader.
	ErrDownloadUnsupported = errors.New("plugin download not supported")
)

// BundleError reports a bundle that could not be opened or listed.
type BundleError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *BundleError) Error() string {
	return fmt.Sprintf("bundle %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *BundleError) Unwrap() error {
	return e.Err
}

// Is allows errors.Is to match BundleError with ErrBundleRead.
func (e *BundleError) Is(target error) bool {
	return target == ErrBundleRead
}

// InstantiationError reports a bundle entry whose factory failed.
type InstantiationError struct {
	Bundle string
	Entry  string
	Err    error
}

// Error implements the error interface.
func (e *InstantiationError) Error() string {
	return fmt.Sprintf("bundle %s: entry %s: %v", e.Bundle, e.Entry, e.Err)
}

// Unwrap returns the underlying error.
func (e *InstantiationError) Unwrap() error {
	return e.Err
}

// Is allows errors.Is to match InstantiationError with ErrPluginInstantiation.
func (e *InstantiationError) Is(target error) bool {
	return target == ErrPluginInstantiation
}

// QueryPanicError reports a plugin method that panicked outside a
// lifecycle hook, such as its descriptor or stage declarations.
type QueryPanicError struct {
	Plugin string
	Method string
	Value  any
}

// Error implements the error interface.
func (e *QueryPanicError) Error() string {
	return fmt.Sprintf("plugin %s: %s panicked: %v", e.Plugin, e.Method, e.Value)
}

// Is allows errors.Is to match QueryPanicError with ErrPluginPanic.
func (e *QueryPanicError) Is(target error) bool {
	return target == ErrPluginPanic
}
