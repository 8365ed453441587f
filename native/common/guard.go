package common

import "errors"

// ErrModulePaused signals that the named module is administratively halted.
var ErrModulePaused = errors.New("module paused")

// PauseView reports the pause switch state for a native module.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the operation when the module is paused. A nil view or empty
// module name is treated as unpaused so callers can wire pauses optionally.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
