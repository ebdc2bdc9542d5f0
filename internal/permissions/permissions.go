// Package permissions checks the OS grants a source needs before it starts.
package permissions

import (
	"errors"

	"github.com/petems/signal-tray/internal/config"
)

// ErrMicrophone reports that the OS has not granted microphone access. On
// macOS the grant lives under System Settings → Privacy & Security →
// Microphone.
var ErrMicrophone = errors.New("microphone permission not granted")

// EnsureForSource checks the permissions the given source kind needs.
// Only audio capture needs one, and only on macOS.
func EnsureForSource(kind string) error {
	if kind != config.SourceAudio {
		return nil
	}
	return ensureMicrophone()
}
