//go:build !darwin

package permissions

// ensureMicrophone is a no-op on non-macOS platforms.
func ensureMicrophone() error {
	return nil
}
