//go:build !unix

package codeloader

// lockFile is a no-op where flock is unavailable. Expansion is still
// collapsed within the process.
func lockFile(path string) (func(), error) {
	return func() {}, nil
}
