// Package filex contains small filesystem helpers shared by the workflow
// and the entrypoint.
package filex

import (
	"fmt"
	"os"
)

// EnsureDir creates dir (and any parents) if it does not exist yet.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o770); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return nil
}

// CheckRegularFile verifies that path exists and is a regular file.
func CheckRegularFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}
	return nil
}
