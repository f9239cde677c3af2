// Package idfile persists a freshly generated extension id so later
// submissions can update the same add-on record.
package idfile

import (
	"fmt"
	"os"
	"strings"
)

// Persister writes id files. A distinct type so the workflow can inject a
// fake in tests.
type Persister struct{}

func NewPersister() *Persister { return &Persister{} }

// Save overwrites path with two comment lines followed by the bare id on its
// own line.
func (p *Persister) Save(path, id string) error {
	lines := []string{
		"# This file was created by addonsign",
		"# It contains the id of your extension; keep it to sign future versions",
		id,
		"",
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return fmt.Errorf("writing id file %s: %w", path, err)
	}
	return nil
}
