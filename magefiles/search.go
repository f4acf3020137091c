package main

import (
	"fmt"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Search builds the CLI and ingests query into project, creating the
// project first when it does not exist yet. Handy for manual checks against
// the live E-utilities.
func Search(project, query string) error {
	mg.Deps(Build)
	bin := filepath.Join(binDir, binName)
	if err := sh.RunV(bin, "project", "show", project); err != nil {
		fmt.Printf("Creating project %s\n", project)
		if err := sh.RunV(bin, "project", "create", project); err != nil {
			return err
		}
	}
	return sh.RunV(bin, "search", project, query, "--max-results", "20")
}
