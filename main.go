// The main package for the knowledge-base crawler executable.
package main

import (
	"os"

	"github.com/JakeFAU/knowledge-base-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
