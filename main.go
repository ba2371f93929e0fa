// The main package for the catalogsync executable.
package main

import (
	"github.com/JakeFAU/repack-catalog/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
