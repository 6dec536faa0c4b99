// The main package for the satview executable.
package main

import (
	"github.com/JakeFAU/satview/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
