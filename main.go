// The main package for the appraiser executable.
package main

import (
	"github.com/JakeFAU/channel-appraiser/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
