// ./main.go
package main

import (
	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/cmd"
)

// main is the entry point for the Jarvis engine binary.
func main() {
	// Execute the root command defined in the cmd package.
	// This handles all command-line parsing, configuration, and execution.
	cmd.Execute()
}
