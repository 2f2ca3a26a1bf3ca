// The main package for the watercrawl-mcp executable.
package main

import (
	"github.com/watercrawl/watercrawl-mcp/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
