package main

import (
	"fmt"
	"os"

	"github.com/zeu5/traffic-rl-signal/commands"
)

// main entry point to the controller and its tools
func main() {
	rootCommand := commands.GetRootCommand()
	if err := rootCommand.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
