// Command routectl is the operator CLI for the desk routing engine.
package main

import (
	"fmt"
	"os"
)

func main() {
	root, cleanup := NewRootCommand()
	err := root.Execute()
	cleanup()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
