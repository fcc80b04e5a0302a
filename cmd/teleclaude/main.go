// Package main is the teleclaude entry point: the serve daemon, the
// teleport hook invoked by Claude Code, and the status probe share one
// binary so the hook can respawn the server it belongs to.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
