//go:build !windows

package main

import (
	"os"
	"syscall"
)

// shutdownSignals cancel long-running work.
var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}
