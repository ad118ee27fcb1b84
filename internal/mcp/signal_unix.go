//go:build !windows

package mcp

import (
	"os"
	"syscall"
)

// shutdownSignals cancel long-running work.
var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}
