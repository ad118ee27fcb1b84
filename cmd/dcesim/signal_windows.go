//go:build windows

package main

import "os"

// shutdownSignals cancel long-running work. Windows has no SIGTERM.
var shutdownSignals = []os.Signal{os.Interrupt}
