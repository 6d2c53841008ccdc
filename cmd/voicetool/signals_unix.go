//go:build !windows

package main

import (
	"os"
	"syscall"
)

// SIGUSR1 presses the dictation trigger and SIGUSR2 releases it.
func triggerSignals() []os.Signal {
	return []os.Signal{syscall.SIGUSR1, syscall.SIGUSR2}
}

func isPress(sig os.Signal) bool {
	return sig == syscall.SIGUSR1
}
