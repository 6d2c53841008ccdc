//go:build windows

package main

import "os"

func triggerSignals() []os.Signal { return nil }

func isPress(os.Signal) bool { return false }
