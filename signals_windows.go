// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

//go:build windows

package main

import (
	"github.com/soothill/plant-feed/app"
	"github.com/soothill/plant-feed/pkg/logger"
)

// setupDebugSignalHandlers is a no-op on Windows as SIGUSR1/SIGUSR2 don't exist.
// Feed states are available from the /feeds endpoint instead.
func setupDebugSignalHandlers(_ *app.App) {
	logger.Debug().Msg("Debug signal handlers not available on Windows")
}
