package cmd

import (
	"github.com/urfave/cli"

	"github.com/spaghettifunk/hybridrt/engine/config"
)

// setupLogging lets the global verbosity flags override the configured level.
func setupLogging(ctx *cli.Context, settings *config.Config) {
	if ctx.GlobalBool("v") {
		settings.Application.LogLevel = "info"
	}
	if ctx.GlobalBool("vv") {
		settings.Application.LogLevel = "debug"
	}
}
