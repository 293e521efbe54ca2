package cmd

import (
	"github.com/urfave/cli"
)

// NewApp wires the hybridrt commands.
func NewApp() *cli.App {
	cli.VersionFlag = cli.BoolFlag{
		Name:  "version",
		Usage: "print only the version",
	}

	app := cli.NewApp()
	app.Name = "hybridrt"
	app.Usage = "render scenes with a rasterized G-buffer and ray traced lighting"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "v",
			Usage: "enable verbose logging",
		},
		cli.BoolFlag{
			Name:  "vv",
			Usage: "enable even more verbose logging",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:  "run",
			Usage: "render frames and print their statistics",
			Description: `
Render the configured number of frames on the headless device or through a
Vulkan window. The headless device replays every submission and reports
layout and synchronization violations in the log.`,
			Flags: append([]cli.Flag{
				cli.BoolFlag{
					Name:  "all",
					Usage: "run every preset in turn",
				},
			}, SettingsFlags...),
			Action: Render,
		},
		{
			Name:   "presets",
			Usage:  "list the built-in presets",
			Action: ListPresets,
		},
		{
			Name:   "config",
			Usage:  "print the effective configuration as TOML",
			Flags:  SettingsFlags,
			Action: PrintConfig,
		},
	}
	return app
}
