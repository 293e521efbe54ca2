package cmd

import (
	"github.com/urfave/cli"

	"github.com/spaghettifunk/hybridrt/engine/config"
	"github.com/spaghettifunk/hybridrt/engine/core"
	"github.com/spaghettifunk/hybridrt/testbed"
)

// SettingsFlags are shared by the commands that build a configuration.
var SettingsFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "config, c",
		Usage: "TOML file overlaid on the defaults",
	},
	cli.StringFlag{
		Name:  "preset, p",
		Usage: "apply a named preset (see the presets command)",
	},
	cli.StringFlag{
		Name:  "backend, b",
		Usage: "headless or vulkan",
	},
	cli.IntFlag{
		Name:  "frames, n",
		Value: -1,
		Usage: "frames to render; 0 renders until the window closes",
	},
	cli.IntFlag{
		Name:  "width",
		Usage: "surface width",
	},
	cli.IntFlag{
		Name:  "height",
		Usage: "surface height",
	},
	cli.StringFlag{
		Name:  "scene, s",
		Usage: "TOML scene file; the built-in scene is used when empty",
	},
	cli.BoolFlag{
		Name:  "watch, w",
		Usage: "reload pass pipelines when compiled shaders change",
	},
}

// loadSettings builds the effective configuration: defaults, then the
// config file, then the preset, then individual flags.
func loadSettings(ctx *cli.Context, preset string) (*config.Config, error) {
	settings := config.Default()
	if path := ctx.String("config"); path != "" {
		var err error
		if settings, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if preset != "" {
		p, err := testbed.Lookup(preset)
		if err != nil {
			return nil, err
		}
		p.Apply(settings)
	}
	applyFlags(ctx, settings)
	setupLogging(ctx, settings)
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if err := core.SetLogLevel(settings.Application.LogLevel); err != nil {
		return nil, err
	}
	return settings, nil
}

func applyFlags(ctx *cli.Context, settings *config.Config) {
	if b := ctx.String("backend"); b != "" {
		settings.Renderer.Backend = config.Backend(b)
	}
	if n := ctx.Int("frames"); n >= 0 {
		settings.Renderer.Frames = n
	}
	if w := ctx.Int("width"); w > 0 {
		settings.Application.Width = uint32(w)
	}
	if h := ctx.Int("height"); h > 0 {
		settings.Application.Height = uint32(h)
	}
	if s := ctx.String("scene"); s != "" {
		settings.Scene.Path = s
	}
	if ctx.Bool("watch") {
		settings.Shaders.Watch = true
	}
}
