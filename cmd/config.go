package cmd

import (
	"fmt"

	"github.com/urfave/cli"

	"github.com/spaghettifunk/hybridrt/engine/core"
)

// PrintConfig writes the effective configuration as TOML.
func PrintConfig(ctx *cli.Context) error {
	settings, err := loadSettings(ctx, ctx.String("preset"))
	if err != nil {
		core.LogError(err.Error())
		return err
	}
	data, err := settings.Encode()
	if err != nil {
		return err
	}
	fmt.Fprint(ctx.App.Writer, string(data))
	return nil
}
