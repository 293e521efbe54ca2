package cmd

import (
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"

	"github.com/spaghettifunk/hybridrt/engine/config"
	"github.com/spaghettifunk/hybridrt/testbed"
)

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "-"
}

// ListPresets prints every preset with the passes it enables.
func ListPresets(ctx *cli.Context) error {
	table := tablewriter.NewWriter(ctx.App.Writer)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoFormatHeaders(false)
	table.SetHeader([]string{"Preset", "Shadows", "AO", "Reflections", "Animated", "Async AS", "Description"})
	for _, p := range testbed.Presets() {
		c := config.Default()
		p.Apply(c)
		table.Append([]string{
			p.Name,
			onOff(c.Features.Shadows),
			onOff(c.Features.AmbientOcclusion),
			onOff(c.Features.Reflections),
			onOff(c.Features.Animate),
			onOff(c.Renderer.AsyncASUpdate),
			p.Description,
		})
	}
	table.Render()
	return nil
}
