package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"

	"github.com/spaghettifunk/hybridrt/engine"
	"github.com/spaghettifunk/hybridrt/engine/config"
	"github.com/spaghettifunk/hybridrt/engine/core"
	"github.com/spaghettifunk/hybridrt/testbed"
)

// frameReport is one row of the statistics table printed after a run.
type frameReport struct {
	Preset      string
	Backend     config.Backend
	Session     string
	Summary     core.MetricsSummary
	TLASUpdates int
	Reloads     int
	Resizes     int
}

// Render runs one preset, or all of them with --all, and prints their frame
// statistics.
func Render(ctx *cli.Context) error {
	names := []string{ctx.String("preset")}
	if ctx.Bool("all") {
		names = names[:0]
		for _, p := range testbed.Presets() {
			names = append(names, p.Name)
		}
	}

	var reports []frameReport
	for _, name := range names {
		settings, err := loadSettings(ctx, name)
		if err != nil {
			core.LogError(err.Error())
			return err
		}
		report, err := runGame(name, settings)
		if err != nil {
			if core.IsFatal(err) {
				core.LogFatal("%s: %s", displayName(name), err)
			}
			return err
		}
		reports = append(reports, report)
	}
	displayFrameStats(ctx.App.Writer, reports)
	return nil
}

func displayName(preset string) string {
	if preset == "" {
		return "custom"
	}
	return preset
}

func runGame(preset string, settings *config.Config) (frameReport, error) {
	game := &engine.Game{Settings: settings}
	if preset != "" {
		p, err := testbed.Lookup(preset)
		if err != nil {
			return frameReport{}, err
		}
		game = testbed.NewTestGame(p, settings)
	}

	e, err := engine.New(game)
	if err != nil {
		return frameReport{}, err
	}
	if err := e.Initialize(); err != nil {
		return frameReport{}, err
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer signal.Stop(sigCh)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-sigCh:
			e.Quit()
		case <-done:
		}
	}()

	runErr := e.Run()
	report := frameReport{
		Preset:      displayName(preset),
		Backend:     settings.Renderer.Backend,
		Session:     e.Session().String(),
		Summary:     e.Metrics().Summary(),
		TLASUpdates: e.Path().TLASUpdates(),
		Reloads:     e.Path().Reloads(),
		Resizes:     e.Renderer().Resizes(),
	}
	if err := e.Shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return report, runErr
}

func displayFrameStats(w io.Writer, reports []frameReport) {
	table := tablewriter.NewWriter(w)
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	table.SetAutoFormatHeaders(false)
	table.SetHeader([]string{"Preset", "Backend", "Frames", "Mean ms", "Min ms", "Max ms", "Rolling ms", "FPS", "TLAS updates", "Reloads", "Resizes"})
	for _, r := range reports {
		s := r.Summary
		table.Append([]string{
			r.Preset,
			string(r.Backend),
			fmt.Sprint(s.Frames),
			fmt.Sprintf("%.3f", s.MeanMS),
			fmt.Sprintf("%.3f", s.MinMS),
			fmt.Sprintf("%.3f", s.MaxMS),
			fmt.Sprintf("%.3f", s.Rolling),
			fmt.Sprintf("%.1f", s.FPS),
			fmt.Sprint(r.TLASUpdates),
			fmt.Sprint(r.Reloads),
			fmt.Sprint(r.Resizes),
		})
	}
	if len(reports) == 1 {
		table.SetFooter([]string{"session", reports[0].Session, "", "", "", "", "", "", "", "", ""})
	}
	table.Render()
}
