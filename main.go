package main

import (
	"os"

	"github.com/spaghettifunk/hybridrt/cmd"
	"github.com/spaghettifunk/hybridrt/engine/core"
)

func main() {
	if err := cmd.NewApp().Run(os.Args); err != nil {
		core.LogFatal(err.Error())
	}
}
