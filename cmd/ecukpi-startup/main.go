package main

import (
	"os"

	_ "go.uber.org/automaxprocs"
	"k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/ecukpi/cmd/ecukpi-startup/app"
)

func main() {
	ctx := server.SetupSignalContext()
	if err := app.NewStartupTimeCommand(ctx).Execute(); err != nil {
		os.Exit(1)
	}
}
