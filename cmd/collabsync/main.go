package main

import (
	"log/slog"
	"os"

	"github.com/tracksuite/collabsync/pkg/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}
