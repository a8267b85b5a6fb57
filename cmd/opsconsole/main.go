package main

import (
	"os"

	"github.com/dropship-ops/opsconsole/cmd/opsconsole/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
