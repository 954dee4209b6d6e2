package main

import (
	"os"

	"github.com/visor-agent/visor/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
