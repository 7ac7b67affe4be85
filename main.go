package main

import (
	"os"

	"github.com/cloudchase/tfmeta/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
