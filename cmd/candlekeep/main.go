package main

import (
	"os"

	"github.com/candlekeep/candlekeep/cmd/candlekeep/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
