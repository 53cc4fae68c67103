package main

import (
	"os"

	"github.com/tg/roverlink/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
