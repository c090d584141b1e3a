package main

import (
	"os"

	"github.com/psantana5/ffmpeg-rife/cmd/rifed/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
