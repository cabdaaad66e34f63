package main

import (
	"os"

	"github.com/nijaru/yt-analyze/commands"
)

func main() {
	os.Exit(commands.Execute())
}
