package main

import (
	"os"

	"github.com/life2you_mini/bridgesync/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
