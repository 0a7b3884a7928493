package main

import (
	"os"

	"github.com/junctive/contexd/cmd/contexd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
