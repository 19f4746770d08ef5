package main

import (
	"os"

	"github.com/wonny/hedgefund/cmd/hedgefund/commands"
)

// main is the entry point for the hedgefund CLI
// ⭐ go run ./cmd/hedgefund [command]
func main() {
	os.Exit(commands.ExitCode(commands.Execute()))
}
