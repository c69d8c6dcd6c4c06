package main

import (
	"os"

	"payinsights/internal/cli"
)

var version = "dev"

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	if err := cli.Execute(version); err != nil {
		os.Exit(1)
	}
}
