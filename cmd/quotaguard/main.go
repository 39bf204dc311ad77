package main

import (
	"os"

	"github.com/tkingovr/quotaguard/cmd/quotaguard/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
