package main

import (
	"os"

	"github.com/todddickerson/overskill-sub011/cmd/overskill/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
