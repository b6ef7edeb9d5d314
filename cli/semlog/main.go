package main

import (
	"os"

	semlogcmder "github.com/papercomputeco/semlog/cmd/semlog"
)

func main() {
	cmd := semlogcmder.NewSemlogCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
