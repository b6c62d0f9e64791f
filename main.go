package main

import (
	"os"

	"github.com/danywayGit/OnChainArbitrage-sub000/cmd"
	"github.com/danywayGit/OnChainArbitrage-sub000/utils"
)

func main() {
	defer utils.CleanupLogger()

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
