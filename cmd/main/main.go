package main

import (
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cobra.CheckErr(newRootCmd().Execute())
}
