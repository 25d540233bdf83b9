package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	a := newApp(os.Stdout, os.Stderr)
	err := a.rootCmd().Execute()
	a.shutdown()
	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		os.Exit(1)
	}
}
