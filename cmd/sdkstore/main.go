// Command sdkstore inspects and maintains SDK datastore files.
package main

import (
	"os"

	"github.com/roach88/sdkstore/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
