// Package main is the single-binary entrypoint for meshgate.
package main

import "github.com/meshgate/meshgate/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
