// Package main provides the stall CLI.
package main

import "github.com/mesh-intelligence/stall/internal/cli"

func main() {
	cli.Execute()
}
