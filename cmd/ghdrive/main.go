// Package main provides the ghdrive gateway binary.
package main

import "github.com/mscno/ghdrive/cmd/ghdrive/commands"

func main() {
	commands.Execute(Version)
}
