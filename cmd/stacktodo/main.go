// Package main provides the entry point for the stacktodo CLI.
package main

import (
	"github.com/stacktodo/stacktodo-go/internal/cli"
)

func main() {
	cli.Execute()
}
