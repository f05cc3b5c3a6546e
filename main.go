// Command idio is the command-line interface to Idio: a tool for compiling
// and running Idio source through the evaluator/codegen/VM pipeline.
package main

import (
	"context"
	"os"

	"github.com/idio-lang/idio/internal/cli"
	"github.com/idio-lang/idio/internal/cli/cmd"
)

var (
	commands = []cli.Command{
		cmd.Run(),
		cmd.Compile(),
	}
)

// Entry point.
func main() {
	result :=
		cli.New(context.Background()).
			WithLogger(os.Stderr).
			WithCommands(commands).
			WithHelp(cmd.Help(commands)).
			Execute(os.Args[1:])

	os.Exit(result)
}
