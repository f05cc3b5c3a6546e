// run.go implements the `idio run` sub-command: read every top-level form
// out of a source file (or standard input, given no file argument),
// evaluate them in order against a fresh Runtime/Evaluator/Thread, and
// print the last value produced. A file carrying the cache extension is
// loaded through the pre-compilation reader instead of the evaluator.
package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/idio-lang/idio/internal/cli"
	"github.com/idio-lang/idio/internal/log"
	"github.com/idio-lang/idio/internal/value"
)

type runCmd struct {
	fs *flag.FlagSet
}

var _ cli.Command = (*runCmd)(nil)

// Run returns the `run` sub-command.
func Run() *runCmd {
	return &runCmd{fs: flag.NewFlagSet("run", flag.ExitOnError)}
}

func (*runCmd) Description() string { return "compile and run an Idio source file" }

func (r *runCmd) FlagSet() *cli.FlagSet { return r.fs }

func (r *runCmd) Usage(out io.Writer) error {
	_, err := fmt.Fprintln(out, "run [file]\n\nReads forms from file, or from standard input if no file is given, and\nevaluates each in turn, printing the final value.")
	return err
}

func (r *runCmd) Run(_ context.Context, args []string, out io.Writer, logger *log.Logger) int {
	src, name, err := readSource(args)
	if err != nil {
		fmt.Fprintln(out, "run:", err)
		return 1
	}

	e := newEngine()
	if logger != nil {
		e.th.WithLogger(logger)
	}

	var result value.Value
	if strings.HasSuffix(name, CacheExt) {
		result, err = e.runCache([]byte(src))
	} else {
		result, err = e.evalSource(src, name)
	}

	if err != nil {
		fmt.Fprintln(out, "run:", err)
		return 1
	}

	if result != value.Void {
		fmt.Fprintln(out, value.SafeString(result))
	}

	return 0
}

func readSource(args []string) (src, name string, err error) {
	if len(args) == 0 {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", "", fmt.Errorf("reading standard input: %w", err)
		}

		return string(b), "<stdin>", nil
	}

	b, err := os.ReadFile(args[0])
	if err != nil {
		return "", "", fmt.Errorf("reading %s: %w", args[0], err)
	}

	return string(b), args[0], nil
}
