// compile.go implements the `idio compile` sub-command: compile a source
// file into a pre-compilation cache file that a later `idio run` loads
// without re-entering the evaluator.
package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/idio-lang/idio/internal/cache"
	"github.com/idio-lang/idio/internal/cli"
	"github.com/idio-lang/idio/internal/log"
)

// CacheExt is the filename extension marking a pre-compilation cache file.
const CacheExt = ".idioc"

type compileCmd struct {
	fs *flag.FlagSet

	output     string
	noChecksum bool
}

var _ cli.Command = (*compileCmd)(nil)

// Compile returns the `compile` sub-command.
func Compile() *compileCmd {
	c := &compileCmd{fs: flag.NewFlagSet("compile", flag.ExitOnError)}
	c.fs.StringVar(&c.output, "o", "", "output `file` (default: source file with "+CacheExt+")")
	c.fs.BoolVar(&c.noChecksum, "no-checksum", false, "omit the source checksum from the cache")

	return c
}

func (*compileCmd) Description() string { return "compile an Idio source file to a cache file" }

func (c *compileCmd) FlagSet() *flag.FlagSet { return c.fs }

func (c *compileCmd) Usage(out io.Writer) error {
	_, err := fmt.Fprintln(out, "compile [-o output] [-no-checksum] file\n\nCompiles file and writes the pre-compilation cache alongside it.")
	return err
}

func (c *compileCmd) Run(_ context.Context, args []string, out io.Writer, logger *log.Logger) int {
	if len(args) != 1 {
		fmt.Fprintln(out, "compile: exactly one source file expected")
		return 1
	}

	src, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintln(out, "compile:", err)
		return 1
	}

	e := newEngine()
	if logger != nil {
		e.th.WithLogger(logger)
	}

	f, err := e.compileSource(string(src), args[0], !c.noChecksum)
	if err != nil {
		fmt.Fprintln(out, "compile:", err)
		return 1
	}

	output := c.output
	if output == "" {
		output = strings.TrimSuffix(args[0], ".idio") + CacheExt

		// IDIO_CACHE_DIR redirects default cache placement away from the
		// source tree.
		if dir := os.Getenv("IDIO_CACHE_DIR"); dir != "" {
			output = filepath.Join(dir, filepath.Base(output))
		}
	}

	w, err := os.Create(output)
	if err != nil {
		fmt.Fprintln(out, "compile:", err)
		return 1
	}
	defer w.Close()

	if err := cache.Write(w, f); err != nil {
		fmt.Fprintln(out, "compile:", err)
		return 1
	}

	if logger != nil {
		logger.Info("compiled", "source", args[0], "output", output, "cache", f.String())
	}

	return 0
}
