package main_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/idio-lang/idio/internal/cli"
	"github.com/idio-lang/idio/internal/cli/cmd"
)

// TestRunCommand exercises the CLI exactly the way a user invoking `idio
// run` on the command line would: through Commander.Execute(), reading
// source from a file argument.
func TestRunCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "add.idio")

	if err := os.WriteFile(path, []byte("(+ 1 2)"), 0o644); err != nil {
		t.Fatalf("writing source: %v", err)
	}

	commander := newCommander()

	if code := commander.Execute([]string{"run", path}); code != 0 {
		t.Fatalf("run exited %d", code)
	}
}

func TestRunCommandMissingFile(t *testing.T) {
	commander := newCommander()

	if code := commander.Execute([]string{"run", "/no/such/file.idio"}); code == 0 {
		t.Fatalf("expected a nonzero exit code for a missing file")
	}
}

func TestHelpCommand(t *testing.T) {
	commander := newCommander()

	var out bytes.Buffer

	if code := commander.Execute([]string{"help"}); code != 0 {
		t.Fatalf("help exited %d, output: %s", code, out.String())
	}
}

func newCommander() *cli.Commander {
	commands := []cli.Command{cmd.Run()}

	return cli.New(context.Background()).
		WithLogger(os.Stderr).
		WithCommands(commands).
		WithHelp(cmd.Help(commands))
}
