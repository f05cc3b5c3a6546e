// The test is skipped when stdin is not a terminal (ErrNoTTY). Notably, this
// includes when run with "go test" because it redirects tests' standard
// input/output streams. You can test it by building a test binary and
// running it directly:
//
//	$ go test -c && ./tty.test
package tty_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/idio-lang/idio/internal/tty"
)

const timeout = 100 * time.Millisecond

func TestConsole(tt *testing.T) {
	ctx := context.Background()
	ctx, cancel := context.WithTimeoutCause(ctx, timeout, context.DeadlineExceeded)
	defer cancel()

	ctx, console, done := tty.WithConsole(ctx)
	defer done()

	if err := context.Cause(ctx); errors.Is(err, tty.ErrNoTTY) {
		tt.Skipf("error: %s", context.Cause(ctx))
		return
	}

	select {
	case r := <-console.Runes():
		if r == 0 {
			tt.Errorf("read a zero rune")
		}
	case <-ctx.Done():
	}
}
