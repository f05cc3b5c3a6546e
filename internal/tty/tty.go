// Package tty provides terminal emulation for the interactive REPL.
package tty

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// Console is a raw-mode terminal console for the REPL. Raw mode lets the reader return a form as
// soon as a closing paren completes it, rather than waiting for a newline
// the way line-buffered terminal input would force.
type Console struct {
	in    *os.File
	out   *term.Terminal
	fd    int
	state *term.State

	runeCh chan rune
}

// ErrNoTTY is returned if standard input is not a terminal. In this case,
// raw-mode console I/O is not available and callers should fall back to
// reading whole lines from os.Stdin directly.
var ErrNoTTY error = errors.New("console: not a TTY")

// NewConsole creates a Console using the provided streams. If the input
// stream is not a terminal, ErrNoTTY is returned. Callers must call
// [Console.Restore] to return the terminal to its initial state.
func NewConsole(sin, sout, serr *os.File) (*Console, error) {
	fd := int(sin.Fd())

	if !term.IsTerminal(fd) {
		return nil, ErrNoTTY
	}

	saved, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoTTY, err)
	}

	cons := &Console{
		fd:     fd,
		in:     sin,
		out:    term.NewTerminal(sin, ""),
		state:  saved,
		runeCh: make(chan rune, 256),
	}

	if err := cons.setTerminalParams(1, 0); err != nil {
		return nil, err
	}

	return cons, nil
}

// WithConsole creates a Console context with the standard streams and
// starts its read loop; the returned CancelFunc both stops the read loop
// and restores the terminal. If standard input is not a terminal, ctx
// carries the cause (ErrNoTTY) and console is nil -- callers should check
// context.Cause(ctx) before using the returned console.
func WithConsole(parent context.Context) (context.Context, *Console, context.CancelFunc) {
	ctx, cause := context.WithCancelCause(parent)

	console, err := NewConsole(os.Stdin, os.Stdout, os.Stderr)
	if err != nil {
		cause(err)
		return ctx, nil, func() { cause(context.Canceled) }
	}

	go console.readTerminal(ctx, cause)

	return ctx, console, func() {
		console.Restore()
		cause(context.Canceled)
	}
}

// Runes returns the channel of bytes read from the terminal, decoded as
// runes, one per keystroke.
func (c *Console) Runes() <-chan rune { return c.runeCh }

// Writer returns an io.Writer that writes to the terminal, e.g. for the
// REPL's prompt and result printing.
func (c *Console) Writer() io.Writer { return c.out }

// Restore returns the terminal to its initial state and unblocks any
// in-progress read.
func (c *Console) Restore() {
	_ = c.in.SetReadDeadline(time.Now())
	_ = term.Restore(c.fd, c.state)
}

func (c *Console) setTerminalParams(vmin, vtime byte) error {
	_ = syscall.SetNonblock(c.fd, true)

	termIO, err := unix.IoctlGetTermios(c.fd, getTermiosIoctl)
	if err != nil {
		return err
	}

	termIO.Cc[unix.VMIN] = vmin
	termIO.Cc[unix.VTIME] = vtime

	if err := unix.IoctlSetTermios(c.fd, setTermiosIoctl, termIO); err != nil {
		return err
	}

	_ = c.in.SetReadDeadline(time.Time{})

	return nil
}

// readTerminal reads runes from the terminal and writes them to the rune
// channel until the context is cancelled. If reading fails, it cancels the
// context with the read error as cause.
func (c *Console) readTerminal(ctx context.Context, cancel context.CancelCauseFunc) {
	buf := bufio.NewReader(c.in)

	_ = syscall.SetNonblock(c.fd, false)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r, _, err := buf.ReadRune()
		if err != nil {
			cancel(err)
			return
		}

		select {
		case <-ctx.Done():
			return
		case c.runeCh <- r:
		}
	}
}
