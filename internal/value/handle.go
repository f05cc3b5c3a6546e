package value

import (
	"bufio"
	"fmt"
	"io"
)

// Handle wraps a Go file-like stream for Idio's reader/printer. The file
// handle implementation proper (buffering, seek, line tracking) is an
// external collaborator per the scope notes; this is the thin
// Value wrapper the VM's three thread-local handles (input/output/error)
// and user-level `open-*-handle` primitives share.
type Handle struct {
	Name   string
	Reader *bufio.Reader
	Writer io.Writer
	Closer io.Closer
	line   int
}

func NewInputHandle(name string, r io.Reader) *Handle {
	return &Handle{Name: name, Reader: bufio.NewReader(r), line: 1}
}

func NewOutputHandle(name string, w io.Writer) *Handle {
	return &Handle{Name: name, Writer: w}
}

func (*Handle) Type() Type { return TypeHandle }

func (h *Handle) String() string { return fmt.Sprintf("#<HANDLE %s>", h.Name) }

func (h *Handle) Line() int { return h.line }

func (h *Handle) Close() error {
	if h.Closer != nil {
		return h.Closer.Close()
	}

	return nil
}

// ReadByte reads a single byte, tracking line numbers for error location
// reporting.
func (h *Handle) ReadByte() (byte, error) {
	b, err := h.Reader.ReadByte()
	if err == nil && b == '\n' {
		h.line++
	}

	return b, err
}

func (h *Handle) WriteString(s string) (int, error) {
	return io.WriteString(h.Writer, s)
}
