package xenv

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// signal.go wires OS signal delivery into the Runtime's SignalRecord array
// drained by the VM between opcodes.

// watchedSignals is the fixed set of signals the runtime fields itself. SIGWINCH has no portable os/signal equivalent outside
// unix, hence the x/sys/unix dependency rather than plain syscall.
var watchedSignals = []os.Signal{unix.SIGINT, unix.SIGWINCH}

// StartSignals registers an OS signal handler that sets rt.SignalRecord[n]
// for every delivered signal n, and returns a stop function that restores
// default handling. The VM's dispatch loop drains and clears the array
// between opcodes (see internal/vm's step, "safe point" check).
func (rt *Runtime) StartSignals() (stop func()) {
	ch := make(chan os.Signal, 8)
	signal.Notify(ch, watchedSignals...)

	done := make(chan struct{})

	go func() {
		for {
			select {
			case sig := <-ch:
				if n := signum(sig); n >= 0 && n < len(rt.SignalRecord) {
					rt.mu.Lock()
					rt.SignalRecord[n] = true
					rt.mu.Unlock()
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
	}
}

func signum(sig os.Signal) int {
	if n, ok := sig.(unix.Signal); ok {
		return int(n)
	}

	return -1
}

// PendingSignal reports and clears the lowest-numbered pending signal, or
// -1 if none is pending. Called once per opcode dispatch.
func (rt *Runtime) PendingSignal() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	for n, pending := range rt.SignalRecord {
		if pending {
			rt.SignalRecord[n] = false
			return n
		}
	}

	return -1
}
