// Package sigctl installs and routes the signals the evaluator reacts
// to: SIGCHLD, SIGINT, SIGTSTP, SIGTTIN, SIGTTOU.
//
// Rather than touching shared job-table state from inside a true signal
// handler, which is not async-signal-safe, this routes through Go's
// os/signal channel, itself a "self-pipe": the runtime's signal handler
// only ever writes to a channel, and all the real work happens on an
// ordinary goroutine.
package sigctl

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"

	"github.com/pboisselier/S5-MiniShell/pkg/shell/job"
)

// managed is the fixed set of signals the shell dispatches on.
var managed = []os.Signal{unix.SIGCHLD, unix.SIGINT, unix.SIGTSTP, unix.SIGTTIN, unix.SIGTTOU}

// Hooks lets the evaluator react to routed signals without sigctl
// importing the evaluator package.
type Hooks interface {
	// ForegroundJob returns the job currently owning the terminal, or nil.
	ForegroundJob() *job.Job
	// Suspend reacts to Ctrl-Z on the foreground job: send it SIGTSTP,
	// mark it Stopped and backgrounded, and remember it as the last job.
	Suspend(j *job.Job)
	// ReclaimTerminal takes the controlling terminal back for the shell.
	ReclaimTerminal()
}

// Dispatcher owns the signal channel and routes deliveries to a Table
// (for SIGCHLD reaping) and a set of Hooks (for job-control reactions).
type Dispatcher struct {
	table *job.Table
	hooks Hooks
	ch    chan os.Signal
	done  chan struct{}
}

// New creates a Dispatcher over the given job table and hooks. It does
// not install anything until Install is called.
func New(table *job.Table, hooks Hooks) *Dispatcher {
	return &Dispatcher{table: table, hooks: hooks}
}

// Install swaps in the shell's own handler set, starting the dispatch
// goroutine on first call.
func (d *Dispatcher) Install() {
	if d.ch == nil {
		d.ch = make(chan os.Signal, 16)
		d.done = make(chan struct{})
		go d.loop()
	}
	signal.Notify(d.ch, managed...)
}

// InstallDefault swaps in the OS default disposition for the managed
// signals, used while a foreground child owns the terminal so
// Ctrl-C/Ctrl-Z affect it via the kernel's own tty signal delivery
// rather than being routed through the shell.
func (d *Dispatcher) InstallDefault() {
	signal.Reset(managed...)
}

// Close stops the dispatch goroutine. Safe to call once.
func (d *Dispatcher) Close() {
	if d.ch == nil {
		return
	}
	signal.Stop(d.ch)
	close(d.done)
}

func (d *Dispatcher) loop() {
	for {
		select {
		case sig := <-d.ch:
			d.route(sig)
		case <-d.done:
			return
		}
	}
}

func (d *Dispatcher) route(sig os.Signal) {
	switch sig {
	case unix.SIGCHLD:
		job.Reap(d.table)

	case unix.SIGINT:
		if fg := d.hooks.ForegroundJob(); fg != nil {
			_ = unix.Kill(fg.PID, unix.SIGINT)
		}

	case unix.SIGTSTP:
		if fg := d.hooks.ForegroundJob(); fg != nil {
			d.hooks.Suspend(fg)
		}

	case unix.SIGTTIN, unix.SIGTTOU:
		d.hooks.ReclaimTerminal()
	}
}

// Tcsetpgrp assigns pgid as the controlling terminal's foreground
// process group, the Go equivalent of the C source's tcsetpgrp(0, pid).
func Tcsetpgrp(fd int, pgid int) error {
	return unix.IoctlSetPointerInt(fd, unix.TIOCSPGRP, pgid)
}

// Tcgetpgrp returns the controlling terminal's current foreground
// process group.
func Tcgetpgrp(fd int) (int, error) {
	return unix.IoctlGetInt(fd, unix.TIOCGPGRP)
}
