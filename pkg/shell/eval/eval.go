// Package eval implements the command evaluator: reaping finished
// children, wiring up redirections, running pipelines, sequencing
// ';'/'&&'/'||' chains, launching commands, and driving a parsed
// command tree to completion — together turning it into child
// processes, job-table updates, and a returned exit status.
//
// Evaluator holds all of the shell's process-wide state (shell pid/
// pgid, interactive flag, init flag, last status, job table, foreground
// and last-job pointers) as ordinary struct fields rather than package
// globals, so a test can construct one, drive it, and throw it away.
package eval

import (
	"os"
	"os/exec"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/pboisselier/S5-MiniShell/pkg/core"
	"github.com/pboisselier/S5-MiniShell/pkg/shell/ast"
	"github.com/pboisselier/S5-MiniShell/pkg/shell/builtin"
	"github.com/pboisselier/S5-MiniShell/pkg/shell/job"
	"github.com/pboisselier/S5-MiniShell/pkg/shell/sigctl"
)

// internStatus is the out-of-band sentinel used to distinguish "job
// launched, no status yet" from a real exit code (Evaluation.c's
// INTERNSTATUS). It is only ever seen inside eval; normalize converts
// it (and internStatus+1, the overflow sentinel) to a small
// user-visible non-negative status before crossing the Evaluate
// boundary.
const internStatus = -128

func normalize(status int) int {
	if status < 0 {
		return status - internStatus
	}
	return status
}

// Evaluator is the command evaluator. The zero value is not usable;
// construct one with New.
type Evaluator struct {
	stdio      *core.Stdio
	table      *job.Table
	dispatcher *sigctl.Dispatcher

	shellPID    int
	shellPGID   int
	interactive bool
	initialized bool
	lastStatus  int
	fgJob       *job.Job
	lastJob     *job.Job
}

// New creates an Evaluator writing shell messages through stdio. The
// shell's own process group, terminal ownership, and signal handlers
// are established lazily on the first call to Evaluate.
func New(stdio *core.Stdio) *Evaluator {
	e := &Evaluator{
		stdio: stdio,
		table: job.NewTable(),
	}
	e.dispatcher = sigctl.New(e.table, e)
	return e
}

// --- builtin.Host ---

func (e *Evaluator) Stdio() *core.Stdio               { return e.stdio }
func (e *Evaluator) LastStatus() int                  { return e.lastStatus }
func (e *Evaluator) AllJobs() []*job.Job              { return e.table.All() }
func (e *Evaluator) FindJobByLabel(l string) *job.Job { return e.table.FindByLabel(l) }
func (e *Evaluator) MostRecentJob() *job.Job          { return e.table.Live() }

func (e *Evaluator) Foreground(j *job.Job) { e.sendToForeground(j) }

func (e *Evaluator) Background(j *job.Job) bool {
	if j.State == job.Running {
		return false
	}
	e.sendToBackground(j)
	return true
}

// --- sigctl.Hooks ---

func (e *Evaluator) ForegroundJob() *job.Job { return e.fgJob }

func (e *Evaluator) Suspend(j *job.Job) {
	if err := unix.Kill(j.PID, unix.SIGTSTP); err != nil {
		e.stdio.Errorf("Unable to send TSTP: %s\n", err)
	}
	j.State = job.Stopped
	j.Background = true
	e.lastJob = j
}

func (e *Evaluator) ReclaimTerminal() {
	if !e.interactive {
		return
	}
	if pgid, err := sigctl.Tcgetpgrp(0); err == nil && pgid == e.shellPGID {
		return
	}
	_ = sigctl.Tcsetpgrp(0, e.shellPGID)
}

// init establishes the shell's own process group, attempts to grab the
// controlling terminal, and installs the signal dispatcher. Failure to
// obtain a process group is fatal: there is
// no way to run a job-controlling shell without one, matching
// Evaluation.c's setjmp/longjmp retry-then-exit.
func (e *Evaluator) init() {
	if e.initialized {
		return
	}

	e.shellPID = unix.Getpid()
	if err := unix.Setpgid(0, 0); err != nil {
		// One retry, matching Evaluation.c's setjmp/longjmp path, before
		// giving up: a shell that can't own a process group can't do
		// job control at all.
		if err := unix.Setpgid(0, 0); err != nil {
			e.stdio.Errorf("Unable to init shell correctly, quitting...\n")
			os.Exit(1)
		}
	}
	e.shellPGID = e.shellPID

	e.interactive = term.IsTerminal(0)
	if e.interactive {
		if err := sigctl.Tcsetpgrp(0, e.shellPID); err != nil {
			e.interactive = false
		}
	}

	e.dispatcher.Install()
	e.initialized = true
}

// Evaluate is the top-level driver: it runs one parsed
// tree to completion, reaps whatever finished along the way, and
// returns the normalized status that becomes $?.
func (e *Evaluator) Evaluate(tree *ast.Node) int {
	e.init()

	notify := e.interactive
	status := normalize(e.eval(tree, false, notify))

	job.Reap(e.table)

	if e.fgJob != nil && (e.fgJob.Status != 0 || e.fgJob.TermSig != 0) {
		status = e.fgJob.Status
	}
	e.lastStatus = status

	if e.interactive && e.fgJob != nil {
		switch e.fgJob.TermSig {
		case int(unix.SIGSEGV):
			e.stdio.Errorf("%s: Segmentation fault.\n", e.fgJob.Label)
		case int(unix.SIGKILL), int(unix.SIGTERM):
			e.stdio.Errorf("%s: Terminated.\n", e.fgJob.Label)
		}
	}

	e.table.ReapDone(e.interactive, func(j *job.Job) {
		e.stdio.Print(job.FormatLine(j))
	})
	e.fgJob = nil

	return status
}

// eval dispatches by node kind. bg is the calling
// context's background flag; notify controls whether background job
// launches print their "[jid] pid" line.
func (e *Evaluator) eval(n *ast.Node, bg bool, notify bool) int {
	if n == nil {
		return internStatus
	}

	if n.Kind.IsRedir() {
		return e.redirect(n, bg)
	}

	switch n.Kind {
	case ast.Empty:
		return internStatus
	case ast.Simple:
		return e.launch(n, bg, notify)
	case ast.Seq, ast.SeqAnd, ast.SeqOr:
		return e.sequence(n, bg, notify)
	case ast.Pipe:
		return e.pipeline(n, bg)
	case ast.Background:
		return e.eval(n.Left, true, notify)
	}

	e.stdio.Errorf("Unexpected error.\n")
	return internStatus + 1
}

// redirect saves the real
// fds 0/1/2, rewires the one(s) the node's kind targets to the opened
// file, evaluates the left subtree, and restores the saved fds. This
// operates on the process's actual file descriptors rather than on
// core.Stdio, so that a forked child of the left subtree inherits the
// redirected fd exactly like a shell that never wrapped os.Stdout in
// an interface would; core.Stdio.Out/Err still work for the shell's
// own messages because os.Stdout/os.Stderr always refer to fd 1/2
// regardless of what has been dup2'd onto them.
func (e *Evaluator) redirect(n *ast.Node, bg bool) int {
	target := n.Target()

	savedIn, errIn := unix.Dup(0)
	savedOut, errOut := unix.Dup(1)
	savedErr, errErr := unix.Dup(2)
	if errIn != nil || errOut != nil || errErr != nil {
		closeIfValid(savedIn, savedOut, savedErr)
		e.stdio.Errorf("%s: unable to save descriptors\n", target)
		return -1
	}

	var flags int
	switch n.Kind {
	case ast.RedirIn:
		flags = unix.O_RDONLY | unix.O_CLOEXEC
	case ast.RedirAppend:
		flags = unix.O_WRONLY | unix.O_CREAT | unix.O_CLOEXEC | unix.O_APPEND
	default: // RedirOut, RedirErr, RedirErrOut
		flags = unix.O_WRONLY | unix.O_CREAT | unix.O_CLOEXEC | unix.O_TRUNC
	}

	fd, err := unix.Open(target, flags, 0o666)
	if err != nil {
		closeIfValid(savedIn, savedOut, savedErr)
		e.stdio.Errorf("%s: %s\n", target, err)
		return -1
	}

	switch n.Kind {
	case ast.RedirIn:
		unix.Dup2(fd, 0)
	case ast.RedirErr:
		unix.Dup2(fd, 2)
	case ast.RedirErrOut:
		unix.Dup2(fd, 2)
		unix.Dup2(fd, 1)
	case ast.RedirOut, ast.RedirAppend:
		unix.Dup2(fd, 1)
	}

	status := e.eval(n.Left, bg, false)

	unix.Dup2(savedIn, 0)
	unix.Close(savedIn)
	unix.Dup2(savedOut, 1)
	unix.Close(savedOut)
	unix.Dup2(savedErr, 2)
	unix.Close(savedErr)
	unix.Close(fd)

	return status
}

func closeIfValid(fds ...int) {
	for _, fd := range fds {
		if fd >= 0 {
			unix.Close(fd)
		}
	}
}

// pipeline connects two commands with an anonymous pipe. The right
// stage runs as an un-notified background job reading the pipe; the
// left stage runs with the caller's own foreground/background option
// writing into it. The pipeline's status is the left (earliest)
// stage's status.
func (e *Evaluator) pipeline(n *ast.Node, bg bool) int {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		e.stdio.Errorf("Unable to set pipe: %s\n", err)
		return -1
	}

	savedOut, errOut := unix.Dup(1)
	savedIn, errIn := unix.Dup(0)
	if errOut != nil || errIn != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		closeIfValid(savedOut, savedIn)
		e.stdio.Errorf("Unable to set pipe\n")
		return -1
	}

	unix.Dup2(fds[0], 0)
	unix.Close(fds[0])
	e.eval(n.Right, true, false)

	unix.Dup2(savedIn, 0)
	unix.Dup2(fds[1], 1)
	unix.Close(fds[1])
	leftStatus := e.eval(n.Left, bg, false)

	unix.Dup2(savedOut, 1)
	unix.Close(savedOut)
	unix.Close(savedIn)

	return leftStatus
}

// sequence evaluates a ';'/'&&'/'||' node: ';' always runs both sides,
// '&&' skips the right side if the left failed, '||' skips it if the
// left succeeded.
func (e *Evaluator) sequence(n *ast.Node, bg bool, notify bool) int {
	if bg {
		return e.backgroundSequence(n, notify)
	}

	left := normalize(e.eval(n.Left, false, false))

	var status int
	switch n.Kind {
	case ast.SeqAnd:
		if left != 0 {
			status = left
		} else {
			status = e.eval(n.Right, false, false)
		}
	case ast.SeqOr:
		if left == 0 {
			status = left
		} else {
			status = e.eval(n.Right, false, false)
		}
	default: // Seq
		status = e.eval(n.Right, false, false)
	}

	return normalize(status)
}

// backgroundSequence launches an entire ';'/'&&'/'||' subtree as one
// background job. Evaluation.c does this with a bare fork(): the child
// re-runs the same expression_handler tree in foreground mode and
// exits with its status. A bare fork() of the Go runtime is not safe
// (other goroutines' locks and OS threads are left in whatever state
// they held at fork time, and only the calling thread survives into
// the child), so instead this re-execs the shell binary itself with
// `-c <reconstructed source>`, achieving the same "independent process
// running the same subtree to completion" outcome through the
// os/exec/SysProcAttr machinery the rest of the launcher already uses.
func (e *Evaluator) backgroundSequence(n *ast.Node, notify bool) int {
	self, err := os.Executable()
	if err != nil {
		self = os.Args[0]
	}

	c := exec.Command(self, "-c", unparse(n))
	c.Stdin, c.Stdout, c.Stderr = os.Stdin, os.Stdout, os.Stderr
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := c.Start(); err != nil {
		e.stdio.Errorf("Unable to fork: %s\n", err)
		return internStatus
	}

	pid := c.Process.Pid
	j, err := e.table.Register(pid, pid, true, "Sequence")
	if err != nil {
		e.stdio.Errorf("%s\n", err)
		go c.Wait()
		return internStatus + 1
	}

	e.launchJob(j, notify)
	return internStatus
}

// launch runs a SIMPLE node: dispatch to a builtin, or else fork/exec
// it as an external command.
func (e *Evaluator) launch(n *ast.Node, bg bool, notify bool) int {
	argv := n.Args
	if status, ok := builtin.Dispatch(e, argv); ok {
		return status
	}

	name := argv[0]
	c := exec.Command(name, argv[1:]...)
	c.Stdin, c.Stdout, c.Stderr = os.Stdin, os.Stdout, os.Stderr
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := c.Start(); err != nil {
		e.stdio.Errorf("%s: command not found\n", name)
		return core.ExitFailure
	}

	pid := c.Process.Pid
	j, err := e.table.Register(pid, pid, bg, name)
	if err != nil {
		e.stdio.Errorf("%s\n", err)
		go c.Wait()
		return internStatus + 1
	}

	e.launchJob(j, notify)

	if !bg {
		return j.Status
	}
	return internStatus
}

// launchJob mirrors Evaluation.c's launch_job: it forces the job
// through Stopped so that send_to_foreground/send_to_background always
// issues a SIGCONT, which is harmless if the job was never actually
// stopped.
func (e *Evaluator) launchJob(j *job.Job, notify bool) {
	j.State = job.Stopped
	_ = unix.Setpgid(j.PID, j.PID)

	if !j.Background {
		e.sendToForeground(j)
		return
	}
	e.sendToBackground(j)
	if notify {
		e.stdio.Printf("[%d] %d\n", j.JID, j.PID)
	}
}

func (e *Evaluator) sendToForeground(j *job.Job) {
	e.dispatcher.InstallDefault()
	if e.interactive {
		_ = sigctl.Tcsetpgrp(0, j.PID)
	}
	e.fgJob = j

	if j.State == job.Stopped {
		if err := unix.Kill(j.PID, unix.SIGCONT); err != nil {
			e.stdio.Errorf("Unable to send continue to job %d: %s\n", j.JID, err)
		}
	}

	var ws unix.WaitStatus
	if _, err := unix.Wait4(j.PID, &ws, unix.WUNTRACED, nil); err != nil {
		e.stdio.Errorf("wait: %s\n", err)
	} else {
		j.ApplyWaitStatus(ws)
	}

	e.dispatcher.Install()
	if e.interactive {
		_ = sigctl.Tcsetpgrp(0, e.shellPGID)
	}
}

func (e *Evaluator) sendToBackground(j *job.Job) {
	if j.State == job.Stopped {
		if err := unix.Kill(j.PID, unix.SIGCONT); err != nil {
			e.stdio.Errorf("Unable to send continue to job %d: %s\n", j.JID, err)
		}
	}
	j.State = job.Running
	e.lastJob = j
}

// unparse reconstructs a shell command line from a tree, for the one
// case (backgrounded sequences) that needs to hand a subtree to a
// fresh process as text instead of evaluating it in-place.
func unparse(n *ast.Node) string {
	if n == nil {
		return ""
	}
	switch {
	case n.Kind.IsRedir():
		op := map[ast.Kind]string{
			ast.RedirIn:     "<",
			ast.RedirOut:    ">",
			ast.RedirAppend: ">>",
			ast.RedirErr:    "2>",
			ast.RedirErrOut: ">&",
		}[n.Kind]
		return unparse(n.Left) + " " + op + " " + quoteWord(n.Target())
	}
	switch n.Kind {
	case ast.Empty:
		return ""
	case ast.Simple:
		words := make([]string, len(n.Args))
		for i, a := range n.Args {
			words[i] = quoteWord(a)
		}
		return strings.Join(words, " ")
	case ast.Seq:
		return unparse(n.Left) + " ; " + unparse(n.Right)
	case ast.SeqAnd:
		return unparse(n.Left) + " && " + unparse(n.Right)
	case ast.SeqOr:
		return unparse(n.Left) + " || " + unparse(n.Right)
	case ast.Background:
		return unparse(n.Left) + " &"
	case ast.Pipe:
		return unparse(n.Left) + " | " + unparse(n.Right)
	}
	return ""
}

func quoteWord(w string) string {
	if w == "" || strings.ContainsAny(w, " \t\"'|&;<>") {
		return "\"" + strings.ReplaceAll(w, `"`, `\"`) + "\""
	}
	return w
}
