// Package job implements the fixed-capacity job table the evaluator uses
// to track live children.
package job

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// MaxJobs is the job table's fixed capacity.
const MaxJobs = 32

// labelLen is the number of command-name bytes kept per job, matching
// the C source's 16-byte cmd buffer (15 usable bytes plus NUL).
const labelLen = 15

// State is a job's lifecycle state.
type State int

const (
	Running State = iota
	Stopped
	Done
)

func (s State) String() string {
	switch s {
	case Running:
		return "Running"
	case Stopped:
		return "Suspended"
	case Done:
		return "Done"
	default:
		return "Unknown"
	}
}

// Job is one tracked child process.
type Job struct {
	JID        int    // slot index, stable for the job's lifetime
	PID        int    // 0 means the slot is free
	PGID       int    // process group id, equals PID
	Background bool   // foreground (false) or background (true)
	State      State  // Running, Stopped, or Done
	Status     int    // exit status; valid only when State == Done via exit
	TermSig    int    // terminating signal; valid only when State == Done via signal
	Label      string // up to labelLen bytes of the command name
}

// truncateLabel mirrors the C source's raw byte copy into a fixed
// buffer: it truncates on bytes, not runes.
func truncateLabel(cmd string) string {
	if len(cmd) <= labelLen {
		return cmd
	}
	return cmd[:labelLen]
}

// Table is the fixed-capacity job registry.
//
// mu guards slots. sigctl's dispatch goroutine calls Reap on SIGCHLD
// concurrently with the evaluator's own main-goroutine calls to
// Register/ReapDone/Reap, so the slot scan and every mutation of a
// slot's fields must run under the lock rather than relying on the
// "the shell is single-threaded" assumption that held before signals
// were routed through a goroutine.
type Table struct {
	mu    sync.Mutex
	slots [MaxJobs]Job
}

// NewTable returns an empty job table.
func NewTable() *Table {
	return &Table{}
}

// ErrOverflow is returned by Register when no slot is free.
var ErrOverflow = fmt.Errorf("unable to register a new job, terminate some jobs first (max: %d)", MaxJobs)

// Register scans for the first free slot (PID == 0), initializes it,
// and returns it. jid always equals the slot index, so jids are reused
// after Unregister.
func (t *Table) Register(pid, pgid int, background bool, label string) (*Job, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.slots {
		if t.slots[i].PID == 0 {
			t.slots[i] = Job{
				JID:        i,
				PID:        pid,
				PGID:       pgid,
				Background: background,
				State:      Running,
				Label:      truncateLabel(label),
			}
			return &t.slots[i], nil
		}
	}
	return nil, ErrOverflow
}

// Unregister clears a job's slot, making it free again.
func (t *Table) Unregister(j *Job) {
	t.mu.Lock()
	defer t.mu.Unlock()
	unregisterLocked(j)
}

func unregisterLocked(j *Job) {
	if j == nil {
		panic("job: Unregister called with nil job")
	}
	*j = Job{}
}

// Find returns the job tracking pid, or nil.
func (t *Table) Find(pid int) *Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.slots {
		if t.slots[i].PID == pid {
			return &t.slots[i]
		}
	}
	return nil
}

// FindByLabel returns the first non-free slot whose label matches.
func (t *Table) FindByLabel(label string) *Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.slots {
		if t.slots[i].PID != 0 && t.slots[i].Label == label {
			return &t.slots[i]
		}
	}
	return nil
}

// Live returns the most recently started job (highest pid) whose state
// is not Done, or nil if there is none.
func (t *Table) Live() *Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	var best *Job
	for i := range t.slots {
		s := &t.slots[i]
		if s.PID == 0 || s.State == Done {
			continue
		}
		if best == nil || s.PID >= best.PID {
			best = s
		}
	}
	return best
}

// All returns every non-free slot, for the jobs builtin.
func (t *Table) All() []*Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*Job
	for i := range t.slots {
		if t.slots[i].PID != 0 {
			out = append(out, &t.slots[i])
		}
	}
	return out
}

// SetExit records a normal exit.
func (j *Job) SetExit(status int) {
	j.State = Done
	j.Status = status
}

// SetStopped records a job suspended by a stop signal.
func (j *Job) SetStopped() {
	j.State = Stopped
	j.Status = 0
}

// SetSignaled records termination by signal. Status is set to 128+sig,
// the same convention the raw wait-status encodes a signal death as,
// so a signal-killed job's exit status is never mistaken for success.
func (j *Job) SetSignaled(sig int) {
	j.State = Done
	j.TermSig = sig
	j.Status = 128 + sig
}

// ApplyWaitStatus translates a unix.WaitStatus into the job's fields,
// matching Evaluation.c's set_status_job.
func (j *Job) ApplyWaitStatus(ws unix.WaitStatus) {
	switch {
	case ws.Exited():
		j.SetExit(ws.ExitStatus())
	case ws.Stopped():
		j.SetStopped()
	case ws.Signaled():
		j.SetSignaled(int(ws.Signal()))
	}
}

// ReapDone walks the table and clears every Done slot. If notify is
// true, a Done slot that was running in the background is reported via
// report before being cleared.
func (t *Table) ReapDone(notify bool, report func(*Job)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.slots {
		s := &t.slots[i]
		if s.PID == 0 || s.State != Done {
			continue
		}
		if notify && s.Background && report != nil {
			report(s)
		}
		unregisterLocked(s)
	}
}

// Probe checks whether the OS process behind a job still exists, using
// a zero-signal kill per Evaluation.c's grim_reaper fallback path.
func Probe(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil
}

// Reap performs one non-blocking wait4 pass over every live slot,
// translating status changes into job state. It never blocks, and it
// is idempotent:
// slots already cleared or already Done are left alone. WNOHANG makes
// wait4 itself non-blocking, so the whole pass runs under one lock
// held for the duration, rather than releasing it between the syscall
// and applying its result — the two-step form would let a concurrent
// Register reuse the slot in between and have this apply a stale
// status to the wrong job.
func Reap(t *Table) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.slots {
		s := &t.slots[i]
		if s.PID == 0 {
			continue
		}
		var ws unix.WaitStatus
		pid, err := unix.Wait4(s.PID, &ws, unix.WNOHANG|unix.WUNTRACED|unix.WCONTINUED, nil)
		switch {
		case err != nil:
			// ECHILD or similar: nothing more we can learn about this pid.
			continue
		case pid > 0:
			s.ApplyWaitStatus(ws)
		case pid == 0 && !Probe(s.PID):
			unregisterLocked(s)
		}
	}
}

// FormatLine renders a job the way the `jobs` builtin and background
// completion notifications do, matching Evaluation.c's display_job:
//
//	[jid]+ <state>\t<label>\tPID: <pid>\tExit <n>
//	[jid]+ <state>\t<label>\tPID: <pid>\tTerminated with signal <n>
//	[jid]+ <state>\t<label>\tPID: <pid>
func FormatLine(j *Job) string {
	line := fmt.Sprintf("[%d]+ %s\t%s\tPID: %d", j.JID, j.State, j.Label, j.PID)
	switch {
	case j.State == Done && j.TermSig != 0:
		return line + fmt.Sprintf("\tTerminated with signal %d\n", j.TermSig)
	case j.State == Done:
		return line + fmt.Sprintf("\tExit %d\n", j.Status)
	default:
		return line + "\n"
	}
}
