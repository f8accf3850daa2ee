package sigctl

import (
	"syscall"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/pboisselier/S5-MiniShell/pkg/shell/job"
)

type fakeHooks struct {
	fg          *job.Job
	suspended   *job.Job
	reclaimed   bool
	sigintCount int
}

func (f *fakeHooks) ForegroundJob() *job.Job { return f.fg }
func (f *fakeHooks) Suspend(j *job.Job)      { f.suspended = j }
func (f *fakeHooks) ReclaimTerminal()        { f.reclaimed = true }

func TestRouteSIGTSTPSuspendsForeground(t *testing.T) {
	tbl := job.NewTable()
	fg, _ := tbl.Register(1, 1, false, "vi")
	hooks := &fakeHooks{fg: fg}
	d := New(tbl, hooks)

	d.route(unix.SIGTSTP)

	if hooks.suspended != fg {
		t.Fatal("expected foreground job to be suspended")
	}
}

func TestRouteSIGTSTPNoForegroundIsNoop(t *testing.T) {
	tbl := job.NewTable()
	hooks := &fakeHooks{}
	d := New(tbl, hooks)

	d.route(unix.SIGTSTP) // must not panic with no foreground job
}

func TestRouteSIGTTINReclaims(t *testing.T) {
	tbl := job.NewTable()
	hooks := &fakeHooks{}
	d := New(tbl, hooks)

	d.route(unix.SIGTTIN)

	if !hooks.reclaimed {
		t.Fatal("expected terminal reclaim on SIGTTIN")
	}
}

func TestRouteSIGCHLDReapsExitedChild(t *testing.T) {
	tbl := job.NewTable()
	// Use a real short-lived process so wait4 has something to reap.
	proc, err := syscall.ForkExec("/bin/true", []string{"true"}, &syscall.ProcAttr{})
	if err != nil {
		t.Skipf("cannot fork/exec /bin/true: %v", err)
	}
	tbl.Register(proc, proc, false, "true")

	hooks := &fakeHooks{}
	d := New(tbl, hooks)

	// give the child a moment to exit before the non-blocking reap
	for i := 0; i < 100; i++ {
		d.route(unix.SIGCHLD)
		if j := tbl.Find(proc); j != nil && j.State == job.Done {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected child to be reaped as Done")
}
