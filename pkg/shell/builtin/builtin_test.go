package builtin_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pboisselier/S5-MiniShell/pkg/core"
	"github.com/pboisselier/S5-MiniShell/pkg/shell/builtin"
	"github.com/pboisselier/S5-MiniShell/pkg/shell/job"
)

type fakeHost struct {
	stdio      *core.Stdio
	lastStatus int
	table      *job.Table
	fg, bg     *job.Job
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		stdio: &core.Stdio{In: strings.NewReader(""), Out: &bytes.Buffer{}, Err: &bytes.Buffer{}},
		table: job.NewTable(),
	}
}

func (f *fakeHost) Stdio() *core.Stdio                { return f.stdio }
func (f *fakeHost) LastStatus() int                   { return f.lastStatus }
func (f *fakeHost) AllJobs() []*job.Job               { return f.table.All() }
func (f *fakeHost) FindJobByLabel(l string) *job.Job  { return f.table.FindByLabel(l) }
func (f *fakeHost) MostRecentJob() *job.Job           { return f.table.Live() }
func (f *fakeHost) Foreground(j *job.Job)             { f.fg = j }
func (f *fakeHost) Background(j *job.Job) bool {
	if j.State == job.Running {
		return false
	}
	j.State = job.Running
	f.bg = j
	return true
}

func out(h *fakeHost) string    { return h.stdio.Out.(*bytes.Buffer).String() }
func errOut(h *fakeHost) string { return h.stdio.Err.(*bytes.Buffer).String() }

func TestDispatchNotABuiltin(t *testing.T) {
	h := newFakeHost()
	_, ok := builtin.Dispatch(h, []string{"ls", "-l"})
	if ok {
		t.Fatal("ls should not dispatch as a builtin")
	}
}

func TestDispatchEmptyArgv(t *testing.T) {
	h := newFakeHost()
	_, ok := builtin.Dispatch(h, nil)
	if ok {
		t.Fatal("empty argv should not match a builtin")
	}
}

func TestEcho(t *testing.T) {
	h := newFakeHost()
	status, ok := builtin.Dispatch(h, []string{"echo", "a", "b"})
	if !ok || status != core.ExitSuccess {
		t.Fatalf("status=%d ok=%v", status, ok)
	}
	if out(h) != "a b\n" {
		t.Fatalf("out = %q", out(h))
	}
}

func TestEchoDollarStatus(t *testing.T) {
	h := newFakeHost()
	h.lastStatus = 7
	builtin.Dispatch(h, []string{"echo", "$?", "tail"})
	if out(h) != "7 tail\n" {
		t.Fatalf("out = %q", out(h))
	}
}

func TestEchoNoArgs(t *testing.T) {
	h := newFakeHost()
	builtin.Dispatch(h, []string{"echo"})
	if out(h) != "\n" {
		t.Fatalf("out = %q", out(h))
	}
}

func TestCdNoArgIsNoop(t *testing.T) {
	h := newFakeHost()
	status, ok := builtin.Dispatch(h, []string{"cd"})
	if !ok || status != core.ExitSuccess {
		t.Fatalf("status=%d ok=%v", status, ok)
	}
}

func TestCdBadDir(t *testing.T) {
	h := newFakeHost()
	status, ok := builtin.Dispatch(h, []string{"cd", "/no/such/directory/xyz"})
	if !ok || status != core.ExitFailure {
		t.Fatalf("status=%d ok=%v", status, ok)
	}
	if !strings.Contains(errOut(h), "Unable to change directory") {
		t.Fatalf("err = %q", errOut(h))
	}
}

func TestHashMissingArg(t *testing.T) {
	h := newFakeHost()
	status, ok := builtin.Dispatch(h, []string{"hash"})
	if !ok || status != core.ExitFailure {
		t.Fatalf("status=%d ok=%v", status, ok)
	}
}

func TestHashPrintsHex(t *testing.T) {
	h := newFakeHost()
	status, ok := builtin.Dispatch(h, []string{"hash", "cd"})
	if !ok || status != core.ExitSuccess {
		t.Fatalf("status=%d ok=%v", status, ok)
	}
	if out(h) == "" {
		t.Fatal("expected hash output")
	}
}

func TestHelpPrintsBlock(t *testing.T) {
	h := newFakeHost()
	builtin.Dispatch(h, []string{"help"})
	if !strings.Contains(out(h), "cd [dir]") {
		t.Fatalf("out = %q", out(h))
	}
}

func TestJobsListsAll(t *testing.T) {
	h := newFakeHost()
	h.table.Register(10, 10, true, "sleep")
	h.table.Register(20, 20, false, "vi")
	builtin.Dispatch(h, []string{"jobs"})
	if !strings.Contains(out(h), "sleep") || !strings.Contains(out(h), "vi") {
		t.Fatalf("out = %q", out(h))
	}
}

func TestFgNoJobToResume(t *testing.T) {
	h := newFakeHost()
	status, ok := builtin.Dispatch(h, []string{"fg"})
	if !ok || status != core.ExitFailure {
		t.Fatalf("status=%d ok=%v", status, ok)
	}
	if !strings.Contains(errOut(h), "no job to resume") {
		t.Fatalf("err = %q", errOut(h))
	}
}

func TestFgByName(t *testing.T) {
	h := newFakeHost()
	j, _ := h.table.Register(10, 10, true, "sleep")
	status, ok := builtin.Dispatch(h, []string{"fg", "sleep"})
	if !ok || status != core.ExitSuccess {
		t.Fatalf("status=%d ok=%v", status, ok)
	}
	if h.fg != j {
		t.Fatal("expected job to be sent to foreground")
	}
	if !strings.Contains(out(h), "Resumed") {
		t.Fatalf("out = %q", out(h))
	}
}

func TestFgNameNotFound(t *testing.T) {
	h := newFakeHost()
	status, ok := builtin.Dispatch(h, []string{"fg", "nope"})
	if !ok || status != core.ExitFailure {
		t.Fatalf("status=%d ok=%v", status, ok)
	}
	if !strings.Contains(errOut(h), "job not found: nope") {
		t.Fatalf("err = %q", errOut(h))
	}
}

func TestBgAlreadyRunning(t *testing.T) {
	h := newFakeHost()
	h.table.Register(10, 10, true, "sleep") // Register starts as Running
	status, ok := builtin.Dispatch(h, []string{"bg", "sleep"})
	if !ok || status != core.ExitFailure {
		t.Fatalf("status=%d ok=%v", status, ok)
	}
	if !strings.Contains(errOut(h), "already in background") {
		t.Fatalf("err = %q", errOut(h))
	}
}

func TestBgResumesStopped(t *testing.T) {
	h := newFakeHost()
	j, _ := h.table.Register(10, 10, true, "sleep")
	j.SetStopped()
	status, ok := builtin.Dispatch(h, []string{"bg", "sleep"})
	if !ok || status != core.ExitSuccess {
		t.Fatalf("status=%d ok=%v", status, ok)
	}
	if h.bg != j {
		t.Fatal("expected job to be sent to background")
	}
}

func TestFgPicksMostRecentJob(t *testing.T) {
	h := newFakeHost()
	h.table.Register(10, 10, true, "a")
	newest, _ := h.table.Register(20, 20, true, "b")
	_, ok := builtin.Dispatch(h, []string{"fg"})
	if !ok {
		t.Fatal("expected fg to dispatch")
	}
	if h.fg != newest {
		t.Fatalf("fg = %+v, want the highest-pid job", h.fg)
	}
}
