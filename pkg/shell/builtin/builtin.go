// Package builtin implements the in-shell commands whose semantics are
// entangled with the evaluator: cd, echo, exit, help,
// hash, jobs, fg, bg. They run in the shell process rather than as
// forked children.
package builtin

import (
	"os"

	"github.com/pboisselier/S5-MiniShell/pkg/core"
	"github.com/pboisselier/S5-MiniShell/pkg/shell/job"
)

// Host is the slice of evaluator state a builtin needs. eval.Evaluator
// implements it; keeping it as an interface here lets pkg/shell/builtin
// stay independent of pkg/shell/eval, the same separation sigctl uses
// between the dispatcher and its Hooks.
type Host interface {
	Stdio() *core.Stdio
	LastStatus() int
	AllJobs() []*job.Job
	FindJobByLabel(label string) *job.Job
	MostRecentJob() *job.Job
	// Foreground blocks until the job stops or exits.
	Foreground(j *job.Job)
	// Background resumes a stopped job in the background. It returns
	// false without doing anything if the job is already running.
	Background(j *job.Job) bool
}

// hash reproduces Evaluation.c's hash_cmd: an additive hash with a
// position-dependent multiplier. It is a dispatch optimization only —
// Dispatch always confirms the match by string equality afterward, so
// a collision here would misroute at worst to a second string
// comparison miss rather than to the wrong builtin.
func hash(s string) int32 {
	var h int32
	var i int32 = 7
	for _, c := range []byte(s) {
		h = (h + int32(c)*i) % maxInt32
		i *= 7
	}
	return h
}

const maxInt32 = 1<<31 - 1

var builtinNames = []string{"cd", "echo", "exit", "help", "hash", "jobs", "fg", "bg"}

var hashToName = func() map[int32]string {
	m := make(map[int32]string, len(builtinNames))
	for _, n := range builtinNames {
		m[hash(n)] = n
	}
	return m
}()

var dollarStatusHash = hash("$?")

// Dispatch matches argv[0] against the builtin set and runs it. ok is
// false when argv[0] does not name a builtin, telling the caller to
// fall through to the command launcher.
func Dispatch(host Host, argv []string) (status int, ok bool) {
	if len(argv) == 0 {
		return 0, false
	}
	name, matched := hashToName[hash(argv[0])]
	if !matched || name != argv[0] {
		return 0, false
	}

	switch name {
	case "cd":
		return cd(host, argv), true
	case "echo":
		return echo(host, argv), true
	case "exit":
		os.Exit(0)
		return 0, true // unreachable
	case "help":
		return help(host), true
	case "hash":
		return hashCmd(host, argv), true
	case "jobs":
		return jobsCmd(host), true
	case "fg":
		return jobctrl(host, arg1(argv), false), true
	case "bg":
		return jobctrl(host, arg1(argv), true), true
	}
	return 0, false
}

func arg1(argv []string) string {
	if len(argv) < 2 {
		return ""
	}
	return argv[1]
}

// cd changes the working directory. With no argument it is a
// deliberate no-op (HOME expansion is a known
// gap, preserved from Evaluation.c's internal_cmd TODO).
func cd(host Host, argv []string) int {
	stdio := host.Stdio()
	if len(argv) < 2 {
		return core.ExitSuccess
	}
	if err := os.Chdir(argv[1]); err != nil {
		stdio.Errorf("Unable to change directory: %s (%s)\n", err, argv[1])
		return core.ExitFailure
	}
	return core.ExitSuccess
}

// echo prints its arguments. If the first argument is exactly "$?" it
// is replaced by the last observed status.
func echo(host Host, argv []string) int {
	stdio := host.Stdio()
	args := argv[1:]
	if len(args) == 0 {
		stdio.Println()
		return core.ExitSuccess
	}
	if hash(args[0]) == dollarStatusHash && args[0] == "$?" {
		stdio.Printf("%d ", host.LastStatus())
		args = args[1:]
	}
	for i, a := range args {
		if i > 0 {
			stdio.Print(" ")
		}
		stdio.Print(a)
	}
	stdio.Println()
	return core.ExitSuccess
}

var helpLines = []string{
	"cd [dir]",
	"echo [$? | arg ...]",
	"exit",
	"hash [text]\t /!\\ Only adds each ASCII character!",
	"jobs",
	"fg [name]",
	"bg [name]",
	"help",
}

func help(host Host) int {
	stdio := host.Stdio()
	stdio.Print("MiniShell command evaluator\n\n" +
		"Those shell commands are defined internally.\n\n")
	for _, l := range helpLines {
		stdio.Printf("\t%s\n", l)
	}
	stdio.Print("\nKeyboard shortcuts:\n" +
		"\t- Ctrl-Z: Suspend current job in foreground\n" +
		"\t- Ctrl-C: Interrupt current foreground job\n\n")
	return core.ExitSuccess
}

func hashCmd(host Host, argv []string) int {
	stdio := host.Stdio()
	if len(argv) < 2 {
		stdio.Errorf("hash: no argument to hash\n")
		return core.ExitFailure
	}
	stdio.Printf("%x\n", uint32(hash(argv[1])))
	return core.ExitSuccess
}

func jobsCmd(host Host) int {
	stdio := host.Stdio()
	for _, j := range host.AllJobs() {
		stdio.Print(job.FormatLine(j))
	}
	return core.ExitSuccess
}

// jobctrl implements the shared selection/resume logic behind fg and
// bg. With a name it matches by job label; otherwise it
// picks the most recently started non-done job — mirroring
// Evaluation.c's cmd_jobctrl, whose "last job" fallback is always
// overridden by a subsequent highest-pid scan, so tracking the last
// job separately from that scan has no effect on selection.
func jobctrl(host Host, name string, bg bool) int {
	stdio := host.Stdio()
	verb := "fg"
	if bg {
		verb = "bg"
	}

	var j *job.Job
	if name != "" {
		j = host.FindJobByLabel(name)
		if j == nil {
			stdio.Errorf("%s: job not found: %s\n", verb, name)
			return core.ExitFailure
		}
	} else {
		j = host.MostRecentJob()
		if j == nil {
			stdio.Errorf("%s: no job to resume\n", verb)
			return core.ExitFailure
		}
	}

	if bg && j.State == job.Running {
		stdio.Errorf("%s: job already in background\n", j.Label)
		return core.ExitFailure
	}

	stdio.Printf("[%d]+ Resumed\t%s\n", j.JID, j.Label)
	if bg {
		host.Background(j)
	} else {
		host.Foreground(j)
	}
	return core.ExitSuccess
}
