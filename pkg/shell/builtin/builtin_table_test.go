package builtin_test

import (
	"testing"

	"github.com/pboisselier/S5-MiniShell/pkg/core"
	"github.com/pboisselier/S5-MiniShell/pkg/shell/builtin"
	"github.com/pboisselier/S5-MiniShell/pkg/shell/job"
	"github.com/pboisselier/S5-MiniShell/pkg/testutil"
)

// runBuiltin adapts builtin.Dispatch to testutil.RunApplet for the
// builtins whose behavior doesn't depend on pre-seeded job state.
func runBuiltin(stdio *core.Stdio, args []string) int {
	h := &fakeHost{stdio: stdio, table: job.NewTable()}
	status, ok := builtin.Dispatch(h, args)
	if !ok {
		return core.ExitUsage
	}
	return status
}

func TestBuiltinsTableDriven(t *testing.T) {
	testutil.RunAppletTests(t, runBuiltin, []testutil.AppletTestCase{
		{
			Name:     "echo joins args with spaces",
			Args:     []string{"echo", "one", "two", "three"},
			WantCode: core.ExitSuccess,
			WantOut:  "one two three\n",
		},
		{
			Name:     "echo with no args prints a blank line",
			Args:     []string{"echo"},
			WantCode: core.ExitSuccess,
			WantOut:  "\n",
		},
		{
			Name:     "cd into an existing directory succeeds",
			Args:     []string{"cd", "."},
			WantCode: core.ExitSuccess,
		},
		{
			Name:     "cd into a missing directory fails",
			Args:     []string{"cd", "no-such-subdir"},
			WantCode: core.ExitFailure,
			WantErr:  "Unable to change directory",
		},
		{
			Name:     "hash with no argument fails",
			Args:     []string{"hash"},
			WantCode: core.ExitFailure,
			WantErr:  "no argument to hash",
		},
		{
			Name:       "help lists the builtin set",
			Args:       []string{"help"},
			WantCode:   core.ExitSuccess,
			WantOutSub: "cd [dir]",
		},
	})
}
