// Command minishell is the interactive entry point for the shell
// evaluator: a readline-driven REPL that parses each line and hands
// the resulting tree to the evaluator, plus a "-c" mode for running a
// single command non-interactively.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/abiosoft/readline"

	"github.com/pboisselier/S5-MiniShell/pkg/core"
	"github.com/pboisselier/S5-MiniShell/pkg/shell/eval"
	"github.com/pboisselier/S5-MiniShell/pkg/shell/parser"
)

func main() {
	command := flag.String("c", "", "run one command non-interactively and exit")
	flag.Parse()

	stdio := core.DefaultStdio()
	e := eval.New(stdio)

	if *command != "" {
		os.Exit(runOne(stdio, e, *command))
	}

	os.Exit(runREPL(stdio, e))
}

// runOne mirrors Shell.c's non-interactive branch (interactive_mode ==
// 0 skips readline and reads the parser directly from stdin); "-c"
// gives that same one-shot behavior a script-friendly argv entry
// point instead of requiring piped stdin.
func runOne(stdio *core.Stdio, e *eval.Evaluator, line string) int {
	tree, err := parser.Parse(line)
	if err != nil {
		stdio.Errorf("minishell: %s\n", err)
		return core.ExitUsage
	}
	return e.Evaluate(tree)
}

// runREPL reproduces Shell.c's my_yyparse/main loop: a prompt showing
// the last exit status ("mini_shell(%d):"), one readline per command,
// non-empty lines added to history, EOF ends the session cleanly.
func runREPL(stdio *core.Stdio, e *eval.Evaluator) int {
	rl, err := readline.NewEx(&readline.Config{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	})
	if err != nil {
		stdio.Errorf("minishell: %s\n", err)
		return core.ExitFailure
	}
	defer rl.Close()

	for {
		rl.SetPrompt(fmt.Sprintf("mini_shell(%d):", e.LastStatus()))
		line, err := rl.Readline()

		switch {
		case err == io.EOF:
			return e.LastStatus()

		case err == readline.ErrInterrupt:
			continue

		case err != nil:
			stdio.Errorf("minishell: %s\n", err)
			return core.ExitFailure

		case line == "":
			continue
		}

		tree, err := parser.Parse(line)
		if err != nil {
			stdio.Errorf("minishell: %s\n", err)
			continue
		}
		e.Evaluate(tree)
	}
}
