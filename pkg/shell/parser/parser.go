// Package parser turns a line of shell input into the command tree
// pkg/shell/eval consumes.
//
// The lexer and parser are kept as an external collaborator of the
// evaluator rather than folded into it. Word splitting and quote
// handling are delegated to go-shlex the same way honeyssh's REPL does
// it (core/shell.go: shlex.Split(line, true)); the operator grammar on
// top (';', '&&', '||', '&', '|', and the redirection operators) is
// this module's own small recursive-descent layer, built from the
// grammar Shell.c's parser comment describes.
package parser

import (
	"fmt"

	"github.com/anmitsu/go-shlex"

	"github.com/pboisselier/S5-MiniShell/pkg/shell/ast"
)

// operators recognized between words. Multi-character operators must
// appear as their own shlex word — this module does not attempt to
// split "cmd>file" without surrounding whitespace into "cmd", ">",
// "file"; this shell only handles whitespace-separated tokens rather
// than full POSIX tokenizing, and requiring whitespace around
// operators keeps the grammar layer a plain token-kind switch instead
// of a second character-level scanner duplicating go-shlex's job.
var operators = map[string]ast.Kind{
	";":  ast.Seq,
	"&&": ast.SeqAnd,
	"||": ast.SeqOr,
	"&":  ast.Background,
	"|":  ast.Pipe,
	"<":  ast.RedirIn,
	">":  ast.RedirOut,
	">>": ast.RedirAppend,
	"2>": ast.RedirErr,
	">&": ast.RedirErrOut,
}

func isRedirOp(k ast.Kind) bool { return k.IsRedir() }

// token is one lexical unit: either an operator (kind set, text is the
// operator spelling) or a word (kind unset, text is the literal argument).
type token struct {
	op   ast.Kind
	isOp bool
	text string
}

// Parse tokenizes and parses one line of input into a command tree.
// A blank or all-comment line parses to a single Empty node.
func Parse(line string) (*ast.Node, error) {
	words, err := shlex.Split(line, true)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if len(words) == 0 {
		return &ast.Node{Kind: ast.Empty}, nil
	}

	tokens := make([]token, len(words))
	for i, w := range words {
		if k, ok := operators[w]; ok {
			tokens[i] = token{op: k, isOp: true, text: w}
		} else {
			tokens[i] = token{text: w}
		}
	}

	p := &parser{tokens: tokens}
	node, err := p.parseList()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.tokens) {
		return nil, fmt.Errorf("parse: unexpected token %q", p.tokens[p.pos].text)
	}
	return node, nil
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.tokens) {
		return token{}, false
	}
	return p.tokens[p.pos], true
}

func (p *parser) next() (token, bool) {
	t, ok := p.peek()
	if ok {
		p.pos++
	}
	return t, ok
}

// parseList handles ';' and '&' at the top level, left-associative.
func (p *parser) parseList() (*ast.Node, error) {
	left, err := p.parseAndOr()
	if err != nil {
		return nil, err
	}

	for {
		t, ok := p.peek()
		if !ok || !t.isOp || (t.op != ast.Seq && t.op != ast.Background) {
			return left, nil
		}
		p.next()

		if t.op == ast.Background {
			left = &ast.Node{Kind: ast.Background, Left: left}
		}

		if _, more := p.peek(); !more {
			return left, nil
		}

		right, err := p.parseAndOr()
		if err != nil {
			return nil, err
		}
		left = &ast.Node{Kind: ast.Seq, Left: left, Right: right}
	}
}

// parseAndOr handles '&&' and '||', left-associative.
func (p *parser) parseAndOr() (*ast.Node, error) {
	left, err := p.parsePipeline()
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.peek()
		if !ok || !t.isOp || (t.op != ast.SeqAnd && t.op != ast.SeqOr) {
			return left, nil
		}
		p.next()
		right, err := p.parsePipeline()
		if err != nil {
			return nil, err
		}
		left = &ast.Node{Kind: t.op, Left: left, Right: right}
	}
}

// parsePipeline handles '|', left-associative.
func (p *parser) parsePipeline() (*ast.Node, error) {
	left, err := p.parseRedirected()
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.peek()
		if !ok || !t.isOp || t.op != ast.Pipe {
			return left, nil
		}
		p.next()
		right, err := p.parseRedirected()
		if err != nil {
			return nil, err
		}
		left = &ast.Node{Kind: ast.Pipe, Left: left, Right: right}
	}
}

// parseRedirected parses one simple command and wraps it in any
// trailing redirection operators, e.g. "cat < in > out" becomes
// RedirOut{ Left: RedirIn{ Left: Simple(cat), Args:[in] }, Args:[out] }.
func (p *parser) parseRedirected() (*ast.Node, error) {
	node, err := p.parseSimple()
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.peek()
		if !ok || !t.isOp || !isRedirOp(t.op) {
			return node, nil
		}
		p.next()
		target, ok := p.next()
		if !ok || target.isOp {
			return nil, fmt.Errorf("parse: missing redirection target after %q", t.text)
		}
		node = &ast.Node{Kind: t.op, Left: node, Args: []string{target.text}}
	}
}

// parseSimple collects argument words up to the next operator.
func (p *parser) parseSimple() (*ast.Node, error) {
	var args []string
	for {
		t, ok := p.peek()
		if !ok || t.isOp {
			break
		}
		p.next()
		args = append(args, t.text)
	}
	if len(args) == 0 {
		t, ok := p.peek()
		if ok {
			return nil, fmt.Errorf("parse: unexpected operator %q", t.text)
		}
		return nil, fmt.Errorf("parse: expected a command")
	}
	return &ast.Node{Kind: ast.Simple, Args: args}, nil
}
