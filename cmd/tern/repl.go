package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/chazu/tern/compiler"
	"github.com/chazu/tern/vm"
)

// runREPL reads declarations from in and runs each complete entry. An
// entry is complete once its braces and parentheses balance; globals
// persist between entries.
func runREPL(v *vm.VM, in io.Reader, out, errOut io.Writer) {
	fmt.Fprintln(out, "tern REPL (type 'exit' to quit, ':help' for commands)")

	scanner := bufio.NewScanner(in)
	lineBuffer := strings.Builder{}

	for {
		// Show prompt
		if lineBuffer.Len() == 0 {
			fmt.Fprint(out, ">> ")
		} else {
			fmt.Fprint(out, ".. ")
		}

		if !scanner.Scan() {
			break
		}
		line := scanner.Text()

		if lineBuffer.Len() == 0 {
			trimmed := strings.TrimSpace(line)
			if trimmed == "exit" || trimmed == "quit" {
				break
			}
			if strings.HasPrefix(trimmed, ":") {
				handleREPLCommand(v, trimmed, out)
				continue
			}
			if trimmed == "" {
				continue
			}
		}

		if lineBuffer.Len() > 0 {
			lineBuffer.WriteString("\n")
		}
		lineBuffer.WriteString(line)

		input := lineBuffer.String()
		if !balanced(input) {
			continue
		}
		lineBuffer.Reset()

		if err := v.Interpret(input); err != nil {
			fmt.Fprintf(errOut, "Error: %v\n", err)
		}
	}
	fmt.Fprintln(out)
}

// handleREPLCommand handles REPL meta-commands
func handleREPLCommand(v *vm.VM, cmd string, out io.Writer) {
	name, arg, _ := strings.Cut(cmd, " ")
	switch name {
	case ":help", ":h", ":?":
		fmt.Fprintln(out, "REPL Commands:")
		fmt.Fprintln(out, "  :help, :h, :?     Show this help")
		fmt.Fprintln(out, "  :globals          List defined globals")
		fmt.Fprintln(out, "  :disasm <code>    Show the bytecode for code")
		fmt.Fprintln(out, "  exit, quit        Exit REPL")
	case ":globals":
		for _, g := range v.Globals() {
			val, _ := v.Global(g)
			fmt.Fprintf(out, "  %s = %s\n", g, val)
		}
	case ":disasm":
		fn, err := compiler.Compile(arg)
		if err != nil {
			fmt.Fprintf(out, "Compile error: %v\n", err)
			return
		}
		fmt.Fprint(out, vm.DisassembleFunction(fn))
	default:
		fmt.Fprintf(out, "Unknown command: %s (type :help for commands)\n", cmd)
	}
}

// balanced reports whether every '{' and '(' outside string literals has
// been closed.
func balanced(src string) bool {
	depth := 0
	inString := false
	for _, tok := range compiler.Tokenize(src) {
		switch tok.Type {
		case compiler.TokenLBrace, compiler.TokenLParen:
			depth++
		case compiler.TokenRBrace, compiler.TokenRParen:
			depth--
		case compiler.TokenError:
			// An unterminated string continues on the next line.
			if strings.HasPrefix(tok.Literal, "unterminated") {
				inString = true
			}
		}
	}
	return depth <= 0 && !inString
}
