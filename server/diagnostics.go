package server

import (
	"errors"

	"github.com/chazu/tern/compiler"
)

// Diagnostic is a compile problem at a 1-based source position. Column is
// 0 when only the line is known.
type Diagnostic struct {
	Line    int
	Column  int
	Message string
}

// Check compiles source without running it and reports every problem.
func Check(source string) []Diagnostic {
	_, err := compiler.Compile(source)
	return diagnosticsOf(err)
}

func diagnosticsOf(err error) []Diagnostic {
	if err == nil {
		return nil
	}
	var list compiler.ErrorList
	if !errors.As(err, &list) {
		return []Diagnostic{{Line: 1, Message: err.Error()}}
	}
	out := make([]Diagnostic, 0, len(list))
	for _, e := range list {
		out = append(out, Diagnostic{Line: e.Pos.Line, Column: e.Pos.Column, Message: e.Msg})
	}
	return out
}
