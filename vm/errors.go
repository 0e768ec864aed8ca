package vm

import (
	"fmt"
	"strings"
)

// TraceLine is one entry of a runtime error's call-stack trace.
type TraceLine struct {
	Line     int
	Function string
}

func (t TraceLine) String() string {
	if t.Function == "script" {
		return fmt.Sprintf("[line %d] in script", t.Line)
	}
	return fmt.Sprintf("[line %d] in %s()", t.Line, t.Function)
}

// RuntimeError aborts an Interpret or Run call. Trace lists the active
// frames, innermost first.
type RuntimeError struct {
	Msg   string
	Trace []TraceLine
}

func (e *RuntimeError) Error() string {
	if len(e.Trace) == 0 {
		return e.Msg
	}
	var sb strings.Builder
	sb.WriteString(e.Msg)
	for _, t := range e.Trace {
		sb.WriteByte('\n')
		sb.WriteString(t.String())
	}
	return sb.String()
}

// Line returns the line of the innermost frame, or 0.
func (e *RuntimeError) Line() int {
	if len(e.Trace) == 0 {
		return 0
	}
	return e.Trace[0].Line
}

// stackOverflow is panicked by push when the value stack is full and
// recovered by run.
type stackOverflow struct{}
