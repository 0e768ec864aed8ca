package server

import (
	"bytes"
	"context"
	"testing"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"

	"github.com/chazu/tern/compiler"
	"github.com/chazu/tern/vm"
)

// ---------------------------------------------------------------------------
// Shared test infrastructure for server package tests.
// ---------------------------------------------------------------------------

func newTestVM(w *bytes.Buffer) *vm.VM {
	v := vm.NewVM(vm.WithOutput(w))
	v.UseCompiler(compiler.Compile)
	return v
}

// newTestSessions creates a session store whose sessions are destroyed
// when the test ends.
func newTestSessions(t *testing.T) *SessionStore {
	t.Helper()
	s := NewSessionStore(newTestVM)
	t.Cleanup(s.DestroyAll)
	return s
}

// newTestEvalService creates an EvalService backed by a fresh store.
func newTestEvalService(t *testing.T) *EvalService {
	t.Helper()
	return NewEvalService(newTestSessions(t), commonlog.GetLogger("tern.server.test"))
}

// ---------------------------------------------------------------------------
// Request builders
// ---------------------------------------------------------------------------

func connectReq[T any](msg *T) *connect.Request[T] {
	return connect.NewRequest(msg)
}

func bg() context.Context {
	return context.Background()
}
