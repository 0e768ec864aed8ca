package server

import (
	"context"
	"fmt"
	"net/http"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/chazu/tern/compiler"
	"github.com/chazu/tern/vm"
)

// Procedures served by the evaluation service. They are plain Connect
// unary procedures, so gRPC clients reach them with the same paths.
const (
	EvaluationServiceName = "tern.v1.EvaluationService"

	EvaluateProcedure    = "/" + EvaluationServiceName + "/Evaluate"
	CheckProcedure       = "/" + EvaluationServiceName + "/Check"
	DisassembleProcedure = "/" + EvaluationServiceName + "/Disassemble"
)

// SessionHeader carries the session id on requests and responses.
const SessionHeader = "Tern-Session"

// EvalService implements the evaluation procedures on top of sessions.
type EvalService struct {
	sessions *SessionStore
	log      commonlog.Logger
}

// NewEvalService creates an EvalService.
func NewEvalService(sessions *SessionStore, log commonlog.Logger) *EvalService {
	return &EvalService{sessions: sessions, log: log}
}

// Register mounts the service's handlers on mux.
func (s *EvalService) Register(mux *http.ServeMux, opts ...connect.HandlerOption) {
	mux.Handle(EvaluateProcedure, connect.NewUnaryHandler(EvaluateProcedure, s.Evaluate, opts...))
	mux.Handle(CheckProcedure, connect.NewUnaryHandler(CheckProcedure, s.Check, opts...))
	mux.Handle(DisassembleProcedure, connect.NewUnaryHandler(DisassembleProcedure, s.Disassemble, opts...))
}

// Evaluate runs a program in the caller's session, creating one when the
// request names none. Compile and runtime errors are reported in the
// response, not as RPC errors. Cancelling ctx abandons the response but not
// the run; the session VM's instruction limit is what stops a program that
// never halts.
func (s *EvalService) Evaluate(
	ctx context.Context,
	req *connect.Request[wrapperspb.StringValue],
) (*connect.Response[structpb.Struct], error) {
	source := req.Msg.GetValue()
	if source == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}

	session, err := s.session(req.Header().Get(SessionHeader))
	if err != nil {
		return nil, err
	}

	result, printed, err := session.Do(ctx, func(v *vm.VM) any {
		return v.Interpret(source)
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	errMsg := ""
	if runErr, ok := result.(error); ok && runErr != nil {
		errMsg = runErr.Error()
		s.log.Debugf("session %s: %s", session.ID, errMsg)
	}

	msg, err := structpb.NewStruct(map[string]any{
		"ok":      errMsg == "",
		"output":  printed,
		"error":   errMsg,
		"session": session.ID,
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	resp := connect.NewResponse(msg)
	resp.Header().Set(SessionHeader, session.ID)
	return resp, nil
}

// Check compiles source without running it.
func (s *EvalService) Check(
	ctx context.Context,
	req *connect.Request[wrapperspb.StringValue],
) (*connect.Response[structpb.Struct], error) {
	diags := Check(req.Msg.GetValue())

	list := make([]any, 0, len(diags))
	for _, d := range diags {
		list = append(list, map[string]any{
			"line":    d.Line,
			"column":  d.Column,
			"message": d.Message,
		})
	}
	msg, err := structpb.NewStruct(map[string]any{
		"valid":       len(diags) == 0,
		"diagnostics": list,
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// Disassemble compiles source and returns its bytecode listing.
func (s *EvalService) Disassemble(
	ctx context.Context,
	req *connect.Request[wrapperspb.StringValue],
) (*connect.Response[wrapperspb.StringValue], error) {
	fn, err := compiler.Compile(req.Msg.GetValue())
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	return connect.NewResponse(wrapperspb.String(vm.DisassembleFunction(fn))), nil
}

func (s *EvalService) session(id string) (*Session, error) {
	if id == "" {
		session := s.sessions.Create()
		s.log.Infof("created session %s", session.ID)
		return session, nil
	}
	session, ok := s.sessions.Get(id)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("session %q not found", id))
	}
	return session, nil
}
