package server

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// EvalResult is the outcome of a remote Evaluate call.
type EvalResult struct {
	OK      bool
	Output  string
	Error   string
	Session string
}

// RemoteClient talks to a tern evaluation server over gRPC. The first
// Evaluate opens a session; later calls reuse it so globals persist.
type RemoteClient struct {
	conn    *grpc.ClientConn
	session string
}

// DialRemote connects to the evaluation server at target ("host:port").
func DialRemote(target string) (*RemoteClient, error) {
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", target, err)
	}
	return &RemoteClient{conn: conn}, nil
}

// Close closes the connection.
func (c *RemoteClient) Close() error {
	return c.conn.Close()
}

// Session returns the current session id, or "" before the first call.
func (c *RemoteClient) Session() string {
	return c.session
}

// Evaluate runs source in the client's session.
func (c *RemoteClient) Evaluate(ctx context.Context, source string) (*EvalResult, error) {
	if c.session != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, SessionHeader, c.session)
	}
	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, EvaluateProcedure, wrapperspb.String(source), out); err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}

	fields := out.GetFields()
	res := &EvalResult{
		OK:      fields["ok"].GetBoolValue(),
		Output:  fields["output"].GetStringValue(),
		Error:   fields["error"].GetStringValue(),
		Session: fields["session"].GetStringValue(),
	}
	if res.Session != "" {
		c.session = res.Session
	}
	return res, nil
}

// Check compiles source on the server and returns its diagnostics.
func (c *RemoteClient) Check(ctx context.Context, source string) ([]Diagnostic, error) {
	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, CheckProcedure, wrapperspb.String(source), out); err != nil {
		return nil, fmt.Errorf("check: %w", err)
	}

	var diags []Diagnostic
	for _, v := range out.GetFields()["diagnostics"].GetListValue().GetValues() {
		f := v.GetStructValue().GetFields()
		diags = append(diags, Diagnostic{
			Line:    int(f["line"].GetNumberValue()),
			Column:  int(f["column"].GetNumberValue()),
			Message: f["message"].GetStringValue(),
		})
	}
	return diags, nil
}

// Disassemble returns the server's bytecode listing for source.
func (c *RemoteClient) Disassemble(ctx context.Context, source string) (string, error) {
	out := &wrapperspb.StringValue{}
	if err := c.conn.Invoke(ctx, DisassembleProcedure, wrapperspb.String(source), out); err != nil {
		return "", fmt.Errorf("disassemble: %w", err)
	}
	return out.GetValue(), nil
}
