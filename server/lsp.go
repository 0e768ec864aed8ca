package server

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/tern/compiler"
	"github.com/chazu/tern/vm"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "tern-lsp"

// LspServer provides diagnostics, completion and hover for tern files.
// Globals defined by the host (natives) come from a VM behind a VMWorker.
type LspServer struct {
	worker *VMWorker

	mu   sync.Mutex
	docs map[string]string // by URI

	handler protocol.Handler
	server  *glspserver.Server
	version string
	log     commonlog.Logger
}

// NewLSP builds a language server whose global lookups run on v.
func NewLSP(v *vm.VM) *LspServer {
	s := &LspServer{
		worker:  NewVMWorker(v),
		docs:    make(map[string]string),
		version: "0.1.0",
		log:     commonlog.GetLogger("tern.lsp"),
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run serves the protocol over stdin/stdout until the client exits.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- Lifecycle ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	client := "unknown client"
	if params.ClientInfo != nil {
		client = params.ClientInfo.Name
	}
	s.log.Infof("initializing for %s", client)

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{}
	capabilities.HoverProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	s.worker.Stop()
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Documents ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()

	s.publishDiagnostics(ctx, uri, text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// Full sync: the last change carries the whole document.
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.mu.Lock()
			s.docs[string(uri)] = whole.Text
			s.mu.Unlock()

			s.publishDiagnostics(ctx, uri, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	// Drop stale diagnostics for the closed document.
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

func (s *LspServer) document(uri protocol.DocumentUri) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.docs[string(uri)]
	return text, ok
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	prefix := extractPrefix(text, params.Position)
	if prefix == "" {
		return nil, nil
	}

	globals, err := s.globals()
	if err != nil {
		return nil, err
	}
	return complete(text, prefix, globals), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}

	globals, err := s.globals()
	if err != nil {
		return nil, nil
	}
	return hover(text, word, globals), nil
}

// globals describes every global the host VM defines, by name.
func (s *LspServer) globals() (map[string]string, error) {
	result, err := s.worker.Do(context.Background(), func(v *vm.VM) any {
		out := make(map[string]string)
		for _, name := range v.Globals() {
			val, _ := v.Global(name)
			out[name] = describeValue(val)
		}
		return out
	})
	if err != nil {
		return nil, err
	}
	return result.(map[string]string), nil
}

func describeValue(v vm.Value) string {
	switch {
	case v.IsNative():
		n := v.AsNative()
		if n.Arity < 0 {
			return fmt.Sprintf("native fn %s(...)", n.Name)
		}
		return fmt.Sprintf("native fn %s/%d", n.Name, n.Arity)
	case v.IsClosure():
		fn := v.AsClosure().Function
		return fmt.Sprintf("fn %s/%d", fn.Name, fn.Arity)
	case v.IsStruct():
		return "struct " + v.AsStruct().Name
	}
	return v.Type().String()
}

// --- Document-backed logic ---

// declaration is a name introduced by var, fun, struct or a parameter.
type declaration struct {
	name   string
	detail string
	kind   protocol.CompletionItemKind
	line   int
}

// declarations collects every name declared in text. Parse errors are
// ignored; whatever parsed is used.
func declarations(text string) []declaration {
	p := compiler.NewParser(text)
	var decls []declaration
	var walk func(stmts []compiler.Stmt)
	walk = func(stmts []compiler.Stmt) {
		for _, st := range stmts {
			switch n := st.(type) {
			case *compiler.VarStmt:
				decls = append(decls, declaration{
					name: n.Name, detail: "var " + n.Name,
					kind: protocol.CompletionItemKindVariable, line: n.Span().Start.Line,
				})
			case *compiler.FunStmt:
				decls = append(decls, declaration{
					name:   n.Name,
					detail: fmt.Sprintf("fun %s(%s)", n.Name, strings.Join(n.Params, ", ")),
					kind:   protocol.CompletionItemKindFunction,
					line:   n.Span().Start.Line,
				})
				for _, param := range n.Params {
					decls = append(decls, declaration{
						name: param, detail: "parameter of " + n.Name,
						kind: protocol.CompletionItemKindVariable, line: n.Span().Start.Line,
					})
				}
				walk(n.Body)
			case *compiler.StructStmt:
				decls = append(decls, declaration{
					name: n.Name, detail: "struct " + n.Name,
					kind: protocol.CompletionItemKindStruct, line: n.Span().Start.Line,
				})
			case *compiler.BlockStmt:
				walk(n.Stmts)
			case *compiler.IfStmt:
				walk([]compiler.Stmt{n.Then})
				if n.Else != nil {
					walk([]compiler.Stmt{n.Else})
				}
			case *compiler.WhileStmt:
				walk([]compiler.Stmt{n.Body})
			case *compiler.ForStmt:
				if n.Init != nil {
					walk([]compiler.Stmt{n.Init})
				}
				walk([]compiler.Stmt{n.Body})
			}
		}
	}
	walk(p.ParseProgram())
	return decls
}

func complete(text, prefix string, globals map[string]string) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	seen := make(map[string]bool)
	add := func(label, detail string, kind protocol.CompletionItemKind) {
		if seen[label] || !strings.HasPrefix(label, prefix) {
			return
		}
		seen[label] = true
		labelCopy, detailCopy, kindCopy := label, detail, kind
		items = append(items, protocol.CompletionItem{
			Label:      labelCopy,
			Kind:       &kindCopy,
			Detail:     &detailCopy,
			InsertText: &labelCopy,
		})
	}

	for _, d := range declarations(text) {
		add(d.name, d.detail, d.kind)
	}

	names := make([]string, 0, len(globals))
	for name := range globals {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		add(name, globals[name], protocol.CompletionItemKindFunction)
	}

	keywords := make([]string, 0, len(compiler.Keywords))
	for kw := range compiler.Keywords {
		keywords = append(keywords, kw)
	}
	sort.Strings(keywords)
	for _, kw := range keywords {
		add(kw, "keyword", protocol.CompletionItemKindKeyword)
	}

	// Limit results
	const maxItems = 100
	if len(items) > maxItems {
		items = items[:maxItems]
	}

	return items
}

func hover(text, word string, globals map[string]string) *protocol.Hover {
	var value string
	if _, ok := compiler.Keywords[word]; ok {
		value = fmt.Sprintf("**%s** keyword", word)
	}
	if value == "" {
		for _, d := range declarations(text) {
			if d.name == word {
				value = fmt.Sprintf("```tern\n%s\n```\ndeclared on line %d", d.detail, d.line)
				break
			}
		}
	}
	if value == "" {
		if desc, ok := globals[word]; ok {
			value = fmt.Sprintf("```tern\n%s\n```\nbuilt-in", desc)
		}
	}
	if value == "" {
		return nil
	}
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: value,
		},
	}
}

// --- Diagnostics ---

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: lspDiagnostics(text),
	})
}

// lspDiagnostics converts compile errors to zero-based LSP ranges. An
// error without a column covers its whole line.
func lspDiagnostics(text string) []protocol.Diagnostic {
	lines := strings.Split(text, "\n")
	diagnostics := []protocol.Diagnostic{}
	for _, d := range Check(text) {
		line := d.Line - 1
		if line < 0 {
			line = 0
		}
		start, end := 0, 0
		if line < len(lines) {
			end = len(lines[line])
		}
		if d.Column > 0 {
			start = d.Column - 1
			end = start + 1
		}
		severity := protocol.DiagnosticSeverityError
		source := lspName
		diagnostics = append(diagnostics, protocol.Diagnostic{
			Range: protocol.Range{
				Start: protocol.Position{Line: protocol.UInteger(line), Character: protocol.UInteger(start)},
				End:   protocol.Position{Line: protocol.UInteger(line), Character: protocol.UInteger(end)},
			},
			Severity: &severity,
			Source:   &source,
			Message:  d.Message,
		})
	}
	return diagnostics
}

// --- Cursor helpers ---

func isIdentChar(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_'
}

// extractPrefix returns the identifier characters left of pos.
func extractPrefix(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	start := col
	for start > 0 && isIdentChar(rune(line[start-1])) {
		start--
	}
	return line[start:col]
}

// extractWord returns the identifier that contains pos.
func extractWord(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	start := col
	for start > 0 && isIdentChar(rune(line[start-1])) {
		start--
	}
	end := col
	for end < len(line) && isIdentChar(rune(line[end])) {
		end++
	}
	return line[start:end]
}

func boolPtr(b bool) *bool {
	return &b
}
