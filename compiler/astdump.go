package compiler

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/chazu/tern/vm"
	"gopkg.in/yaml.v3"
)

// DumpAST renders a parsed program as YAML. Every node is a mapping with
// its kind and line followed by its fields in declaration order.
func DumpAST(stmts []Stmt) (string, error) {
	root := &yaml.Node{Kind: yaml.SequenceNode}
	for _, s := range stmts {
		root.Content = append(root.Content, nodeYAML(s))
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return "", fmt.Errorf("astdump: encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("astdump: encoder close: %w", err)
	}
	return buf.String(), nil
}

type yamlMap struct {
	node *yaml.Node
}

func newYAMLMap(kind string, n Node) yamlMap {
	m := yamlMap{node: &yaml.Node{Kind: yaml.MappingNode}}
	m.str("kind", kind)
	m.add("line", scalar("!!int", strconv.Itoa(n.Span().Start.Line)))
	return m
}

func (m yamlMap) add(key string, value *yaml.Node) {
	m.node.Content = append(m.node.Content, scalar("!!str", key), value)
}

func (m yamlMap) str(key, value string) {
	m.add(key, scalar("!!str", value))
}

// child adds a nested node, skipping absent optional parts.
func (m yamlMap) child(key string, n Node) {
	if n == nil {
		return
	}
	m.add(key, nodeYAML(n))
}

func (m yamlMap) list(key string, items []Node) {
	seq := &yaml.Node{Kind: yaml.SequenceNode}
	for _, it := range items {
		seq.Content = append(seq.Content, nodeYAML(it))
	}
	m.add(key, seq)
}

func scalar(tag, value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: value}
}

func stmtNodes(stmts []Stmt) []Node {
	nodes := make([]Node, len(stmts))
	for i, s := range stmts {
		nodes[i] = s
	}
	return nodes
}

func exprNodes(exprs []Expr) []Node {
	nodes := make([]Node, len(exprs))
	for i, e := range exprs {
		nodes[i] = e
	}
	return nodes
}

func nodeYAML(n Node) *yaml.Node {
	switch n := n.(type) {
	case *NumberLiteral:
		m := newYAMLMap("number", n)
		m.add("value", scalar("", vm.FormatNumber(n.Value)))
		return m.node
	case *StringLiteral:
		m := newYAMLMap("string", n)
		m.str("value", n.Value)
		return m.node
	case *NilLiteral:
		return newYAMLMap("nil", n).node
	case *TrueLiteral:
		return newYAMLMap("true", n).node
	case *FalseLiteral:
		return newYAMLMap("false", n).node
	case *Unary:
		m := newYAMLMap("unary", n)
		m.str("op", n.Op.String())
		m.child("operand", n.Operand)
		return m.node
	case *Binary:
		m := newYAMLMap("binary", n)
		m.str("op", n.Op.String())
		m.child("left", n.Left)
		m.child("right", n.Right)
		return m.node
	case *Logical:
		m := newYAMLMap("logical", n)
		m.str("op", n.Op.String())
		m.child("left", n.Left)
		m.child("right", n.Right)
		return m.node
	case *VarGet:
		m := newYAMLMap("get_var", n)
		m.str("name", n.Name)
		return m.node
	case *VarSet:
		m := newYAMLMap("set_var", n)
		m.str("name", n.Name)
		m.child("value", n.Value)
		return m.node
	case *Call:
		m := newYAMLMap("call", n)
		m.child("callee", n.Callee)
		m.list("args", exprNodes(n.Args))
		return m.node
	case *Get:
		m := newYAMLMap("get", n)
		m.child("object", n.Object)
		m.str("name", n.Name)
		return m.node
	case *Set:
		m := newYAMLMap("set", n)
		m.child("object", n.Object)
		m.str("name", n.Name)
		m.child("value", n.Value)
		return m.node

	case *ExprStmt:
		m := newYAMLMap("expression", n)
		m.child("expr", n.Expr)
		return m.node
	case *PrintStmt:
		m := newYAMLMap("print", n)
		m.child("expr", n.Expr)
		return m.node
	case *VarStmt:
		m := newYAMLMap("var", n)
		m.str("name", n.Name)
		m.child("init", n.Init)
		return m.node
	case *BlockStmt:
		m := newYAMLMap("block", n)
		m.list("body", stmtNodes(n.Stmts))
		return m.node
	case *IfStmt:
		m := newYAMLMap("if", n)
		m.child("cond", n.Cond)
		m.child("then", n.Then)
		m.child("else", n.Else)
		return m.node
	case *WhileStmt:
		m := newYAMLMap("while", n)
		m.child("cond", n.Cond)
		m.child("body", n.Body)
		return m.node
	case *ForStmt:
		m := newYAMLMap("for", n)
		m.child("init", n.Init)
		m.child("cond", n.Cond)
		m.child("incr", n.Incr)
		m.child("body", n.Body)
		return m.node
	case *FunStmt:
		m := newYAMLMap("fun", n)
		m.str("name", n.Name)
		params := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
		for _, p := range n.Params {
			params.Content = append(params.Content, scalar("!!str", p))
		}
		m.add("params", params)
		m.list("body", stmtNodes(n.Body))
		return m.node
	case *ReturnStmt:
		m := newYAMLMap("return", n)
		m.child("value", n.Value)
		return m.node
	case *StructStmt:
		m := newYAMLMap("struct", n)
		m.str("name", n.Name)
		return m.node
	}
	return scalar("!!str", fmt.Sprintf("%T", n))
}
