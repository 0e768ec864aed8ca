// Package vm implements the tern virtual machine.
//
// This package contains:
//   - Tagged value representation and heap objects
//   - Bytecode chunks, opcodes and the disassembler
//   - The stack-based interpreter with call frames and upvalues
//   - Native functions
package vm
