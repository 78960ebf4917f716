package compiler

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"

	"github.com/roach88/protoflow/internal/ir"
)

// ProtocolPath is the top-level field holding protocol declarations.
const ProtocolPath = "protocol"

// CompileAll compiles every protocol declared under the "protocol" field of
// root, in declaration order. A root without that field yields no specs.
func CompileAll(root cue.Value) ([]ir.ProtocolSpec, error) {
	if err := root.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	protos := root.LookupPath(cue.ParsePath(ProtocolPath))
	if !protos.Exists() {
		return nil, nil
	}

	iter, err := protos.Fields()
	if err != nil {
		return nil, &CompileError{Field: ProtocolPath, Message: "must be a struct", Pos: protos.Pos()}
	}

	var specs []ir.ProtocolSpec
	for iter.Next() {
		spec, err := CompileProtocol(iter.Value())
		if err != nil {
			return nil, err
		}
		specs = append(specs, *spec)
	}
	return specs, nil
}

// CompileFile reads a single CUE file and compiles its protocols.
func CompileFile(ctx *cue.Context, path string) ([]ir.ProtocolSpec, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return CompileAll(ctx.CompileBytes(src, cue.Filename(path)))
}
