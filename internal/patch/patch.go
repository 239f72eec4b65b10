// Package patch applies chunk-based diffs against a locally held base
// bundle. Only diff application lives here; diffs are produced on the
// publishing side. Per-op handling is deliberately forgiving (empty or
// malformed ops are skipped, never fatal) because integrity is enforced
// by the caller hashing the reconstructed file, not by trusting the diff.
package patch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/bundleup/bundleup/internal/errs"
	"github.com/bundleup/bundleup/internal/utils"
	"github.com/bundleup/bundleup/internal/verify"
)

// AlgorithmChunkV1 is the only diff format this engine understands.
// Anything else is rejected outright, no partial application.
const AlgorithmChunkV1 = "chunk-v1"

type OpKind string

const (
	OpCopy    OpKind = "copy"    // slice [offset, offset+length) of the base
	OpLiteral OpKind = "literal" // inline payload emitted verbatim
)

type Op struct {
	Kind   OpKind
	Offset int64
	Length int64
	Data   []byte
}

type Document struct {
	Algorithm string
	BaseHash  string
	Ops       []Op
}

type wireDocument struct {
	Algorithm string              `json:"algorithm"`
	BaseHash  string              `json:"baseHash,omitempty"`
	Ops       [][]json.RawMessage `json:"ops"`
}

// Parse decodes the wire form {"algorithm":..., "baseHash":...,
// "ops":[["copy",off,len],["literal","data"],...]}. Individual ops that
// fail to decode are kept with an empty kind so Apply skips them; only a
// structurally invalid document is an error.
func Parse(data []byte) (*Document, error) {
	var w wireDocument
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to decode patch document: %w", err)
	}

	doc := &Document{
		Algorithm: w.Algorithm,
		BaseHash:  w.BaseHash,
		Ops:       make([]Op, 0, len(w.Ops)),
	}

	for _, raw := range w.Ops {
		doc.Ops = append(doc.Ops, parseOp(raw))
	}
	return doc, nil
}

func parseOp(raw []json.RawMessage) Op {
	if len(raw) == 0 {
		return Op{}
	}

	var kind string
	if err := json.Unmarshal(raw[0], &kind); err != nil {
		return Op{}
	}

	switch OpKind(kind) {
	case OpCopy:
		if len(raw) < 3 {
			return Op{}
		}
		var offset, length int64
		if err := json.Unmarshal(raw[1], &offset); err != nil {
			return Op{}
		}
		if err := json.Unmarshal(raw[2], &length); err != nil {
			return Op{}
		}
		return Op{Kind: OpCopy, Offset: offset, Length: length}
	case OpLiteral:
		if len(raw) < 2 {
			return Op{}
		}
		var data string
		if err := json.Unmarshal(raw[1], &data); err != nil {
			return Op{}
		}
		return Op{Kind: OpLiteral, Data: []byte(data)}
	default:
		return Op{}
	}
}

// Apply reconstructs outputPath from basePath and doc, returning the
// output path. The result is written atomically; callers must still hash
// it against the server-declared package hash before using it.
func Apply(doc *Document, basePath, outputPath string) (string, error) {
	if doc.Algorithm != AlgorithmChunkV1 {
		return "", errs.New(errs.UnsupportedPatchAlgorithm, "patch algorithm %q not supported", doc.Algorithm)
	}

	base, err := os.ReadFile(basePath)
	if err != nil {
		return "", errs.Wrap(errs.BaseBundleMissing, err, "failed to read base bundle %s", basePath)
	}

	if doc.BaseHash != "" {
		if err := verify.VerifyBytes(base, doc.BaseHash); err != nil {
			return "", errs.Wrap(errs.BaseHashMismatch, err, "base bundle %s does not match patch base", basePath)
		}
	}

	var out bytes.Buffer
	for _, op := range doc.Ops {
		out.Write(emit(op, base))
	}

	if err := utils.WriteFileAtomic(outputPath+".tmp", outputPath, &out); err != nil {
		return "", fmt.Errorf("failed to write reconstructed bundle %s: %w", outputPath, err)
	}
	return outputPath, nil
}

// emit produces the bytes for one op, or nil when the op is empty or
// malformed (unknown kind, negative or out-of-bounds copy range).
func emit(op Op, base []byte) []byte {
	switch op.Kind {
	case OpCopy:
		if op.Offset < 0 || op.Length <= 0 || op.Offset > int64(len(base)) {
			return nil
		}
		// Compared without adding offset+length, which can overflow.
		if op.Length > int64(len(base))-op.Offset {
			return nil
		}
		return base[op.Offset : op.Offset+op.Length]
	case OpLiteral:
		return op.Data
	default:
		return nil
	}
}
