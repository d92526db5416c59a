package engine

import (
	"encoding/json"
	"fmt"
)

// Codec converts trees to and from their durable document form: indented
// JSON with RFC 3339 timestamps. Every timestamp field is a typed
// time.Time, so decoding revives each one by name; there is no generic
// date sniffing.
type Codec struct {
	// Indent is the indentation used for encoded documents.
	Indent string
}

// DefaultCodec produces two-space indented documents.
var DefaultCodec = Codec{Indent: "  "}

// Encode serializes a whole tree.
func (c Codec) Encode(tree *TaskTree) ([]byte, error) {
	if tree == nil {
		return nil, NewPermanentError("cannot encode nil tree", nil).WithCode(ErrCodeValidation)
	}
	data, err := json.MarshalIndent(tree, "", c.Indent)
	if err != nil {
		return nil, NewPermanentError("failed to encode tree", err).
			WithCode(ErrCodeInternal).WithTree(tree.ID)
	}
	return data, nil
}

// Decode deserializes a tree and re-checks its structural invariants.
func (c Codec) Decode(data []byte) (*TaskTree, error) {
	var tree TaskTree
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, NewPermanentError("failed to decode tree", err).WithCode(ErrCodeValidation)
	}
	if err := tree.ValidateStructure(); err != nil {
		return nil, fmt.Errorf("decoded tree is inconsistent: %w", err)
	}
	return &tree, nil
}

// EncodeNode serializes a subtree.
func (c Codec) EncodeNode(n *TaskNode) ([]byte, error) {
	data, err := json.MarshalIndent(n, "", c.Indent)
	if err != nil {
		return nil, NewPermanentError("failed to encode task", err).
			WithCode(ErrCodeInternal).WithTask(n.ID)
	}
	return data, nil
}

// DecodeNode deserializes a subtree.
func (c Codec) DecodeNode(data []byte) (*TaskNode, error) {
	var n TaskNode
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, NewPermanentError("failed to decode task", err).WithCode(ErrCodeValidation)
	}
	return &n, nil
}

// CloneBlueprint returns an independent copy of a blueprint in its
// persisted shape.
func CloneBlueprint(bp *Blueprint) (*Blueprint, error) {
	data, err := json.Marshal(bp)
	if err != nil {
		return nil, NewPermanentError("failed to encode blueprint", err).WithCode(ErrCodeInternal)
	}
	var out Blueprint
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, NewPermanentError("failed to decode blueprint", err).WithCode(ErrCodeInternal)
	}
	return &out, nil
}

// CloneNode returns an independent deep copy of a subtree by sending it
// through the codec, so the copy has exactly the persisted shape.
func CloneNode(n *TaskNode) (*TaskNode, error) {
	data, err := DefaultCodec.EncodeNode(n)
	if err != nil {
		return nil, err
	}
	return DefaultCodec.DecodeNode(data)
}
