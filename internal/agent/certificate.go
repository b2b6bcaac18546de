package agent

import (
	"bytes"
	"errors"
	"fmt"
)

// Hash tree node tags.
const (
	nodeEmpty   = 0
	nodeFork    = 1
	nodeLabeled = 2
	nodeLeaf    = 3
	nodePruned  = 4
)

type lookupStatus int

const (
	lookupAbsent lookupStatus = iota
	lookupUnknown
	lookupFound
)

// certificate is a replica state certificate.
type certificate struct {
	Tree       any         `cbor:"tree"`
	Signature  []byte      `cbor:"signature"`
	Delegation *delegation `cbor:"delegation,omitempty"`
}

type delegation struct {
	SubnetID    []byte `cbor:"subnet_id"`
	Certificate []byte `cbor:"certificate"`
}

var errMalformedTree = errors.New("agent: malformed hash tree")

func parseCertificate(data []byte) (*certificate, error) {
	var cert certificate
	if err := unmarshal(data, &cert); err != nil {
		return nil, fmt.Errorf("decode certificate: %w", err)
	}
	if cert.Tree == nil {
		return nil, errors.New("agent: certificate has no tree")
	}
	// TODO: verify cert.Signature (BLS12-381 over the tree root hash) against
	// the root key, following cert.Delegation when present.
	return &cert, nil
}

// lookup resolves a label path in the certificate tree.
func (c *certificate) lookup(path ...[]byte) ([]byte, lookupStatus, error) {
	return lookupPath(c.Tree, path)
}

func lookupPath(tree any, path [][]byte) ([]byte, lookupStatus, error) {
	node, tag, err := parseNode(tree)
	if err != nil {
		return nil, lookupAbsent, err
	}
	if len(path) == 0 {
		switch tag {
		case nodeLeaf:
			v, ok := node[1].([]byte)
			if !ok {
				return nil, lookupAbsent, errMalformedTree
			}
			return v, lookupFound, nil
		case nodePruned:
			return nil, lookupUnknown, nil
		}
		return nil, lookupAbsent, nil
	}

	labeled, pruned, err := flatten(tree, nil)
	if err != nil {
		return nil, lookupAbsent, err
	}
	for _, l := range labeled {
		if bytes.Equal(l.label, path[0]) {
			return lookupPath(l.subtree, path[1:])
		}
	}
	if pruned {
		return nil, lookupUnknown, nil
	}
	return nil, lookupAbsent, nil
}

type labeledNode struct {
	label   []byte
	subtree any
}

// flatten collects the labeled children reachable through forks.
func flatten(tree any, acc []labeledNode) ([]labeledNode, bool, error) {
	node, tag, err := parseNode(tree)
	if err != nil {
		return nil, false, err
	}
	switch tag {
	case nodeFork:
		if len(node) != 3 {
			return nil, false, errMalformedTree
		}
		var lp, rp bool
		acc, lp, err = flatten(node[1], acc)
		if err != nil {
			return nil, false, err
		}
		acc, rp, err = flatten(node[2], acc)
		if err != nil {
			return nil, false, err
		}
		return acc, lp || rp, nil
	case nodeLabeled:
		if len(node) != 3 {
			return nil, false, errMalformedTree
		}
		label, ok := node[1].([]byte)
		if !ok {
			return nil, false, errMalformedTree
		}
		return append(acc, labeledNode{label: label, subtree: node[2]}), false, nil
	case nodePruned:
		return acc, true, nil
	}
	return acc, false, nil
}

func parseNode(tree any) ([]any, uint64, error) {
	node, ok := tree.([]any)
	if !ok || len(node) == 0 {
		return nil, 0, errMalformedTree
	}
	tag, ok := node[0].(uint64)
	if !ok || tag > nodePruned {
		return nil, 0, errMalformedTree
	}
	switch tag {
	case nodeLeaf, nodePruned:
		if len(node) != 2 {
			return nil, 0, errMalformedTree
		}
	}
	return node, tag, nil
}
