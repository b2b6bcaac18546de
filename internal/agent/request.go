package agent

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"
)

// Request types.
const (
	requestTypeCall      = "call"
	requestTypeReadState = "read_state"
)

// domainSeparator prefixes the request id in the signed message.
var domainSeparator = []byte("\x0Aic-request")

// RequestID is the representation-independent hash of a request's content.
type RequestID [32]byte

// callContent is the content map of an update call.
type callContent struct {
	RequestType   string `cbor:"request_type"`
	CanisterID    []byte `cbor:"canister_id"`
	MethodName    string `cbor:"method_name"`
	Arg           []byte `cbor:"arg"`
	Sender        []byte `cbor:"sender"`
	IngressExpiry uint64 `cbor:"ingress_expiry"`
	Nonce         []byte `cbor:"nonce,omitempty"`
}

func (c *callContent) fields() map[string]any {
	f := map[string]any{
		"request_type":   c.RequestType,
		"canister_id":    c.CanisterID,
		"method_name":    c.MethodName,
		"arg":            c.Arg,
		"sender":         c.Sender,
		"ingress_expiry": c.IngressExpiry,
	}
	if len(c.Nonce) > 0 {
		f["nonce"] = c.Nonce
	}
	return f
}

// readStateContent is the content map of a read_state request.
type readStateContent struct {
	RequestType   string     `cbor:"request_type"`
	Sender        []byte     `cbor:"sender"`
	Paths         [][][]byte `cbor:"paths"`
	IngressExpiry uint64     `cbor:"ingress_expiry"`
}

func (c *readStateContent) fields() map[string]any {
	return map[string]any{
		"request_type":   c.RequestType,
		"sender":         c.Sender,
		"paths":          c.Paths,
		"ingress_expiry": c.IngressExpiry,
	}
}

// envelope is the signed wrapper posted to the replica.
type envelope struct {
	Content      any    `cbor:"content"`
	SenderPubKey []byte `cbor:"sender_pubkey,omitempty"`
	SenderSig    []byte `cbor:"sender_sig,omitempty"`
}

// requestID hashes a content map: each key/value pair is hashed, the pair
// hashes are sorted and the concatenation is hashed again.
func requestID(fields map[string]any) (RequestID, error) {
	pairs := make([][]byte, 0, len(fields))
	for k, v := range fields {
		vh, err := hashValue(v)
		if err != nil {
			return RequestID{}, fmt.Errorf("field %s: %w", k, err)
		}
		kh := sha256.Sum256([]byte(k))
		pair := make([]byte, 0, 64)
		pair = append(pair, kh[:]...)
		pair = append(pair, vh[:]...)
		pairs = append(pairs, pair)
	}
	sort.Slice(pairs, func(i, j int) bool { return string(pairs[i]) < string(pairs[j]) })

	h := sha256.New()
	for _, p := range pairs {
		h.Write(p)
	}
	var id RequestID
	copy(id[:], h.Sum(nil))
	return id, nil
}

func hashValue(v any) ([32]byte, error) {
	switch x := v.(type) {
	case []byte:
		return sha256.Sum256(x), nil
	case string:
		return sha256.Sum256([]byte(x)), nil
	case uint64:
		return sha256.Sum256(binary.AppendUvarint(nil, x)), nil
	case [][]byte:
		h := sha256.New()
		for _, item := range x {
			ih := sha256.Sum256(item)
			h.Write(ih[:])
		}
		var out [32]byte
		copy(out[:], h.Sum(nil))
		return out, nil
	case [][][]byte:
		items := make([]any, len(x))
		for i, item := range x {
			items[i] = item
		}
		return hashValue(items)
	case []any:
		h := sha256.New()
		for _, item := range x {
			ih, err := hashValue(item)
			if err != nil {
				return [32]byte{}, err
			}
			h.Write(ih[:])
		}
		var out [32]byte
		copy(out[:], h.Sum(nil))
		return out, nil
	}
	return [32]byte{}, fmt.Errorf("cannot hash %T", v)
}

// signable returns the message an identity signs for a request id.
func signable(id RequestID) []byte {
	msg := make([]byte, 0, len(domainSeparator)+len(id))
	msg = append(msg, domainSeparator...)
	return append(msg, id[:]...)
}
