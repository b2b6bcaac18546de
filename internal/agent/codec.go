package agent

import (
	"bytes"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// selfDescribeTag is the CBOR tag 55799 that prefixes every envelope.
const selfDescribeTag = 55799

var selfDescribePrefix = []byte{0xd9, 0xd9, 0xf7}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("agent: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("agent: CBOR decoder initialization failed: " + err.Error())
	}
}

// marshalTagged encodes v wrapped in the self-describe tag.
func marshalTagged(v any) ([]byte, error) {
	return encMode.Marshal(cbor.Tag{Number: selfDescribeTag, Content: v})
}

// unmarshal decodes data into v, dropping a leading self-describe tag.
func unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(bytes.TrimPrefix(data, selfDescribePrefix), v)
}
